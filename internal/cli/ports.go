package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pedalworks/softstepd/internal/midi"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List the available MIDI ports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr := midi.NewManager()
		defer mgr.Close()

		printPorts("Inputs", mgr.ListInPorts())
		printPorts("Outputs", mgr.ListOutPorts())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)
}

func printPorts(label string, names []string) {
	fmt.Printf("%s:\n", label)
	if len(names) == 0 {
		fmt.Println("  (none)")
		return
	}
	for _, n := range names {
		fmt.Printf("  %s\n", n)
	}
}

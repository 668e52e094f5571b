package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pedalworks/softstepd/internal/startup"
)

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage the login startup registration",
}

var serviceEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Start the daemon at login",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := startup.Enable(); err != nil {
			return err
		}
		fmt.Println("startup enabled")
		return nil
	},
}

var serviceDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Stop starting the daemon at login",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := startup.Disable(); err != nil {
			return err
		}
		fmt.Println("startup disabled")
		return nil
	},
}

var serviceStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the daemon starts at login",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if startup.IsEnabled() {
			fmt.Println("enabled")
		} else {
			fmt.Println("disabled")
		}
		return nil
	},
}

func init() {
	serviceCmd.AddCommand(serviceEnableCmd, serviceDisableCmd, serviceStatusCmd)
	rootCmd.AddCommand(serviceCmd)
}

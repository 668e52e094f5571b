package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pedalworks/softstepd/internal/midi"
	"github.com/pedalworks/softstepd/internal/sched"
	"github.com/pedalworks/softstepd/internal/session"
)

// watchInterval is how often the port list is rescanned for the pedal.
const watchInterval = time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the device session daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon()
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDaemon() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	sc, err := cfg.SessionConfig()
	if err != nil {
		return err
	}

	mgr := midi.NewManager()
	defer mgr.Close()

	loop := sched.New(log)
	driver, err := session.NewDriver(loop, sc, nil, log)
	if err != nil {
		return err
	}
	if err := cfg.ApplyModes(driver); err != nil {
		return err
	}

	// The watcher runs on the session loop so connect and disconnect
	// interleave cleanly with message handling.
	var watcher *midi.Watcher
	watcher = midi.NewWatcher(mgr, cfg.InPort, cfg.OutPort, log, midi.WatcherCallbacks{
		OnConnect: func(conn *midi.Connection) {
			err := driver.Attach(conn, func(err error) {
				watcher.HandleListenError(err)
			})
			if err != nil {
				log.Error("failed to attach device", "err", err)
				watcher.Close()
			}
		},
		OnDisconnect: driver.Detach,
	})

	var watchTask *sched.Task
	watchFn := func() {
		watcher.Tick()
		watchTask.RestartAfter(watchInterval)
	}
	watchTask = loop.NewTask("port-watch", watchFn)
	loop.Post(watchFn)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("daemon started", "modes", len(cfg.Modes), "in_port", cfg.InPort, "out_port", cfg.OutPort)
	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	log.Info("shutting down")
	driver.Goodbye()
	watcher.Close()
	return nil
}

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/big21ray/ionia-sub002/internal/config"
	"github.com/big21ray/ionia-sub002/internal/engine"
	"github.com/big21ray/ionia-sub002/internal/logging"
)

var (
	version = "0.1.0"
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "ionia",
	Short: "Ionia screen recorder",
	Long:  `Ionia - synchronized audio/video capture to a WebM file, WebSocket endpoint, or RTP receiver`,
}

var recordCmd = &cobra.Command{
	Use:   "record [output.webm]",
	Short: "Record to a local WebM file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runSession(args[0])
	},
}

var streamCmd = &cobra.Command{
	Use:   "stream [ws://host/path | rtp://host:port]",
	Short: "Stream to a network destination",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runSession(args[0])
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ionia v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./ionia.yaml)")

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(streamCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runSession(destination string) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var rotator *logging.RotatingWriter
	if cfg.Log.File != "" {
		rotator, err = logging.NewRotatingWriter(cfg.Log.File, 0, 0)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
			os.Exit(1)
		}
		logging.Init(cfg.Log.Format, cfg.Log.Level, logging.TeeWriter(os.Stdout, rotator))
	} else {
		logging.Init(cfg.Log.Format, cfg.Log.Level, os.Stdout)
	}

	// os.Exit skips deferred calls, so the rotator is closed explicitly on
	// every exit path.
	exit := func(code int) {
		if rotator != nil {
			rotator.Close()
		}
		os.Exit(code)
	}

	rec, err := engine.NewRecorder(cfg, engine.Sources{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build recorder: %v\n", err)
		exit(1)
	}

	if err := rec.Start(destination); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		exit(1)
	}

	stats := engine.NewStatsLogger(rec, 30*time.Second)
	stats.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	hupChan := make(chan os.Signal, 1)
	signal.Notify(hupChan, syscall.SIGHUP)

	exitCode := 0
	for running := true; running; {
		select {
		case <-sigChan:
			fmt.Println("\nShutting down...")
			running = false
		case <-hupChan:
			if rotator != nil {
				if err := rotator.Reopen(); err != nil {
					fmt.Fprintf(os.Stderr, "Log reopen failed: %v\n", err)
				}
			}
		case err := <-rec.Fatal():
			fmt.Fprintf(os.Stderr, "Fatal: %v\n", err)
			exitCode = 1
			running = false
		}
	}

	stats.Stop()
	rec.Stop()
	exit(exitCode)
}

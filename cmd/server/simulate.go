package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/airq-visualizer/backend/internal/simulator"
	"github.com/spf13/cobra"
)

var (
	simRooms    string
	simOutput   string
	simInterval time.Duration
	simSeed     int64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Write a simulated snapshot file on a fixed period",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, closeLog, err := loadRuntime()
		if err != nil {
			return err
		}
		defer closeLog()

		rooms := simulator.DefaultRooms()
		if simRooms != "" {
			if rooms, err = simulator.LoadRooms(simRooms); err != nil {
				return err
			}
		}

		output := simOutput
		if output == "" {
			output = cfg.Snapshot.URL
		}
		if strings.Contains(output, "://") {
			return fmt.Errorf("snapshot source %q is not a file; pass --output", output)
		}
		if !filepath.IsAbs(output) {
			output = filepath.Join(cfg.ConfigDir, output)
		}

		seed := simSeed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return simulator.New(rooms, seed).Run(ctx, output, simInterval, log)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simRooms, "rooms", "", "YAML file listing the simulated rooms")
	simulateCmd.Flags().StringVarP(&simOutput, "output", "o", "", "snapshot file to write (default: the configured snapshot path)")
	simulateCmd.Flags().DurationVar(&simInterval, "interval", 5*time.Second, "time between snapshots")
	simulateCmd.Flags().Int64Var(&simSeed, "seed", 0, "random seed (default: time based)")
}

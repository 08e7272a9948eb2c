package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/airq-visualizer/backend/internal/config"
	"github.com/airq-visualizer/backend/internal/fetch"
	"github.com/airq-visualizer/backend/internal/models"
	"github.com/airq-visualizer/backend/internal/quality"
	"github.com/airq-visualizer/backend/internal/snapshot"
	"github.com/airq-visualizer/backend/internal/view"
	"github.com/spf13/cobra"
)

var snapshotJSON bool

var snapshotCmd = &cobra.Command{
	Use:   "snapshot [source]",
	Short: "Fetch the snapshot once and print each sensor's classification",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, closeLog, err := loadRuntime()
		if err != nil {
			return err
		}
		defer closeLog()

		source := cfg.Snapshot.URL
		if len(args) == 1 {
			source = args[0]
		}
		f, err := fetch.New(source, cfg.ConfigDir, cfg.SnapshotTimeout())
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.SnapshotTimeout())
		defer cancel()
		snap, err := f.Fetch(ctx)
		if err != nil {
			return err
		}

		if snapshotJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}
		return printSnapshot(cmd.OutOrStdout(), cfg, snap)
	},
}

func init() {
	snapshotCmd.Flags().BoolVar(&snapshotJSON, "json", false, "print the validated snapshot as JSON")
}

// printSnapshot writes one row per sensor, in id order.
func printSnapshot(out io.Writer, cfg *config.AppConfig, snap *models.SensorSnapshot) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	classifier := quality.NewClassifier(cfg.Thresholds)
	labels := quality.LabelsFor(cfg.Display.Locale)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tLEVEL\tCO2 (ppm)\tTVOC (ppb)\tLAST READING")
	for _, id := range snapshot.SortedIDs(snap) {
		s := snap.Sensors[id]
		level, display := quality.DescribeSensor(classifier, labels, s)

		co2, tvoc, ts := view.FormatValue(nil), view.FormatValue(nil), view.FormatTimestamp("", loc)
		if s.LastReading != nil {
			co2 = view.FormatValue(s.LastReading.CO2)
			tvoc = view.FormatValue(s.LastReading.TVOC)
			ts = view.FormatTimestamp(s.LastReading.Timestamp, loc)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			id, s.DisplayName(id), display.Label, level, co2, tvoc, ts)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if snap.LastUpdateTimestamp != nil {
		fmt.Fprintf(out, "\nLast update: %s\n", view.FormatTimestamp(*snap.LastUpdateTimestamp, loc))
	}
	if snap.Len() == 0 {
		fmt.Fprintln(os.Stderr, view.MessagesFor(cfg.Display.Locale).NoSensors)
	}
	return nil
}

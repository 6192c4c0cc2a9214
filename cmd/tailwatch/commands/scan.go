package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/moolen/tailwatch/internal/pipeline"
	"github.com/moolen/tailwatch/internal/scenario"
	"github.com/moolen/tailwatch/internal/scheduler"
	"github.com/spf13/cobra"
)

var (
	scanCalibrate bool
	scanDetect    bool
	scanAlarms    bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run the selected scans once and print their outcomes",
	Long: `Scan performs one calibration, detection and/or alarm scan in that order
and prints a table of the per-pair outcomes. Without flags all three run.`,
	Run: runScan,
}

func init() {
	scanCmd.Flags().BoolVar(&scanCalibrate, "calibrate", false, "Run a calibration scan")
	scanCmd.Flags().BoolVar(&scanDetect, "detect", false, "Run a detection scan")
	scanCmd.Flags().BoolVar(&scanAlarms, "alarms", false, "Evaluate scenarios and emit alarms")
}

func runScan(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	HandleError(err, "Configuration error")

	jobs := scheduler.Jobs{Calibrate: scanCalibrate, Detect: scanDetect, Alarms: scanAlarms}
	if !jobs.Calibrate && !jobs.Detect && !jobs.Alarms {
		jobs = scheduler.Jobs{Calibrate: true, Detect: true, Alarms: true}
	}

	ctx := context.Background()
	rt, err := newRuntime(ctx, cfg)
	HandleError(err, "Startup error")
	defer rt.close()
	defer func() { _ = rt.tracing.Stop(ctx) }()

	report := rt.scheduler.RunOnce(ctx, jobs)
	HandleError(printReport(os.Stdout, report), "Output error")
}

func printReport(out io.Writer, r scheduler.Report) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	section := func(title string, outcomes []pipeline.Outcome) {
		if outcomes == nil {
			return
		}
		fmt.Fprintf(w, "%s\n", title)
		fmt.Fprintln(w, "METRIC\tHOST\tSTATUS\tPROCESSED\tANOMALIES\tERROR")
		sorted := append([]pipeline.Outcome(nil), outcomes...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Pair.String() < sorted[j].Pair.String() })
		for _, o := range sorted {
			errText := ""
			if o.Err != nil {
				errText = o.Err.Error()
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n", o.Metric, o.Host, o.Status, o.Processed, o.Anomalies, errText)
		}
		fmt.Fprintln(w)
	}
	section("CALIBRATION", r.Calibrations)
	section("DETECTION", r.Detections)

	if r.Alarms != nil {
		fmt.Fprintln(w, "ALARMS")
		fmt.Fprintln(w, "SCENARIO\tHOST\tSCORE\tLEVEL")
		for _, res := range r.Alarms {
			fmt.Fprintf(w, "%s\t%s\t%.3f\t%s\n", res.Scenario, res.Host, res.Score, alarmLevel(res))
		}
	}
	return w.Flush()
}

func alarmLevel(res scenario.Result) string {
	if res.Alarm == nil {
		return "-"
	}
	return string(res.Alarm.Level)
}

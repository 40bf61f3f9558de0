package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrCodeEU/faceattend/pkg/attendance"
)

var (
	reportDate string
	reportAll  bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show who was marked present",
	Long:  `Prints the attendance entries for one day (today by default) from the configured ledger.`,
	Args:  cobra.NoArgs,
	RunE:  runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportDate, "date", "", "Day to report, YYYY-MM-DD (default today)")
	reportCmd.Flags().BoolVar(&reportAll, "all", false, "Report every day in the ledger")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	date, err := reportDay(reportDate, reportAll, time.Now())
	if err != nil {
		return err
	}

	store, err := openAttendanceStore(cmd.Context(), cfg, false)
	if err != nil {
		return err
	}
	ledger, err := attendance.Open(cmd.Context(), store, logger.Component("attendance"))
	if err != nil {
		_ = store.Close()
		return err
	}
	defer func() { _ = ledger.Close() }()

	return writeReport(os.Stdout, ledger.Entries(date), date)
}

// reportDay resolves the --date and --all flags to a ledger date filter.
func reportDay(date string, all bool, now time.Time) (string, error) {
	if all {
		return "", nil
	}
	if date == "" {
		return now.Format(attendance.DateLayout), nil
	}
	if _, err := time.Parse(attendance.DateLayout, date); err != nil {
		return "", fmt.Errorf("invalid date %q, expected YYYY-MM-DD", date)
	}
	return date, nil
}

func writeReport(w io.Writer, entries []attendance.Entry, date string) error {
	if len(entries) == 0 {
		if date == "" {
			_, err := fmt.Fprintln(w, "No attendance recorded.")
			return err
		}
		_, err := fmt.Fprintf(w, "No attendance recorded on %s.\n", date)
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tDATE\tTIME")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Name, e.Date, e.Time)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\nTotal: %d\n", len(entries))
	return err
}

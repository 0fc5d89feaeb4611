package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/anstrom/netsentry/internal/config"
	"github.com/anstrom/netsentry/internal/db"
	"github.com/anstrom/netsentry/internal/scans"
)

const defaultPollInterval = 2 * time.Second

var (
	scanType         string
	scanName         string
	scanWait         bool
	scanPollInterval time.Duration
	scanWaitTimeout  time.Duration

	listPage     int
	listPageSize int
)

// scanCmd starts a scan through the API.
var scanCmd = &cobra.Command{
	Use:   "scan TARGET",
	Short: "Start a scan of an IP address or CIDR range",
	Long: `Start a scan of a single IP address or a CIDR range. The command returns
as soon as the server has accepted the scan; use --wait to follow its
progress until it finishes.`,
	Example: `  netsentry scan 192.168.1.10
  netsentry scan 10.0.0.0/28 --type full --wait
  netsentry scan 172.16.0.0/29 --name "lab sweep" -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

var statusCmd = &cobra.Command{
	Use:     "status SCAN_ID",
	Short:   "Show the progress of a scan",
	Example: `  netsentry status 0b5e0c3a-2f0e-4c53-9f3e-5f7d8b0b1f21`,
	Args:    cobra.ExactArgs(1),
	RunE:    runStatus,
}

var showCmd = &cobra.Command{
	Use:     "show SCAN_ID",
	Short:   "Show a scan with its hosts, ports and vulnerabilities",
	Example: `  netsentry show 0b5e0c3a-2f0e-4c53-9f3e-5f7d8b0b1f21 -o json`,
	Args:    cobra.ExactArgs(1),
	RunE:    runShow,
}

var cancelCmd = &cobra.Command{
	Use:     "cancel SCAN_ID",
	Short:   "Cancel a pending or running scan",
	Example: `  netsentry cancel 0b5e0c3a-2f0e-4c53-9f3e-5f7d8b0b1f21`,
	Args:    cobra.ExactArgs(1),
	RunE:    runCancel,
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List recent scans, newest first",
	Example: `  netsentry list
  netsentry list --page 2 --page-size 20`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(scanCmd, statusCmd, showCmd, cancelCmd, listCmd)

	scanCmd.Flags().StringVarP(&scanType, "type", "t", config.ScanTypeQuick, "scan type: quick or full")
	scanCmd.Flags().StringVar(&scanName, "name", "", "human readable scan name")
	scanCmd.Flags().BoolVarP(&scanWait, "wait", "w", false, "poll until the scan finishes")
	scanCmd.Flags().DurationVar(&scanPollInterval, "poll-interval", defaultPollInterval, "status polling interval with --wait")
	scanCmd.Flags().DurationVar(&scanWaitTimeout, "wait-timeout", 0, "give up waiting after this long (0 = no limit)")

	listCmd.Flags().IntVar(&listPage, "page", 1, "page number")
	listCmd.Flags().IntVar(&listPageSize, "page-size", 50, "scans per page")
}

func runScan(cmd *cobra.Command, args []string) error {
	if !config.IsValidScanType(scanType) {
		return fmt.Errorf("invalid scan type %q: expected quick or full", scanType)
	}

	client, err := newAPIClientFromConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := client.StartScan(ctx, scans.Request{Target: args[0], ScanType: scanType, Name: scanName})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !scanWait {
		if outputFormat == formatJSON {
			return printJSON(out, res)
		}
		fmt.Fprintf(out, "Scan started: %s\n", res.ScanID)
		fmt.Fprintf(out, "Follow it with: netsentry status %s\n", res.ScanID)
		return nil
	}

	if scanWaitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, scanWaitTimeout)
		defer cancel()
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Scan started: %s\n", res.ScanID)
	final, err := waitForScan(ctx, res.ScanID, client.ScanStatus, scanPollInterval, progressPrinter(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	if err := printStatus(out, final); err != nil {
		return err
	}
	if final.Status != db.ScanStatusCompleted {
		return fmt.Errorf("scan %s ended %s", final.ScanID, final.Status)
	}
	return nil
}

// statusFunc fetches the status of one scan.
type statusFunc func(ctx context.Context, id uuid.UUID) (*scans.Status, error)

// waitForScan polls until the scan reaches a terminal status or ctx ends.
// onUpdate is called for every poll whose progress or message changed.
func waitForScan(ctx context.Context, id uuid.UUID, fetch statusFunc, interval time.Duration,
	onUpdate func(*scans.Status)) (*scans.Status, error) {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last *scans.Status
	for {
		st, err := fetch(ctx, id)
		if err != nil {
			return nil, err
		}
		if onUpdate != nil && (last == nil || displayedProgress(st) != displayedProgress(last) ||
			st.ProgressMessage != last.ProgressMessage || st.Status != last.Status) {
			onUpdate(st)
		}
		last = st
		if db.IsTerminalStatus(st.Status) {
			return st, nil
		}

		select {
		case <-ctx.Done():
			return last, fmt.Errorf("stopped waiting for scan %s: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}

// displayedProgress prefers the advisory estimate while it is set.
func displayedProgress(st *scans.Status) int {
	if st.EstimatedProgress != nil && *st.EstimatedProgress > st.Progress {
		return *st.EstimatedProgress
	}
	return st.Progress
}

func progressPrinter(w io.Writer) func(*scans.Status) {
	return func(st *scans.Status) {
		fmt.Fprintf(w, "[%3d%%] %-9s %s\n", displayedProgress(st), st.Status, st.ProgressMessage)
	}
}

func parseScanID(arg string) (uuid.UUID, error) {
	id, err := uuid.Parse(arg)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid scan id %q: %w", arg, err)
	}
	return id, nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	id, err := parseScanID(args[0])
	if err != nil {
		return err
	}
	client, err := newAPIClientFromConfig()
	if err != nil {
		return err
	}
	st, err := client.ScanStatus(cmd.Context(), id)
	if err != nil {
		return err
	}
	return printStatus(cmd.OutOrStdout(), st)
}

func runShow(cmd *cobra.Command, args []string) error {
	id, err := parseScanID(args[0])
	if err != nil {
		return err
	}
	client, err := newAPIClientFromConfig()
	if err != nil {
		return err
	}
	detail, err := client.ScanDetail(cmd.Context(), id)
	if err != nil {
		return err
	}
	return printDetail(cmd.OutOrStdout(), detail)
}

func runCancel(cmd *cobra.Command, args []string) error {
	id, err := parseScanID(args[0])
	if err != nil {
		return err
	}
	client, err := newAPIClientFromConfig()
	if err != nil {
		return err
	}
	st, err := client.CancelScan(cmd.Context(), id)
	if err != nil {
		return err
	}
	return printStatus(cmd.OutOrStdout(), st)
}

func runList(cmd *cobra.Command, _ []string) error {
	client, err := newAPIClientFromConfig()
	if err != nil {
		return err
	}
	list, err := client.ListScans(cmd.Context(), listPage, listPageSize)
	if err != nil {
		return err
	}
	return printScanList(cmd.OutOrStdout(), list.Data)
}

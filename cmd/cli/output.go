package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/anstrom/netsentry/internal/db"
	"github.com/anstrom/netsentry/internal/scans"
)

const (
	formatTable = "table"
	formatJSON  = "json"

	timeLayout = "2006-01-02 15:04:05"
)

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

func printStatus(w io.Writer, st *scans.Status) error {
	if outputFormat == formatJSON {
		return printJSON(w, st)
	}

	progress := strconv.Itoa(st.Progress) + "%"
	if st.EstimatedProgress != nil {
		progress += fmt.Sprintf(" (estimated %d%%)", *st.EstimatedProgress)
	}

	fmt.Fprintf(w, "Scan:            %s\n", st.ScanID)
	fmt.Fprintf(w, "Status:          %s\n", st.Status)
	fmt.Fprintf(w, "Progress:        %s\n", progress)
	if st.ProgressMessage != "" {
		fmt.Fprintf(w, "Message:         %s\n", st.ProgressMessage)
	}
	fmt.Fprintf(w, "Hosts:           %d\n", st.TotalHosts)
	fmt.Fprintf(w, "Vulnerabilities: %d (critical %d, high %d, medium %d, low %d, info %d)\n",
		st.TotalVulnerabilities,
		st.SeverityCounts.Critical, st.SeverityCounts.High, st.SeverityCounts.Medium,
		st.SeverityCounts.Low, st.SeverityCounts.Info)
	fmt.Fprintf(w, "Started:         %s\n", formatTime(st.StartedAt))
	fmt.Fprintf(w, "Completed:       %s\n", formatTime(st.CompletedAt))
	if st.ErrorMessage != nil {
		fmt.Fprintf(w, "Error:           %s\n", *st.ErrorMessage)
	}
	return nil
}

func printScanList(w io.Writer, list []*db.Scan) error {
	if outputFormat == formatJSON {
		return printJSON(w, list)
	}
	if len(list) == 0 {
		fmt.Fprintln(w, "No scans found.")
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header("ID", "Name", "Target", "Type", "Status", "Progress", "Hosts", "Vulns", "Created")
	for _, s := range list {
		created := s.CreatedAt
		_ = table.Append([]string{
			s.ID.String(),
			s.Name,
			s.Target,
			s.ScanType,
			s.Status,
			strconv.Itoa(s.Progress) + "%",
			strconv.Itoa(s.TotalHosts),
			strconv.Itoa(s.TotalVulnerabilities),
			formatTime(&created),
		})
	}
	return table.Render()
}

func printDetail(w io.Writer, detail *db.ScanDetail) error {
	if outputFormat == formatJSON {
		return printJSON(w, detail)
	}

	s := detail.Scan
	fmt.Fprintf(w, "Scan %s (%s)\n", s.ID, s.Name)
	fmt.Fprintf(w, "Target %s, type %s, status %s, progress %d%%\n", s.Target, s.ScanType, s.Status, s.Progress)
	fmt.Fprintf(w, "Hosts %d, vulnerabilities %d\n", s.TotalHosts, s.TotalVulnerabilities)
	if s.ErrorMessage != nil {
		fmt.Fprintf(w, "Error: %s\n", *s.ErrorMessage)
	}

	if len(detail.Hosts) == 0 {
		fmt.Fprintln(w, "\nNo live hosts recorded.")
		return nil
	}

	fmt.Fprintln(w, "\nPorts:")
	ports := tablewriter.NewWriter(w)
	ports.Header("Host", "Port", "State", "Service", "Product", "Version", "TLS")
	for _, h := range detail.Hosts {
		for _, p := range h.Ports {
			_ = ports.Append([]string{
				h.Address,
				fmt.Sprintf("%d/%s", p.Port, p.Transport),
				p.State,
				p.Service,
				p.Product,
				p.Version,
				p.TLSVersion,
			})
		}
	}
	if err := ports.Render(); err != nil {
		return err
	}

	var vulnCount int
	for _, h := range detail.Hosts {
		vulnCount += len(h.Vulnerabilities)
	}
	if vulnCount == 0 {
		fmt.Fprintln(w, "\nNo vulnerabilities found.")
		return nil
	}

	fmt.Fprintln(w, "\nVulnerabilities:")
	vulns := tablewriter.NewWriter(w)
	vulns.Header("Host", "Port", "Severity", "Rule", "Title")
	for _, h := range detail.Hosts {
		for _, v := range h.Vulnerabilities {
			_ = vulns.Append([]string{
				h.Address,
				fmt.Sprintf("%d/%s", v.Port, v.Transport),
				v.Severity,
				v.RuleID,
				v.Title,
			})
		}
	}
	return vulns.Render()
}

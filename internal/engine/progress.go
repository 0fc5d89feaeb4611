package engine

import (
	"fmt"
	"math"

	"github.com/anstrom/netsentry/internal/db"
	"github.com/anstrom/netsentry/internal/vulns"
)

// maxRunningProgress is the highest progress a scan reports before it is
// marked completed.
const maxRunningProgress = 99

// Progress returns round(processed/live*100), capped below 100 while the
// scan is running. A scan with no live hosts has nothing left to do.
func Progress(processed, live int) int {
	if live <= 0 {
		return 100
	}
	p := int(math.Round(float64(processed) * 100 / float64(live)))
	if p > maxRunningProgress {
		p = maxRunningProgress
	}
	if p < 0 {
		p = 0
	}
	return p
}

// aggregate accumulates host outcomes. It is owned by the collector.
type aggregate struct {
	live      int
	processed int
	failed    int
	counts    db.ScanCounts
}

func newAggregate(live int) *aggregate {
	return &aggregate{live: live, counts: db.ScanCounts{TotalHosts: live}}
}

// add folds in one finished host.
func (a *aggregate) add(out hostOutcome) {
	a.processed++
	if out.err != nil {
		a.failed++
	}
	for _, f := range out.findings {
		a.addFinding(f)
	}
}

func (a *aggregate) addFinding(f vulns.Finding) {
	switch f.Severity {
	case vulns.SeverityCritical:
		a.counts.CriticalCount++
	case vulns.SeverityHigh:
		a.counts.HighCount++
	case vulns.SeverityMedium:
		a.counts.MediumCount++
	case vulns.SeverityLow:
		a.counts.LowCount++
	case vulns.SeverityInfo:
		a.counts.InfoCount++
	default:
		return
	}
	a.counts.TotalVulnerabilities++
}

// snapshot is the progress write for the current state.
func (a *aggregate) snapshot() db.ScanProgress {
	return db.ScanProgress{
		HostsProcessed: a.processed,
		Progress:       Progress(a.processed, a.live),
		Message:        fmt.Sprintf("scanned %d of %d hosts", a.processed, a.live),
		Counts:         a.counts,
	}
}

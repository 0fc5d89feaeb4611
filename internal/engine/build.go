package engine

import (
	"github.com/anstrom/netsentry/internal/config"
	"github.com/anstrom/netsentry/internal/discovery"
	"github.com/anstrom/netsentry/internal/errors"
	"github.com/anstrom/netsentry/internal/fingerprint"
	"github.com/anstrom/netsentry/internal/logging"
	"github.com/anstrom/netsentry/internal/metrics"
	"github.com/anstrom/netsentry/internal/probe"
	"github.com/anstrom/netsentry/internal/scanning"
	"github.com/anstrom/netsentry/internal/targets"
	"github.com/anstrom/netsentry/internal/vulns"
)

// FromConfig builds an orchestrator with the configured backends. All probes
// of the orchestrator share one socket budget.
func FromConfig(cfg *config.Config, store Store, logger *logging.Logger, recorder metrics.Recorder) (*Orchestrator, error) {
	if logger == nil {
		logger = logging.Default()
	}
	eng := cfg.Engine

	livenessPorts, err := livenessPorts(eng.Liveness.Ports)
	if err != nil {
		return nil, err
	}

	budget := probe.NewBudget(eng.MaxSockets, eng.ProbeRate)

	prober, err := discovery.New(eng.Backend, budget, discovery.Config{
		Ports:       livenessPorts,
		Timeout:     eng.Liveness.Timeout,
		Concurrency: eng.Liveness.Concurrency,
	}, logger)
	if err != nil {
		return nil, err
	}

	scanner, err := scanning.New(eng.Backend, budget, scanning.Config{
		Timeout:       eng.Ports.Timeout,
		Concurrency:   eng.Ports.Concurrency,
		SNMPCommunity: eng.Detection.SNMPCommunity,
	}, logger)
	if err != nil {
		return nil, err
	}

	matcher, err := vulns.NewDefaultMatcher(eng.RulesFile)
	if err != nil {
		return nil, err
	}

	detector := fingerprint.NewDetector(budget, fingerprint.Config{
		Enabled:       eng.Detection.Enabled,
		Timeout:       eng.Detection.Timeout,
		Concurrency:   eng.Ports.Concurrency,
		SNMPCommunity: eng.Detection.SNMPCommunity,
	}, logger)

	return NewOrchestrator(store, Components{
		Liveness: prober,
		Scanner:  scanner,
		Detector: detector,
		Matcher:  matcher,
	}, Options{
		LeaseTTL:        cfg.Supervisor.LeaseTTL,
		MaxTargets:      eng.MaxTargets,
		HostConcurrency: eng.HostConcurrency,
		Backend:         eng.Backend,
		ScanTimeout:     eng.ScanTimeout,
		PortsFor:        eng.PortsFor,
	}, logger, recorder), nil
}

// livenessPorts converts the liveness port list; only TCP ports are usable
// for connect-based liveness.
func livenessPorts(spec string) ([]uint16, error) {
	ports, err := targets.ParsePorts(spec)
	if err != nil {
		return nil, err
	}
	out := make([]uint16, 0, len(ports))
	for _, p := range ports {
		if p.Transport == targets.TCP {
			out = append(out, p.Number)
		}
	}
	if len(out) == 0 {
		return nil, errors.ErrConfigMissing("engine.liveness.ports")
	}
	return out, nil
}

package scanning

import (
	"context"
	"net/netip"
	"time"

	"github.com/Ullaakut/nmap/v3"

	"github.com/anstrom/netsentry/internal/errors"
	"github.com/anstrom/netsentry/internal/logging"
	"github.com/anstrom/netsentry/internal/probe"
	"github.com/anstrom/netsentry/internal/targets"
)

const (
	minTimeout    = time.Second
	mediumTimeout = 5 * time.Second
)

// NmapScanner hands TCP ports to an unprivileged nmap connect scan. UDP ports
// still go through the native protocol probes, since nmap -sU needs root.
type NmapScanner struct {
	native *ConnectScanner
	budget *probe.Budget
	config Config
	logger *logging.Logger
	// binaryPath overrides the nmap lookup in PATH.
	binaryPath string
}

// NewNmapScanner creates an nmap-backed scanner. Each nmap run reserves as
// many budget slots as it may open sockets; UDP probes draw single slots.
func NewNmapScanner(budget *probe.Budget, cfg Config, logger *logging.Logger) *NmapScanner {
	native := NewConnectScanner(budget, cfg, logger)
	return &NmapScanner{native: native, budget: budget, config: native.config, logger: native.logger}
}

// ScanHost runs nmap for TCP ports and the native prober for UDP ports. A
// failed nmap run records its ports as filtered; only cancellation of ctx is
// returned as an error.
func (s *NmapScanner) ScanHost(ctx context.Context, addr netip.Addr, ports []targets.Port) ([]PortResult, error) {
	var tcp, udp []targets.Port
	for _, p := range ports {
		if p.Transport == targets.UDP {
			udp = append(udp, p)
		} else {
			tcp = append(tcp, p)
		}
	}

	results := make([]PortResult, 0, len(ports))
	if len(tcp) > 0 {
		run, err := s.run(ctx, addr, tcp)
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			s.logger.Warn("nmap connect scan failed, recording ports as filtered",
				"host", addr.String(), "ports", len(tcp), "error", err)
			results = append(results, convertNmapPorts(nil, tcp)...)
		default:
			results = append(results, convertNmapPorts(run, tcp)...)
		}
	}

	if len(udp) > 0 {
		udpResults, err := s.native.scanPorts(ctx, addr, udp)
		results = append(results, udpResults...)
		if err != nil {
			SortResults(results)
			return results, err
		}
	}

	SortResults(results)
	return results, nil
}

func (s *NmapScanner) run(ctx context.Context, addr netip.Addr, ports []targets.Port) (*nmap.Run, error) {
	cfg := s.config
	cfg.Concurrency = s.budget.Clamp(cfg.Concurrency)
	release, err := s.budget.AcquireN(ctx, cfg.Concurrency)
	if err != nil {
		return nil, err
	}
	defer release()

	options := buildScanOptions(addr, ports, cfg)
	if s.binaryPath != "" {
		options = append(options, nmap.WithBinaryPath(s.binaryPath))
	}
	scanner, err := nmap.NewScanner(ctx, options...)
	if err != nil {
		return nil, errors.WrapScanErrorWithTarget(errors.CodeProbeFailed, "failed to create nmap scanner", addr.String(), err)
	}

	result, warnings, err := scanner.Run()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.WrapScanErrorWithTarget(errors.CodeProbeFailed, "nmap connect scan failed", addr.String(), err)
	}
	if warnings != nil && len(*warnings) > 0 {
		s.logger.Warn("nmap scan completed with warnings", "host", addr.String(), "warnings", *warnings)
	}
	return result, nil
}

// buildScanOptions creates nmap options for an unprivileged connect scan of
// one already-live host.
func buildScanOptions(addr netip.Addr, ports []targets.Port, cfg Config) []nmap.Option {
	options := []nmap.Option{
		nmap.WithTargets(addr.String()),
		nmap.WithPorts(targets.FormatPorts(ports, targets.TCP)),
		nmap.WithConnectScan(),
		nmap.WithSkipHostDiscovery(),
		nmap.WithUnprivileged(),
		nmap.WithMaxParallelism(cfg.Concurrency),
	}

	switch {
	case cfg.Timeout <= minTimeout:
		options = append(options, nmap.WithTimingTemplate(nmap.TimingAggressive))
	case cfg.Timeout <= mediumTimeout:
		options = append(options, nmap.WithTimingTemplate(nmap.TimingNormal))
	default:
		options = append(options, nmap.WithTimingTemplate(nmap.TimingPolite))
	}

	return options
}

// convertNmapPorts yields one result per requested port. Ports nmap folded
// into an "extraports" summary take that summary's state.
func convertNmapPorts(run *nmap.Run, requested []targets.Port) []PortResult {
	seen := make(map[uint16]PortResult)
	fallback := StateFiltered

	if run != nil && len(run.Hosts) > 0 {
		host := &run.Hosts[0]
		for i := range host.Ports {
			p := &host.Ports[i]
			if p.Protocol != string(targets.TCP) {
				continue
			}
			seen[p.ID] = PortResult{
				Port:      p.ID,
				Transport: targets.TCP,
				State:     normalizeState(p.State.State),
				Product:   p.Service.Product,
				Version:   p.Service.Version,
			}
		}
		if len(host.ExtraPorts) > 0 {
			fallback = normalizeState(host.ExtraPorts[0].State)
		}
	}

	results := make([]PortResult, 0, len(requested))
	for _, p := range requested {
		if r, ok := seen[p.Number]; ok {
			results = append(results, r)
			continue
		}
		results = append(results, PortResult{Port: p.Number, Transport: targets.TCP, State: fallback})
	}
	return results
}

func normalizeState(state string) string {
	switch state {
	case StateOpen:
		return StateOpen
	case StateClosed:
		return StateClosed
	default:
		return StateFiltered
	}
}

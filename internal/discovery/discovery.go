// Package discovery decides which candidate addresses are alive before any
// port scanning happens. Two backends exist: a native TCP connect prober that
// shares the process-wide socket budget, and an nmap ping scan.
package discovery

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/Ullaakut/nmap/v3"

	"github.com/anstrom/netsentry/internal/errors"
	"github.com/anstrom/netsentry/internal/logging"
	"github.com/anstrom/netsentry/internal/probe"
)

const (
	defaultConcurrency = 64
	defaultTimeout     = time.Second

	// Extra time granted to an nmap run on top of the per-host budget.
	nmapOverhead = 30 * time.Second
)

// Prober reports which candidates answered. Result order is not guaranteed.
type Prober interface {
	Probe(ctx context.Context, candidates []netip.Addr) ([]netip.Addr, error)
}

// Config represents liveness probe configuration.
type Config struct {
	Ports       []uint16
	Timeout     time.Duration
	Concurrency int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	return c
}

// ConnectProber checks liveness with plain TCP connects. A host that accepts
// or actively refuses a connection on any probe port is alive.
type ConnectProber struct {
	dialer *probe.Dialer
	config Config
	logger *logging.Logger
}

// NewConnectProber creates a prober whose dials draw from budget.
func NewConnectProber(budget *probe.Budget, cfg Config, logger *logging.Logger) *ConnectProber {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = logging.Default()
	}
	return &ConnectProber{
		dialer: probe.NewDialer(budget, cfg.Timeout),
		config: cfg,
		logger: logger.WithComponent("discovery"),
	}
}

// Probe checks every candidate with at most Concurrency hosts in flight.
// Unresponsive hosts are simply absent from the result; only local failures
// such as socket exhaustion or cancellation are returned as errors.
func (p *ConnectProber) Probe(ctx context.Context, candidates []netip.Addr) ([]netip.Addr, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	if len(p.config.Ports) == 0 {
		return nil, errors.ErrConfigMissing("engine.liveness.ports")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := p.config.Concurrency
	if workers > len(candidates) {
		workers = len(candidates)
	}

	jobs := make(chan netip.Addr)
	var (
		mu       sync.Mutex
		alive    []netip.Addr
		firstErr error
		wg       sync.WaitGroup
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for addr := range jobs {
				up, err := p.probeHost(ctx, addr)
				mu.Lock()
				switch {
				case err != nil:
					if firstErr == nil {
						firstErr = err
						cancel()
					}
				case up:
					alive = append(alive, addr)
				}
				mu.Unlock()
			}
		}()
	}

feed:
	for _, addr := range candidates {
		select {
		case jobs <- addr:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return alive, firstErr
	}
	if err := ctx.Err(); err != nil {
		return alive, err
	}

	p.logger.Debug("liveness probe finished", "candidates", len(candidates), "alive", len(alive))
	return alive, nil
}

func (p *ConnectProber) probeHost(ctx context.Context, addr netip.Addr) (bool, error) {
	for _, port := range p.config.Ports {
		target := net.JoinHostPort(addr.String(), strconv.Itoa(int(port)))
		outcome, err := p.dialer.Connect(ctx, "tcp", target)
		if err != nil {
			return false, err
		}
		if outcome.Answered() {
			return true, nil
		}
	}
	return false, nil
}

// NmapProber runs an unprivileged nmap ping scan.
type NmapProber struct {
	budget *probe.Budget
	config Config
	logger *logging.Logger
	// binaryPath overrides the nmap lookup in PATH.
	binaryPath string
}

// NewNmapProber creates a prober backed by the nmap binary. A run reserves
// one budget slot per parallel nmap probe for its whole duration.
func NewNmapProber(budget *probe.Budget, cfg Config, logger *logging.Logger) *NmapProber {
	if logger == nil {
		logger = logging.Default()
	}
	return &NmapProber{budget: budget, config: cfg.withDefaults(), logger: logger.WithComponent("discovery")}
}

// Probe runs one nmap ping scan over all candidates.
func (p *NmapProber) Probe(ctx context.Context, candidates []netip.Addr) ([]netip.Addr, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	cfg := p.config
	cfg.Concurrency = p.budget.Clamp(cfg.Concurrency)
	release, err := p.budget.AcquireN(ctx, cfg.Concurrency)
	if err != nil {
		return nil, err
	}
	defer release()

	runCtx, cancel := context.WithTimeout(ctx, runTimeout(len(candidates), cfg))
	defer cancel()

	options := buildNmapOptions(candidates, cfg)
	if p.binaryPath != "" {
		options = append(options, nmap.WithBinaryPath(p.binaryPath))
	}
	scanner, err := nmap.NewScanner(runCtx, options...)
	if err != nil {
		return nil, errors.WrapScanError(errors.CodeProbeFailed, "failed to create nmap scanner", err)
	}

	result, warnings, err := scanner.Run()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.WrapScanError(errors.CodeProbeFailed, "nmap ping scan failed", err)
	}
	if warnings != nil && len(*warnings) > 0 {
		p.logger.Warn("nmap ping scan completed with warnings", "warnings", *warnings)
	}

	return aliveFromRun(result), nil
}

// buildNmapOptions constructs a host discovery run without a port scan.
func buildNmapOptions(candidates []netip.Addr, cfg Config) []nmap.Option {
	addrs := make([]string, len(candidates))
	for i, a := range candidates {
		addrs[i] = a.String()
	}

	options := []nmap.Option{
		nmap.WithTargets(addrs...),
		nmap.WithPingScan(),
		nmap.WithUnprivileged(),
	}
	if cfg.Concurrency > 0 {
		options = append(options, nmap.WithMaxParallelism(cfg.Concurrency))
	}

	if len(cfg.Ports) > 0 {
		ports := make([]string, len(cfg.Ports))
		for i, port := range cfg.Ports {
			ports[i] = strconv.Itoa(int(port))
		}
		options = append(options, nmap.WithSYNDiscovery(ports...))
	}

	switch {
	case cfg.Timeout <= time.Second:
		options = append(options, nmap.WithTimingTemplate(nmap.TimingAggressive))
	case cfg.Timeout <= 5*time.Second:
		options = append(options, nmap.WithTimingTemplate(nmap.TimingNormal))
	default:
		options = append(options, nmap.WithTimingTemplate(nmap.TimingPolite))
	}

	return options
}

// runTimeout bounds a whole nmap run by the number of sequential host rounds.
func runTimeout(candidates int, cfg Config) time.Duration {
	cfg = cfg.withDefaults()
	rounds := (candidates + cfg.Concurrency - 1) / cfg.Concurrency
	ports := len(cfg.Ports)
	if ports == 0 {
		ports = 1
	}
	return time.Duration(rounds*ports)*cfg.Timeout + nmapOverhead
}

func aliveFromRun(run *nmap.Run) []netip.Addr {
	if run == nil {
		return nil
	}
	alive := make([]netip.Addr, 0, len(run.Hosts))
	for i := range run.Hosts {
		host := &run.Hosts[i]
		if host.Status.State != "up" {
			continue
		}
		for _, a := range host.Addresses {
			if a.AddrType == "mac" {
				continue
			}
			if addr, err := netip.ParseAddr(a.Addr); err == nil {
				alive = append(alive, addr.Unmap())
				break
			}
		}
	}
	return alive
}

// New returns the prober for backend ("connect" or "nmap").
func New(backend string, budget *probe.Budget, cfg Config, logger *logging.Logger) (Prober, error) {
	switch backend {
	case "", "connect":
		return NewConnectProber(budget, cfg, logger), nil
	case "nmap":
		return NewNmapProber(budget, cfg, logger), nil
	default:
		return nil, errors.NewConfigFieldError(errors.CodeConfiguration,
			fmt.Sprintf("unknown probe backend %q", backend), "engine.backend", backend)
	}
}

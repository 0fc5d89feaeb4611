package scanning

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/anstrom/netsentry/internal/errors"
	"github.com/anstrom/netsentry/internal/logging"
	"github.com/anstrom/netsentry/internal/probe"
	"github.com/anstrom/netsentry/internal/targets"
)

// Port states.
const (
	StateOpen     = "open"
	StateClosed   = "closed"
	StateFiltered = "filtered"
)

const (
	defaultTimeout     = 2 * time.Second
	defaultConcurrency = 32
	defaultCommunity   = "public"
)

// PortResult is the observed state of one port plus whatever service facts
// later stages attach to it.
type PortResult struct {
	Port       uint16            `json:"port"`
	Transport  targets.Transport `json:"transport"`
	State      string            `json:"state"`
	Service    string            `json:"service,omitempty"`
	Product    string            `json:"product,omitempty"`
	Version    string            `json:"version,omitempty"`
	Banner     string            `json:"banner,omitempty"`
	TLSVersion string            `json:"tls_version,omitempty"`
}

// Open reports whether the port accepted traffic.
func (r PortResult) Open() bool {
	return r.State == StateOpen
}

// Address renders host:port for dialing.
func Address(addr netip.Addr, port uint16) string {
	return net.JoinHostPort(addr.String(), strconv.Itoa(int(port)))
}

// Scanner probes the given ports of one host.
type Scanner interface {
	ScanHost(ctx context.Context, addr netip.Addr, ports []targets.Port) ([]PortResult, error)
}

// Config controls port probing.
type Config struct {
	Timeout       time.Duration
	Concurrency   int
	SNMPCommunity string
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.SNMPCommunity == "" {
		c.SNMPCommunity = defaultCommunity
	}
	return c
}

// ConnectScanner probes ports natively through the shared budget.
type ConnectScanner struct {
	dialer    *probe.Dialer
	config    Config
	logger    *logging.Logger
	protocols map[uint16]udpProbe
}

// NewConnectScanner creates a scanner whose probes draw from budget.
func NewConnectScanner(budget *probe.Budget, cfg Config, logger *logging.Logger) *ConnectScanner {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = logging.Default()
	}
	return &ConnectScanner{
		dialer: probe.NewDialer(budget, cfg.Timeout),
		config: cfg,
		logger: logger.WithComponent("scanning"),
	}
}

// ScanHost probes every port with at most Concurrency probes in flight for
// this host. A failing probe yields filtered and never aborts the host; only
// cancellation of ctx is returned, together with the results gathered so far.
func (s *ConnectScanner) ScanHost(ctx context.Context, addr netip.Addr, ports []targets.Port) ([]PortResult, error) {
	return s.scanPorts(ctx, addr, ports)
}

func (s *ConnectScanner) scanPorts(ctx context.Context, addr netip.Addr, ports []targets.Port) ([]PortResult, error) {
	if len(ports) == 0 {
		return []PortResult{}, nil
	}

	workers := s.config.Concurrency
	if workers > len(ports) {
		workers = len(ports)
	}

	results := make([]PortResult, len(ports))
	done := make([]bool, len(ports))
	jobs := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = s.probePort(ctx, addr, ports[i])
				done[i] = true
			}
		}()
	}

feed:
	for i := range ports {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	out := make([]PortResult, 0, len(ports))
	for i := range results {
		if done[i] {
			out = append(out, results[i])
		}
	}
	SortResults(out)

	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

func (s *ConnectScanner) probePort(ctx context.Context, addr netip.Addr, port targets.Port) PortResult {
	result := PortResult{Port: port.Number, Transport: port.Transport, State: StateFiltered}

	var (
		outcome probe.Outcome
		err     error
	)
	if port.Transport == targets.UDP {
		outcome, err = s.probeUDP(ctx, addr, port.Number)
	} else {
		outcome, err = s.dialer.Connect(ctx, "tcp", Address(addr, port.Number))
	}
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("probe failed", "host", addr.String(), "port", port.String(), "error", err)
		}
		return result
	}

	result.State = stateFor(outcome)
	return result
}

func stateFor(o probe.Outcome) string {
	switch o {
	case probe.Accepted:
		return StateOpen
	case probe.Refused:
		return StateClosed
	default:
		return StateFiltered
	}
}

// SortResults orders results by transport (tcp first) then port.
func SortResults(results []PortResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Transport != results[j].Transport {
			return results[i].Transport < results[j].Transport
		}
		return results[i].Port < results[j].Port
	})
}

// OpenPorts returns only the open results.
func OpenPorts(results []PortResult) []PortResult {
	open := make([]PortResult, 0, len(results))
	for _, r := range results {
		if r.Open() {
			open = append(open, r)
		}
	}
	return open
}

// New returns the scanner for backend ("connect" or "nmap").
func New(backend string, budget *probe.Budget, cfg Config, logger *logging.Logger) (Scanner, error) {
	switch backend {
	case "", "connect":
		return NewConnectScanner(budget, cfg, logger), nil
	case "nmap":
		return NewNmapScanner(budget, cfg, logger), nil
	default:
		return nil, errors.NewConfigFieldError(errors.CodeConfiguration,
			fmt.Sprintf("unknown probe backend %q", backend), "engine.backend", backend)
	}
}

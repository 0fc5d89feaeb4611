package fingerprint

import (
	"bytes"
	"context"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/zmap/zcrypto/tls"
	"golang.org/x/sync/errgroup"

	"github.com/anstrom/netsentry/internal/logging"
	"github.com/anstrom/netsentry/internal/probe"
	"github.com/anstrom/netsentry/internal/scanning"
	"github.com/anstrom/netsentry/internal/targets"
)

const (
	defaultTimeout     = 3 * time.Second
	defaultConcurrency = 8
	bannerLimit        = 1024
	responseLimit      = 4096
)

// Config controls refinement probes.
type Config struct {
	Enabled       bool
	Timeout       time.Duration
	Concurrency   int
	SNMPCommunity string
}

// Detector identifies services on open ports.
type Detector struct {
	dialer *probe.Dialer
	config Config
	logger *logging.Logger
}

// NewDetector creates a detector whose probes draw from budget.
func NewDetector(budget *probe.Budget, cfg Config, logger *logging.Logger) *Detector {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.SNMPCommunity == "" {
		cfg.SNMPCommunity = "public"
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Detector{
		dialer: probe.NewDialer(budget, cfg.Timeout),
		config: cfg,
		logger: logger.WithComponent("fingerprint"),
	}
}

// Detect fills in service facts for every open port in place. Closed and
// filtered ports are left untouched. A failed probe keeps the table guess;
// the only error returned is cancellation of ctx.
func (d *Detector) Detect(ctx context.Context, addr netip.Addr, ports []scanning.PortResult) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.config.Concurrency)

	for i := range ports {
		if !ports[i].Open() {
			continue
		}
		port := &ports[i]
		port.Service, _ = Lookup(port.Port, port.Transport)
		if !d.config.Enabled {
			continue
		}

		g.Go(func() error {
			facts, err := d.refine(gctx, addr, port)
			if err != nil {
				if gctx.Err() == nil {
					d.logger.Debug("refinement probe failed",
						"host", addr.String(), "port", port.Port, "service", port.Service, "error", err)
				}
				return nil
			}
			apply(port, facts)
			return nil
		})
	}

	_ = g.Wait()
	return ctx.Err()
}

func apply(port *scanning.PortResult, f Facts) {
	if f.Service != "" {
		port.Service = f.Service
	}
	if f.Product != "" {
		port.Product = f.Product
	}
	if f.Version != "" {
		port.Version = f.Version
	}
	if f.Banner != "" {
		port.Banner = f.Banner
	}
}

func (d *Detector) refine(ctx context.Context, addr netip.Addr, port *scanning.PortResult) (Facts, error) {
	address := scanning.Address(addr, port.Port)

	switch port.Service {
	case "ssh":
		raw, err := d.dialer.ReadBanner(ctx, address, nil, bannerLimit, probe.LineComplete)
		if err != nil {
			return Facts{}, err
		}
		return ParseSSH(string(raw)), nil

	case "ftp", "smtp", "pop3", "imap", "telnet", "vnc":
		raw, err := d.dialer.ReadBanner(ctx, address, nil, bannerLimit, probe.LineComplete)
		if err != nil {
			return Facts{}, err
		}
		return ParseBanner(port.Service, string(raw)), nil

	case "mysql":
		raw, err := d.dialer.ReadBanner(ctx, address, nil, bannerLimit, mysqlComplete)
		if err != nil {
			return Facts{}, err
		}
		if f, ok := ParseMySQLGreeting(raw); ok {
			return f, nil
		}
		return Facts{}, fmt.Errorf("not a mysql greeting")

	case "http", "http-proxy", "couchdb", "elasticsearch", "docker":
		raw, err := d.dialer.ReadBanner(ctx, address, headRequest(addr), responseLimit, headersComplete)
		if err != nil {
			return Facts{}, err
		}
		return ParseHTTPResponse(raw, port.Service), nil

	case "https":
		return d.refineTLS(ctx, addr, port, headRequest(addr))

	case "imaps", "pop3s", "smtps", "ldaps":
		return d.refineTLS(ctx, addr, port, nil)

	case "redis":
		raw, err := d.dialer.ReadBanner(ctx, address, []byte("INFO server\r\n"), responseLimit, redisComplete)
		if err != nil {
			return Facts{}, err
		}
		return ParseRedisInfo(raw), nil

	case "dns":
		return d.refineDNS(ctx, address, port.Transport)

	case "snmp":
		return d.refineSNMP(ctx, addr, port.Port)

	case Unknown:
		return d.refineUnknown(ctx, address, port.Transport)
	}

	return Facts{}, nil
}

func (d *Detector) refineUnknown(ctx context.Context, address string, transport targets.Transport) (Facts, error) {
	if transport != targets.TCP {
		return Facts{}, nil
	}
	raw, err := d.dialer.Grab(ctx, address, nil, bannerLimit)
	if err != nil {
		return Facts{}, err
	}

	service := ClassifyBanner(raw)
	switch service {
	case "ssh":
		return ParseSSH(string(raw)), nil
	case "mysql":
		f, _ := ParseMySQLGreeting(raw)
		return f, nil
	case "http":
		return ParseHTTPResponse(raw, service), nil
	default:
		return ParseBanner(service, string(raw)), nil
	}
}

func (d *Detector) refineTLS(ctx context.Context, addr netip.Addr, port *scanning.PortResult, payload []byte) (Facts, error) {
	conn, err := d.dialer.DialContext(ctx, "tcp", scanning.Address(addr, port.Port))
	if err != nil {
		return Facts{}, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if err := conn.SetDeadline(time.Now().Add(d.config.Timeout)); err != nil {
		return Facts{}, err
	}
	tlsConn := tls.Client(conn, &tls.Config{
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionSSL30,
	})
	if err := tlsConn.Handshake(); err != nil {
		return Facts{}, err
	}
	port.TLSVersion = TLSVersionName(tlsConn.ConnectionState().Version)

	until := probe.LineComplete
	if payload != nil {
		until = headersComplete
	}
	raw, err := probe.Exchange(tlsConn, payload, responseLimit, d.config.Timeout, until)
	if err != nil {
		// The handshake alone already proved the service and its TLS version.
		return Facts{Service: port.Service}, nil
	}
	if payload != nil {
		return ParseHTTPResponse(raw, port.Service), nil
	}
	return ParseBanner(port.Service, string(raw)), nil
}

func (d *Detector) refineDNS(ctx context.Context, address string, transport targets.Transport) (Facts, error) {
	msg := new(dns.Msg)
	msg.SetQuestion("version.bind.", dns.TypeTXT)
	msg.Question[0].Qclass = dns.ClassCHAOS

	reply, err := d.dialer.ExchangeDNS(ctx, string(transport), address, msg)
	if err != nil {
		return Facts{}, err
	}
	for _, rr := range reply.Answer {
		if txt, ok := rr.(*dns.TXT); ok && len(txt.Txt) > 0 {
			return parseDNSVersion(strings.Join(txt.Txt, " ")), nil
		}
	}
	return Facts{Service: "dns"}, nil
}

func parseDNSVersion(text string) Facts {
	f := ParseBanner("dns", text)
	if f.Product == "" && len(text) > 0 && text[0] >= '0' && text[0] <= '9' {
		// BIND answers with a bare version string.
		f.Product = "bind"
		f.Version = versionNum.FindString(text)
	}
	return f
}

func (d *Detector) refineSNMP(ctx context.Context, addr netip.Addr, port uint16) (Facts, error) {
	packet, err := d.dialer.SNMPGet(ctx, addr.String(), port, d.config.SNMPCommunity, probe.SysDescrOID)
	if err != nil {
		return Facts{}, err
	}
	for _, v := range packet.Variables {
		if raw, ok := v.Value.([]byte); ok && len(raw) > 0 {
			return ParseBanner("snmp", string(raw)), nil
		}
	}
	return Facts{Service: "snmp"}, nil
}

// TLSVersionName renders a negotiated protocol version the way rules
// reference it.
func TLSVersionName(v uint16) string {
	switch v {
	case 0x0300:
		return "SSLv3"
	case 0x0301:
		return "TLSv1.0"
	case 0x0302:
		return "TLSv1.1"
	case 0x0303:
		return "TLSv1.2"
	case 0x0304:
		return "TLSv1.3"
	default:
		return fmt.Sprintf("0x%04x", v)
	}
}

func headRequest(addr netip.Addr) []byte {
	return []byte("HEAD / HTTP/1.0\r\nHost: " + addr.String() + "\r\nUser-Agent: netsentry\r\nAccept: */*\r\n\r\n")
}

func headersComplete(b []byte) bool {
	return bytes.Contains(b, []byte("\r\n\r\n")) || bytes.Contains(b, []byte("\n\n"))
}

func redisComplete(b []byte) bool {
	i := bytes.Index(b, []byte("redis_version:"))
	return i >= 0 && bytes.IndexByte(b[i:], '\n') >= 0
}

// mysqlComplete stops once the greeting's version string is terminated.
func mysqlComplete(b []byte) bool {
	return len(b) > 5 && bytes.IndexByte(b[5:], 0) >= 0
}

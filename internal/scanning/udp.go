package scanning

import (
	"context"
	"net/netip"

	"github.com/miekg/dns"

	"github.com/anstrom/netsentry/internal/probe"
)

// udpProbe sends one protocol-specific request and classifies the answer.
type udpProbe func(ctx context.Context, s *ConnectScanner, addr netip.Addr, port uint16) (probe.Outcome, error)

// defaultUDPProbes are protocol probes for ports whose services ignore an
// empty datagram.
var defaultUDPProbes = map[uint16]udpProbe{
	53:  probeDNS,
	161: probeSNMP,
}

func (s *ConnectScanner) probeUDP(ctx context.Context, addr netip.Addr, port uint16) (probe.Outcome, error) {
	fn, ok := s.udpProbes()[port]
	if !ok {
		fn = probeDatagram
	}
	return fn(ctx, s, addr, port)
}

func (s *ConnectScanner) udpProbes() map[uint16]udpProbe {
	if s.protocols != nil {
		return s.protocols
	}
	return defaultUDPProbes
}

// probeDNS sends a real query so that name servers answer, but any datagram
// that comes back means the port is open, whether or not it parses as DNS.
func probeDNS(ctx context.Context, s *ConnectScanner, addr netip.Addr, port uint16) (probe.Outcome, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(".", dns.TypeNS)
	msg.RecursionDesired = false
	query, err := msg.Pack()
	if err != nil {
		return probe.Silent, err
	}

	_, err = s.dialer.SendDatagram(ctx, Address(addr, port), query)
	return probe.Classify(ctx, err)
}

func probeSNMP(ctx context.Context, s *ConnectScanner, addr netip.Addr, port uint16) (probe.Outcome, error) {
	_, err := s.dialer.SNMPGet(ctx, addr.String(), port, s.config.SNMPCommunity, probe.SysDescrOID)
	return probe.Classify(ctx, err)
}

func probeDatagram(ctx context.Context, s *ConnectScanner, addr netip.Addr, port uint16) (probe.Outcome, error) {
	_, err := s.dialer.SendDatagram(ctx, Address(addr, port), nil)
	return probe.Classify(ctx, err)
}

// Package scanning probes the ports of a single live host.
//
// # Overview
//
// A Scanner takes one address and a list of targets.Port values and returns
// one PortResult per requested port, sorted by transport then number. Every
// probe draws a slot from the shared probe.Budget, so the product of host
// fan-out and port fan-out never exceeds the process-wide socket ceiling.
//
// # TCP
//
// TCP ports are checked with a full connect:
//   - connection established: open
//   - connection refused or reset: closed
//   - timeout, unreachable, anything else: filtered
//
// # UDP
//
// UDP has no handshake, so each port gets a protocol probe. Port 53 gets a DNS
// query (miekg/dns), port 161 an SNMP get of sysDescr (gosnmp), any other port
// an empty datagram. A reply means open, an ICMP port unreachable surfaced as
// a refused read means closed, silence means filtered.
//
// # Backends
//
// The connect backend runs entirely in-process. The nmap backend hands TCP
// ports to an unprivileged nmap -sT run and still probes UDP natively.
//
// # Usage
//
//	budget := probe.NewBudget(512, 0)
//	scanner := scanning.NewConnectScanner(budget, scanning.Config{
//		Timeout:     2 * time.Second,
//		Concurrency: 32,
//	}, logger)
//
//	ports, _ := targets.ParsePorts("22,80,443,U:53")
//	results, err := scanner.ScanHost(ctx, netip.MustParseAddr("10.0.0.5"), ports)
package scanning

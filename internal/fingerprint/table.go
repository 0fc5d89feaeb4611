// Package fingerprint names the service behind an open port. A well-known
// port table gives every port a first guess; a short protocol probe then
// refines it with product, version and TLS facts where the service talks.
package fingerprint

import "github.com/anstrom/netsentry/internal/targets"

// Unknown is the service name of a port nothing could identify.
const Unknown = "unknown"

type tableKey struct {
	port      uint16
	transport targets.Transport
}

var wellKnown = map[tableKey]string{
	{21, targets.TCP}:    "ftp",
	{22, targets.TCP}:    "ssh",
	{23, targets.TCP}:    "telnet",
	{25, targets.TCP}:    "smtp",
	{53, targets.TCP}:    "dns",
	{53, targets.UDP}:    "dns",
	{80, targets.TCP}:    "http",
	{81, targets.TCP}:    "http",
	{110, targets.TCP}:   "pop3",
	{111, targets.TCP}:   "rpcbind",
	{123, targets.UDP}:   "ntp",
	{135, targets.TCP}:   "msrpc",
	{139, targets.TCP}:   "netbios-ssn",
	{143, targets.TCP}:   "imap",
	{161, targets.UDP}:   "snmp",
	{389, targets.TCP}:   "ldap",
	{443, targets.TCP}:   "https",
	{445, targets.TCP}:   "microsoft-ds",
	{465, targets.TCP}:   "smtps",
	{587, targets.TCP}:   "smtp",
	{631, targets.TCP}:   "ipp",
	{636, targets.TCP}:   "ldaps",
	{873, targets.TCP}:   "rsync",
	{993, targets.TCP}:   "imaps",
	{995, targets.TCP}:   "pop3s",
	{1080, targets.TCP}:  "socks",
	{1433, targets.TCP}:  "mssql",
	{1521, targets.TCP}:  "oracle",
	{1723, targets.TCP}:  "pptp",
	{2049, targets.TCP}:  "nfs",
	{2375, targets.TCP}:  "docker",
	{3000, targets.TCP}:  "http",
	{3306, targets.TCP}:  "mysql",
	{3389, targets.TCP}:  "rdp",
	{5000, targets.TCP}:  "http",
	{5432, targets.TCP}:  "postgresql",
	{5900, targets.TCP}:  "vnc",
	{5984, targets.TCP}:  "couchdb",
	{6379, targets.TCP}:  "redis",
	{8000, targets.TCP}:  "http",
	{8080, targets.TCP}:  "http-proxy",
	{8081, targets.TCP}:  "http",
	{8443, targets.TCP}:  "https",
	{8888, targets.TCP}:  "http",
	{9000, targets.TCP}:  "http",
	{9090, targets.TCP}:  "http",
	{9200, targets.TCP}:  "elasticsearch",
	{11211, targets.TCP}: "memcached",
	{27017, targets.TCP}: "mongodb",
}

// Lookup returns the conventional service for a port. It is total: ports
// without an entry return Unknown and false.
func Lookup(port uint16, transport targets.Transport) (string, bool) {
	if name, ok := wellKnown[tableKey{port, transport}]; ok {
		return name, true
	}
	return Unknown, false
}

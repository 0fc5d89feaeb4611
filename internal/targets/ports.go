package targets

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/anstrom/netsentry/internal/errors"
)

// Transport is the layer-4 protocol a port is probed over.
type Transport string

const (
	TCP Transport = "tcp"
	UDP Transport = "udp"
)

const (
	minPort = 1
	maxPort = 65535

	expectedPortRangeParts = 2
)

// Port is a single probe destination on a host.
type Port struct {
	Number    uint16    `json:"port"`
	Transport Transport `json:"transport"`
}

// String renders the port the way ParsePorts accepts it.
func (p Port) String() string {
	if p.Transport == UDP {
		return fmt.Sprintf("U:%d", p.Number)
	}
	return strconv.Itoa(int(p.Number))
}

// ParsePorts parses a comma separated port list. Items are single ports ("80"),
// ranges ("1-1024"), and either form prefixed with "T:" or "U:" to pick the
// transport (TCP when omitted). The result is de-duplicated and sorted by
// transport, then port number.
func ParsePorts(spec string) ([]Port, error) {
	seen := make(map[Port]struct{})
	for _, raw := range strings.Split(spec, ",") {
		part := strings.TrimSpace(raw)
		if part == "" {
			continue
		}

		transport := TCP
		switch {
		case strings.HasPrefix(part, "U:"), strings.HasPrefix(part, "u:"):
			transport, part = UDP, part[2:]
		case strings.HasPrefix(part, "T:"), strings.HasPrefix(part, "t:"):
			part = part[2:]
		}

		start, end, err := parsePortPart(part)
		if err != nil {
			return nil, err
		}
		for n := start; n <= end; n++ {
			seen[Port{Number: uint16(n), Transport: transport}] = struct{}{}
		}
	}

	if len(seen) == 0 {
		return nil, errors.NewScanError(errors.CodeValidation, "empty port specification")
	}

	out := make([]Port, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	SortPorts(out)
	return out, nil
}

// SortPorts orders ports by transport (tcp first) then number.
func SortPorts(ports []Port) {
	sort.Slice(ports, func(i, j int) bool {
		if ports[i].Transport != ports[j].Transport {
			return ports[i].Transport < ports[j].Transport
		}
		return ports[i].Number < ports[j].Number
	})
}

// FormatPorts is the inverse of ParsePorts for a TCP-only list, used to build
// backend command lines.
func FormatPorts(ports []Port, transport Transport) string {
	parts := make([]string, 0, len(ports))
	for _, p := range ports {
		if p.Transport == transport {
			parts = append(parts, strconv.Itoa(int(p.Number)))
		}
	}
	return strings.Join(parts, ",")
}

func parsePortPart(part string) (start, end int, err error) {
	if strings.Contains(part, "-") {
		bounds := strings.Split(part, "-")
		if len(bounds) != expectedPortRangeParts {
			return 0, 0, portError("invalid port range format: %s", part)
		}
		if start, err = parsePortNumber(bounds[0]); err != nil {
			return 0, 0, err
		}
		if end, err = parsePortNumber(bounds[1]); err != nil {
			return 0, 0, err
		}
		if start > end {
			return 0, 0, portError("invalid port range: %s (start after end)", part)
		}
		return start, end, nil
	}

	n, err := parsePortNumber(part)
	return n, n, err
}

func parsePortNumber(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, portError("invalid port: %s", s)
	}
	if n < minPort || n > maxPort {
		return 0, portError("invalid port: %d (must be 1-65535)", n)
	}
	return n, nil
}

func portError(format string, args ...any) error {
	return errors.NewScanError(errors.CodeValidation, fmt.Sprintf(format, args...))
}

// Package targets turns operator-supplied target expressions into concrete
// candidate addresses and port lists. Everything here is pure: no I/O, no clocks.
package targets

import (
	"math"
	"net/netip"
	"strings"

	"github.com/anstrom/netsentry/internal/errors"
)

// DefaultMaxTargets is the CIDR expansion cap used when nothing else is configured.
const DefaultMaxTargets = 256

// Expand resolves expr into candidate addresses. An IP literal yields itself; a
// CIDR block yields its addresses in ascending order starting at the network
// address, stopping after limit entries.
func Expand(expr string, limit int) ([]netip.Addr, error) {
	if limit <= 0 {
		return nil, errors.ErrConfigInvalid("engine.max_targets", limit)
	}

	prefix, err := parse(expr)
	if err != nil {
		return nil, err
	}

	n := BlockSize(prefix)
	if n > uint64(limit) {
		n = uint64(limit)
	}

	out := make([]netip.Addr, 0, n)
	for addr := prefix.Addr(); addr.IsValid() && prefix.Contains(addr) && uint64(len(out)) < n; addr = addr.Next() {
		out = append(out, addr)
	}
	return out, nil
}

// Validate checks expr without expanding it.
func Validate(expr string) error {
	_, err := parse(expr)
	return err
}

// BlockSize reports the number of addresses in prefix, saturating at MaxUint64.
func BlockSize(prefix netip.Prefix) uint64 {
	hostBits := prefix.Addr().BitLen() - prefix.Bits()
	if hostBits >= 64 {
		return math.MaxUint64
	}
	return uint64(1) << uint(hostBits)
}

// parse normalises an IP literal or CIDR into a masked prefix.
func parse(expr string) (netip.Prefix, error) {
	s := strings.TrimSpace(expr)
	if s == "" {
		return netip.Prefix{}, errors.ErrInvalidTarget(expr)
	}

	if strings.Contains(s, "/") {
		prefix, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, errors.WrapScanErrorWithTarget(
				errors.CodeTargetInvalid, "invalid target specification", expr, err)
		}
		if prefix.Addr().Is4In6() {
			return netip.Prefix{}, errors.ErrInvalidTarget(expr)
		}
		return prefix.Masked(), nil
	}

	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, errors.WrapScanErrorWithTarget(
			errors.CodeTargetInvalid, "invalid target specification", expr, err)
	}
	if addr.Zone() != "" {
		return netip.Prefix{}, errors.ErrInvalidTarget(expr)
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

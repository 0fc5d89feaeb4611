package targets

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/netsentry/internal/errors"
)

func TestExpand(t *testing.T) {
	tests := []struct {
		name  string
		expr  string
		limit int
		want  []string
	}{
		{"single ipv4", "192.168.1.10", 256, []string{"192.168.1.10"}},
		{"surrounding whitespace", "  10.0.0.1\t", 256, []string{"10.0.0.1"}},
		{"single ipv6", "2001:db8::1", 256, []string{"2001:db8::1"}},
		{"mapped ipv4 literal", "::ffff:10.1.1.1", 256, []string{"10.1.1.1"}},
		{"slash 30 whole block", "10.0.0.0/30", 256, []string{"10.0.0.0", "10.0.0.1", "10.0.0.2", "10.0.0.3"}},
		{"host bits are masked", "10.0.0.2/30", 256, []string{"10.0.0.0", "10.0.0.1", "10.0.0.2", "10.0.0.3"}},
		{"slash 32", "172.16.5.4/32", 256, []string{"172.16.5.4"}},
		{"capped", "10.0.0.0/24", 3, []string{"10.0.0.0", "10.0.0.1", "10.0.0.2"}},
		{"ipv6 block capped", "2001:db8::/64", 2, []string{"2001:db8::", "2001:db8::1"}},
		{"top of address space", "255.255.255.254/31", 256, []string{"255.255.255.254", "255.255.255.255"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Expand(tt.expr, tt.limit)
			require.NoError(t, err)

			want := make([]netip.Addr, len(tt.want))
			for i, s := range tt.want {
				want[i] = netip.MustParseAddr(s)
			}
			assert.Equal(t, want, got)
		})
	}
}

func TestExpandLengthIsMinOfCapAndBlock(t *testing.T) {
	for bits := 20; bits <= 32; bits++ {
		for _, limit := range []int{1, 7, 256, 5000} {
			prefix := netip.PrefixFrom(netip.MustParseAddr("10.20.0.0"), bits)
			got, err := Expand(prefix.String(), limit)
			require.NoError(t, err)

			want := BlockSize(prefix)
			if want > uint64(limit) {
				want = uint64(limit)
			}
			require.Len(t, got, int(want), "prefix %s limit %d", prefix, limit)

			seen := make(map[netip.Addr]bool, len(got))
			for i, a := range got {
				assert.False(t, seen[a], "duplicate %s", a)
				seen[a] = true
				if i > 0 {
					assert.True(t, got[i-1].Less(a), "not ascending at %d", i)
				}
			}
		}
	}
}

func TestExpandInvalid(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"not-an-ip",
		"10.0.0.256",
		"10.0.0.0/33",
		"10.0.0.0/",
		"10.0.0.0/abc",
		"fe80::1%eth0",
		"10.0.0.1-10.0.0.5",
		"example.com",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			_, err := Expand(in, 256)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.CodeTargetInvalid), "got %v", err)
			assert.Error(t, Validate(in))
		})
	}
}

func TestExpandRejectsNonPositiveLimit(t *testing.T) {
	_, err := Expand("10.0.0.1", 0)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeValidation))
}

func TestBlockSize(t *testing.T) {
	assert.Equal(t, uint64(1), BlockSize(netip.MustParsePrefix("10.0.0.1/32")))
	assert.Equal(t, uint64(256), BlockSize(netip.MustParsePrefix("10.0.0.0/24")))
	assert.Equal(t, uint64(1)<<32, BlockSize(netip.MustParsePrefix("0.0.0.0/0")))
	assert.Equal(t, ^uint64(0), BlockSize(netip.MustParsePrefix("2001:db8::/48")))
}

package targets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePorts(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		want    []Port
		wantErr bool
	}{
		{
			name: "single ports",
			spec: "443,22,80",
			want: []Port{{22, TCP}, {80, TCP}, {443, TCP}},
		},
		{
			name: "range and duplicates",
			spec: "20-22, 21",
			want: []Port{{20, TCP}, {21, TCP}, {22, TCP}},
		},
		{
			name: "transport prefixes",
			spec: "U:161,T:22,u:53,53",
			want: []Port{{22, TCP}, {53, TCP}, {53, UDP}, {161, UDP}},
		},
		{name: "empty", spec: " , ", wantErr: true},
		{name: "zero port", spec: "0", wantErr: true},
		{name: "too large", spec: "65536", wantErr: true},
		{name: "reversed range", spec: "100-90", wantErr: true},
		{name: "garbage", spec: "http", wantErr: true},
		{name: "double dash", spec: "1-2-3", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePorts(tt.spec)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPortFormatting(t *testing.T) {
	ports, err := ParsePorts("80,U:53,22")
	require.NoError(t, err)

	assert.Equal(t, "22,80", FormatPorts(ports, TCP))
	assert.Equal(t, "53", FormatPorts(ports, UDP))
	assert.Equal(t, "U:53", Port{Number: 53, Transport: UDP}.String())
	assert.Equal(t, "22", Port{Number: 22, Transport: TCP}.String())
}

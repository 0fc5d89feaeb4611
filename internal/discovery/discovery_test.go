package discovery

import (
	"context"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Ullaakut/nmap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/netsentry/internal/errors"
	"github.com/anstrom/netsentry/internal/probe"
)

func listen(t *testing.T) uint16 {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()
	return uint16(ln.Addr().(*net.TCPAddr).Port)
}

func closedPort(t *testing.T) uint16 {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	require.NoError(t, ln.Close())
	return port
}

func TestConnectProberAcceptedIsAlive(t *testing.T) {
	port := listen(t)
	p := NewConnectProber(probe.NewBudget(8, 0), Config{Ports: []uint16{port}, Timeout: time.Second}, nil)

	alive, err := p.Probe(context.Background(), []netip.Addr{netip.MustParseAddr("127.0.0.1")})
	require.NoError(t, err)
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("127.0.0.1")}, alive)
}

func TestConnectProberRefusedIsAlive(t *testing.T) {
	port := closedPort(t)
	p := NewConnectProber(probe.NewBudget(8, 0), Config{Ports: []uint16{port}, Timeout: time.Second}, nil)

	alive, err := p.Probe(context.Background(), []netip.Addr{netip.MustParseAddr("127.0.0.1")})
	require.NoError(t, err)
	assert.Len(t, alive, 1, "an active refusal proves the host is up")
}

func TestConnectProberTriesEveryPort(t *testing.T) {
	port := listen(t)
	budget := probe.NewBudget(8, 0)
	p := NewConnectProber(budget, Config{Ports: []uint16{port, port}, Timeout: time.Second, Concurrency: 2}, nil)

	candidates := []netip.Addr{
		netip.MustParseAddr("127.0.0.1"),
		netip.MustParseAddr("127.0.0.2"),
		netip.MustParseAddr("127.0.0.3"),
	}
	alive, err := p.Probe(context.Background(), candidates)
	require.NoError(t, err)
	assert.Contains(t, alive, netip.MustParseAddr("127.0.0.1"))
	assert.Equal(t, int64(0), budget.InUse())
}

func TestConnectProberUnresponsiveIsNotAlive(t *testing.T) {
	// TEST-NET-1 is never routed; the dial times out or fails as unreachable.
	p := NewConnectProber(probe.NewBudget(8, 0), Config{Ports: []uint16{9}, Timeout: 150 * time.Millisecond}, nil)

	alive, err := p.Probe(context.Background(), []netip.Addr{netip.MustParseAddr("192.0.2.1")})
	require.NoError(t, err)
	assert.Empty(t, alive)
}

func TestConnectProberCancelled(t *testing.T) {
	p := NewConnectProber(probe.NewBudget(8, 0), Config{Ports: []uint16{80}}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Probe(ctx, []netip.Addr{netip.MustParseAddr("127.0.0.1")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConnectProberRequiresPorts(t *testing.T) {
	p := NewConnectProber(probe.NewBudget(8, 0), Config{}, nil)
	_, err := p.Probe(context.Background(), []netip.Addr{netip.MustParseAddr("127.0.0.1")})
	assert.True(t, errors.IsCode(err, errors.CodeConfiguration))

	alive, err := p.Probe(context.Background(), nil)
	assert.NoError(t, err)
	assert.Empty(t, alive)
}

func TestRunTimeout(t *testing.T) {
	cfg := Config{Ports: []uint16{80, 443}, Timeout: time.Second, Concurrency: 10}
	assert.Equal(t, 2*time.Second+nmapOverhead, runTimeout(5, cfg))
	assert.Equal(t, 6*time.Second+nmapOverhead, runTimeout(25, cfg))
}

func TestBuildNmapOptions(t *testing.T) {
	opts := buildNmapOptions([]netip.Addr{netip.MustParseAddr("10.0.0.1")}, Config{Ports: []uint16{22}, Timeout: time.Second})
	assert.Len(t, opts, 5)

	opts = buildNmapOptions([]netip.Addr{netip.MustParseAddr("10.0.0.1")}, Config{Timeout: 10 * time.Second})
	assert.Len(t, opts, 4)

	opts = buildNmapOptions([]netip.Addr{netip.MustParseAddr("10.0.0.1")}, Config{Timeout: time.Second, Concurrency: 8})
	assert.Len(t, opts, 5)
}

func TestNmapProberHoldsBudgetSlots(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nmap")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nsleep 0.3\nexit 1\n"), 0o700))

	budget := probe.NewBudget(6, 0)
	p := NewNmapProber(budget, Config{Timeout: time.Second, Concurrency: 64}, nil)
	p.binaryPath = path

	done := make(chan error, 1)
	go func() {
		_, err := p.Probe(context.Background(), []netip.Addr{netip.MustParseAddr("127.0.0.1")})
		done <- err
	}()

	assert.Eventually(t, func() bool { return budget.InUse() == 6 }, time.Second, 5*time.Millisecond)
	err := <-done
	assert.True(t, errors.IsCode(err, errors.CodeProbeFailed), "got %v", err)
	assert.Equal(t, int64(0), budget.InUse())
}

func TestNmapProberWaitsForBudget(t *testing.T) {
	budget := probe.NewBudget(2, 0)
	release, err := budget.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	p := NewNmapProber(budget, Config{Timeout: time.Second, Concurrency: 2}, nil)
	p.binaryPath = "/nonexistent/nmap"

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Probe(ctx, []netip.Addr{netip.MustParseAddr("127.0.0.1")})
	assert.Error(t, err)
	assert.Equal(t, int64(1), budget.InUse())
}

func TestAliveFromRun(t *testing.T) {
	run := &nmap.Run{Hosts: []nmap.Host{
		{Status: nmap.Status{State: "up"}, Addresses: []nmap.Address{{Addr: "10.0.0.1", AddrType: "ipv4"}}},
		{Status: nmap.Status{State: "down"}, Addresses: []nmap.Address{{Addr: "10.0.0.2", AddrType: "ipv4"}}},
		{Status: nmap.Status{State: "up"}, Addresses: []nmap.Address{
			{Addr: "00:11:22:33:44:55", AddrType: "mac"},
			{Addr: "10.0.0.3", AddrType: "ipv4"},
		}},
		{Status: nmap.Status{State: "up"}},
	}}

	alive := aliveFromRun(run)
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr("10.0.0.3")}, alive)
	assert.Nil(t, aliveFromRun(nil))
}

func TestNewSelectsBackend(t *testing.T) {
	budget := probe.NewBudget(1, 0)

	p, err := New("connect", budget, Config{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &ConnectProber{}, p)

	p, err = New("nmap", budget, Config{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &NmapProber{}, p)

	_, err = New("raw", budget, Config{}, nil)
	assert.True(t, errors.IsCode(err, errors.CodeConfiguration))
}

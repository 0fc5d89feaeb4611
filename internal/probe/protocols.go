package probe

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/miekg/dns"
	"github.com/zmap/zgrab2"
)

// SysDescrOID is SNMPv2-MIB::sysDescr.0.
const SysDescrOID = "1.3.6.1.2.1.1.1.0"

const (
	grabBufferSize = 2048
	// grabReadGap ends a grab once the server has been quiet this long
	// after its first bytes.
	grabReadGap = 150 * time.Millisecond
)

// ExchangeDNS sends msg to address over network ("udp" or "tcp") and waits
// for the matching reply.
func (d *Dialer) ExchangeDNS(ctx context.Context, network, address string, msg *dns.Msg) (*dns.Msg, error) {
	query, err := msg.Pack()
	if err != nil {
		return nil, err
	}

	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if err := conn.SetDeadline(time.Now().Add(d.timeout())); err != nil {
		return nil, err
	}

	var raw []byte
	if network == "tcp" {
		raw, err = exchangeStream(conn, query)
	} else {
		raw, err = exchangePacket(conn, query)
	}
	if err != nil {
		return nil, err
	}

	reply := new(dns.Msg)
	if err := reply.Unpack(raw); err != nil {
		return nil, err
	}
	if reply.Id != msg.Id {
		return nil, dns.ErrId
	}
	return reply, nil
}

func exchangePacket(conn net.Conn, query []byte) ([]byte, error) {
	if _, err := conn.Write(query); err != nil {
		return nil, err
	}
	buf := make([]byte, dns.MaxMsgSize)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func exchangeStream(conn net.Conn, query []byte) ([]byte, error) {
	framed := make([]byte, 2+len(query))
	binary.BigEndian.PutUint16(framed, uint16(len(query)))
	copy(framed[2:], query)
	if _, err := conn.Write(framed); err != nil {
		return nil, err
	}

	var size [2]byte
	if _, err := io.ReadFull(conn, size[:]); err != nil {
		return nil, err
	}
	buf := make([]byte, binary.BigEndian.Uint16(size[:]))
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// SNMPGet performs one SNMPv2c get while holding a budget slot.
func (d *Dialer) SNMPGet(ctx context.Context, host string, port uint16, community string, oids ...string) (*gosnmp.SnmpPacket, error) {
	release, err := d.Reserve(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	client := &gosnmp.GoSNMP{
		Target:    host,
		Port:      port,
		Community: community,
		Version:   gosnmp.Version2c,
		Timeout:   d.Timeout,
		Retries:   0,
		Context:   ctx,
		MaxOids:   gosnmp.MaxOids,
	}
	if err := client.Connect(); err != nil {
		return nil, err
	}
	defer client.Conn.Close()

	return client.Get(oids)
}

// SendDatagram writes payload to a UDP port and waits for any reply. An
// empty payload still produces a datagram.
func (d *Dialer) SendDatagram(ctx context.Context, address string, payload []byte) ([]byte, error) {
	conn, err := d.DialContext(ctx, "udp", address)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if err := conn.SetDeadline(time.Now().Add(d.timeout())); err != nil {
		return nil, err
	}
	if _, err := conn.Write(payload); err != nil {
		return nil, err
	}

	buf := make([]byte, 1500)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// ReadBanner connects to a TCP port, optionally writes payload, and returns
// what the server sends. See Exchange for when reading stops.
func (d *Dialer) ReadBanner(ctx context.Context, address string, payload []byte, limit int, until func([]byte) bool) ([]byte, error) {
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	return Exchange(conn, payload, limit, d.timeout(), until)
}

// Grab connects to a TCP port, optionally writes payload, and collects
// whatever the server volunteers: it waits up to the probe timeout for the
// first bytes, then keeps reading until the server goes quiet or limit bytes
// arrived. Use it when the response format is not known in advance.
func (d *Dialer) Grab(ctx context.Context, address string, payload []byte, limit int) ([]byte, error) {
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}

	timeout := d.timeout()
	tc := zgrab2.NewTimeoutConnection(ctx, conn, timeout, timeout, timeout, limit)
	tc.ReadLimitExceededAction = zgrab2.ReadLimitExceededActionTruncate
	defer func() {
		tc.Cancel()
		_ = tc.Close()
	}()
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if len(payload) > 0 {
		if _, err := tc.Write(payload); err != nil {
			return nil, err
		}
	}

	raw, err := zgrab2.ReadAvailableWithOptions(tc, grabBufferSize, grabReadGap, timeout, limit)
	if len(raw) > 0 {
		return raw, nil
	}
	if err == nil {
		err = io.EOF
	}
	return nil, err
}

// Exchange writes payload (if any) to conn and reads until limit bytes, EOF,
// the deadline, or until reports the response complete. Data received
// before an error is returned without the error.
func Exchange(conn net.Conn, payload []byte, limit int, timeout time.Duration, until func([]byte) bool) ([]byte, error) {
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if _, err := conn.Write(payload); err != nil {
			return nil, err
		}
	}

	buf := make([]byte, limit)
	total := 0
	for total < limit {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			if total > 0 {
				break
			}
			return nil, err
		}
		if until != nil && until(buf[:total]) {
			break
		}
	}
	return buf[:total], nil
}

// LineComplete stops reading after the first full line.
func LineComplete(b []byte) bool {
	return bytes.IndexByte(b, '\n') >= 0
}

func (d *Dialer) timeout() time.Duration {
	if d.Timeout <= 0 {
		return 2 * time.Second
	}
	return d.Timeout
}

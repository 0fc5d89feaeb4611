package probe

import (
	"context"
	stderrors "errors"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/anstrom/netsentry/internal/errors"
)

// Outcome is what a single connect attempt says about the remote end.
type Outcome int

const (
	// Silent means no answer: timeout, filtered, unreachable.
	Silent Outcome = iota
	// Refused means the host answered with a reset or ICMP port unreachable.
	Refused
	// Accepted means the connection was established.
	Accepted
)

// String names the outcome.
func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Refused:
		return "refused"
	default:
		return "silent"
	}
}

// Answered reports whether the host responded at all.
func (o Outcome) Answered() bool {
	return o != Silent
}

// infrastructure errnos mean this process, not the target, is in trouble.
var infrastructureErrnos = []syscall.Errno{
	syscall.EMFILE,
	syscall.ENFILE,
	syscall.ENOBUFS,
	syscall.ENOMEM,
	syscall.EADDRNOTAVAIL,
}

// Classify maps a dial or read error to an outcome. The error return is
// non-nil only for failures that are not about the target: local resource
// exhaustion and cancellation of the caller's context.
func Classify(ctx context.Context, err error) (Outcome, error) {
	if err == nil {
		return Accepted, nil
	}
	var be *budgetError
	if stderrors.As(err, &be) {
		return Silent, be.err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Silent, ctxErr
	}
	for _, errno := range infrastructureErrnos {
		if stderrors.Is(err, errno) {
			return Silent, errors.WrapScanError(errors.CodeProbeFailed, "local socket resources exhausted", err)
		}
	}
	if stderrors.Is(err, syscall.ECONNREFUSED) || stderrors.Is(err, syscall.ECONNRESET) {
		return Refused, nil
	}
	return Silent, nil
}

// Dialer opens probe connections while holding a Budget slot for the life of
// each connection.
type Dialer struct {
	Budget  *Budget
	Timeout time.Duration
}

// NewDialer creates a dialer drawing from budget.
func NewDialer(budget *Budget, timeout time.Duration) *Dialer {
	return &Dialer{Budget: budget, Timeout: timeout}
}

// DialContext connects to address. The returned connection releases its
// budget slot on Close.
func (d *Dialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	release, err := d.Budget.Acquire(ctx)
	if err != nil {
		return nil, &budgetError{err: err}
	}

	dialer := net.Dialer{Timeout: d.Timeout}
	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		release()
		return nil, err
	}
	return &budgetConn{Conn: conn, release: release}, nil
}

// Reserve takes a budget slot for a probe that opens its own socket, such as
// a library client. Errors classify like dial errors.
func (d *Dialer) Reserve(ctx context.Context) (func(), error) {
	release, err := d.Budget.Acquire(ctx)
	if err != nil {
		return nil, &budgetError{err: err}
	}
	return release, nil
}

// Connect performs a bare connect probe and closes the connection.
func (d *Dialer) Connect(ctx context.Context, network, address string) (Outcome, error) {
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return Classify(ctx, err)
	}
	_ = conn.Close()
	return Accepted, nil
}

// budgetError marks a dial that never reached the network because no budget
// slot could be obtained.
type budgetError struct {
	err error
}

func (e *budgetError) Error() string { return "probe budget: " + e.err.Error() }
func (e *budgetError) Unwrap() error { return e.err }

type budgetConn struct {
	net.Conn
	once    sync.Once
	release func()
}

func (c *budgetConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(c.release)
	return err
}

// IsTimeout reports whether err is a network timeout.
func IsTimeout(err error) bool {
	var ne net.Error
	return stderrors.As(err, &ne) && ne.Timeout()
}

package probe

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/varunahq/varuna/internal/storage"
)

type TCPProber struct {
	AllowPrivate bool
}

func (p *TCPProber) Type() string { return "tcp" }

func (p *TCPProber) Probe(ctx context.Context, monitor *storage.Monitor) *Result {
	target := monitor.URL
	if _, _, err := net.SplitHostPort(target); err != nil {
		return failed(fmt.Sprintf("invalid target %q: expected host:port", target), 0)
	}

	timeout := timeoutFor(monitor)
	dialer := net.Dialer{Timeout: timeout, Control: maybeDialControl(p.AllowPrivate)}

	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", target)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		return failed(fmt.Sprintf("connection failed: %v", err), elapsed)
	}
	conn.Close()

	return &Result{
		Success:      true,
		ResponseTime: elapsed,
		Context: Context{
			KeyConnected:    true,
			KeyResponseTime: elapsed,
			KeyTimestamp:    time.Now().UTC().Format(time.RFC3339),
		},
	}
}

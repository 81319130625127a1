package probe

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/varunahq/varuna/internal/storage"
)

type WebSocketProber struct {
	AllowPrivate bool
}

func (p *WebSocketProber) Type() string { return "websocket" }

func (p *WebSocketProber) Probe(ctx context.Context, monitor *storage.Monitor) *Result {
	timeout := timeoutFor(monitor)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := &websocket.DialOptions{
		HTTPClient: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: timeout,
					Control: maybeDialControl(p.AllowPrivate),
				}).DialContext,
				DisableKeepAlives: true,
			},
			Timeout: timeout,
		},
	}

	start := time.Now()
	conn, _, err := websocket.Dial(ctx, monitor.URL, opts)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		return failed(fmt.Sprintf("websocket handshake failed: %v", err), elapsed)
	}
	defer conn.CloseNow()

	conn.Close(websocket.StatusNormalClosure, "check complete")

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

package probe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/varunahq/varuna/internal/storage"
)

// Context keys recognized by the condition evaluator.
const (
	KeyStatus         = "STATUS"
	KeyResponseTime   = "RESPONSE_TIME"
	KeyConnected      = "CONNECTED"
	KeyBody           = "BODY"
	KeyHeaders        = "HEADERS"
	KeyCertExpiration = "CERTIFICATE_EXPIRATION"
	KeyCertExpiryDays = "CERTIFICATE_EXPIRY_DAYS"
	KeyDNSRcode       = "DNS_RCODE"
	KeyError          = "ERROR"
	KeyTimestamp      = "TIMESTAMP"
)

// DefaultTimeout applies when a monitor does not set its own.
const DefaultTimeout = 30 * time.Second

// Context is the typed bag of observables produced by one probe.
// Absent keys read as null in conditions.
type Context map[string]any

// Get returns the value for key and whether it is present.
func (c Context) Get(key string) (any, bool) {
	v, ok := c[key]
	return v, ok
}

// Result holds the transport-level outcome of a single probe. Success
// means the protocol operation completed; condition evaluation is a
// separate step layered on Context.
type Result struct {
	Success      bool
	ResponseTime int64 // milliseconds
	Context      Context
	Error        string
}

// Prober performs a protocol-specific check against a monitor target.
type Prober interface {
	// Type returns the protocol type this prober handles.
	Type() string
	// Probe executes one check. Transport failures are reported in
	// the Result, not as an error.
	Probe(ctx context.Context, monitor *storage.Monitor) *Result
}

// Registry holds all registered probers by type.
type Registry struct {
	mu      sync.RWMutex
	probers map[string]Prober
}

func NewRegistry() *Registry {
	return &Registry{probers: make(map[string]Prober)}
}

func (r *Registry) Register(p Prober) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probers[p.Type()] = p
}

func (r *Registry) Get(typ string) (Prober, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.probers[typ]
	if !ok {
		return nil, fmt.Errorf("no prober registered for type: %s", typ)
	}
	return p, nil
}

// DefaultRegistry creates a registry with all built-in probers.
func DefaultRegistry(allowPrivateTargets bool) *Registry {
	r := NewRegistry()
	r.Register(&HTTPProber{AllowPrivate: allowPrivateTargets})
	r.Register(&TCPProber{AllowPrivate: allowPrivateTargets})
	r.Register(&WebSocketProber{AllowPrivate: allowPrivateTargets})
	r.Register(&DNSProber{})
	r.Register(&PingProber{AllowPrivate: allowPrivateTargets})
	return r
}

// timeoutFor returns the monitor's probe timeout.
func timeoutFor(m *storage.Monitor) time.Duration {
	if m.TimeoutSecs > 0 {
		return time.Duration(m.TimeoutSecs) * time.Second
	}
	return DefaultTimeout
}

// failed builds a failed result with the ERROR and TIMESTAMP context
// keys every probe must populate on the error path.
func failed(msg string, elapsed int64) *Result {
	return &Result{
		Success:      false,
		ResponseTime: elapsed,
		Error:        msg,
		Context: Context{
			KeyConnected:    false,
			KeyResponseTime: elapsed,
			KeyError:        msg,
			KeyTimestamp:    time.Now().UTC().Format(time.RFC3339),
		},
	}
}

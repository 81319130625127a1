package probe

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/varunahq/varuna/internal/storage"
)

const maxBodyRead = 1 << 20 // 1MB

const maxRedirects = 5

type HTTPProber struct {
	AllowPrivate bool
}

func (p *HTTPProber) Type() string { return "http" }

func (p *HTTPProber) Probe(ctx context.Context, monitor *storage.Monitor) *Result {
	timeout := timeoutFor(monitor)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, monitor.URL, nil)
	if err != nil {
		return failed(fmt.Sprintf("invalid request: %v", err), 0)
	}

	// The TLS side-channel runs concurrently with the request and is
	// bounded by its own 5 s timeout; cert keys are simply absent when
	// it fails.
	var certCh chan certInfo
	if u, err := url.Parse(monitor.URL); err == nil && u.Scheme == "https" {
		certCh = make(chan certInfo, 1)
		go fetchCertExpiry(ctx, u.Host, certCh)
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: timeout,
			Control: maybeDialControl(p.AllowPrivate),
		}).DialContext,
		DisableKeepAlives: true,
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		return failed(fmt.Sprintf("request failed: %v", err), elapsed)
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyRead))

	headers := make(map[string]string)
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	probeCtx := Context{
		KeyStatus:       resp.StatusCode,
		KeyResponseTime: elapsed,
		KeyConnected:    true,
		KeyBody:         decodeBody(resp.Header.Get("Content-Type"), bodyBytes),
		KeyHeaders:      headers,
		KeyTimestamp:    time.Now().UTC().Format(time.RFC3339),
	}

	if certCh != nil {
		if info := <-certCh; info.ok {
			probeCtx[KeyCertExpiryDays] = info.days
			probeCtx[KeyCertExpiration] = info.expiration
		}
	}

	// Any HTTP status is transport success; the condition layer
	// decides what counts as healthy.
	return &Result{
		Success:      true,
		ResponseTime: elapsed,
		Context:      probeCtx,
	}
}

func decodeBody(contentType string, body []byte) any {
	if strings.Contains(strings.ToLower(contentType), "json") {
		var decoded any
		if err := json.Unmarshal(body, &decoded); err == nil {
			return decoded
		}
	}
	return string(body)
}

type certInfo struct {
	ok         bool
	days       int
	expiration string
}

// fetchCertExpiry opens its own TLS connection with SNI and reads the
// peer certificate. Verification is disabled so expiry is observable
// even for invalid chains.
func fetchCertExpiry(ctx context.Context, host string, out chan<- certInfo) {
	defer func() {
		select {
		case out <- certInfo{}:
		default:
		}
	}()

	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "443")
	}
	sni, _, _ := net.SplitHostPort(host)

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: 5 * time.Second},
		Config: &tls.Config{
			ServerName:         sni,
			InsecureSkipVerify: true,
		},
	}
	conn, err := dialer.DialContext(dialCtx, "tcp", host)
	if err != nil {
		return
	}
	defer conn.Close()

	state := conn.(*tls.Conn).ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return
	}

	notAfter := state.PeerCertificates[0].NotAfter
	days, expiration := certExpiry(notAfter, time.Now())
	out <- certInfo{ok: true, days: days, expiration: expiration}
}

// certExpiry derives the certificate context values from the leaf's
// NotAfter. Days floor toward negative infinity, so an expired cert
// reads as overdue rather than rounding back toward zero.
func certExpiry(notAfter, now time.Time) (int, string) {
	hoursLeft := notAfter.Sub(now).Hours()
	days := int(math.Floor(hoursLeft / 24))

	if days >= 1 {
		return days, fmt.Sprintf("%dd", days)
	}
	hours := int(hoursLeft)
	if hours < 0 {
		hours = 0
	}
	return days, fmt.Sprintf("%dh", hours)
}

package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/miekg/dns"

	"github.com/varunahq/varuna/internal/storage"
)

type DNSProber struct {
	// ResolvConf overrides the resolver config path, for tests.
	ResolvConf string
	// Server overrides the resolver entirely (host:port), for tests.
	Server string
}

func (p *DNSProber) Type() string { return "dns" }

func (p *DNSProber) Probe(ctx context.Context, monitor *storage.Monitor) *Result {
	name := monitor.DNSQueryName
	if name == "" {
		name = monitor.URL
	}
	qtype, err := parseQueryType(monitor.DNSQueryType)
	if err != nil {
		return failed(err.Error(), 0)
	}

	server := p.Server
	if server == "" {
		path := p.ResolvConf
		if path == "" {
			path = "/etc/resolv.conf"
		}
		conf, err := dns.ClientConfigFromFile(path)
		if err != nil || len(conf.Servers) == 0 {
			return failed(fmt.Sprintf("no DNS resolver available: %v", err), 0)
		}
		server = conf.Servers[0] + ":" + conf.Port
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.RecursionDesired = true

	client := &dns.Client{Timeout: timeoutFor(monitor)}

	start := time.Now()
	resp, _, err := client.ExchangeContext(ctx, msg, server)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		return failed(fmt.Sprintf("DNS query failed: %v", err), elapsed)
	}

	rcode := dns.RcodeToString[resp.Rcode]
	probeCtx := Context{
		KeyConnected:    true,
		KeyResponseTime: elapsed,
		KeyDNSRcode:     rcode,
		KeyTimestamp:    time.Now().UTC().Format(time.RFC3339),
	}

	if resp.Rcode != dns.RcodeSuccess {
		probeCtx[KeyError] = fmt.Sprintf("DNS rcode %s", rcode)
		return &Result{
			Success:      false,
			ResponseTime: elapsed,
			Context:      probeCtx,
			Error:        fmt.Sprintf("DNS rcode %s", rcode),
		}
	}
	if len(resp.Answer) == 0 {
		probeCtx[KeyError] = "DNS answer is empty"
		return &Result{
			Success:      false,
			ResponseTime: elapsed,
			Context:      probeCtx,
			Error:        "DNS answer is empty",
		}
	}

	return &Result{
		Success:      true,
		ResponseTime: elapsed,
		Context:      probeCtx,
	}
}

func parseQueryType(s string) (uint16, error) {
	if s == "" {
		return dns.TypeA, nil
	}
	if t, ok := dns.StringToType[s]; ok {
		return t, nil
	}
	return 0, fmt.Errorf("unsupported DNS query type: %s", s)
}

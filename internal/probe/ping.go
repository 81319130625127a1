package probe

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/varunahq/varuna/internal/storage"
)

type PingProber struct {
	AllowPrivate bool
}

func (p *PingProber) Type() string { return "ping" }

func (p *PingProber) Probe(ctx context.Context, monitor *storage.Monitor) *Result {
	timeout := timeoutFor(monitor)
	start := time.Now()

	dst, isIPv6 := resolvePingTarget(ctx, monitor.URL)
	if dst == nil {
		return failed("DNS resolution failed: no IPv4 or IPv6 address found", time.Since(start).Milliseconds())
	}

	if !p.AllowPrivate && isPrivateIP(dst) {
		return failed(fmt.Sprintf("blocked: connections to private/reserved IP %s are not allowed", dst), 0)
	}

	conn, err := listenICMP(isIPv6)
	if err != nil {
		return failed(fmt.Sprintf("ICMP listen failed: %v", err), 0)
	}
	defer conn.Close()

	if err := sendEchoRequest(conn, dst, isIPv6); err != nil {
		return failed(fmt.Sprintf("send failed: %v", err), time.Since(start).Milliseconds())
	}

	return readEchoReply(conn, dst, start, timeout, isIPv6)
}

func resolvePingTarget(ctx context.Context, target string) (net.IP, bool) {
	if addrs, err := net.DefaultResolver.LookupIP(ctx, "ip4", target); err == nil && len(addrs) > 0 {
		return addrs[0], false
	}
	if addrs, err := net.DefaultResolver.LookupIP(ctx, "ip6", target); err == nil && len(addrs) > 0 {
		return addrs[0], true
	}
	return nil, false
}

// listenICMP tries a raw socket first, then the unprivileged datagram
// fallback for hosts where raw ICMP needs root.
func listenICMP(isIPv6 bool) (*icmp.PacketConn, error) {
	if isIPv6 {
		conn, err := icmp.ListenPacket("ip6:ipv6-icmp", "::")
		if err != nil {
			conn, err = icmp.ListenPacket("udp6", "::")
		}
		return conn, err
	}
	conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		conn, err = icmp.ListenPacket("udp4", "0.0.0.0")
	}
	return conn, err
}

func sendEchoRequest(conn *icmp.PacketConn, dst net.IP, isIPv6 bool) error {
	var msgType icmp.Type
	if isIPv6 {
		msgType = ipv6.ICMPTypeEchoRequest
	} else {
		msgType = ipv4.ICMPTypeEcho
	}

	msg := icmp.Message{
		Type: msgType,
		Code: 0,
		Body: &icmp.Echo{
			ID:   os.Getpid() & 0xffff,
			Seq:  1,
			Data: []byte("varuna-ping"),
		},
	}
	wb, err := msg.Marshal(nil)
	if err != nil {
		return err
	}

	var dstAddr net.Addr
	switch conn.LocalAddr().Network() {
	case "udp4", "udp6":
		dstAddr = &net.UDPAddr{IP: dst}
	default:
		dstAddr = &net.IPAddr{IP: dst}
	}
	_, err = conn.WriteTo(wb, dstAddr)
	return err
}

func readEchoReply(conn *icmp.PacketConn, dst net.IP, start time.Time, timeout time.Duration, isIPv6 bool) *Result {
	conn.SetReadDeadline(time.Now().Add(timeout))
	rb := make([]byte, 1500)
	n, _, err := conn.ReadFrom(rb)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		return failed(fmt.Sprintf("ping timeout: %v", err), elapsed)
	}

	var proto int
	switch conn.LocalAddr().Network() {
	case "udp4":
		proto = 1
	case "udp6":
		proto = 58
	default:
		if isIPv6 {
			proto = 58
		} else {
			proto = 1
		}
	}

	rm, err := icmp.ParseMessage(proto, rb[:n])
	if err != nil {
		return failed(fmt.Sprintf("parse reply failed: %v", err), elapsed)
	}

	if rm.Type == ipv4.ICMPTypeEchoReply || rm.Type == ipv6.ICMPTypeEchoReply {
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

	return failed(fmt.Sprintf("unexpected ICMP type: %v (from %s)", rm.Type, dst), elapsed)
}

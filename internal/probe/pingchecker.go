package probe

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/hamed0406/sitewatch/internal/domain"
)

const (
	protocolICMP     = 1
	protocolIPv6ICMP = 58
)

// PingChecker sends one ICMP echo request and waits for the matching reply.
// Unprivileged mode uses datagram ICMP sockets (Linux ping_group_range,
// macOS); privileged mode needs raw socket capability.
type PingChecker struct {
	Privileged bool
	Resolver   *net.Resolver
	Payload    []byte

	seq atomic.Uint32
}

func NewPingChecker(privileged bool) *PingChecker {
	return &PingChecker{
		Privileged: privileged,
		Resolver:   net.DefaultResolver,
		Payload:    []byte("sitewatch-ping"),
	}
}

func (c *PingChecker) Check(ctx context.Context, m domain.Monitor) domain.CheckResult {
	if m.Ping == nil || m.Ping.Host == "" {
		return fail("malformed target: host required", 0)
	}
	start := time.Now()

	ip, err := c.resolve(ctx, m.Ping.Host)
	if err != nil {
		return fail(classify(err), since(start))
	}

	v4 := ip.To4() != nil
	network, listen, proto := c.socket(v4)
	conn, err := icmp.ListenPacket(network, listen)
	if err != nil {
		return fail(classify(err), since(start))
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	id := os.Getpid() & 0xffff
	seq := int(c.seq.Add(1) & 0xffff)
	var typ icmp.Type = ipv4.ICMPTypeEcho
	if !v4 {
		typ = ipv6.ICMPTypeEchoRequest
	}
	msg := icmp.Message{Type: typ, Body: &icmp.Echo{ID: id, Seq: seq, Data: c.Payload}}
	wb, err := msg.Marshal(nil)
	if err != nil {
		return fail("internal fault: "+err.Error(), since(start))
	}

	var dst net.Addr = &net.IPAddr{IP: ip}
	if !c.Privileged {
		dst = &net.UDPAddr{IP: ip}
	}
	if _, err := conn.WriteTo(wb, dst); err != nil {
		return fail(classify(err), since(start))
	}

	rb := make([]byte, 1500)
	for {
		n, _, err := conn.ReadFrom(rb)
		if err != nil {
			if ctx.Err() != nil {
				return fail(DetailTimeout, since(start))
			}
			return fail(classify(err), since(start))
		}
		rm, err := icmp.ParseMessage(proto, rb[:n])
		if err != nil {
			continue
		}
		echo, ok := rm.Body.(*icmp.Echo)
		if !ok || echo.Seq != seq {
			continue
		}
		// datagram sockets rewrite the identifier, so only raw sockets check it
		if c.Privileged && echo.ID != id {
			continue
		}
		switch rm.Type {
		case ipv4.ICMPTypeEchoReply, ipv6.ICMPTypeEchoReply:
			latency := since(start)
			return domain.CheckResult{OK: true, LatencyMS: latency, Detail: fmt.Sprintf("reply from %s", ip)}
		}
	}
}

func (c *PingChecker) resolve(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}
	r := c.Resolver
	if r == nil {
		r = net.DefaultResolver
	}
	addrs, err := r.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	for _, a := range addrs {
		if a.IP.To4() != nil {
			return a.IP, nil
		}
	}
	if len(addrs) == 0 {
		return nil, &net.DNSError{Err: "no addresses", Name: host, IsNotFound: true}
	}
	return addrs[0].IP, nil
}

func (c *PingChecker) socket(v4 bool) (network, listen string, proto int) {
	switch {
	case v4 && c.Privileged:
		return "ip4:icmp", "0.0.0.0", protocolICMP
	case v4:
		return "udp4", "0.0.0.0", protocolICMP
	case c.Privileged:
		return "ip6:ipv6-icmp", "::", protocolIPv6ICMP
	default:
		return "udp6", "::", protocolIPv6ICMP
	}
}

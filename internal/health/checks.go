package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"

	apperrors "github.com/vpnshift/vpnshift/internal/errors"
)

const (
	// dnsCheckTimeout bounds one resolution probe. Shorter than the check
	// interval so ticks never overlap.
	dnsCheckTimeout = 3 * time.Second

	// tcpCheckTimeout bounds one reachability probe.
	tcpCheckTimeout = 3 * time.Second

	defaultDNSPort = "53"
)

// CheckDNS resolves domain through resolver over plain UDP and reports
// whether a usable answer came back. A timed-out exchange is classified as
// HEALTH_CHECK_TIMEOUT so the monitor counts it instead of escalating.
func CheckDNS(ctx context.Context, resolver, domain string) error {
	addr := resolver
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(resolver, defaultDNSPort)
	}

	client := &dns.Client{
		Net:     "udp",
		Timeout: dnsCheckTimeout,
	}
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(domain), dns.TypeA)

	resp, _, err := client.ExchangeContext(ctx, msg, addr)
	if err != nil {
		if isTimeout(err) {
			return apperrors.NewHealthTimeoutError(
				fmt.Sprintf("DNS check for %s via %s timed out", domain, addr), err)
		}
		return apperrors.NewDNSError(
			fmt.Sprintf("DNS check for %s via %s failed", domain, addr), err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return apperrors.NewDNSError(
			fmt.Sprintf("DNS check for %s via %s answered %s", domain, addr, dns.RcodeToString[resp.Rcode]), nil)
	}
	return nil
}

// CheckTCP dials address and reports whether the connection was accepted.
func CheckTCP(ctx context.Context, address string) error {
	dialer := net.Dialer{Timeout: tcpCheckTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		if isTimeout(err) {
			return apperrors.NewHealthTimeoutError(
				fmt.Sprintf("reachability check for %s timed out", address), err)
		}
		return apperrors.NewNetworkError(
			fmt.Sprintf("reachability check for %s failed", address), err)
	}
	conn.Close()
	return nil
}

// isTimeout distinguishes a deadline hit from a hard network failure.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"testing"

	"github.com/miekg/dns"

	apperrors "github.com/vpnshift/vpnshift/internal/errors"
)

// startStubResolver runs a local DNS server that answers every A query with
// the given response code.
func startStubResolver(t *testing.T, rcode int) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	server := &dns.Server{
		PacketConn: pc,
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
			m := new(dns.Msg)
			m.SetReply(r)
			m.Rcode = rcode
			if rcode == dns.RcodeSuccess {
				rr, _ := dns.NewRR(fmt.Sprintf("%s 60 IN A 93.184.216.34", r.Question[0].Name))
				m.Answer = append(m.Answer, rr)
			}
			w.WriteMsg(m)
		}),
	}
	go server.ActivateAndServe()
	t.Cleanup(func() { server.Shutdown() })

	return pc.LocalAddr().String()
}

func TestCheckDNS_Success(t *testing.T) {
	addr := startStubResolver(t, dns.RcodeSuccess)
	if err := CheckDNS(context.Background(), addr, "connectivity-check.vpnshift.io"); err != nil {
		t.Errorf("CheckDNS = %v, want nil", err)
	}
}

func TestCheckDNS_ServerFailure(t *testing.T) {
	addr := startStubResolver(t, dns.RcodeServerFailure)

	err := CheckDNS(context.Background(), addr, "connectivity-check.vpnshift.io")
	if err == nil {
		t.Fatal("CheckDNS succeeded against a SERVFAIL resolver")
	}
	if code := apperrors.CodeOf(err); code != apperrors.ErrCodeDNS {
		t.Errorf("error code = %s, want %s", code, apperrors.ErrCodeDNS)
	}
}

func TestCheckTCP_Success(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer listener.Close()

	if err := CheckTCP(context.Background(), listener.Addr().String()); err != nil {
		t.Errorf("CheckTCP = %v, want nil", err)
	}
}

func TestCheckTCP_Refused(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := listener.Addr().String()
	listener.Close()

	err = CheckTCP(context.Background(), addr)
	if err == nil {
		t.Fatal("CheckTCP succeeded against a closed port")
	}
	if code := apperrors.CodeOf(err); code != apperrors.ErrCodeNetwork {
		t.Errorf("error code = %s, want %s", code, apperrors.ErrCodeNetwork)
	}
}

func TestIsTimeout(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"context deadline", context.DeadlineExceeded, true},
		{"io deadline", os.ErrDeadlineExceeded, true},
		{"wrapped io deadline", fmt.Errorf("exchange: %w", os.ErrDeadlineExceeded), true},
		{"plain failure", errors.New("connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isTimeout(tt.err); got != tt.want {
				t.Errorf("isTimeout(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

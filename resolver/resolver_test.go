package resolver

import (
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testDNSServer answers every SRV query with the given records.
func testDNSServer(t *testing.T, records []dns.SRV) string {
	t.Helper()

	mux := dns.NewServeMux()
	mux.HandleFunc(".", func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		for i := range records {
			rec := records[i]
			rec.Hdr = dns.RR_Header{
				Name:   r.Question[0].Name,
				Rrtype: dns.TypeSRV,
				Class:  dns.ClassINET,
				Ttl:    60,
			}
			m.Answer = append(m.Answer, &rec)
		}
		_ = w.WriteMsg(m)
	})

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &dns.Server{PacketConn: pc, Handler: mux}

	go func() { _ = srv.ActivateAndServe() }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	return pc.LocalAddr().String()
}

func TestResolveGatewayOrdersByPriority(t *testing.T) {
	addr := testDNSServer(t, []dns.SRV{
		{Priority: 20, Port: 8443, Target: "backup.example.com."},
		{Priority: 10, Port: 443, Target: "primary.example.com."},
	})

	gateways, err := New(addr).ResolveGateway("functions.example.com")
	require.NoError(t, err)
	require.Len(t, gateways, 2)

	assert.Equal(t, "primary.example.com", gateways[0].Host)
	assert.EqualValues(t, 443, gateways[0].Port)
	assert.Equal(t, "wss://primary.example.com:443", gateways[0].URL())
	assert.Equal(t, "backup.example.com", gateways[1].Host)
}

func TestResolveGatewayNoRecords(t *testing.T) {
	addr := testDNSServer(t, nil)

	_, err := New(addr).ResolveGateway("functions.example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no gateway SRV records")
}

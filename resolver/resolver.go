package resolver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/miekg/dns"
)

// srvService is the SRV owner-name prefix gateways are published under.
const srvService = "_enclave._tcp."

// defaultDNSServer is the local stub resolver.
const defaultDNSServer = "127.0.0.53:53"

// Gateway is one resolved gateway endpoint.
type Gateway struct {
	Host     string
	Port     uint16
	Priority uint16
}

// URL renders the endpoint as a wss base URL for the transport.
func (g Gateway) URL() string {
	return fmt.Sprintf("wss://%s:%d", g.Host, g.Port)
}

// Resolver answers gateway lookups against a DNS server.
type Resolver struct {
	server string
	client *dns.Client
}

// New creates a resolver. An empty server uses the local stub resolver.
func New(server string) *Resolver {
	if server == "" {
		server = defaultDNSServer
	}
	return &Resolver{server: server, client: new(dns.Client)}
}

// ResolveGateway looks up the SRV records for a deployment domain and
// returns the published gateways ordered by SRV priority.
func (r *Resolver) ResolveGateway(domain string) ([]Gateway, error) {
	name := dns.Fqdn(srvService + domain)

	m := new(dns.Msg)
	m.Id = dns.Id()
	m.RecursionDesired = true
	m.Question = []dns.Question{{Name: name, Qtype: dns.TypeSRV, Qclass: dns.ClassINET}}

	in, _, err := r.client.Exchange(m, r.server)
	if err != nil {
		return nil, fmt.Errorf("gateway SRV lookup for %s failed: %w", domain, err)
	}

	gateways := make([]Gateway, 0, len(in.Answer))
	for _, answer := range in.Answer {
		if srv, ok := answer.(*dns.SRV); ok {
			gateways = append(gateways, Gateway{
				Host:     strings.TrimSuffix(srv.Target, "."),
				Port:     srv.Port,
				Priority: srv.Priority,
			})
		}
	}
	if len(gateways) == 0 {
		return nil, fmt.Errorf("no gateway SRV records published for %s", domain)
	}

	sort.SliceStable(gateways, func(i, j int) bool {
		return gateways[i].Priority < gateways[j].Priority
	})
	return gateways, nil
}

// Package resolver discovers enclave gateway endpoints through DNS SRV
// records.
//
// Deployments that front enclaves with multiple gateways publish them under
// _enclave._tcp.<domain>; ResolveGateway queries those records and returns
// the gateway endpoints in SRV priority order. A plain host or URL passed to
// the client bypasses resolution entirely.
package resolver

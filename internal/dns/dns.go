// Package dns resolves the relay host, falling back to public resolvers when
// the system resolver fails.
package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
)

// publicDNS are queried when the system lookup fails.
var publicDNS = []string{
	"1.1.1.1",              // Cloudflare
	"1.0.0.1",              // Cloudflare
	"2606:4700:4700::1111", // Cloudflare
	"8.8.8.8",              // Google
	"8.8.4.4",              // Google
	"2001:4860:4860::8888", // Google
	"9.9.9.9",              // Quad9
	"149.112.112.112",      // Quad9
	"208.67.222.222",       // Cisco OpenDNS
	"208.67.220.220",       // Cisco OpenDNS
}

var ErrNoAddress = errors.New("no address found")

// Resolver looks up host addresses.
type Resolver struct {
	// Servers are the fallback resolvers, as host or host:port.
	Servers      []string
	LocalTimeout time.Duration
	RaceTimeout  time.Duration
	// SkipLocal disables the system resolver.
	SkipLocal bool
}

// Default uses the system resolver, then the public resolvers.
var Default = &Resolver{
	Servers:      publicDNS,
	LocalTimeout: time.Second,
	RaceTimeout:  2 * time.Second,
}

// Lookup resolves address with the default resolver.
func Lookup(address string) (string, error) {
	return Default.Lookup(context.Background(), address)
}

// Lookup resolves address to one IP, preferring IPv4. Literal IPs are
// returned as is.
func (r *Resolver) Lookup(ctx context.Context, address string) (string, error) {
	if ip := net.ParseIP(address); ip != nil {
		return address, nil
	}

	if !r.SkipLocal {
		ip, err := r.localLookup(ctx, address)
		if err == nil {
			return ip, nil
		}
	}
	return r.race(ctx, address)
}

func (r *Resolver) localLookup(ctx context.Context, address string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.LocalTimeout)
	defer cancel()

	var resolver net.Resolver
	ips, err := resolver.LookupHost(ctx, address)
	if err != nil {
		return "", err
	}
	return preferIPv4(ips)
}

// race queries every fallback server at once and returns the first answer.
func (r *Resolver) race(ctx context.Context, address string) (string, error) {
	if len(r.Servers) == 0 {
		return "", fmt.Errorf("resolve %s: %w", address, ErrNoAddress)
	}

	type result struct {
		ip  string
		err error
	}

	ctx, cancel := context.WithTimeout(ctx, r.RaceTimeout)
	defer cancel()

	results := make(chan result, len(r.Servers))
	for _, server := range r.Servers {
		go func() {
			ip, err := Query(ctx, server, address)
			results <- result{ip: ip, err: err}
		}()
	}

	var errs []error
	for range r.Servers {
		select {
		case res := <-results:
			if res.err == nil {
				return res.ip, nil
			}
			errs = append(errs, res.err)
		case <-ctx.Done():
			return "", fmt.Errorf("resolve %s: public DNS race: %w", address, ctx.Err())
		}
	}
	return "", fmt.Errorf("resolve %s: all %d servers failed: %w", address, len(errs), errors.Join(errs...))
}

// Query asks one server for the A records of host, then AAAA if there are
// none.
func Query(ctx context.Context, server, host string) (string, error) {
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	client := &dns.Client{Net: "udp"}

	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(host), qtype)
		msg.RecursionDesired = true

		resp, _, err := client.ExchangeContext(ctx, msg, server)
		if err != nil {
			return "", err
		}
		if resp.Rcode != dns.RcodeSuccess {
			return "", fmt.Errorf("%s: %s", server, dns.RcodeToString[resp.Rcode])
		}
		for _, rr := range resp.Answer {
			switch rr := rr.(type) {
			case *dns.A:
				return rr.A.String(), nil
			case *dns.AAAA:
				return rr.AAAA.String(), nil
			}
		}
	}
	return "", fmt.Errorf("%s: %s: %w", server, host, ErrNoAddress)
}

func preferIPv4(ips []string) (string, error) {
	if len(ips) == 0 {
		return "", ErrNoAddress
	}
	for _, ip := range ips {
		if parsed := net.ParseIP(ip); parsed != nil && parsed.To4() != nil {
			return ip, nil
		}
	}
	return ips[0], nil
}

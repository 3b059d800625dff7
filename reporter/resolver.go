package reporter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
)

// Resolver discovers the addresses that should be reported.
type Resolver interface {
	Resolve(context.Context) ([]netip.Addr, error)
}

// ResolverFunc adapts an ordinary function to a Resolver.
type ResolverFunc func(context.Context) ([]netip.Addr, error)

func (f ResolverFunc) Resolve(ctx context.Context) ([]netip.Addr, error) { return f(ctx) }

// FromString constructs a resolver that always returns the given addresses.
// Parse errors are reported by Resolve.
func FromString(addr ...string) Resolver {
	return stringResolver(addr)
}

type stringResolver []string

func (s stringResolver) Resolve(context.Context) ([]netip.Addr, error) {
	var addrs []netip.Addr
	for _, a := range s {
		addr, err := netip.ParseAddr(a)
		if err != nil {
			return nil, fmt.Errorf("unable to parse IP: %w", err)
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

// InterfaceResolver constructs a resolver that returns the IP addresses reported by the given interfaces.
// If no interfaces are provided then all interfaces will be used.
// Loopback and link-local addresses are always skipped.
func InterfaceResolver(iface ...string) Resolver {
	return interfaceResolver{ifaces: iface}
}

type interfaceResolver struct {
	ifaces []string
}

func (r interfaceResolver) Resolve(ctx context.Context) ([]netip.Addr, error) {
	if len(r.ifaces) == 0 {
		adds, err := net.InterfaceAddrs()
		if err != nil {
			return nil, fmt.Errorf("error getting interface addresses: %w", err)
		}
		return usableAddrs(adds, "")
	}

	var addrs []netip.Addr
	var errs []error
	for _, name := range r.ifaces {
		iface, err := net.InterfaceByName(name)
		if err != nil {
			errs = append(errs, fmt.Errorf("error getting interface %s by name: %w", name, err))
			continue
		}
		adds, err := iface.Addrs()
		if err != nil {
			errs = append(errs, fmt.Errorf("error looking up addresses for interface %s: %w", name, err))
			continue
		}
		a, err := usableAddrs(adds, name)
		addrs = append(addrs, a...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return addrs, errors.Join(errs...)
}

// usableAddrs parses interface addresses, which look like
// ip+net:192.168.86.253/24 or ip+net:fe80::2cc9:801b:3551:9a43/64.
func usableAddrs(adds []net.Addr, iface string) (addrs []netip.Addr, err error) {
	var parseErrors []error
	for _, addr := range adds {
		prefix, err := netip.ParsePrefix(addr.String())
		if err != nil {
			parseErrors = append(parseErrors, fmt.Errorf("error parsing local ip %s %s: %s", addr.String(), iface, err))
			continue
		}
		a := prefix.Addr()
		if a.IsLoopback() || a.IsLinkLocalUnicast() {
			continue
		}
		addrs = append(addrs, a)
	}
	return addrs, errors.Join(parseErrors...)
}

// Join returns a resolver that runs every resolver concurrently and concatenates their addresses.
// It fails only if all of them fail.
func Join(resolvers ...Resolver) Resolver {
	return ResolverFunc(func(ctx context.Context) ([]netip.Addr, error) {
		results := make([][]netip.Addr, len(resolvers))
		errs := make([]error, len(resolvers))

		var wg sync.WaitGroup
		for i, r := range resolvers {
			wg.Add(1)
			go func(i int, r Resolver) {
				defer wg.Done()
				results[i], errs[i] = r.Resolve(ctx)
			}(i, r)
		}
		wg.Wait()

		var addrs []netip.Addr
		failed := 0
		for i := range resolvers {
			if errs[i] != nil {
				failed++
			}
			addrs = append(addrs, results[i]...)
		}
		if len(resolvers) > 0 && failed == len(resolvers) {
			return nil, errors.Join(errs...)
		}
		return addrs, nil
	})
}

package reporter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
)

// WebResolver constructs a resolver which uses external web services to look up a "public" IP address.
//
// Each serviceURL must speak http and return status "200 OK",
// with a valid IPv4 or IPv6 address as the first line of the response body.
// All other responses are considered an error.
//
// If only one serviceURL is given,
// then the resolver will simply return the response.
// If more are given,
// then the resolver will request from up to three of them and only return successfully if two responses agreed on the IP.
// This approach is taken due to the sensitive nature of having control over DNS records.
//
// To report both IPv4 and IPv6 addresses,
// use services that answer over one family each, e.g. https://ipv4.icanhazip.com/ and https://ipv6.icanhazip.com/,
// in two web resolvers combined with Join.
func WebResolver(serviceURL ...string) Resolver {
	return &webResolver{serviceURLs: serviceURL}
}

type webResolver struct {
	httpClient  *http.Client
	serviceURLs []string
}

func (wr *webResolver) SetHTTPClient(hc *http.Client) { wr.httpClient = hc }

// Resolve implements reporter.Resolver.
func (wr *webResolver) Resolve(ctx context.Context) ([]netip.Addr, error) {
	if len(wr.serviceURLs) == 0 {
		return nil, errors.New("no external IP lookup services were provided")
	}
	if len(wr.serviceURLs) == 1 {
		addr, err := wr.lookup(ctx, wr.serviceURLs[0])
		if err != nil {
			return nil, err
		}
		return []netip.Addr{addr}, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		addr netip.Addr
		err  error
	}

	useCount := min(len(wr.serviceURLs), 3)
	results := make(chan result, useCount)
	for _, u := range wr.serviceURLs[:useCount] {
		go func(u string) {
			var r result
			r.addr, r.err = wr.lookup(ctx, u)
			results <- r
		}(u)
	}

	seen := map[netip.Addr]bool{}
	var errs []error
	for i := 0; i < useCount; i++ {
		r := <-results
		if r.err != nil {
			errs = append(errs, r.err)
			continue
		}
		if seen[r.addr] {
			return []netip.Addr{r.addr}, nil
		}
		seen[r.addr] = true
	}
	if useCount-len(errs) < 2 {
		return nil, fmt.Errorf("not enough resolvers responded without errors: %w", errors.Join(errs...))
	}
	return nil, errors.New("IP resolvers did not agree on our IP")
}

func (wr *webResolver) lookup(ctx context.Context, url string) (netip.Addr, error) {
	// bounds the lookup even when the caller passed context.Background and a client without a timeout
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	httpclient := wr.httpClient
	if httpclient == nil {
		httpclient = cleanhttp.DefaultClient()
	}

	resp, err := httpclient.Do(req)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return netip.Addr{}, fmt.Errorf("http request returned %s", resp.Status)
	}

	ipstring, _ := bufio.NewReader(resp.Body).ReadString('\n')
	ip, err := netip.ParseAddr(strings.TrimSpace(ipstring))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error parsing IP address from response body: %w", err)
	}
	return ip, nil
}

package reporter_test

import (
	"context"
	"log"
	"net/netip"
	"os"
	"time"

	"github.com/Travis-Britz/ddnsrelay/reporter"
)

func ExampleNew() {
	c, err := reporter.New("https://relay.example.com/", os.Getenv("API_SECRET"), "home",
		reporter.UsingResolver(reporter.InterfaceResolver("eth0")),
		reporter.WithZone("example.com"),
		reporter.WithNodeName("router"),
	)
	if err != nil {
		log.Fatalf("error creating reporter: %s", err)
	}
	// run once:
	if _, err := c.Report(context.Background()); err != nil {
		log.Fatalf("report failed: %s", err)
	}
}

func ExampleWebResolver() {
	// I'm not vouching for these services, but they do return the IP of the client connection.
	// If possible, run your own and provide the URL here instead.
	r := reporter.WebResolver(
		"https://checkip.amazonaws.com/",
		"https://icanhazip.com/", // operated by Cloudflare since ~2021
		"https://ipinfo.io/ip",
	)
	c, err := reporter.New("https://relay.example.com/", os.Getenv("API_SECRET"), "home",
		reporter.UsingResolver(r),
		reporter.WithRecordTypes("A"),
	)
	if err != nil {
		log.Fatalf("error creating reporter: %s", err)
	}
	if _, err := c.Report(context.Background()); err != nil {
		log.Fatalf("report failed: %s", err)
	}
}

func ExampleClient_RunDaemon() {
	c, err := reporter.New("https://relay.example.com/", os.Getenv("API_SECRET"), "@")
	if err != nil {
		log.Fatalf("error creating reporter: %s", err)
	}

	// run every 5 minutes and stop after an hour:
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Hour)
	defer cancel()
	c.RunDaemon(ctx, 5*time.Minute, log.Default())
	<-ctx.Done()
}

func ExampleJoin() {
	r := reporter.Join(
		reporter.WebResolver("https://ipv4.icanhazip.com/"),
		reporter.WebResolver("https://ipv6.icanhazip.com/"),
	)
	c, err := reporter.New("https://relay.example.com/", os.Getenv("API_SECRET"), "home",
		reporter.UsingResolver(r),
	)
	if err != nil {
		log.Fatalf("error creating reporter: %s", err)
	}
	if _, err := c.Report(context.Background()); err != nil {
		log.Fatalf("report failed: %s", err)
	}
}

func ExampleResolverFunc() {
	fn := func(ctx context.Context) ([]netip.Addr, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond): // simulating some lookup method
			ip, err := netip.ParseAddr("10.0.0.10")
			return []netip.Addr{ip}, err
		}
	}
	c, err := reporter.New("https://relay.example.com/", os.Getenv("API_SECRET"), "home",
		reporter.UsingResolver(reporter.ResolverFunc(fn)),
	)
	if err != nil {
		log.Fatalf("error creating reporter: %s", err)
	}
	if _, err := c.Report(context.Background()); err != nil {
		log.Fatalf("report failed: %s", err)
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Travis-Britz/ddnsrelay/internal/config"
	"github.com/Travis-Britz/ddnsrelay/reporter"
	"github.com/sirupsen/logrus"
)

var flags = struct {
	Relay      string
	SecretFile string
	Prefix     string
	Zone       string
	Node       string
	TTL        int
	Types      string
	IP         string
	Interfaces string
	WebURLs    string
	Interval   time.Duration
	Once       bool
	Verbose    bool
}{
	Types:    "A,AAAA",
	Interval: 5 * time.Minute,
}

var logger = logrus.New()

func init() {
	flag.StringVar(&flags.Relay, "relay", flags.Relay, "URL of the relay's update endpoint")
	flag.StringVar(&flags.SecretFile, "k", flags.SecretFile, "Path to a file holding the relay's bearer secret (API_SECRET is used when empty)")
	flag.StringVar(&flags.Prefix, "prefix", flags.Prefix, "Host label to update, or @ for the zone apex")
	flag.StringVar(&flags.Zone, "zone", flags.Zone, "Zone name; the relay's default zone is used when empty")
	flag.StringVar(&flags.Node, "node", flags.Node, "Node name shown in notifications")
	flag.IntVar(&flags.TTL, "ttl", flags.TTL, "Record TTL; 0 leaves it to the relay")
	flag.StringVar(&flags.Types, "types", flags.Types, "Comma separated record types to report")
	flag.StringVar(&flags.IP, "ip", flags.IP, "Comma separated static addresses to report instead of discovering them")
	flag.StringVar(&flags.Interfaces, "i", flags.Interfaces, "Comma separated interfaces to read addresses from")
	flag.StringVar(&flags.WebURLs, "web", flags.WebURLs, "Comma separated IP lookup services; two of them must agree")
	flag.DurationVar(&flags.Interval, "interval", flags.Interval, "Duration to wait between reports")
	flag.BoolVar(&flags.Once, "once", flags.Once, "Report once and exit")
	flag.BoolVar(&flags.Verbose, "v", flags.Verbose, "Enable verbose logging")
}

func main() {
	flag.Parse()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if flags.Verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	if err := run(); err != nil {
		logger.Fatal(err)
	}
}

func run() error {
	if flags.Relay == "" {
		return errors.New("-relay cannot be empty")
	}
	secret, err := readSecret()
	if err != nil {
		return err
	}

	client, err := reporter.New(flags.Relay, secret, flags.Prefix,
		reporter.UsingResolver(resolver()),
		reporter.WithZone(flags.Zone),
		reporter.WithNodeName(flags.Node),
		reporter.WithTTL(flags.TTL),
		reporter.WithRecordTypes(split(flags.Types)...),
		reporter.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("error creating reporter: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flags.Once {
		responses, err := client.Report(ctx)
		for _, r := range responses {
			logger.Infof("%s %s -> %s (notification %s)", r.Action, r.Record.Name, r.Record.Content, r.Notification)
		}
		return err
	}

	client.RunDaemon(ctx, flags.Interval, logger)
	<-ctx.Done()
	return nil
}

func readSecret() (string, error) {
	if flags.SecretFile != "" {
		secret, err := config.ReadSecretFile(flags.SecretFile)
		if err != nil {
			return "", fmt.Errorf("error reading secret: %w", err)
		}
		return secret, nil
	}
	if secret := os.Getenv("API_SECRET"); secret != "" {
		return secret, nil
	}
	return "", errors.New("no secret: use -k or set API_SECRET")
}

func resolver() reporter.Resolver {
	switch {
	case flags.IP != "":
		return reporter.FromString(split(flags.IP)...)
	case flags.WebURLs != "":
		return reporter.WebResolver(split(flags.WebURLs)...)
	default:
		return reporter.InterfaceResolver(split(flags.Interfaces)...)
	}
}

func split(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

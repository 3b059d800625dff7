// Package reporter is the client side of a ddnsrelay:
// it discovers the host's current addresses and reports them to the relay.
package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/Travis-Britz/ddnsrelay"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/sirupsen/logrus"
)

var discard = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

// New returns a client that reports addresses for prefix to the relay at endpoint.
// By default the addresses come from InterfaceResolver() and both record types are reported.
func New(endpoint, secret, prefix string, options ...clientOption) (*Client, error) {
	if endpoint == "" {
		return nil, errors.New("reporter.New: endpoint cannot be empty")
	}
	if secret == "" {
		return nil, errors.New("reporter.New: secret cannot be empty")
	}
	if prefix == "" {
		return nil, errors.New("reporter.New: prefix cannot be empty")
	}
	c := &Client{
		endpoint: endpoint,
		secret:   secret,
		prefix:   prefix,
		types:    []string{ddnsrelay.RecordTypeA, ddnsrelay.RecordTypeAAAA},
		resolver: InterfaceResolver(),
		logger:   discard,
		last:     map[string]netip.Addr{},
	}
	for i, opt := range options {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("reporter.New: option %d returned an error: %s", i, err)
		}
	}
	if c.httpClient == nil {
		c.httpClient = cleanhttp.DefaultClient()
		c.httpClient.Timeout = 30 * time.Second
	}
	return c, nil
}

type clientOption func(*Client) error

func UsingResolver(resolver Resolver) clientOption {
	return func(c *Client) error {
		if resolver == nil {
			return errors.New("resolver cannot be nil")
		}
		c.resolver = resolver
		return nil
	}
}

// WithZone names the zone in each report. Without it the relay's configured zone applies.
func WithZone(zone string) clientOption {
	return func(c *Client) error {
		c.zone = zone
		return nil
	}
}

func WithNodeName(name string) clientOption {
	return func(c *Client) error {
		c.node = name
		return nil
	}
}

func WithTTL(ttl int) clientOption {
	return func(c *Client) error {
		if ttl != 0 && !ddnsrelay.ValidTTL(ttl) {
			return fmt.Errorf("invalid ttl %d", ttl)
		}
		c.ttl = ttl
		return nil
	}
}

// WithRecordTypes limits the reported families, e.g. WithRecordTypes("A") for IPv4 only.
func WithRecordTypes(types ...string) clientOption {
	return func(c *Client) error {
		c.types = nil
		for _, t := range types {
			t = strings.ToUpper(t)
			if t != ddnsrelay.RecordTypeA && t != ddnsrelay.RecordTypeAAAA {
				return fmt.Errorf("unsupported record type %q", t)
			}
			c.types = append(c.types, t)
		}
		return nil
	}
}

func UsingHTTPClient(httpclient *http.Client) clientOption {
	return func(c *Client) error {
		c.httpClient = httpclient
		type setHTTPClient interface {
			SetHTTPClient(*http.Client)
		}
		if r, ok := c.resolver.(setHTTPClient); ok {
			r.SetHTTPClient(httpclient)
		}
		return nil
	}
}

func WithLogger(logger logrus.FieldLogger) clientOption {
	return func(c *Client) error {
		if logger == nil {
			logger = discard
		}
		c.logger = logger
		return nil
	}
}

// Client reports addresses to a relay. Report is not safe for concurrent use.
type Client struct {
	endpoint   string
	secret     string
	prefix     string
	zone       string
	node       string
	ttl        int
	types      []string
	resolver   Resolver
	httpClient *http.Client
	logger     logrus.FieldLogger

	// last successfully reported address per record type
	last map[string]netip.Addr
}

// Report resolves the current addresses and sends one update per record type whose address changed
// since the last successful report. It returns the relay's responses for the updates it sent.
func (c *Client) Report(ctx context.Context) ([]ddnsrelay.Response, error) {
	addrs, err := c.resolver.Resolve(ctx)
	if err != nil && len(addrs) == 0 {
		return nil, fmt.Errorf("error getting IPs: %w", err)
	}
	if err != nil {
		c.logger.WithError(err).Warn("some addresses could not be resolved")
	}
	c.logger.Debugf("got IPs: %+v", addrs)

	var responses []ddnsrelay.Response
	var errs []error
	for _, rtype := range c.types {
		addr, ok := firstOfType(addrs, rtype)
		if !ok {
			c.logger.WithField("type", rtype).Debug("no address of this type")
			continue
		}
		if c.last[rtype] == addr {
			c.logger.WithField("ip", addr).Debug("address unchanged since last report")
			continue
		}
		req := ddnsrelay.UpdateRequest{
			Prefix:   c.prefix,
			IP:       addr.String(),
			Type:     rtype,
			ZoneName: c.zone,
			NodeName: c.node,
		}
		if c.ttl != 0 {
			req.TTL = &c.ttl
		}
		resp, err := c.send(ctx, req)
		if err != nil {
			errs = append(errs, fmt.Errorf("error reporting %s record %s: %w", rtype, addr, err))
			continue
		}
		c.last[rtype] = addr
		c.logger.WithFields(logrus.Fields{"type": rtype, "ip": addr, "action": resp.Action}).Info("address reported")
		responses = append(responses, *resp)
	}
	return responses, errors.Join(errs...)
}

func firstOfType(addrs []netip.Addr, rtype string) (netip.Addr, bool) {
	for _, a := range addrs {
		if a = a.Unmap(); ddnsrelay.RecordType(a) == rtype {
			return a, true
		}
	}
	return netip.Addr{}, false
}

func (c *Client) send(ctx context.Context, update ddnsrelay.UpdateRequest) (*ddnsrelay.Response, error) {
	body, err := json.Marshal(update)
	if err != nil {
		return nil, fmt.Errorf("error encoding update: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	var r ddnsrelay.Response
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&r); err != nil {
		return nil, fmt.Errorf("relay returned %s with an unreadable body: %w", resp.Status, err)
	}
	if resp.StatusCode != http.StatusOK || !r.Success {
		return &r, &RelayError{Status: resp.StatusCode, Response: r}
	}
	return &r, nil
}

// RelayError is returned when the relay rejected a report.
type RelayError struct {
	Status   int
	Response ddnsrelay.Response
}

func (e *RelayError) Error() string {
	msg := e.Response.Error
	for _, m := range e.Response.Errors {
		msg += fmt.Sprintf("; %s (%d)", m.Message, m.Code)
	}
	return fmt.Sprintf("relay returned %d %s: %s", e.Status, http.StatusText(e.Status), msg)
}

type logf interface {
	Printf(string, ...any)
}

// RunDaemon starts reporting every interval in a goroutine until ctx is done.
// The first report is sent immediately. Intervals under a minute are raised to a minute.
// Errors are sent to logger, or discarded when it is nil.
func (c *Client) RunDaemon(ctx context.Context, interval time.Duration, logger logf) {
	if interval < 1*time.Minute {
		interval = 1 * time.Minute
	}
	if logger == nil {
		logger = discard
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			if _, err := c.Report(ctx); err != nil {
				logger.Printf("reporter.RunDaemon: %s", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

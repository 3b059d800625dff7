package ddnsrelay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/cloudflare/cloudflare-go"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/sirupsen/logrus"
)

// CloudflareOption configures the underlying cloudflare-go client, e.g. cloudflare.BaseURL.
type CloudflareOption = cloudflare.Option

// NewCloudflare returns a Provider for Cloudflare authenticated with a scoped API token.
// The token needs Zone:Read and DNS:Edit permissions.
func NewCloudflare(token string, opts ...CloudflareOption) (Provider, error) {
	if token == "" {
		return nil, errors.New("cloudflare API token cannot be empty")
	}
	api, err := cloudflare.NewWithAPIToken(token, withDefaultClient(opts)...)
	if err != nil {
		return nil, fmt.Errorf("error creating cloudflare api client: %w", err)
	}
	return newCloudflareProvider(api), nil
}

// NewCloudflareWithKey returns a Provider for Cloudflare authenticated with the global API key and account email.
func NewCloudflareWithKey(key, email string, opts ...CloudflareOption) (Provider, error) {
	if key == "" || email == "" {
		return nil, errors.New("cloudflare API key and email cannot be empty")
	}
	api, err := cloudflare.New(key, email, withDefaultClient(opts)...)
	if err != nil {
		return nil, fmt.Errorf("error creating cloudflare api client: %w", err)
	}
	return newCloudflareProvider(api), nil
}

// withDefaultClient puts the relay's transport and a single-attempt retry policy ahead of opts.
// A create is sent exactly once: a 5xx after the record was committed must not turn into a duplicate.
// Calls are bounded by the caller's context rather than a client timeout.
func withDefaultClient(opts []CloudflareOption) []CloudflareOption {
	return append([]CloudflareOption{
		cloudflare.HTTPClient(cloudflareHTTPClient(cleanhttp.DefaultPooledClient())),
		cloudflare.UsingRetryPolicy(0, 0, 0),
	}, opts...)
}

// cloudflareHTTPClient returns a copy of hc whose transport keeps the error list of 5xx responses.
// cloudflare-go discards the body of those responses.
func cloudflareHTTPClient(hc *http.Client) *http.Client {
	c := *hc
	next := c.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	c.Transport = serviceErrorTransport{next: next}
	return &c
}

type serviceErrorTransport struct {
	next http.RoundTripper
}

func (t serviceErrorTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil || resp.StatusCode < http.StatusInternalServerError {
		return resp, err
	}
	defer resp.Body.Close()

	var body struct {
		Errors []cloudflare.ResponseInfo `json:"errors"`
	}
	// an HTML error page from an edge proxy leaves the list empty
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body)
	return nil, &serviceError{status: resp.StatusCode, errors: body.Errors}
}

// serviceError is a 5xx answer from the Cloudflare API.
type serviceError struct {
	status int
	errors []cloudflare.ResponseInfo
}

func (e *serviceError) Error() string {
	msg := fmt.Sprintf("cloudflare returned HTTP %d", e.status)
	for _, ri := range e.errors {
		msg += fmt.Sprintf("; %s (%d)", ri.Message, ri.Code)
	}
	return msg
}

func (e *serviceError) Errors() []cloudflare.ResponseInfo { return e.errors }

func newCloudflareProvider(api *cloudflare.API) *cloudflareProvider {
	return &cloudflareProvider{api: api, logger: discard}
}

// cloudflareProvider implements ddnsrelay.Provider.
type cloudflareProvider struct {
	api    *cloudflare.API
	logger logrus.FieldLogger
}

func (cf *cloudflareProvider) SetLogger(l logrus.FieldLogger) { cf.logger = l }

func (cf *cloudflareProvider) SetHTTPClient(hc *http.Client) {
	_ = cloudflare.HTTPClient(cloudflareHTTPClient(hc))(cf.api)
}

func (cf *cloudflareProvider) ZoneID(ctx context.Context, zone string) (string, error) {
	cf.logger.WithField("zone", zone).Debug("listing cloudflare zones by name")
	zones, err := cf.api.ListZones(ctx, zone)
	if err != nil {
		return "", providerError("zone_lookup", err)
	}
	if len(zones) == 0 {
		return "", fmt.Errorf("%w: %s", ErrZoneNotFound, zone)
	}
	return zones[0].ID, nil
}

func (cf *cloudflareProvider) FindRecord(ctx context.Context, zoneID, name, rtype string) (*Record, error) {
	records, _, err := cf.api.ListDNSRecords(ctx, cloudflare.ZoneIdentifier(zoneID), cloudflare.ListDNSRecordsParams{
		Type: rtype,
		Name: name,
		// a fixed page turns off auto-pagination; only the first match matters
		ResultInfo: cloudflare.ResultInfo{Page: 1, PerPage: 5},
	})
	if err != nil {
		return nil, providerError("find_record", err)
	}
	cf.logger.WithFields(logrus.Fields{"name": name, "type": rtype}).Debugf("found %d existing records", len(records))
	if len(records) == 0 {
		return nil, nil
	}
	r := fromCloudflare(zoneID, records[0])
	return &r, nil
}

func (cf *cloudflareProvider) CreateRecord(ctx context.Context, zoneID string, r Record) (Record, error) {
	created, err := cf.api.CreateDNSRecord(ctx, cloudflare.ZoneIdentifier(zoneID), cloudflare.CreateDNSRecordParams{
		Type:    r.Type,
		Name:    r.Name,
		Content: r.Content,
		TTL:     r.TTL,
		Proxied: cloudflare.BoolPtr(r.Proxied),
	})
	if err != nil {
		return Record{}, providerError("create_record", err)
	}
	return fromCloudflare(zoneID, created), nil
}

// recordBody is the complete record sent when overwriting.
type recordBody struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	TTL     int    `json:"ttl"`
	Proxied bool   `json:"proxied"`
	Comment string `json:"comment,omitempty"`
}

// UpdateRecord replaces the record with a PUT, so fields the relay doesn't manage are reset.
// cloudflare-go's UpdateDNSRecord only offers PATCH.
func (cf *cloudflareProvider) UpdateRecord(ctx context.Context, zoneID string, r Record) (Record, error) {
	if r.ID == "" {
		return Record{}, errors.New("cannot update a record without an ID")
	}
	endpoint := fmt.Sprintf("/zones/%s/dns_records/%s", zoneID, r.ID)
	res, err := cf.api.Raw(ctx, http.MethodPut, endpoint, recordBody{
		Type:    r.Type,
		Name:    r.Name,
		Content: r.Content,
		TTL:     r.TTL,
		Proxied: r.Proxied,
		Comment: r.Comment,
	}, nil)
	if err != nil {
		return Record{}, providerError("update_record", err)
	}
	var updated cloudflare.DNSRecord
	if err := json.Unmarshal(res.Result, &updated); err != nil {
		return Record{}, providerError("update_record", fmt.Errorf("error decoding record: %w", err))
	}
	return fromCloudflare(zoneID, updated), nil
}

func fromCloudflare(zoneID string, r cloudflare.DNSRecord) Record {
	return Record{
		ID:         r.ID,
		ZoneID:     zoneID,
		Type:       r.Type,
		Name:       r.Name,
		Content:    r.Content,
		TTL:        r.TTL,
		Proxied:    r.Proxied != nil && *r.Proxied,
		Comment:    r.Comment,
		CreatedOn:  r.CreatedOn,
		ModifiedOn: r.ModifiedOn,
	}
}

// providerError keeps Cloudflare's error list when the API returned one,
// including the list of a 5xx answer captured by serviceErrorTransport.
func providerError(op string, err error) *ProviderError {
	pe := &ProviderError{Op: op, Err: err}
	var cfErr interface {
		Errors() []cloudflare.ResponseInfo
	}
	if errors.As(err, &cfErr) {
		for _, ri := range cfErr.Errors() {
			pe.Messages = append(pe.Messages, ProviderMessage{Code: ri.Code, Message: ri.Message})
		}
	}
	return pe
}

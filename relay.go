package ddnsrelay

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds every outbound call made while handling one request.
const DefaultTimeout = 15 * time.Second

// DefaultRootMarker is the prefix that addresses the zone apex.
const DefaultRootMarker = "@"

var discard = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

// New returns a relay that accepts updates authenticated with secret.
//
// A provider option such as UsingCloudflare is required.
// Everything else has a default: automatic TTL, "@" as the root marker, IP masking on,
// no zone cache, no notifier, and no logging.
func New(secret string, options ...relayOption) (*Relay, error) {
	if secret == "" {
		return nil, fmt.Errorf("ddnsrelay.New: secret cannot be empty")
	}
	r := &Relay{
		secret:      secret,
		defaultTTL:  AutoTTL,
		defaultNode: "unknown",
		rootMarker:  DefaultRootMarker,
		masking:     DefaultMasking,
		timeout:     DefaultTimeout,
		now:         time.Now,
	}
	for i, opt := range options {
		if err := opt(r); err != nil {
			return nil, fmt.Errorf("ddnsrelay.New: option %d returned an error: %s", i, err)
		}
	}

	if r.provider == nil {
		return nil, fmt.Errorf("ddnsrelay.New: no DNS provider was registered - use ddnsrelay.UsingCloudflare or similar")
	}
	if !ValidTTL(r.defaultTTL) {
		return nil, fmt.Errorf("ddnsrelay.New: default TTL %d must be %d or between %d and %d", r.defaultTTL, AutoTTL, MinTTL, MaxTTL)
	}

	// dependencies registered after WithLogger or UsingHTTPClient still get them
	r.propagate()
	return r, nil
}

type relayOption func(*Relay) error

// UsingCloudflare registers Cloudflare as the provider, authenticated with a scoped API token.
func UsingCloudflare(token string, opts ...CloudflareOption) relayOption {
	return func(r *Relay) (err error) {
		if r.provider, err = NewCloudflare(token, opts...); err != nil {
			return fmt.Errorf("ddnsrelay.UsingCloudflare: error creating cloudflare DNS provider: %w", err)
		}
		return nil
	}
}

// UsingCloudflareKey registers Cloudflare as the provider, authenticated with the account's global key and email.
func UsingCloudflareKey(key, email string, opts ...CloudflareOption) relayOption {
	return func(r *Relay) (err error) {
		if r.provider, err = NewCloudflareWithKey(key, email, opts...); err != nil {
			return fmt.Errorf("ddnsrelay.UsingCloudflareKey: error creating cloudflare DNS provider: %w", err)
		}
		return nil
	}
}

func UsingProvider(p Provider) relayOption {
	return func(r *Relay) error {
		if p == nil {
			return errors.New("provider cannot be nil")
		}
		r.provider = p
		return nil
	}
}

// WithZone sets the zone used when a request has no zone_name.
// A non-empty id pins that zone's identifier and skips the provider lookup for it.
// With an empty name the pinned id applies to every request.
func WithZone(name, id string) relayOption {
	return func(r *Relay) error {
		r.zoneName = strings.TrimSuffix(name, ".")
		r.zoneID = id
		return nil
	}
}

func UsingZoneCache(cache ZoneCache) relayOption {
	return func(r *Relay) error {
		r.cache = cache
		return nil
	}
}

// UsingNotifier registers the side channel for change notifications. A nil notifier disables it.
func UsingNotifier(n Notifier) relayOption {
	return func(r *Relay) error {
		r.notifier = n
		return nil
	}
}

// UsingTelegram sends notifications through a Telegram bot.
// Notifications stay disabled unless both token and chatID are set.
func UsingTelegram(token, chatID string) relayOption {
	return func(r *Relay) error {
		if token == "" || chatID == "" {
			r.notifier = nil
			return nil
		}
		r.notifier = NewTelegram(token, chatID)
		return nil
	}
}

func WithDefaultTTL(ttl int) relayOption {
	return func(r *Relay) error {
		r.defaultTTL = ttl
		return nil
	}
}

// WithDefaultNodeName sets the node name shown in notifications for requests that don't name one.
func WithDefaultNodeName(name string) relayOption {
	return func(r *Relay) error {
		r.defaultNode = name
		return nil
	}
}

// WithRootMarker sets the prefix that addresses the zone apex. An empty marker disables root records.
func WithRootMarker(marker string) relayOption {
	return func(r *Relay) error {
		r.rootMarker = marker
		return nil
	}
}

func WithMasking(m Masking) relayOption {
	return func(r *Relay) error {
		r.masking = m
		return nil
	}
}

// WithTimeout bounds each outbound call. Values under one second are ignored.
func WithTimeout(d time.Duration) relayOption {
	return func(r *Relay) error {
		if d >= time.Second {
			r.timeout = d
		}
		return nil
	}
}

func WithLogger(logger logrus.FieldLogger) relayOption {
	return func(r *Relay) error {
		r.logger = logger
		return nil
	}
}

func UsingHTTPClient(httpclient *http.Client) relayOption {
	return func(r *Relay) error {
		r.httpClient = httpclient
		return nil
	}
}

func (r *Relay) propagate() {
	if r.logger == nil {
		r.logger = discard
	}
	type setLogger interface {
		SetLogger(logrus.FieldLogger)
	}
	type setHTTPClient interface {
		SetHTTPClient(*http.Client)
	}
	for _, dep := range []any{r.provider, r.notifier} {
		if l, ok := dep.(setLogger); ok {
			l.SetLogger(r.logger)
		}
		if hc, ok := dep.(setHTTPClient); ok && r.httpClient != nil {
			hc.SetHTTPClient(r.httpClient)
		}
	}
}

// Relay reconciles a provider's DNS record with the address a client reports.
// It holds no per-request state and is safe for concurrent use.
type Relay struct {
	secret   string
	provider Provider
	cache    ZoneCache
	notifier Notifier

	zoneName    string
	zoneID      string
	defaultTTL  int
	defaultNode string
	rootMarker  string
	masking     Masking
	timeout     time.Duration

	logger     logrus.FieldLogger
	httpClient *http.Client
	now        func() time.Time
}

// Outcome describes a successful update.
type Outcome struct {
	Action       Action
	Record       Record
	Notification NotificationStatus
}

// Authorize checks an Authorization header value against the relay's secret.
func (r *Relay) Authorize(authorization string) error {
	scheme, token, ok := strings.Cut(authorization, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(r.secret)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// Update validates req, creates or overwrites the matching record, and sends the notification.
// The notification never affects the returned error.
func (r *Relay) Update(ctx context.Context, req UpdateRequest) (*Outcome, error) {
	t, err := r.validate(req)
	if err != nil {
		return nil, err
	}
	log := r.logger.WithFields(logrus.Fields{"name": t.name, "type": t.rtype, "zone": t.zone})
	if id := requestID(ctx); id != "" {
		log = log.WithField("request_id", id)
	}

	zid, err := r.resolveZone(ctx, t.zone, log)
	if err != nil {
		return nil, fmt.Errorf("unable to get zone ID for %s: %w", t.zone, err)
	}
	log = log.WithField("zone_id", zid)

	var existing *Record
	err = r.call(ctx, "find_record", func(ctx context.Context) (err error) {
		existing, err = r.provider.FindRecord(ctx, zid, t.name, t.rtype)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("error looking up existing records: %w", err)
	}

	desired := Record{
		Type:    t.rtype,
		Name:    t.name,
		Content: t.addr.String(),
		TTL:     t.ttl,
		Proxied: false, // proxying breaks direct connectivity to the dynamic host
	}

	action := ActionCreated
	var saved Record
	if existing != nil {
		action = ActionUpdated
		desired.ID = existing.ID
		desired.Comment = existing.Comment
		log.WithField("record_id", existing.ID).Debug("overwriting existing record")
		err = r.call(ctx, "update_record", func(ctx context.Context) (err error) {
			saved, err = r.provider.UpdateRecord(ctx, zid, desired)
			return err
		})
	} else {
		log.Debug("no existing record, creating one")
		err = r.call(ctx, "create_record", func(ctx context.Context) (err error) {
			saved, err = r.provider.CreateRecord(ctx, zid, desired)
			return err
		})
	}
	if err != nil {
		return nil, fmt.Errorf("error writing DNS record: %w", err)
	}
	updateCount.WithLabelValues(string(action)).Inc()
	log.WithFields(logrus.Fields{"action": action, "record_id": saved.ID}).Info("record reconciled")

	status := r.notify(ctx, action, t, log)
	return &Outcome{Action: action, Record: saved, Notification: status}, nil
}

func (r *Relay) resolveZone(ctx context.Context, zone string, log logrus.FieldLogger) (string, error) {
	if r.zoneID != "" && (r.zoneName == "" || strings.EqualFold(zone, r.zoneName)) {
		return r.zoneID, nil
	}

	if r.cache != nil {
		id, ok, err := r.cache.Get(ctx, zone)
		switch {
		case err != nil:
			zoneCacheCount.WithLabelValues("error").Inc()
			log.WithError(err).Warn("zone cache read failed")
		case ok && id != "":
			zoneCacheCount.WithLabelValues("hit").Inc()
			return id, nil
		default:
			zoneCacheCount.WithLabelValues("miss").Inc()
		}
	}

	log.Debug("looking up zone ID")
	var id string
	err := r.call(ctx, "zone_lookup", func(ctx context.Context) (err error) {
		id, err = r.provider.ZoneID(ctx, zone)
		return err
	})
	if err != nil {
		return "", err
	}

	if r.cache != nil {
		if err := r.cache.Put(ctx, zone, id); err != nil {
			log.WithError(err).Warn("zone cache write failed")
		}
	}
	return id, nil
}

// call runs one provider operation under the relay's timeout.
// Errors that don't already carry a classification become a *ProviderError.
func (r *Relay) call(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	providerDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err == nil {
		return nil
	}

	var pe *ProviderError
	if errors.As(err, &pe) || errors.Is(err, ErrZoneNotFound) {
		return err
	}
	return &ProviderError{Op: op, Err: err}
}

func (r *Relay) notify(ctx context.Context, action Action, t target, log logrus.FieldLogger) (status NotificationStatus) {
	if r.notifier == nil {
		notificationCount.WithLabelValues(string(NotificationDisabled)).Inc()
		return NotificationDisabled
	}
	defer func() {
		if p := recover(); p != nil {
			log.Errorf("notifier panicked: %v", p)
			status = NotificationFailed
		}
		notificationCount.WithLabelValues(string(status)).Inc()
	}()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	n := Notification{
		Action: action,
		Node:   t.node,
		Domain: r.masking.domain(t.name),
		IP:     r.masking.ip(t.addr.String()),
		Time:   r.now().UTC(),
	}
	if err := r.notifier.Notify(ctx, n); err != nil {
		log.WithError(err).Warn("notification failed")
		return NotificationFailed
	}
	return NotificationSent
}

// Result is a response ready to be written by a transport.
type Result struct {
	Status int
	Body   Response
}

// Response is the JSON body returned to clients.
type Response struct {
	Success      bool               `json:"success"`
	Action       Action             `json:"action,omitempty"`
	Record       *Record            `json:"record,omitempty"`
	Notification NotificationStatus `json:"telegram_notification,omitempty"`
	Error        string             `json:"error,omitempty"`
	Errors       []ProviderMessage  `json:"errors,omitempty"`
}

// Handle authenticates and applies one raw update request.
// It is the only place where errors become HTTP statuses.
func (r *Relay) Handle(ctx context.Context, authorization string, body []byte) Result {
	outcome, err := r.handle(ctx, authorization, body)
	if err != nil {
		failureCount.WithLabelValues(reason(err)).Inc()
		r.logger.WithError(err).WithField("request_id", requestID(ctx)).Info("update rejected")
		return ErrorResult(err)
	}
	return Result{
		Status: http.StatusOK,
		Body: Response{
			Success:      true,
			Action:       outcome.Action,
			Record:       &outcome.Record,
			Notification: outcome.Notification,
		},
	}
}

func (r *Relay) handle(ctx context.Context, authorization string, body []byte) (*Outcome, error) {
	if err := r.Authorize(authorization); err != nil {
		return nil, err
	}
	req, err := ParseUpdateRequest(body)
	if err != nil {
		return nil, err
	}
	return r.Update(ctx, req)
}

// ErrorResult maps an error from Update to a failure response.
// Provider errors carry the provider's own error list.
func ErrorResult(err error) Result {
	body := Response{Success: false, Error: err.Error()}
	if errors.Is(err, ErrUnauthorized) {
		body.Error = ErrUnauthorized.Error()
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		body.Errors = pe.Messages
	}
	return Result{Status: statusFor(err), Body: body}
}

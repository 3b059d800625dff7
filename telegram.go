package ddnsrelay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/sirupsen/logrus"
)

const DefaultTelegramAPI = "https://api.telegram.org"

// NewTelegram returns a Notifier that posts Markdown messages through a Telegram bot.
func NewTelegram(token, chatID string) *Telegram {
	return &Telegram{
		Token:      token,
		ChatID:     chatID,
		APIURL:     DefaultTelegramAPI,
		Language:   "en",
		httpClient: cleanhttp.DefaultPooledClient(),
		logger:     discard,
	}
}

// Telegram implements ddnsrelay.Notifier with the Bot API's sendMessage method.
type Telegram struct {
	Token  string
	ChatID string
	// APIURL is the Bot API host, without the /bot<token> path.
	APIURL string
	// Language selects the message labels: "en" or "zh".
	Language string

	httpClient *http.Client
	logger     logrus.FieldLogger
}

func (t *Telegram) SetHTTPClient(hc *http.Client) {
	if hc != nil {
		t.httpClient = hc
	}
}

func (t *Telegram) SetLogger(l logrus.FieldLogger) { t.logger = l }

type sendMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type botResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Notify sends n and reports an error unless the Bot API accepted the message.
// The call is bounded by ctx only.
func (t *Telegram) Notify(ctx context.Context, n Notification) error {
	body, err := json.Marshal(sendMessage{ChatID: t.ChatID, Text: t.Render(n), ParseMode: "Markdown"})
	if err != nil {
		return fmt.Errorf("error encoding message: %w", err)
	}
	endpoint := strings.TrimSuffix(t.APIURL, "/") + "/bot" + t.Token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.New("error creating telegram request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		// the request URL contains the bot token
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return fmt.Errorf("telegram request failed: %w", err)
	}
	defer resp.Body.Close()

	var br botResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&br); err != nil {
		return fmt.Errorf("telegram returned %s with an unreadable body: %w", resp.Status, err)
	}
	if resp.StatusCode/100 != 2 || !br.OK {
		return fmt.Errorf("telegram returned %s: %s", resp.Status, br.Description)
	}
	t.logger.WithField("chat_id", t.ChatID).Debug("telegram notification sent")
	return nil
}

type messageLabels struct {
	created, updated string
	title            string
	node, domain, ip string
	time             string
}

var labels = map[string]messageLabels{
	"en": {created: "created", updated: "updated", title: "DDNS record", node: "Node", domain: "Domain", ip: "IP", time: "Time"},
	"zh": {created: "创建", updated: "更新", title: "DDNS 记录", node: "节点", domain: "域名", ip: "IP", time: "时间"},
}

// Render formats n in the notifier's language. Unknown languages fall back to English.
func (t *Telegram) Render(n Notification) string {
	l, ok := labels[t.Language]
	if !ok {
		l = labels["en"]
	}
	action := l.created
	if n.Action == ActionUpdated {
		action = l.updated
	}
	sep := " "
	if t.Language == "zh" {
		sep = ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🚀 *%s%s%s*\n\n", l.title, sep, action)
	fmt.Fprintf(&b, "📍 *%s*: `%s`\n", l.node, code(n.Node))
	fmt.Fprintf(&b, "🌐 *%s*: `%s`\n", l.domain, code(n.Domain))
	fmt.Fprintf(&b, "🔗 *%s*: `%s`\n", l.ip, code(n.IP))
	fmt.Fprintf(&b, "⏰ *%s*: `%s`", l.time, n.Time.UTC().Format(time.RFC3339))
	return b.String()
}

// code keeps a value from closing its Markdown code span early.
func code(s string) string {
	return strings.ReplaceAll(s, "`", "'")
}

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// SlackNotifier posts notifications to a Slack incoming webhook
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
	limiter    *rate.Limiter
}

// SlackMessage is a Block Kit webhook payload. Text is the fallback shown
// in push notifications.
type SlackMessage struct {
	Text   string       `json:"text"`
	Blocks []SlackBlock `json:"blocks"`
}

// SlackBlock is one Block Kit layout block
type SlackBlock struct {
	Type     string      `json:"type"`
	Text     *SlackText  `json:"text,omitempty"`
	Fields   []SlackText `json:"fields,omitempty"`
	Elements []SlackText `json:"elements,omitempty"`
}

// SlackText is a Block Kit text object
type SlackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewSlackNotifier creates a new Slack notifier
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		// Slack accepts roughly one webhook message per second
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// SlackEmoji returns the status emoji for a notification type
func SlackEmoji(t NotificationType) string {
	switch t {
	case NotifySuccess:
		return ":white_check_mark:"
	case NotifyWarning:
		return ":warning:"
	case NotifyError:
		return ":x:"
	default:
		return ":information_source:"
	}
}

// BuildSlackMessage lays out n as header, message, fields and a footer
// context line
func BuildSlackMessage(n Notification) SlackMessage {
	msg := SlackMessage{
		Text: n.Title,
		Blocks: []SlackBlock{
			{Type: "header", Text: &SlackText{Type: "plain_text", Text: n.Title}},
			{Type: "section", Text: &SlackText{Type: "mrkdwn", Text: SlackEmoji(n.Type) + " " + n.Message}},
		},
	}

	var fields []SlackText
	if n.Target != "" {
		fields = append(fields, SlackText{Type: "mrkdwn", Text: "*User*\n" + n.Target})
	}
	for _, f := range n.Fields {
		fields = append(fields, SlackText{Type: "mrkdwn", Text: "*" + f.Label + "*\n" + f.Value})
	}
	if len(fields) > 0 {
		// Slack renders at most ten fields per section
		if len(fields) > 10 {
			fields = fields[:10]
		}
		msg.Blocks = append(msg.Blocks, SlackBlock{Type: "section", Fields: fields})
	}

	msg.Blocks = append(msg.Blocks, SlackBlock{
		Type:     "context",
		Elements: []SlackText{{Type: "mrkdwn", Text: "twmd-batch"}},
	})
	return msg
}

// Send posts a notification to Slack, waiting for the webhook rate limit
func (s *SlackNotifier) Send(n Notification) error {
	if s.webhookURL == "" {
		return nil // Disabled
	}

	payload, err := json.Marshal(BuildSlackMessage(n))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("slack rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned %d", resp.StatusCode)
	}
	return nil
}

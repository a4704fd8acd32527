package notify

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hochfrequenz/twmd-batch/internal/domain"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification represents a notification to be sent
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
	Target  string // Optional target name
	Fields  []Field
}

// Field is a labelled value shown alongside the message where the
// notifier supports it
type Field struct {
	Label string
	Value string
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers
func (m *MultiNotifier) Send(n Notification) error {
	var lastErr error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }

// RateLimited builds the notification sent when the downloader is throttled
func RateLimited(target string, cooldown string) Notification {
	return Notification{
		Title:   "twmd rate limited",
		Message: fmt.Sprintf("Rate limit hit while downloading %s, pausing for %s", target, cooldown),
		Type:    NotifyWarning,
		Target:  target,
		Fields:  []Field{{Label: "Cooldown", Value: cooldown}},
	}
}

// PassComplete builds the end-of-pass notification
func PassComplete(ran, skipped, failed int, permaSkipped []string) Notification {
	n := Notification{
		Title:   "twmd batch pass complete",
		Message: fmt.Sprintf("%d run, %d skipped, %d failed", ran, skipped, failed),
		Type:    NotifySuccess,
		Fields: []Field{
			{Label: "Run", Value: strconv.Itoa(ran)},
			{Label: "Skipped", Value: strconv.Itoa(skipped)},
			{Label: "Failed", Value: strconv.Itoa(failed)},
		},
	}
	if failed > 0 {
		n.Type = NotifyWarning
	}
	if len(permaSkipped) > 0 {
		list := strings.Join(permaSkipped, ", ")
		n.Message += fmt.Sprintf("; newly %s: %s", domain.FlagPermaSkip, list)
		n.Fields = append(n.Fields, Field{Label: "Disabled", Value: list})
	}
	return n
}

package notify

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// Type identifies a notification event
type Type string

const (
	HVTFound        Type = "HVT_FOUND"
	SessionComplete Type = "SESSION_COMPLETE"
	Error           Type = "ERROR"
)

// Event is a discrete notification emitted by the crawl
type Event struct {
	Type     Type
	Username string
	Message  string
	Payload  map[string]string
	At       time.Time
}

// Notifier delivers events. Delivery failures are reported, never fatal.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// LogNotifier writes events to the log
type LogNotifier struct{}

// Notify implements Notifier
func (LogNotifier) Notify(_ context.Context, e Event) error {
	fields := logrus.Fields{"event": string(e.Type)}
	if e.Username != "" {
		fields["username"] = e.Username
	}
	for k, v := range e.Payload {
		fields[k] = v
	}

	entry := logrus.WithFields(fields)
	if e.Type == Error {
		entry.Error(e.Message)
		return nil
	}
	entry.Info(e.Message)
	return nil
}

// Multi fans out to every notifier and joins their errors
type Multi []Notifier

// Notify implements Notifier
func (m Multi) Notify(ctx context.Context, e Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Send delivers e through n, logging instead of returning failures
func Send(ctx context.Context, n Notifier, e Event) {
	if n == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if err := n.Notify(ctx, e); err != nil {
		logrus.Warnf("Notification %s failed: %v", e.Type, err)
	}
}

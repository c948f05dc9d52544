/*
Package notify is the outbound notification boundary.

PURPOSE:
  The core posts notifications (loan completed, application rejected,
  disbursement made) with fire-and-forget semantics: delivery transport is
  an external collaborator, and a failed notification must never fail or
  roll back the atomic unit that produced it.
*/
package notify

import (
	"context"
	"log"
)

// Notification is the payload handed to the sink.
type Notification struct {
	UserID   string
	Title    string
	Message  string
	Metadata map[string]string
}

// Notifier is the sink contract.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// BestEffort sends a notification and swallows failures, logging them.
// This is the only place in the engine an error is deliberately dropped.
func BestEffort(ctx context.Context, notifier Notifier, n Notification) {
	if notifier == nil {
		return
	}
	if err := notifier.Notify(ctx, n); err != nil {
		log.Printf("notify: dropping notification %q for %s: %v", n.Title, n.UserID, err)
	}
}

// LogNotifier writes notifications to the process log. The default sink
// when no delivery transport is wired.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, n Notification) error {
	log.Printf("notify: user=%s title=%q message=%q", n.UserID, n.Title, n.Message)
	return nil
}

// Func adapts a function to the Notifier interface. Handy in tests.
type Func func(ctx context.Context, n Notification) error

func (f Func) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/WessleyAI/kitchensink/engine/database"
	"github.com/WessleyAI/kitchensink/pkg/natsutil"
	"github.com/nats-io/nats.go"
)

// SubjectPrefix prefixes the NATS subject of every subscription.
const SubjectPrefix = "kitchensink.notify."

// Subject returns the NATS subject notifications for id are published on.
func Subject(id string) string { return SubjectPrefix + id }

// Publisher delivers notifications.
type Publisher interface {
	Publish(ctx context.Context, subject string, n Notification) error
}

// NATSPublisher publishes notifications as JSON over NATS.
type NATSPublisher struct {
	nc natsutil.MsgPublisher
}

// NewNATSPublisher returns a publisher over nc.
func NewNATSPublisher(nc natsutil.MsgPublisher) *NATSPublisher {
	return &NATSPublisher{nc: nc}
}

func (p *NATSPublisher) Publish(ctx context.Context, subject string, n Notification) error {
	return natsutil.Publish(ctx, p.nc, subject, n)
}

// Lister supplies the subscriptions to match against.
type Lister interface {
	List(ctx context.Context) ([]Subscription, error)
}

// Notifier matches record changes against stored subscriptions.
type Notifier struct {
	subs   Lister
	pub    Publisher
	logger *slog.Logger
}

// NewNotifier returns a notifier. A nil pub only logs the notifications it
// would have sent.
func NewNotifier(subs Lister, pub Publisher, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{subs: subs, pub: pub, logger: logger}
}

// RecordChanged publishes one notification per subscription matching c. It
// keeps going after a failed publish and returns every failure joined.
func (n *Notifier) RecordChanged(ctx context.Context, c database.Change) error {
	if c.Record.Type == RecordType {
		return nil
	}
	subs, err := n.subs.List(ctx)
	if err != nil {
		return fmt.Errorf("subscription: notify: %w", err)
	}
	var errs []error
	for _, s := range subs {
		if !s.Matches(c) {
			continue
		}
		msg := notificationFor(s, c)
		if n.pub == nil {
			n.logger.Info("notification", "subscription", s.ID, "id", c.Record.ID, "change", c.Kind.String())
			continue
		}
		if err := n.pub.Publish(ctx, Subject(s.ID), msg); err != nil {
			errs = append(errs, fmt.Errorf("subscription: publish %s: %w", s.ID, err))
			continue
		}
		n.logger.Debug("notification published", "subscription", s.ID, "id", c.Record.ID, "change", c.Kind.String())
	}
	return errors.Join(errs...)
}

// OnChange adapts RecordChanged to database.ChangeFunc, logging failures.
func (n *Notifier) OnChange(ctx context.Context, c database.Change) {
	if err := n.RecordChanged(ctx, c); err != nil {
		n.logger.Warn("notify failed", "id", c.Record.ID, "err", err)
	}
}

// Watch delivers the notifications of subscription id to fn.
func Watch(nc *nats.Conn, id string, fn func(context.Context, Notification)) (*nats.Subscription, error) {
	sub, err := natsutil.Subscribe(nc, Subject(id), fn)
	if err != nil {
		return nil, fmt.Errorf("subscription: watch %s: %w", id, err)
	}
	return sub, nil
}

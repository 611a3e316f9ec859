package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/WessleyAI/kitchensink/pkg/activity"
)

// PrefKey is the preference the active subscription ID is kept under.
const PrefKey = "subscriptionID"

// Service stores and removes subscriptions. *Registry implements it.
type Service interface {
	Save(ctx context.Context, s Subscription) (Subscription, error)
	Delete(ctx context.Context, id string) error
}

// Prefs persists the active subscription ID. *prefs.Store implements it.
type Prefs interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Remove(key string) error
}

// Client manages the single subscription a user toggles on and off.
type Client struct {
	svc      Service
	prefs    Prefs
	template Subscription
	activity *activity.Indicator
	logger   *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTemplate sets the subscription created by Subscribe. Defaults to
// DefaultMovie.
func WithTemplate(s Subscription) ClientOption {
	return func(c *Client) { c.template = s }
}

// WithActivity toggles ind around every service call.
func WithActivity(ind *activity.Indicator) ClientOption {
	return func(c *Client) { c.activity = ind }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient returns a client over svc remembering its state in prefs.
func NewClient(svc Service, prefs Prefs, opts ...ClientOption) *Client {
	c := &Client{
		svc:      svc,
		prefs:    prefs,
		template: DefaultMovie(),
		activity: activity.New(),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Current returns the active subscription ID.
func (c *Client) Current() (string, bool) {
	id, ok := c.prefs.Get(PrefKey)
	return id, ok && id != ""
}

// Subscribe creates the template subscription and remembers its ID.
func (c *Client) Subscribe(ctx context.Context) (Subscription, error) {
	if id, ok := c.Current(); ok {
		return Subscription{}, fmt.Errorf("%w: %s", ErrAlreadySubscribed, id)
	}
	c.activity.Begin()
	s, err := c.svc.Save(ctx, c.template)
	c.activity.End()
	if err != nil {
		return Subscription{}, err
	}
	if err := c.prefs.Set(PrefKey, s.ID); err != nil {
		return s, err
	}
	c.logger.Info("subscribed", "subscription", s.ID, "record_type", s.RecordType)
	return s, nil
}

// Cancel deletes the active subscription. The remembered ID is cleared only
// once the service no longer holds it.
func (c *Client) Cancel(ctx context.Context) error {
	id, ok := c.Current()
	if !ok {
		return ErrNotSubscribed
	}
	c.activity.Begin()
	err := c.svc.Delete(ctx, id)
	c.activity.End()
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if err := c.prefs.Remove(PrefKey); err != nil {
		return err
	}
	c.logger.Info("unsubscribed", "subscription", id)
	return nil
}

// Toggle subscribes when no subscription is active and cancels otherwise.
// It reports whether a subscription is active afterwards.
func (c *Client) Toggle(ctx context.Context) (bool, error) {
	if _, ok := c.Current(); ok {
		if err := c.Cancel(ctx); err != nil {
			return true, err
		}
		return false, nil
	}
	if _, err := c.Subscribe(ctx); err != nil {
		return false, err
	}
	return true, nil
}

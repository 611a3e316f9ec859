// Package subscription stores standing queries over records and notifies
// their watchers when a matching record is created, updated or deleted.
package subscription

import (
	"errors"
	"slices"

	"github.com/WessleyAI/kitchensink/engine/database"
	"github.com/WessleyAI/kitchensink/engine/record"
)

var (
	ErrNotFound          = errors.New("subscription: not found")
	ErrAlreadySubscribed = errors.New("subscription: already subscribed")
	ErrNotSubscribed     = errors.New("subscription: not subscribed")
	ErrIDInUse           = errors.New("subscription: id belongs to another record")
	ErrReservedType      = errors.New("subscription: record type is reserved")
)

// MovieAlertKey is the localization key of the alert sent for new movies.
const MovieAlertKey = "movie_registered_alert"

// NotificationInfo describes what a watcher receives when the subscription
// fires.
type NotificationInfo struct {
	// AlertKey names a localized alert format.
	AlertKey string `json:"alert_key,omitempty"`
	// AlertArgs are field names whose values fill the alert format.
	AlertArgs []string `json:"alert_args,omitempty"`
	Sound     string   `json:"sound,omitempty"`
	// DesiredKeys are field names copied into the notification.
	DesiredKeys []string `json:"desired_keys,omitempty"`
}

// Subscription is a standing query.
type Subscription struct {
	ID           string                `json:"id"`
	RecordType   string                `json:"record_type"`
	Filter       record.Filter         `json:"filter"`
	Fires        []database.ChangeKind `json:"fires"`
	Notification NotificationInfo      `json:"notification"`
}

// DefaultMovie returns the subscription that alerts on every new movie.
func DefaultMovie() Subscription {
	return Subscription{
		RecordType: record.MovieType,
		Filter:     record.All(),
		Fires:      []database.ChangeKind{database.Created},
		Notification: NotificationInfo{
			AlertKey:    MovieAlertKey,
			AlertArgs:   []string{record.MovieTitle},
			Sound:       "default",
			DesiredKeys: []string{record.MovieTitle},
		},
	}
}

// Validate rejects subscriptions that could never fire.
func (s Subscription) Validate() error {
	if err := record.ValidateType(s.RecordType); err != nil {
		return err
	}
	if err := s.Filter.Validate(); err != nil {
		return err
	}
	if len(s.Fires) == 0 {
		return record.NewValidationError("fires", "", record.ErrInvalidValue)
	}
	for _, k := range s.Fires {
		if k < database.Created || k > database.Deleted {
			return record.NewValidationError("fires", k.String(), record.ErrInvalidValue)
		}
	}
	for _, name := range append(slices.Clone(s.Notification.AlertArgs), s.Notification.DesiredKeys...) {
		if err := record.ValidateField(name); err != nil {
			return err
		}
	}
	return nil
}

// Matches reports whether c should fire s.
func (s Subscription) Matches(c database.Change) bool {
	return c.Record.Type == s.RecordType &&
		slices.Contains(s.Fires, c.Kind) &&
		s.Filter.Matches(c.Record)
}

// Notification is the message published when a subscription fires.
type Notification struct {
	SubscriptionID string                  `json:"subscription_id"`
	Change         database.ChangeKind     `json:"change"`
	RecordID       record.ID               `json:"record_id"`
	RecordType     string                  `json:"record_type"`
	AlertKey       string                  `json:"alert_key,omitempty"`
	AlertArgs      []string                `json:"alert_args,omitempty"`
	Sound          string                  `json:"sound,omitempty"`
	Fields         map[string]record.Value `json:"fields,omitempty"`
}

// notificationFor builds the message for a change that matched s. Alert
// arguments resolve to the record's field values; missing fields become "".
func notificationFor(s Subscription, c database.Change) Notification {
	n := Notification{
		SubscriptionID: s.ID,
		Change:         c.Kind,
		RecordID:       c.Record.ID,
		RecordType:     c.Record.Type,
		AlertKey:       s.Notification.AlertKey,
		Sound:          s.Notification.Sound,
	}
	for _, name := range s.Notification.AlertArgs {
		n.AlertArgs = append(n.AlertArgs, c.Record.Fields[name].String())
	}
	for _, name := range s.Notification.DesiredKeys {
		v, ok := c.Record.Fields[name]
		if !ok {
			continue
		}
		if n.Fields == nil {
			n.Fields = make(map[string]record.Value)
		}
		n.Fields[name] = v
	}
	return n
}

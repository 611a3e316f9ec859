// Package account resolves the signed-in user, discovers other users of the
// application and maintains the user's record, including its avatar.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/WessleyAI/kitchensink/engine/asset"
	"github.com/WessleyAI/kitchensink/engine/database"
	"github.com/WessleyAI/kitchensink/engine/record"
	"github.com/WessleyAI/kitchensink/pkg/activity"
	"github.com/WessleyAI/kitchensink/pkg/fn"
)

var (
	ErrNoAccount        = errors.New("account: no account available")
	ErrPermissionDenied = errors.New("account: discoverability not granted")
	ErrNotFound         = errors.New("account: identity not found")
	ErrInvalidImage     = errors.New("account: avatar is not a PNG image")
)

// UserRecordType is the type of user records.
const UserRecordType = "Users"

// AvatarField holds the user's avatar asset.
const AvatarField = "avatar"

// Status is the state of the signed-in account.
type Status int

const (
	CouldNotDetermine Status = iota
	Available
	NoAccount
	Restricted
)

func (s Status) String() string {
	switch s {
	case Available:
		return "available"
	case NoAccount:
		return "no_account"
	case Restricted:
		return "restricted"
	default:
		return "could_not_determine"
	}
}

// Identity is the discoverable part of a user.
type Identity struct {
	UserRecordID string `json:"user_record_id"`
	GivenName    string `json:"given_name,omitempty"`
	FamilyName   string `json:"family_name,omitempty"`
	Email        string `json:"email,omitempty"`
}

// DisplayName formats the name as given name followed by family name.
func (i Identity) DisplayName() string {
	return strings.TrimSpace(i.GivenName + " " + i.FamilyName)
}

func identityOf(u User) Identity {
	return Identity{
		UserRecordID: u.RecordID,
		GivenName:    u.GivenName,
		FamilyName:   u.FamilyName,
		Email:        u.Email,
	}
}

// Service answers account questions from a directory file and keeps user
// records in a database. The directory is re-read on every call so that
// account changes are picked up without a restart.
type Service struct {
	path     string
	db       database.Database
	assets   asset.Store
	activity *activity.Indicator
	logger   *slog.Logger
	tempDir  string
}

// Option configures a Service.
type Option func(*Service)

// WithActivity toggles ind around remote calls.
func WithActivity(ind *activity.Indicator) Option {
	return func(s *Service) { s.activity = ind }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithTempDir sets where avatar uploads are staged. Defaults to os.TempDir.
func WithTempDir(dir string) Option {
	return func(s *Service) { s.tempDir = dir }
}

// NewService returns a service reading the directory at path.
func NewService(path string, db database.Database, assets asset.Store, opts ...Option) *Service {
	s := &Service{
		path:     path,
		db:       db,
		assets:   assets,
		activity: activity.New(),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Status reports whether an account is available. When the directory
// cannot be read it returns CouldNotDetermine with the cause.
func (s *Service) Status(ctx context.Context) (Status, error) {
	d, err := s.directory(ctx)
	if err != nil {
		return CouldNotDetermine, err
	}
	switch {
	case d.Current == "":
		return NoAccount, nil
	case d.Restricted:
		return Restricted, nil
	default:
		return Available, nil
	}
}

// UserRecordID returns the record ID of the signed-in user.
func (s *Service) UserRecordID(ctx context.Context) (string, error) {
	d, err := s.directory(ctx)
	if err != nil {
		return "", err
	}
	if d.Current == "" || d.Restricted {
		return "", ErrNoAccount
	}
	return d.Current, nil
}

// UserRecord returns the signed-in user's record, creating an empty one the
// first time it is asked for.
func (s *Service) UserRecord(ctx context.Context) (record.Record, error) {
	id, err := s.UserRecordID(ctx)
	if err != nil {
		return record.Record{}, err
	}
	s.activity.Begin()
	defer s.activity.End()

	rec, err := s.db.Fetch(ctx, record.ID(id))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return record.Record{}, fmt.Errorf("account: fetch user record %s: %w", id, err)
	}
	rec = record.New(UserRecordType)
	rec.ID = record.ID(id)
	rec, err = s.db.Save(ctx, rec)
	if err != nil {
		return record.Record{}, fmt.Errorf("account: create user record %s: %w", id, err)
	}
	s.logger.Info("user record created", "id", id)
	return rec, nil
}

// DiscoverIdentity looks up the identity behind a user record ID.
func (s *Service) DiscoverIdentity(ctx context.Context, userRecordID string) (Identity, error) {
	d, err := s.discoverable(ctx)
	if err != nil {
		return Identity{}, err
	}
	u, ok := d.lookup(userRecordID)
	if !ok || (!u.Discoverable && u.RecordID != d.Current) {
		return Identity{}, ErrNotFound
	}
	return identityOf(u), nil
}

// DiscoverAll returns every other discoverable user, in directory order.
func (s *Service) DiscoverAll(ctx context.Context) ([]Identity, error) {
	d, err := s.discoverable(ctx)
	if err != nil {
		return nil, err
	}
	others := fn.Filter(d.Users, func(u User) bool {
		return u.Discoverable && u.RecordID != d.Current
	})
	out := fn.Map(others, identityOf)
	s.logger.Debug("identities discovered", "count", len(out))
	return out, nil
}

func (s *Service) discoverable(ctx context.Context) (*Directory, error) {
	d, err := s.directory(ctx)
	if err != nil {
		return nil, err
	}
	if d.Current == "" || d.Restricted {
		return nil, ErrNoAccount
	}
	if !d.Discoverability {
		return nil, ErrPermissionDenied
	}
	return d, nil
}

func (s *Service) directory(ctx context.Context) (*Directory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return LoadDirectory(s.path)
}

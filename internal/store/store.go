// Package store persists linked identities, local accounts and provider
// configurations.
package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
)

// LinkedIdentity is the record tracking one external identity and its
// optional association to a local account. The (ProviderType, ExternalID)
// pair is unique. LinkedAccountID is set exactly when linking completed.
type LinkedIdentity struct {
	ID              uuid.UUID
	ProviderType    string
	ExternalID      string
	Nickname        string
	AvatarURL       string
	AccessToken     string // May be empty for providers whose tokens are withheld
	RawProfile      string // Raw provider payload, kept for audit/debug
	Email           string // Unverified by default; empty means unknown
	LinkedAccountID *uuid.UUID
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// LocalAccount is the system's own user record. Email, when non-empty, is
// unique across all accounts.
type LocalAccount struct {
	ID        uuid.UUID
	Username  string
	Email     string
	CreatedAt time.Time
}

// ProviderConfig is one administrator-managed provider row.
type ProviderConfig struct {
	ProviderType string
	ClientID     string
	ClientSecret string
	CallbackURL  string
	Enabled      bool
}

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrNoEmail is returned by LinkAccount when the identity has no email yet;
// linking requires one.
var ErrNoEmail = errors.New("store: identity has no email")

// Store is the persistence contract. The postgres implementation is the
// production backend; the memory implementation backs tests.
type Store interface {
	// EnabledProviderConfigs returns the enabled provider rows.
	EnabledProviderConfigs(ctx context.Context) ([]ProviderConfig, error)

	// IdentityByID returns the identity with the given id, or ErrNotFound.
	IdentityByID(ctx context.Context, id uuid.UUID) (*LinkedIdentity, error)

	// UpsertIdentity inserts the identity keyed by (provider type, external
	// id), or refreshes nickname, avatar, raw profile and access token on
	// the existing row. A non-empty incoming email is stored; an empty one
	// never clobbers a stored address. Returns the stored row.
	UpsertIdentity(ctx context.Context, ident *LinkedIdentity) (*LinkedIdentity, error)

	// SetIdentityEmail stores a (still unverified) email on the identity.
	SetIdentityEmail(ctx context.Context, id uuid.UUID, email string) error

	// AccountByID returns the account with the given id, or ErrNotFound.
	AccountByID(ctx context.Context, id uuid.UUID) (*LocalAccount, error)

	// LinkAccount associates the identity with a local account resolved by
	// the identity's stored email, creating the account when none exists.
	// The whole read-resolve-write runs in one transaction keyed on the
	// identity row: a concurrent call for the same identity observes the
	// committed link and short-circuits to the existing account. Username
	// collisions are resolved internally with a timestamp-derived suffix,
	// never surfaced.
	LinkAccount(ctx context.Context, identityID uuid.UUID, preferredUsername string) (*LocalAccount, error)
}

// NameStamp returns the timestamp suffix appended to generated display
// names and colliding usernames, so both carry the same shape.
func NameStamp() string {
	return time.Now().Format("060102030405")
}

// usernameCandidates yields the preferred username followed by suffixed
// fallbacks, so account creation never fails on a name collision.
func usernameCandidates(preferred string) []string {
	stamp := NameStamp()
	extra := make([]byte, 3)
	_, _ = rand.Read(extra)
	return []string{
		preferred,
		preferred + stamp,
		preferred + stamp + hex.EncodeToString(extra),
	}
}

package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-memory Store used by tests. One mutex serializes every
// operation, which gives LinkAccount the same atomicity the postgres
// backend gets from its transaction.
type Memory struct {
	mu         sync.Mutex
	configs    []ProviderConfig
	identities map[uuid.UUID]*LinkedIdentity
	accounts   map[uuid.UUID]*LocalAccount
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		identities: make(map[uuid.UUID]*LinkedIdentity),
		accounts:   make(map[uuid.UUID]*LocalAccount),
	}
}

// SetProviderConfigs replaces the provider configuration rows.
func (s *Memory) SetProviderConfigs(configs []ProviderConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs = append([]ProviderConfig(nil), configs...)
}

// EnabledProviderConfigs returns the enabled provider rows.
func (s *Memory) EnabledProviderConfigs(ctx context.Context) ([]ProviderConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ProviderConfig
	for _, c := range s.configs {
		if c.Enabled {
			out = append(out, c)
		}
	}
	return out, nil
}

// IdentityByID returns a copy of the identity with the given id.
func (s *Memory) IdentityByID(ctx context.Context, id uuid.UUID) (*LinkedIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.identities[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ident
	return &cp, nil
}

// UpsertIdentity inserts or refreshes the identity keyed by
// (provider type, external id).
func (s *Memory) UpsertIdentity(ctx context.Context, ident *LinkedIdentity) (*LinkedIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.identities {
		if existing.ProviderType == ident.ProviderType && existing.ExternalID == ident.ExternalID {
			existing.Nickname = ident.Nickname
			existing.AvatarURL = ident.AvatarURL
			existing.AccessToken = ident.AccessToken
			existing.RawProfile = ident.RawProfile
			if ident.Email != "" {
				existing.Email = ident.Email
			}
			existing.UpdatedAt = time.Now()
			cp := *existing
			return &cp, nil
		}
	}

	cp := *ident
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	s.identities[cp.ID] = &cp

	out := cp
	return &out, nil
}

// SetIdentityEmail stores a (still unverified) email on the identity.
func (s *Memory) SetIdentityEmail(ctx context.Context, id uuid.UUID, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.identities[id]
	if !ok {
		return ErrNotFound
	}
	ident.Email = email
	ident.UpdatedAt = time.Now()
	return nil
}

// AccountByID returns a copy of the account with the given id.
func (s *Memory) AccountByID(ctx context.Context, id uuid.UUID) (*LocalAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *acc
	return &cp, nil
}

// LinkAccount associates the identity with an account resolved by its
// stored email, creating the account when none exists.
func (s *Memory) LinkAccount(ctx context.Context, identityID uuid.UUID, preferredUsername string) (*LocalAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.identities[identityID]
	if !ok {
		return nil, ErrNotFound
	}

	if ident.LinkedAccountID != nil {
		acc, ok := s.accounts[*ident.LinkedAccountID]
		if !ok {
			return nil, ErrNotFound
		}
		cp := *acc
		return &cp, nil
	}

	if ident.Email == "" {
		return nil, ErrNoEmail
	}

	var acc *LocalAccount
	for _, existing := range s.accounts {
		if existing.Email == ident.Email {
			acc = existing
			break
		}
	}

	if acc == nil {
		for _, username := range usernameCandidates(preferredUsername) {
			if !s.usernameTaken(username) {
				acc = &LocalAccount{
					ID:        uuid.New(),
					Username:  username,
					Email:     ident.Email,
					CreatedAt: time.Now(),
				}
				s.accounts[acc.ID] = acc
				break
			}
		}
		if acc == nil {
			return nil, ErrNotFound
		}
	}

	linked := acc.ID
	ident.LinkedAccountID = &linked
	ident.UpdatedAt = time.Now()

	cp := *acc
	return &cp, nil
}

func (s *Memory) usernameTaken(username string) bool {
	for _, acc := range s.accounts {
		if acc.Username == username {
			return true
		}
	}
	return false
}

var _ Store = (*Memory)(nil)

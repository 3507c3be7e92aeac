// Package linker implements the account-linking state machine: given a
// fetched provider profile it decides whether to log in, create a local
// account, or defer linking behind the email-confirmation side channel.
package linker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"github.com/emberblog/identity/internal/crypto"
	"github.com/emberblog/identity/internal/email"
	"github.com/emberblog/identity/internal/provider"
	"github.com/emberblog/identity/internal/store"
)

// Sentinel errors.
var (
	// ErrInvalidSignature rejects a tampered confirmation link. Callers must
	// answer with a generic 403 and change no state.
	ErrInvalidSignature = errors.New("linker: invalid confirmation signature")

	// ErrInvalidEmail rejects a syntactically malformed email submission.
	ErrInvalidEmail = errors.New("linker: invalid email address")
)

// fallbackNamePrefix seeds generated display names and usernames when the
// provider returned a blank nickname.
const fallbackNamePrefix = "emberblog"

// LoginResult is the outcome of a provider callback. Account is nil when
// the profile carried no email and the flow must collect one first.
type LoginResult struct {
	Account  *store.LocalAccount
	Identity *store.LinkedIdentity
}

// Linker drives the linking transitions against the store and dispatches
// the confirmation side channel.
type Linker struct {
	store      store.Store
	sender     email.Sender
	logger     *slog.Logger
	linkSecret string
	siteURL    string
}

// New creates a Linker.
func New(st store.Store, sender email.Sender, linkSecret, siteURL string, logger *slog.Logger) *Linker {
	return &Linker{
		store:      st,
		sender:     sender,
		logger:     logger,
		linkSecret: linkSecret,
		siteURL:    strings.TrimRight(siteURL, "/"),
	}
}

// Login handles a provider callback for a fetched profile. It upserts the
// linked identity, then either resolves a local account by email (creating
// one when needed, inside a single store transaction) or reports that an
// email must be collected. Repeat callbacks for an already linked identity
// refresh the cached profile fields and reuse the existing account.
func (l *Linker) Login(ctx context.Context, adapter provider.Adapter, p *provider.Profile) (*LoginResult, error) {
	nickname := strings.TrimSpace(p.Nickname)
	if nickname == "" {
		nickname = generatedName()
	}

	token := p.AccessToken
	if !adapter.RetainsToken() {
		token = ""
	}

	ident, err := l.store.UpsertIdentity(ctx, &store.LinkedIdentity{
		ProviderType: adapter.Type(),
		ExternalID:   p.OpenID,
		Nickname:     nickname,
		AvatarURL:    p.AvatarURL,
		AccessToken:  token,
		RawProfile:   p.Raw,
		Email:        p.Email,
	})
	if err != nil {
		return nil, fmt.Errorf("upserting identity: %w", err)
	}

	if ident.LinkedAccountID == nil && ident.Email == "" {
		return &LoginResult{Identity: ident}, nil
	}

	acc, err := l.store.LinkAccount(ctx, ident.ID, nickname)
	if err != nil {
		return nil, fmt.Errorf("linking account: %w", err)
	}
	return &LoginResult{Account: acc, Identity: ident}, nil
}

// SubmitEmail stores a user-submitted address on an unlinked identity and
// dispatches the signed confirmation link to it. The address stays
// unverified until the link is visited.
func (l *Linker) SubmitEmail(ctx context.Context, identityID uuid.UUID, address string) error {
	address = strings.TrimSpace(address)
	if _, err := mail.ParseAddress(address); err != nil || address == "" {
		return ErrInvalidEmail
	}

	ident, err := l.store.IdentityByID(ctx, identityID)
	if err != nil {
		return err
	}

	if err := l.store.SetIdentityEmail(ctx, ident.ID, address); err != nil {
		return fmt.Errorf("storing email: %w", err)
	}

	confirmURL := l.ConfirmURL(ident.ID)
	if err := l.sender.Send(address, email.ConfirmSubject, email.ConfirmBody(confirmURL)); err != nil {
		return fmt.Errorf("sending confirmation mail: %w", err)
	}
	return nil
}

// Confirm verifies a visited confirmation link and completes the linking.
// A bad signature fails closed with no state change. On success the local
// account is resolved or created exactly as for a direct-email callback,
// and a linking-complete notice is sent.
func (l *Linker) Confirm(ctx context.Context, identityID uuid.UUID, sig string) (*store.LocalAccount, error) {
	if !crypto.LinkVerify(l.linkSecret, identityID.String(), sig) {
		return nil, ErrInvalidSignature
	}

	ident, err := l.store.IdentityByID(ctx, identityID)
	if err != nil {
		return nil, err
	}

	nickname := strings.TrimSpace(ident.Nickname)
	if nickname == "" {
		nickname = generatedName()
	}

	acc, err := l.store.LinkAccount(ctx, ident.ID, nickname)
	if err != nil {
		return nil, fmt.Errorf("linking account: %w", err)
	}

	// The link is committed at this point; a lost notification is not a
	// reason to fail the flow.
	if err := l.sender.Send(ident.Email, email.LinkedSubject, email.LinkedBody(ident.ProviderType, l.siteURL)); err != nil {
		l.logger.Error("sending linked notification failed", "identity_id", ident.ID, "error", err)
	}

	return acc, nil
}

// ConfirmURL builds the signed confirmation URL for an identity.
func (l *Linker) ConfirmURL(identityID uuid.UUID) string {
	sign := crypto.LinkSign(l.linkSecret, identityID.String())
	return fmt.Sprintf("%s/oauth/emailconfirm/%s/%s.html", l.siteURL, identityID, sign)
}

// generatedName derives a unique-enough display name from the clock, in
// the same shape the username suffixing uses.
func generatedName() string {
	return fallbackNamePrefix + store.NameStamp()
}

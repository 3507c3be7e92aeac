package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is the pgx-backed Store implementation.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to the database and verifies the connection.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Postgres) Close() {
	s.pool.Close()
}

// EnabledProviderConfigs returns the enabled provider rows.
func (s *Postgres) EnabledProviderConfigs(ctx context.Context) ([]ProviderConfig, error) {
	const q = `
		SELECT provider_type, client_id, client_secret, callback_url, enabled
		FROM provider_configs
		WHERE enabled`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProviderConfig
	for rows.Next() {
		var c ProviderConfig
		if err := rows.Scan(&c.ProviderType, &c.ClientID, &c.ClientSecret, &c.CallbackURL, &c.Enabled); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const identityColumns = `id, provider_type, external_id, nickname, avatar_url,
	access_token, raw_profile, email, linked_account_id, created_at, updated_at`

func scanIdentity(row pgx.Row) (*LinkedIdentity, error) {
	var ident LinkedIdentity
	err := row.Scan(&ident.ID, &ident.ProviderType, &ident.ExternalID, &ident.Nickname,
		&ident.AvatarURL, &ident.AccessToken, &ident.RawProfile, &ident.Email,
		&ident.LinkedAccountID, &ident.CreatedAt, &ident.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ident, nil
}

// IdentityByID returns the identity with the given id.
func (s *Postgres) IdentityByID(ctx context.Context, id uuid.UUID) (*LinkedIdentity, error) {
	q := `SELECT ` + identityColumns + ` FROM linked_identities WHERE id = $1`
	return scanIdentity(s.pool.QueryRow(ctx, q, id))
}

// UpsertIdentity inserts or refreshes the identity keyed by
// (provider_type, external_id).
func (s *Postgres) UpsertIdentity(ctx context.Context, ident *LinkedIdentity) (*LinkedIdentity, error) {
	q := `
		INSERT INTO linked_identities
			(id, provider_type, external_id, nickname, avatar_url, access_token, raw_profile, email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (provider_type, external_id)
		DO UPDATE SET
			nickname     = EXCLUDED.nickname,
			avatar_url   = EXCLUDED.avatar_url,
			access_token = EXCLUDED.access_token,
			raw_profile  = EXCLUDED.raw_profile,
			email        = CASE WHEN EXCLUDED.email <> '' THEN EXCLUDED.email ELSE linked_identities.email END,
			updated_at   = NOW()
		RETURNING ` + identityColumns

	id := ident.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	return scanIdentity(s.pool.QueryRow(ctx, q,
		id, ident.ProviderType, ident.ExternalID, ident.Nickname,
		ident.AvatarURL, ident.AccessToken, ident.RawProfile, ident.Email))
}

// SetIdentityEmail stores a (still unverified) email on the identity.
func (s *Postgres) SetIdentityEmail(ctx context.Context, id uuid.UUID, email string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE linked_identities SET email = $2, updated_at = NOW() WHERE id = $1`, id, email)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AccountByID returns the account with the given id.
func (s *Postgres) AccountByID(ctx context.Context, id uuid.UUID) (*LocalAccount, error) {
	var acc LocalAccount
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, email, created_at FROM local_accounts WHERE id = $1`, id).
		Scan(&acc.ID, &acc.Username, &acc.Email, &acc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// LinkAccount runs the read-resolve-write critical section in a single
// transaction. The identity row lock serializes concurrent callbacks for
// the same identity; the second transaction observes the committed link
// and short-circuits.
func (s *Postgres) LinkAccount(ctx context.Context, identityID uuid.UUID, preferredUsername string) (*LocalAccount, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("beginning tx: %w", err)
	}
	defer tx.Rollback(ctx)

	q := `SELECT ` + identityColumns + ` FROM linked_identities WHERE id = $1 FOR UPDATE`
	ident, err := scanIdentity(tx.QueryRow(ctx, q, identityID))
	if err != nil {
		return nil, err
	}

	// Already linked: nothing to create.
	if ident.LinkedAccountID != nil {
		acc, err := accountByIDTx(ctx, tx, *ident.LinkedAccountID)
		if err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("committing tx: %w", err)
		}
		return acc, nil
	}

	if ident.Email == "" {
		return nil, ErrNoEmail
	}

	acc, err := getOrCreateAccountTx(ctx, tx, ident.Email, preferredUsername)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE linked_identities SET linked_account_id = $2, updated_at = NOW() WHERE id = $1`,
		identityID, acc.ID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing tx: %w", err)
	}
	return acc, nil
}

func accountByIDTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*LocalAccount, error) {
	var acc LocalAccount
	err := tx.QueryRow(ctx,
		`SELECT id, username, email, created_at FROM local_accounts WHERE id = $1`, id).
		Scan(&acc.ID, &acc.Username, &acc.Email, &acc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// getOrCreateAccountTx resolves an account by email inside the transaction.
// Inserts use ON CONFLICT DO NOTHING so a lost race or a username collision
// aborts nothing; collisions fall through to the next username candidate.
func getOrCreateAccountTx(ctx context.Context, tx pgx.Tx, email, preferredUsername string) (*LocalAccount, error) {
	selectByEmail := func() (*LocalAccount, error) {
		var acc LocalAccount
		err := tx.QueryRow(ctx,
			`SELECT id, username, email, created_at FROM local_accounts WHERE email = $1`, email).
			Scan(&acc.ID, &acc.Username, &acc.Email, &acc.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &acc, nil
	}

	if acc, err := selectByEmail(); err != nil || acc != nil {
		return acc, err
	}

	for _, username := range usernameCandidates(preferredUsername) {
		var acc LocalAccount
		err := tx.QueryRow(ctx, `
			INSERT INTO local_accounts (id, username, email, created_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT DO NOTHING
			RETURNING id, username, email, created_at`,
			uuid.New(), username, email).
			Scan(&acc.ID, &acc.Username, &acc.Email, &acc.CreatedAt)
		if err == nil {
			return &acc, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}

		// Insert conflicted. If the email landed meanwhile, use that row;
		// otherwise it was the username, try the next candidate.
		if acc, err := selectByEmail(); err != nil || acc != nil {
			return acc, err
		}
	}

	return nil, fmt.Errorf("store: could not allocate a unique username for %q", preferredUsername)
}

var _ Store = (*Postgres)(nil)

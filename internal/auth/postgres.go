package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"tokengate.org/internal/ids"
)

var _ TokenAdmin = (*PGStore)(nil)

// PGStore implements TokenAdmin on PostgreSQL. It expects a tokens table
// keyed by token_hash with a foreign key to users.
type PGStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db, now: time.Now}
}

// OpenPG opens a pgx-backed pool. The guard issues one short read per
// request, so the pool stays small.
func OpenPG(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("auth: open db: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

const tokenColumns = `id, user_id, token_hash, expires_at, revoked, revoked_at, created_at`

func (s *PGStore) Lookup(ctx context.Context, credential string) (*Token, error) {
	if strings.TrimSpace(credential) == "" {
		return nil, ErrInvalidInput
	}
	row := s.db.QueryRowContext(ctx,
		`select `+tokenColumns+` from tokens where token_hash=$1`, HashCredential(credential))
	var (
		tok       Token
		revokedAt sql.NullTime
	)
	err := row.Scan(&tok.ID, &tok.UserID, &tok.TokenHash, &tok.ExpiresAt, &tok.Revoked, &revokedAt, &tok.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		tok.RevokedAt = &t
	}
	return &tok, nil
}

func (s *PGStore) Create(ctx context.Context, credential string, tok *Token) error {
	if strings.TrimSpace(credential) == "" || tok == nil || tok.UserID == 0 {
		return ErrInvalidInput
	}
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	tok.TokenHash = HashCredential(credential)
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into tokens(id, user_id, token_hash, expires_at, revoked, created_at) values($1,$2,$3,$4,$5,$6)`,
		tok.ID, tok.UserID, tok.TokenHash, tok.ExpiresAt, tok.Revoked, tok.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

func (s *PGStore) Revoke(ctx context.Context, credential string) error {
	if strings.TrimSpace(credential) == "" {
		return ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx,
		`update tokens set revoked=true, revoked_at=coalesce(revoked_at, $1) where token_hash=$2`,
		s.now().UTC(), HashCredential(credential),
	)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	if n == 0 {
		return ErrTokenNotFound
	}
	return nil
}

func (s *PGStore) RevokeByUser(ctx context.Context, userID int64) (int64, error) {
	if userID == 0 {
		return 0, ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx,
		`update tokens set revoked=true, revoked_at=$1 where user_id=$2 and revoked=false`,
		s.now().UTC(), userID,
	)
	if err != nil {
		return 0, fmt.Errorf("revoke user tokens: %w", err)
	}
	return res.RowsAffected()
}

// PurgeDead deletes tokens that expired or were revoked before the cutoff.
func (s *PGStore) PurgeDead(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from tokens where expires_at < $1 or (revoked and revoked_at < $1)`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge tokens: %w", err)
	}
	return res.RowsAffected()
}

func (s *PGStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

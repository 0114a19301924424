package token

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// PostgresStore persists tokens in the auth_tokens table.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore builds a Postgres-backed token store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const tokenColumns = `token, type, user_id, payload, expires_at, created_at, used`

// Replace serializes issuers for the same (user, kind) with a transaction
// scoped advisory lock, then swaps the unused tokens for t.
func (s *PostgresStore) Replace(ctx context.Context, t Token) error {
	if err := checkToken(t); err != nil {
		return err
	}
	userID, err := uuid.Parse(t.UserID)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, t.UserID+":"+string(t.Kind)); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM auth_tokens WHERE user_id = $1 AND type = $2 AND used = false`,
		userID, string(t.Kind)); err != nil {
		return err
	}
	if err := insertToken(ctx, tx, userID, t); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Insert stores t.
func (s *PostgresStore) Insert(ctx context.Context, t Token) error {
	if err := checkToken(t); err != nil {
		return err
	}
	userID, err := uuid.Parse(t.UserID)
	if err != nil {
		return err
	}
	return insertToken(ctx, s.db, userID, t)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertToken(ctx context.Context, db execer, userID uuid.UUID, t Token) error {
	_, err := db.Exec(ctx, `INSERT INTO auth_tokens (`+tokenColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.Value, string(t.Kind), userID, t.Payload, t.ExpiresAt.UTC(), t.CreatedAt.UTC(), t.Used)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// Latest returns the newest live token of kind owned by userID.
func (s *PostgresStore) Latest(ctx context.Context, userID string, kind Kind, now time.Time) (Token, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return Token{}, ErrNotFound
	}
	return scanToken(s.db.QueryRow(ctx, `SELECT `+tokenColumns+` FROM auth_tokens
        WHERE user_id = $1 AND type = $2 AND used = false AND expires_at > $3
        ORDER BY created_at DESC LIMIT 1`, id, string(kind), now.UTC()))
}

// Get returns the token matching value and kind.
func (s *PostgresStore) Get(ctx context.Context, value string, kind Kind) (Token, error) {
	return scanToken(s.db.QueryRow(ctx, `SELECT `+tokenColumns+` FROM auth_tokens WHERE token = $1 AND type = $2`,
		value, string(kind)))
}

// MarkUsed performs a compare-and-swap on the used flag.
func (s *PostgresStore) MarkUsed(ctx context.Context, value string, kind Kind, now time.Time) (Token, error) {
	t, err := scanToken(s.db.QueryRow(ctx, `UPDATE auth_tokens SET used = true
        WHERE token = $1 AND type = $2 AND used = false AND expires_at > $3
        RETURNING `+tokenColumns, value, string(kind), now.UTC()))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Token{}, err
	}
	if _, getErr := s.Get(ctx, value, kind); getErr != nil {
		return Token{}, getErr
	}
	return Token{}, ErrUnavailable
}

func scanToken(row pgx.Row) (Token, error) {
	var (
		t      Token
		kind   string
		userID uuid.UUID
	)
	if err := row.Scan(&t.Value, &kind, &userID, &t.Payload, &t.ExpiresAt, &t.CreatedAt, &t.Used); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Token{}, ErrNotFound
		}
		return Token{}, err
	}
	t.Kind = Kind(kind)
	t.UserID = userID.String()
	t.ExpiresAt = t.ExpiresAt.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	return t, nil
}

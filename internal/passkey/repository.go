package passkey

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrCredentialNotFound is returned when no credential has the given id.
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrCredentialExists is returned when a credential id is already enrolled.
	ErrCredentialExists = errors.New("credential already enrolled")
)

const uniqueViolation = "23505"

// Repository persists enrolled credentials.
type Repository interface {
	Create(ctx context.Context, c Credential) error
	Get(ctx context.Context, id string) (Credential, error)
	ListByUser(ctx context.Context, userID string) ([]Credential, error)
	// UpdateCounter raises the stored counter to count; it never lowers it.
	UpdateCounter(ctx context.Context, id string, count uint32, usedAt time.Time) error
}

type memoryRepository struct {
	mu    sync.RWMutex
	creds map[string]Credential
}

// NewMemoryRepository returns an in-memory credential repository.
func NewMemoryRepository() Repository {
	return &memoryRepository{creds: make(map[string]Credential)}
}

func (r *memoryRepository) Create(_ context.Context, c Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.creds[c.ID]; ok {
		return ErrCredentialExists
	}
	r.creds[c.ID] = c
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.creds[id]
	if !ok {
		return Credential{}, ErrCredentialNotFound
	}
	return c, nil
}

func (r *memoryRepository) ListByUser(_ context.Context, userID string) ([]Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Credential
	for _, c := range r.creds {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepository) UpdateCounter(_ context.Context, id string, count uint32, usedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.creds[id]
	if !ok {
		return ErrCredentialNotFound
	}
	if count > c.SignCount {
		c.SignCount = count
	}
	c.LastUsedAt = &usedAt
	r.creds[id] = c
	return nil
}

// PostgresRepository stores credentials in the platform_credentials table.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed credential repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const credentialColumns = `credential_id, user_id, public_key, sign_count, aaguid, COALESCE(attachment, ''), transports,
        COALESCE(attestation_type, ''), credential_json, created_at, last_used_at`

// Create inserts a new credential.
func (r *PostgresRepository) Create(ctx context.Context, c Credential) error {
	userID, err := uuid.Parse(c.UserID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO platform_credentials
        (credential_id, user_id, public_key, sign_count, aaguid, attachment, transports, attestation_type, credential_json, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, userID, c.PublicKey, int64(c.SignCount), c.AAGUID, c.Attachment, c.Transports, c.AttestationType, c.Data,
		c.CreatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrCredentialExists
		}
		return err
	}
	return nil
}

// Get returns the credential with id.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Credential, error) {
	return scanCredential(r.db.QueryRow(ctx, `SELECT `+credentialColumns+` FROM platform_credentials WHERE credential_id = $1`, id))
}

// ListByUser returns the user's credentials, oldest first.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]Credential, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `SELECT `+credentialColumns+` FROM platform_credentials
        WHERE user_id = $1 ORDER BY created_at`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateCounter raises the stored counter and records the use time.
func (r *PostgresRepository) UpdateCounter(ctx context.Context, id string, count uint32, usedAt time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE platform_credentials
        SET sign_count = GREATEST(sign_count, $2), last_used_at = $3
        WHERE credential_id = $1`, id, int64(count), usedAt.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

func scanCredential(row pgx.Row) (Credential, error) {
	var (
		c        Credential
		userID   uuid.UUID
		count    int64
		lastUsed *time.Time
	)
	if err := row.Scan(&c.ID, &userID, &c.PublicKey, &count, &c.AAGUID, &c.Attachment, &c.Transports,
		&c.AttestationType, &c.Data, &c.CreatedAt, &lastUsed); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Credential{}, ErrCredentialNotFound
		}
		return Credential{}, err
	}
	c.UserID = userID.String()
	c.SignCount = uint32(count)
	c.CreatedAt = c.CreatedAt.UTC()
	if lastUsed != nil {
		t := lastUsed.UTC()
		c.LastUsedAt = &t
	}
	return c, nil
}

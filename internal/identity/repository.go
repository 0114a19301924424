package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrUserNotFound is returned when no user matches the lookup.
	ErrUserNotFound = errors.New("user not found")
	// ErrRegistrationNotFound is returned when no pending registration exists for a phone.
	ErrRegistrationNotFound = errors.New("registration request not found")
	// ErrPhoneTaken is returned when a user with the same phone already exists.
	ErrPhoneTaken = errors.New("phone already registered")
	// ErrUnknownRegion is returned when the user's region is missing from the directory.
	ErrUnknownRegion = errors.New("unknown region")
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// Repository persists users and pending registration requests.
type Repository interface {
	FindByID(ctx context.Context, id string) (User, error)
	FindByPhone(ctx context.Context, phone string) (User, error)
	UpsertRegistration(ctx context.Context, req RegistrationRequest) error
	FindRegistration(ctx context.Context, phone string) (RegistrationRequest, error)
	DeleteRegistration(ctx context.Context, phone string) error
	// ActivateRegistration inserts user and removes the pending request for
	// its phone in a single unit of work.
	ActivateRegistration(ctx context.Context, user User) error
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed identity repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const userColumns = `id, phone, COALESCE(email, ''), password_hash, first_name, last_name, COALESCE(patronymic, ''),
        COALESCE(snils, ''), date_of_birth, region_id, status, onboarding_step, is_verified, is_esia_verified,
        consent_given, consent_date, created_at, updated_at`

// FindByID fetches a user by identifier.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (User, error) {
	userID, err := uuid.Parse(id)
	if err != nil {
		return User{}, ErrUserNotFound
	}
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
}

// FindByPhone fetches a user by phone number.
func (r *PostgresRepository) FindByPhone(ctx context.Context, phone string) (User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE phone = $1`, phone))
}

// UpsertRegistration stores req, replacing any pending request for the same phone.
func (r *PostgresRepository) UpsertRegistration(ctx context.Context, req RegistrationRequest) error {
	_, err := r.db.Exec(ctx, `INSERT INTO registration_requests
        (phone, email, first_name, last_name, patronymic, snils, region_id, date_of_birth, password_hash, code, expires_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        ON CONFLICT (phone) DO UPDATE SET
            email = EXCLUDED.email,
            first_name = EXCLUDED.first_name,
            last_name = EXCLUDED.last_name,
            patronymic = EXCLUDED.patronymic,
            snils = EXCLUDED.snils,
            region_id = EXCLUDED.region_id,
            date_of_birth = EXCLUDED.date_of_birth,
            password_hash = EXCLUDED.password_hash,
            code = EXCLUDED.code,
            expires_at = EXCLUDED.expires_at,
            created_at = EXCLUDED.created_at`,
		req.Phone, nullable(req.Email), req.FirstName, req.LastName, nullable(req.Patronymic), nullable(req.SNILS),
		req.RegionID, req.DateOfBirth, req.PasswordHash, req.Code, req.ExpiresAt.UTC(), req.CreatedAt.UTC())
	return err
}

// FindRegistration returns the pending request for phone, expired or not.
func (r *PostgresRepository) FindRegistration(ctx context.Context, phone string) (RegistrationRequest, error) {
	row := r.db.QueryRow(ctx, `SELECT phone, COALESCE(email, ''), first_name, last_name, COALESCE(patronymic, ''),
        COALESCE(snils, ''), region_id, date_of_birth, password_hash, code, expires_at, created_at
        FROM registration_requests WHERE phone = $1`, phone)
	var req RegistrationRequest
	if err := row.Scan(&req.Phone, &req.Email, &req.FirstName, &req.LastName, &req.Patronymic, &req.SNILS,
		&req.RegionID, &req.DateOfBirth, &req.PasswordHash, &req.Code, &req.ExpiresAt, &req.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RegistrationRequest{}, ErrRegistrationNotFound
		}
		return RegistrationRequest{}, err
	}
	req.ExpiresAt = req.ExpiresAt.UTC()
	req.CreatedAt = req.CreatedAt.UTC()
	return req, nil
}

// DeleteRegistration removes the pending request for phone if present.
func (r *PostgresRepository) DeleteRegistration(ctx context.Context, phone string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM registration_requests WHERE phone = $1`, phone)
	return err
}

// ActivateRegistration creates the user and deletes its registration request atomically.
func (r *PostgresRepository) ActivateRegistration(ctx context.Context, user User) error {
	userID, err := uuid.Parse(user.ID)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	_, err = tx.Exec(ctx, `INSERT INTO users (id, phone, email, password_hash, first_name, last_name, patronymic, snils,
        date_of_birth, region_id, status, onboarding_step, is_verified, is_esia_verified, consent_given, consent_date,
        created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		userID, user.Phone, nullable(user.Email), user.PasswordHash, user.FirstName, user.LastName, nullable(user.Patronymic),
		nullable(user.SNILS), user.DateOfBirth, user.RegionID, string(user.Status), string(user.OnboardingStep),
		user.IsVerified, user.IsESIAVerified, user.ConsentGiven, user.ConsentDate, user.CreatedAt.UTC(), user.UpdatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case uniqueViolation:
				return ErrPhoneTaken
			case foreignKeyViolation:
				return ErrUnknownRegion
			}
		}
		return err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM registration_requests WHERE phone = $1`, user.Phone); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func scanUser(row pgx.Row) (User, error) {
	var (
		id          uuid.UUID
		status      string
		step        string
		consentDate *time.Time
		user        User
	)
	if err := row.Scan(&id, &user.Phone, &user.Email, &user.PasswordHash, &user.FirstName, &user.LastName,
		&user.Patronymic, &user.SNILS, &user.DateOfBirth, &user.RegionID, &status, &step, &user.IsVerified,
		&user.IsESIAVerified, &user.ConsentGiven, &consentDate, &user.CreatedAt, &user.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	user.ID = id.String()
	user.Status = Status(status)
	user.OnboardingStep = OnboardingStep(step)
	user.CreatedAt = user.CreatedAt.UTC()
	user.UpdatedAt = user.UpdatedAt.UTC()
	if consentDate != nil {
		c := consentDate.UTC()
		user.ConsentDate = &c
	}
	return user, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

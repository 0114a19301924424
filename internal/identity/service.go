package identity

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/lgota-app/lgota_auth/internal/apperr"
	"github.com/lgota-app/lgota_auth/internal/notification"
	"github.com/lgota-app/lgota_auth/internal/profile"
)

const defaultRegistrationTTL = 5 * time.Minute

var (
	errDuplicatePhone   = apperr.New(apperr.CodeDuplicatePhone, apperr.KindConflict, "User with this phone already exists")
	errNoRegistration   = apperr.New(apperr.CodeRegistrationNotFound, apperr.KindNotFound, "Registration request not found")
	errInvalidCode      = apperr.New(apperr.CodeInvalidCode, apperr.KindValidation, "Invalid verification code")
	errCodeExpired      = apperr.New(apperr.CodeCodeExpired, apperr.KindExpired, "Verification code expired")
	errUserNotFound     = apperr.New(apperr.CodeUserNotFound, apperr.KindNotFound, "User not found")
	errPhoneNotVerified = apperr.New(apperr.CodePhoneNotVerified, apperr.KindUnauthorized, "Phone number is not verified")
	errAccountInactive  = apperr.New(apperr.CodeAccountNotActive, apperr.KindUnauthorized, "Account is not active")
	errInvalidPassword  = apperr.New(apperr.CodeInvalidPassword, apperr.KindUnauthorized, "Invalid password")
	errUnknownRegion    = apperr.Validation("regionId does not match a known region")
)

// RegionLookup resolves region ids. profile.Directory satisfies it.
type RegionLookup interface {
	Region(ctx context.Context, id string) (profile.Region, error)
}

// Options tunes the identity service. Zero values select defaults; a nil
// Regions skips the region check.
type Options struct {
	RegistrationTTL time.Duration
	Codes           CodeGenerator
	Notifier        notification.Notifier
	Regions         RegionLookup
	Logger          *slog.Logger
	Now             func() time.Time
}

// Service manages registration, phone verification and password login.
type Service struct {
	repo     Repository
	hasher   *Hasher
	codes    CodeGenerator
	notifier notification.Notifier
	regions  RegionLookup
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a new identity service.
func NewService(repo Repository, hasher *Hasher, opts Options) *Service {
	s := &Service{
		repo:     repo,
		hasher:   hasher,
		codes:    opts.Codes,
		notifier: opts.Notifier,
		regions:  opts.Regions,
		ttl:      opts.RegistrationTTL,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if s.codes == nil {
		s.codes = RandomCode
	}
	if s.ttl <= 0 {
		s.ttl = defaultRegistrationTTL
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Register stages a pending registration for the phone and sends a
// verification code. It returns the phone the code was sent to.
func (s *Service) Register(ctx context.Context, in RegisterInput) (string, error) {
	in.normalize()
	if err := validateStruct(in); err != nil {
		return "", err
	}
	now := s.now().UTC()
	dob, err := parseBirthDate(in.DateOfBirth, now)
	if err != nil {
		return "", err
	}
	if err := s.checkRegion(ctx, in.RegionID); err != nil {
		return "", err
	}

	if _, err := s.repo.FindByPhone(ctx, in.Phone); err == nil {
		return "", errDuplicatePhone
	} else if !errors.Is(err, ErrUserNotFound) {
		return "", apperr.Internal(fmt.Errorf("find user by phone: %w", err))
	}

	hash, err := s.hasher.Hash(ctx, in.Password)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", apperr.Validation(passwordTooLong)
		}
		return "", apperr.Internal(fmt.Errorf("hash password: %w", err))
	}
	code, err := s.codes()
	if err != nil {
		return "", apperr.Internal(fmt.Errorf("generate code: %w", err))
	}

	req := RegistrationRequest{
		Phone:        in.Phone,
		Email:        in.Email,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Patronymic:   in.Patronymic,
		SNILS:        in.SNILS,
		RegionID:     in.RegionID,
		DateOfBirth:  dob,
		PasswordHash: hash,
		Code:         code,
		ExpiresAt:    now.Add(s.ttl),
		CreatedAt:    now,
	}
	if err := s.repo.UpsertRegistration(ctx, req); err != nil {
		return "", apperr.Internal(fmt.Errorf("upsert registration: %w", err))
	}

	if s.notifier != nil {
		msg := notification.Message{
			Kind:        notification.KindPhoneVerification,
			Destination: in.Phone,
			Body:        fmt.Sprintf("Your verification code: %s", code),
		}
		if err := s.notifier.Send(ctx, msg); err != nil {
			return "", apperr.Internal(fmt.Errorf("send verification code: %w", err))
		}
	}

	s.logger.Info("registration requested", slog.String("phone", notification.MaskPhone(in.Phone)), slog.Time("expires_at", req.ExpiresAt))
	return in.Phone, nil
}

// VerifyPhone confirms a pending registration and materializes the user.
func (s *Service) VerifyPhone(ctx context.Context, phone, code string) (User, error) {
	in := verifyInput{Phone: NormalizePhone(phone), Code: code}
	if err := validateStruct(in); err != nil {
		return User{}, err
	}

	req, err := s.repo.FindRegistration(ctx, in.Phone)
	if err != nil {
		if errors.Is(err, ErrRegistrationNotFound) {
			return User{}, errNoRegistration
		}
		return User{}, apperr.Internal(fmt.Errorf("find registration: %w", err))
	}
	if subtle.ConstantTimeCompare([]byte(req.Code), []byte(in.Code)) != 1 {
		return User{}, errInvalidCode
	}
	now := s.now().UTC()
	if req.Expired(now) {
		s.discardRegistration(ctx, in.Phone)
		return User{}, errCodeExpired
	}

	if _, err := s.repo.FindByPhone(ctx, in.Phone); err == nil {
		s.discardRegistration(ctx, in.Phone)
		return User{}, errDuplicatePhone
	} else if !errors.Is(err, ErrUserNotFound) {
		return User{}, apperr.Internal(fmt.Errorf("find user by phone: %w", err))
	}

	consent := now
	user := User{
		ID:             uuid.NewString(),
		Phone:          req.Phone,
		Email:          req.Email,
		PasswordHash:   req.PasswordHash,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Patronymic:     req.Patronymic,
		SNILS:          req.SNILS,
		DateOfBirth:    req.DateOfBirth,
		RegionID:       req.RegionID,
		Status:         StatusActive,
		OnboardingStep: StepSMSVerification.Next(),
		IsVerified:     true,
		ConsentGiven:   true,
		ConsentDate:    &consent,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.ActivateRegistration(ctx, user); err != nil {
		if errors.Is(err, ErrPhoneTaken) {
			s.discardRegistration(ctx, in.Phone)
			return User{}, errDuplicatePhone
		}
		if errors.Is(err, ErrUnknownRegion) {
			s.discardRegistration(ctx, in.Phone)
			return User{}, errUnknownRegion
		}
		return User{}, apperr.Internal(fmt.Errorf("activate registration: %w", err))
	}

	s.logger.Info("phone verified", slog.String("user_id", user.ID))
	return user, nil
}

// Authenticate verifies phone/password credentials.
func (s *Service) Authenticate(ctx context.Context, phone, password string) (User, error) {
	in := loginInput{Phone: NormalizePhone(phone), Password: password}
	if err := validateStruct(in); err != nil {
		return User{}, err
	}

	user, err := s.repo.FindByPhone(ctx, in.Phone)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			return User{}, apperr.Internal(fmt.Errorf("find user by phone: %w", err))
		}
		// A pending registration means the phone is known but unconfirmed.
		if req, regErr := s.repo.FindRegistration(ctx, in.Phone); regErr == nil && !req.Expired(s.now()) {
			return User{}, errPhoneNotVerified
		}
		return User{}, errUserNotFound
	}
	if user.OnboardingStep == StepSMSVerification {
		return User{}, errPhoneNotVerified
	}
	if user.Status != StatusActive {
		return User{}, errAccountInactive
	}
	if !user.HasPassword() {
		return User{}, errInvalidPassword
	}
	ok, err := s.hasher.Compare(ctx, user.PasswordHash, in.Password)
	if err != nil {
		return User{}, apperr.Internal(fmt.Errorf("compare password: %w", err))
	}
	if !ok {
		return User{}, errInvalidPassword
	}
	return user, nil
}

// Profile returns the user with the given id.
func (s *Service) Profile(ctx context.Context, userID string) (User, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return User{}, errUserNotFound
		}
		return User{}, apperr.Internal(fmt.Errorf("find user: %w", err))
	}
	return user, nil
}

// discardRegistration deletes a pending request; failures are only logged.
func (s *Service) discardRegistration(ctx context.Context, phone string) {
	if err := s.repo.DeleteRegistration(ctx, phone); err != nil {
		s.logger.Warn("discard registration request", slog.String("phone", notification.MaskPhone(phone)), slog.Any("error", err))
	}
}

func (s *Service) checkRegion(ctx context.Context, id string) error {
	if s.regions == nil {
		return nil
	}
	if _, err := s.regions.Region(ctx, id); err != nil {
		if errors.Is(err, profile.ErrRegionNotFound) {
			return errUnknownRegion
		}
		return apperr.Internal(fmt.Errorf("find region: %w", err))
	}
	return nil
}

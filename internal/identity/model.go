package identity

import (
	"strings"
	"time"
)

// Status is the account lifecycle state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusActive    Status = "ACTIVE"
	StatusInactive  Status = "INACTIVE"
	StatusSuspended Status = "SUSPENDED"
	StatusRejected  Status = "REJECTED"
	StatusBlocked   Status = "BLOCKED"
)

// OnboardingStep tracks forward-only progress through account setup.
type OnboardingStep string

const (
	StepSMSVerification OnboardingStep = "SMS_VERIFICATION"
	StepESIAAuth        OnboardingStep = "ESIA_AUTH"
	StepProfileSetup    OnboardingStep = "PROFILE_SETUP"
	StepComplete        OnboardingStep = "COMPLETE"
)

var stepOrder = []OnboardingStep{StepSMSVerification, StepESIAAuth, StepProfileSetup, StepComplete}

func (s OnboardingStep) rank() int {
	for i, step := range stepOrder {
		if step == s {
			return i
		}
	}
	return -1
}

// Next returns the following onboarding step; COMPLETE is terminal.
func (s OnboardingStep) Next() OnboardingStep {
	r := s.rank()
	if r < 0 || r+1 >= len(stepOrder) {
		return StepComplete
	}
	return stepOrder[r+1]
}

// CanAdvanceTo reports whether moving to target keeps the step monotonic.
func (s OnboardingStep) CanAdvanceTo(target OnboardingStep) bool {
	return target.rank() >= s.rank() && target.rank() >= 0
}

// User represents a registered account.
type User struct {
	ID             string
	Phone          string
	Email          string
	PasswordHash   []byte
	FirstName      string
	LastName       string
	Patronymic     string
	SNILS          string
	DateOfBirth    time.Time
	RegionID       string
	Status         Status
	OnboardingStep OnboardingStep
	IsVerified     bool
	IsESIAVerified bool
	ConsentGiven   bool
	ConsentDate    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasPassword reports whether password login is available for the account.
func (u User) HasPassword() bool {
	return len(u.PasswordHash) > 0
}

// FullName joins last, first and patronymic names.
func (u User) FullName() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{u.LastName, u.FirstName, u.Patronymic} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// DisplayName is the short name shown on login prompts.
func (u User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Phone
	}
	return name
}

// RegistrationRequest stages an unconfirmed registration keyed by phone.
type RegistrationRequest struct {
	Phone        string
	Email        string
	FirstName    string
	LastName     string
	Patronymic   string
	SNILS        string
	RegionID     string
	DateOfBirth  time.Time
	PasswordHash []byte
	Code         string
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// Expired reports whether the request is past its deadline at now.
func (r RegistrationRequest) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// SafeUser is the client-facing user view with credentials stripped.
type SafeUser struct {
	ID                        string         `json:"id"`
	Phone                     string         `json:"phone"`
	Email                     string         `json:"email,omitempty"`
	FirstName                 string         `json:"firstName"`
	LastName                  string         `json:"lastName"`
	Patronymic                string         `json:"patronymic,omitempty"`
	SNILS                     string         `json:"snils,omitempty"`
	DateOfBirth               string         `json:"dateOfBirth,omitempty"`
	RegionID                  string         `json:"regionId"`
	Status                    Status         `json:"status"`
	OnboardingStep            OnboardingStep `json:"onboardingStep"`
	IsVerified                bool           `json:"isVerified"`
	IsESIAVerified            bool           `json:"isEsiaVerified"`
	ConsentGiven              bool           `json:"consentGiven"`
	ConsentDate               *time.Time     `json:"consentDate,omitempty"`
	CreatedAt                 time.Time      `json:"createdAt"`
	CommercialOffersAvailable bool           `json:"commercialOffersAvailable"`
}

// NewSafeUser projects u into its redacted view.
func NewSafeUser(u User) SafeUser {
	var dob string
	if !u.DateOfBirth.IsZero() {
		dob = u.DateOfBirth.Format(dateLayout)
	}
	return SafeUser{
		ID:                        u.ID,
		Phone:                     u.Phone,
		Email:                     u.Email,
		FirstName:                 u.FirstName,
		LastName:                  u.LastName,
		Patronymic:                u.Patronymic,
		SNILS:                     u.SNILS,
		DateOfBirth:               dob,
		RegionID:                  u.RegionID,
		Status:                    u.Status,
		OnboardingStep:            u.OnboardingStep,
		IsVerified:                u.IsVerified,
		IsESIAVerified:            u.IsESIAVerified,
		ConsentGiven:              u.ConsentGiven,
		ConsentDate:               u.ConsentDate,
		CreatedAt:                 u.CreatedAt,
		CommercialOffersAvailable: u.IsESIAVerified,
	}
}

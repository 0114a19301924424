package identity

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/lgota-app/lgota_auth/internal/apperr"
)

const dateLayout = "2006-01-02"

// bcrypt rejects input longer than 72 bytes.
const (
	maxPasswordBytes = 72
	passwordTooLong  = "Password must be at most 72 bytes"
)

var phonePattern = regexp.MustCompile(`^79\d{9}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("phone_ru", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("bcrypt_len", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= maxPasswordBytes
	})
	return v
}

// RegisterInput captures the registration form.
type RegisterInput struct {
	Email       string `json:"email"       validate:"omitempty,email"`
	FirstName   string `json:"firstName"   validate:"required,max=100"`
	LastName    string `json:"lastName"    validate:"required,max=100"`
	Patronymic  string `json:"patronymic"  validate:"omitempty,max=100"`
	Phone       string `json:"phone"       validate:"required,phone_ru"`
	SNILS       string `json:"snils"       validate:"omitempty,numeric,len=11"`
	RegionID    string `json:"regionId"    validate:"required"`
	DateOfBirth string `json:"dateOfBirth" validate:"required,datetime=2006-01-02"`
	Password    string `json:"password"    validate:"required,min=6,bcrypt_len"`
}

type verifyInput struct {
	Phone string `validate:"required,phone_ru"`
	Code  string `validate:"required,numeric,len=4"`
}

type loginInput struct {
	Phone    string `validate:"required"`
	Password string `validate:"required"`
}

func (in *RegisterInput) normalize() {
	in.Email = strings.TrimSpace(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Patronymic = strings.TrimSpace(in.Patronymic)
	in.Phone = NormalizePhone(in.Phone)
	in.SNILS = strings.Map(func(r rune) rune {
		if r == '-' || r == ' ' {
			return -1
		}
		return r
	}, in.SNILS)
	in.RegionID = strings.TrimSpace(in.RegionID)
	in.DateOfBirth = strings.TrimSpace(in.DateOfBirth)
}

// NormalizePhone strips formatting characters and a leading plus sign.
func NormalizePhone(phone string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '+':
			return -1
		}
		return r
	}, strings.TrimSpace(phone))
}

func validateStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return apperr.Validation(describe(fieldErrs[0]))
		}
		return apperr.Validation(err.Error())
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "phone_ru":
		return "Phone must be in format 79XXXXXXXXX"
	case "email":
		return "email is invalid"
	case "datetime":
		return fmt.Sprintf("%s must be a date in YYYY-MM-DD format", field)
	case "min":
		if field == "Password" {
			return "Password must be at least 6 characters long"
		}
		return fmt.Sprintf("%s is too short", field)
	case "bcrypt_len":
		return passwordTooLong
	case "max":
		return fmt.Sprintf("%s is too long", field)
	case "len", "numeric":
		if field == "Code" {
			return "Verification code must be 4 digits"
		}
		return fmt.Sprintf("%s has invalid format", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

func parseBirthDate(value string, now time.Time) (time.Time, error) {
	dob, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, apperr.Validation("dateOfBirth must be a date in YYYY-MM-DD format")
	}
	if dob.After(now) {
		return time.Time{}, apperr.Validation("dateOfBirth cannot be in the future")
	}
	return dob, nil
}

package dto

import (
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/nyaruka/phonenumbers"

	"github.com/spec-kit/account-service/internal/domain"
	apperrors "github.com/spec-kit/account-service/pkg/util"
)

// ValidationRules carries the configurable limits applied to request payloads.
type ValidationRules struct {
	MinPasswordLength  int
	DefaultPhoneRegion string
}

// RegisterRequest payload for new users.
type RegisterRequest struct {
	Name        string  `json:"name"`
	Email       string  `json:"email"`
	Password    string  `json:"password"`
	NationalID  *string `json:"national_id"`
	PhoneNumber *string `json:"phone_number"`
	Address     *string `json:"address"`
}

// Normalize trims input and canonicalises the email and phone number.
func (r *RegisterRequest) Normalize(rules ValidationRules) error {
	r.Name = strings.TrimSpace(r.Name)
	r.Email = NormalizeEmail(r.Email)
	r.NationalID = trimmed(r.NationalID)
	r.Address = trimmed(r.Address)
	r.PhoneNumber = trimmed(r.PhoneNumber)

	err := validation.ValidateStruct(r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(rules.MinPasswordLength, 128)),
		validation.Field(&r.NationalID, validation.Length(1, 64)),
		validation.Field(&r.Address, validation.Length(1, 500)),
	)
	details := validationDetails(err)
	if r.PhoneNumber != nil {
		phone, perr := NormalizePhone(*r.PhoneNumber, rules.DefaultPhoneRegion)
		if perr != nil {
			details["phone_number"] = perr.Error()
		} else {
			r.PhoneNumber = &phone
		}
	}
	if len(details) > 0 {
		return apperrors.NewValidationError("invalid registration payload", details)
	}
	return nil
}

// LoginRequest payload for login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Normalize validates the credentials shape. Password rules are not applied
// here so that old passwords keep working when the policy tightens.
func (r *LoginRequest) Normalize() error {
	r.Email = NormalizeEmail(r.Email)
	err := validation.ValidateStruct(r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
	if details := validationDetails(err); len(details) > 0 {
		return apperrors.NewValidationError("invalid login payload", details)
	}
	return nil
}

// RefreshRequest carries the refresh token to exchange.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Normalize checks the token is present.
func (r *RefreshRequest) Normalize() error {
	r.RefreshToken = strings.TrimSpace(r.RefreshToken)
	err := validation.ValidateStruct(r,
		validation.Field(&r.RefreshToken, validation.Required),
	)
	if details := validationDetails(err); len(details) > 0 {
		return apperrors.NewValidationError("invalid refresh payload", details)
	}
	return nil
}

// UpdateUserRequest is a partial profile edit. An omitted key leaves the
// field untouched, an explicit null or a blank string clears it. Email
// cannot be changed.
type UpdateUserRequest struct {
	Name        domain.Optional[string] `json:"name"`
	NationalID  domain.Optional[string] `json:"national_id"`
	PhoneNumber domain.Optional[string] `json:"phone_number"`
	Address     domain.Optional[string] `json:"address"`
	Email       domain.Optional[string] `json:"email"`
}

// ToUpdate validates the request and converts it into a domain update.
func (r *UpdateUserRequest) ToUpdate(rules ValidationRules) (domain.UserProfileUpdate, error) {
	details := map[string]any{}

	if r.Email.Present {
		details["email"] = "email cannot be changed"
	}
	if r.Name.Present {
		if r.Name.Value == nil {
			details["name"] = "cannot be cleared"
		} else {
			name := strings.TrimSpace(*r.Name.Value)
			if err := validation.Validate(name, validation.Required, validation.Length(1, 200)); err != nil {
				details["name"] = err.Error()
			}
			r.Name.Value = &name
		}
	}
	if r.NationalID.Present && r.NationalID.Value != nil {
		r.NationalID.Value = trimmed(r.NationalID.Value)
		if err := validation.Validate(r.NationalID.Value, validation.Length(1, 64)); err != nil {
			details["national_id"] = err.Error()
		}
	}
	if r.Address.Present && r.Address.Value != nil {
		r.Address.Value = trimmed(r.Address.Value)
		if err := validation.Validate(r.Address.Value, validation.Length(1, 500)); err != nil {
			details["address"] = err.Error()
		}
	}
	if r.PhoneNumber.Present && r.PhoneNumber.Value != nil {
		r.PhoneNumber.Value = trimmed(r.PhoneNumber.Value)
	}
	if r.PhoneNumber.Present && r.PhoneNumber.Value != nil {
		phone, err := NormalizePhone(*r.PhoneNumber.Value, rules.DefaultPhoneRegion)
		if err != nil {
			details["phone_number"] = err.Error()
		} else {
			r.PhoneNumber.Value = &phone
		}
	}

	update := domain.UserProfileUpdate{
		Name:        r.Name,
		NationalID:  r.NationalID,
		PhoneNumber: r.PhoneNumber,
		Address:     r.Address,
	}
	if len(details) == 0 && update.IsEmpty() {
		return update, apperrors.NewValidationError("no fields to update", nil)
	}
	if len(details) > 0 {
		return update, apperrors.NewValidationError("invalid update payload", details)
	}
	return update, nil
}

// UserResponse is the public view of a user. The password hash never leaves
// the service.
type UserResponse struct {
	ID          int64     `json:"id"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	NationalID  *string   `json:"national_id"`
	PhoneNumber *string   `json:"phone_number"`
	Address     *string   `json:"address"`
	Roles       []string  `json:"roles,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewUserResponse maps a domain user.
func NewUserResponse(user *domain.User, roles []domain.RoleType) UserResponse {
	resp := UserResponse{
		ID:          user.ID,
		Email:       user.Email,
		Name:        user.Name,
		NationalID:  user.NationalID,
		PhoneNumber: user.PhoneNumber,
		Address:     user.Address,
		CreatedAt:   user.CreatedAt,
		UpdatedAt:   user.UpdatedAt,
	}
	for _, role := range roles {
		resp.Roles = append(resp.Roles, string(role))
	}
	return resp
}

// AuthResponse standard response for auth endpoints.
type AuthResponse struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	TokenType        string    `json:"token_type"`
}

// NewAuthResponse maps a token pair.
func NewAuthResponse(pair *domain.TokenPair) AuthResponse {
	return AuthResponse{
		AccessToken:      pair.AccessToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshToken:     pair.RefreshToken,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		TokenType:        "Bearer",
	}
}

// NormalizeEmail lowercases and trims an address. Stores match emails exactly,
// so every entry point must pass through here.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone parses a number and returns it in E.164 form.
func NormalizePhone(raw, region string) (string, error) {
	num, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return "", errors.New("must be a valid phone number")
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", errors.New("must be a valid phone number")
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// trimmed returns nil for a missing or blank value so optional columns hold
// NULL rather than an empty string.
func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func validationDetails(err error) map[string]any {
	details := map[string]any{}
	if err == nil {
		return details
	}
	var fieldErrs validation.Errors
	if errors.As(err, &fieldErrs) {
		for field, ferr := range fieldErrs {
			details[field] = ferr.Error()
		}
		return details
	}
	details["payload"] = err.Error()
	return details
}

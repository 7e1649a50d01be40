// Package validation checks form input before it is sent to the API.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// Registration is the sign-up form.
type Registration struct {
	FirstName       string `json:"firstName" form:"firstName" validate:"required,personname"`
	LastName        string `json:"lastName" form:"lastName" validate:"required,personname"`
	Email           string `json:"email" form:"email" validate:"required,email"`
	Password        string `json:"password" form:"password" validate:"required,min=6"`
	ConfirmPassword string `json:"confirmPassword" form:"confirmPassword" validate:"required,eqfield=Password"`
}

// Normalize trims the name and email fields.
func (r *Registration) Normalize() {
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.LastName = strings.TrimSpace(r.LastName)
	r.Email = strings.TrimSpace(r.Email)
}

// Login is the sign-in form.
type Login struct {
	Email    string `json:"email" form:"email" validate:"required,email"`
	Password string `json:"password" form:"password" validate:"required"`
}

// Name is the profile name form.
type Name struct {
	FirstName string `json:"firstName" form:"firstName" validate:"required,personname"`
	LastName  string `json:"lastName" form:"lastName" validate:"required,personname"`
}

// Normalize trims both names.
func (n *Name) Normalize() {
	n.FirstName = strings.TrimSpace(n.FirstName)
	n.LastName = strings.TrimSpace(n.LastName)
}

// PasswordChange is the profile password form.
type PasswordChange struct {
	OldPassword     string `json:"oldPassword" form:"oldPassword" validate:"required"`
	NewPassword     string `json:"newPassword" form:"newPassword" validate:"required,min=6,nefield=OldPassword"`
	ConfirmPassword string `json:"confirmPassword" form:"confirmPassword" validate:"required,eqfield=NewPassword"`
}

// EmailChange is the profile email form.
type EmailChange struct {
	NewEmail string `json:"newEmail" form:"newEmail" validate:"required,email"`
	Password string `json:"password" form:"password" validate:"required"`
}

func (e *EmailChange) Normalize() {
	e.NewEmail = strings.TrimSpace(e.NewEmail)
}

// ResetRequest is the "forgot password" form.
type ResetRequest struct {
	Email string `json:"email" form:"email" validate:"required,email"`
}

func (r *ResetRequest) Normalize() {
	r.Email = strings.TrimSpace(r.Email)
}

// ResetConfirm is the new password form reached from a reset link.
type ResetConfirm struct {
	Password        string `json:"password" form:"password" validate:"required,min=6"`
	ConfirmPassword string `json:"confirmPassword" form:"confirmPassword" validate:"required,eqfield=Password"`
}

// FieldErrors maps a form field (by its JSON name) to a message.
type FieldErrors map[string]string

func (f FieldErrors) Error() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, f[k]))
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

// Validator validates forms.
type Validator struct {
	validate *validator.Validate
}

// New creates a Validator with the custom rules registered.
func New() *Validator {
	validate := validator.New(validator.WithRequiredStructEnabled())

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	// personname: at least 2 letters long, no digits.
	validate.RegisterValidation("personname", func(fl validator.FieldLevel) bool {
		value := fl.Field().String()
		if len([]rune(value)) < 2 {
			return false
		}
		for _, r := range value {
			if unicode.IsDigit(r) {
				return false
			}
		}
		return true
	})

	return &Validator{validate: validate}
}

// Normalizer is implemented by forms whose fields are cleaned up before
// validation. Passwords are never touched.
type Normalizer interface {
	Normalize()
}

// Struct validates form and returns FieldErrors on failure. A pointer to a
// Normalizer is normalized in place first, so the caller sends exactly the
// values that were validated.
func (v *Validator) Struct(form any) error {
	if n, ok := form.(Normalizer); ok {
		n.Normalize()
	}
	err := v.validate.Struct(form)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	fields := make(FieldErrors, len(verrs))
	for _, fe := range verrs {
		if _, seen := fields[fe.Field()]; !seen {
			fields[fe.Field()] = message(fe)
		}
	}
	return fields
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		switch fe.Field() {
		case "email", "newEmail":
			return "Email is required"
		case "password", "newPassword":
			return "Password is required"
		case "confirmPassword":
			return "Confirm password is required"
		default:
			return "This field is required"
		}
	case "email":
		return "Email is not valid"
	case "min":
		return fmt.Sprintf("At least %s characters", fe.Param())
	case "eqfield":
		return "Passwords must match"
	case "nefield":
		return "New password must differ from the old one"
	case "personname":
		value, _ := fe.Value().(string)
		if strings.IndexFunc(value, unicode.IsDigit) >= 0 {
			return "Must not contain numbers"
		}
		return "Must be at least 2 letters long"
	default:
		return fmt.Sprintf("Failed %s validation", fe.Tag())
	}
}

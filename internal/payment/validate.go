package payment

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/payment-core/internal/card"
)

var (
	structValidator = validator.New(validator.WithRequiredStructEnabled())
	cvcPattern      = regexp.MustCompile(`^\d{3,4}$`)
)

// Validate checks a payment request for structural correctness before any
// provider call. It runs synchronously, performs no I/O, and short-circuits on
// the first failing rule with a human-readable validation error.
func Validate(data PaymentData) *ResultError {
	if err := structValidator.Var(data.Amount, "gt=0"); err != nil {
		return validationError("amount must be greater than zero")
	}
	if err := structValidator.Var(data.Currency, "len=3,alpha"); err != nil {
		return validationError("currency must be a 3-letter ISO code")
	}
	if data.Method.Type == MethodCard {
		if data.Method.Card == nil {
			return validationError("card details are required for card payments")
		}
		if detail := validateCard(*data.Method.Card); detail != "" {
			return validationError(detail)
		}
	}
	if err := structValidator.Var(strings.TrimSpace(data.Method.BillingAddress.Line1), "required"); err != nil {
		return validationError("billing address line1 is required")
	}
	if data.Customer != nil {
		if err := structValidator.Struct(data.Customer); err != nil {
			return validationError("customer email is invalid")
		}
	}
	return nil
}

func validateCard(c CardInput) string {
	if !card.ValidNumber(c.Number) {
		return "card number is invalid"
	}
	if c.ExpiryMonth < 1 || c.ExpiryMonth > 12 {
		return fmt.Sprintf("expiry month %d is out of range", c.ExpiryMonth)
	}
	if expired(c.ExpiryMonth, c.ExpiryYear, time.Now()) {
		return "card has expired"
	}
	if !cvcPattern.MatchString(c.CVC) {
		return "security code must be 3 or 4 digits"
	}
	return ""
}

// expired reports whether (month, year) lies strictly before the current
// year/month pair. A card expiring this month is still valid.
func expired(month, year int, now time.Time) bool {
	if year != now.Year() {
		return year < now.Year()
	}
	return month < int(now.Month())
}

func validationError(message string) *ResultError {
	return &ResultError{
		Code:    "validation_error",
		Message: message,
		Type:    ErrTypeValidation,
	}
}

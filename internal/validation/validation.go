package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"offer-attribution/internal/models"
)

var (
	idRegex = regexp.MustCompile(`^[0-9A-Za-z_-]{1,64}$`)

	offerTypes = map[string]bool{
		models.OfferTypeBOGO:          true,
		models.OfferTypeDiscount:      true,
		models.OfferTypeInformational: true,
	}
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

func ValidateOffer(offer models.Offer) error {
	if err := ValidateRequired(offer.ID, "id"); err != nil {
		return err
	}

	if !offerTypes[offer.OfferType] {
		return &ValidationError{
			Field:   "offer_type",
			Message: fmt.Sprintf("must be one of bogo, discount, informational (got %q)", offer.OfferType),
		}
	}

	if offer.Duration < 0 {
		return &ValidationError{
			Field:   "duration",
			Message: "must be non-negative",
		}
	}

	if offer.Reward < 0 {
		return &ValidationError{
			Field:   "reward",
			Message: "must be non-negative",
		}
	}

	if offer.Difficulty < 0 {
		return &ValidationError{
			Field:   "difficulty",
			Message: "must be non-negative",
		}
	}

	return nil
}

// ValidatePortfolio validates each offer and rejects duplicate ids.
func ValidatePortfolio(offers []models.Offer) error {
	seen := make(map[string]bool, len(offers))
	for i, offer := range offers {
		if err := ValidateOffer(offer); err != nil {
			return fmt.Errorf("invalid offer at index %d: %w", i, err)
		}
		if seen[offer.ID] {
			return &ValidationError{
				Field:   fmt.Sprintf("portfolio[%d].id", i),
				Message: fmt.Sprintf("duplicate offer id: %s", offer.ID),
			}
		}
		seen[offer.ID] = true
	}
	return nil
}

func ValidateEvent(event models.Event) error {
	if err := ValidateRequired(event.Person, "person"); err != nil {
		return err
	}

	if event.Time < 0 {
		return &ValidationError{
			Field:   "time",
			Message: "must be non-negative",
		}
	}

	switch {
	case event.Kind == models.EventTransaction:
		if event.OfferID != nil {
			return &ValidationError{
				Field:   "value",
				Message: "transaction must not carry an offer id",
			}
		}
		if event.Amount.Valid && event.Amount.Decimal.IsNegative() {
			return &ValidationError{
				Field:   "amount",
				Message: "must be non-negative",
			}
		}
	case event.Kind.IsOffer():
		if event.Amount.Valid {
			return &ValidationError{
				Field:   "value",
				Message: "offer event must not carry an amount",
			}
		}
	default:
		return &ValidationError{
			Field:   "event",
			Message: fmt.Sprintf("unknown event %q", event.Kind),
		}
	}

	return nil
}

// ValidateEvents validates every event, stopping at the first failure.
func ValidateEvents(events []models.Event) error {
	for i, event := range events {
		if err := ValidateEvent(event); err != nil {
			return fmt.Errorf("invalid event at index %d: %w", i, err)
		}
	}
	return nil
}

func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}

// ValidateRequired checks that an opaque identifier is present. Customer and
// offer ids are not restricted to any alphabet.
func ValidateRequired(value, fieldName string) error {
	if SanitizeString(value) == "" {
		return &ValidationError{
			Field:   fieldName,
			Message: "is required",
		}
	}
	return nil
}

// ValidateID checks ids minted by this service, such as run ids in URLs.
func ValidateID(id, fieldName string) error {
	if id == "" {
		return &ValidationError{
			Field:   fieldName,
			Message: "is required",
		}
	}

	id = SanitizeString(id)

	if !idRegex.MatchString(id) {
		return &ValidationError{
			Field:   fieldName,
			Message: "must be 1-64 letters, digits, '-' or '_'",
		}
	}

	return nil
}

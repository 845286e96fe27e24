package naming

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Suffix is the parent domain every registered name lives under
const Suffix = ".base.eth"

var (
	ErrValidation           = errors.New("invalid name")
	ErrAvailabilityConflict = errors.New("name is already taken")
)

var validate = validator.New()

type labelInput struct {
	Label string `validate:"required,alphanum,min=3"`
}

// ParseName normalizes raw into a lowercase <label>.base.eth name.
func ParseName(raw string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if !strings.HasSuffix(name, Suffix) {
		return "", fmt.Errorf("%w: %q must end with %s", ErrValidation, raw, Suffix)
	}

	if err := validate.Struct(labelInput{Label: Label(name)}); err != nil {
		return "", fmt.Errorf("%w: %q needs at least 3 letters or digits", ErrValidation, raw)
	}
	return name, nil
}

// Label strips the parent domain from a name
func Label(name string) string {
	return strings.TrimSuffix(name, Suffix)
}

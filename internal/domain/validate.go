package domain

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateStruct checks v against its validate tags and reports failures as ErrInvalidInput.
func ValidateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return errors.Wrap(ErrInvalidInput, err.Error())
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fe.Namespace()+": failed "+fe.Tag())
	}
	return errors.Wrap(ErrInvalidInput, strings.Join(msgs, "; "))
}

func ValidateEventID(id string) error {
	if strings.TrimSpace(id) == "" || len(id) > 256 || strings.ContainsAny(id, "/\\ ") {
		return errors.Wrapf(ErrInvalidInput, "invalid event id %q", id)
	}
	return nil
}

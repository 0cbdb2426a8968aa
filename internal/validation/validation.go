package validation

import (
	"sync"

	"github.com/go-playground/validator/v10"

	"example.com/backstage/services/inventory/internal/domain"
)

var (
	validate *validator.Validate
	once     sync.Once
)

// Validator returns the shared request validator
func Validator() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Struct validates a request struct, folding validator failures into the
// workflow error taxonomy so handlers report one shape.
func Struct(s interface{}) error {
	if err := Validator().Struct(s); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			f := verrs[0]
			return domain.Errorf(domain.KindValidation,
				"field %s failed validation on %s", f.Field(), f.Tag())
		}
		return domain.Errorf(domain.KindValidation, "invalid request: %v", err)
	}
	return nil
}

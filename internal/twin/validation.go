package twin

import (
	"errors"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/pitabwire/checkoutparity/model"
)

// MsgInvalidFields prefixes validation failures that have no dedicated
// message.
const MsgInvalidFields = "Campos inválidos"

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validate checks s and converts failures into a validation DomainError
// listing the offending fields by their JSON path.
func validate(v *validator.Validate, s any) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return model.NewValidationError(MsgInvalidFields)
	}

	seen := make(map[string]bool, len(fieldErrs))
	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		// Namespace is "CheckoutInput.items[0].quantity"; drop the type.
		ns := fe.Namespace()
		if _, rest, ok := strings.Cut(ns, "."); ok {
			ns = rest
		}
		if !seen[ns] {
			seen[ns] = true
			fields = append(fields, ns)
		}
	}
	sort.Strings(fields)
	return model.NewValidationError(MsgInvalidFields + ": " + strings.Join(fields, ", "))
}

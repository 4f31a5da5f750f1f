package apierror

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/tjfontaine/envelope-gateway/internal/domain"
)

// NewValidator returns a validator that names fields after their json tag.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		switch name {
		case "-":
			return ""
		case "":
			return f.Name
		default:
			return name
		}
	})
	return v
}

// FromValidationErrors converts validator field errors into ParamErrors,
// keeping the validator's order.
func FromValidationErrors(errs validator.ValidationErrors) []domain.ParamError {
	params := make([]domain.ParamError, 0, len(errs))
	for _, fe := range errs {
		params = append(params, domain.ParamError{Name: fe.Field(), Message: ValidationMessage(fe)})
	}
	return params
}

// ValidationMessage renders the message template for one failed tag.
func ValidationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "must not be empty"
	case "email":
		return "must be a well-formed email address"
	case "min":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	case "len":
		return fmt.Sprintf("length must be %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	default:
		return fmt.Sprintf("failed on the '%s' tag", fe.Tag())
	}
}

// BindValidated validates v and reports failures as a BindError on object so
// callers see the same ordered shape as any other bound-object failure.
// Errors other than field failures are returned unchanged.
func BindValidated(validate *validator.Validate, object string, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	fieldErrors := make([]domain.FieldError, 0, len(ve))
	for _, p := range FromValidationErrors(ve) {
		fieldErrors = append(fieldErrors, domain.FieldError{Field: p.Name, Message: p.Message})
	}
	return domain.NewBindError(object, fieldErrors...)
}

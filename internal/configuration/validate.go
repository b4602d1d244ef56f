package configuration

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report fields by their yaml keys
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validateStruct(p *Properties) error {
	err := validate.Struct(p)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	errs := make([]error, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := strings.TrimPrefix(fe.Namespace(), "Properties.")
		if fe.Param() != "" {
			errs = append(errs, fmt.Errorf("%s: %q fails %s=%s", field, fe.Value(), fe.Tag(), fe.Param()))
		} else {
			errs = append(errs, fmt.Errorf("%s: %q fails %s", field, fe.Value(), fe.Tag()))
		}
	}
	return errors.Join(errs...)
}

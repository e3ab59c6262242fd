package validate

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	validate *validator.Validate

	e164Pattern       = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)
	actionTypePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{1,63}$`)
	clockPattern      = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)
)

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	// Report JSON field names, not Go field names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	registerCustomValidations()
}

func registerCustomValidations() {
	_ = validate.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return e164Pattern.MatchString(fl.Field().String())
	})
	_ = validate.RegisterValidation("action_type", func(fl validator.FieldLevel) bool {
		return actionTypePattern.MatchString(fl.Field().String())
	})
	_ = validate.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		v := fl.Field().String()
		return v == "" || clockPattern.MatchString(v)
	})
}

// Struct validates s and returns field errors keyed by JSON name, or nil.
func Struct(s any) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"_": err.Error()}
	}

	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			out[field] = "This field is required"
		case "min":
			out[field] = "Value is too small (min: " + fe.Param() + ")"
		case "max":
			out[field] = "Value is too large (max: " + fe.Param() + ")"
		case "gte":
			out[field] = "Value must be at least " + fe.Param()
		case "lte":
			out[field] = "Value must be at most " + fe.Param()
		case "oneof":
			out[field] = "Value must be one of: " + fe.Param()
		case "email":
			out[field] = "Invalid email format"
		case "uuid":
			out[field] = "Invalid id format"
		case "phone":
			out[field] = "Phone number must be in E.164 format"
		case "action_type":
			out[field] = "Invalid action type"
		case "clock":
			out[field] = "Time must be HH:MM"
		case "timezone":
			out[field] = "Unknown time zone"
		default:
			out[field] = "Invalid value"
		}
	}
	return out
}

// Var validates a single value against a tag expression.
func Var(field any, tag string) error {
	return validate.Var(field, tag)
}

// IsActionType reports whether s is a well-formed action type key.
func IsActionType(s string) bool {
	return actionTypePattern.MatchString(s)
}

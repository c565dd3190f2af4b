package validation

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	appErrors "github.com/unclebandit/broadcast-dispatcher/internal/errors"
	"github.com/unclebandit/broadcast-dispatcher/internal/model"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report fields by their JSON names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	v.RegisterValidation("channel", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case model.ChannelSMS, model.ChannelWhatsApp, model.ChannelEmail:
			return true
		}
		return false
	})
	return v
}

// ValidateStruct checks s against its validate tags and returns an
// *appErrors.ErrValidation listing every failing field.
func ValidateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return appErrors.NewValidation("%s", err.Error())
	}

	var msgs []string
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		param := fe.Param()

		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "min":
			msgs = append(msgs, field+" must have at least "+param+" items or characters")
		case "max":
			msgs = append(msgs, field+" must have at most "+param+" items or characters")
		case "gte":
			msgs = append(msgs, field+" must be at least "+param)
		case "gtefield":
			msgs = append(msgs, field+" must not be less than "+toSnake(param))
		case "channel":
			msgs = append(msgs, field+" must be one of sms, whatsapp, email")
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return appErrors.NewValidation("%s", strings.Join(msgs, ", "))
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

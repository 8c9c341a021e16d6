package models

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/adonese/bloog/apperr"
	"github.com/go-playground/validator/v10"
)

var validatorOnce sync.Once
var validate *validator.Validate

var permalinkPattern = regexp.MustCompile(`^/?[A-Za-z0-9][A-Za-z0-9\-_./]*$`)

// Validator returns the shared validator, reading `binding` tags the way gin
// does and reporting json field names.
func Validator() *validator.Validate {
	validatorOnce.Do(func() {
		validate = validator.New()
		validate.SetTagName("binding")

		mustRegister(validate, "articletype", oneOf(ArticleTypes))
		mustRegister(validate, "markupformat", oneOf(MarkupFormats))
		mustRegister(validate, "permalink", func(fl validator.FieldLevel) bool {
			v := fl.Field().String()
			return permalinkPattern.MatchString(v) && !strings.Contains(v, "..") && !strings.Contains(v, "//")
		})

		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(err)
	}
}

func oneOf(allowed []string) validator.Func {
	return func(fl validator.FieldLevel) bool {
		v := fl.Field().String()
		for _, a := range allowed {
			if v == a {
				return true
			}
		}
		return false
	}
}

// ValidateStruct validates obj if it is a struct or a pointer to one.
func ValidateStruct(obj any) error {
	if kindOfData(obj) != reflect.Struct {
		return nil
	}
	return Validator().Struct(obj)
}

func kindOfData(data any) reflect.Kind {
	value := reflect.ValueOf(data)
	kind := value.Kind()
	if kind == reflect.Ptr {
		kind = value.Elem().Kind()
	}
	return kind
}

// DefaultValidator plugs Validator into gin's binding package.
type DefaultValidator struct{}

func (DefaultValidator) ValidateStruct(obj any) error {
	return ValidateStruct(obj)
}

func (DefaultValidator) Engine() any {
	return Validator()
}

// ValidationError converts validator errors into an apperr carrying one
// entry per offending field. Other errors become bad requests.
func ValidationError(err error) *apperr.Error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Wrap(err, apperr.ErrBadRequest, err.Error())
	}
	fields := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	e := apperr.WithFields(apperr.ErrValidation, fields)
	e.Message = "invalid request"
	e.Err = err
	return e
}

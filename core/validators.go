package core

import (
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

const requiredText = "this field is required"

var (
	serialRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)
	metricRegex = regexp.MustCompile(`^[a-z][a-z0-9_.]*$`)
)

// customValidation binds a struct tag to its check & error message.
type customValidation struct {
	tag  string
	fn   validator.Func
	text string
}

var customValidations = []customValidation{
	{"serial", matches(serialRegex), "may only contain letters, digits, dashes and underscores"},
	{"metric", matches(metricRegex), "must be a lowercase name such as smoke or water_leak"},
	{"tz", knownTimezone, "unknown time zone"},
}

// tags whose default english message is replaced
var overriddenTags = map[string]string{
	"required":      requiredText,
	"required_with": requiredText,
	"required_if":   requiredText,
}

// NewTranslator returns the english translator used for validation messages.
func NewTranslator() ut.Translator {
	_en := en.New()
	translator, _ := ut.New(_en, _en).GetTranslator("en")
	return translator
}

// InitValidators registers the json field names, the shared custom tags
// & their english messages on validate.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = en_translations.RegisterDefaultTranslations(validate, translator)
	validate.RegisterTagNameFunc(jsonFieldName)

	for _, cv := range customValidations {
		_ = validate.RegisterValidation(cv.tag, cv.fn)
		RegisterCustomTranslation(validate, translator, cv.tag, cv.text)
	}
	for tag, text := range overriddenTags {
		RegisterCustomTranslation(validate, translator, tag, text, true)
	}
}

// RegisterCustomTranslation sets the english message shown for tag; override replaces a built-in one.
func RegisterCustomTranslation(validate *validator.Validate, translator ut.Translator, tag, text string, override ...bool) {
	ovrd := len(override) > 0 && override[0]
	register := func(t ut.Translator) error { return t.Add(tag, text, ovrd) }
	translate := func(t ut.Translator, fe validator.FieldError) string {
		msg, _ := t.T(tag, fe.Field())
		return msg
	}
	_ = validate.RegisterTranslation(tag, translator, register, translate)
}

func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}

func matches(re *regexp.Regexp) validator.Func {
	return func(fl validator.FieldLevel) bool {
		return re.MatchString(fl.Field().String())
	}
}

// empty values are left to "required"
func knownTimezone(fl validator.FieldLevel) bool {
	name := fl.Field().String()
	if name == "" {
		return true
	}
	_, err := time.LoadLocation(name)
	return err == nil
}

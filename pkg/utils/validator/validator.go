// Package validator wraps go-playground/validator with translated error
// messages and a gin binding adapter.
package validator

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	"github.com/go-playground/locales/es"
	"github.com/go-playground/locales/fr"
	"github.com/go-playground/locales/pt_BR"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	es_translations "github.com/go-playground/validator/v10/translations/es"
	fr_translations "github.com/go-playground/validator/v10/translations/fr"
	pt_translations "github.com/go-playground/validator/v10/translations/pt_BR"
)

// Translator keys. Requests carry BCP 47 codes such as "pt-BR"; only the
// base language selects the translator.
const (
	LangEN = "en"
	LangPT = "pt"
	LangES = "es"
	LangFR = "fr"
)

// Tag names read by the two engines.
const (
	TagValidate = "validate"
	TagBinding  = "binding"
)

// TagNotBlank rejects strings that are empty after trimming whitespace.
const TagNotBlank = "notblank"

// Validator wraps go-playground/validator with additional features.
type Validator struct {
	validate *validator.Validate
	uni      *ut.UniversalTranslator
	trans    map[string]ut.Translator
	mu       sync.RWMutex
}

var (
	globalValidator  *Validator
	bindingValidator *Validator
	globalOnce       sync.Once
	bindingOnce      sync.Once
)

// Global returns the validator for `validate` tags, used on models.
func Global() *Validator {
	globalOnce.Do(func() {
		globalValidator = New(TagValidate)
	})
	return globalValidator
}

// Binding returns the validator for `binding` tags, used on request bodies.
func Binding() *Validator {
	bindingOnce.Do(func() {
		bindingValidator = New(TagBinding)
	})
	return bindingValidator
}

// New creates a Validator that reads rules from tagName.
func New(tagName string) *Validator {
	v := &Validator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		trans:    make(map[string]ut.Translator),
	}
	v.validate.SetTagName(tagName)

	// Use JSON tag names for error field names
	v.validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			name = strings.SplitN(fld.Tag.Get("form"), ",", 2)[0]
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	enLocale := en.New()
	v.uni = ut.New(enLocale, enLocale, pt_BR.New(), es.New(), fr.New())

	v.register(LangEN, "en", en_translations.RegisterDefaultTranslations)
	v.register(LangPT, "pt_BR", pt_translations.RegisterDefaultTranslations)
	v.register(LangES, "es", es_translations.RegisterDefaultTranslations)
	v.register(LangFR, "fr", fr_translations.RegisterDefaultTranslations)

	_ = v.validate.RegisterValidation(TagNotBlank, validators.NotBlank)
	v.registerCustomTranslations()
	return v
}

func (v *Validator) register(lang, locale string, fn func(*validator.Validate, ut.Translator) error) {
	trans, ok := v.uni.GetTranslator(locale)
	if !ok {
		return
	}
	_ = fn(v.validate, trans)
	v.trans[lang] = trans
}

// Validate validates a struct and returns the raw validator error.
func (v *Validator) Validate(s any) error {
	return v.validate.Struct(s)
}

// ValidateWithLang validates a struct and returns translated validation errors.
func (v *Validator) ValidateWithLang(s any, lang string) *ValidationErrors {
	return v.Translate(v.validate.Struct(s), lang)
}

// Translate converts a validator error into translated field errors. It
// returns nil when err is nil or did not come from the validator.
func (v *Validator) Translate(err error, lang string) *ValidationErrors {
	var errs validator.ValidationErrors
	if err == nil || !errors.As(err, &errs) {
		return nil
	}
	trans := v.GetTranslator(lang)
	result := &ValidationErrors{Errors: make([]FieldError, 0, len(errs))}
	for _, fe := range errs {
		result.Errors = append(result.Errors, FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Value:   fe.Value(),
			Param:   fe.Param(),
			Message: fe.Translate(trans),
		})
	}
	return result
}

// GetTranslator returns the translator for lang, falling back to English.
func (v *Validator) GetTranslator(lang string) ut.Translator {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if trans, ok := v.trans[baseLanguage(lang)]; ok {
		return trans
	}
	return v.trans[LangEN]
}

// RegisterValidation registers a custom validation function.
func (v *Validator) RegisterValidation(tag string, fn validator.Func, callValidationEvenIfNull ...bool) error {
	return v.validate.RegisterValidation(tag, fn, callValidationEvenIfNull...)
}

// Engine returns the underlying validator.Validate instance.
func (v *Validator) Engine() *validator.Validate {
	return v.validate
}

// baseLanguage maps "pt-BR", "pt_BR" and "PT" to "pt".
func baseLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	base, _, _ := strings.Cut(strings.ReplaceAll(lang, "_", "-"), "-")
	return base
}

// Struct validates a struct with the global validator.
func Struct(s any) error {
	if verr := Global().ValidateWithLang(s, LangEN); verr.HasErrors() {
		return verr
	}
	return nil
}

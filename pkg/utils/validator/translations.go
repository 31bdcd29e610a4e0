package validator

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
)

// customTranslations holds messages for the rules registered in New.
var customTranslations = map[string]map[string]string{
	LangEN: {TagNotBlank: "{0} must not be blank"},
	LangPT: {TagNotBlank: "{0} não pode estar em branco"},
	LangES: {TagNotBlank: "{0} no puede estar en blanco"},
	LangFR: {TagNotBlank: "{0} ne doit pas être vide"},
}

// registerCustomTranslations registers translations for custom validation rules.
func (v *Validator) registerCustomTranslations() {
	for lang, messages := range customTranslations {
		trans, ok := v.trans[lang]
		if !ok {
			continue
		}
		for tag, message := range messages {
			registerTranslation(v.validate, trans, tag, message)
		}
	}
}

// registerTranslation registers a single translation.
func registerTranslation(validate *validator.Validate, trans ut.Translator, tag, message string) {
	_ = validate.RegisterTranslation(tag, trans,
		func(ut ut.Translator) error {
			return ut.Add(tag, message, true)
		},
		func(ut ut.Translator, fe validator.FieldError) string {
			t, _ := ut.T(tag, fe.Field())
			return t
		},
	)
}

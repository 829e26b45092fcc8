package core

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/locales/en"
	"github.com/go-playground/locales/fr"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	fr_translations "github.com/go-playground/validator/v10/translations/fr"
)

// Text is a translated message; en is the fallback.
type Text struct {
	En string
	Fr string
}

func (t Text) For(locale string) string {
	if locale == "fr" && t.Fr != "" {
		return t.Fr
	}
	return t.En
}

var (
	SupportedLocales = []string{"en", "fr"}

	// custom validation tags & texts
	alphaNumUnderTag   = "alphanum_"
	alphaNumUnderText  = Text{En: "only alphanumeric characters and underscores are allowed", Fr: "seuls les caractères alphanumériques et les tirets bas sont autorisés"}
	alphaNumUnderRegex = regexp.MustCompile(`^[\w\s]+$`)

	slugTag   = "slug"
	slugText  = Text{En: "only lowercase letters, digits and dashes are allowed", Fr: "seuls les lettres minuscules, chiffres et tirets sont autorisés"}
	slugRegex = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

	currencyTag   = "currency"
	currencyText  = Text{En: "must be a 3-letter ISO currency code", Fr: "doit être un code de devise ISO à 3 lettres"}
	currencyRegex = regexp.MustCompile(`^[A-Z]{3}$`)

	requiredTag     = "required"
	requiredWithTag = "required_with"
	requiredText    = Text{En: "this field is required", Fr: "ce champ est obligatoire"}
)

// NewUniversalTranslator returns a translator for all supported locales, english being the fallback.
func NewUniversalTranslator() *ut.UniversalTranslator {
	_en := en.New()
	return ut.New(_en, _en, fr.New())
}

// Translator returns the translator for `locale`, or the fallback one.
func Translator(uni *ut.UniversalTranslator, locale ...string) ut.Translator {
	trans, _ := uni.FindTranslator(locale...)
	return trans
}

// InitValidators instantiates the validator for use.
func InitValidators(validate *validator.Validate, uni *ut.UniversalTranslator) {
	enTrans, _ := uni.GetTranslator("en")
	frTrans, _ := uni.GetTranslator("fr")
	_ = en_translations.RegisterDefaultTranslations(validate, enTrans)
	_ = fr_translations.RegisterDefaultTranslations(validate, frTrans)

	// Use JSON tag names for errors instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// register custom validators
	_ = validate.RegisterValidation(alphaNumUnderTag, regexValidation(alphaNumUnderRegex))
	RegisterCustomTranslation(validate, uni, alphaNumUnderTag, alphaNumUnderText)

	_ = validate.RegisterValidation(slugTag, regexValidation(slugRegex))
	RegisterCustomTranslation(validate, uni, slugTag, slugText)

	_ = validate.RegisterValidation(currencyTag, regexValidation(currencyRegex))
	RegisterCustomTranslation(validate, uni, currencyTag, currencyText)

	RegisterCustomTranslation(validate, uni, requiredTag, requiredText, true)
	RegisterCustomTranslation(validate, uni, requiredWithTag, requiredText, true)
}

// RegisterCustomTranslation registers a custom translation for the specified validation tag, for every supported locale.
func RegisterCustomTranslation(validate *validator.Validate, uni *ut.UniversalTranslator, tag string, text Text, override ...bool) {
	var ovrd bool
	if len(override) > 0 {
		ovrd = override[0]
	}
	for _, locale := range SupportedLocales {
		trans, found := uni.GetTranslator(locale)
		if !found {
			continue
		}
		msg := text.For(locale)
		_ = validate.RegisterTranslation(
			tag, trans,
			func(t ut.Translator) error { return t.Add(tag, msg, ovrd) },
			func(t ut.Translator, fe validator.FieldError) string {
				s, _ := t.T(tag, fe.Field())
				return s
			},
		)
	}
}

// TranslateErrors maps validation errors to {field: message}.
func TranslateErrors(errs validator.ValidationErrors, trans ut.Translator) map[string]string {
	fldErrs := make(map[string]string, len(errs))
	for _, vErr := range errs {
		fldErrs[vErr.Field()] = vErr.Translate(trans)
	}
	return fldErrs
}

// Custom Global Validators

func regexValidation(rx *regexp.Regexp) validator.Func {
	return func(fl validator.FieldLevel) bool {
		return rx.MatchString(fl.Field().String())
	}
}

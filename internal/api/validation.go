package api

import (
	"log"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

const (
	notBlankTag  = "notblank"
	requiredText = "this field is required"
)

var (
	validatorOnce sync.Once
	translator    ut.Translator
)

// setupValidator configures gin's validator once: JSON field names in errors,
// English messages and the notblank tag.
func setupValidator() {
	validatorOnce.Do(func() {
		uni := ut.New(en.New())
		var found bool
		translator, found = uni.GetTranslator("en")
		if !found {
			log.Printf("validator: en translator not found, using fallback")
		}

		validate, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			log.Printf("validator: unexpected engine %T, field messages are untranslated", binding.Validator.Engine())
			return
		}
		if err := en_translations.RegisterDefaultTranslations(validate, translator); err != nil {
			log.Printf("validator: registering default translations: %v", err)
		}

		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})

		if err := validate.RegisterValidation(notBlankTag, func(fl validator.FieldLevel) bool {
			return strings.TrimSpace(fl.Field().String()) != ""
		}); err != nil {
			log.Printf("validator: registering %s: %v", notBlankTag, err)
		}
		registerTranslation(validate, notBlankTag, requiredText)
		registerTranslation(validate, "required", requiredText)
	})
}

func registerTranslation(validate *validator.Validate, tag, text string) {
	err := validate.RegisterTranslation(
		tag, translator,
		func(t ut.Translator) error { return t.Add(tag, text, true) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, fe.Field())
			return s
		},
	)
	if err != nil {
		log.Printf("validator: registering %s translation: %v", tag, err)
	}
}

// fieldPath drops the top-level struct name from a namespace like "markRequest.location.lat".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return fe.Field()
}

package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/harnesserrors"
)

func LogValidationErrors(err error) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		for _, err := range validationErrors {
			fieldName := stripPrefix(err.Namespace())
			tag := err.Tag()
			switch tag {
			case "required":
				log.Errorf("ConfigError: Field %s is required but was not found", fieldName)
			default:
				log.Errorf("ConfigError: Field %s has invalid value %v: %s", fieldName, err.Value(), tag)
			}
		}
	}
}

// Validate runs struct tag validation over config. Every failure is logged; the first one is returned,
// as ErrMissingConfiguration for absent required fields and ErrConfiguration otherwise.
func Validate(config interface{}) error {
	err := validator.New().Struct(config)
	if err == nil {
		return nil
	}
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) || len(validationErrors) == 0 {
		return errors.WithStack(&harnesserrors.ErrConfiguration{Message: err.Error()})
	}
	LogValidationErrors(validationErrors)
	first := validationErrors[0]
	name := stripPrefix(first.Namespace())
	if first.Tag() == "required" {
		return errors.WithStack(&harnesserrors.ErrMissingConfiguration{Name: name})
	}
	return errors.WithStack(&harnesserrors.ErrConfiguration{
		Name:    name,
		Value:   fmt.Sprint(first.Value()),
		Message: "failed validation " + first.Tag(),
	})
}

func stripPrefix(s string) string {
	if idx := strings.Index(s, "."); idx != -1 {
		return s[idx+1:]
	}
	return s
}

package config

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

// Validate checks the loaded configuration. A failure here must halt startup.
func Validate(cfg *Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		_, err := ParseDuration(fl.Field().String())

		return err == nil
	}); err != nil {
		return errors.Wrap(err, "register duration validation")
	}

	v.RegisterStructValidation(func(sl validator.StructLevel) {
		c := sl.Current().Interface().(Config)
		if strings.TrimSpace(c.Database.URL) == "" && c.Postgres == nil {
			sl.ReportError(c.Database.URL, "Database.URL", "URL", "database_source", "")
		}
	}, Config{})

	err := v.Struct(cfg)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return errors.Wrap(err, "validate config")
	}

	problems := make([]string, 0, len(validationErrs))
	for _, fe := range validationErrs {
		problems = append(problems, fe.Namespace()+": failed '"+fe.Tag()+"'")
	}

	return errors.Errorf("config validation failed: %s", strings.Join(problems, "; "))
}

package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration against the struct-level
// `validate` tags plus the constraints the tags cannot express.
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := cfg.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if cfg.Upload.Workers < 0 {
		return fmt.Errorf("upload.workers must be positive, got %d", cfg.Upload.Workers)
	}
	if cfg.Upload.MailboxSize < 0 {
		return fmt.Errorf("upload.mailbox_size must be positive, got %d", cfg.Upload.MailboxSize)
	}

	return nil
}

// formatValidationError rewrites validator's field errors into
// messages that name the offending config key.
func formatValidationError(err error) error {
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	for _, fieldErr := range errs {
		switch fieldErr.Tag() {
		case "required":
			return fmt.Errorf("%s is required", fieldErr.Namespace())
		case "oneof":
			return fmt.Errorf("%s must be one of [%s], got %q",
				fieldErr.Namespace(), fieldErr.Param(), fieldErr.Value())
		case "min", "gte":
			return fmt.Errorf("%s must be at least %s", fieldErr.Namespace(), fieldErr.Param())
		case "max", "lte":
			return fmt.Errorf("%s must be at most %s", fieldErr.Namespace(), fieldErr.Param())
		case "gt":
			return fmt.Errorf("%s must be greater than %s", fieldErr.Namespace(), fieldErr.Param())
		default:
			return fmt.Errorf("%s failed validation %q", fieldErr.Namespace(), fieldErr.Tag())
		}
	}
	return err
}

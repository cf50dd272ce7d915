package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidateConfig validates the entire configuration and returns all validation errors
func (c *Config) ValidateConfig() error {
	var validationErrors ValidationErrors

	if c.Server == nil {
		validationErrors = append(validationErrors, ValidationError{
			FieldPath: "server",
			Message:   "configuration must contain a 'server' section",
		})
		return validationErrors
	}

	if err := validate.Struct(c.Server); err != nil {
		validationErrors = append(validationErrors, convertValidatorErrors(err, "server")...)
	}
	if err := validate.Struct(c.Tunnel); err != nil {
		validationErrors = append(validationErrors, convertValidatorErrors(err, "tunnel")...)
	}
	if err := validate.Struct(c.DNS); err != nil {
		validationErrors = append(validationErrors, convertValidatorErrors(err, "dns")...)
	}
	if err := validate.Struct(c.Health); err != nil {
		validationErrors = append(validationErrors, convertValidatorErrors(err, "health")...)
	}
	if err := validate.Struct(c.Snapshot); err != nil {
		validationErrors = append(validationErrors, convertValidatorErrors(err, "snapshot")...)
	}
	if err := validate.Struct(c.API); err != nil {
		validationErrors = append(validationErrors, convertValidatorErrors(err, "api")...)
	}

	validationErrors = append(validationErrors, c.validateTunnel()...)
	validationErrors = append(validationErrors, c.validateDNS()...)

	if len(validationErrors) > 0 {
		return validationErrors
	}

	return nil
}

func (c *Config) validateTunnel() ValidationErrors {
	var validationErrors ValidationErrors

	// Route takeover operates on the IPv4 table, so tunnel addresses must be IPv4.
	if strings.HasPrefix(c.Tunnel.LocalIP, "[") {
		validationErrors = append(validationErrors, ValidationError{
			FieldPath: "tunnel.local_ip",
			Message:   "must be an IPv4 address",
		})
	}
	if strings.HasPrefix(c.Tunnel.Gateway, "[") {
		validationErrors = append(validationErrors, ValidationError{
			FieldPath: "tunnel.gateway",
			Message:   "must be an IPv4 address",
		})
	}

	return validationErrors
}

func (c *Config) validateDNS() ValidationErrors {
	var validationErrors ValidationErrors

	seenResolvers := make(map[string]bool)
	for _, resolver := range c.DNS.Resolvers {
		if seenResolvers[resolver] {
			validationErrors = append(validationErrors, ValidationError{
				FieldPath: "dns.resolvers",
				Message:   fmt.Sprintf("duplicate resolver: %s", resolver),
			})
		}
		seenResolvers[resolver] = true
	}

	if c.DNS.BackupPath == c.DNS.ResolvConf {
		validationErrors = append(validationErrors, ValidationError{
			FieldPath: "dns.backup_path",
			Message:   "must not be the same path as resolv_conf",
		})
	}

	return validationErrors
}

// convertValidatorErrors converts go-playground/validator errors to our ValidationError format
func convertValidatorErrors(err error, fieldPrefix string) ValidationErrors {
	var validationErrors ValidationErrors

	var validatorErrs validator.ValidationErrors
	if errors.As(err, &validatorErrs) {
		for _, e := range validatorErrs {
			fieldPath := fieldPrefix
			if e.Field() != "" {
				// e.Field() returns the TOML tag name because we registered TagNameFunc
				fieldName := e.Field()

				if fieldPrefix != "" {
					fieldPath = fieldPrefix + "." + fieldName
				} else {
					fieldPath = fieldName
				}
			}

			message := getValidationMessage(e)

			validationErrors = append(validationErrors, ValidationError{
				FieldPath: fieldPath,
				Message:   message,
			})
		}
	}

	return validationErrors
}

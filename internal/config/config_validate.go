// odksync - ODK Central to PostgreSQL synchronization service
// Copyright 2026 Ripplenami
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ripplenami/odksync

package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// getValidator returns the singleton validator instance. validator.Validate
// caches struct metadata, so a single shared instance is the cheap path.
func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks that required configuration is present and valid.
// Structural constraints (required fields, ranges, enums) live in the
// `validate` struct tags; cross-field and URL checks are done by hand so
// the error messages can name the environment variables operators set.
func (c *Config) Validate() error {
	if err := c.validateODK(); err != nil {
		return err
	}

	if err := getValidator().Struct(c); err != nil {
		return translateValidationError(err)
	}

	return nil
}

// validateODK validates the ODK Central connection settings with messages
// naming the legacy environment variables.
func (c *Config) validateODK() error {
	if c.ODK.BaseURL == "" {
		return fmt.Errorf("ODK_BASE_URL is required")
	}
	if err := validateHTTPURL(c.ODK.BaseURL, "ODK_BASE_URL"); err != nil {
		return err
	}
	if c.ODK.ProjectID == "" {
		return fmt.Errorf("ODK_PROJECT_ID is required")
	}
	if c.ODK.FormID == "" {
		return fmt.Errorf("ODK_FORM_ID is required")
	}
	if c.ODK.Email == "" || c.ODK.Password == "" {
		return fmt.Errorf("ODATA_USER and ODATA_PASS are required")
	}
	return nil
}

// translateValidationError flattens validator.ValidationErrors into a single
// readable error listing every failing field.
func translateValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Namespace()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s], got %v", fe.Namespace(), fe.Param(), fe.Value()))
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s, got %v", fe.Namespace(), fe.Param(), fe.Value()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s, got %v", fe.Namespace(), fe.Param(), fe.Value()))
		case "gt":
			msgs = append(msgs, fmt.Sprintf("%s must be greater than %s, got %v", fe.Namespace(), fe.Param(), fe.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s validation", fe.Namespace(), fe.Tag()))
		}
	}

	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

// Package apperr defines the three error kinds surfaced to agents and the
// text each one renders as.
package apperr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dgellow/sentry-mcp/internal/log"
)

// UserInputError is a problem the caller can fix by changing their input.
type UserInputError struct {
	Message string
}

func (e *UserInputError) Error() string { return e.Message }

// NewUserInputError builds a UserInputError from a format string.
func NewUserInputError(format string, args ...any) *UserInputError {
	return &UserInputError{Message: fmt.Sprintf(format, args...)}
}

// APIError is a non-2xx upstream response that carried a detail message.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Message)
}

const multiProjectGuidance = "You do not have access to query across multiple projects. Please select a project for your query."

var multiProjectMessages = []string{
	"You do not have the multi project stream feature enabled",
	"You cannot view events from multiple projects",
}

// NewAPIError builds an APIError, rewriting known upstream messages into
// plain guidance.
func NewAPIError(status int, detail string) *APIError {
	for _, m := range multiProjectMessages {
		if strings.Contains(detail, m) {
			detail = multiProjectGuidance
			break
		}
	}
	return &APIError{Status: status, Message: detail}
}

// SystemError wraps failures the caller cannot act on: transport errors,
// unexpected response bodies, schema mismatches.
type SystemError struct {
	Message string
	Cause   error
}

func (e *SystemError) Error() string {
	if e.Cause != nil && e.Message == "" {
		return e.Cause.Error()
	}
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *SystemError) Unwrap() error { return e.Cause }

// NewSystemError wraps cause with a message.
func NewSystemError(cause error, format string, args ...any) *SystemError {
	return &SystemError{Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Kind names the classification of an error.
type Kind int

const (
	KindSystem Kind = iota
	KindUserInput
	KindAPI
)

// Classify reports which of the three kinds err belongs to. Anything not
// explicitly a user input or API error is a system error.
func Classify(err error) Kind {
	var userErr *UserInputError
	if errors.As(err, &userErr) {
		return KindUserInput
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return KindAPI
	}
	return KindSystem
}

// Format renders err as markdown for an agent. System errors are logged with
// a fresh event id; the raw message is withheld when production is true.
func Format(err error, production bool) string {
	var userErr *UserInputError
	if errors.As(err, &userErr) {
		return strings.Join([]string{
			"**Input Error**",
			"It looks like there was a problem with the input you provided.",
			userErr.Message,
			"You may be able to resolve the issue by addressing the concern and trying again.",
		}, "\n\n")
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return strings.Join([]string{
			"**Error**",
			fmt.Sprintf("There was an HTTP %d error with your request to the Sentry API.", apiErr.Status),
			apiErr.Message,
			"You may be able to resolve the issue by addressing the concern and trying again.",
		}, "\n\n")
	}

	eventID := LogSystemError(err)
	parts := []string{
		"**Error**",
		"It looks like there was a problem communicating with the Sentry API.",
		"Please report the following to the user for the Sentry team:",
		"**Event ID**: " + eventID,
	}
	if !production {
		parts = append(parts, err.Error())
	}
	return strings.Join(parts, "\n\n")
}

// LogSystemError logs err under a new correlation id and returns the id.
func LogSystemError(err error) string {
	eventID := strings.ReplaceAll(uuid.NewString(), "-", "")
	log.LogErrorWithFields("apperr", "System error", map[string]any{
		"event_id": eventID,
		"error":    err.Error(),
	})
	return eventID
}

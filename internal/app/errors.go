package app

import (
	"fmt"
	"net/http"

	"github.com/go-faster/errors"

	"tally/api/internal/auth"
	"tally/api/internal/workflow"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var workflowErrors = []struct {
	target error
	status int
	code   string
}{
	{workflow.ErrInvalidInput, http.StatusBadRequest, "INVALID_INPUT"},
	{workflow.ErrPermission, http.StatusForbidden, "FORBIDDEN"},
	{workflow.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{workflow.ErrInvalidState, http.StatusConflict, "INVALID_STATE"},
	{workflow.ErrConflict, http.StatusConflict, "CONFLICT"},
	{workflow.ErrInvalidTarget, http.StatusUnprocessableEntity, "INVALID_TARGET"},
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var applyErr *workflow.ApplyError
	if errors.As(err, &applyErr) {
		details := map[string]any{
			"kind":  applyErr.Kind,
			"cause": applyErr.Err.Error(),
		}
		// No request id means the change skipped approval.
		if applyErr.RequestID == "" {
			return http.StatusInternalServerError, "APPLY_FAILED", "The change could not be applied", details
		}
		details["changeRequestId"] = applyErr.RequestID
		return http.StatusInternalServerError, "APPLY_FAILED", "The approved change could not be applied", details
	}
	for _, candidate := range workflowErrors {
		if errors.Is(err, candidate.target) {
			return candidate.status, candidate.code, err.Error(), nil
		}
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

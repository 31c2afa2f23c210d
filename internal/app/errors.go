package app

import (
	"errors"
	"fmt"
	"net/http"

	"libprep/api/internal/auth"
	"libprep/api/internal/export"
	"libprep/api/internal/gateway"
	"libprep/api/internal/gitrepo"
	"libprep/api/internal/grid"
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

var errWorkbenchNotFound = domainError(http.StatusNotFound, "WORKBENCH_NOT_FOUND", "Workbench not found", nil)

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var rejected *gateway.RejectedError
	if errors.As(err, &rejected) {
		return http.StatusBadRequest, "REJECTED", rejected.Message, nil
	}
	var unavailable *gateway.UnavailableError
	if errors.As(err, &unavailable) {
		return http.StatusServiceUnavailable, "UNAVAILABLE", "The sample database is unreachable, try again", map[string]any{"op": unavailable.Op}
	}

	switch {
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, gateway.ErrNotFound):
		return http.StatusNotFound, "NO_SAMPLES", gateway.ErrNotFound.Error(), nil
	case errors.Is(err, gateway.ErrNothingToSave):
		return http.StatusBadRequest, "NOTHING_TO_SAVE", "There are no cached groups to save", nil
	case errors.Is(err, gitrepo.ErrNoHistory):
		return http.StatusNotFound, "NO_HISTORY", "This group has not been saved yet", nil
	case errors.Is(err, grid.ErrRowOutOfRange), errors.Is(err, grid.ErrPoolOutOfRange):
		return http.StatusBadRequest, "OUT_OF_RANGE", err.Error(), nil
	case errors.Is(err, grid.ErrEmptyPool),
		errors.Is(err, grid.ErrOverlappingPool),
		errors.Is(err, grid.ErrNotPoolField),
		errors.Is(err, grid.ErrNotEditable),
		errors.Is(err, grid.ErrMalformedClipboard),
		errors.Is(err, grid.ErrBulkFillUnavailable),
		errors.Is(err, grid.ErrUnknownEvent):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, grid.ErrNoColumns), errors.Is(err, export.ErrNoColumns):
		return http.StatusUnprocessableEntity, "NO_COLUMNS", "No columns are configured for this group", nil
	case errors.Is(err, grid.ErrPoolingBusy):
		return http.StatusConflict, "POOLING_BUSY", "A pool is already being created", nil
	case errors.Is(err, grid.ErrGroupChanged):
		return http.StatusConflict, "GROUP_CHANGED", "The group changed while the pool number was issued", nil
	case errors.Is(err, grid.ErrClosed):
		return http.StatusGone, "WORKBENCH_CLOSED", "Workbench closed", nil
	case errors.Is(err, grid.ErrNoIssuer):
		return http.StatusServiceUnavailable, "UNAVAILABLE", "Pool numbers cannot be issued", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusBadRequest, "UNSUPPORTED_FORMAT", "Export format must be xlsx or pdf", nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusNotImplemented, "PDF_UNAVAILABLE", "PDF export is not available on this server", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

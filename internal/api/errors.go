package api

import (
	"errors"
	"net/http"

	"github.com/fitflow/retention/internal/pkg/httputil"
	"github.com/fitflow/retention/internal/service/playbook"
	"github.com/fitflow/retention/internal/service/risk"
	"github.com/fitflow/retention/internal/template"
)

// writeServiceError maps service sentinel errors to HTTP statuses. Anything
// unmapped is treated as an internal error.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, risk.ErrNotFound),
		errors.Is(err, risk.ErrMemberNotFound),
		errors.Is(err, playbook.ErrNotFound),
		errors.Is(err, playbook.ErrMemberNotFound),
		errors.Is(err, playbook.ErrFreezeNotFound),
		errors.Is(err, template.ErrNotFound):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, risk.ErrInvalidSettings),
		errors.Is(err, playbook.ErrInvalidConfig):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, playbook.ErrActiveConflict),
		errors.Is(err, playbook.ErrInvalidTransition),
		errors.Is(err, playbook.ErrDuplicateExecution):
		httputil.Conflict(w, err.Error())
	default:
		httputil.InternalError(w, err)
	}
}

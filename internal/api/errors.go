package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/Spok95/school-transport/internal/auth"
	"github.com/Spok95/school-transport/internal/checkout"
	"github.com/Spok95/school-transport/internal/contact"
	"github.com/Spok95/school-transport/internal/ctxutil"
	"github.com/Spok95/school-transport/internal/db"
	"github.com/Spok95/school-transport/internal/enrollment"
	"github.com/Spok95/school-transport/internal/lifecycle"
	"github.com/Spok95/school-transport/internal/livelocation"
	"github.com/Spok95/school-transport/internal/logging"
	"github.com/Spok95/school-transport/internal/metrics"
	"github.com/Spok95/school-transport/internal/notify"
	"github.com/Spok95/school-transport/internal/observability"
	"github.com/Spok95/school-transport/internal/tracking"
)

type errorBody struct {
	Error  string            `json:"error"`
	Hint   string            `json:"hint,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

var errorCodes = []struct {
	err  error
	code int
}{
	{ctxutil.ErrNoSession, http.StatusUnauthorized},
	{auth.ErrInvalidToken, http.StatusUnauthorized},
	{auth.ErrUnknownEmail, http.StatusUnauthorized},
	{auth.ErrWrongPassword, http.StatusUnauthorized},

	{tracking.ErrForbidden, http.StatusForbidden},
	{tracking.ErrNotAssigned, http.StatusForbidden},
	{enrollment.ErrForbidden, http.StatusForbidden},
	{auth.ErrNotDriver, http.StatusForbidden},
	{auth.ErrNotServed, http.StatusForbidden},

	{tracking.ErrNotFound, http.StatusNotFound},
	{enrollment.ErrNotFound, http.StatusNotFound},
	{notify.ErrNotFound, http.StatusNotFound},
	{db.ErrNotFound, http.StatusNotFound},
	{livelocation.ErrNoLocation, http.StatusNotFound},
	{contact.ErrNoContact, http.StatusNotFound},

	{enrollment.ErrNotPending, http.StatusConflict},
	{enrollment.ErrNotApproved, http.StatusConflict},
	{enrollment.ErrNotActive, http.StatusConflict},
	{enrollment.ErrAlreadyCancelled, http.StatusConflict},
	{auth.ErrEmailInUse, http.StatusConflict},
	{auth.ErrBusTaken, http.StatusConflict},
	{db.ErrKeyReused, http.StatusConflict},
	{auth.ErrAlreadyRated, http.StatusConflict},
	{enrollment.ErrAgreementNotPending, http.StatusConflict},
	{enrollment.ErrAgreementOpen, http.StatusConflict},

	{tracking.ErrIllegalTransition, http.StatusUnprocessableEntity},
	{lifecycle.ErrUnknownStatus, http.StatusUnprocessableEntity},
	{enrollment.ErrInvalid, http.StatusUnprocessableEntity},
	{notify.ErrInvalid, http.StatusUnprocessableEntity},
	{livelocation.ErrBadCoords, http.StatusUnprocessableEntity},
	{auth.ErrInvalidEmail, http.StatusUnprocessableEntity},
	{auth.ErrWeakPassword, http.StatusUnprocessableEntity},
	{auth.ErrInvalidRole, http.StatusUnprocessableEntity},
	{auth.ErrInvalidRating, http.StatusUnprocessableEntity},

	{checkout.ErrDisabled, http.StatusServiceUnavailable},
}

// statusOf: HTTP-код для известной ошибки, 500 для остальных.
func statusOf(err error) int {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return http.StatusInternalServerError
}

func fail(c *gin.Context, err error) {
	code := statusOf(err)
	if code == http.StatusInternalServerError {
		metrics.HandlerErrors.Inc()
		observability.CaptureWith(err, map[string]string{"route": c.FullPath()})
		logging.FromContext(c.Request.Context(), zap.L()).Error("handler error",
			zap.String("route", c.FullPath()), zap.Error(err))
		c.JSON(code, errorBody{Error: "internal error"})
		return
	}
	body := errorBody{Error: err.Error()}
	if h, ok := auth.KnownHint(err); ok {
		body.Hint = h
	}
	c.JSON(code, body)
}

// badRequest: ошибка разбора/валидации тела запроса.
func badRequest(c *gin.Context, err error) {
	body := errorBody{Error: "invalid request"}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		body.Fields = make(map[string]string, len(ve))
		for _, fe := range ve {
			body.Fields[fe.Field()] = fe.Tag()
		}
	} else {
		body.Error = "invalid request: " + err.Error()
	}
	c.JSON(http.StatusBadRequest, body)
}

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"rollcall/internal/attendance"
	"rollcall/internal/auth"
)

const (
	msgServerError     = "Something went wrong!"
	msgInvalidCode     = "Invalid or expired attendance code"
	msgDuplicate       = "Attendance already marked for today"
	msgClassCodeTaken  = "Class code already exists, please choose a different one."
	msgClassNotFound   = "Class not found"
	msgNotClassOwner   = "You are not authorized to manage this class"
	msgNoActiveCode    = "No active attendance code for this class"
	msgInvalidRequest  = "Invalid request"
	msgValidationError = "Validation failed"
)

// fail writes the error body for err. Anything unrecognised is a 500 whose detail
// only reaches the logs and the error reporter.
func (h *Handler) fail(c *gin.Context, err error) {
	var (
		verrs   validator.ValidationErrors
		domain  *attendance.ValidationError
		syntax  *json.SyntaxError
		typeErr *json.UnmarshalTypeError
	)
	switch {
	case errors.Is(err, attendance.ErrInvalidCode):
		respondError(c, http.StatusBadRequest, msgInvalidCode, nil)
	case errors.Is(err, attendance.ErrDuplicateSubmission):
		respondError(c, http.StatusBadRequest, msgDuplicate, nil)
	case errors.Is(err, attendance.ErrClassCodeTaken):
		respondError(c, http.StatusBadRequest, msgClassCodeTaken, nil)
	case errors.Is(err, attendance.ErrForbidden):
		respondError(c, http.StatusForbidden, msgNotClassOwner, nil)
	case errors.Is(err, attendance.ErrNotFound):
		respondError(c, http.StatusNotFound, msgClassNotFound, nil)
	case errors.Is(err, attendance.ErrNoActiveCode):
		respondError(c, http.StatusNotFound, msgNoActiveCode, nil)
	case errors.As(err, &verrs):
		flds := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			flds[fieldPath(fe)] = fe.Translate(translator)
		}
		respondError(c, http.StatusBadRequest, msgValidationError, flds)
	case errors.As(err, &domain):
		var flds map[string]string
		if len(domain.Fields) > 0 {
			flds = make(map[string]string, len(domain.Fields))
			for _, f := range domain.Fields {
				flds[f.Field] = f.Error
			}
		}
		respondError(c, http.StatusBadRequest, domain.Error(), flds)
	case errors.As(err, &syntax), errors.As(err, &typeErr), errors.Is(err, io.EOF):
		respondError(c, http.StatusBadRequest, msgInvalidRequest, nil)
	default:
		extras := map[string]interface{}{
			"method": c.Request.Method,
			"route":  c.FullPath(),
		}
		if claims, ok := auth.ClaimsFrom(c); ok {
			extras["user_id"] = claims.UserID()
			extras["role"] = claims.Role
		}
		h.reporter.Error(err, extras)
		respondError(c, http.StatusInternalServerError, msgServerError, nil)
	}
}

func respondError(c *gin.Context, status int, message string, fields map[string]string) {
	body := gin.H{"success": false, "message": message}
	if len(fields) > 0 {
		body["errors"] = fields
	}
	c.AbortWithStatusJSON(status, body)
}

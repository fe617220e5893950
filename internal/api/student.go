package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"rollcall/internal/attendance"
	"rollcall/internal/metrics"
)

type locationRequest struct {
	Lat *float64 `json:"lat" binding:"required,latitude"`
	Lng *float64 `json:"lng" binding:"required,longitude"`
}

type markRequest struct {
	Code     string           `json:"code" binding:"required,notblank"`
	Location *locationRequest `json:"location" binding:"required"`
}

func (h *Handler) mark(c *gin.Context) {
	var req markRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, err)
		return
	}
	red, err := h.svc.Redeem(c.Request.Context(), userID(c), req.Code, attendance.Location{
		Lat: *req.Location.Lat,
		Lng: *req.Location.Lng,
	})
	metrics.Redemptions.WithLabelValues(redemptionOutcome(err)).Inc()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Attendance marked successfully",
		"class":   red.ClassName,
	})
}

func redemptionOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeMarked
	case errors.Is(err, attendance.ErrInvalidCode):
		return metrics.OutcomeInvalid
	case errors.Is(err, attendance.ErrDuplicateSubmission):
		return metrics.OutcomeDuplicate
	default:
		return metrics.OutcomeError
	}
}

func (h *Handler) stats(c *gin.Context) {
	stats, err := h.svc.StudentStats(c.Request.Context(), userID(c), c.Param("classId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) listStudentClasses(c *gin.Context) {
	classes, err := h.svc.StudentClasses(c.Request.Context(), userID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, classes)
}

func (h *Handler) history(c *gin.Context) {
	entries, err := h.svc.StudentHistory(c.Request.Context(), userID(c), c.Param("classId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

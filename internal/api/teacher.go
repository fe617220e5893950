package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"

	"rollcall/internal/attendance"
	"rollcall/internal/metrics"
)

type sessionRequest struct {
	Day      string `json:"day" binding:"required,oneof=Mon Tue Wed Thu Fri Sat Sun"`
	Time     string `json:"time" binding:"required,notblank"`
	Location string `json:"location"`
}

type createClassRequest struct {
	Name     string           `json:"name" binding:"required,notblank"`
	Code     string           `json:"code" binding:"required,notblank,max=32"`
	Schedule []sessionRequest `json:"schedule" binding:"omitempty,dive"`
}

func (h *Handler) createClass(c *gin.Context) {
	var req createClassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, err)
		return
	}
	schedule := make([]attendance.Session, 0, len(req.Schedule))
	for _, s := range req.Schedule {
		schedule = append(schedule, attendance.Session{Day: s.Day, Time: s.Time, Location: s.Location})
	}

	cls, err := h.svc.CreateClass(c.Request.Context(), userID(c), attendance.NewClass{
		Name:     req.Name,
		Code:     req.Code,
		Schedule: schedule,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "message": "Class created successfully", "data": cls})
}

func (h *Handler) listTeacherClasses(c *gin.Context) {
	classes, err := h.svc.TeacherClasses(c.Request.Context(), userID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": classes})
}

func (h *Handler) generateCode(c *gin.Context) {
	issued, err := h.svc.IssueCode(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	metrics.CodesIssued.Inc()
	if issued.Superseded != "" {
		metrics.CodesSuperseded.Inc()
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Attendance code generated",
		"data": gin.H{
			"code":      issued.Code,
			"expiresAt": issued.ExpiresAt,
			"class":     issued.ClassName,
		},
	})
}

// codeImage renders the live code as a QR image for projecting in class.
func (h *Handler) codeImage(c *gin.Context) {
	grant, err := h.svc.ActiveGrant(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	png, err := qrcode.Encode(grant.Code, qrcode.Medium, 256)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Header("X-Code-Expires-At", grant.ExpiresAt.UTC().Format(time.RFC3339))
	c.Data(http.StatusOK, "image/png", png)
}

func (h *Handler) today(c *gin.Context) {
	snap, err := h.svc.TodaySnapshot(c.Request.Context(), userID(c), c.Query("classId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": snap})
}

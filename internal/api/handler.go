package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/reporting"
)

// Options wires a Handler.
type Options struct {
	SigningKey string
	Issuer     string
	// MarkLimit runs after authentication on the redemption route.
	MarkLimit gin.HandlerFunc
	Reporter  reporting.Reporter
}

// Handler serves the attendance HTTP API.
type Handler struct {
	svc       *attendance.Service
	key       string
	issuer    string
	markLimit gin.HandlerFunc
	reporter  reporting.Reporter
}

// NewHandler creates a handler around svc.
func NewHandler(svc *attendance.Service, opts Options) *Handler {
	setupValidator()
	if opts.MarkLimit == nil {
		opts.MarkLimit = func(c *gin.Context) { c.Next() }
	}
	if opts.Reporter == nil {
		opts.Reporter = reporting.LogReporter{}
	}
	return &Handler{
		svc:       svc,
		key:       opts.SigningKey,
		issuer:    opts.Issuer,
		markLimit: opts.MarkLimit,
		reporter:  opts.Reporter,
	}
}

// Register mounts every route under /api.
func (h *Handler) Register(r gin.IRouter) {
	api := r.Group("/api")

	teacher := api.Group("/teacher", auth.Bearer(h.key, h.issuer, attendance.RoleTeacher))
	teacher.GET("/classes", h.listTeacherClasses)
	teacher.POST("/classes", h.createClass)
	teacher.POST("/classes/:id/generate-code", h.generateCode)
	teacher.GET("/classes/:id/code.png", h.codeImage)
	teacher.GET("/today", h.today)

	student := api.Group("/student", auth.Bearer(h.key, h.issuer, attendance.RoleStudent))
	student.GET("/classes", h.listStudentClasses)
	student.GET("/attendance/:classId", h.history)
	student.GET("/stats/:classId", h.stats)

	api.POST("/attendance/mark", auth.Bearer(h.key, h.issuer, attendance.RoleStudent), h.markLimit, h.mark)
}

// NoRoute answers unknown paths in the same envelope as every other error.
func NoRoute(c *gin.Context) {
	respondError(c, http.StatusNotFound, "Route not found", nil)
}

func userID(c *gin.Context) string {
	claims, _ := auth.ClaimsFrom(c)
	return claims.UserID()
}

package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Redemption outcomes.
const (
	OutcomeMarked    = "marked"
	OutcomeInvalid   = "invalid_code"
	OutcomeDuplicate = "duplicate"
	OutcomeError     = "error"
)

var (
	CodesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rollcall",
		Name:      "codes_issued_total",
		Help:      "Attendance codes issued by teachers.",
	})

	CodesSuperseded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rollcall",
		Name:      "codes_superseded_total",
		Help:      "Codes replaced while still live.",
	})

	Redemptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollcall",
		Name:      "redemptions_total",
		Help:      "Code redemption attempts by outcome.",
	}, []string{"outcome"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rollcall",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// GinMiddleware observes request latency labelled by the matched route template.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		requestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector holds the sessions API metrics.
type PrometheusCollector struct {
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	sessionsCreated   prometheus.Counter
	recordWritesTotal *prometheus.CounterVec
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		requestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tutorlink_http_requests_total",
			Help: "Total number of HTTP requests handled",
		}, []string{"method", "path", "status"}),

		requestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tutorlink_http_request_duration_seconds",
			Help:    "Duration of HTTP request handling",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"method", "path"}),

		sessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tutorlink_sessions_created_total",
			Help: "Total number of session records created",
		}),

		recordWritesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tutorlink_session_record_writes_total",
			Help: "Total number of session record updates by outcome",
		}, []string{"outcome"}),
	}
}

func (p *PrometheusCollector) RecordSessionCreated() {
	p.sessionsCreated.Inc()
}

func (p *PrometheusCollector) RecordWrite(ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	p.recordWritesTotal.WithLabelValues(outcome).Inc()
}

// Middleware instruments every request with count and duration.
func (p *PrometheusCollector) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		p.requestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		p.requestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

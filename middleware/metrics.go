package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	qrScansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qr_scans_total",
			Help: "Total number of decoded QR frames by result",
		},
		[]string{"result"},
	)

	scannerSessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanner_sessions_total",
			Help: "Total number of scanner sessions by outcome",
		},
		[]string{"outcome"},
	)

	subscriptionDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transaction_subscription_deliveries_total",
			Help: "Total number of transaction updates delivered to subscribers",
		},
		[]string{"mode", "status"},
	)

	transactionStatusChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transaction_status_changes_total",
			Help: "Total number of transaction status changes",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(qrScansTotal)
	prometheus.MustRegister(scannerSessionsTotal)
	prometheus.MustRegister(subscriptionDeliveriesTotal)
	prometheus.MustRegister(transactionStatusChangesTotal)
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		// Unrouted paths share one label to bound cardinality.
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

// RecordScan counts a decoded frame; result is "valid" or "invalid".
func RecordScan(result string) {
	qrScansTotal.WithLabelValues(result).Inc()
}

func RecordScannerSession(outcome string) {
	scannerSessionsTotal.WithLabelValues(outcome).Inc()
}

func RecordSubscriptionDelivery(mode, status string) {
	subscriptionDeliveriesTotal.WithLabelValues(mode, status).Inc()
}

func RecordTransactionStatus(status string) {
	transactionStatusChangesTotal.WithLabelValues(status).Inc()
}

package prometheus

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Store resolution outcomes
const (
	ResolvedLegacyNoToken      = "legacy_no_token"
	ResolvedLegacyInvalidToken = "legacy_invalid_token"
	ResolvedLegacyNoTenant     = "legacy_no_tenant"
	ResolvedTenant             = "tenant"
	ResolvedNotProvisioned     = "tenant_not_provisioned"
	ResolvedUnreachable        = "tenant_unreachable"
)

// Counter metrics
var (
	HTTPRequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lavadero_http_requests_total",
			Help: "Total number of HTTP requests by endpoint and status",
		},
		[]string{"endpoint", "method", "status"},
	)

	// ResolutionCounter counts how requests were routed to a store
	ResolutionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lavadero_store_resolutions_total",
			Help: "Total number of store resolutions by outcome",
		},
		[]string{"outcome"},
	)

	LoginCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lavadero_logins_total",
			Help: "Total number of successful logins by kind",
		},
		[]string{"kind"}, // tenant, legacy, superadmin
	)

	AuthErrorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lavadero_auth_errors_total",
			Help: "Total number of authentication errors",
		},
		[]string{"type"},
	)

	TenantOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lavadero_tenant_operations_total",
			Help: "Total number of tenant directory operations",
		},
		[]string{"operation"}, // create, provision, archive, purge, set_address
	)

	ProvisionerRequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lavadero_provisioner_requests_total",
			Help: "Total number of branch provisioning API calls by result",
		},
		[]string{"operation", "result"},
	)
)

// Histogram metrics
var (
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lavadero_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method", "status"},
	)

	DBOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lavadero_db_operation_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

// Gauge metrics
var (
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lavadero_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	PooledStoresGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lavadero_pooled_stores",
			Help: "Number of store connection pools currently open",
		},
	)
)

func init() {
	prometheus.MustRegister(HTTPRequestCounter)
	prometheus.MustRegister(ResolutionCounter)
	prometheus.MustRegister(LoginCounter)
	prometheus.MustRegister(AuthErrorCounter)
	prometheus.MustRegister(TenantOperationCounter)
	prometheus.MustRegister(ProvisionerRequestCounter)

	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(DBOperationDuration)

	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(PooledStoresGauge)
}

// GetPrometheusHandler returns an HTTP handler for the Prometheus metrics
func GetPrometheusHandler() http.Handler {
	return promhttp.Handler()
}

// TrackDBOperation returns a function that tracks database operation duration
func TrackDBOperation(operation string) func(time.Time) {
	return func(startTime time.Time) {
		DBOperationDuration.With(prometheus.Labels{
			"operation": operation,
		}).Observe(time.Since(startTime).Seconds())
	}
}

// RecordResolution records how a request was routed
func RecordResolution(outcome string) {
	ResolutionCounter.With(prometheus.Labels{"outcome": outcome}).Inc()
}

// RecordAuthError records an authentication error by type
func RecordAuthError(errorType string) {
	AuthErrorCounter.With(prometheus.Labels{"type": errorType}).Inc()
}

// RecordLogin records a successful login
func RecordLogin(kind string) {
	LoginCounter.With(prometheus.Labels{"kind": kind}).Inc()
}

// RecordTenantOperation records a tenant directory operation
func RecordTenantOperation(operation string) {
	TenantOperationCounter.With(prometheus.Labels{"operation": operation}).Inc()
}

// RecordProvisionerRequest records a provisioning API call
func RecordProvisionerRequest(operation, result string) {
	ProvisionerRequestCounter.With(prometheus.Labels{"operation": operation, "result": result}).Inc()
}

// MetricsMiddleware creates a middleware function that captures metrics for each request
func MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			status := c.Response().Status
			if err != nil && !c.Response().Committed {
				status = http.StatusInternalServerError
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				}
			}

			labels := prometheus.Labels{
				"endpoint": c.Path(),
				"method":   c.Request().Method,
				"status":   strconv.Itoa(status),
			}
			RequestDuration.With(labels).Observe(time.Since(start).Seconds())
			HTTPRequestCounter.With(labels).Inc()

			return err
		}
	}
}

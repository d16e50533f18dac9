package service

import (
	"context"
	"database/sql"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
)

// Health status constants
const (
	StatusHealthy      = "healthy"
	StatusDegraded     = "degraded"
	StatusUnhealthy    = "unhealthy"
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusDisabled     = "disabled"
)

const healthCheckTimeout = 2 * time.Second

// HealthStatus represents the overall health status of the application
type HealthStatus struct {
	Status    string            `json:"status"`
	Services  map[string]string `json:"services"`
	Providers []string          `json:"providers"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version,omitempty"`
}

// HealthChecker handles health check operations
type HealthChecker struct {
	db        *sql.DB
	queueURL  string
	redis     redis.Cmdable
	providers []string
	version   string
	dial      func(url string) (*amqp.Connection, error)
}

// NewHealthService creates a new HealthChecker instance. redis may be nil when locks are
// process-local.
func NewHealthService(db *sql.DB, queueURL string, redisClient redis.Cmdable, providers []string, version string) *HealthChecker {
	return &HealthChecker{
		db:        db,
		queueURL:  queueURL,
		redis:     redisClient,
		providers: providers,
		version:   version,
		dial:      amqp.Dial,
	}
}

// checkDatabase verifies PostgreSQL connectivity with a timeout
func (h *HealthChecker) checkDatabase(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		return StatusDisconnected
	}
	return StatusConnected
}

// checkQueue verifies RabbitMQ connectivity
func (h *HealthChecker) checkQueue() string {
	conn, err := h.dial(h.queueURL)
	if err != nil {
		return StatusDisconnected
	}
	defer conn.Close()

	return StatusConnected
}

func (h *HealthChecker) checkRedis(ctx context.Context) string {
	if h.redis == nil {
		return StatusDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := h.redis.Ping(ctx).Err(); err != nil {
		return StatusDisconnected
	}
	return StatusConnected
}

// determineOverallStatus calculates the overall health status based on service statuses
func (h *HealthChecker) determineOverallStatus(services map[string]string) string {
	// without the database nothing works
	if services["database"] == StatusDisconnected {
		return StatusUnhealthy
	}
	// dispatch falls back to the scheduler without the queue; redis loss weakens locking
	if services["queue"] == StatusDisconnected || services["redis"] == StatusDisconnected {
		return StatusDegraded
	}
	if len(h.providers) == 0 {
		return StatusDegraded
	}
	return StatusHealthy
}

// CheckHealth performs health checks on all dependencies and returns the overall status
func (h *HealthChecker) CheckHealth(ctx context.Context) (*HealthStatus, error) {
	services := map[string]string{
		"database": h.checkDatabase(ctx),
		"queue":    h.checkQueue(),
		"redis":    h.checkRedis(ctx),
	}

	providers := h.providers
	if providers == nil {
		providers = []string{}
	}

	return &HealthStatus{
		Status:    h.determineOverallStatus(services),
		Services:  services,
		Providers: providers,
		Timestamp: time.Now().UTC(),
		Version:   h.version,
	}, nil
}

package service

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthChecker_CheckHealth(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	checker := NewHealthService(db, "amqp://unused", client, []string{"a", "c"}, "1.0.0")
	checker.dial = func(url string) (*amqp.Connection, error) {
		return nil, errors.New("connection refused")
	}

	mock.ExpectPing()
	status, err := checker.CheckHealth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusDegraded, status.Status)
	assert.Equal(t, StatusConnected, status.Services["database"])
	assert.Equal(t, StatusDisconnected, status.Services["queue"])
	assert.Equal(t, StatusConnected, status.Services["redis"])
	assert.Equal(t, []string{"a", "c"}, status.Providers)

	mock.ExpectPing().WillReturnError(errors.New("down"))
	status, err = checker.CheckHealth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthChecker_DetermineOverallStatus(t *testing.T) {
	checker := &HealthChecker{providers: []string{"a"}}

	tests := []struct {
		name     string
		services map[string]string
		expected string
	}{
		{"all connected", map[string]string{"database": StatusConnected, "queue": StatusConnected, "redis": StatusConnected}, StatusHealthy},
		{"redis disabled", map[string]string{"database": StatusConnected, "queue": StatusConnected, "redis": StatusDisabled}, StatusHealthy},
		{"redis down", map[string]string{"database": StatusConnected, "queue": StatusConnected, "redis": StatusDisconnected}, StatusDegraded},
		{"database down", map[string]string{"database": StatusDisconnected, "queue": StatusConnected, "redis": StatusConnected}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, checker.determineOverallStatus(tt.services))
		})
	}

	assert.Equal(t, StatusDegraded, (&HealthChecker{}).determineOverallStatus(map[string]string{"database": StatusConnected}))
}

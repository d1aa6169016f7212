package database

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewHealthChecker(t *testing.T) {
	db := &sql.DB{}
	interval := 5 * time.Second

	hc := NewHealthChecker(db, interval, zap.NewNop())

	require.NotNil(t, hc)
	assert.Same(t, db, hc.db)
	assert.Equal(t, interval, hc.checkInterval)
	assert.True(t, hc.IsHealthy())
	assert.NotNil(t, hc.stopChan)
}

func TestStop_Twice(t *testing.T) {
	hc := NewHealthChecker(&sql.DB{}, 5*time.Second, zap.NewNop())

	hc.Stop()
	hc.Stop()

	select {
	case <-hc.stopChan:
	case <-time.After(100 * time.Millisecond):
		t.Error("Expected stopChan to be closed after Stop()")
	}
}

func TestEnsureConnection(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	hc := NewHealthChecker(db, 5*time.Second, zap.NewNop())

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	err = hc.EnsureConnection(context.Background())
	assert.Error(t, err)
	assert.False(t, hc.IsHealthy())

	mock.ExpectPing()
	err = hc.EnsureConnection(context.Background())
	assert.NoError(t, err)
	assert.True(t, hc.IsHealthy())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckConnection_Transitions(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	hc := NewHealthChecker(db, time.Hour, zap.NewNop())

	mock.ExpectPing().WillReturnError(errors.New("down"))
	hc.checkConnection()
	assert.False(t, hc.IsHealthy())

	mock.ExpectPing()
	hc.checkConnection()
	assert.True(t, hc.IsHealthy())
}

func TestHealthChecker_ConcurrentAccess(t *testing.T) {
	hc := NewHealthChecker(&sql.DB{}, 5*time.Second, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = hc.IsHealthy()
			}
		}()
		go func(val bool) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				hc.mu.Lock()
				hc.isHealthy = val
				hc.mu.Unlock()
			}
		}(i%2 == 0)
	}
	wg.Wait()
}

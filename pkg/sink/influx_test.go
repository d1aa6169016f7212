package sink

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BathrobeBat/noise-sensor/pkg/config"
	"github.com/BathrobeBat/noise-sensor/pkg/models"
	"github.com/google/uuid"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testSensor = &models.Sensor{
	ID:         uuid.MustParse("7d5c3a1e-0c44-4b7e-9d6b-2b0f7f1f3c11"),
	Source:     models.SourceFeed,
	ExternalID: models.Int64Ptr(4711),
}

func TestPoint(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 15, 0, 0, time.UTC)
	p := Point(testSensor, &models.Reading{Timestamp: ts, LAeq: 51.5, LAmax: 63, LAmin: 38})

	line := write.PointToLineProtocol(p, time.Second)

	assert.True(t, strings.HasPrefix(line, "noise,"))
	assert.Contains(t, line, "external_id=4711")
	assert.Contains(t, line, "sensor_id=7d5c3a1e-0c44-4b7e-9d6b-2b0f7f1f3c11")
	assert.Contains(t, line, "source=feed")
	assert.Contains(t, line, "laeq=51.5")
	assert.Contains(t, line, "lamax=63")
	assert.Contains(t, line, "lamin=38")
	assert.Contains(t, line, " 1714558500")
}

type fakeInflux struct {
	mu     sync.Mutex
	bodies []string
	query  string
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/health":
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"name":"influxdb","message":"ready for queries and writes","status":"pass","checks":[],"version":"2.7.0"}`))
	case "/api/v2/write":
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.bodies = append(f.bodies, string(body))
		f.query = r.URL.RawQuery
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeInflux) written() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.bodies, "")
}

func TestInfluxSink_WriteReading(t *testing.T) {
	fake := &fakeInflux{}
	server := httptest.NewServer(fake)
	defer server.Close()

	s, err := NewInfluxSink(context.Background(), config.InfluxConfig{
		URL: server.URL, Token: "token", Org: "org", Bucket: "noise",
	}, zap.NewNop())
	require.NoError(t, err)

	ts := time.Date(2024, 5, 1, 10, 15, 0, 0, time.UTC)
	require.NoError(t, s.WriteReading(context.Background(), testSensor, &models.Reading{Timestamp: ts, LAeq: 50, LAmax: 60, LAmin: 40}))
	require.NoError(t, s.WriteReading(context.Background(), testSensor, &models.Reading{LAeq: 99}))
	s.Close()

	assert.Eventually(t, func() bool { return fake.written() != "" }, time.Second, 10*time.Millisecond)

	body := fake.written()
	assert.Contains(t, body, "laeq=50")
	assert.NotContains(t, body, "laeq=99", "readings without timestamp are not mirrored")

	fake.mu.Lock()
	assert.Contains(t, fake.query, "bucket=noise")
	fake.mu.Unlock()
}

func TestNewInfluxSink_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewInfluxSink(context.Background(), config.InfluxConfig{URL: url, Token: "t", Org: "o", Bucket: "b"}, zap.NewNop())
	assert.Error(t, err)
}

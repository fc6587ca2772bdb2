package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsAreIndependent(t *testing.T) {
	a := NewCollector("canvas")
	b := NewCollector("canvas")

	a.ResetPerformed()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.SessionResets))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.SessionResets))
}

func TestCollectorRecords(t *testing.T) {
	c := NewCollector("canvas")
	c.SetConnections(3)
	c.BatchRelayed(4, 2)
	c.Dropped(DropMalformed)
	c.Dropped(DropMalformed)
	c.ArchiveWrite("file", time.Millisecond, nil)
	c.ArchiveWrite("db", time.Millisecond, errors.New("down"))

	assert.Equal(t, 3.0, testutil.ToFloat64(c.Connections))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ElementBatches))
	assert.Equal(t, 8.0, testutil.ToFloat64(c.ElementsRelayed))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.DroppedMessages.WithLabelValues(DropMalformed)))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.ArchiveFailures.WithLabelValues("file")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ArchiveFailures.WithLabelValues("db")))
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.SetConnections(1)
		c.SetElements(1)
		c.BatchRelayed(1, 1)
		c.CursorMoved()
		c.Dropped(DropSlowConsumer)
		c.ResetPerformed()
		c.ArchiveWrite("file", 0, nil)
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector("canvas")
	c.SetConnections(2)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "canvas_connections 2")
}

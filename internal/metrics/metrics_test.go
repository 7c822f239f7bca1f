package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"micetrack/internal/backend"
	"micetrack/internal/batch"
)

func TestObserveCountsEvents(t *testing.T) {
	m := New()
	bus := batch.NewEventBus()
	unsubscribe := m.AttachBus(bus)
	defer unsubscribe()

	bus.Publish(&batch.Event{Type: batch.EventBatchStarted, Index: -1})
	bus.Publish(&batch.Event{Type: batch.EventJobStatus, Index: 0, Job: backend.Snapshot{Status: backend.StatusUploading}})
	bus.Publish(&batch.Event{Type: batch.EventJobProgress, Index: 0, Job: backend.Snapshot{Status: backend.StatusTracking, CurrentFrame: 120}})
	bus.Publish(&batch.Event{Type: batch.EventJobProgress, Index: 0, Job: backend.Snapshot{Status: backend.StatusTracking, CurrentFrame: 250}})
	bus.Publish(&batch.Event{Type: batch.EventJobStatus, Index: 0, Job: backend.Snapshot{Status: backend.StatusCompleted}})
	bus.Publish(&batch.Event{Type: batch.EventJobStatus, Index: 1, Job: backend.Snapshot{Status: backend.StatusError}})
	bus.Publish(&batch.Event{Type: batch.EventBatchFinished, Index: -1})

	assert.EqualValues(t, 1, m.BatchesStarted.Load())
	assert.EqualValues(t, 1, m.BatchesFinished.Load())
	assert.EqualValues(t, 1, m.JobsStarted.Load())
	assert.EqualValues(t, 1, m.JobsCompleted.Load())
	assert.EqualValues(t, 1, m.JobsFailed.Load())
	assert.EqualValues(t, 2, m.PollUpdates.Load())
	assert.EqualValues(t, 250, m.FramesProcessed.Load(), "frame gauge follows the last progress snapshot")
	assert.Zero(t, m.JobsStopped.Load())
}

func TestHandlerExposesGauges(t *testing.T) {
	m := New()
	m.RearingEventsDetected.Add(7)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "micetrack_rearing_events_total 7")
	assert.Contains(t, string(body), "micetrack_jobs_completed_total 0")
}

package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"micetrack/internal/geometry"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "micetrack.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return db
}

func samplePreset(name string) *geometry.Preset {
	return &geometry.Preset{
		PresetName:  name,
		Description: "open field arena",
		Timestamp:   "2026-08-01T10:00:00Z",
		FrameWidth:  640,
		FrameHeight: 480,
		ROIs: geometry.ROIList{
			geometry.Circle{CenterX: 320, CenterY: 240, Radius: 200},
			geometry.Rectangle{CenterX: 320, CenterY: 240, Width: 100, Height: 80},
		},
	}
}

func TestPresetRoundTrip(t *testing.T) {
	db := newTestDB(t)

	want := samplePreset("open_field")
	require.NoError(t, db.SavePreset(want))

	got, err := db.GetPreset("open_field")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.PresetName, got.PresetName)
	assert.Equal(t, want.FrameWidth, got.FrameWidth)
	require.Len(t, got.ROIs, 2)
	assert.Equal(t, geometry.ROITypeCircle, got.ROIs[0].Type())
	assert.Equal(t, geometry.ROITypeRectangle, got.ROIs[1].Type())
	assert.Equal(t, want.ROIs[0], got.ROIs[0])
}

func TestPresetUpsert(t *testing.T) {
	db := newTestDB(t)

	p := samplePreset("arena")
	require.NoError(t, db.SavePreset(p))

	p.Description = "updated"
	p.ROIs = p.ROIs[:1]
	require.NoError(t, db.SavePreset(p))

	got, err := db.GetPreset("arena")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "updated", got.Description)
	assert.Len(t, got.ROIs, 1)

	presets, err := db.ListPresets()
	require.NoError(t, err)
	assert.Len(t, presets, 1, "upsert must not duplicate rows")
}

func TestPresetMissingAndDelete(t *testing.T) {
	db := newTestDB(t)

	got, err := db.GetPreset("nope")
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.Error(t, db.DeletePreset("nope"))

	require.NoError(t, db.SavePreset(samplePreset("arena")))
	require.NoError(t, db.DeletePreset("arena"))
	got, err = db.GetPreset("arena")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSavePresetRejectsInvalid(t *testing.T) {
	db := newTestDB(t)
	p := samplePreset("bad")
	p.FrameWidth = 0
	assert.Error(t, db.SavePreset(p))
}

func TestAnalysisRunArchive(t *testing.T) {
	db := newTestDB(t)

	now := time.Now().UTC().Truncate(time.Second)
	runs := []*AnalysisRunRecord{
		{ID: "r1", BatchID: "b1", VideoName: "a.mp4", TaskID: "t1", Outcome: "succeeded", CreatedAt: now.Add(-2 * time.Hour), Document: []byte(`{"video_name":"a.mp4"}`)},
		{ID: "r2", BatchID: "b1", VideoName: "b.mp4", TaskID: "t2", Outcome: "failed", Error: "backend crash", CreatedAt: now.Add(-time.Hour)},
		{ID: "r3", BatchID: "b2", VideoName: "c.mp4", TaskID: "t3", Outcome: "succeeded", CreatedAt: now, Document: []byte(`{"video_name":"c.mp4"}`)},
	}
	for _, run := range runs {
		require.NoError(t, db.SaveAnalysisRun(run))
	}

	got, err := db.GetAnalysisRun("r2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "failed", got.Outcome)
	assert.Equal(t, "backend crash", got.Error)

	all, err := db.ListAnalysisRuns("", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "r3", all[0].ID, "newest first")

	batch, err := db.ListAnalysisRuns("b1", 0)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	limited, err := db.ListAnalysisRuns("", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	deleted, err := db.DeleteOldAnalysisRuns(now.Add(-90 * time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	missing, err := db.GetAnalysisRun("r1")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestConfigKV(t *testing.T) {
	db := newTestDB(t)

	val, err := db.GetConfig("absent")
	require.NoError(t, err)
	assert.Empty(t, val)

	require.NoError(t, db.SaveConfig("default_model", "yolov11s_pose.pt"))
	require.NoError(t, db.SaveConfig("default_model", "yolov11m_pose.pt"))
	require.NoError(t, db.SaveConfig("poll_interval_ms", "500"))

	val, err = db.GetConfig("default_model")
	require.NoError(t, err)
	assert.Equal(t, "yolov11m_pose.pt", val)

	all, err := db.ListConfigs()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, db.DeleteConfig("poll_interval_ms"))
	all, err = db.ListConfigs()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"micetrack/internal/geometry"
)

// Database handles SQLite database operations
type Database struct {
	db *sql.DB
}

// AnalysisRunRecord is one archived tracking run: the batch it belonged to,
// its outcome and the full result document as returned by the backend
// (including any merged rearing analysis).
type AnalysisRunRecord struct {
	ID        string
	BatchID   string
	VideoName string
	TaskID    string
	Outcome   string
	Error     string
	CreatedAt time.Time
	Document  []byte
}

// ConfigRecord represents a configuration key-value pair
type ConfigRecord struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// New creates a new database connection
func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &Database{db: db}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Migrate runs database migrations
func (d *Database) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS roi_presets (
			name TEXT PRIMARY KEY,
			description TEXT,
			timestamp TEXT,
			frame_width INTEGER NOT NULL,
			frame_height INTEGER NOT NULL,
			rois TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS analysis_runs (
			id TEXT PRIMARY KEY,
			batch_id TEXT NOT NULL,
			video_name TEXT NOT NULL,
			task_id TEXT,
			outcome TEXT NOT NULL,
			error TEXT,
			created_at DATETIME NOT NULL,
			document TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS app_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_batch ON analysis_runs(batch_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_time ON analysis_runs(created_at DESC)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// SavePreset saves or updates an ROI preset. ROIs are stored as the same
// tagged JSON used on the wire, so a preset round-trips byte-compatibly.
func (d *Database) SavePreset(p *geometry.Preset) error {
	if err := p.Validate(); err != nil {
		return err
	}
	roisJSON, err := json.Marshal(p.ROIs)
	if err != nil {
		return fmt.Errorf("failed to marshal rois: %w", err)
	}

	query := `INSERT INTO roi_presets (name, description, timestamp, frame_width, frame_height, rois)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			description = excluded.description,
			timestamp = excluded.timestamp,
			frame_width = excluded.frame_width,
			frame_height = excluded.frame_height,
			rois = excluded.rois,
			updated_at = CURRENT_TIMESTAMP`

	_, err = d.db.Exec(query, p.PresetName, p.Description, p.Timestamp, p.FrameWidth, p.FrameHeight, string(roisJSON))
	if err != nil {
		return fmt.Errorf("failed to save preset: %w", err)
	}
	return nil
}

// GetPreset retrieves a preset by name. Returns (nil, nil) when absent.
func (d *Database) GetPreset(name string) (*geometry.Preset, error) {
	query := `SELECT name, description, timestamp, frame_width, frame_height, rois FROM roi_presets WHERE name = ?`

	var p geometry.Preset
	var roisJSON string
	err := d.db.QueryRow(query, name).Scan(&p.PresetName, &p.Description, &p.Timestamp, &p.FrameWidth, &p.FrameHeight, &roisJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get preset: %w", err)
	}
	if err := json.Unmarshal([]byte(roisJSON), &p.ROIs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rois: %w", err)
	}
	return &p, nil
}

// ListPresets returns all presets ordered by name
func (d *Database) ListPresets() ([]*geometry.Preset, error) {
	query := `SELECT name, description, timestamp, frame_width, frame_height, rois FROM roi_presets ORDER BY name`

	rows, err := d.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list presets: %w", err)
	}
	defer rows.Close()

	var presets []*geometry.Preset
	for rows.Next() {
		var p geometry.Preset
		var roisJSON string
		if err := rows.Scan(&p.PresetName, &p.Description, &p.Timestamp, &p.FrameWidth, &p.FrameHeight, &roisJSON); err != nil {
			return nil, fmt.Errorf("failed to scan preset: %w", err)
		}
		if err := json.Unmarshal([]byte(roisJSON), &p.ROIs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal rois for %q: %w", p.PresetName, err)
		}
		presets = append(presets, &p)
	}
	return presets, rows.Err()
}

// DeletePreset deletes a preset by name
func (d *Database) DeletePreset(name string) error {
	res, err := d.db.Exec("DELETE FROM roi_presets WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("failed to delete preset: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete preset: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("preset %q not found", name)
	}
	return nil
}

// SaveAnalysisRun archives a finished (or failed) tracking run
func (d *Database) SaveAnalysisRun(run *AnalysisRunRecord) error {
	query := `INSERT INTO analysis_runs (id, batch_id, video_name, task_id, outcome, error, created_at, document)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			outcome = excluded.outcome,
			error = excluded.error,
			document = excluded.document`

	_, err := d.db.Exec(query, run.ID, run.BatchID, run.VideoName, run.TaskID,
		run.Outcome, run.Error, run.CreatedAt, string(run.Document))
	if err != nil {
		return fmt.Errorf("failed to save analysis run: %w", err)
	}
	return nil
}

// GetAnalysisRun retrieves an archived run by ID. Returns (nil, nil) when absent.
func (d *Database) GetAnalysisRun(id string) (*AnalysisRunRecord, error) {
	query := `SELECT id, batch_id, video_name, task_id, outcome, error, created_at, document
		FROM analysis_runs WHERE id = ?`

	var run AnalysisRunRecord
	var doc string
	err := d.db.QueryRow(query, id).Scan(&run.ID, &run.BatchID, &run.VideoName,
		&run.TaskID, &run.Outcome, &run.Error, &run.CreatedAt, &doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis run: %w", err)
	}
	run.Document = []byte(doc)
	return &run, nil
}

// ListAnalysisRuns returns archived runs, newest first. batchID filters to a
// single batch when non-empty; limit <= 0 means no limit.
func (d *Database) ListAnalysisRuns(batchID string, limit int) ([]*AnalysisRunRecord, error) {
	query := `SELECT id, batch_id, video_name, task_id, outcome, error, created_at, document FROM analysis_runs`
	args := []interface{}{}
	if batchID != "" {
		query += " WHERE batch_id = ?"
		args = append(args, batchID)
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list analysis runs: %w", err)
	}
	defer rows.Close()

	var runs []*AnalysisRunRecord
	for rows.Next() {
		var run AnalysisRunRecord
		var doc string
		if err := rows.Scan(&run.ID, &run.BatchID, &run.VideoName, &run.TaskID,
			&run.Outcome, &run.Error, &run.CreatedAt, &doc); err != nil {
			return nil, fmt.Errorf("failed to scan analysis run: %w", err)
		}
		run.Document = []byte(doc)
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

// DeleteOldAnalysisRuns removes runs archived before the given time
func (d *Database) DeleteOldAnalysisRuns(before time.Time) (int64, error) {
	res, err := d.db.Exec("DELETE FROM analysis_runs WHERE created_at < ?", before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old analysis runs: %w", err)
	}
	return res.RowsAffected()
}

// SaveConfig saves or updates a configuration value
func (d *Database) SaveConfig(key, value string) error {
	query := `INSERT INTO app_config (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`
	if _, err := d.db.Exec(query, key, value); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// GetConfig retrieves a configuration value
func (d *Database) GetConfig(key string) (string, error) {
	var value string
	err := d.db.QueryRow("SELECT value FROM app_config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get config: %w", err)
	}
	return value, nil
}

// ListConfigs returns all configuration values
func (d *Database) ListConfigs() (map[string]string, error) {
	rows, err := d.db.Query("SELECT key, value FROM app_config")
	if err != nil {
		return nil, fmt.Errorf("failed to list configs: %w", err)
	}
	defer rows.Close()

	configs := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan config: %w", err)
		}
		configs[key] = value
	}
	return configs, rows.Err()
}

// DeleteConfig deletes a configuration value
func (d *Database) DeleteConfig(key string) error {
	if _, err := d.db.Exec("DELETE FROM app_config WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete config: %w", err)
	}
	return nil
}

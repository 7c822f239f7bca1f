// Package backend drives tracking jobs against the backend tracking service
// over its REST surface.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"micetrack/internal/tracking"
)

// Client is a REST client for the tracking backend. It is safe for
// concurrent use, but the orchestrator serializes jobs anyway because the
// backend supports a single active job per session.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a backend client. The timeout bounds individual
// requests, not whole jobs.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Health checks backend availability.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend health check failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("backend health check returned status %d", resp.StatusCode)
	}
	return nil
}

// UploadVideo uploads a video file via multipart form data and returns the
// stored filename.
func (c *Client) UploadVideo(ctx context.Context, filename string, content io.Reader) (*UploadResponse, error) {
	return c.upload(ctx, "/api/video/upload", filename, content)
}

// UploadModel uploads a YOLO model file. Only .pt files are accepted.
func (c *Client) UploadModel(ctx context.Context, filename string, content io.Reader) (*UploadResponse, error) {
	if filepath.Ext(filename) != ".pt" {
		return nil, fmt.Errorf("only .pt model files are allowed (got %q)", filename)
	}
	return c.upload(ctx, "/api/tracking/models/upload", filename, content)
}

func (c *Client) upload(ctx context.Context, path, filename string, content io.Reader) (*UploadResponse, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	fw, err := w.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, content); err != nil {
		return nil, fmt.Errorf("failed to buffer upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var out UploadResponse
	if err := c.doEnvelope(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListModels returns the YOLO model files available on the backend.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tracking/models", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Models []string `json:"models"`
	}
	if err := c.doEnvelope(req, &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

// StartTracking creates a tracking job on the backend and returns its task id.
func (c *Client) StartTracking(ctx context.Context, treq *TrackingRequest) (string, error) {
	if err := treq.Validate(); err != nil {
		return "", err
	}
	body, err := json.Marshal(treq)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/tracking/start", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var out struct {
		TaskID string `json:"task_id"`
	}
	if err := c.doEnvelope(req, &out); err != nil {
		return "", err
	}
	if out.TaskID == "" {
		return "", fmt.Errorf("backend returned an empty task id")
	}
	return out.TaskID, nil
}

// Progress fetches one progress snapshot for a task.
func (c *Client) Progress(ctx context.Context, taskID string) (*ProgressSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tracking/progress/"+taskID, nil)
	if err != nil {
		return nil, err
	}
	var out ProgressSnapshot
	if err := c.doEnvelope(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StopTracking asks the backend to stop a running task.
func (c *Client) StopTracking(ctx context.Context, taskID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/tracking/stop/"+taskID, nil)
	if err != nil {
		return err
	}
	return c.doEnvelope(req, nil)
}

// FetchResults downloads the raw result document of a completed task and the
// decoded, boundary-validated form of it.
func (c *Client) FetchResults(ctx context.Context, taskID string) ([]byte, *tracking.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tracking/results/"+taskID, nil)
	if err != nil {
		return nil, nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch results: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil, ErrTaskNotFound
	}
	if resp.StatusCode == http.StatusBadRequest {
		return nil, nil, ErrResultNotReady
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("results request returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read result document: %w", err)
	}
	res, err := tracking.DecodeResult(raw)
	if err != nil {
		return nil, nil, err
	}
	return raw, res, nil
}

// doEnvelope executes the request and unwraps the {success, data, error}
// envelope into out (which may be nil when no data is expected).
func (c *Client) doEnvelope(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrTaskNotFound
	}

	var env Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("failed to decode response from %s (status %d): %w", req.URL.Path, resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || !env.Success {
		msg := env.Error
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return fmt.Errorf("backend rejected %s: %s", req.URL.Path, msg)
	}
	if out != nil && env.Data != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode data from %s: %w", req.URL.Path, err)
		}
	}
	return nil
}

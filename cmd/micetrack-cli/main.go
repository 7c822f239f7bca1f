// Command micetrack-cli runs a tracking batch headlessly: it enqueues the
// given videos, drives them through the backend, optionally runs rearing
// detection, and writes one merged result document per video.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"micetrack/internal/backend"
	"micetrack/internal/batch"
	"micetrack/internal/geometry"
	"micetrack/internal/rearing"
	"micetrack/internal/tracking"
)

func main() {
	var (
		backendF  = flag.String("backend", "http://localhost:8000", "Backend base URL")
		simulateF = flag.Bool("simulate", false, "Run against the in-process backend simulator")
		presetF   = flag.String("preset", "", "Path to a JSON ROI preset file (required)")
		modelF    = flag.String("model", "yolov11s_pose.pt", "Model name on the backend")
		outF      = flag.String("out", "results", "Output directory for result documents")
		confF     = flag.Float64("conf", 0.5, "Confidence threshold")
		iouF      = flag.Float64("iou", 0.45, "IOU threshold")
		sizeF     = flag.Int("size", 640, "Inference image size")
		pollF     = flag.Duration("poll", 500*time.Millisecond, "Progress poll interval")
		rearingF  = flag.String("rearing-rois", "", "Path to a JSON file with named ROIs; enables rearing analysis")
		fpsF      = flag.Float64("fps", 0, "FPS override for rearing statistics (0 = use the video's)")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[micetrack-cli] ", log.Ltime)

	videos := flag.Args()
	if len(videos) == 0 {
		logger.Fatal("usage: micetrack-cli -preset rois.json [flags] video1.mp4 [video2.mp4 ...]")
	}
	if *presetF == "" {
		logger.Fatal("-preset is required")
	}

	preset, err := loadPreset(*presetF)
	if err != nil {
		logger.Fatalf("preset: %v", err)
	}

	var namedROIs []tracking.NamedROI
	if *rearingF != "" {
		namedROIs, err = loadNamedROIs(*rearingF)
		if err != nil {
			logger.Fatalf("rearing rois: %v", err)
		}
	}

	if err := os.MkdirAll(*outF, 0o755); err != nil {
		logger.Fatalf("output dir: %v", err)
	}

	backendURL := *backendF
	if *simulateF {
		backendURL, err = startSimulator(logger)
		if err != nil {
			logger.Fatalf("simulator: %v", err)
		}
	}
	client := backend.NewClient(backendURL, 30*time.Second)

	cfg := backend.JobConfig{
		ModelName:           *modelF,
		Preset:              *preset,
		ConfidenceThreshold: *confF,
		IOUThreshold:        *iouF,
		InferenceSize:       *sizeF,
		PollInterval:        *pollF,
	}

	bus := batch.NewEventBus()
	bus.Subscribe(func(ev *batch.Event) { logEvent(logger, ev) })

	o := batch.NewOrchestrator(client, cfg, bus)
	if err := o.Enqueue(videos...); err != nil {
		logger.Fatalf("enqueue: %v", err)
	}

	// First SIGINT stops the batch cooperatively; a second one kills us.
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigc
		logger.Println("stop requested, finishing the active upload/poll cycle")
		o.Stop()
		<-sigc
		os.Exit(1)
	}()

	report, err := o.Run(context.Background())
	if err != nil {
		logger.Fatalf("batch: %v", err)
	}

	for _, res := range report.Results {
		doc := res.Raw
		if namedROIs != nil {
			doc, err = analyzeRearing(doc, res.Result, namedROIs, *fpsF)
			if err != nil {
				logger.Printf("rearing analysis for %s failed: %v", res.VideoName, err)
				doc = res.Raw
			}
		}
		path := filepath.Join(*outF, resultFilename(res.VideoName))
		if err := os.WriteFile(path, doc, 0o644); err != nil {
			logger.Fatalf("write %s: %v", path, err)
		}
		logger.Printf("wrote %s", path)
	}

	logger.Printf("batch %s: %d succeeded, %d failed, %d stopped (%s)",
		report.BatchID, report.Succeeded, report.Failed, report.Stopped, report.Duration.Round(time.Millisecond))
	for _, item := range report.Items {
		if item.Outcome == batch.OutcomeFailed {
			logger.Printf("  failed: %s: %s", item.VideoName, item.Error)
		}
	}
	if report.Failed > 0 {
		os.Exit(1)
	}
}

func loadPreset(path string) (*geometry.Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var preset geometry.Preset
	if err := json.Unmarshal(data, &preset); err != nil {
		return nil, err
	}
	if err := preset.Validate(); err != nil {
		return nil, err
	}
	return &preset, nil
}

func loadNamedROIs(path string) ([]tracking.NamedROI, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rois []tracking.NamedROI
	if err := json.Unmarshal(data, &rois); err != nil {
		return nil, err
	}
	return rois, nil
}

// analyzeRearing runs the detector over a finished result and merges the
// analysis into the document.
func analyzeRearing(doc []byte, result *tracking.Result, rois []tracking.NamedROI, fps float64) ([]byte, error) {
	if fps <= 0 {
		fps = result.VideoInfo.FPS
	}
	analysis, err := rearing.Detect(result.TrackingData, rois, rearing.Options{
		FPS:          fps,
		AnalysisType: rearing.AnalysisSegmentation,
	})
	if err != nil {
		return nil, err
	}
	return tracking.MergeRearingAnalysis(doc, analysis)
}

func resultFilename(videoName string) string {
	base := strings.TrimSuffix(videoName, filepath.Ext(videoName))
	return base + "_tracking.json"
}

func logEvent(logger *log.Logger, ev *batch.Event) {
	switch ev.Type {
	case batch.EventBatchStarted:
		logger.Printf("batch %s started", ev.BatchID)
	case batch.EventBatchFinished, batch.EventBatchStopped:
		logger.Printf("batch %s %s", ev.BatchID, strings.TrimPrefix(string(ev.Type), "batch_"))
	case batch.EventJobStatus:
		logger.Printf("[%d] %s: %s", ev.Index, ev.Job.VideoName, ev.Job.Status)
	case batch.EventJobProgress:
		logger.Printf("[%d] %s: %.1f%%", ev.Index, ev.Job.VideoName, ev.Job.Percentage)
	}
}

func startSimulator(logger *log.Logger) (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	sim := backend.NewSimulator(backend.DefaultSimulatorConfig())
	go func() {
		if err := http.Serve(ln, sim); err != nil {
			logger.Printf("simulator stopped: %v", err)
		}
	}()
	url := fmt.Sprintf("http://%s", ln.Addr())
	logger.Printf("backend simulator listening on %s", url)
	return url, nil
}

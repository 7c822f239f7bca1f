// Package batch runs a queue of videos through tracking jobs one at a time.
// The backend detector is treated as a single shared resource, so jobs are
// serialized by construction, never by backend-side locking.
package batch

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"micetrack/internal/backend"
	"micetrack/internal/tracking"
)

// ItemOutcome is the terminal classification of one queue item
type ItemOutcome string

const (
	OutcomePending   ItemOutcome = "pending"
	OutcomeSucceeded ItemOutcome = "succeeded"
	OutcomeFailed    ItemOutcome = "failed"
	OutcomeStopped   ItemOutcome = "stopped"
)

// EnrichedResult pairs a raw result document with the identity of the run
// that produced it.
type EnrichedResult struct {
	VideoName string           `json:"video_name"`
	TaskID    string           `json:"task_id"`
	Raw       []byte           `json:"-"`
	Result    *tracking.Result `json:"result"`
}

// ItemReport is the terminal state of one queue item
type ItemReport struct {
	VideoName string      `json:"video_name"`
	TaskID    string      `json:"task_id,omitempty"`
	Outcome   ItemOutcome `json:"outcome"`
	Error     string      `json:"error,omitempty"`
}

// Report is the aggregate outcome of a batch run
type Report struct {
	BatchID   string           `json:"batch_id"`
	Items     []ItemReport     `json:"items"`
	Results   []EnrichedResult `json:"results"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Stopped   int              `json:"stopped"`
	Duration  time.Duration    `json:"duration"`
}

type queueItem struct {
	videoPath string
	job       *backend.Job
	outcome   ItemOutcome
	err       error
}

// Orchestrator runs a queue of videos sequentially with one shared
// configuration. Item failures are isolated: a failed video is recorded and
// the queue advances. A user-requested stop aborts the active item and
// leaves the rest of the queue untouched.
type Orchestrator struct {
	client *backend.Client
	cfg    backend.JobConfig
	bus    *EventBus

	mu            sync.Mutex
	batchID       string
	queue         []*queueItem
	currentIndex  int
	stopRequested bool
	running       bool
}

// NewOrchestrator creates an orchestrator. bus may be nil when no one
// observes lifecycle events.
func NewOrchestrator(client *backend.Client, cfg backend.JobConfig, bus *EventBus) *Orchestrator {
	return &Orchestrator{
		client:       client,
		cfg:          cfg,
		bus:          bus,
		batchID:      uuid.New().String(),
		currentIndex: -1,
	}
}

// BatchID identifies this batch run in events and archives.
func (o *Orchestrator) BatchID() string { return o.batchID }

// Enqueue appends videos to the queue. Must be called before Run.
func (o *Orchestrator) Enqueue(videoPaths ...string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return fmt.Errorf("batch %s is already running", o.batchID)
	}
	for _, p := range videoPaths {
		o.queue = append(o.queue, &queueItem{videoPath: p, outcome: OutcomePending})
	}
	return nil
}

// Stop requests a cooperative stop: the active job is cancelled and no
// further queue item is started. Safe to call at any time.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	o.stopRequested = true
	var current *backend.Job
	if o.currentIndex >= 0 && o.currentIndex < len(o.queue) {
		current = o.queue[o.currentIndex].job
	}
	o.mu.Unlock()

	if current != nil {
		current.Cancel()
	}
	log.Printf("[Batch] Stop requested for batch %s", o.batchID)
}

// Snapshot reports the current state of every queue item.
func (o *Orchestrator) Snapshot() []ItemReport {
	o.mu.Lock()
	defer o.mu.Unlock()
	items := make([]ItemReport, 0, len(o.queue))
	for _, it := range o.queue {
		items = append(items, o.itemReport(it))
	}
	return items
}

func (o *Orchestrator) itemReport(it *queueItem) ItemReport {
	rep := ItemReport{Outcome: it.outcome}
	if it.job != nil {
		snap := it.job.Snapshot()
		rep.VideoName = snap.VideoName
		rep.TaskID = snap.TaskID
	} else {
		rep.VideoName = it.videoPath
	}
	if it.err != nil {
		rep.Error = it.err.Error()
	}
	return rep
}

// Run processes the queue strictly in order and returns the aggregate
// report. Item i+1 never starts before item i reached a terminal state.
// Run returns an error only for misuse (empty queue, double run); item
// failures are part of the report, not errors.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil, fmt.Errorf("batch %s is already running", o.batchID)
	}
	if len(o.queue) == 0 {
		o.mu.Unlock()
		return nil, fmt.Errorf("batch queue is empty")
	}
	o.running = true
	queue := o.queue
	o.mu.Unlock()

	started := time.Now()
	report := &Report{BatchID: o.batchID}
	o.publish(&Event{Type: EventBatchStarted, BatchID: o.batchID, Index: -1})
	log.Printf("[Batch] Starting batch %s with %d videos", o.batchID, len(queue))

	for i, item := range queue {
		// Abort before starting the next item, never mid-item.
		if o.stopped() || ctx.Err() != nil {
			break
		}

		o.mu.Lock()
		o.currentIndex = i
		index := i
		job := backend.NewJob(o.client, item.videoPath, func(s backend.Snapshot) {
			o.publishJob(index, s)
		})
		item.job = job
		o.mu.Unlock()

		err := job.Run(ctx, o.cfg)

		o.mu.Lock()
		switch {
		case job.Status() == backend.StatusStopped:
			// User stop mid-item: mark it and abort the remaining queue.
			item.outcome = OutcomeStopped
			o.mu.Unlock()
			log.Printf("[Batch] Item %d (%s) stopped, aborting remaining queue", i, job.VideoName())

		case err != nil:
			// Partial-failure policy: record and continue with the next
			// video. One bad video does not abort the batch.
			item.outcome = OutcomeFailed
			item.err = err
			o.mu.Unlock()
			log.Printf("[Batch] Item %d (%s) failed: %v", i, job.VideoName(), err)
			continue

		default:
			item.outcome = OutcomeSucceeded
			o.mu.Unlock()
			raw, res, rerr := job.Result()
			if rerr != nil {
				// Completed without a result would be a client bug.
				o.mu.Lock()
				item.outcome = OutcomeFailed
				item.err = rerr
				o.mu.Unlock()
				log.Printf("[Batch] Item %d (%s) completed without result: %v", i, job.VideoName(), rerr)
				continue
			}
			report.Results = append(report.Results, EnrichedResult{
				VideoName: job.VideoName(),
				TaskID:    job.TaskID(),
				Raw:       raw,
				Result:    res,
			})
			log.Printf("[Batch] Item %d (%s) completed", i, job.VideoName())
			continue
		}
		break
	}

	o.mu.Lock()
	o.running = false
	o.currentIndex = -1
	userStopped := o.stopRequested
	for _, it := range o.queue {
		rep := o.itemReport(it)
		report.Items = append(report.Items, rep)
		switch rep.Outcome {
		case OutcomeSucceeded:
			report.Succeeded++
		case OutcomeFailed:
			report.Failed++
		case OutcomeStopped:
			report.Stopped++
		}
	}
	o.mu.Unlock()

	report.Duration = time.Since(started)
	if userStopped {
		o.publish(&Event{Type: EventBatchStopped, BatchID: o.batchID, Index: -1})
	} else {
		o.publish(&Event{Type: EventBatchFinished, BatchID: o.batchID, Index: -1})
	}
	log.Printf("[Batch] Batch %s finished: %d succeeded, %d failed, %d stopped",
		o.batchID, report.Succeeded, report.Failed, report.Stopped)
	return report, nil
}

func (o *Orchestrator) stopped() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopRequested
}

func (o *Orchestrator) publish(ev *Event) {
	if o.bus != nil {
		o.bus.Publish(ev)
	}
}

// publishJob forwards a job snapshot as a progress or status event.
func (o *Orchestrator) publishJob(index int, s backend.Snapshot) {
	if o.bus == nil {
		return
	}
	typ := EventJobProgress
	if s.Status.Terminal() || s.Status == backend.StatusUploading {
		typ = EventJobStatus
	}
	o.bus.Publish(&Event{Type: typ, BatchID: o.batchID, Index: index, Job: s})
}

// Package maintenance runs the periodic cleanup of expired rate limit
// windows, idle IP counters, expired keys and stale cache entries.
package maintenance

import (
	"context"
	"sync"
	"time"

	"agentprobe_api/internal/utils"
)

// Task is one cleanup step. Run returns how many entries it removed.
type Task struct {
	Name string
	Run  func(ctx context.Context) (int64, error)
}

// TaskResult is the outcome of one task.
type TaskResult struct {
	Name    string `json:"name"`
	Removed int64  `json:"removed"`
	Error   string `json:"error,omitempty"`
}

// Report is the outcome of one cleanup pass.
type Report struct {
	RanAt    time.Time    `json:"ran_at"`
	Duration string       `json:"duration"`
	Tasks    []TaskResult `json:"tasks"`
}

// Failed reports whether any task returned an error.
func (r *Report) Failed() bool {
	for _, t := range r.Tasks {
		if t.Error != "" {
			return true
		}
	}
	return false
}

// Job runs its tasks on an interval. An interval of 0 disables the loop;
// RunOnce still works.
type Job struct {
	tasks    []Task
	interval time.Duration
	logger   *utils.Logger

	runMu   sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

func NewJob(interval time.Duration, tasks ...Task) *Job {
	return &Job{
		tasks:    tasks,
		interval: interval,
		logger:   utils.NewLogger("cleanup"),
		done:     make(chan struct{}),
	}
}

// Start launches the background loop. The first pass runs after one interval.
func (j *Job) Start(ctx context.Context) {
	if j.started {
		return
	}
	j.started = true

	if j.interval <= 0 {
		j.logger.Info("Cleanup job disabled")
		close(j.done)
		return
	}

	ctx, j.cancel = context.WithCancel(ctx)
	go j.loop(ctx)
	j.logger.Info("Cleanup job started", "interval", j.interval.String(), "tasks", len(j.tasks))
}

// Stop ends the loop and waits for a running pass to finish.
func (j *Job) Stop() {
	if !j.started {
		return
	}
	if j.cancel != nil {
		j.cancel()
	}
	<-j.done
}

func (j *Job) loop(ctx context.Context) {
	defer close(j.done)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce runs every task in order. A failing task does not stop the others.
// Concurrent calls are serialized.
func (j *Job) RunOnce(ctx context.Context) *Report {
	j.runMu.Lock()
	defer j.runMu.Unlock()

	start := time.Now()
	report := &Report{RanAt: start.UTC(), Tasks: make([]TaskResult, 0, len(j.tasks))}

	for _, task := range j.tasks {
		removed, err := task.Run(ctx)
		result := TaskResult{Name: task.Name, Removed: removed}
		if err != nil {
			j.logger.Error("Cleanup task failed", "task", task.Name, "error", err)
			result.Error = "cleanup failed"
		} else if removed > 0 {
			j.logger.Info("Cleanup task removed entries", "task", task.Name, "removed", removed)
		}
		report.Tasks = append(report.Tasks, result)
	}

	report.Duration = time.Since(start).String()
	j.logger.Debug("Cleanup pass finished", "duration", report.Duration)
	return report
}

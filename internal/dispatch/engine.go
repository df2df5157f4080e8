// Package dispatch fans classification requests out over a bounded worker pool.
//
// Every job carries its row index from submission to completion. Results
// arrive in completion order and are written into a slot owned by that job,
// so the returned mapping never depends on which call finished first.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"labeling-service/internal/llm"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// FailurePrefix starts every label produced by a failed row
const FailurePrefix = "ERR: "

// MaxWorkers is the upper bound on concurrent calls
const MaxWorkers = 20

// Job is one row's request
type Job struct {
	RowIndex    int
	RequestText string
}

// Result is the outcome of one job
type Result struct {
	RowIndex int
	Text     string
	Failed   bool
}

// Progress is reported after every completed job
type Progress struct {
	Completed int     `json:"completed"`
	Total     int     `json:"total"`
	Failed    int     `json:"failed"`
	Fraction  float64 `json:"fraction"`
}

// ProgressFunc receives progress updates from the orchestrating goroutine only
type ProgressFunc func(Progress)

// Caller performs one request, retries included
type Caller interface {
	Call(ctx context.Context, prompt string) (string, error)
}

// Engine runs batches of jobs against a Caller
type Engine struct {
	caller Caller
	logger *zap.Logger
}

// NewEngine creates a new dispatch engine
func NewEngine(caller Caller, logger *zap.Logger) *Engine {
	return &Engine{
		caller: caller,
		logger: logger,
	}
}

// ClampWorkers bounds n to [1, MaxWorkers]
func ClampWorkers(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxWorkers {
		return MaxWorkers
	}
	return n
}

// Run executes every job and returns row index -> label for all of them.
// A failing row becomes an "ERR: " label; the batch itself never fails.
// Cancelling ctx makes unfinished rows fail fast, the mapping stays complete.
func (e *Engine) Run(ctx context.Context, jobs []Job, workers int, onProgress ProgressFunc) map[int]string {
	total := len(jobs)
	if total == 0 {
		return map[int]string{}
	}

	workers = ClampWorkers(workers)
	if workers > total {
		workers = total
	}

	start := time.Now()
	e.logger.Info("Dispatch started",
		zap.Int("jobs", total),
		zap.Int("workers", workers))

	type completion struct {
		slot   int
		result Result
	}

	// Every job is queued up front; the workers bound execution, not submission.
	queue := make(chan int, total)
	for slot := range jobs {
		queue <- slot
	}
	close(queue)

	done := make(chan completion, total)

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for slot := range queue {
				done <- completion{slot: slot, result: e.execute(ctx, jobs[slot])}
			}
			return nil
		})
	}

	go func() {
		_ = g.Wait()
		close(done)
	}()

	slots := make([]string, total)
	completed, failed := 0, 0
	for c := range done {
		slots[c.slot] = c.result.Text
		completed++
		if c.result.Failed {
			failed++
		}
		if onProgress != nil {
			onProgress(Progress{
				Completed: completed,
				Total:     total,
				Failed:    failed,
				Fraction:  float64(completed) / float64(total),
			})
		}
	}

	labels := make(map[int]string, total)
	for slot, job := range jobs {
		labels[job.RowIndex] = slots[slot]
	}

	e.logger.Info("Dispatch completed",
		zap.Int("jobs", total),
		zap.Int("failed", failed),
		zap.Duration("elapsed", time.Since(start)))

	return labels
}

func (e *Engine) execute(ctx context.Context, job Job) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("Row call panicked", zap.Int("row", job.RowIndex), zap.Any("panic", p))
			res = failure(job.RowIndex, fmt.Errorf("panic: %v", p))
		}
	}()

	if err := ctx.Err(); err != nil {
		return failure(job.RowIndex, err)
	}

	text, err := e.caller.Call(ctx, job.RequestText)
	if err != nil {
		e.logger.Warn("Row failed",
			zap.Int("row", job.RowIndex),
			zap.Error(err))
		return failure(job.RowIndex, err)
	}

	return Result{RowIndex: job.RowIndex, Text: text}
}

func failure(row int, err error) Result {
	msg := ""
	var f *llm.CallFailure
	if errors.As(err, &f) {
		msg = f.Message
	} else {
		msg = llm.FailureMessage(err)
	}
	return Result{RowIndex: row, Text: FailurePrefix + msg, Failed: true}
}

// IsFailure reports whether label was produced by a failed row
func IsFailure(label string) bool {
	return len(label) >= len(FailurePrefix) && label[:len(FailurePrefix)] == FailurePrefix
}

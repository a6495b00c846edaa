package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/sketchlink/channel"
	"github.com/vinayprograms/sketchlink/logging"
	"github.com/vinayprograms/sketchlink/message"
	"github.com/vinayprograms/sketchlink/telemetry"
)

// Common errors.
var (
	ErrAlreadyStarted = errors.New("relay already started")
	ErrNotStarted     = errors.New("relay not started")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// Status strings sent while a job runs.
const (
	StatusUploading = "uploading"
	StatusSubmitted = "submitted"
	StatusRunning   = "running"
	StatusFailed    = "failed"
)

// Generator is the part of the generation client a relay drives.
type Generator interface {
	Upload(ctx context.Context, imageData string) (string, error)
	Submit(ctx context.Context, imageRef, positive, negative string) (string, error)
	Poll(ctx context.Context, jobID string, onProgress func(attempt, total int)) (string, error)
	ResultURL(filename string) string
	FetchResult(ctx context.Context, filename string) (string, error)
}

// Channel is what a relay sends and receives on.
type Channel interface {
	channel.Sender
	channel.Receiver
}

// Config holds relay configuration.
type Config struct {
	// Channel carries tasks in and status and results out. Required.
	Channel Channel

	// Generator runs the jobs. Required.
	Generator Generator

	// InlineResult sends the output image as a data URL instead of a
	// backend link.
	InlineResult bool

	// Logger defaults to Nop.
	Logger *logging.Logger

	// Tracer defaults to the global tracer.
	Tracer *telemetry.Tracer
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Channel == nil {
		return fmt.Errorf("%w: channel is required", ErrInvalidConfig)
	}
	if c.Generator == nil {
		return fmt.Errorf("%w: generator is required", ErrInvalidConfig)
	}
	return nil
}

// Relay turns Task messages into generation jobs and reports each job's
// progress back on the channel as Status messages, ending with a Result
// or a failed Status.
type Relay struct {
	ch     Channel
	gen    Generator
	inline bool
	logger *logging.Logger
	tracer *telemetry.Tracer

	running atomic.Bool
	unsub   func()
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New creates a relay. Call Start to begin consuming tasks.
func New(cfg Config) (*Relay, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = telemetry.GetTracer()
	}
	return &Relay{
		ch:       cfg.Channel,
		gen:      cfg.Generator,
		inline:   cfg.InlineResult,
		logger:   logger.WithComponent("relay"),
		tracer:   tracer,
		inFlight: make(map[string]struct{}),
	}, nil
}

// Start subscribes to the channel. Jobs run until Stop or ctx ends.
func (r *Relay) Start(ctx context.Context) error {
	if r.running.Swap(true) {
		return ErrAlreadyStarted
	}
	if ctx == nil {
		ctx = context.Background()
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.unsub = r.ch.Receive(r.onMessage)
	return nil
}

// Stop unsubscribes, cancels running jobs and waits for them to exit.
func (r *Relay) Stop() error {
	r.mu.Lock()
	wasRunning := r.running.Swap(false)
	r.mu.Unlock()
	if !wasRunning {
		return ErrNotStarted
	}
	r.unsub()
	r.cancel()
	r.wg.Wait()
	return nil
}

// Active returns the number of jobs in flight.
func (r *Relay) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inFlight)
}

// onMessage runs on the channel's delivery goroutine and must not block.
func (r *Relay) onMessage(m message.Message) {
	task, ok := m.(message.Task)
	if !ok {
		return
	}
	r.mu.Lock()
	if !r.running.Load() {
		r.mu.Unlock()
		return
	}
	if _, busy := r.inFlight[task.TaskID]; busy {
		r.mu.Unlock()
		r.logger.Debug("task already running", map[string]interface{}{"task_id": task.TaskID})
		return
	}
	r.inFlight[task.TaskID] = struct{}{}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.inFlight, task.TaskID)
			r.mu.Unlock()
		}()
		r.run(r.ctx, task)
	}()
}

func (r *Relay) send(ctx context.Context, msg message.Message) {
	_, span := r.tracer.StartSendSpan(ctx, transportName(r.ch), msg.Kind().String(), msg.ID())
	err := r.ch.Send(msg)
	r.tracer.EndSendSpan(span, err)
	if err != nil {
		r.logger.SendFailed("relay", msg.ID(), err)
	}
}

func transportName(ch Channel) string {
	switch v := ch.(type) {
	case channel.Strategy:
		return v.Name()
	case *channel.Service:
		if st := v.Strategy(); st != nil {
			return st.Name()
		}
	}
	return "unknown"
}

// run executes one job and reports it on the channel.
func (r *Relay) run(ctx context.Context, task message.Task) {
	start := time.Now()
	r.logger.JobStart(task.TaskID)

	ctx, span := r.tracer.StartJobSpan(ctx, task.TaskID)
	opts := telemetry.JobSpanOptions{Positive: task.PositivePrompt, Negative: task.NegativePrompt}

	imageURL, err := r.generate(ctx, task, &opts)
	r.tracer.EndJobSpan(span, opts, err)

	if err != nil {
		r.logger.JobFailed(task.TaskID, time.Since(start), err)
		r.send(ctx, message.Status{TaskID: task.TaskID, Status: StatusFailed + ": " + err.Error()})
		return
	}

	r.send(ctx, message.Result{TaskID: task.TaskID, ImageURL: imageURL})
	r.logger.JobComplete(task.TaskID, time.Since(start))
}

func (r *Relay) generate(ctx context.Context, task message.Task, opts *telemetry.JobSpanOptions) (string, error) {
	r.send(ctx, message.Status{TaskID: task.TaskID, Status: StatusUploading})

	stepCtx, step := r.tracer.StartStepSpan(ctx, "upload")
	ref, err := r.gen.Upload(stepCtx, task.ImageData)
	r.tracer.EndStepSpan(step, err)
	if err != nil {
		return "", err
	}

	stepCtx, step = r.tracer.StartStepSpan(ctx, "submit")
	jobID, err := r.gen.Submit(stepCtx, ref, task.PositivePrompt, task.NegativePrompt)
	r.tracer.EndStepSpan(step, err)
	if err != nil {
		return "", err
	}
	opts.JobID = jobID
	r.send(ctx, message.Status{TaskID: task.TaskID, Status: StatusSubmitted})

	stepCtx, step = r.tracer.StartStepSpan(ctx, "poll")
	filename, err := r.gen.Poll(stepCtx, jobID, func(attempt, total int) {
		opts.Attempts = attempt
		r.logger.JobProgress(task.TaskID, attempt, total)
		r.send(ctx, message.NewStatus(task.TaskID, StatusRunning, attempt, total))
	})
	r.tracer.EndStepSpan(step, err)
	if err != nil {
		return "", err
	}
	opts.Filename = filename

	if !r.inline {
		return r.gen.ResultURL(filename), nil
	}

	stepCtx, step = r.tracer.StartStepSpan(ctx, "fetch")
	dataURL, err := r.gen.FetchResult(stepCtx, filename)
	r.tracer.EndStepSpan(step, err)
	return dataURL, err
}

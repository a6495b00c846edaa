// Package shutdown stops a sketchlink process in dependency order.
//
// Components register a stop function under a phase. On shutdown, phases
// run from lowest to highest; stop functions within one phase run
// concurrently. The usual order is: stop taking tasks, close the channel,
// close the backends, flush telemetry.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/vinayprograms/sketchlink/logging"
)

// Phases used by the sketchlink binaries. Lower phases stop first.
const (
	PhaseIntake    = 10 // relays, HTTP endpoints
	PhaseChannel   = 20 // channel services and strategies
	PhaseBackend   = 30 // bus connections, stores
	PhaseTelemetry = 40 // span exporters
)

// Common errors.
var (
	ErrAlreadyShutdown = errors.New("shutdown already initiated")
	ErrTimeout         = errors.New("shutdown timeout exceeded")
)

// Func stops one component.
type Func func(ctx context.Context) error

// Step is the outcome of one stop function.
type Step struct {
	Name     string
	Phase    int
	Duration time.Duration
	Err      error
}

// Config configures a Coordinator.
type Config struct {
	// Timeout bounds a signal-triggered shutdown. Default: 10s.
	Timeout time.Duration

	// Logger receives one line per step. Default: Nop.
	Logger *logging.Logger
}

type registration struct {
	name  string
	phase int
	fn    Func
}

// Coordinator runs registered stop functions once.
type Coordinator struct {
	timeout time.Duration
	logger  *logging.Logger

	mu    sync.Mutex
	regs  []registration
	steps []Step

	once    sync.Once
	err     error
	done    chan struct{}
	signals chan os.Signal
}

// New creates a coordinator.
func New(cfg Config) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	return &Coordinator{
		timeout: cfg.Timeout,
		logger:  cfg.Logger.WithComponent("shutdown"),
		done:    make(chan struct{}),
		signals: make(chan os.Signal, 1),
	}
}

// Register adds a stop function. Registration order is kept within a phase.
func (c *Coordinator) Register(name string, phase int, fn Func) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.regs = append(c.regs, registration{name: name, phase: phase, fn: fn})
}

// Closer registers a component whose Close takes no context.
func (c *Coordinator) Closer(name string, phase int, closer interface{ Close() error }) {
	c.Register(name, phase, func(context.Context) error { return closer.Close() })
}

// Shutdown runs every phase in order. It returns ErrTimeout when ctx ends
// between phases, a join of the step errors otherwise, and
// ErrAlreadyShutdown if another call is still running.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	ran := false
	c.once.Do(func() {
		ran = true
		c.err = c.run(ctx)
		close(c.done)
	})
	if ran {
		return c.err
	}
	select {
	case <-c.done:
		return c.err
	default:
		return ErrAlreadyShutdown
	}
}

// HandleSignals shuts down on SIGINT or SIGTERM.
func (c *Coordinator) HandleSignals() {
	signal.Notify(c.signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-c.signals:
			c.logger.Info("signal received", map[string]interface{}{"signal": sig.String()})
		case <-c.done:
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		c.Shutdown(ctx)
	}()
}

// Done is closed when shutdown has finished.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Err returns the shutdown error once Done is closed.
func (c *Coordinator) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Steps returns the completed steps in the order their phases ran.
func (c *Coordinator) Steps() []Step {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Step(nil), c.steps...)
}

func (c *Coordinator) run(ctx context.Context) error {
	signal.Stop(c.signals)

	c.mu.Lock()
	regs := append([]registration(nil), c.regs...)
	c.mu.Unlock()

	sort.SliceStable(regs, func(i, j int) bool { return regs[i].phase < regs[j].phase })

	var errs []error
	for start := 0; start < len(regs); {
		end := start
		for end < len(regs) && regs[end].phase == regs[start].phase {
			end++
		}
		if ctx.Err() != nil {
			return ErrTimeout
		}
		for _, step := range c.runPhase(ctx, regs[start:end]) {
			if step.Err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", step.Name, step.Err))
			}
		}
		start = end
	}
	return errors.Join(errs...)
}

func (c *Coordinator) runPhase(ctx context.Context, regs []registration) []Step {
	steps := make([]Step, len(regs))
	var wg sync.WaitGroup
	for i, r := range regs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			err := r.fn(ctx)
			steps[i] = Step{Name: r.name, Phase: r.phase, Duration: time.Since(start), Err: err}
		}()
	}
	wg.Wait()

	c.mu.Lock()
	c.steps = append(c.steps, steps...)
	c.mu.Unlock()

	for _, s := range steps {
		fields := map[string]interface{}{
			"step":     s.Name,
			"phase":    s.Phase,
			"duration": s.Duration.String(),
		}
		if s.Err != nil {
			fields["error"] = s.Err.Error()
			c.logger.Warn("step failed", fields)
			continue
		}
		c.logger.Debug("step done", fields)
	}
	return steps
}

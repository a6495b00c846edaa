package channel

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/vinayprograms/sketchlink/bus"
	"github.com/vinayprograms/sketchlink/logging"
	"github.com/vinayprograms/sketchlink/message"
	"github.com/vinayprograms/sketchlink/state"
)

// ErrNoStrategy is returned when a service has no active strategy.
var ErrNoStrategy = errors.New("no active strategy")

// Service is the single entry point application code talks to. It
// delegates to one active Strategy that can be replaced at runtime.
type Service struct {
	mu       sync.RWMutex
	strategy Strategy
	logger   *logging.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *logging.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a service delegating to s.
func NewService(s Strategy, opts ...ServiceOption) *Service {
	svc := &Service{
		strategy: s,
		logger:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	svc.logger = svc.logger.WithComponent("channel")
	return svc
}

func (s *Service) current() Strategy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.strategy
}

// Strategy returns the active strategy.
func (s *Service) Strategy() Strategy {
	return s.current()
}

// Send forwards msg to the active strategy.
func (s *Service) Send(msg message.Message) error {
	st := s.current()
	if st == nil {
		return ErrNoStrategy
	}
	return st.Send(msg)
}

// Receive registers fn on the active strategy. The registration belongs to
// that strategy and is lost if the strategy is replaced.
func (s *Service) Receive(fn Listener) func() {
	st := s.current()
	if st == nil {
		return noop
	}
	return st.Receive(fn)
}

// SetStrategy closes the active strategy and switches to next.
// Listeners registered on the old strategy are not carried over; callers
// that swap must subscribe again. The swap happens even when closing the
// old strategy fails, and that error is returned.
func (s *Service) SetStrategy(next Strategy) error {
	if next == nil {
		return ErrNoStrategy
	}

	s.mu.Lock()
	prev := s.strategy
	s.strategy = next
	s.mu.Unlock()

	if prev == nil || prev == next {
		return nil
	}
	s.logger.StrategySwapped(prev.Name(), next.Name())
	return prev.Close()
}

// Close closes the active strategy.
func (s *Service) Close() error {
	st := s.current()
	if st == nil {
		return nil
	}
	return st.Close()
}

var (
	defaultMu  sync.Mutex
	defaultSvc *Service
)

// Default returns the process-wide service, creating it on first use with
// a Broadcast strategy over a process-local bus. It is never closed
// implicitly.
func Default() *Service {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultSvc == nil {
		st, err := Open(OpenConfig{
			Bus:   bus.NewMemoryBus(bus.DefaultConfig()),
			Store: state.NewMemoryStore(),
		})
		if err != nil {
			// A fresh in-memory bus always accepts subscriptions.
			panic(fmt.Sprintf("channel: default strategy: %v", err))
		}
		defaultSvc = NewService(st)
	}
	return defaultSvc
}

// SetDefault installs svc as the process-wide service. Call it once at
// startup before anything uses Default.
func SetDefault(svc *Service) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultSvc = svc
}

// Transport selection modes for Open.
const (
	TransportAuto      = "auto"
	TransportBroadcast = NameBroadcast
	TransportDurable   = NameDurable
)

// OpenConfig holds the backends and names Open can choose between.
type OpenConfig struct {
	// Transport is auto, broadcast or durable. Default: auto.
	Transport string

	Bus   bus.MessageBus
	Store state.Store

	ChannelName string
	StorageKey  string
	ContextID   string

	Logger *logging.Logger
}

// Open picks a strategy. In auto mode it prefers Broadcast and falls back
// to Durable when the bus is missing or unusable. It fails only when no
// requested strategy can be built.
func Open(cfg OpenConfig) (Strategy, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Transport))
	if mode == "" {
		mode = TransportAuto
	}

	broadcast := func() (Strategy, error) {
		return NewBroadcast(cfg.Bus, BroadcastOptions{Name: cfg.ChannelName, Logger: cfg.Logger})
	}
	durable := func() (Strategy, error) {
		return NewDurable(cfg.Store, DurableOptions{Key: cfg.StorageKey, ContextID: cfg.ContextID, Logger: cfg.Logger})
	}

	switch mode {
	case TransportBroadcast:
		return broadcast()
	case TransportDurable:
		return durable()
	case TransportAuto:
		st, berr := broadcast()
		if berr == nil {
			return st, nil
		}
		if cfg.Logger != nil {
			cfg.Logger.WithComponent("channel").Info("broadcast unavailable, using durable", map[string]interface{}{
				"error": berr.Error(),
			})
		}
		st, derr := durable()
		if derr != nil {
			return nil, errors.Join(berr, derr)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

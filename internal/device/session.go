package device

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/lightningnetwork/lnd/clock"
	"go.uber.org/zap"

	"github.com/yolodolo42/hwsign/internal/logger"
	"github.com/yolodolo42/hwsign/internal/metrics"
	"github.com/yolodolo42/hwsign/internal/secret"
)

// DefaultPollInterval is how long the session waits between attempts to
// reach an absent device.
const DefaultPollInterval = time.Second

var (
	ErrSessionUsed = errors.New("device session already ran")
	ErrNoPrompter  = errors.New("device requested a secret but no prompter is configured")
)

// Config wires a Session to its collaborators.
type Config struct {
	Transport Transport
	Task      Task
	Prompter  Prompter

	// Path is the derivation path read in READ_ADDRESS. Empty selects
	// accounts.DefaultBaseDerivationPath.
	Path accounts.DerivationPath

	PollInterval time.Duration
	Clock        clock.Clock
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
}

// Result is the terminal outcome of a session that did not fail.
type Result struct {
	Address   common.Address
	Cancelled bool
	State     State
}

type action int

const (
	actWait action = iota // nothing armed, wait for a capture to resolve
	actPoll               // retry after the poll interval
	actNow                // tick again right away
	actEnd
)

type command struct {
	generation uint64
	outcome    secret.Outcome
}

// Session negotiates with one device until it yields an address, completes
// its task, is cancelled or fails. The session loop is the only writer of
// its state; ticks never overlap.
type Session struct {
	transport Transport
	task      Task
	prompter  Prompter
	path      accounts.DerivationPath
	interval  time.Duration
	clock     clock.Clock
	log       *zap.Logger
	metrics   *metrics.Metrics

	cmds    chan command
	done    chan struct{}
	running atomic.Bool
	state   atomic.Int32

	// secret holds a confirmed PIN or passphrase until the next message
	// build consumes it.
	secret     string
	generation uint64
	capture    *secret.Capture
	address    common.Address
	misses     int
}

// NewSession creates a session in the INIT state.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Transport == nil {
		return nil, errors.New("device: transport is required")
	}
	if cfg.Task == nil {
		cfg.Task = &AddressTask{}
	}
	path := cfg.Path
	if len(path) == 0 {
		path = accounts.DefaultBaseDerivationPath
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Named("device")
	}

	s := &Session{
		transport: cfg.Transport,
		task:      cfg.Task,
		prompter:  cfg.Prompter,
		path:      append(accounts.DerivationPath(nil), path...),
		interval:  cfg.PollInterval,
		clock:     cfg.Clock,
		log:       cfg.Logger.With(zap.Stringer("path", path)),
		metrics:   cfg.Metrics,
		cmds:      make(chan command),
		done:      make(chan struct{}),
	}
	s.state.Store(int32(StateInit))
	return s, nil
}

// State returns the current state. Safe to call from any goroutine.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Path returns a copy of the session's derivation path.
func (s *Session) Path() accounts.DerivationPath {
	return append(accounts.DerivationPath(nil), s.path...)
}

func (s *Session) setState(next State) {
	prev := s.State()
	s.state.Store(int32(next))
	if prev != next {
		s.log.Debug("device state", zap.Stringer("from", prev), zap.Stringer("to", next))
	}
}

// Run drives the session to a terminal outcome. A user cancellation yields
// a Result with Cancelled set and a nil error. Run may only be called once.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrSessionUsed
	}
	defer close(s.done)
	defer s.clearSecret()

	s.log.Info("device session started")

	var timer <-chan time.Time
	act := actNow
	for {
		switch act {
		case actNow:
			timer = nil
			var (
				res *Result
				err error
			)
			act, res, err = s.tick(ctx)
			if act == actEnd {
				s.finish(res, err)
				return res, err
			}
			continue
		case actPoll:
			timer = s.clock.TickAfter(s.interval)
		}

		select {
		case <-ctx.Done():
			s.finish(nil, ctx.Err())
			return nil, ctx.Err()
		case <-timer:
			act = actNow
		case cmd := <-s.cmds:
			act = s.resume(cmd)
		}
	}
}

// tick runs one send-and-dispatch cycle.
func (s *Session) tick(ctx context.Context) (action, *Result, error) {
	if !s.transport.TryConnect() {
		return s.unreachable()
	}
	s.misses = 0

	if s.State() == StateCancel {
		if _, err := s.transport.Exchange(ctx, Cancel{}); err != nil {
			s.log.Debug("cancel not delivered", zap.Error(err))
		}
		return actEnd, &Result{Cancelled: true, State: StateCancel}, nil
	}

	state := s.State()
	msg := buildMessage(state, s.path, s.secret, s.task)
	s.clearSecret()

	reply, err := s.transport.Exchange(ctx, msg)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return actEnd, nil, ctxErr
		}
		s.metrics.ObserveTick(metrics.TickError)
		s.log.Warn("device exchange failed", zap.Stringer("msg", msg), zap.Error(err))
		if state == StatePinRequest || state == StatePassphraseRequest {
			// The secret is gone; restart the handshake so the device asks again.
			s.setState(StateInit)
		}
		return actPoll, nil, nil
	}
	s.metrics.ObserveTick(metrics.TickSent)
	s.log.Debug("device exchange", zap.Stringer("msg", msg), zap.String("reply", fmt.Sprintf("%T", reply)))

	return s.dispatch(reply)
}

func (s *Session) unreachable() (action, *Result, error) {
	if s.State() == StateCancel {
		return actEnd, &Result{Cancelled: true, State: StateCancel}, nil
	}
	if s.State() == StateInit && s.transport.HasDeviceWithoutPermission(true) {
		s.transport.RequestPermission(true)
		s.setState(StateRequestPermission)
	}

	s.misses++
	s.metrics.ObserveTick(metrics.TickUnreachable)
	s.log.Debug("device unreachable", zap.Stringer("state", s.State()), zap.Int("attempt", s.misses))
	return actPoll, nil, nil
}

func (s *Session) dispatch(reply Inbound) (action, *Result, error) {
	switch r := reply.(type) {
	case PinChallenge:
		return s.openCapture(secret.KindPIN)
	case PassphraseChallenge:
		return s.openCapture(secret.KindPassphrase)
	case ButtonChallenge:
		s.setState(StateButtonAck)
		return actNow, nil, nil
	case Features:
		s.log.Info("device connected", zap.String("vendor", r.Vendor), zap.String("label", r.Label), zap.String("version", r.Version))
		s.setState(StateReadAddress)
		return actNow, nil, nil
	case Address:
		if len(r.Bytes) != common.AddressLength {
			return actEnd, nil, fmt.Errorf("%w: %d bytes", ErrMalformedAddress, len(r.Bytes))
		}
		addr := common.BytesToAddress(r.Bytes)
		s.address = addr
		step, err := s.task.HandleAddress(addr)
		if err != nil {
			return actEnd, nil, err
		}
		if step == StepDone {
			return actEnd, &Result{Address: addr, State: s.State()}, nil
		}
		s.setState(StateProcessTask)
		return actNow, nil, nil
	case Failure:
		return s.failure(r)
	case Other:
		step, err := s.task.HandleTaskReply(r.Payload)
		if err != nil {
			return actEnd, nil, err
		}
		if step == StepDone {
			return actEnd, &Result{Address: s.address, State: s.State()}, nil
		}
		s.setState(StateProcessTask)
		return actNow, nil, nil
	default:
		return actEnd, nil, fmt.Errorf("device: unhandled reply %T", reply)
	}
}

func (s *Session) failure(f Failure) (action, *Result, error) {
	switch f.Code {
	case FailurePinInvalid:
		return actEnd, nil, ErrPinInvalid
	case FailureUnexpectedMessage:
		// The device ignored a stale request; wait for the next regular tick.
		s.log.Debug("device ignored message", zap.Stringer("state", s.State()))
		return actPoll, nil, nil
	case FailureActionCancelled:
		return actEnd, &Result{Cancelled: true, State: s.State()}, nil
	default:
		return actEnd, nil, &FailureError{Code: f.Code, Message: f.Message}
	}
}

func (s *Session) openCapture(kind secret.Kind) (action, *Result, error) {
	if s.prompter == nil {
		return actEnd, nil, ErrNoPrompter
	}

	s.generation++
	gen := s.generation
	s.capture = secret.NewCapture(kind, func(o secret.Outcome) {
		select {
		case s.cmds <- command{generation: gen, outcome: o}:
		case <-s.done:
		}
	})

	s.log.Info("device requested secret", zap.Stringer("kind", kind))
	switch kind {
	case secret.KindPIN:
		go s.prompter.RequestPIN(s.capture)
	default:
		go s.prompter.RequestPassphrase(s.capture)
	}
	return actWait, nil, nil
}

// resume applies a resolved capture. Outcomes from superseded captures are
// dropped.
func (s *Session) resume(cmd command) action {
	if s.capture == nil || cmd.generation != s.generation {
		return actWait
	}
	s.capture = nil

	if cmd.outcome.Cancelled {
		s.setState(StateCancel)
		return actNow
	}

	s.secret = cmd.outcome.Secret
	if cmd.outcome.Kind == secret.KindPIN {
		s.setState(StatePinRequest)
	} else {
		s.setState(StatePassphraseRequest)
	}
	return actNow
}

func (s *Session) clearSecret() {
	s.secret = ""
}

func (s *Session) finish(res *Result, err error) {
	outcome := "done"
	switch {
	case errors.Is(err, ErrPinInvalid):
		outcome = "pin_invalid"
	case err != nil:
		var fe *FailureError
		if errors.As(err, &fe) {
			outcome = "failure"
		} else {
			outcome = "error"
		}
	case res != nil && res.Cancelled:
		outcome = "cancelled"
	}
	s.metrics.ObserveSession(outcome)

	if err != nil {
		s.log.Warn("device session ended", zap.String("outcome", outcome), zap.Error(err))
		return
	}
	s.log.Info("device session ended", zap.String("outcome", outcome))
}

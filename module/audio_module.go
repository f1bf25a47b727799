package module

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/patchfield"
	"github.com/opd-ai/patchfield/limits"
	"github.com/opd-ai/patchfield/shm"
	"github.com/opd-ai/patchfield/status"
	"github.com/sirupsen/logrus"
)

// TokenReceiver waits for the service to push the segment descriptor.
type TokenReceiver func(ctx context.Context) (*shm.Token, error)

// RunnerFactory binds a runner to the given slot of the segment behind token.
type RunnerFactory func(version int, token *shm.Token, slot int) (Runner, error)

const (
	defaultHandshakeRetries  = 100
	defaultHandshakeInterval = 10 * time.Millisecond
)

// Option customizes an AudioModule.
type Option func(*AudioModule)

// WithRendezvous sets the abstract socket address used by the default token
// receiver. It must match the engine's rendezvous address.
func WithRendezvous(addr string) Option {
	return func(m *AudioModule) {
		if addr != "" {
			m.rendezvous = addr
		}
	}
}

// WithTokenReceiver replaces the descriptor handshake.
func WithTokenReceiver(fn TokenReceiver) Option {
	return func(m *AudioModule) {
		if fn != nil {
			m.receiveToken = fn
		}
	}
}

// WithRunnerFactory replaces the runner constructor.
func WithRunnerFactory(fn RunnerFactory) Option {
	return func(m *AudioModule) {
		if fn != nil {
			m.newRunner = fn
		}
	}
}

// WithHandshake sets how often and how far apart the descriptor push is retried.
func WithHandshake(retries int, interval time.Duration) Option {
	return func(m *AudioModule) {
		if retries > 0 {
			m.handshakeRetries = retries
		}
		if interval > 0 {
			m.handshakeInterval = interval
		}
	}
}

// WithWatchdogTimeout sets the runner watchdog used by the default runner factory.
func WithWatchdogTimeout(d time.Duration) Option {
	return func(m *AudioModule) {
		if d > 0 {
			m.watchdog = d
		}
	}
}

// AudioModule is a client-side module attached to a Service through the
// attachment protocol.
type AudioModule struct {
	mu sync.Mutex

	processor Processor
	metadata  *patchfield.Metadata

	rendezvous        string
	receiveToken      TokenReceiver
	newRunner         RunnerFactory
	handshakeRetries  int
	handshakeInterval time.Duration
	watchdog          time.Duration

	state  State
	name   string
	token  *shm.Token
	runner Runner
}

// New returns an unconfigured module backed by p. md may be nil.
func New(p Processor, md *patchfield.Metadata, opts ...Option) *AudioModule {
	m := &AudioModule{
		processor:         p,
		metadata:          md,
		rendezvous:        defaultRendezvous,
		handshakeRetries:  defaultHandshakeRetries,
		handshakeInterval: defaultHandshakeInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.receiveToken == nil {
		m.receiveToken = defaultTokenReceiver(m.rendezvous)
	}
	if m.newRunner == nil {
		m.newRunner = defaultRunnerFactory(m.watchdog)
	}
	return m
}

// Configure attaches the module to svc under name. It returns status.Success or
// the negative code of the step that failed; on failure every earlier step has
// been undone. Configuring a module that is already attached panics.
func (m *AudioModule) Configure(svc patchfield.Service, name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := logrus.WithFields(logrus.Fields{
		"function": "Configure",
		"module":   name,
	})

	if v := svc.ProtocolVersion(); v != limits.ProtocolVersion {
		log.WithFields(logrus.Fields{
			"service_version": v,
			"client_version":  limits.ProtocolVersion,
		}).Error("Protocol version mismatch")
		return int(status.ProtocolVersionMismatch)
	}
	if !m.state.attachable() {
		panic(fmt.Sprintf("module: %q already configured (state %s)", m.name, m.state))
	}

	m.state = TokenRequested
	token := m.handshake(svc)
	if !token.Valid() {
		log.WithField("code", token.Code()).Error("Unable to obtain shared memory token")
		m.state = Unconfigured
		return token.Code()
	}
	m.state = TokenReceived

	slot := svc.CreateModule(name, m.processor.InputChannels(), m.processor.OutputChannels(), m.metadata)
	if slot < 0 {
		log.WithField("code", status.Code(slot)).Error("Unable to create module slot")
		m.rollback(svc, "", nil, token)
		return slot
	}
	m.state = SlotCreated

	r, err := m.newRunner(svc.ProtocolVersion(), token, slot)
	if err == nil && r == nil {
		err = ErrNoRunner
	}
	if err != nil {
		log.WithError(err).Error("Unable to create runner")
		m.rollback(svc, name, nil, token)
		return int(status.Failure)
	}
	m.state = RunnerCreated

	if err := m.processor.Setup(name, r, svc.SampleRate(), svc.BufferSize()); err != nil {
		log.WithError(err).Error("Processor setup failed")
		m.rollback(svc, name, r, token)
		return int(status.Failure)
	}

	m.name = name
	m.token = token
	m.runner = r
	m.state = Configured
	log.WithField("slot", slot).Info("Module configured")
	return int(status.Success)
}

// rollback undoes the steps of a failed Configure in reverse order. An empty
// name means no slot was created.
func (m *AudioModule) rollback(svc patchfield.Service, name string, r Runner, token *shm.Token) {
	if r != nil {
		if err := r.Release(); err != nil {
			logrus.WithError(err).WithField("function", "rollback").Warn("Runner release failed")
		}
	}
	if name != "" {
		svc.DeleteModule(name)
	}
	token.Close()
	m.state = Unconfigured
}

// handshake asks the service to push the segment descriptor while a receiver
// waits for it. The returned token is never nil; it carries a failure code when
// no descriptor arrived.
func (m *AudioModule) handshake(svc patchfield.Service) *shm.Token {
	wait := m.handshakeInterval*time.Duration(m.handshakeRetries+1) + time.Second
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()

	type received struct {
		token *shm.Token
		err   error
	}
	result := make(chan received, 1)
	go func() {
		t, err := m.receiveToken(ctx)
		result <- received{t, err}
	}()

	sent := false
	for i := 0; i < m.handshakeRetries && !sent; i++ {
		if svc.SendSharedMemoryFileDescriptor() == int(status.Success) {
			sent = true
			break
		}
		select {
		case res := <-result:
			return tokenOf(res.token, res.err)
		case <-time.After(m.handshakeInterval):
		}
	}
	if !sent {
		cancel()
	}
	res := <-result
	return tokenOf(res.token, res.err)
}

func tokenOf(t *shm.Token, err error) *shm.Token {
	if err != nil || t == nil {
		if err != nil && !errors.Is(err, context.Canceled) {
			logrus.WithError(err).WithField("function", "handshake").Warn("Descriptor handshake failed")
		}
		t.Close()
		return shm.InvalidToken(int(status.Failure))
	}
	return t
}

// Release detaches the module: the slot is deleted, the runner released, the
// processor torn down and the descriptor closed, in that order. Releasing an
// unconfigured module only logs a warning.
func (m *AudioModule) Release(svc patchfield.Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := logrus.WithFields(logrus.Fields{
		"function": "Release",
		"module":   m.name,
	})
	if m.runner == nil {
		log.Warn("Not configured; nothing to release")
		return nil
	}
	m.state = Releasing

	var errs []error
	if _, err := status.Check(svc.DeleteModule(m.name)); err != nil {
		errs = append(errs, fmt.Errorf("delete module %q: %w", m.name, err))
	}
	if q, ok := m.processor.(Quiescer); ok {
		q.Quiesce()
	}
	if err := m.runner.Release(); err != nil {
		errs = append(errs, fmt.Errorf("release runner: %w", err))
	}
	m.processor.Teardown()
	if err := m.token.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close token: %w", err))
	}

	log.Info("Module released")
	m.runner = nil
	m.token = nil
	m.name = ""
	m.state = Released
	return errors.Join(errs...)
}

// HasTimedOut reports whether the watchdog evicted the module's callback.
func (m *AudioModule) HasTimedOut() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runner != nil && m.runner.HasTimedOut()
}

// State returns the attachment state. A configured module whose callback was
// evicted reports TimedOut.
func (m *AudioModule) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Configured && m.runner.HasTimedOut() {
		return TimedOut
	}
	return m.state
}

// Name returns the registered name, or "" when not configured.
func (m *AudioModule) Name() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name
}

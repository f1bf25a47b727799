//go:build linux

package module

import (
	"context"
	"testing"
	"time"

	"github.com/opd-ai/patchfield/limits"
	"github.com/opd-ai/patchfield/shm"
	"github.com/opd-ai/patchfield/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// pipeToken returns a valid token backed by a pipe descriptor.
func pipeToken(t *testing.T) *shm.Token {
	t.Helper()
	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	unix.Close(fds[1])
	tok := shm.NewToken(fds[0])
	t.Cleanup(func() { tok.Close() })
	return tok
}

func tokenReceiver(tok *shm.Token) TokenReceiver {
	return func(context.Context) (*shm.Token, error) { return tok, nil }
}

func failingReceiver(context.Context) (*shm.Token, error) { return nil, errBoom }

func runnerFactory(r *fakeRunner, err error) RunnerFactory {
	return func(int, *shm.Token, int) (Runner, error) {
		if err != nil {
			return nil, err
		}
		return r, nil
	}
}

func TestConfigureAndRelease(t *testing.T) {
	svc := newFakeService()
	tok := pipeToken(t)
	r := &fakeRunner{log: svc.record}
	gain := NewNative(1, 1, func(_, _, _ int, in []float32, _ int, out []float32) {
		for i := range out {
			out[i] = 2 * in[i]
		}
	})
	m := New(gain, nil, WithTokenReceiver(tokenReceiver(tok)), WithRunnerFactory(runnerFactory(r, nil)))

	require.Equal(t, int(status.Success), m.Configure(svc, "gain"))
	assert.Equal(t, Configured, m.State())
	assert.Equal(t, "gain", m.Name())
	assert.False(t, m.HasTimedOut())
	assert.Equal(t, []float32{1, -2}, r.process([]float32{0.5, -1}))

	require.NoError(t, m.Release(svc))
	assert.Equal(t, Released, m.State())
	assert.Empty(t, m.Name())
	assert.True(t, tok.Closed())
	assert.Equal(t, []string{"create gain", "delete gain", "release runner"}, svc.callLog())
}

func TestConfigureProtocolVersionMismatch(t *testing.T) {
	svc := newFakeService()
	svc.version = limits.ProtocolVersion - 1
	m := New(NewNative(1, 1, nil), nil, WithTokenReceiver(failingReceiver))

	assert.Equal(t, int(status.ProtocolVersionMismatch), m.Configure(svc, "x"))
	assert.Zero(t, svc.sends)
	assert.Empty(t, svc.callLog())
	assert.Equal(t, Unconfigured, m.State())
}

func TestConfigureTokenFailureCreatesNothing(t *testing.T) {
	svc := newFakeService()
	svc.sendCode = int(status.Failure)
	m := New(NewNative(1, 1, nil), nil,
		WithTokenReceiver(failingReceiver),
		WithHandshake(5, time.Millisecond))

	assert.Equal(t, int(status.Failure), m.Configure(svc, "x"))
	assert.Zero(t, svc.count("create x"))
	assert.Equal(t, Unconfigured, m.State())
}

func TestConfigureHandshakeGivesUp(t *testing.T) {
	svc := newFakeService()
	svc.sendCode = int(status.Failure)
	waiting := func(ctx context.Context) (*shm.Token, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	m := New(NewNative(1, 1, nil), nil,
		WithTokenReceiver(waiting),
		WithHandshake(3, time.Millisecond))

	start := time.Now()
	assert.Equal(t, int(status.Failure), m.Configure(svc, "x"))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 3, svc.sends)
	assert.Empty(t, svc.callLog())
}

func TestConfigureCreateFailureClosesToken(t *testing.T) {
	svc := newFakeService()
	svc.createCode = int(status.TooManyModules)
	tok := pipeToken(t)
	m := New(NewNative(1, 1, nil), nil, WithTokenReceiver(tokenReceiver(tok)))

	assert.Equal(t, int(status.TooManyModules), m.Configure(svc, "x"))
	assert.True(t, tok.Closed())
	assert.Equal(t, []string{"create x"}, svc.callLog())
	assert.Equal(t, Unconfigured, m.State())
}

func TestConfigureRunnerFailureDeletesSlot(t *testing.T) {
	svc := newFakeService()
	tok := pipeToken(t)
	m := New(NewNative(1, 1, nil), nil,
		WithTokenReceiver(tokenReceiver(tok)),
		WithRunnerFactory(runnerFactory(nil, errBoom)))

	assert.Equal(t, int(status.Failure), m.Configure(svc, "x"))
	assert.True(t, tok.Closed())
	assert.Equal(t, []string{"create x", "delete x"}, svc.callLog())
}

func TestConfigureNilRunnerDeletesSlot(t *testing.T) {
	svc := newFakeService()
	tok := pipeToken(t)
	p := &fakeProcessor{log: svc.record}
	m := New(p, nil,
		WithTokenReceiver(tokenReceiver(tok)),
		WithRunnerFactory(func(int, *shm.Token, int) (Runner, error) { return nil, nil }))

	require.NotPanics(t, func() {
		assert.Equal(t, int(status.Failure), m.Configure(svc, "x"))
	})
	assert.True(t, tok.Closed())
	assert.Equal(t, []string{"create x", "delete x"}, svc.callLog())
	assert.Equal(t, Unconfigured, m.State())
}

func TestConfigureReturnsTokenCode(t *testing.T) {
	svc := newFakeService()
	invalid := func(context.Context) (*shm.Token, error) {
		return shm.InvalidToken(int(status.OutOfBufferSpace)), nil
	}
	m := New(NewNative(1, 1, nil), nil,
		WithTokenReceiver(invalid),
		WithHandshake(3, time.Millisecond))

	assert.Equal(t, int(status.OutOfBufferSpace), m.Configure(svc, "x"))
	assert.Empty(t, svc.callLog())
	assert.Equal(t, Unconfigured, m.State())
}

func TestConfigureSetupFailureUnwinds(t *testing.T) {
	svc := newFakeService()
	tok := pipeToken(t)
	r := &fakeRunner{log: svc.record}
	p := &fakeProcessor{log: svc.record, setupErr: errBoom}
	m := New(p, nil, WithTokenReceiver(tokenReceiver(tok)), WithRunnerFactory(runnerFactory(r, nil)))

	assert.Equal(t, int(status.Failure), m.Configure(svc, "x"))
	assert.True(t, tok.Closed())
	assert.Equal(t, []string{"create x", "setup x", "release runner", "delete x"}, svc.callLog())
	assert.Equal(t, Unconfigured, m.State())
	assert.NoError(t, m.Release(svc), "nothing left to release")
}

func TestConfigureTwicePanics(t *testing.T) {
	svc := newFakeService()
	m := New(NewNative(1, 1, nil), nil,
		WithTokenReceiver(tokenReceiver(pipeToken(t))),
		WithRunnerFactory(runnerFactory(&fakeRunner{}, nil)))
	require.Equal(t, int(status.Success), m.Configure(svc, "x"))

	assert.Panics(t, func() { m.Configure(svc, "y") })
}

func TestReleaseUnconfigured(t *testing.T) {
	svc := newFakeService()
	m := New(NewNative(1, 1, nil), nil)
	assert.NoError(t, m.Release(svc))
	assert.Empty(t, svc.callLog())
}

func TestReleaseQuiescesBeforeRunner(t *testing.T) {
	svc := newFakeService()
	r := &fakeRunner{log: svc.record}
	p := &quiescingProcessor{fakeProcessor{log: svc.record}}
	m := New(p, nil,
		WithTokenReceiver(tokenReceiver(pipeToken(t))),
		WithRunnerFactory(runnerFactory(r, nil)))
	require.Equal(t, int(status.Success), m.Configure(svc, "q"))

	require.NoError(t, m.Release(svc))
	assert.Equal(t, []string{"create q", "setup q", "delete q", "quiesce", "release runner", "teardown"}, svc.callLog())
}

func TestReleaseReportsDeleteFailure(t *testing.T) {
	svc := newFakeService()
	svc.deleteCode = int(status.NoSuchModule)
	r := &fakeRunner{}
	m := New(NewNative(1, 1, nil), nil,
		WithTokenReceiver(tokenReceiver(pipeToken(t))),
		WithRunnerFactory(runnerFactory(r, nil)))
	require.Equal(t, int(status.Success), m.Configure(svc, "x"))

	err := m.Release(svc)
	assert.ErrorIs(t, err, status.ErrNoSuchModule)
	assert.Equal(t, int32(1), r.releases.Load(), "runner released regardless")
	assert.Equal(t, Released, m.State())
}

func TestTimedOutState(t *testing.T) {
	svc := newFakeService()
	r := &fakeRunner{}
	m := New(NewNative(1, 1, nil), nil,
		WithTokenReceiver(tokenReceiver(pipeToken(t))),
		WithRunnerFactory(runnerFactory(r, nil)))
	require.Equal(t, int(status.Success), m.Configure(svc, "x"))

	r.timedOut.Store(true)
	assert.True(t, m.HasTimedOut())
	assert.Equal(t, TimedOut, m.State())
	require.NoError(t, m.Release(svc))
	assert.False(t, m.HasTimedOut())
}

func TestReconfigureAfterRelease(t *testing.T) {
	svc := newFakeService()
	tokens := []*shm.Token{pipeToken(t), pipeToken(t)}
	next := 0
	recv := func(context.Context) (*shm.Token, error) {
		tok := tokens[next]
		next++
		return tok, nil
	}
	m := New(NewNative(1, 1, nil), nil,
		WithTokenReceiver(recv),
		WithRunnerFactory(func(int, *shm.Token, int) (Runner, error) { return &fakeRunner{}, nil }))

	require.Equal(t, int(status.Success), m.Configure(svc, "a"))
	require.NoError(t, m.Release(svc))
	require.Equal(t, int(status.Success), m.Configure(svc, "b"))
	assert.Equal(t, "b", m.Name())
	assert.True(t, tokens[0].Closed())
	assert.False(t, tokens[1].Closed())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "configured", Configured.String())
	assert.Equal(t, "unknown", State(42).String())
}

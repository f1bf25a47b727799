//go:build linux

package module

import (
	"context"
	"time"

	"github.com/opd-ai/patchfield/engine"
	"github.com/opd-ai/patchfield/runner"
	"github.com/opd-ai/patchfield/shm"
)

const defaultRendezvous = engine.DefaultRendezvous

func defaultTokenReceiver(addr string) TokenReceiver {
	return func(ctx context.Context) (*shm.Token, error) {
		return shm.Receive(ctx, addr)
	}
}

func defaultRunnerFactory(watchdog time.Duration) RunnerFactory {
	return func(version int, token *shm.Token, slot int) (Runner, error) {
		return runner.New(version, token, slot, runner.WithWatchdogTimeout(watchdog))
	}
}

//go:build !linux

package module

import (
	"context"
	"time"

	"github.com/opd-ai/patchfield/shm"
)

const defaultRendezvous = "@patchfield-shm"

func defaultTokenReceiver(string) TokenReceiver {
	return func(context.Context) (*shm.Token, error) {
		return nil, ErrUnsupportedPlatform
	}
}

func defaultRunnerFactory(time.Duration) RunnerFactory {
	return func(int, *shm.Token, int) (Runner, error) {
		return nil, ErrUnsupportedPlatform
	}
}

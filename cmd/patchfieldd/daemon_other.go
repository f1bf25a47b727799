//go:build !linux

package main

import (
	"context"
	"errors"
	"runtime"

	"github.com/opd-ai/patchfield/config"
)

func serve(context.Context, *config.Config, serveOptions) error {
	return errors.New("patchfieldd: shared memory engine unavailable on " + runtime.GOOS)
}

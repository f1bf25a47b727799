//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/opd-ai/patchfield"
	"github.com/opd-ai/patchfield/admin"
	"github.com/opd-ai/patchfield/config"
	"github.com/opd-ai/patchfield/engine"
	"github.com/opd-ai/patchfield/metrics"
	"github.com/opd-ai/patchfield/module"
	"github.com/opd-ai/patchfield/observer"
	"github.com/opd-ai/patchfield/samples"
	"github.com/opd-ai/patchfield/status"
	backend "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	passthroughName = "passthrough"
	shutdownTimeout = 5 * time.Second
)

// serve builds the engine and its surfaces, starts the transport and blocks
// until ctx ends. Teardown runs in reverse order of construction.
func serve(ctx context.Context, cfg *config.Config, opts serveOptions) (err error) {
	m := metrics.New()
	eng, err := engine.NewLocal(engine.Options{
		SampleRate:     cfg.SampleRate,
		BufferFrames:   cfg.BufferSize,
		InputChannels:  cfg.InputChannels,
		OutputChannels: cfg.OutputChannels,
		Rendezvous:     cfg.Rendezvous,
		Recorder:       m,
	})
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	pf := patchfield.New(eng)
	defer func() { err = errors.Join(err, pf.Close()) }()

	pf.RegisterObserver(observer.NewLog(nil))
	pf.RegisterObserver(m.Observer())
	if err := m.WatchGraph(pf); err != nil {
		return fmt.Errorf("register graph metrics: %w", err)
	}

	if cfg.Redis.Addr != "" {
		client := backend.NewClient(&backend.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		pub := observer.NewRedisPublisher(client, observer.WithChannel(cfg.Redis.Channel))
		defer pub.Close()
		pf.RegisterObserver(pub)
	}

	if cfg.AdminAddr != "" {
		stopAdmin, err := startAdmin(cfg.AdminAddr, admin.NewHandler(pf, m.Handler()))
		if err != nil {
			return err
		}
		defer stopAdmin()
	}

	if _, err := status.Check(pf.Start()); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	defer pf.Stop()

	if opts.passthrough {
		release, err := attachPassthrough(pf, cfg, opts.lowpass)
		if err != nil {
			return err
		}
		defer release()
	}

	logrus.WithFields(logrus.Fields{
		"function":    "serve",
		"sample_rate": cfg.SampleRate,
		"buffer_size": cfg.BufferSize,
		"rendezvous":  cfg.Rendezvous,
	}).Info("Patchfield running")

	<-ctx.Done()
	logrus.WithField("function", "serve").Info("Shutting down")
	return nil
}

// startAdmin serves h on addr and returns a function that shuts it down.
func startAdmin(addr string, h http.Handler) (func(), error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("admin listen: %w", err)
	}
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithFields(logrus.Fields{
				"function": "startAdmin",
				"error":    err.Error(),
			}).Error("Admin server failed")
		}
	}()
	logrus.WithFields(logrus.Fields{
		"function": "startAdmin",
		"addr":     l.Addr().String(),
	}).Info("Admin server listening")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
		}
	}, nil
}

// attachPassthrough attaches an in-process module between the system modules,
// either a plain copy or a lowpass filter.
func attachPassthrough(pf *patchfield.Patchfield, cfg *config.Config, coefficient float64) (func(), error) {
	channels := min(cfg.InputChannels, cfg.OutputChannels)
	if channels == 0 {
		return nil, errors.New("passthrough needs at least one input and one output channel")
	}
	var p module.Processor = samples.NewIdentity(channels, channels)
	title := "Passthrough"
	if coefficient > 0 {
		lp, err := samples.NewLowpass(channels, coefficient)
		if err != nil {
			return nil, err
		}
		p, title = lp, "Lowpass"
	}

	m := module.New(p, &patchfield.Metadata{Title: title},
		module.WithRendezvous(cfg.Rendezvous),
		module.WithHandshake(cfg.HandshakeRetries, cfg.HandshakeInterval),
		module.WithWatchdogTimeout(cfg.WatchdogTimeout))
	if _, err := status.Check(m.Configure(pf, passthroughName)); err != nil {
		return nil, fmt.Errorf("attach %s: %w", passthroughName, err)
	}
	release := func() {
		if err := m.Release(pf); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "attachPassthrough",
				"error":    err.Error(),
			}).Warn("Release failed")
		}
	}

	for c := 0; c < channels; c++ {
		for _, code := range []int{
			pf.ConnectPorts(patchfield.SystemIn, c, passthroughName, c),
			pf.ConnectPorts(passthroughName, c, patchfield.SystemOut, c),
		} {
			if _, err := status.Check(code); err != nil {
				release()
				return nil, fmt.Errorf("route %s: %w", passthroughName, err)
			}
		}
	}
	if _, err := status.Check(pf.ActivateModule(passthroughName)); err != nil {
		release()
		return nil, err
	}
	return release, nil
}

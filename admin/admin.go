// Package admin serves a read-only JSON view of a patchfield over HTTP.
package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opd-ai/patchfield"
	"github.com/sirupsen/logrus"
)

// Source is the view the admin handlers read.
type Source interface {
	Snapshot() (patchfield.Snapshot, bool)
	Module(name string) (patchfield.ModuleInfo, bool)
}

// Transport is the body of GET /transport.
type Transport struct {
	Running         bool `json:"running"`
	SampleRate      int  `json:"sample_rate"`
	BufferSize      int  `json:"buffer_size"`
	ProtocolVersion int  `json:"protocol_version"`
}

type errorBody struct {
	Error string `json:"error"`
}

// NewHandler returns the admin router. metrics, when non-nil, is mounted at
// /metrics.
func NewHandler(src Source, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/modules", func(w http.ResponseWriter, _ *http.Request) {
		s, ok := src.Snapshot()
		if !ok {
			writeError(w, http.StatusServiceUnavailable, "patchfield closed")
			return
		}
		writeJSON(w, http.StatusOK, s.Modules)
	})
	r.Get("/modules/{name}", func(w http.ResponseWriter, req *http.Request) {
		name := chi.URLParam(req, "name")
		info, ok := src.Module(name)
		if !ok {
			writeError(w, http.StatusNotFound, "no such module: "+name)
			return
		}
		writeJSON(w, http.StatusOK, info)
	})
	r.Get("/connections", func(w http.ResponseWriter, _ *http.Request) {
		s, ok := src.Snapshot()
		if !ok {
			writeError(w, http.StatusServiceUnavailable, "patchfield closed")
			return
		}
		writeJSON(w, http.StatusOK, s.Edges)
	})
	r.Get("/transport", func(w http.ResponseWriter, _ *http.Request) {
		s, ok := src.Snapshot()
		if !ok {
			writeError(w, http.StatusServiceUnavailable, "patchfield closed")
			return
		}
		writeJSON(w, http.StatusOK, Transport{
			Running:         s.Running,
			SampleRate:      s.SampleRate,
			BufferSize:      s.BufferSize,
			ProtocolVersion: s.ProtocolVersion,
		})
	})
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, req)
		logrus.WithFields(logrus.Fields{
			"function": "requestLogger",
			"method":   req.Method,
			"path":     req.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start),
		}).Debug("Admin request served")
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "writeJSON",
			"error":    err.Error(),
		}).Warn("Failed to encode admin response")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorBody{Error: msg})
}

package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/opd-ai/patchfield"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	snapshot patchfield.Snapshot
	closed   bool
}

func (f *fakeSource) Snapshot() (patchfield.Snapshot, bool) {
	return f.snapshot, !f.closed
}

func (f *fakeSource) Module(name string) (patchfield.ModuleInfo, bool) {
	for _, m := range f.snapshot.Modules {
		if m.Name == name && !f.closed {
			return m, true
		}
	}
	return patchfield.ModuleInfo{}, false
}

func newSource() *fakeSource {
	return &fakeSource{snapshot: patchfield.Snapshot{
		Running:         true,
		SampleRate:      48000,
		BufferSize:      256,
		ProtocolVersion: 6,
		Modules: []patchfield.ModuleInfo{
			{Name: patchfield.SystemIn, Slot: 0, OutputChannels: 2, Active: true},
			{Name: "lowpass", Slot: 2, InputChannels: 1, OutputChannels: 1, Metadata: &patchfield.Metadata{Title: "Lowpass"}},
		},
		Edges: []patchfield.Edge{{
			Source: patchfield.Port{Module: patchfield.SystemIn, Index: 0},
			Sink:   patchfield.Port{Module: "lowpass", Index: 0},
		}},
	}}
}

func get(t *testing.T, h http.Handler, path string, v any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if v != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
	}
	return rec.Code
}

func TestModules(t *testing.T) {
	h := NewHandler(newSource(), nil)
	var mods []patchfield.ModuleInfo
	require.Equal(t, http.StatusOK, get(t, h, "/modules", &mods))
	require.Len(t, mods, 2)
	assert.Equal(t, "lowpass", mods[1].Name)
	assert.Equal(t, "Lowpass", mods[1].Metadata.Title)
}

func TestModuleByName(t *testing.T) {
	h := NewHandler(newSource(), nil)
	var info patchfield.ModuleInfo
	require.Equal(t, http.StatusOK, get(t, h, "/modules/lowpass", &info))
	assert.Equal(t, 2, info.Slot)

	var body errorBody
	assert.Equal(t, http.StatusNotFound, get(t, h, "/modules/missing", &body))
	assert.Contains(t, body.Error, "missing")
}

func TestConnections(t *testing.T) {
	h := NewHandler(newSource(), nil)
	var edges []patchfield.Edge
	require.Equal(t, http.StatusOK, get(t, h, "/connections", &edges))
	require.Len(t, edges, 1)
	assert.Equal(t, "lowpass", edges[0].Sink.Module)
}

func TestTransport(t *testing.T) {
	h := NewHandler(newSource(), nil)
	var tr Transport
	require.Equal(t, http.StatusOK, get(t, h, "/transport", &tr))
	assert.Equal(t, Transport{Running: true, SampleRate: 48000, BufferSize: 256, ProtocolVersion: 6}, tr)
}

func TestClosedSource(t *testing.T) {
	src := newSource()
	src.closed = true
	h := NewHandler(src, nil)
	for _, path := range []string{"/modules", "/connections", "/transport"} {
		assert.Equal(t, http.StatusServiceUnavailable, get(t, h, path, nil), path)
	}
}

func TestMetricsMount(t *testing.T) {
	called := false
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})
	assert.Equal(t, http.StatusOK, get(t, NewHandler(newSource(), metrics), "/metrics", nil))
	assert.True(t, called)

	assert.Equal(t, http.StatusNotFound, get(t, NewHandler(newSource(), nil), "/metrics", nil))
}

func TestReadOnly(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHandler(newSource(), nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/modules", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

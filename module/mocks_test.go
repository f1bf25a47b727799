package module

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/opd-ai/patchfield"
	"github.com/opd-ai/patchfield/limits"
	"github.com/opd-ai/patchfield/runner"
)

// fakeService implements the calls the attachment protocol makes; the rest of
// patchfield.Service is left nil.
type fakeService struct {
	patchfield.Service

	mu         sync.Mutex
	version    int
	sendCode   int
	createCode int
	deleteCode int
	calls      []string
	sends      int
}

func newFakeService() *fakeService {
	return &fakeService{version: limits.ProtocolVersion, createCode: limits.SystemModules}
}

func (f *fakeService) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeService) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeService) count(call string) int {
	n := 0
	for _, c := range f.callLog() {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeService) ProtocolVersion() int { return f.version }
func (f *fakeService) SampleRate() int      { return 48000 }
func (f *fakeService) BufferSize() int      { return 64 }

func (f *fakeService) SendSharedMemoryFileDescriptor() int {
	f.mu.Lock()
	f.sends++
	f.mu.Unlock()
	return f.sendCode
}

func (f *fakeService) CreateModule(name string, _, _ int, _ *patchfield.Metadata) int {
	f.record("create " + name)
	return f.createCode
}

func (f *fakeService) DeleteModule(name string) int {
	f.record("delete " + name)
	return f.deleteCode
}

// fakeRunner records the calls made on it; log, when set, receives the same
// entries as the service so that ordering across both can be checked.
type fakeRunner struct {
	log          func(string)
	configured   atomic.Pointer[runner.ProcessFunc]
	configureErr error
	timedOut     atomic.Bool
	releases     atomic.Int32
	messages     [][]byte
}

func (r *fakeRunner) Configure(fn runner.ProcessFunc) error {
	if r.configureErr != nil {
		return r.configureErr
	}
	r.configured.Store(&fn)
	return nil
}

func (r *fakeRunner) HasTimedOut() bool   { return r.timedOut.Load() }
func (r *fakeRunner) Messages() [][]byte  { return r.messages }
func (r *fakeRunner) SampleRate() int     { return 48000 }
func (r *fakeRunner) BufferFrames() int   { return 4 }
func (r *fakeRunner) InputChannels() int  { return 1 }
func (r *fakeRunner) OutputChannels() int { return 1 }

func (r *fakeRunner) Release() error {
	r.releases.Add(1)
	if r.log != nil {
		r.log("release runner")
	}
	return nil
}

// process runs the installed callback once.
func (r *fakeRunner) process(in []float32) []float32 {
	fn := r.configured.Load()
	out := make([]float32, len(in))
	if fn != nil {
		(*fn)(48000, len(in), 1, in, 1, out)
	}
	return out
}

// fakeProcessor records lifecycle calls and can fail Setup.
type fakeProcessor struct {
	log      func(string)
	setupErr error
}

func (p *fakeProcessor) InputChannels() int  { return 1 }
func (p *fakeProcessor) OutputChannels() int { return 1 }

func (p *fakeProcessor) Setup(name string, _ Runner, _, _ int) error {
	p.log("setup " + name)
	return p.setupErr
}

func (p *fakeProcessor) Teardown() { p.log("teardown") }

type quiescingProcessor struct {
	fakeProcessor
}

func (p *quiescingProcessor) Quiesce() { p.log("quiesce") }

var errBoom = errors.New("boom")

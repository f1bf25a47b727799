package patchfield

import (
	"errors"
	"sync"

	"github.com/opd-ai/patchfield/limits"
	"github.com/opd-ai/patchfield/status"
)

// fakeEngine is an in-memory engine.Binding.
type fakeEngine struct {
	mu sync.Mutex

	slots       map[int][2]int
	active      map[int]bool
	connections map[[4]int]bool
	running     bool
	closed      bool
	messages    [][]byte
	sends       int

	createCode  int
	connectCode int
	startCode   int
	sendCode    int
	calls       []string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		slots:       map[int][2]int{0: {0, 2}, 1: {2, 0}},
		active:      map[int]bool{0: true, 1: true},
		connections: make(map[[4]int]bool),
	}
}

func (f *fakeEngine) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeEngine) SampleRate() int      { return 48000 }
func (f *fakeEngine) BufferSize() int      { return 256 }
func (f *fakeEngine) ProtocolVersion() int { return limits.ProtocolVersion }

func (f *fakeEngine) SendSharedMemoryFileDescriptor() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends++
	return f.sendCode
}

func (f *fakeEngine) CreateModule(in, out int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create")
	if f.createCode < 0 {
		return f.createCode
	}
	for i := limits.SystemModules; i < limits.MaxModules; i++ {
		if _, used := f.slots[i]; !used {
			f.slots[i] = [2]int{in, out}
			return i
		}
	}
	return int(status.TooManyModules)
}

func (f *fakeEngine) DeleteModule(slot int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("delete")
	delete(f.slots, slot)
	delete(f.active, slot)
	for c := range f.connections {
		if c[0] == slot || c[2] == slot {
			delete(f.connections, c)
		}
	}
	return 0
}

func (f *fakeEngine) ConnectPorts(a, ap, b, bp int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("connect")
	if f.connectCode < 0 {
		return f.connectCode
	}
	f.connections[[4]int{a, ap, b, bp}] = true
	return 0
}

func (f *fakeEngine) DisconnectPorts(a, ap, b, bp int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("disconnect")
	delete(f.connections, [4]int{a, ap, b, bp})
	return 0
}

func (f *fakeEngine) IsConnected(a, ap, b, bp int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connections[[4]int{a, ap, b, bp}]
}

func (f *fakeEngine) ActivateModule(slot int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("activate")
	f.active[slot] = true
	return 0
}

func (f *fakeEngine) DeactivateModule(slot int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("deactivate")
	f.active[slot] = false
	return 0
}

func (f *fakeEngine) IsActive(slot int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[slot]
}

func (f *fakeEngine) InputChannels(slot int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slots[slot][0]
}

func (f *fakeEngine) OutputChannels(slot int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slots[slot][1]
}

func (f *fakeEngine) Start() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startCode < 0 {
		return f.startCode
	}
	f.running = true
	return 0
}

func (f *fakeEngine) Stop() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	return 0
}

func (f *fakeEngine) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeEngine) PostMessage(data []byte) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, data)
	return 0
}

func (f *fakeEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("closed twice")
	}
	f.closed = true
	return nil
}

func (f *fakeEngine) callCount(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

// recordingObserver collects events as strings.
type recordingObserver struct {
	mu     sync.Mutex
	events []Event
	fail   error
	alive  bool
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{alive: true}
}

func (r *recordingObserver) handle(e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.fail
}

func (r *recordingObserver) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]EventKind, len(r.events))
	for i, e := range r.events {
		kinds[i] = e.Kind
	}
	return kinds
}

func (r *recordingObserver) Alive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.alive
}

func (r *recordingObserver) OnStart() error { return r.handle(Event{Kind: EventStart}) }
func (r *recordingObserver) OnStop() error  { return r.handle(Event{Kind: EventStop}) }

func (r *recordingObserver) OnModuleCreated(name string, in, out int, md *Metadata) error {
	return r.handle(Event{Kind: EventModuleCreated, Module: name, InputChannels: in, OutputChannels: out, Metadata: md})
}

func (r *recordingObserver) OnModuleDeleted(name string) error {
	return r.handle(Event{Kind: EventModuleDeleted, Module: name})
}

func (r *recordingObserver) OnModuleActivated(name string) error {
	return r.handle(Event{Kind: EventModuleActivated, Module: name})
}

func (r *recordingObserver) OnModuleDeactivated(name string) error {
	return r.handle(Event{Kind: EventModuleDeactivated, Module: name})
}

func (r *recordingObserver) OnPortsConnected(src string, sp int, sink string, kp int) error {
	return r.handle(Event{Kind: EventPortsConnected, Edge: edge(src, sp, sink, kp)})
}

func (r *recordingObserver) OnPortsDisconnected(src string, sp int, sink string, kp int) error {
	return r.handle(Event{Kind: EventPortsDisconnected, Edge: edge(src, sp, sink, kp)})
}

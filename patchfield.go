package patchfield

import (
	"fmt"
	"sync"

	"github.com/opd-ai/patchfield/engine"
	"github.com/opd-ai/patchfield/limits"
	"github.com/opd-ai/patchfield/status"
	"github.com/sirupsen/logrus"
)

// Names of the built-in modules.
const (
	SystemIn  = "system_in"
	SystemOut = "system_out"
)

// module is the registry's shadow of one engine slot.
type module struct {
	slot           int
	inputChannels  int
	outputChannels int
	md             *Metadata
}

// ModuleInfo describes a registered module.
type ModuleInfo struct {
	Name           string    `json:"name"`
	Slot           int       `json:"slot"`
	InputChannels  int       `json:"input_channels"`
	OutputChannels int       `json:"output_channels"`
	Active         bool      `json:"active"`
	Metadata       *Metadata `json:"metadata,omitempty"`
}

// Snapshot is a consistent view of the registry and the graph.
type Snapshot struct {
	Running         bool         `json:"running"`
	SampleRate      int          `json:"sample_rate"`
	BufferSize      int          `json:"buffer_size"`
	ProtocolVersion int          `json:"protocol_version"`
	Modules         []ModuleInfo `json:"modules"`
	Edges           []Edge       `json:"edges"`
}

// Patchfield is the registry of modules and the signal graph between them. It
// validates every request, forwards it to the engine, and broadcasts the result.
type Patchfield struct {
	// mu serializes the control plane.
	mu sync.Mutex

	// engine is nil once the Patchfield is closed.
	engine engine.Binding

	// Modules by name, and their names in creation order.
	modules map[string]*module
	order   []string

	graph     *Graph
	observers *Broadcaster

	// master is the service-level metadata.
	master *Metadata
}

var _ Service = (*Patchfield)(nil)

// New wraps an engine whose slots 0 and 1 hold the system modules.
func New(b engine.Binding) *Patchfield {
	p := &Patchfield{
		engine:    b,
		modules:   make(map[string]*module),
		graph:     NewGraph(),
		observers: NewBroadcaster(),
	}
	p.add(SystemIn, &module{slot: 0, outputChannels: b.OutputChannels(0)})
	p.add(SystemOut, &module{slot: 1, inputChannels: b.InputChannels(1)})

	logrus.WithFields(logrus.Fields{
		"function":    "New",
		"sample_rate": b.SampleRate(),
		"buffer_size": b.BufferSize(),
		"protocol":    b.ProtocolVersion(),
	}).Info("Patchfield created")

	return p
}

func (p *Patchfield) add(name string, m *module) {
	p.modules[name] = m
	p.order = append(p.order, name)
}

func (p *Patchfield) remove(name string) {
	delete(p.modules, name)
	for i, n := range p.order {
		if n == name {
			p.order = append(p.order[:i], p.order[i+1:]...)
			return
		}
	}
}

// closedLocked reports whether the engine is gone and logs the rejected call.
func (p *Patchfield) closedLocked(function string) bool {
	if p.engine != nil {
		return false
	}
	logrus.WithFields(logrus.Fields{
		"function": function,
	}).Warn("Engine closed")
	return true
}

// CreateModule registers a module and allocates its engine slot. It returns the
// slot index on success.
func (p *Patchfield) CreateModule(name string, inputChannels, outputChannels int, md *Metadata) int {
	logrus.WithFields(logrus.Fields{
		"function":        "CreateModule",
		"module":          name,
		"input_channels":  inputChannels,
		"output_channels": outputChannels,
	}).Debug("Creating module")

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closedLocked("CreateModule") {
		return int(status.Failure)
	}
	if name == "" || limits.ValidateChannels(inputChannels, outputChannels) != nil {
		logrus.WithFields(logrus.Fields{
			"function":        "CreateModule",
			"module":          name,
			"input_channels":  inputChannels,
			"output_channels": outputChannels,
		}).Warn("Invalid module parameters")
		return int(status.InvalidParameters)
	}
	if _, taken := p.modules[name]; taken {
		logrus.WithFields(logrus.Fields{
			"function": "CreateModule",
			"module":   name,
		}).Warn("Module name taken")
		return int(status.ModuleNameTaken)
	}

	slot := p.engine.CreateModule(inputChannels, outputChannels)
	if slot < 0 {
		logrus.WithFields(logrus.Fields{
			"function": "CreateModule",
			"module":   name,
			"code":     status.Code(slot),
		}).Error("Engine refused module")
		return slot
	}

	md = md.Clone()
	p.add(name, &module{slot: slot, inputChannels: inputChannels, outputChannels: outputChannels, md: md})
	p.observers.Broadcast(EventModuleCreated, func(o Observer) error {
		return o.OnModuleCreated(name, inputChannels, outputChannels, md.Clone())
	})

	logrus.WithFields(logrus.Fields{
		"function": "CreateModule",
		"module":   name,
		"slot":     slot,
	}).Info("Module created")

	return slot
}

// DeleteModule frees the module's slot, drops every edge touching it, fires its
// release intent and notifies observers.
func (p *Patchfield) DeleteModule(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closedLocked("DeleteModule") {
		return int(status.Failure)
	}
	m, ok := p.modules[name]
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function": "DeleteModule",
			"module":   name,
		}).Warn("No such module")
		return int(status.NoSuchModule)
	}
	if name == SystemIn || name == SystemOut {
		return int(status.InvalidParameters)
	}

	if code := p.engine.DeleteModule(m.slot); code < 0 {
		logrus.WithFields(logrus.Fields{
			"function": "DeleteModule",
			"module":   name,
			"code":     status.Code(code),
		}).Error("Engine failed to delete module")
		return code
	}
	p.remove(name)
	removed := p.graph.RemoveModule(name)

	if m.md != nil && m.md.ReleaseIntent != nil {
		if err := m.md.ReleaseIntent.Send(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "DeleteModule",
				"module":   name,
				"error":    err.Error(),
			}).Warn("Release intent failed")
		}
	}
	p.observers.Broadcast(EventModuleDeleted, func(o Observer) error {
		return o.OnModuleDeleted(name)
	})

	logrus.WithFields(logrus.Fields{
		"function":      "DeleteModule",
		"module":        name,
		"edges_removed": len(removed),
	}).Info("Module deleted")

	return int(status.Success)
}

// checkPortsLocked validates both endpoints of a connection.
func (p *Patchfield) checkPortsLocked(function, source string, sourcePort int, sink string, sinkPort int) (*module, *module, status.Code) {
	src, ok := p.modules[source]
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function": function,
			"module":   source,
		}).Warn("No such module")
		return nil, nil, status.NoSuchModule
	}
	dst, ok := p.modules[sink]
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function": function,
			"module":   sink,
		}).Warn("No such module")
		return nil, nil, status.NoSuchModule
	}
	if sourcePort < 0 || sourcePort >= src.outputChannels || sinkPort < 0 || sinkPort >= dst.inputChannels {
		logrus.WithFields(logrus.Fields{
			"function":    function,
			"source":      source,
			"source_port": sourcePort,
			"sink":        sink,
			"sink_port":   sinkPort,
		}).Warn("Port out of range")
		return nil, nil, status.PortOutOfRange
	}
	return src, dst, status.Success
}

// ConnectPorts connects an output port of source to an input port of sink.
// Connecting an existing edge succeeds without effect; an edge that would close a
// cycle is rejected with CYCLIC_DEPENDENCY.
func (p *Patchfield) ConnectPorts(source string, sourcePort int, sink string, sinkPort int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closedLocked("ConnectPorts") {
		return int(status.Failure)
	}
	src, dst, code := p.checkPortsLocked("ConnectPorts", source, sourcePort, sink, sinkPort)
	if code != status.Success {
		return int(code)
	}
	e := *edge(source, sourcePort, sink, sinkPort)
	if p.graph.Has(e) {
		return int(status.Success)
	}
	if p.graph.WouldCycle(source, sink) {
		logrus.WithFields(logrus.Fields{
			"function": "ConnectPorts",
			"source":   source,
			"sink":     sink,
		}).Warn("Connection would create a cycle")
		return int(status.CyclicDependency)
	}

	if code := p.engine.ConnectPorts(src.slot, sourcePort, dst.slot, sinkPort); code < 0 {
		logrus.WithFields(logrus.Fields{
			"function": "ConnectPorts",
			"source":   source,
			"sink":     sink,
			"code":     status.Code(code),
		}).Error("Engine failed to connect ports")
		return code
	}
	p.graph.Add(e)
	p.observers.Broadcast(EventPortsConnected, func(o Observer) error {
		return o.OnPortsConnected(source, sourcePort, sink, sinkPort)
	})

	logrus.WithFields(logrus.Fields{
		"function":    "ConnectPorts",
		"source":      source,
		"source_port": sourcePort,
		"sink":        sink,
		"sink_port":   sinkPort,
	}).Info("Ports connected")

	return int(status.Success)
}

// DisconnectPorts removes an edge. Removing a missing edge succeeds.
func (p *Patchfield) DisconnectPorts(source string, sourcePort int, sink string, sinkPort int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closedLocked("DisconnectPorts") {
		return int(status.Failure)
	}
	src, dst, code := p.checkPortsLocked("DisconnectPorts", source, sourcePort, sink, sinkPort)
	if code != status.Success {
		return int(code)
	}
	e := *edge(source, sourcePort, sink, sinkPort)
	if !p.graph.Has(e) {
		return int(status.Success)
	}

	if code := p.engine.DisconnectPorts(src.slot, sourcePort, dst.slot, sinkPort); code < 0 {
		logrus.WithFields(logrus.Fields{
			"function": "DisconnectPorts",
			"source":   source,
			"sink":     sink,
			"code":     status.Code(code),
		}).Error("Engine failed to disconnect ports")
		return code
	}
	p.graph.Remove(e)
	p.observers.Broadcast(EventPortsDisconnected, func(o Observer) error {
		return o.OnPortsDisconnected(source, sourcePort, sink, sinkPort)
	})

	logrus.WithFields(logrus.Fields{
		"function":    "DisconnectPorts",
		"source":      source,
		"source_port": sourcePort,
		"sink":        sink,
		"sink_port":   sinkPort,
	}).Info("Ports disconnected")

	return int(status.Success)
}

// IsConnected reports whether the edge exists.
func (p *Patchfield) IsConnected(source string, sourcePort int, sink string, sinkPort int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closedLocked("IsConnected") {
		return false
	}
	return p.graph.Has(*edge(source, sourcePort, sink, sinkPort))
}

// IsDependent reports whether sink is reachable from source, counting source as
// reachable from itself.
func (p *Patchfield) IsDependent(sink, source string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closedLocked("IsDependent") {
		return false
	}
	if _, ok := p.modules[source]; !ok {
		return false
	}
	_, ok := p.graph.Reachable(source)[sink]
	return ok
}

// ActivateModule includes the module in rendering.
func (p *Patchfield) ActivateModule(name string) int {
	return p.setActive("ActivateModule", name, true)
}

// DeactivateModule excludes the module from rendering.
func (p *Patchfield) DeactivateModule(name string) int {
	return p.setActive("DeactivateModule", name, false)
}

func (p *Patchfield) setActive(function, name string, active bool) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closedLocked(function) {
		return int(status.Failure)
	}
	m, ok := p.modules[name]
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function": function,
			"module":   name,
		}).Warn("No such module")
		return int(status.NoSuchModule)
	}
	if p.engine.IsActive(m.slot) == active {
		return int(status.Success)
	}

	var code int
	if active {
		code = p.engine.ActivateModule(m.slot)
	} else {
		code = p.engine.DeactivateModule(m.slot)
	}
	if code < 0 {
		logrus.WithFields(logrus.Fields{
			"function": function,
			"module":   name,
			"code":     status.Code(code),
		}).Error("Engine failed to change activation")
		return code
	}

	if active {
		p.observers.Broadcast(EventModuleActivated, func(o Observer) error {
			return o.OnModuleActivated(name)
		})
	} else {
		p.observers.Broadcast(EventModuleDeactivated, func(o Observer) error {
			return o.OnModuleDeactivated(name)
		})
	}

	logrus.WithFields(logrus.Fields{
		"function": function,
		"module":   name,
	}).Info("Module activation changed")

	return int(status.Success)
}

// IsActive reports whether the module is activated.
func (p *Patchfield) IsActive(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closedLocked("IsActive") {
		return false
	}
	m, ok := p.modules[name]
	return ok && p.engine.IsActive(m.slot)
}

// Modules returns module names in creation order.
func (p *Patchfield) Modules() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closedLocked("Modules") {
		return nil
	}
	return append([]string(nil), p.order...)
}

// InputChannels returns the input channel count of a module, or NO_SUCH_MODULE.
func (p *Patchfield) InputChannels(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closedLocked("InputChannels") {
		return int(status.Failure)
	}
	m, ok := p.modules[name]
	if !ok {
		return int(status.NoSuchModule)
	}
	return m.inputChannels
}

// OutputChannels returns the output channel count of a module, or NO_SUCH_MODULE.
func (p *Patchfield) OutputChannels(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closedLocked("OutputChannels") {
		return int(status.Failure)
	}
	m, ok := p.modules[name]
	if !ok {
		return int(status.NoSuchModule)
	}
	return m.outputChannels
}

// Metadata returns a copy of the module's metadata, or nil.
func (p *Patchfield) Metadata(name string) *Metadata {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closedLocked("Metadata") {
		return nil
	}
	m, ok := p.modules[name]
	if !ok {
		return nil
	}
	return m.md.Clone()
}

// Module describes one module.
func (p *Patchfield) Module(name string) (ModuleInfo, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closedLocked("Module") {
		return ModuleInfo{}, false
	}
	m, ok := p.modules[name]
	if !ok {
		return ModuleInfo{}, false
	}
	return p.infoLocked(name, m), true
}

func (p *Patchfield) infoLocked(name string, m *module) ModuleInfo {
	return ModuleInfo{
		Name:           name,
		Slot:           m.slot,
		InputChannels:  m.inputChannels,
		OutputChannels: m.outputChannels,
		Active:         p.engine.IsActive(m.slot),
		Metadata:       m.md.Clone(),
	}
}

// Snapshot returns the registry and graph as of one instant. It reports false
// once the Patchfield is closed.
func (p *Patchfield) Snapshot() (Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closedLocked("Snapshot") {
		return Snapshot{}, false
	}
	s := Snapshot{
		Running:         p.engine.IsRunning(),
		SampleRate:      p.engine.SampleRate(),
		BufferSize:      p.engine.BufferSize(),
		ProtocolVersion: p.engine.ProtocolVersion(),
		Modules:         make([]ModuleInfo, 0, len(p.order)),
		Edges:           p.graph.Edges(),
	}
	for _, name := range p.order {
		s.Modules = append(s.Modules, p.infoLocked(name, p.modules[name]))
	}
	return s, true
}

// Start starts the transport.
func (p *Patchfield) Start() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closedLocked("Start") {
		return int(status.Failure)
	}
	code := p.engine.Start()
	if code < 0 {
		logrus.WithFields(logrus.Fields{
			"function": "Start",
			"code":     status.Code(code),
		}).Error("Engine failed to start")
		return code
	}
	p.observers.Broadcast(EventStart, Observer.OnStart)

	logrus.WithFields(logrus.Fields{
		"function": "Start",
	}).Info("Transport started")
	return code
}

// Stop stops the transport.
func (p *Patchfield) Stop() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closedLocked("Stop") {
		return int(status.Failure)
	}
	code := p.engine.Stop()
	if code < 0 {
		logrus.WithFields(logrus.Fields{
			"function": "Stop",
			"code":     status.Code(code),
		}).Error("Engine failed to stop")
		return code
	}
	p.observers.Broadcast(EventStop, Observer.OnStop)

	logrus.WithFields(logrus.Fields{
		"function": "Stop",
	}).Info("Transport stopped")
	return code
}

// IsRunning reports whether the transport is running.
func (p *Patchfield) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closedLocked("IsRunning") {
		return false
	}
	return p.engine.IsRunning()
}

// SampleRate returns the engine's sample rate.
func (p *Patchfield) SampleRate() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closedLocked("SampleRate") {
		return int(status.Failure)
	}
	return p.engine.SampleRate()
}

// BufferSize returns the engine's block length in frames.
func (p *Patchfield) BufferSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closedLocked("BufferSize") {
		return int(status.Failure)
	}
	return p.engine.BufferSize()
}

// ProtocolVersion returns the engine's protocol version.
func (p *Patchfield) ProtocolVersion() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closedLocked("ProtocolVersion") {
		return int(status.Failure)
	}
	return p.engine.ProtocolVersion()
}

// SendSharedMemoryFileDescriptor pushes the segment descriptor to a waiting client.
func (p *Patchfield) SendSharedMemoryFileDescriptor() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closedLocked("SendSharedMemoryFileDescriptor") {
		return int(status.Failure)
	}
	return p.engine.SendSharedMemoryFileDescriptor()
}

// PostMessage queues a message for every module's next render cycle.
func (p *Patchfield) PostMessage(data []byte) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closedLocked("PostMessage") {
		return int(status.Failure)
	}
	return p.engine.PostMessage(data)
}

// RegisterObserver adds an observer. Registering twice has no further effect.
func (p *Patchfield) RegisterObserver(o Observer) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closedLocked("RegisterObserver") {
		return int(status.Failure)
	}
	if !Identifiable(o) {
		logrus.WithFields(logrus.Fields{
			"function": "RegisterObserver",
			"observer": fmt.Sprintf("%T", o),
		}).Warn("Observer cannot be registered: nil or not comparable")
		return int(status.InvalidParameters)
	}
	p.observers.Register(o)
	return int(status.Success)
}

// UnregisterObserver removes an observer. Removing an unknown observer succeeds.
func (p *Patchfield) UnregisterObserver(o Observer) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closedLocked("UnregisterObserver") {
		return int(status.Failure)
	}
	p.observers.Unregister(o)
	return int(status.Success)
}

// SetMasterMetadata stores the service-level metadata.
func (p *Patchfield) SetMasterMetadata(md *Metadata) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.master = md.Clone()
}

// MasterMetadata returns a copy of the service-level metadata.
func (p *Patchfield) MasterMetadata() *Metadata {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.master.Clone()
}

// Close stops and releases the engine. Every later call fails fast.
func (p *Patchfield) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.engine == nil {
		return nil
	}
	err := p.engine.Close()
	p.engine = nil

	logrus.WithFields(logrus.Fields{
		"function": "Close",
	}).Info("Patchfield closed")

	return err
}

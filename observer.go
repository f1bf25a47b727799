package patchfield

// Observer receives graph changes. Each method is called once per successful
// mutation, under the lock that performed it. A returned error means delivery
// failed; the observer is skipped for that event only.
//
// Observers are identified by ==, so implementations should be pointer types.
type Observer interface {
	OnStart() error
	OnStop() error
	OnModuleCreated(name string, inputChannels, outputChannels int, md *Metadata) error
	OnModuleDeleted(name string) error
	OnModuleActivated(name string) error
	OnModuleDeactivated(name string) error
	OnPortsConnected(source string, sourcePort int, sink string, sinkPort int) error
	OnPortsDisconnected(source string, sourcePort int, sink string, sinkPort int) error
}

// Liveness is implemented by observers whose peer can go away. Observers that
// report false are pruned before the next delivery.
type Liveness interface {
	Alive() bool
}

// EventKind names a graph change.
type EventKind string

// Event kinds, one per Observer method.
const (
	EventStart             EventKind = "start"
	EventStop              EventKind = "stop"
	EventModuleCreated     EventKind = "module_created"
	EventModuleDeleted     EventKind = "module_deleted"
	EventModuleActivated   EventKind = "module_activated"
	EventModuleDeactivated EventKind = "module_deactivated"
	EventPortsConnected    EventKind = "ports_connected"
	EventPortsDisconnected EventKind = "ports_disconnected"
)

// Event is the value form of an Observer callback.
type Event struct {
	Kind           EventKind `json:"kind"`
	Module         string    `json:"module,omitempty"`
	InputChannels  int       `json:"input_channels,omitempty"`
	OutputChannels int       `json:"output_channels,omitempty"`
	Metadata       *Metadata `json:"metadata,omitempty"`
	Edge           *Edge     `json:"edge,omitempty"`
}

// EventObserver adapts a function taking Event values to Observer.
type EventObserver struct {
	fn func(Event) error
}

var _ Observer = (*EventObserver)(nil)

// NewEventObserver returns an observer that forwards every callback to fn.
func NewEventObserver(fn func(Event) error) *EventObserver {
	return &EventObserver{fn: fn}
}

// OnStart implements Observer.
func (o *EventObserver) OnStart() error {
	return o.fn(Event{Kind: EventStart})
}

// OnStop implements Observer.
func (o *EventObserver) OnStop() error {
	return o.fn(Event{Kind: EventStop})
}

// OnModuleCreated implements Observer.
func (o *EventObserver) OnModuleCreated(name string, inputChannels, outputChannels int, md *Metadata) error {
	return o.fn(Event{
		Kind:           EventModuleCreated,
		Module:         name,
		InputChannels:  inputChannels,
		OutputChannels: outputChannels,
		Metadata:       md,
	})
}

// OnModuleDeleted implements Observer.
func (o *EventObserver) OnModuleDeleted(name string) error {
	return o.fn(Event{Kind: EventModuleDeleted, Module: name})
}

// OnModuleActivated implements Observer.
func (o *EventObserver) OnModuleActivated(name string) error {
	return o.fn(Event{Kind: EventModuleActivated, Module: name})
}

// OnModuleDeactivated implements Observer.
func (o *EventObserver) OnModuleDeactivated(name string) error {
	return o.fn(Event{Kind: EventModuleDeactivated, Module: name})
}

// OnPortsConnected implements Observer.
func (o *EventObserver) OnPortsConnected(source string, sourcePort int, sink string, sinkPort int) error {
	return o.fn(Event{Kind: EventPortsConnected, Edge: edge(source, sourcePort, sink, sinkPort)})
}

// OnPortsDisconnected implements Observer.
func (o *EventObserver) OnPortsDisconnected(source string, sourcePort int, sink string, sinkPort int) error {
	return o.fn(Event{Kind: EventPortsDisconnected, Edge: edge(source, sourcePort, sink, sinkPort)})
}

func edge(source string, sourcePort int, sink string, sinkPort int) *Edge {
	return &Edge{Source: Port{Module: source, Index: sourcePort}, Sink: Port{Module: sink, Index: sinkPort}}
}

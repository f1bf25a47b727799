package patchfield

// Service is the registry and graph call surface offered to clients. Mutations
// return status codes; CreateModule returns the slot index on success.
type Service interface {
	CreateModule(name string, inputChannels, outputChannels int, md *Metadata) int
	DeleteModule(name string) int
	ConnectPorts(source string, sourcePort int, sink string, sinkPort int) int
	DisconnectPorts(source string, sourcePort int, sink string, sinkPort int) int
	IsConnected(source string, sourcePort int, sink string, sinkPort int) bool
	IsDependent(sink, source string) bool
	ActivateModule(name string) int
	DeactivateModule(name string) int
	IsActive(name string) bool
	Modules() []string
	InputChannels(name string) int
	OutputChannels(name string) int
	Metadata(name string) *Metadata

	Start() int
	Stop() int
	IsRunning() bool

	SampleRate() int
	BufferSize() int
	ProtocolVersion() int

	// SendSharedMemoryFileDescriptor pushes the segment descriptor to a client
	// waiting in the attachment handshake.
	SendSharedMemoryFileDescriptor() int
	PostMessage(data []byte) int

	RegisterObserver(o Observer) int
	UnregisterObserver(o Observer) int
}

package patchfield

// Intent is an action fired when a module is deleted, such as notifying the
// process that owns it.
type Intent interface {
	Send() error
}

// IntentFunc adapts a function to Intent.
type IntentFunc func() error

// Send calls f.
func (f IntentFunc) Send() error { return f() }

// Metadata is opaque display and launch information attached to a module or to
// the service itself.
type Metadata struct {
	Title       string            `json:"title,omitempty" yaml:"title,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`

	// ReleaseIntent is fired after the module is deleted.
	ReleaseIntent Intent `json:"-" yaml:"-"`
}

// Clone returns a copy that shares no maps with m.
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}
	c := *m
	if m.Attributes != nil {
		c.Attributes = make(map[string]string, len(m.Attributes))
		for k, v := range m.Attributes {
			c.Attributes[k] = v
		}
	}
	return &c
}

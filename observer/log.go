package observer

import (
	"github.com/opd-ai/patchfield"
	"github.com/sirupsen/logrus"
)

// NewLog returns an observer that logs every graph change at Info on entry.
// A nil entry logs through the standard logger.
func NewLog(entry *logrus.Entry) *patchfield.EventObserver {
	if entry == nil {
		entry = logrus.NewEntry(logrus.StandardLogger())
	}
	return patchfield.NewEventObserver(func(e patchfield.Event) error {
		fields := logrus.Fields{
			"function": "LogObserver",
			"event":    e.Kind,
		}
		if e.Module != "" {
			fields["module"] = e.Module
		}
		if e.Kind == patchfield.EventModuleCreated {
			fields["input_channels"] = e.InputChannels
			fields["output_channels"] = e.OutputChannels
		}
		if e.Edge != nil {
			fields["source"] = e.Edge.Source.Module
			fields["source_port"] = e.Edge.Source.Index
			fields["sink"] = e.Edge.Sink.Module
			fields["sink_port"] = e.Edge.Sink.Index
		}
		entry.WithFields(fields).Info("Graph changed")
		return nil
	})
}

package events

import "go.uber.org/zap"

// LoggerSink is the one concrete Sink this module ships: it emits every
// event as a structured zap log line. Spec §1 keeps telemetry transport out
// of scope, but a process with no EventSink wired at all would be unable to
// run its own tests or demos, so a log-line sink is the minimal
// contract-conformant default — analogous to how the teacher's packages
// always pair an interface with at least a logging-backed implementation.
type LoggerSink struct {
	log *zap.SugaredLogger
}

// NewLoggerSink builds a LoggerSink over log.
func NewLoggerSink(log *zap.SugaredLogger) *LoggerSink {
	return &LoggerSink{log: log}
}

// Emit logs kind and fields as one structured line.
func (s *LoggerSink) Emit(kind Kind, fields Fields) {
	args := make([]any, 0, len(fields)*2+2)
	args = append(args, "kind", string(kind))
	for k, v := range fields {
		args = append(args, k, v)
	}
	s.log.Infow("fleet event", args...)
}

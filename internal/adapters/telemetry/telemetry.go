package telemetry

import (
	log "github.com/sirupsen/logrus"

	"sprintscope/backend/internal/ports"
)

type NoopTelemetry struct{}

var _ ports.Telemetry = (*NoopTelemetry)(nil)

func NewNoopTelemetry() *NoopTelemetry {
	return &NoopTelemetry{}
}

func (n *NoopTelemetry) Record(_ string, _ map[string]string) {}

// LogTelemetry writes events to the structured log at debug level.
type LogTelemetry struct{}

var _ ports.Telemetry = (*LogTelemetry)(nil)

func NewLogTelemetry() *LogTelemetry {
	return &LogTelemetry{}
}

func (l *LogTelemetry) Record(name string, attributes map[string]string) {
	fields := log.Fields{}
	for key, value := range attributes {
		fields[key] = value
	}
	log.WithFields(fields).Debug(name)
}

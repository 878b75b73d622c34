// Package linesource adapts input plugins (TCP listener, stdin, files) to a common
// channel of source-tagged lines.
package linesource

import "github.com/tinytelemetry/tsnorm/internal/model"

// Source is a unified interface for all line input sources.
type Source interface {
	Lines() <-chan model.IngestEnvelope // closed when the source is exhausted or stopped
	Stop()
	Name() string // "tcp", "stdin", "file"
}

// Package source adapts line producers (TCP, stdin, readers) to one interface.
package source

import "github.com/tinytelemetry/pulse/internal/model"

// Source is a unified interface for metric line inputs.
type Source interface {
	Lines() <-chan model.IngestEnvelope // read-only channel of lines
	Stop()                              // graceful shutdown
	Name() string                       // "tcp", "stdin", ...
}

package socketrpc

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/tinytelemetry/pulse/internal/model"
)

// JSON-RPC 2.0 Method Reference
//
// The socket RPC server exposes the telemetry engine over a Unix domain socket,
// one JSON request per line.
//
//   Method              Params                                          Result
//   ────────────────    ─────────────────────────────────────────────   ──────────────
//   RecordMetric        MetricInput {type, name, value, unit, tags}     Result
//   IncrementCounter    {Name: string, Delta: int64}                    int64
//   StartSession        {Name: string, Tags: map, Metadata: map}        Session
//   EndSession          {ID: string}                                    Session
//   GetAnalytics        {Start: time, End: time}                        Analytics
//   GetSnapshot         (none)                                          Snapshot
//   ListAlerts          {UnresolvedOnly: bool}                          []Alert
//   ResolveAlert        {ID: string}                                    Alert
//
// GetAnalytics defaults to the last hour when Start/End are omitted.
//
// Error codes follow JSON-RPC 2.0:
//   -32700  Parse error (malformed JSON)
//   -32601  Method not found
//   -32602  Invalid params
//   -32603  Internal error (marshal failure)
//   -32001  Not found (unknown session or alert id)

const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603
	codeNotFound       = -32001
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return e.Message }

// Telemetry is the engine surface served over the socket.
type Telemetry interface {
	Record(in model.MetricInput) model.Result
	IncrementCounter(name string, delta int64) int64
	StartSession(name string, tags map[string]string, metadata map[string]any) model.Session
	EndSession(id string) (model.Session, bool)
	GetAnalytics(start, end time.Time) model.Analytics
	GetSnapshot() model.Snapshot
	Alerts(unresolvedOnly bool) []model.Alert
	ResolveAlert(id string) (model.Alert, bool)
}

// DefaultSocketPath returns the default Unix socket path.
// It prefers $XDG_RUNTIME_DIR/pulse/pulse.sock, falling back to
// ~/.local/state/pulse/pulse.sock.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "pulse", "pulse.sock")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/pulse.sock"
	}
	return filepath.Join(home, ".local", "state", "pulse", "pulse.sock")
}

package socketrpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tinytelemetry/pulse/internal/model"
)

const (
	// scannerInitBufSize is the initial buffer size for the per-connection scanner (64 KB).
	scannerInitBufSize = 64 * 1024
	// scannerMaxTokenSize is the maximum request size the scanner will accept (4 MB).
	scannerMaxTokenSize = 4 * 1024 * 1024

	defaultAnalyticsWindow = time.Hour
)

// Server exposes Telemetry over a Unix domain socket using JSON-RPC 2.0.
type Server struct {
	socketPath string
	tel        Telemetry
	logger     *zap.Logger
	listener   net.Listener
	wg         sync.WaitGroup
	quit       chan struct{}
	stopOnce   sync.Once
}

// NewServer creates a new socket RPC server.
func NewServer(socketPath string, tel Telemetry, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		socketPath: socketPath,
		tel:        tel,
		logger:     logger,
		quit:       make(chan struct{}),
	}
}

// Start begins listening on the Unix socket and accepting connections.
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0755); err != nil {
		return fmt.Errorf("socketrpc: mkdir: %w", err)
	}

	// Remove a stale socket left by a crashed server.
	if _, err := os.Stat(s.socketPath); err == nil {
		conn, dialErr := net.DialTimeout("unix", s.socketPath, 500*time.Millisecond)
		if dialErr != nil {
			_ = os.Remove(s.socketPath)
		} else {
			conn.Close()
			return fmt.Errorf("socketrpc: another server is already listening on %s", s.socketPath)
		}
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("socketrpc: listen: %w", err)
	}
	s.listener = ln

	s.wg.Add(1)
	go s.acceptLoop()

	s.logger.Info("listening", zap.String("socket", s.socketPath))
	return nil
}

// Stop closes the listener, waits for connections to drain, and removes the socket file.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)
		if s.listener != nil {
			s.listener.Close()
		}
		s.wg.Wait()
		_ = os.Remove(s.socketPath)
	})
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				// Transient errors (e.g. fd limit) must not end the loop.
				s.logger.Warn("accept error", zap.Error(err))
				time.Sleep(50 * time.Millisecond)
				continue
			}
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	// Unblock the scanner when the server stops.
	connDone := make(chan struct{})
	defer close(connDone)
	go func() {
		select {
		case <-s.quit:
			conn.Close()
		case <-connDone:
		}
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, scannerInitBufSize), scannerMaxTokenSize)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			_ = encoder.Encode(Response{JSONRPC: "2.0", Error: &RPCError{Code: codeParseError, Message: "parse error"}})
			continue
		}
		if err := encoder.Encode(s.dispatch(req)); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(req Request) Response {
	resp := Response{JSONRPC: "2.0", ID: req.ID}

	marshalResult := func(v any) Response {
		data, err := json.Marshal(v)
		if err != nil {
			resp.Error = &RPCError{Code: codeInternal, Message: err.Error()}
			return resp
		}
		resp.Result = data
		return resp
	}
	fail := func(code int, format string, args ...any) Response {
		resp.Error = &RPCError{Code: code, Message: fmt.Sprintf(format, args...)}
		return resp
	}
	invalidParams := func(err error) Response {
		return fail(codeInvalidParams, "invalid params: %v", err)
	}
	hasParams := len(req.Params) > 0 && string(req.Params) != "null"

	switch req.Method {
	case "RecordMetric":
		var in model.MetricInput
		if err := json.Unmarshal(req.Params, &in); err != nil {
			return invalidParams(err)
		}
		if in.Name == "" {
			return fail(codeInvalidParams, "invalid params: name is required")
		}
		// A skip is a result, not a failure. Callers inspect Status.
		return marshalResult(s.tel.Record(in))

	case "IncrementCounter":
		var p struct {
			Name  string
			Delta *int64
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return invalidParams(err)
		}
		if p.Name == "" {
			return fail(codeInvalidParams, "invalid params: name is required")
		}
		delta := int64(1)
		if p.Delta != nil {
			delta = *p.Delta
		}
		return marshalResult(s.tel.IncrementCounter(p.Name, delta))

	case "StartSession":
		var p struct {
			Name     string
			Tags     map[string]string
			Metadata map[string]any
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return invalidParams(err)
		}
		return marshalResult(s.tel.StartSession(p.Name, p.Tags, p.Metadata))

	case "EndSession":
		var p struct{ ID string }
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return invalidParams(err)
		}
		sess, ok := s.tel.EndSession(p.ID)
		if !ok {
			return fail(codeNotFound, "session not found: %s", p.ID)
		}
		return marshalResult(sess)

	case "GetAnalytics":
		var p struct{ Start, End time.Time }
		if err := json.Unmarshal(req.Params, &p); err != nil && hasParams {
			return invalidParams(err)
		}
		if p.End.IsZero() {
			p.End = time.Now()
		}
		if p.Start.IsZero() {
			p.Start = p.End.Add(-defaultAnalyticsWindow)
		}
		return marshalResult(s.tel.GetAnalytics(p.Start, p.End))

	case "GetSnapshot":
		return marshalResult(s.tel.GetSnapshot())

	case "ListAlerts":
		var p struct{ UnresolvedOnly bool }
		if err := json.Unmarshal(req.Params, &p); err != nil && hasParams {
			return invalidParams(err)
		}
		return marshalResult(s.tel.Alerts(p.UnresolvedOnly))

	case "ResolveAlert":
		var p struct{ ID string }
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return invalidParams(err)
		}
		a, ok := s.tel.ResolveAlert(p.ID)
		if !ok {
			return fail(codeNotFound, "alert not found: %s", p.ID)
		}
		return marshalResult(a)

	default:
		return fail(codeMethodNotFound, "method not found: %s", req.Method)
	}
}

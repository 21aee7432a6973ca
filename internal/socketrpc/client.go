package socketrpc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/tinytelemetry/pulse/internal/model"
)

// Client calls a running server over its Unix socket.
type Client struct {
	conn    net.Conn
	mu      sync.Mutex
	nextID  int
	scanner *bufio.Scanner
	encoder *json.Encoder
}

// Dial connects to the socket RPC server at the given path.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("socketrpc: dial: %w", err)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, scannerInitBufSize), 64*1024*1024)
	return &Client{
		conn:    conn,
		scanner: scanner,
		encoder: json.NewEncoder(conn),
	}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// call performs a JSON-RPC call and unmarshals the result into dest.
func (c *Client) call(method string, params any, dest any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID

	paramsData, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("socketrpc: marshal params: %w", err)
	}

	_ = c.conn.SetDeadline(time.Now().Add(30 * time.Second))
	defer c.conn.SetDeadline(time.Time{})

	if err := c.encoder.Encode(Request{JSONRPC: "2.0", ID: id, Method: method, Params: paramsData}); err != nil {
		return fmt.Errorf("socketrpc: send: %w", err)
	}

	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return fmt.Errorf("socketrpc: read: %w", err)
		}
		return fmt.Errorf("socketrpc: connection closed")
	}

	var resp Response
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return fmt.Errorf("socketrpc: unmarshal response: %w", err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if dest != nil {
		if err := json.Unmarshal(resp.Result, dest); err != nil {
			return fmt.Errorf("socketrpc: unmarshal result: %w", err)
		}
	}
	return nil
}

// IsNotFound reports whether err is the server's not-found error.
func IsNotFound(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == codeNotFound
}

func (c *Client) RecordMetric(in model.MetricInput) (model.Result, error) {
	var result model.Result
	err := c.call("RecordMetric", in, &result)
	return result, err
}

func (c *Client) IncrementCounter(name string, delta int64) (int64, error) {
	var result int64
	err := c.call("IncrementCounter", map[string]any{"Name": name, "Delta": delta}, &result)
	return result, err
}

func (c *Client) StartSession(name string, tags map[string]string, metadata map[string]any) (model.Session, error) {
	var result model.Session
	err := c.call("StartSession", map[string]any{"Name": name, "Tags": tags, "Metadata": metadata}, &result)
	return result, err
}

// EndSession returns IsNotFound errors for unknown ids.
func (c *Client) EndSession(id string) (model.Session, error) {
	var result model.Session
	err := c.call("EndSession", map[string]any{"ID": id}, &result)
	return result, err
}

func (c *Client) GetAnalytics(start, end time.Time) (model.Analytics, error) {
	var result model.Analytics
	err := c.call("GetAnalytics", map[string]any{"Start": start, "End": end}, &result)
	return result, err
}

func (c *Client) GetSnapshot() (model.Snapshot, error) {
	var result model.Snapshot
	err := c.call("GetSnapshot", nil, &result)
	return result, err
}

func (c *Client) ListAlerts(unresolvedOnly bool) ([]model.Alert, error) {
	var result []model.Alert
	err := c.call("ListAlerts", map[string]any{"UnresolvedOnly": unresolvedOnly}, &result)
	return result, err
}

func (c *Client) ResolveAlert(id string) (model.Alert, error) {
	var result model.Alert
	err := c.call("ResolveAlert", map[string]any{"ID": id}, &result)
	return result, err
}

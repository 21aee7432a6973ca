package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/tinytelemetry/pulse/internal/model"
	"github.com/tinytelemetry/pulse/internal/tcpserver"
)

// TagSource is added to every ingested metric that does not set it.
const TagSource = "source"

// MaxPendingSize caps a multi-line JSON payload held for one remote.
const MaxPendingSize = tcpserver.DefaultMaxLineSize

var (
	// ErrIncompletePayload reports a partial JSON payload that was abandoned,
	// either because its stream closed or because a new payload started.
	ErrIncompletePayload = errors.New("ingest: incomplete JSON payload dropped")
	// ErrPayloadTooLarge reports a partial JSON payload that outgrew MaxPendingSize.
	ErrPayloadTooLarge = errors.New("ingest: pending JSON payload exceeds size limit")
)

// Processor turns ingest lines into recorded metrics. JSON payloads may span
// several lines; partial objects are accumulated per remote peer.
type Processor struct {
	recorder model.MetricRecorder

	mu         sync.Mutex
	sourceName string
	pending    map[string]*pendingJSON
	maxPending int

	lines    atomic.Int64
	recorded atomic.Int64
	failed   atomic.Int64
}

type pendingJSON struct {
	buf   strings.Builder
	depth int
	root  byte
}

// supersededBy reports whether line cannot continue the payload and is
// instead the start of a new one.
func (pend *pendingJSON) supersededBy(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	switch trimmed[0] {
	case '{', '[':
		// Only members may follow at the top level of an object.
		return pend.root == '{' && pend.depth == 1
	case '"', '}', ']', ',':
		return false
	}
	return isTextMetric(trimmed)
}

// ProcessResult holds the outcome of one complete payload.
type ProcessResult struct {
	Results []model.Result
	Err     error
}

// Recorded counts results with StatusRecorded.
func (r *ProcessResult) Recorded() int {
	n := 0
	for _, res := range r.Results {
		if res.OK() {
			n++
		}
	}
	return n
}

// Stats are cumulative processor counters.
type Stats struct {
	Lines    int64 `json:"lines"`
	Recorded int64 `json:"recorded"`
	Failed   int64 `json:"failed"`
}

// NewProcessor creates a processor that records into rec.
func NewProcessor(rec model.MetricRecorder, sourceName string) *Processor {
	return &Processor{
		recorder:   rec,
		sourceName: sourceName,
		pending:    make(map[string]*pendingJSON),
		maxPending: MaxPendingSize,
	}
}

func (p *Processor) Name() string { return ProcessorName }

// ProcessLine processes an untagged line using the processor source name.
func (p *Processor) ProcessLine(line string) *ProcessResult {
	return p.ProcessEnvelope(model.IngestEnvelope{Line: line})
}

// ProcessEnvelope processes one line. It returns nil while a multi-line JSON
// payload is still being accumulated. A Closed envelope releases the remote's
// pending payload.
func (p *Processor) ProcessEnvelope(env model.IngestEnvelope) *ProcessResult {
	if env.Closed {
		return p.closeRemote(env.Remote)
	}
	p.lines.Add(1)

	p.mu.Lock()
	source := env.Source
	if source == "" {
		source = p.sourceName
	}
	payload, complete, dropped := p.accumulate(env.Remote, env.Line)
	p.mu.Unlock()

	var res *ProcessResult
	if complete {
		res = p.process(payload, source)
	}
	if dropped != nil {
		p.failed.Add(1)
		if res == nil {
			res = &ProcessResult{}
		}
		res.Err = errors.Join(dropped, res.Err)
	}
	return res
}

func (p *Processor) closeRemote(remote string) *ProcessResult {
	p.mu.Lock()
	_, ok := p.pending[remote]
	delete(p.pending, remote)
	p.mu.Unlock()

	if !ok {
		return nil
	}
	p.failed.Add(1)
	return &ProcessResult{Err: ErrIncompletePayload}
}

// accumulate must be called with p.mu held. dropped is set when a stale
// pending payload for key was discarded.
func (p *Processor) accumulate(key, line string) (payload string, complete bool, dropped error) {
	if pend, ok := p.pending[key]; ok {
		if pend.supersededBy(line) {
			delete(p.pending, key)
			payload, complete = p.begin(key, line)
			return payload, complete, ErrIncompletePayload
		}
		if pend.buf.Len()+len(line)+1 > p.maxPending {
			delete(p.pending, key)
			return "", false, ErrPayloadTooLarge
		}
		pend.buf.WriteString("\n")
		pend.buf.WriteString(line)
		pend.depth += CountJSONDepth(line)
		if pend.depth > 0 {
			return "", false, nil
		}
		delete(p.pending, key)
		return pend.buf.String(), true, nil
	}
	payload, complete = p.begin(key, line)
	return payload, complete, nil
}

func (p *Processor) begin(key, line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return "", false
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		if depth := CountJSONDepth(line); depth > 0 {
			pend := &pendingJSON{depth: depth, root: trimmed[0]}
			pend.buf.WriteString(line)
			p.pending[key] = pend
			return "", false
		}
	}
	return line, true
}

func (p *Processor) process(payload, source string) *ProcessResult {
	inputs, err := ParseLine(payload)
	if err != nil {
		p.failed.Add(1)
		return &ProcessResult{Err: err}
	}

	result := &ProcessResult{Results: make([]model.Result, 0, len(inputs))}
	for _, in := range inputs {
		if source != "" {
			in.Tags = withSource(in.Tags, source)
		}
		res := p.recorder.Record(in)
		if res.OK() {
			p.recorded.Add(1)
		}
		result.Results = append(result.Results, res)
	}
	return result
}

// SetSourceName updates the default source name for untagged lines.
func (p *Processor) SetSourceName(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sourceName = name
}

// Stats returns cumulative counters.
func (p *Processor) Stats() Stats {
	return Stats{
		Lines:    p.lines.Load(),
		Recorded: p.recorded.Load(),
		Failed:   p.failed.Load(),
	}
}

// Consume processes envelopes until lines is closed or ctx is done.
func (p *Processor) Consume(ctx context.Context, lines <-chan model.IngestEnvelope, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-lines:
			if !ok {
				return
			}
			res := p.ProcessEnvelope(env)
			if res == nil || res.Err == nil {
				continue
			}
			if errors.Is(res.Err, ErrIncompletePayload) || errors.Is(res.Err, ErrPayloadTooLarge) {
				logger.Warn("ingest: dropped partial payload",
					zap.String("source", env.Source),
					zap.String("remote", env.Remote),
					zap.Error(res.Err))
			} else {
				logger.Debug("ingest: rejected line",
					zap.String("source", env.Source),
					zap.String("remote", env.Remote),
					zap.Error(res.Err))
			}
		}
	}
}

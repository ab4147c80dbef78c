package trace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Sink durably appends encoded records.
type Sink interface {
	Append(line Line) error
	// Location is a human-readable reference to where a run is stored.
	Location(runID string) string
}

type discardSink struct{}

func (discardSink) Append(Line) error      { return nil }
func (discardSink) Location(string) string { return "" }

// Discard drops every record.
var Discard Sink = discardSink{}

// DateLayout names the per-day directories of a FileSink.
const DateLayout = "2006-01-02"

// FileSink writes one JSONL file per run under <root>/<YYYY-MM-DD>/<runID>.jsonl.
// The date is taken from the run's first record, so a run never spans two
// files. Each append opens, writes and closes the file, so a crash loses at
// most the line being written.
type FileSink struct {
	root string

	mu    sync.Mutex
	paths map[string]string
}

// NewFileSink creates a sink rooted at dir.
func NewFileSink(dir string) (*FileSink, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("trace directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure trace dir: %w", err)
	}
	return &FileSink{root: dir, paths: make(map[string]string)}, nil
}

// Root returns the storage root.
func (s *FileSink) Root() string {
	return s.root
}

// PathFor returns the file a run started at ts is written to.
func (s *FileSink) PathFor(runID string, ts time.Time) string {
	return filepath.Join(s.root, ts.UTC().Format(DateLayout), runID+".jsonl")
}

// Append writes line followed by a newline. The trace_end record releases
// the run's path.
func (s *FileSink) Append(line Line) error {
	path := s.resolve(line)
	if line.Type == RecordEnd {
		defer s.forget(line.RunID)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("trace: mkdir %s: %w", filepath.Dir(path), err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("trace: open %s: %w", path, err)
	}
	buf := make([]byte, 0, len(line.Data)+1)
	buf = append(append(buf, line.Data...), '\n')
	if _, err := file.Write(buf); err != nil {
		file.Close()
		return fmt.Errorf("trace: write %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("trace: close %s: %w", path, err)
	}
	return nil
}

// Location returns the run's file path, or "" before its first record.
func (s *FileSink) Location(runID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paths[runID]
}

func (s *FileSink) resolve(line Line) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if path, ok := s.paths[line.RunID]; ok {
		return path
	}
	ts := line.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	path := s.PathFor(line.RunID, ts)
	s.paths[line.RunID] = path
	return path
}

func (s *FileSink) forget(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.paths, runID)
}

// StreamAdder is the subset of a redis client used by RedisSink.
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// DefaultStream is the redis stream RedisSink publishes to.
const DefaultStream = "republic.traces"

// RedisSink mirrors records to a redis stream so live consumers can tail
// runs across processes.
type RedisSink struct {
	client  StreamAdder
	stream  string
	maxLen  int64
	timeout time.Duration
}

// RedisOption customizes a RedisSink.
type RedisOption func(*RedisSink)

// WithStream sets the stream key.
func WithStream(stream string) RedisOption {
	return func(s *RedisSink) {
		if strings.TrimSpace(stream) != "" {
			s.stream = stream
		}
	}
}

// WithMaxLen caps the stream length approximately.
func WithMaxLen(n int64) RedisOption {
	return func(s *RedisSink) {
		s.maxLen = n
	}
}

// WithWriteTimeout bounds each XADD.
func WithWriteTimeout(d time.Duration) RedisOption {
	return func(s *RedisSink) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewRedisSink publishes to client.
func NewRedisSink(client StreamAdder, opts ...RedisOption) *RedisSink {
	s := &RedisSink{client: client, stream: DefaultStream, timeout: 2 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DialRedis parses a redis URL and returns a client.
func DialRedis(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return redis.NewClient(opt), nil
}

// Append publishes line as one stream entry.
func (s *RedisSink) Append(line Line) error {
	if s.client == nil {
		return fmt.Errorf("trace: redis client not configured")
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"run_id": line.RunID,
			"type":   string(line.Type),
			"ts":     line.Timestamp.UTC().Format(time.RFC3339Nano),
			"record": string(line.Data),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if _, err := s.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("trace: xadd %s: %w", s.stream, err)
	}
	return nil
}

// Location names the stream.
func (s *RedisSink) Location(string) string {
	return "redis://" + s.stream
}

type multiSink struct {
	sinks []Sink
}

// MultiSink appends to every sink in order. A failing sink does not stop
// the others.
func MultiSink(sinks ...Sink) Sink {
	kept := make([]Sink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			kept = append(kept, sink)
		}
	}
	switch len(kept) {
	case 0:
		return Discard
	case 1:
		return kept[0]
	}
	return &multiSink{sinks: kept}
}

func (m *multiSink) Append(line Line) error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Append(line); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *multiSink) Location(runID string) string {
	for _, sink := range m.sinks {
		if loc := sink.Location(runID); loc != "" {
			return loc
		}
	}
	return ""
}

// MemorySink keeps lines in memory.
type MemorySink struct {
	mu    sync.Mutex
	lines []Line
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Append stores a copy of line.
func (m *MemorySink) Append(line Line) error {
	line.Data = append([]byte(nil), line.Data...)
	m.mu.Lock()
	m.lines = append(m.lines, line)
	m.mu.Unlock()
	return nil
}

// Location returns a memory:// reference.
func (m *MemorySink) Location(runID string) string {
	return "memory://" + runID
}

// Lines returns the stored lines of a run, or of all runs when runID is "".
func (m *MemorySink) Lines(runID string) []Line {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Line
	for _, line := range m.lines {
		if runID == "" || line.RunID == runID {
			out = append(out, line)
		}
	}
	return out
}

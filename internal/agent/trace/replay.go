package trace

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrRunNotFound is returned when no record file exists for a run.
var ErrRunNotFound = errors.New("trace: run not found")

// Record is one decoded line. Exactly one of the payload pointers is set,
// matching Type.
type Record struct {
	Type  RecordType
	Start *Start
	Span  *Span
	Event *Event
	End   *End
}

// Replay is a run reconstructed from its record stream.
type Replay struct {
	Path      string
	RunID     string
	AgentID   string
	Start     *Start
	End       *End
	Records   []Record
	Spans     []Span
	Events    []Event
	Malformed int
}

// Closed reports whether the stream ends with trace_end. A stream without
// it belongs to a crashed or still-running run.
func (r *Replay) Closed() bool {
	return r.End != nil
}

// ReadFile replays a record file.
func ReadFile(path string) (*Replay, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrRunNotFound)
		}
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	defer file.Close()

	replay, err := Decode(file)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", path, err)
	}
	replay.Path = path
	return replay, nil
}

// ReadLines replays lines captured by a sink such as MemorySink.
func ReadLines(lines []Line) (*Replay, error) {
	var buf bytes.Buffer
	for _, line := range lines {
		buf.Write(line.Data)
		buf.WriteByte('\n')
	}
	return Decode(&buf)
}

// Decode reads JSONL records in order. Blank lines are ignored and lines
// that do not decode, such as a torn final write, are counted in Malformed.
func Decode(r io.Reader) (*Replay, error) {
	replay := &Replay{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		record, err := decodeRecord(line)
		if err != nil {
			replay.Malformed++
			continue
		}
		replay.add(record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan trace: %w", err)
	}
	return replay, nil
}

func decodeRecord(line []byte) (Record, error) {
	var head struct {
		Type RecordType `json:"type"`
	}
	if err := json.Unmarshal(line, &head); err != nil {
		return Record{}, err
	}
	record := Record{Type: head.Type}
	var target any
	switch head.Type {
	case RecordStart:
		record.Start = &Start{}
		target = record.Start
	case RecordSpan:
		record.Span = &Span{}
		target = record.Span
	case RecordEvent:
		record.Event = &Event{}
		target = record.Event
	case RecordEnd:
		record.End = &End{}
		target = record.End
	default:
		return Record{}, fmt.Errorf("unknown record type %q", head.Type)
	}
	if err := json.Unmarshal(line, target); err != nil {
		return Record{}, err
	}
	return record, nil
}

func (r *Replay) add(record Record) {
	r.Records = append(r.Records, record)
	switch record.Type {
	case RecordStart:
		r.Start = record.Start
		r.RunID = record.Start.RunID
		r.AgentID = record.Start.AgentID
	case RecordSpan:
		r.Spans = append(r.Spans, *record.Span)
	case RecordEvent:
		r.Events = append(r.Events, *record.Event)
	case RecordEnd:
		r.End = record.End
		if r.RunID == "" {
			r.RunID = record.End.RunID
		}
	}
}

// RunInfo describes one stored run.
type RunInfo struct {
	RunID       string    `json:"run_id"`
	AgentID     string    `json:"agent_id,omitempty"`
	Date        string    `json:"date"`
	Path        string    `json:"path"`
	StartedAt   time.Time `json:"started_at"`
	Closed      bool      `json:"closed"`
	FinalStatus string    `json:"final_status,omitempty"`
	SpanCount   int       `json:"span_count"`
	EventCount  int       `json:"event_count"`
}

// ListRuns walks the date directories under root and summarizes every
// record file, oldest first. Runs without trace_end report Closed=false.
func ListRuns(root string) ([]RunInfo, error) {
	days, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list trace root: %w", err)
	}

	var runs []RunInfo
	for _, day := range days {
		if !day.IsDir() {
			continue
		}
		if _, err := time.Parse(DateLayout, day.Name()); err != nil {
			continue
		}
		dir := filepath.Join(root, day.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", dir, err)
		}
		for _, file := range files {
			if file.IsDir() || !strings.HasSuffix(file.Name(), ".jsonl") {
				continue
			}
			path := filepath.Join(dir, file.Name())
			replay, err := ReadFile(path)
			if err != nil {
				return nil, err
			}
			runs = append(runs, infoFrom(replay, day.Name(), strings.TrimSuffix(file.Name(), ".jsonl")))
		}
	}

	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].Date != runs[j].Date {
			return runs[i].Date < runs[j].Date
		}
		if !runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].StartedAt.Before(runs[j].StartedAt)
		}
		return runs[i].RunID < runs[j].RunID
	})
	return runs, nil
}

func infoFrom(replay *Replay, date, fileRunID string) RunInfo {
	info := RunInfo{
		RunID:      replay.RunID,
		AgentID:    replay.AgentID,
		Date:       date,
		Path:       replay.Path,
		Closed:     replay.Closed(),
		SpanCount:  len(replay.Spans),
		EventCount: len(replay.Events),
	}
	if info.RunID == "" {
		info.RunID = fileRunID
	}
	if replay.Start != nil {
		info.StartedAt = replay.Start.Timestamp
	}
	if replay.End != nil {
		info.FinalStatus = string(replay.End.FinalStatus)
	}
	return info
}

// ValidateRunID rejects run ids that cannot be used as a trace file name.
func ValidateRunID(runID string) error {
	if runID == "" || strings.ContainsAny(runID, `/\`) || strings.HasPrefix(runID, ".") {
		return fmt.Errorf("invalid run id %q", runID)
	}
	return nil
}

// FindRun returns the record file of runID.
func FindRun(root, runID string) (string, error) {
	runID = strings.TrimSpace(runID)
	if err := ValidateRunID(runID); err != nil {
		return "", err
	}
	matches, err := filepath.Glob(filepath.Join(root, "*", runID+".jsonl"))
	if err != nil {
		return "", fmt.Errorf("find run %s: %w", runID, err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

// LatestRun returns the most recently started run under root.
func LatestRun(root string) (RunInfo, error) {
	runs, err := ListRuns(root)
	if err != nil {
		return RunInfo{}, err
	}
	if len(runs) == 0 {
		return RunInfo{}, ErrRunNotFound
	}
	return runs[len(runs)-1], nil
}

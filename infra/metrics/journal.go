package metrics

import (
	"bufio"
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	coremetrics "github.com/kilianp07/transactive/core/metrics"
	"github.com/kilianp07/transactive/core/model"
)

// Journal entry kinds.
const (
	KindClearing    = "clearing"
	KindConvergence = "convergence"
	KindSignal      = "signal"
	KindConsensus   = "consensus"
	KindState       = "state"
)

// JournalConfig configures the rotating journal file.
type JournalConfig struct {
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// Entry is one line of the journal.
type Entry struct {
	Kind   string          `json:"kind"`
	Market string          `json:"market"`
	Time   time.Time       `json:"time"`
	Data   json.RawMessage `json:"data"`
}

// JournalQuery filters entries. Zero fields match everything.
type JournalQuery struct {
	Market string
	Kind   string
	Start  time.Time
	End    time.Time
}

type passRecord struct {
	Iterations int      `json:"iterations"`
	DualityGap *float64 `json:"duality_gap,omitempty"`
	Converged  bool     `json:"converged"`
	Forced     bool     `json:"forced"`
	DurationMS float64  `json:"duration_ms"`
}

type signalRecord struct {
	Neighbor  string                    `json:"neighbor"`
	Interval  string                    `json:"interval_id"`
	Direction model.Direction           `json:"direction"`
	Records   []model.TransactiveRecord `json:"records"`
}

// JournalSink appends every market record to a JSONL file with automatic
// rotation. The journal is the node's durable history of clearings and
// exchanged signals.
type JournalSink struct {
	mu     sync.Mutex
	logger *lumberjack.Logger
	path   string
}

// NewJournalSink creates the journal directory and the rotating writer.
func NewJournalSink(cfg JournalConfig) (*JournalSink, error) {
	if cfg.Path == "" {
		cfg.Path = "journal/market.jsonl"
	}
	lj := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &JournalSink{logger: lj, path: cfg.Path}, nil
}

func (s *JournalSink) append(kind, market string, at time.Time, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.NewEncoder(s.logger).Encode(Entry{Kind: kind, Market: market, Time: at, Data: data})
}

// RecordClearing appends one entry per cleared row.
func (s *JournalSink) RecordClearing(rows []model.ClearedInterval) error {
	for _, r := range rows {
		if err := s.append(KindClearing, r.Market, r.Start, r); err != nil {
			return err
		}
	}
	return nil
}

// RecordConvergence appends the pass summary. An infinite gap is omitted.
func (s *JournalSink) RecordConvergence(ev coremetrics.ConvergenceEvent) error {
	rec := passRecord{
		Iterations: ev.Iterations, Converged: ev.Converged, Forced: ev.Forced,
		DurationMS: float64(ev.Duration.Microseconds()) / 1000,
	}
	if !math.IsInf(ev.DualityGap, 0) && !math.IsNaN(ev.DualityGap) {
		gap := ev.DualityGap
		rec.DualityGap = &gap
	}
	return s.append(KindConvergence, ev.Market, ev.Time, rec)
}

// RecordSignal appends the exchanged records.
func (s *JournalSink) RecordSignal(ev coremetrics.SignalEvent) error {
	rec := signalRecord{Neighbor: ev.Neighbor, Interval: ev.Interval, Direction: ev.Direction, Records: ev.Records}
	return s.append(KindSignal, ev.Market, ev.Time, rec)
}

// RecordConsensus appends the negotiation summary.
func (s *JournalSink) RecordConsensus(ev coremetrics.ConsensusEvent) error {
	return s.append(KindConsensus, ev.Market, ev.Time, ev)
}

// RecordState appends the transition.
func (s *JournalSink) RecordState(ev coremetrics.StateEvent) error {
	return s.append(KindState, ev.Market, ev.Time, ev)
}

// Query reads all journal files including rotated ones and returns the
// matching entries ordered by time.
func (s *JournalSink) Query(ctx context.Context, q JournalQuery) ([]Entry, error) {
	files, err := filepath.Glob(s.path + "*")
	if err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(filepath.Join(filepath.Dir(s.path), rotatedPattern(s.path)))
	if err != nil {
		return nil, err
	}
	files = append(files, matches...)
	seen := make(map[string]bool)
	var res []Entry
	for _, f := range files {
		if seen[f] {
			continue
		}
		seen[f] = true
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entries, err := readJournal(f, q)
		if err != nil {
			continue
		}
		res = append(res, entries...)
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].Time.Before(res[j].Time) })
	return res, nil
}

// rotatedPattern matches the backups lumberjack names <name>-<timestamp><ext>.
func rotatedPattern(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return base[:len(base)-len(ext)] + "-*" + ext
}

func readJournal(path string, q JournalQuery) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	var out []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		if q.Market != "" && e.Market != q.Market {
			continue
		}
		if q.Kind != "" && e.Kind != q.Kind {
			continue
		}
		if !q.Start.IsZero() && e.Time.Before(q.Start) {
			continue
		}
		if !q.End.IsZero() && e.Time.After(q.End) {
			continue
		}
		out = append(out, e)
	}
	return out, scanner.Err()
}

// Close closes the underlying writer.
func (s *JournalSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logger.Close()
}

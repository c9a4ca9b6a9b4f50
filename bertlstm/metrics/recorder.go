package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Scope tells whether a point is a single step or an epoch aggregate.
type Scope string

const (
	ScopeStep  Scope = "step"
	ScopeEpoch Scope = "epoch"
)

// Point is one recorded metric value.
type Point struct {
	RunID string
	Name  string
	Scope Scope
	Epoch int
	Step  int
	Value float64
	At    time.Time
}

// Sink receives recorded points.
type Sink interface {
	Record(ctx context.Context, p Point) error
}

type mean struct {
	sum, weight float64
}

// Recorder fans points out to sinks and keeps weighted running means that
// are reduced into epoch aggregates by EndEpoch.
type Recorder struct {
	runID string
	sinks []Sink

	mu    sync.Mutex
	means map[string]*mean
	order []string
}

// NewRecorder records under runID to every sink.
func NewRecorder(runID string, sinks ...Sink) *Recorder {
	return &Recorder{runID: runID, sinks: sinks, means: map[string]*mean{}}
}

// RunID returns the run identifier stamped on every point.
func (r *Recorder) RunID() string { return r.runID }

// Step records a step-level value without touching the epoch aggregates.
func (r *Recorder) Step(ctx context.Context, name string, epoch, step int, value float64) error {
	return r.emit(ctx, Point{RunID: r.runID, Name: name, Scope: ScopeStep, Epoch: epoch, Step: step, Value: value})
}

// Observe adds value with the given weight (usually the batch size) to the
// running epoch mean for name.
func (r *Recorder) Observe(name string, value, weight float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.means[name]
	if !ok {
		m = &mean{}
		r.means[name] = m
		r.order = append(r.order, name)
	}
	m.sum += value * weight
	m.weight += weight
}

// EndEpoch emits the weighted mean of everything observed since the last
// call, resets the aggregates and returns the means by name.
func (r *Recorder) EndEpoch(ctx context.Context, epoch, step int) (map[string]float64, error) {
	r.mu.Lock()
	out := make(map[string]float64, len(r.means))
	order := r.order
	for _, name := range order {
		m := r.means[name]
		if m.weight > 0 {
			out[name] = m.sum / m.weight
		}
	}
	r.means = map[string]*mean{}
	r.order = nil
	r.mu.Unlock()

	for _, name := range order {
		v, ok := out[name]
		if !ok {
			continue
		}
		if err := r.emit(ctx, Point{RunID: r.runID, Name: name, Scope: ScopeEpoch, Epoch: epoch, Step: step, Value: v}); err != nil {
			return out, err
		}
	}
	return out, nil
}

func (r *Recorder) emit(ctx context.Context, p Point) error {
	p.At = time.Now().UTC()
	for _, s := range r.sinks {
		if err := s.Record(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// LogSink writes points as structured log events.
type LogSink struct {
	logger zerolog.Logger
	level  zerolog.Level
}

// NewLogSink logs every point at level.
func NewLogSink(logger zerolog.Logger, level zerolog.Level) *LogSink {
	return &LogSink{logger: logger, level: level}
}

func (s *LogSink) Record(_ context.Context, p Point) error {
	s.logger.WithLevel(s.level).
		Str("run_id", p.RunID).
		Str("metric", p.Name).
		Str("scope", string(p.Scope)).
		Int("epoch", p.Epoch).
		Int("step", p.Step).
		Float64("value", p.Value).
		Msg("metric")
	return nil
}

// MemorySink keeps points in memory, for inspection and tests.
type MemorySink struct {
	mu     sync.Mutex
	points []Point
}

func (s *MemorySink) Record(_ context.Context, p Point) error {
	s.mu.Lock()
	s.points = append(s.points, p)
	s.mu.Unlock()
	return nil
}

// Points returns the points recorded so far, optionally filtered by name
// and scope. Empty filters match everything.
func (s *MemorySink) Points(name string, scope Scope) []Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Point
	for _, p := range s.points {
		if (name == "" || p.Name == name) && (scope == "" || p.Scope == scope) {
			out = append(out, p)
		}
	}
	return out
}

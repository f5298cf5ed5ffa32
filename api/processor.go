package api

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotblauer/trackd/geo/parse"
	"github.com/rotblauer/trackd/geo/simplifier"
	"github.com/rotblauer/trackd/geo/telemetry"
	"github.com/rotblauer/trackd/geo/validate"
	"github.com/rotblauer/trackd/params"
	"github.com/rotblauer/trackd/trackerr"
	"github.com/rotblauer/trackd/types/trackfile"
	"github.com/rotblauer/trackd/types/trackpoint"
)

// Result is everything processing derives from an upload.
type Result struct {
	Telemetry trackfile.Telemetry
	Points    []trackpoint.TrackPoint
	Warnings  []string
}

// Processor runs parse, validate, compute and simplify over raw bytes.
// It holds no state between runs and is safe for concurrent use.
type Processor struct {
	validator  *validate.Validator
	calculator *telemetry.Calculator
	simplifier *simplifier.Simplifier
}

func NewProcessor(config *params.ProcessingConfig) *Processor {
	if config == nil {
		config = params.DefaultProcessingConfig()
	}
	return &Processor{
		validator:  validate.New(&config.ValidationConfig),
		calculator: telemetry.New(&config.TelemetryConfig),
		simplifier: simplifier.New(&config.SimplificationConfig),
	}
}

// Process runs the pipeline until it finishes or ctx is done.
// A ctx deadline yields a ProcessingTimeoutError naming the stage that was
// running; other failures are wrapped in a StageError.
//
// Process returns as soon as ctx is done. The pipeline goroutine only
// notices between stages, so an abandoned run may finish its current stage,
// at worst a whole Douglas-Peucker pass, before it stops.
func (p *Processor) Process(ctx context.Context, raw []byte) (*Result, error) {
	start := time.Now()
	var stage atomic.Value
	stage.Store(trackerr.StageParse)

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := p.run(ctx, raw, func(s trackerr.Stage) { stage.Store(s) })
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		if o.err == nil || ctx.Err() == nil {
			return o.res, o.err
		}
	case <-ctx.Done():
	}
	s := stage.Load().(trackerr.Stage)
	if ctx.Err() == context.DeadlineExceeded {
		return nil, trackerr.AtStage(s, &trackerr.ProcessingTimeoutError{Stage: s, After: time.Since(start).Round(time.Millisecond)})
	}
	return nil, trackerr.AtStage(s, ctx.Err())
}

// Check parses and validates raw without computing telemetry, returning the
// validation warnings. Both steps are linear in the input size.
func (p *Processor) Check(raw []byte) ([]string, error) {
	_, warnings, err := p.decode(raw, func(trackerr.Stage) {})
	return warnings, err
}

func (p *Processor) decode(raw []byte, enter func(trackerr.Stage)) (*trackpoint.Track, []string, error) {
	track, err := parse.GPX(raw)
	if err != nil {
		return nil, nil, trackerr.AtStage(trackerr.StageParse, err)
	}
	enter(trackerr.StageValidate)
	warnings, err := p.validator.Validate(track)
	if err != nil {
		return nil, nil, trackerr.AtStage(trackerr.StageValidate, err)
	}
	return track, warnings, nil
}

func (p *Processor) run(ctx context.Context, raw []byte, enter func(trackerr.Stage)) (*Result, error) {
	track, warnings, err := p.decode(raw, enter)
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	enter(trackerr.StageCompute)
	tel, cum := p.calculator.Summarize(track)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	enter(trackerr.StageSimplify)
	keep, err := p.simplifier.IndexesContext(ctx, track.LineString())
	if err != nil {
		return nil, err
	}
	pts := telemetry.Points(track, cum, keep)
	tel.SimplifiedCount = len(pts)

	return &Result{Telemetry: tel, Points: pts, Warnings: warnings}, nil
}

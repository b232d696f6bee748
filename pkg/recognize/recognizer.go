package recognize

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultMinUsableDetections is the number of usable detections below which
// an auto request escalates to paired-only passes.
const DefaultMinUsableDetections = 4

// Options configures a Recognizer.
type Options struct {
	// MinUsableDetections triggers escalation in auto mode. Zero selects
	// DefaultMinUsableDetections.
	MinUsableDetections int
	// MinConfidence drops low-confidence detections.
	MinConfidence float64
	// MergeNearby joins close boxes on the same row before ordering.
	MergeNearby bool
	// MergeThreshold is the pixel distance for MergeNearby.
	MergeThreshold float64
	// Logger is the logger instance to use. If nil, a default logger is created.
	Logger *logrus.Logger
}

// Recognizer plans passes for a request, runs them through cached engines
// and selects the winner.
type Recognizer struct {
	cache          *EngineCache
	selector       Selector
	minUsable      int
	mergeNearby    bool
	mergeThreshold float64
	logger         *logrus.Logger
}

// NewRecognizer creates a Recognizer backed by cache.
func NewRecognizer(cache *EngineCache, opts Options) *Recognizer {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.MinUsableDetections <= 0 {
		opts.MinUsableDetections = DefaultMinUsableDetections
	}
	if opts.MergeThreshold <= 0 {
		opts.MergeThreshold = DefaultMergeThreshold
	}

	return &Recognizer{
		cache:          cache,
		selector:       Selector{MinConfidence: opts.MinConfidence},
		minUsable:      opts.MinUsableDetections,
		mergeNearby:    opts.MergeNearby,
		mergeThreshold: opts.MergeThreshold,
		logger:         opts.Logger,
	}
}

// RunPass runs one pass over image. Failures are carried in the result.
func (r *Recognizer) RunPass(ctx context.Context, image []byte, pass Pass) PassResult {
	startTime := time.Now()

	res := PassResult{Pass: pass}
	engine, err := r.cache.Get(ctx, pass)
	if err == nil {
		res.Detections, err = engine.Recognize(ctx, image)
	}
	res.Err = err

	usable := len(r.selector.Usable(res.Detections))
	recordPass(pass, time.Since(startTime), usable, err)

	fields := logrus.Fields{
		"pass":        pass.Key(),
		"detections":  len(res.Detections),
		"usable":      usable,
		"duration_ms": time.Since(startTime).Milliseconds(),
	}
	if err != nil {
		r.logger.WithError(err).WithFields(fields).Warn("Recognition pass failed")
	} else {
		r.logger.WithFields(fields).Debug("Recognition pass completed")
	}

	return res
}

// Recognize finds text in image. requested is a language code, an alias or
// "auto". In auto mode the paired-only passes run, in order, only while no
// pass has reached the usable-detections threshold. The returned detections
// are filtered, optionally merged, and in reading order.
//
// Errors are limited to unsupported languages and cancellation; failed passes
// count as passes with no detections.
func (r *Recognizer) Recognize(ctx context.Context, image []byte, requested string) (Result, error) {
	passes, err := Plan(requested)
	if err != nil {
		return Result{}, err
	}

	results := make([]PassResult, 0, len(passes))
	for i, pass := range passes {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		if i > 0 {
			if r.sufficient(results) {
				break
			}
			if i == 1 {
				escalations.Inc()
				r.logger.WithFields(logrus.Fields{
					"usable":    len(r.selector.Usable(results[0].Detections)),
					"threshold": r.minUsable,
				}).Info("Too few detections, trying paired-only passes")
			}
		}

		results = append(results, r.RunPass(ctx, image, pass))
	}

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	result := r.selector.Select(results)

	detections := result.Detections
	if r.mergeNearby {
		detections = MergeNearby(detections, r.mergeThreshold)
	}
	result.Detections = SortReadingOrder(detections)

	r.logger.WithFields(logrus.Fields{
		"requested":  requested,
		"language":   result.Language,
		"pass":       result.Pass,
		"passes_run": result.PassesRun,
		"detections": len(result.Detections),
	}).Info("Recognition finished")

	return result, nil
}

func (r *Recognizer) sufficient(results []PassResult) bool {
	for _, res := range results {
		if res.Err == nil && len(r.selector.Usable(res.Detections)) >= r.minUsable {
			return true
		}
	}
	return false
}

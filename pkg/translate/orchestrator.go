package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/dasmlab/fukidashi/pkg/langdetect"
)

// AutoLanguage asks the orchestrator to infer the source language.
const AutoLanguage = "auto"

// ErrNoProvider is returned when Translate is called without a provider.
var ErrNoProvider = errors.New("no translation provider")

// Options configures an Orchestrator.
type Options struct {
	// MaxConcurrency is the number of chunks in flight at once. Values below
	// one mean one: chunks go out sequentially.
	MaxConcurrency int
	// Fallback translates single fragments of a chunk that failed. When nil
	// the primary provider's single-text path is used instead.
	Fallback Translator
	// Pacer, when set, is waited on before every chunk request.
	Pacer *rate.Limiter
	// Logger is the logger instance to use. If nil, a default logger is created.
	Logger *logrus.Logger
}

// Orchestrator drives chunk planning, provider calls and per-fragment
// fallback. It holds no per-request state and is safe for concurrent use.
type Orchestrator struct {
	maxConcurrency int
	fallback       Translator
	pacer          *rate.Limiter
	mapper         *LanguageMapper
	logger         *logrus.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = 1
	}

	return &Orchestrator{
		maxConcurrency: opts.MaxConcurrency,
		fallback:       opts.Fallback,
		pacer:          opts.Pacer,
		mapper:         NewLanguageMapper(),
		logger:         opts.Logger,
	}
}

// request is the state of one Translate call.
type request struct {
	provider Translator
	bulk     BulkTranslator
	source   string
	target   string
	out      []Fragment
	metrics  *MetricsCollector
}

// Translate returns one fragment per input fragment, in input order, each
// with its Status set. Provider failures never fail the call: the affected
// fragments keep their original text. The only errors returned are
// configuration errors (before any I/O) and ctx.Err() when the caller gave up,
// in which case the returned fragments are still complete and unattempted
// ones are marked StatusFailed.
func (o *Orchestrator) Translate(ctx context.Context, provider Translator, fragments []Fragment, sourceLang, targetLang string) ([]Fragment, error) {
	if provider == nil {
		return nil, ErrNoProvider
	}

	out := make([]Fragment, len(fragments))
	for i, f := range fragments {
		f.ID = i
		f.TranslatedText = ""
		f.Status = StatusPending
		out[i] = f
	}

	if sourceLang == "" || strings.EqualFold(sourceLang, AutoLanguage) {
		sourceLang = langdetect.ClassifyBatch(Texts(out))

		o.logger.WithFields(logrus.Fields{
			"detected_lang": sourceLang,
			"fragments":     len(out),
		}).Debug("Resolved source language from fragment scripts")
	}

	req := &request{
		provider: provider,
		source:   o.mapper.ToBackendCode(sourceLang),
		target:   o.mapper.ToBackendCode(targetLang),
		out:      out,
		metrics:  NewMetricsCollector(provider.Name()),
	}

	size := 1
	if bulk, ok := provider.(BulkTranslator); ok {
		req.bulk = bulk
		size = bulk.BatchSize()
	}

	pending := make([]Fragment, 0, len(out))
	for i := range out {
		if out[i].DetectedLanguage == "" {
			out[i].DetectedLanguage = sourceLang
		}
		if strings.TrimSpace(out[i].OriginalText) == "" {
			out[i].TranslatedText = out[i].OriginalText
			out[i].Status = StatusTranslated
			continue
		}
		pending = append(pending, out[i])
	}

	chunks, err := Plan(pending, size)
	if err != nil {
		return nil, err
	}

	o.logger.WithFields(logrus.Fields{
		"provider":    provider.Name(),
		"source_lang": req.source,
		"target_lang": req.target,
		"fragments":   len(out),
		"chunks":      len(chunks),
		"chunk_size":  size,
	}).Info("Translating fragments")

	startTime := time.Now()

	var g errgroup.Group
	g.SetLimit(o.maxConcurrency)

	for _, chunk := range chunks {
		chunk := chunk
		g.Go(func() error {
			o.translateChunk(ctx, req, chunk)
			return nil
		})
	}
	_ = g.Wait()

	canceled := ctx.Err()
	for i := range out {
		if out[i].Status == StatusPending {
			out[i].TranslatedText = out[i].OriginalText
			out[i].Status = StatusFailed
		}
	}

	req.metrics.RecordFragments(out)

	o.logger.WithFields(logrus.Fields{
		"provider":    provider.Name(),
		"fragments":   len(out),
		"translated":  countStatus(out, StatusTranslated),
		"fallback":    countStatus(out, StatusFallbackOriginal),
		"failed":      countStatus(out, StatusFailed),
		"duration_ms": time.Since(startTime).Milliseconds(),
	}).Info("Translation finished")

	return out, canceled
}

// pace blocks until the pacer grants a token or ctx ends. Unlike
// rate.Limiter.Wait it does not fail up front when the delay outlasts the
// deadline.
func (o *Orchestrator) pace(ctx context.Context) error {
	r := o.pacer.Reserve()
	if !r.OK() {
		o.logger.Warn("Pacer burst is zero, sending chunk unpaced")
		return nil
	}

	if err := sleepContext(ctx, r.Delay()); err != nil {
		r.Cancel()
		return err
	}
	return nil
}

// translateChunk writes results only to the fragment slots the chunk owns,
// so concurrent chunks never touch the same element.
func (o *Orchestrator) translateChunk(ctx context.Context, req *request, chunk Chunk) {
	if ctx.Err() != nil {
		return
	}

	if o.pacer != nil {
		if err := o.pace(ctx); err != nil {
			return
		}
	}

	if req.bulk != nil {
		translations, err := req.bulk.TranslateBatch(ctx, chunk.Texts, req.source, req.target)
		if err == nil && len(translations) != chunk.Len() {
			err = fmt.Errorf("%w: got %d translations for %d texts", ErrContractViolation, len(translations), chunk.Len())
		}
		if err == nil {
			for i, id := range chunk.FragmentIDs {
				req.out[id].TranslatedText = translations[i]
				req.out[id].Status = StatusTranslated
			}
			req.metrics.RecordChunk("translated")
			return
		}

		if ctx.Err() != nil {
			return
		}

		o.logger.WithError(err).WithFields(logrus.Fields{
			"provider":  req.provider.Name(),
			"fragments": chunk.Len(),
			"first_id":  chunk.FragmentIDs[0],
		}).Warn("Chunk translation failed, falling back to per-fragment translation")
		req.metrics.RecordChunk("degraded")

		for i, id := range chunk.FragmentIDs {
			o.translateFallback(ctx, req, id, chunk.Texts[i])
		}
		return
	}

	for i, id := range chunk.FragmentIDs {
		text := chunk.Texts[i]

		translated, err := req.provider.Translate(ctx, text, req.source, req.target)
		if err == nil {
			req.out[id].TranslatedText = translated
			req.out[id].Status = StatusTranslated
			continue
		}

		if ctx.Err() != nil {
			return
		}

		o.logger.WithError(err).WithFields(logrus.Fields{
			"provider":    req.provider.Name(),
			"fragment_id": id,
		}).Warn("Fragment translation failed")

		if o.fallback != nil && o.fallback != req.provider {
			o.translateFallback(ctx, req, id, text)
			continue
		}
		o.keepOriginal(req, id)
	}
}

// translateFallback makes one more attempt at a single fragment, with the
// fallback provider when there is one.
func (o *Orchestrator) translateFallback(ctx context.Context, req *request, id int, text string) {
	if ctx.Err() != nil {
		return
	}

	translator := req.provider
	if o.fallback != nil {
		translator = o.fallback
	}

	translated, err := translator.Translate(ctx, text, req.source, req.target)
	if err == nil {
		req.out[id].TranslatedText = translated
		req.out[id].Status = StatusTranslated
		return
	}

	if ctx.Err() != nil {
		return
	}

	o.logger.WithError(err).WithFields(logrus.Fields{
		"provider":    translator.Name(),
		"fragment_id": id,
	}).Warn("Fallback translation failed, keeping original text")
	o.keepOriginal(req, id)
}

func (o *Orchestrator) keepOriginal(req *request, id int) {
	req.out[id].TranslatedText = req.out[id].OriginalText
	req.out[id].Status = StatusFallbackOriginal
}

func countStatus(fragments []Fragment, status Status) int {
	n := 0
	for _, f := range fragments {
		if f.Status == status {
			n++
		}
	}
	return n
}

package logger

import (
	"context"
	"log/slog"
	"math/rand"
	"regexp"
	"sync"
)

// AsyncHandler buffers records and emits them from a single background
// goroutine, so callers never block on the sink. On overflow a record is
// dropped: the oldest buffered one or the incoming one, as chosen at
// construction.
type AsyncHandler struct {
	next    slog.Handler
	records chan slog.Record
	ctxs    chan context.Context
	dropOld bool
	once    sync.Once
}

// NewAsyncHandler wraps next with a bounded async buffer of the given size.
// dropOldest controls overflow behaviour: true drops the oldest queued
// record to make room, false drops the incoming record.
func NewAsyncHandler(next slog.Handler, size int, dropOldest bool) *AsyncHandler {
	h := &AsyncHandler{
		next:    next,
		records: make(chan slog.Record, size),
		ctxs:    make(chan context.Context, size),
		dropOld: dropOldest,
	}
	go h.run()
	return h
}

func (h *AsyncHandler) run() {
	for r := range h.records {
		ctx := <-h.ctxs
		_ = h.next.Handle(ctx, r)
	}
}

func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *AsyncHandler) Handle(ctx context.Context, r slog.Record) error {
	select {
	case h.records <- r:
		h.ctxs <- ctx
		return nil
	default:
	}

	if !h.dropOld {
		return nil
	}

	// Buffer full: drop the oldest queued entry to make room.
	select {
	case <-h.records:
		<-h.ctxs
	default:
	}
	select {
	case h.records <- r:
		h.ctxs <- ctx
	default:
	}
	return nil
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{next: h.next.WithAttrs(attrs), records: h.records, ctxs: h.ctxs, dropOld: h.dropOld}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{next: h.next.WithGroup(name), records: h.records, ctxs: h.ctxs, dropOld: h.dropOld}
}

// SamplingHandler drops a fraction of records before they reach the next
// handler. Errors and warnings are never sampled away.
type SamplingHandler struct {
	next slog.Handler
	rate float64
}

func NewSamplingHandler(next slog.Handler, rate float64) *SamplingHandler {
	return &SamplingHandler{next: next, rate: rate}
}

func (h *SamplingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *SamplingHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		return h.next.Handle(ctx, r)
	}
	if rand.Float64() > h.rate {
		return nil
	}
	return h.next.Handle(ctx, r)
}

func (h *SamplingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &SamplingHandler{next: h.next.WithAttrs(attrs), rate: h.rate}
}

func (h *SamplingHandler) WithGroup(name string) slog.Handler {
	return &SamplingHandler{next: h.next.WithGroup(name), rate: h.rate}
}

// RedactHandler masks attribute values that look like PII (emails, credit
// card-shaped digit runs) before they reach the next handler.
type RedactHandler struct {
	next slog.Handler
}

func NewRedactHandler(next slog.Handler) *RedactHandler {
	return &RedactHandler{next: next}
}

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	ccPattern    = regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`)
)

func redactString(s string) (string, bool) {
	redacted := false
	if emailPattern.MatchString(s) {
		s = emailPattern.ReplaceAllString(s, "[redacted-email]")
		redacted = true
	}
	if ccPattern.MatchString(s) {
		s = ccPattern.ReplaceAllString(s, "[redacted-number]")
		redacted = true
	}
	return s, redacted
}

func (h *RedactHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *RedactHandler) Handle(ctx context.Context, r slog.Record) error {
	nr := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		if a.Value.Kind() == slog.KindString {
			if redacted, changed := redactString(a.Value.String()); changed {
				a = slog.String(a.Key, redacted)
			}
		}
		nr.AddAttrs(a)
		return true
	})
	return h.next.Handle(ctx, nr)
}

func (h *RedactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &RedactHandler{next: h.next.WithAttrs(attrs)}
}

func (h *RedactHandler) WithGroup(name string) slog.Handler {
	return &RedactHandler{next: h.next.WithGroup(name)}
}

// Package report orchestrates the analyze and chat flows: it validates the
// upload, runs OCR, keeps the per-session report context and shapes model
// output for the client.
package report

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/semaphore"

	"MediScan/internal/cache"
	"MediScan/internal/llm"
	"MediScan/internal/ocr"
	"MediScan/internal/session"
)

// Upload is one uploaded report image.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

type AnalyzeResult struct {
	SessionID string
	// SummaryHTML has emphasis markers removed and newlines as <br>.
	SummaryHTML string
	ReportText  string
}

type ChatResult struct {
	SessionID string
	Reply     string
}

// Options tunes a Service. Zero values select the defaults.
type Options struct {
	Languages        []string
	OCRTimeout       time.Duration
	MaxConcurrentOCR int64
	// SummaryCache, when set, short-circuits identical summarization prompts.
	SummaryCache *cache.Cache
	Logger       *slog.Logger
	Tracer       trace.Tracer
	Now          func() time.Time
}

// Service is the request orchestrator shared by all HTTP handlers.
type Service struct {
	store     session.Store
	engine    ocr.Engine
	generator llm.Generator

	languages  []string
	ocrTimeout time.Duration
	ocrSlots   *semaphore.Weighted
	summaries  *cache.Cache
	locks      *keyedMutex

	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

func NewService(store session.Store, engine ocr.Engine, generator llm.Generator, opts Options) *Service {
	if opts.MaxConcurrentOCR <= 0 {
		opts.MaxConcurrentOCR = 1
	}
	if len(opts.Languages) == 0 {
		opts.Languages = []string{"eng"}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = tracenoop.NewTracerProvider().Tracer("report")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:      store,
		engine:     engine,
		generator:  generator,
		languages:  opts.Languages,
		ocrTimeout: opts.OCRTimeout,
		ocrSlots:   semaphore.NewWeighted(opts.MaxConcurrentOCR),
		summaries:  opts.SummaryCache,
		locks:      newKeyedMutex(),
		logger:     opts.Logger,
		tracer:     opts.Tracer,
		now:        opts.Now,
	}
}

// Analyze extracts the report text from up, summarizes it and makes it the
// context of the session. The session is created when sessionID is empty or
// unknown, and reset otherwise. Nothing is stored unless the summary succeeds.
func (s *Service) Analyze(ctx context.Context, sessionID string, up Upload) (AnalyzeResult, error) {
	ctx, span := s.tracer.Start(ctx, "report.analyze")
	defer span.End()
	span.SetAttributes(
		attribute.String("upload.filename", up.Filename),
		attribute.Int("upload.size", len(up.Data)),
	)

	s.logger.Info("received report", "session_id", sessionID, "filename", up.Filename, "content_type", up.ContentType, "size", len(up.Data))

	if !strings.HasPrefix(up.ContentType, "image/") {
		return AnalyzeResult{}, s.fail(span, newError(KindBadRequest, "validate upload", ErrNotImage), sessionID)
	}

	img, format, err := ocr.Decode(up.Data)
	if err != nil {
		return AnalyzeResult{}, s.fail(span, newError(KindDecode, "decode image", err), sessionID)
	}
	span.SetAttributes(attribute.String("image.format", format))

	text, err := s.recognize(ctx, img)
	if err != nil {
		return AnalyzeResult{}, s.fail(span, err, sessionID)
	}
	s.logger.Info("extracted text", "session_id", sessionID, "chars", len([]rune(text)))
	if strings.TrimSpace(text) == "" {
		return AnalyzeResult{}, s.fail(span, newError(KindBadRequest, "extract text", ErrNoText), sessionID)
	}
	reportText := Truncate(text, MaxReportChars)

	summary, err := s.summarize(ctx, reportText)
	if err != nil {
		return AnalyzeResult{}, s.fail(span, err, sessionID)
	}

	id, err := s.resetSession(ctx, sessionID, reportText)
	if err != nil {
		return AnalyzeResult{}, s.fail(span, err, sessionID)
	}
	span.SetAttributes(attribute.String("session.id", id))
	s.logger.Info("report analyzed", "session_id", id, "summary_chars", len(summary))

	return AnalyzeResult{
		SessionID:   id,
		SummaryHTML: ToHTML(summary),
		ReportText:  reportText,
	}, nil
}

// Chat answers message in the context of the session's report. A missing or
// unknown session starts an empty one. Both turns are committed only after
// the model replies, so a failed call leaves the transcript untouched.
func (s *Service) Chat(ctx context.Context, sessionID, message string) (ChatResult, error) {
	ctx, span := s.tracer.Start(ctx, "report.chat")
	defer span.End()

	sess, unlock, err := s.lockSession(ctx, sessionID)
	if err != nil {
		return ChatResult{}, s.fail(span, err, sessionID)
	}
	defer unlock()
	span.SetAttributes(attribute.String("session.id", sess.ID))

	userTurn := session.Message{Role: session.RoleUser, Content: message, Timestamp: s.now()}
	history := append(sess.Clone().Messages, userTurn)
	prompt := ChatPrompt(sess.ReportText, history, message)

	s.logger.Info("chat request", "session_id", sess.ID, "history", len(history))
	reply, err := s.generate(ctx, "generate reply", prompt)
	if err != nil {
		return ChatResult{}, s.fail(span, err, sess.ID)
	}
	reply = StripEmphasis(reply)

	sess.Append(userTurn, session.Message{Role: session.RoleAssistant, Content: reply, Timestamp: s.now()})
	if err := s.store.Save(ctx, sess); err != nil {
		return ChatResult{}, s.fail(span, newError(KindStore, "save session", err), sess.ID)
	}
	return ChatResult{SessionID: sess.ID, Reply: reply}, nil
}

// Session returns a snapshot of the session or session.ErrNotFound.
func (s *Service) Session(ctx context.Context, sessionID string) (*session.Session, error) {
	if !session.ValidID(sessionID) {
		return nil, session.ErrNotFound
	}
	sess, err := s.store.Get(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, newError(KindStore, "load session", err)
	}
	return sess, nil
}

// Reset forgets the session. Unknown IDs are not an error.
func (s *Service) Reset(ctx context.Context, sessionID string) error {
	if !session.ValidID(sessionID) {
		return nil
	}
	unlock := s.locks.Lock(sessionID)
	defer unlock()
	if err := s.store.Delete(ctx, sessionID); err != nil && !errors.Is(err, session.ErrNotFound) {
		return newError(KindStore, "delete session", err)
	}
	s.logger.Info("session reset", "session_id", sessionID)
	return nil
}

type recognition struct {
	fragments []ocr.Fragment
	err       error
}

func (s *Service) recognize(ctx context.Context, img image.Image) (string, error) {
	ctx, span := s.tracer.Start(ctx, "ocr.recognize", trace.WithAttributes(attribute.String("ocr.engine", s.engine.Name())))
	defer span.End()

	ocrCtx := ctx
	cancel := func() {}
	if s.ocrTimeout > 0 {
		ocrCtx, cancel = context.WithTimeout(ctx, s.ocrTimeout)
	}
	defer cancel()

	timedOut := func() bool {
		return errors.Is(ocrCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	}

	if err := s.ocrSlots.Acquire(ocrCtx, 1); err != nil {
		span.RecordError(err)
		if timedOut() {
			return "", newError(KindTimeout, "wait for ocr slot", fmt.Errorf("%w: no ocr slot within %s", ErrTimeout, s.ocrTimeout))
		}
		return "", newError(KindOCR, "wait for ocr slot", err)
	}

	s.logger.Info("running ocr", "engine", s.engine.Name(), "languages", s.languages)
	start := s.now()

	// The slot belongs to the recognition goroutine and is released only when
	// the engine returns, even if this request has already given up on it.
	done := make(chan recognition, 1)
	go func() {
		defer s.ocrSlots.Release(1)
		fragments, err := s.engine.Recognize(ocrCtx, img, ocr.Options{Languages: s.languages})
		done <- recognition{fragments: fragments, err: err}
	}()

	var res recognition
	select {
	case res = <-done:
	case <-ocrCtx.Done():
		res.err = ocrCtx.Err()
	}
	fragments, err := res.fragments, res.err
	if err != nil {
		if timedOut() {
			err = fmt.Errorf("%w: ocr exceeded %s", ErrTimeout, s.ocrTimeout)
			span.RecordError(err)
			return "", newError(KindTimeout, "recognize text", err)
		}
		span.RecordError(err)
		return "", newError(KindOCR, "recognize text", err)
	}
	span.SetAttributes(
		attribute.Int("ocr.fragments", len(fragments)),
		attribute.Float64("ocr.confidence", ocr.MeanConfidence(fragments)),
	)
	s.logger.Debug("ocr finished", "fragments", len(fragments), "duration", s.now().Sub(start))
	return ocr.Join(fragments), nil
}

func (s *Service) summarize(ctx context.Context, reportText string) (string, error) {
	prompt := SummaryPrompt(reportText)
	var key string
	if s.summaries != nil {
		key = cache.GenerateCacheKey(prompt)
		if cached, ok := s.summaries.Load(key); ok {
			s.logger.Info("summary cache hit")
			return cached, nil
		}
	}
	summary, err := s.generate(ctx, "generate summary", prompt)
	if err != nil {
		return "", err
	}
	if s.summaries != nil {
		s.summaries.Store(key, summary)
	}
	return summary, nil
}

func (s *Service) generate(ctx context.Context, op, prompt string) (string, error) {
	s.logger.Info("calling model", "op", op, "prompt_chars", len(prompt))
	start := s.now()
	text, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		if errors.Is(err, llm.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return "", newError(KindTimeout, op, err)
		}
		return "", newError(KindGenerate, op, err)
	}
	s.logger.Info("model replied", "op", op, "chars", len(text), "duration", s.now().Sub(start))
	return text, nil
}

// lockSession locks and loads the session, or creates a fresh one when the
// ID is empty, malformed or unknown. The caller must call unlock.
func (s *Service) lockSession(ctx context.Context, sessionID string) (*session.Session, func(), error) {
	if session.ValidID(sessionID) {
		unlock := s.locks.Lock(sessionID)
		sess, err := s.store.Get(ctx, sessionID)
		if err == nil {
			return sess, unlock, nil
		}
		unlock()
		if !errors.Is(err, session.ErrNotFound) {
			return nil, nil, newError(KindStore, "load session", err)
		}
	}
	sess := session.New(s.now())
	return sess, s.locks.Lock(sess.ID), nil
}

func (s *Service) resetSession(ctx context.Context, sessionID, reportText string) (string, error) {
	sess, unlock, err := s.lockSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	defer unlock()
	sess.Reset(reportText, s.now())
	if err := s.store.Save(ctx, sess); err != nil {
		return "", newError(KindStore, "save session", err)
	}
	return sess.ID, nil
}

func (s *Service) fail(span trace.Span, err error, sessionID string) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if IsBadRequest(err) {
		s.logger.Warn("rejected request", "session_id", sessionID, "error", err)
	} else {
		s.logger.Error("request failed", "session_id", sessionID, "kind", KindOf(err).String(), "error", err)
	}
	return err
}

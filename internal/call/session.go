// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package internal_call runs one admitted call end to end: it fans the
// socket out into concurrent activities (frame reader, recognizer feed,
// playout clock, transcript router, dialog loop, timeout monitor) and
// owns every per-call resource. The playout clock is the only writer on
// the socket; everyone else goes through the chunk queue.
package internal_call

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	internal_ami "github.com/rapidaai/sav-voicebot/internal/ami"
	internal_audio "github.com/rapidaai/sav-voicebot/internal/audio"
	internal_recorder "github.com/rapidaai/sav-voicebot/internal/audio/recorder"
	internal_audiosocket "github.com/rapidaai/sav-voicebot/internal/audiosocket"
	internal_cache "github.com/rapidaai/sav-voicebot/internal/cache"
	internal_callcontext "github.com/rapidaai/sav-voicebot/internal/callcontext"
	internal_config "github.com/rapidaai/sav-voicebot/internal/config"
	internal_dialog "github.com/rapidaai/sav-voicebot/internal/dialog"
	internal_intent "github.com/rapidaai/sav-voicebot/internal/intent"
	internal_observe "github.com/rapidaai/sav-voicebot/internal/observe"
	internal_transformer_deepgram "github.com/rapidaai/sav-voicebot/internal/transformer/deepgram"
	internal_transformer_groq "github.com/rapidaai/sav-voicebot/internal/transformer/groq"
	"github.com/rapidaai/sav-voicebot/pkg/commons"
)

// =============================================================================
// Collaborator interfaces
// =============================================================================

// Recognizer is the slice of the live STT session the call drives.
type Recognizer interface {
	Start(ctx context.Context, mode internal_transformer_deepgram.Mode) error
	SetMode(ctx context.Context, mode internal_transformer_deepgram.Mode) error
	Send(pcm []byte) error
	Finalize() error
	Stop()
	Transcripts() <-chan internal_transformer_deepgram.Transcript
	SpeechStarted() <-chan struct{}
}

// Synthesizer streams synthesized PCM chunks into out while running and
// returns the complete utterance for caching.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, out chan<- []byte) ([]byte, error)
}

// CallerResolver maps the AudioSocket call id to the caller's number.
type CallerResolver interface {
	CallerNumber(ctx context.Context, uniqueID string) string
}

// Deps bundles everything a session borrows from the process.
type Deps struct {
	Logger  commons.Logger
	Config  *internal_config.Config
	Prompts internal_dialog.Prompts

	Cache      *internal_cache.PhraseCache
	Recognizer Recognizer
	Speaker    Synthesizer
	LLM        internal_dialog.LanguageModel
	Clients    internal_callcontext.ClientStore
	Tickets    internal_callcontext.TicketStore

	// Resolver may be nil; the caller then stays unknown and the dialog
	// skips CRM personalization.
	Resolver CallerResolver
	// Metrics may be nil in tests.
	Metrics *internal_observe.Metrics

	Recorder internal_recorder.Recorder
}

// =============================================================================
// Session
// =============================================================================

const (
	// frameInterval is the playout cadence dictated by the transport.
	frameInterval = internal_audiosocket.FrameIntervalMs * time.Millisecond

	// inboundQueueDepth buffers caller audio between the socket reader and
	// the recognizer feed. ~1.3s; past that the recognizer is dead weight
	// and frames drop.
	inboundQueueDepth = 64

	// outputQueueDepth bounds enqueued-but-unplayed speech. 512 chunks is
	// a bit over ten seconds; a Say call producing more than that blocks
	// until the clock catches up, which is the intended back-pressure.
	outputQueueDepth = 512

	// goodbyeDrainLimit caps how long End waits for queued speech to play
	// out before hanging up anyway.
	goodbyeDrainLimit = 12 * time.Second
)

// Session owns one call. Create with New, run with Run; Run returns when
// the call is over and every per-call resource is released.
type Session struct {
	logger   commons.Logger
	cfg      *internal_config.Config
	conn     net.Conn
	callID   string
	cache    *internal_cache.PhraseCache
	stt      Recognizer
	speaker  Synthesizer
	tickets  internal_callcontext.TicketStore
	resolver CallerResolver
	metrics  *internal_observe.Metrics
	recorder internal_recorder.Recorder

	machine *internal_dialog.Machine

	clock       func() time.Time
	monitorTick time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	// playout queue; the clock goroutine is the sole consumer.
	outputCh chan []byte
	flushCh  chan struct{}
	queued   atomic.Int64
	speaking atomic.Int32

	speechMu     sync.Mutex
	speechCancel context.CancelFunc

	lastActivity atomic.Int64 // unix nanos of the last caller activity
	warned       atomic.Bool

	startedAt time.Time

	endOnce  sync.Once
	reasonMu sync.Mutex
	reason   string
}

// Option customizes a session, mainly for tests.
type Option func(*Session)

// WithClock substitutes the time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Session) { s.clock = clock }
}

// WithMonitorInterval substitutes the timeout monitor's polling period.
func WithMonitorInterval(d time.Duration) Option {
	return func(s *Session) { s.monitorTick = d }
}

// New assembles a session for one accepted connection. callID comes from
// the AudioSocket handshake.
func New(conn net.Conn, callID string, deps Deps, opts ...Option) *Session {
	s := &Session{
		logger:      deps.Logger,
		cfg:         deps.Config,
		conn:        conn,
		callID:      callID,
		cache:       deps.Cache,
		stt:         deps.Recognizer,
		speaker:     deps.Speaker,
		tickets:     deps.Tickets,
		resolver:    deps.Resolver,
		metrics:     deps.Metrics,
		recorder:    deps.Recorder,
		clock:       time.Now,
		monitorTick: time.Second,
		outputCh:    make(chan []byte, outputQueueDepth),
		flushCh:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.recorder == nil {
		s.recorder = noopRecorder{}
	}

	llm := deps.LLM
	if deps.Metrics != nil {
		llm = &measuredLLM{inner: llm, metrics: deps.Metrics, clock: s.clock}
	}
	s.machine = internal_dialog.NewMachine(
		deps.Logger, deps.Config, deps.Prompts, s, llm, deps.Clients, deps.Tickets,
		internal_dialog.WithClock(s.clock),
	)
	return s
}

// Reason returns why the call ended ("" while it is still running).
func (s *Session) Reason() string {
	s.reasonMu.Lock()
	defer s.reasonMu.Unlock()
	return s.reason
}

// =============================================================================
// Lifecycle
// =============================================================================

// Run drives the call to completion. It blocks until the caller hangs
// up, the dialog ends the call or the parent context is cancelled, then
// tears everything down (ticket, metrics, recording, socket).
func (s *Session) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	s.ctx, s.cancel = ctx, cancel
	defer cancel()

	s.startedAt = s.clock()
	s.touch()

	caller := internal_ami.UnknownCaller
	if s.resolver != nil {
		caller = s.resolver.CallerNumber(ctx, s.callID)
	}
	s.logger.Infow("call started", "call", s.callID, "caller", caller)

	if err := s.stt.Start(ctx, internal_transformer_deepgram.ModeOpen); err != nil {
		// the call continues; the caller can still hear the bot
		s.logger.Warnw("speech recognition unavailable for this call",
			"call", s.callID, "error", err.Error())
		s.recordError(ctx, "stt")
	}

	// a blocked Read only notices cancellation through the deadline
	go func() {
		<-ctx.Done()
		_ = s.conn.SetReadDeadline(time.Now())
	}()

	inbound := make(chan []byte, inboundQueueDepth)
	finals := make(chan string, 8)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.runFrameReader(gctx, inbound) })
	g.Go(func() error { return s.runRecognizerFeed(gctx, inbound) })
	g.Go(func() error { return s.runPlayout(gctx) })
	g.Go(func() error { return s.runTranscriptRouter(gctx, finals) })
	g.Go(func() error { return s.runDialog(gctx, caller, finals) })
	g.Go(func() error { return s.runTimeoutMonitor(gctx) })

	err := g.Wait()
	s.teardown()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// End finishes the call for the given reason. Queued speech is allowed
// to play out (bounded) before the hangup frame goes out and the
// activities stop. The first reason wins; later calls are no-ops.
func (s *Session) End(reason string) {
	s.endOnce.Do(func() {
		s.reasonMu.Lock()
		s.reason = reason
		s.reasonMu.Unlock()
		s.logger.Infow("call ending", "call", s.callID, "reason", reason)

		go func() {
			deadline := time.NewTimer(goodbyeDrainLimit)
			defer deadline.Stop()
			tick := time.NewTicker(frameInterval)
			defer tick.Stop()
			for s.IsSpeaking() {
				select {
				case <-s.ctx.Done():
					return
				case <-deadline.C:
					s.logger.Warnw("goodbye drain timed out", "call", s.callID)
					s.cancel()
					return
				case <-tick.C:
				}
			}
			_ = internal_audiosocket.WriteHangup(s.conn)
			s.cancel()
		}()
	})
}

// teardown persists the ticket and releases per-call resources. Runs
// after every activity has stopped.
func (s *Session) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	s.stt.Stop()

	ticket := s.machine.BuildTicket(ctx)
	if err := s.tickets.Create(ctx, ticket); err != nil {
		s.logger.Errorw("ticket insert failed",
			"call", s.callID, "status", ticket.Status, "error", err.Error())
		s.recordError(ctx, "tickets")
	} else if s.metrics != nil {
		s.metrics.RecordTicket(ctx, ticket.Severity, ticket.Tag)
	}

	problemType := ticket.ProblemType
	if problemType == "" {
		problemType = "unknown"
	}
	if s.metrics != nil {
		s.metrics.RecordCall(ctx, ticket.Status, problemType)
	}

	if path, err := s.recorder.Close(); err != nil {
		s.logger.Warnw("recording close failed", "call", s.callID, "error", err.Error())
	} else if path != "" {
		s.logger.Infow("recording saved", "call", s.callID, "path", path)
	}

	_ = s.conn.Close()

	s.logger.Infow("call finished",
		"call", s.callID,
		"reason", s.Reason(),
		"status", ticket.Status,
		"duration_s", ticket.DurationSeconds,
	)
}

// touch marks caller activity now and re-arms the silence warning.
func (s *Session) touch() {
	s.lastActivity.Store(s.clock().UnixNano())
	s.warned.Store(false)
}

// IsSpeaking reports whether bot speech is in flight or queued.
func (s *Session) IsSpeaking() bool {
	return s.speaking.Load() > 0 || s.queued.Load() > 0
}

// =============================================================================
// Activities
// =============================================================================

// runFrameReader decodes inbound frames: audio fans out to the recorder
// and the recognizer feed, hangup ends the call, unknown kinds drop.
func (s *Session) runFrameReader(ctx context.Context, inbound chan<- []byte) error {
	var dropped int
	for {
		frame, err := internal_audiosocket.ReadFrame(s.conn)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, internal_audiosocket.ErrConnectionClosed) {
				s.End("caller_hangup")
				return nil
			}
			s.logger.Warnw("frame read failed", "call", s.callID, "error", err.Error())
			s.End("read_error")
			return nil
		}

		switch frame.Kind {
		case internal_audiosocket.KindAudio:
			s.recorder.Record(frame.Payload)
			select {
			case inbound <- frame.Payload:
			default:
				dropped++
				if dropped%250 == 1 {
					s.logger.Warnw("recognizer feed saturated, dropping audio",
						"call", s.callID, "dropped", dropped)
				}
			}
		case internal_audiosocket.KindHangup:
			s.End("caller_hangup")
			return nil
		case internal_audiosocket.KindError:
			s.logger.Warnw("pbx error frame", "call", s.callID, "bytes", len(frame.Payload))
		case internal_audiosocket.KindID, internal_audiosocket.KindSilence:
			// handshake replay / keepalive
		default:
		}
	}
}

// runRecognizerFeed forwards caller PCM to the live STT session.
func (s *Session) runRecognizerFeed(ctx context.Context, inbound <-chan []byte) error {
	var failures int
	for {
		select {
		case <-ctx.Done():
			return nil
		case pcm := <-inbound:
			if err := s.stt.Send(pcm); err != nil {
				failures++
				if failures%100 == 1 {
					s.logger.Warnw("recognizer send failed",
						"call", s.callID, "failures", failures, "error", err.Error())
					s.recordError(ctx, "stt")
				}
			}
		}
	}
}

// runPlayout is the 20ms clock and the only socket writer. It pulls
// queued chunks one per tick and fills gaps with silence so the PBX
// always hears a continuous stream. A flush signal drops everything
// queued, which is how barge-in cuts the bot off mid-sentence.
func (s *Session) runPlayout(ctx context.Context) error {
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	var pendingAudio [][]byte
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-s.flushCh:
			s.queued.Add(-int64(len(pendingAudio)))
			pendingAudio = pendingAudio[:0]
			s.drainOutput()

		case <-ticker.C:
			if len(pendingAudio) == 0 {
			pull:
				for {
					select {
					case chunk := <-s.outputCh:
						pendingAudio = append(pendingAudio, chunk)
					default:
						break pull
					}
				}
			}

			chunk := internal_audio.SilenceChunk
			if len(pendingAudio) > 0 {
				chunk = pendingAudio[0]
				pendingAudio = pendingAudio[1:]
				s.queued.Add(-1)
			}
			if err := internal_audiosocket.WriteAudioFrame(s.conn, chunk); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Warnw("frame write failed", "call", s.callID, "error", err.Error())
				s.End("write_error")
				return nil
			}
		}
	}
}

// runTranscriptRouter reacts to recognizer events as they arrive: every
// event re-arms the silence timers, any speech over bot speech triggers
// barge-in, and final transcripts queue for the dialog loop. Keeping
// this off the dialog goroutine is what makes barge-in immediate even
// while a transition is still enqueuing speech.
func (s *Session) runTranscriptRouter(ctx context.Context, finals chan<- string) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-s.stt.SpeechStarted():
			s.touch()

		case tr := <-s.stt.Transcripts():
			s.touch()
			if strings.TrimSpace(tr.Text) != "" && s.IsSpeaking() {
				s.bargeIn()
			}
			if !tr.Final {
				continue
			}
			select {
			case finals <- tr.Text:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// runDialog opens the conversation and then feeds it one final
// transcript at a time. Only this goroutine touches the machine.
func (s *Session) runDialog(ctx context.Context, caller string, finals <-chan string) error {
	s.machine.Begin(ctx, s.callID, caller)

	for {
		select {
		case <-ctx.Done():
			return nil
		case text := <-finals:
			s.machine.HandleTranscript(ctx, text)
		}
	}
}

// runTimeoutMonitor enforces the silence and duration limits. Checks are
// suspended while the bot is speaking and during INIT and GOODBYE, so a
// long welcome or farewell never trips the silence warning.
func (s *Session) runTimeoutMonitor(ctx context.Context) error {
	warnAfter := time.Duration(s.cfg.SilenceWarningTimeout) * time.Second
	hangupAfter := time.Duration(s.cfg.SilenceHangupTimeout) * time.Second
	maxDuration := time.Duration(s.cfg.MaxCallDuration) * time.Second

	ticker := time.NewTicker(s.monitorTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			now := s.clock()

			if now.Sub(s.startedAt) >= maxDuration {
				s.logger.Warnw("max call duration reached", "call", s.callID)
				_ = s.SayStatic(ctx, internal_config.PhraseGoodbye)
				s.End("max_duration")
				return nil
			}

			state := s.machine.State()
			if s.IsSpeaking() || state == internal_dialog.StateInit || state == internal_dialog.StateGoodbye {
				continue
			}

			idle := now.Sub(time.Unix(0, s.lastActivity.Load()))
			switch {
			case idle >= hangupAfter:
				s.logger.Infow("silence hangup", "call", s.callID, "idle", idle.String())
				_ = s.SayStatic(ctx, internal_config.PhraseGoodbye)
				s.End("silence_timeout")
				return nil

			case idle >= warnAfter && !s.warned.Load():
				s.warned.Store(true)
				s.logger.Infow("silence warning", "call", s.callID, "idle", idle.String())
				_ = s.SayStatic(ctx, internal_config.PhraseStillThere)
				s.touch()
				s.warned.Store(true) // touch re-armed it; one warning per silence

			}
		}
	}
}

// =============================================================================
// Metrics plumbing
// =============================================================================

func (s *Session) recordError(ctx context.Context, component string) {
	if s.metrics != nil {
		s.metrics.RecordError(ctx, component)
	}
}

func (s *Session) recordCacheLookup(ctx context.Context, kind string, hit bool) {
	if s.metrics != nil {
		s.metrics.RecordCacheLookup(ctx, kind, hit)
	}
}

func (s *Session) recordProvider(ctx context.Context, provider, kind string, d time.Duration, err error) {
	if s.metrics != nil {
		s.metrics.RecordProvider(ctx, provider, kind, d, err)
	}
}

// measuredLLM decorates the language model with provider metrics.
type measuredLLM struct {
	inner   internal_dialog.LanguageModel
	metrics *internal_observe.Metrics
	clock   func() time.Time
}

func (l *measuredLLM) Complete(ctx context.Context, system string, history []internal_transformer_groq.Message, userText string) (string, error) {
	start := l.clock()
	out, err := l.inner.Complete(ctx, system, history, userText)
	l.metrics.RecordProvider(ctx, "groq", "chat", l.clock().Sub(start), err)
	return out, err
}

func (l *measuredLLM) Classify(ctx context.Context, template, userText string) (internal_intent.Intent, error) {
	start := l.clock()
	it, err := l.inner.Classify(ctx, template, userText)
	l.metrics.RecordProvider(ctx, "groq", "intent", l.clock().Sub(start), err)
	return it, err
}

// noopRecorder stands in when recording is disabled.
type noopRecorder struct{}

func (noopRecorder) Record([]byte)          {}
func (noopRecorder) Close() (string, error) { return "", nil }

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vango-go/vai-live/pkg/live/agents"
	"github.com/vango-go/vai-live/pkg/live/audio"
	"github.com/vango-go/vai-live/pkg/live/clock"
	"github.com/vango-go/vai-live/pkg/live/frames"
	"github.com/vango-go/vai-live/pkg/live/location"
	"github.com/vango-go/vai-live/pkg/live/metrics"
	"github.com/vango-go/vai-live/pkg/live/outbox"
	"github.com/vango-go/vai-live/pkg/live/persona"
	"github.com/vango-go/vai-live/pkg/live/protocol"
	"github.com/vango-go/vai-live/pkg/live/tools"
)

const eventQueueSize = 256

// Session outcomes, as recorded in metrics.
const (
	outcomeStopped      = "stopped"
	outcomeRemoteClosed = "remote_closed"
	outcomeLinkFailure  = "link_failure"
	outcomeMicDenied    = "mic_denied"
)

type Config struct {
	Model              string
	Persona            string
	Gain               float64
	Muted              bool
	LocationTimeout    time.Duration
	FramePeriod        time.Duration
	AudioQueue         int
	ImageQueue         int
	CaptureSampleRate  int
	PlaybackSampleRate int
	MaxLogLines        int
	MaxTranscripts     int
	DiagnosticsDelay   time.Duration
	DiagnosticsLinger  time.Duration
}

type Dependencies struct {
	Dialer     Dialer
	Microphone audio.Microphone
	Speaker    audio.Speaker
	// Screen may be nil; screen capture requests are then rejected.
	Screen   frames.ScreenSource
	Location location.Provider
	Encoder  frames.Encoder
	Clock    clock.Clock
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	// Knowledge is appended to every session's system instruction.
	Knowledge string
	Now       func() time.Time
	NewID     func() string
	// OnUpdate, if set, receives every published snapshot on the loop
	// goroutine. It must not block.
	OnUpdate func(Snapshot)
	Config   Config
}

// Orchestrator owns the application state and the (at most one) live
// session. All state is mutated on the goroutine running Run; the exported
// intent methods only post work to it.
type Orchestrator struct {
	deps Dependencies
	cfg  Config

	events  chan func()
	done    chan struct{}
	running atomic.Bool
	snap    atomic.Pointer[Snapshot]

	st         *State
	sess       *liveSession
	gen        uint64
	streamer   *frames.Streamer
	dispatcher *tools.Dispatcher

	screenPending bool
	locating      bool
	exited        bool
}

// liveSession holds every resource of one session. Fields are filled in as
// the start sequence progresses and released by teardown.
type liveSession struct {
	id      string
	gen     uint64
	persona string
	ctx     context.Context
	cancel  context.CancelFunc

	mic       audio.MicStream
	capture   *audio.CaptureEncoder
	sink      audio.Sink
	scheduler *audio.Scheduler
	out       *outbox.Outbox
	conn      Conn
	openedAt  time.Duration
	active    bool
}

func New(deps Dependencies) (*Orchestrator, error) {
	if deps.Dialer == nil {
		return nil, errors.New("session: dialer is required")
	}
	if deps.Microphone == nil {
		return nil, errors.New("session: microphone is required")
	}
	if deps.Speaker == nil {
		return nil, errors.New("session: speaker is required")
	}
	if deps.Location == nil {
		deps.Location = location.None{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.NewReal()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = func() string { return "live_" + uuid.NewString() }
	}

	cfg := deps.Config
	if cfg.Persona == "" {
		cfg.Persona = persona.Jarvis
	}
	if cfg.LocationTimeout <= 0 {
		cfg.LocationTimeout = location.DefaultTimeout
	}
	if cfg.CaptureSampleRate <= 0 {
		cfg.CaptureSampleRate = audio.CaptureSampleRate
	}
	if cfg.PlaybackSampleRate <= 0 {
		cfg.PlaybackSampleRate = audio.PlaybackSampleRate
	}
	if cfg.MaxLogLines <= 0 {
		cfg.MaxLogLines = DefaultMaxLogLines
	}
	if cfg.MaxTranscripts <= 0 {
		cfg.MaxTranscripts = DefaultMaxTranscript
	}
	if cfg.Gain == 0 && !cfg.Muted {
		cfg.Gain = 1
	}
	cfg.Gain = audio.ClampGain(cfg.Gain)

	o := &Orchestrator{
		deps:   deps,
		cfg:    cfg,
		events: make(chan func(), eventQueueSize),
		done:   make(chan struct{}),
	}
	o.st = newState(deps.Now, cfg.Persona, cfg.Gain, cfg.Muted, cfg.MaxLogLines, cfg.MaxTranscripts)
	o.st.Log("Neural link standby.")
	o.st.Log("Awaiting authorization...")

	o.dispatcher = tools.NewDispatcher(tools.Dependencies{
		Clock:  deps.Clock,
		Post:   o.postFunc,
		Logger: deps.Logger,
		Observe: func(action string, outcome tools.Outcome) {
			deps.Metrics.RecordToolCall(action, string(outcome))
		},
	}, tools.Config{
		DiagnosticsDelay:  cfg.DiagnosticsDelay,
		DiagnosticsLinger: cfg.DiagnosticsLinger,
	})
	o.streamer = frames.NewStreamer(frames.Dependencies{
		Clock:   deps.Clock,
		Post:    o.postFunc,
		Encoder: deps.Encoder,
		Logger:  deps.Logger,
		Emit:    o.emitFrame,
		Ended:   o.screenEnded,
		Skipped: func() { deps.Metrics.RecordFrame("skipped") },
	}, cfg.FramePeriod)

	o.snap.Store(o.st.snapshot())
	return o, nil
}

// Snapshot returns the most recently published state.
func (o *Orchestrator) Snapshot() Snapshot { return *o.snap.Load() }

// Run executes the event loop until ctx is done. A live session is torn
// down on exit.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return errors.New("session: orchestrator already running")
	}
	defer func() {
		o.exited = true
		close(o.done)
		o.drain()
	}()

	for {
		select {
		case <-ctx.Done():
			if o.sess != nil {
				o.st.Log("System hibernation...")
				o.teardown(o.sess, outcomeStopped)
			}
			o.stopScreen()
			o.publish()
			return nil
		case fn := <-o.events:
			fn()
			o.publish()
		}
	}
}

// drain runs events that were queued as the loop exited so that stale
// results still release the resources they carry.
func (o *Orchestrator) drain() {
	for {
		select {
		case fn := <-o.events:
			fn()
		default:
			return
		}
	}
}

func (o *Orchestrator) publish() {
	snap := o.st.snapshot()
	o.snap.Store(snap)
	if o.deps.OnUpdate != nil {
		o.deps.OnUpdate(*snap)
	}
}

// post queues fn for the loop. It reports false once the loop has exited.
func (o *Orchestrator) post(fn func()) bool {
	select {
	case <-o.done:
		return false
	default:
	}
	select {
	case o.events <- fn:
		return true
	case <-o.done:
		return false
	}
}

func (o *Orchestrator) postFunc(fn func()) { o.post(fn) }

// Start opens a session unless one is already connecting or active.
func (o *Orchestrator) Start() { o.post(o.start) }

// Stop ends the current session, if any.
func (o *Orchestrator) Stop() {
	o.post(func() {
		if o.sess == nil {
			return
		}
		o.st.Log("System hibernation...")
		o.teardown(o.sess, outcomeStopped)
	})
}

// Toggle starts a session when idle and stops it otherwise.
func (o *Orchestrator) Toggle() {
	o.post(func() {
		if o.sess == nil {
			o.start()
			return
		}
		o.st.Log("System hibernation...")
		o.teardown(o.sess, outcomeStopped)
	})
}

func (o *Orchestrator) ToggleScreen() { o.post(o.toggleScreen) }

func (o *Orchestrator) SetMuted(muted bool) {
	o.post(func() {
		o.st.muted = muted
		if o.sess != nil && o.sess.capture != nil {
			o.sess.capture.SetMuted(muted)
		}
	})
}

func (o *Orchestrator) SetGain(g float64) {
	o.post(func() {
		o.st.gain = audio.ClampGain(g)
		if o.sess != nil && o.sess.capture != nil {
			o.sess.capture.SetGain(o.st.gain)
		}
	})
}

// SelectPersona switches the persona used by the next session.
func (o *Orchestrator) SelectPersona(id string) {
	o.post(func() {
		p, ok := persona.Lookup(id)
		if !ok {
			o.deps.Logger.Warn("unknown persona", "persona", id)
			return
		}
		o.setPersonaManually(p)
	})
}

// CyclePersona advances to the next persona in order.
func (o *Orchestrator) CyclePersona() {
	o.post(func() { o.setPersonaManually(persona.Next(o.st.persona)) })
}

func (o *Orchestrator) setPersonaManually(p persona.Persona) {
	o.st.SetPersona(p.ID)
	o.st.Log(fmt.Sprintf("MANUAL: Interface shifted to %s.", p.Label))
}

// SelectAgent tasks an agent by hand.
func (o *Orchestrator) SelectAgent(id string) {
	o.post(func() {
		if !o.st.agents.Has(id) {
			o.deps.Logger.Warn("unknown agent", "agent", id)
			return
		}
		o.st.SetActiveAgent(id)
		o.st.agents.SetStatus(id, agents.StatusWorking)
		o.st.Log(fmt.Sprintf("OVERRIDE: %s tasked.", strings.ToUpper(id)))
	})
}

// RefreshLocation runs a lookup outside the session start sequence.
func (o *Orchestrator) RefreshLocation() {
	o.post(func() {
		if o.locating {
			return
		}
		o.beginLocate(context.Background(), func(res location.Result) { o.applyLocation(res) })
	})
}

func (o *Orchestrator) ClearLogs() { o.post(o.st.clearLogs) }

// start sequence: microphone → location → sink → dial → open.

func (o *Orchestrator) start() {
	if o.exited {
		return
	}
	if o.sess != nil {
		o.deps.Logger.Debug("start ignored, session already in progress", "session_id", o.sess.id, "phase", o.st.phase)
		return
	}
	o.gen++
	ctx, cancel := context.WithCancel(context.Background())
	sess := &liveSession{
		id:      o.deps.NewID(),
		gen:     o.gen,
		persona: o.st.persona,
		ctx:     ctx,
		cancel:  cancel,
		out:     outbox.New(outbox.Config{AudioQueue: o.cfg.AudioQueue, ImageQueue: o.cfg.ImageQueue}),
	}
	o.sess = sess
	o.st.phase = PhaseConnecting
	o.st.sessionID = sess.id
	o.st.sources = nil
	o.st.Log("Sensory calibration...")
	o.deps.Logger.Info("live session starting", "session_id", sess.id, "persona", sess.persona)

	mic, rate := o.deps.Microphone, o.cfg.CaptureSampleRate
	go func() {
		stream, err := mic.Open(ctx, rate)
		if err == nil && ctx.Err() != nil {
			_ = stream.Close()
			return
		}
		if !o.post(func() { o.micOpened(sess, stream, err) }) && stream != nil {
			_ = stream.Close()
		}
	}()
}

func (o *Orchestrator) micOpened(sess *liveSession, stream audio.MicStream, err error) {
	if o.sess != sess {
		if stream != nil {
			_ = stream.Close()
		}
		return
	}
	if err != nil {
		o.deps.Logger.Warn("microphone unavailable", "session_id", sess.id, "error", err)
		o.st.Log("FAILURE: Authorization denied.")
		o.teardown(sess, outcomeMicDenied)
		return
	}
	sess.mic = stream
	sess.capture = audio.NewCaptureEncoder(audio.CaptureConfig{
		SampleRate: o.cfg.CaptureSampleRate,
		Gain:       o.st.gain,
		Muted:      o.st.muted,
	}, func(c protocol.Chunk) { o.enqueueChunk(sess, c) })
	if err := stream.Start(sess.capture.Write); err != nil {
		o.deps.Logger.Warn("microphone failed to start", "session_id", sess.id, "error", err)
		o.st.Log("FAILURE: Authorization denied.")
		o.teardown(sess, outcomeMicDenied)
		return
	}

	o.beginLocate(sess.ctx, func(res location.Result) {
		if o.sess != sess {
			if o.st.gps == location.GPSSearching {
				o.st.gps = res.Status()
			}
			return
		}
		o.applyLocation(res)
		o.dial(sess, res.Location)
	})
}

func (o *Orchestrator) beginLocate(ctx context.Context, then func(location.Result)) {
	o.locating = true
	o.st.gps = location.GPSSearching
	o.st.Log("TELEMETRY: Initializing GPS hardware sync...")

	provider := location.WithTimeout(o.deps.Location, o.cfg.LocationTimeout)
	go func() {
		res := location.Fetch(ctx, provider)
		o.post(func() {
			o.locating = false
			then(res)
		})
	}()
}

func (o *Orchestrator) applyLocation(res location.Result) {
	o.st.gps = res.Status()
	o.st.location = res.Location
	switch {
	case res.Location != nil:
		o.st.Log("GPS: Signal locked. Precision triangulation confirmed.")
	case errors.Is(res.Err, location.ErrUnavailable):
		o.st.Log("NOTICE: GPS hardware missing from mainframe.")
	default:
		o.st.Log(fmt.Sprintf("NOTICE: GPS link failed: %v.", res.Err))
	}
}

// dial opens the sink and dials with the location this start resolved, if any.
func (o *Orchestrator) dial(sess *liveSession, fix *location.Location) {
	sink, err := o.deps.Speaker.Open()
	if err != nil {
		o.deps.Logger.Error("audio output unavailable", "session_id", sess.id, "error", err)
		o.st.Log("CRITICAL: Link failure.")
		o.teardown(sess, outcomeLinkFailure)
		return
	}
	sess.sink = sink
	sess.scheduler = audio.NewScheduler(o.deps.Clock, sink, o.postFunc,
		audio.WithSampleRate(o.cfg.PlaybackSampleRate),
		audio.WithLogger(o.deps.Logger),
		audio.WithSpeakingFunc(func(speaking bool) { o.st.speaking = speaking }),
	)

	p := persona.Resolve(sess.persona)
	var loc *protocol.LatLng
	if fix != nil {
		ll := fix.LatLng()
		loc = &ll
	}
	setup := protocol.SetupConfig{
		SessionID:           sess.id,
		Model:               o.cfg.Model,
		Voice:               p.Voice,
		SystemInstruction:   persona.Instruction(p, o.deps.Knowledge, loc),
		Location:            loc,
		ResponseModalities:  []string{protocol.ModalityAudio},
		InputTranscription:  true,
		OutputTranscription: true,
		Functions:           []protocol.FunctionSpec{tools.ControlSystemSchema()},
		GoogleSearch:        true,
		GoogleMaps:          true,
	}
	o.st.Log(fmt.Sprintf("Initializing %s OS...", p.SystemName))

	dialer, ctx := o.deps.Dialer, sess.ctx
	go func() {
		conn, err := dialer.Dial(ctx, setup)
		if err == nil && ctx.Err() != nil {
			_ = conn.Close()
			return
		}
		if !o.post(func() { o.opened(sess, conn, err) }) && conn != nil {
			_ = conn.Close()
		}
	}()
}

func (o *Orchestrator) opened(sess *liveSession, conn Conn, err error) {
	if o.sess != sess {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		o.deps.Logger.Error("live session dial failed", "session_id", sess.id, "error", err)
		o.st.Log("CRITICAL: Link failure.")
		o.teardown(sess, outcomeLinkFailure)
		return
	}

	sess.conn = conn
	sess.active = true
	sess.openedAt = o.deps.Clock.Now()
	o.st.phase = PhaseActive
	o.st.Log("Uplink secured. System ONLINE.")
	o.deps.Metrics.RecordSessionStart()
	o.deps.Logger.Info("live session active", "session_id", sess.id,
		"queued_audio", sess.out.Pending(outbox.SourceAudio), "queued_images", sess.out.Pending(outbox.SourceImage))

	g, gctx := errgroup.WithContext(sess.ctx)
	g.Go(func() error {
		return sess.out.Run(gctx, connSender{conn: conn, metrics: o.deps.Metrics})
	})
	g.Go(func() error {
		for {
			msg, err := conn.Receive(gctx)
			if err != nil {
				return err
			}
			if !o.post(func() { o.inbound(sess, msg) }) {
				return nil
			}
		}
	})
	go func() {
		err := g.Wait()
		o.post(func() { o.ended(sess, err) })
	}()
}

func (o *Orchestrator) ended(sess *liveSession, err error) {
	if o.sess != sess {
		return
	}
	if err == nil || errors.Is(err, io.EOF) {
		o.deps.Logger.Info("live session closed by remote", "session_id", sess.id)
		o.st.Log("Standby.")
		o.teardown(sess, outcomeRemoteClosed)
		return
	}
	o.deps.Logger.Error("live session failed", "session_id", sess.id, "error", err)
	o.st.Log("CRITICAL: Link failure.")
	o.teardown(sess, outcomeLinkFailure)
}

// inbound routes one server message. Each part is handled to completion
// before the next message is read off the loop queue.
func (o *Orchestrator) inbound(sess *liveSession, msg protocol.ServerMessage) {
	if o.sess != sess || !sess.active {
		return
	}

	if len(msg.Sources) > 0 {
		_, maps := o.st.addSources(msg.Sources)
		if maps {
			o.st.agents.SetStatus(agents.Navigator, agents.StatusReady)
		} else {
			o.st.agents.SetStatus(agents.WebReader, agents.StatusReady)
		}
		o.st.Log("UPLINK: Data index updated.")
	}

	for _, inv := range msg.ToolCalls {
		o.dispatcher.Handle(o.st, inv, func(r protocol.ToolResponse) { o.reply(sess, r) })
	}

	for _, t := range msg.Transcripts {
		o.st.addTranscript(t)
	}

	for _, pcm := range msg.Audio {
		o.deps.Metrics.RecordAudioBytes("in", len(pcm))
		if _, err := sess.scheduler.Enqueue(pcm); err != nil {
			o.deps.Logger.Debug("inbound audio dropped", "session_id", sess.id, "error", err)
		}
	}

	if msg.Interrupted {
		n := sess.scheduler.Interrupt()
		o.st.speaking = false
		o.deps.Metrics.RecordInterruption()
		o.deps.Logger.Debug("playback interrupted", "session_id", sess.id, "segments", n)
		o.st.Log("NOTICE: Sequence aborted.")
	}
}

// reply sends a tool response on the session that received the invocation.
// Responses produced after that session ended are dropped.
func (o *Orchestrator) reply(sess *liveSession, r protocol.ToolResponse) {
	if o.sess != sess {
		o.deps.Logger.Debug("tool response dropped, session ended", "session_id", sess.id, "invocation_id", r.InvocationID)
		return
	}
	if err := sess.out.EnqueueToolResponse(r); err != nil {
		o.fail(sess, err)
	}
}

// enqueueChunk runs on the capture device goroutine, never on the loop.
func (o *Orchestrator) enqueueChunk(sess *liveSession, c protocol.Chunk) {
	err := sess.out.EnqueueChunk(c)
	if err == nil || errors.Is(err, outbox.ErrClosed) {
		return
	}
	o.post(func() { o.fail(sess, err) })
}

func (o *Orchestrator) fail(sess *liveSession, err error) {
	if o.sess != sess {
		return
	}
	o.deps.Logger.Error("live session outbound failure", "session_id", sess.id, "error", err)
	o.st.Log("CRITICAL: Link failure.")
	o.teardown(sess, outcomeLinkFailure)
}

// teardown releases every resource of sess. It is a no-op for a session
// that is no longer current.
func (o *Orchestrator) teardown(sess *liveSession, outcome string) {
	if o.sess != sess || sess == nil {
		return
	}
	o.st.phase = PhaseClosing
	o.sess = nil
	sess.cancel()

	o.stopScreen()
	if sess.capture != nil {
		sess.capture.Close()
	}
	if sess.mic != nil {
		if err := sess.mic.Close(); err != nil {
			o.deps.Logger.Debug("microphone close failed", "session_id", sess.id, "error", err)
		}
	}
	if sess.scheduler != nil {
		sess.scheduler.Reset()
	}
	if sess.sink != nil {
		if err := sess.sink.Close(); err != nil {
			o.deps.Logger.Debug("speaker close failed", "session_id", sess.id, "error", err)
		}
	}
	if dropped := sess.out.Close(); dropped > 0 {
		o.deps.Logger.Debug("outbound items discarded", "session_id", sess.id, "count", dropped)
	}
	if sess.conn != nil {
		if err := sess.conn.Close(); err != nil {
			o.deps.Logger.Debug("connection close failed", "session_id", sess.id, "error", err)
		}
	}

	if sess.active {
		o.deps.Metrics.RecordSessionEnd(sess.persona, outcome, o.deps.Clock.Now()-sess.openedAt)
	} else {
		o.deps.Metrics.RecordSessionAborted(outcome)
	}
	o.deps.Logger.Info("live session ended", "session_id", sess.id, "outcome", outcome)

	o.st.phase = PhaseIdle
	o.st.sessionID = ""
	o.st.speaking = false
	o.st.SetActiveAgent(agents.Default)
}

// screen capture

func (o *Orchestrator) toggleScreen() {
	if o.streamer.Active() {
		o.stopScreen()
		return
	}
	if o.screenPending || o.exited {
		return
	}
	if o.deps.Screen == nil {
		o.st.Log("FAILURE: Optic link rejected.")
		return
	}
	o.screenPending = true
	src := o.deps.Screen
	go func() {
		stream, err := src.Open(context.Background())
		if !o.post(func() { o.screenOpened(stream, err) }) && stream != nil {
			_ = stream.Close()
		}
	}()
}

func (o *Orchestrator) screenOpened(stream frames.Stream, err error) {
	o.screenPending = false
	if err != nil {
		o.deps.Logger.Warn("screen capture rejected", "error", err)
		o.st.Log("FAILURE: Optic link rejected.")
		o.st.agents.SetStatus(agents.Vision, agents.StatusIdle)
		return
	}
	o.streamer.Start(stream)
	o.st.screen = true
	o.st.agents.SetStatus(agents.Vision, agents.StatusWorking)
	o.st.Log("OPTIC: Screen link active.")
}

func (o *Orchestrator) stopScreen() {
	if !o.streamer.Active() {
		return
	}
	o.streamer.Stop()
	o.screenStopped()
}

func (o *Orchestrator) screenEnded() { o.screenStopped() }

func (o *Orchestrator) screenStopped() {
	o.st.screen = false
	o.st.agents.SetStatus(agents.Vision, agents.StatusIdle)
	o.st.Log("OPTIC: Visual feed terminated.")
}

// emitFrame runs on the loop. Frames only go out while a session exists.
func (o *Orchestrator) emitFrame(c protocol.Chunk) {
	if o.sess == nil {
		o.deps.Metrics.RecordFrame("dropped")
		return
	}
	o.deps.Metrics.RecordFrame("sent")
	if err := o.sess.out.EnqueueChunk(c); err != nil && !errors.Is(err, outbox.ErrClosed) {
		o.fail(o.sess, err)
	}
}

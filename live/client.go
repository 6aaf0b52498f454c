// Package live implements a long-lived client for the Gemini Live API: it
// multiplexes the heterogeneous server message stream into typed callbacks
// and survives transient disconnects via session resumption and
// exponential-backoff reconnection.
package live

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/opencoach/livecoach/logging"
)

// Status is the client's connection state.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "unknown"
	}
}

const (
	// DefaultMaxReconnectAttempts is the reconnection attempt budget.
	DefaultMaxReconnectAttempts = 5
	// DefaultReconnectBaseDelay is the first reconnection delay; it doubles
	// per failed attempt.
	DefaultReconnectBaseDelay = time.Second

	// goAwayLead is how long before a server-announced deadline the
	// pre-emptive reconnection fires.
	goAwayLead = time.Second
)

// Options configures a Client.
type Options struct {
	// Dialer opens transport sessions. Required.
	Dialer Dialer

	// Logger receives the client's structured log stream. Defaults to a
	// no-op logger.
	Logger logging.Logger

	// MaxReconnectAttempts and ReconnectBaseDelay tune the backoff policy.
	// Zero values select the defaults.
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration

	// NormalClosureCode is the close code that never triggers reconnection.
	// Defaults to 1000 (websocket.CloseNormalClosure).
	NormalClosureCode int
}

// RealtimeChunk is one outbound media chunk.
type RealtimeChunk struct {
	MIMEType string
	Data     []byte
}

// ReconnectionStatus is a snapshot of the reconnection state.
type ReconnectionStatus struct {
	Enabled             bool
	Attempts            int
	MaxAttempts         int
	HasResumptionHandle bool
}

// Client maintains one live session to the inference service. Configure the
// On* callbacks before calling Connect; they fire at most once per
// triggering input and must not block.
type Client struct {
	dialer      Dialer
	log         logging.Logger
	maxAttempts int
	baseDelay   time.Duration
	normalClose int

	// Notification surface.
	OnOpen                 func()
	OnClose                func(code int, reason string)
	OnError                func(err error)
	OnSetupComplete        func()
	OnAudio                func(pcm []byte)
	OnContent              func(turn *genai.Content)
	OnInterrupted          func()
	OnTurnComplete         func()
	OnToolCall             func(calls []*genai.FunctionCall)
	OnToolCallCancellation func(ids []string)

	mu        sync.Mutex
	status    Status
	transport Transport
	// gen increments on every dial and on manual disconnect; callbacks and
	// timers bound to an older generation are no-ops.
	gen int

	model  string
	config *genai.LiveConnectConfig

	resumptionHandle string
	autoReconnect    bool
	attempts         int
	manualClose      bool

	reconnectTimer *time.Timer
	goAwayTimer    *time.Timer
}

// NewClient creates a disconnected client with auto-reconnect enabled.
func NewClient(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if opts.ReconnectBaseDelay <= 0 {
		opts.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if opts.NormalClosureCode == 0 {
		opts.NormalClosureCode = websocket.CloseNormalClosure
	}
	return &Client{
		dialer:        opts.Dialer,
		log:           opts.Logger,
		maxAttempts:   opts.MaxReconnectAttempts,
		baseDelay:     opts.ReconnectBaseDelay,
		normalClose:   opts.NormalClosureCode,
		status:        StatusDisconnected,
		autoReconnect: true,
	}
}

// Status returns the current connection status.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// ReconnectionStatus returns a snapshot of the reconnection state.
func (c *Client) ReconnectionStatus() ReconnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ReconnectionStatus{
		Enabled:             c.autoReconnect,
		Attempts:            c.attempts,
		MaxAttempts:         c.maxAttempts,
		HasResumptionHandle: c.resumptionHandle != "",
	}
}

// SetAutoReconnect enables or disables automatic reconnection. Re-enabling
// after exhaustion restarts the attempt budget.
func (c *Client) SetAutoReconnect(enabled bool) {
	c.mu.Lock()
	c.autoReconnect = enabled
	if enabled {
		c.attempts = 0
	}
	c.mu.Unlock()
	c.log.Info("auto-reconnect updated", "category", "client.reconnect", "enabled", enabled)
}

// Connect opens a session to the given model. It returns false without side
// effects when a session is already connecting or connected, and false after
// a failed open (scheduling a reconnection if the policy allows).
func (c *Client) Connect(ctx context.Context, model string, config *genai.LiveConnectConfig) bool {
	c.mu.Lock()
	if c.status != StatusDisconnected {
		status := c.status
		c.mu.Unlock()
		c.log.Warn("connect rejected", "category", "client.connect", "status", status.String())
		return false
	}
	c.status = StatusConnecting
	c.manualClose = false
	c.model = model
	c.config = config
	dialConfig := c.dialConfigLocked(config)
	c.mu.Unlock()

	return c.dial(ctx, model, dialConfig)
}

// Disconnect closes the active session. Closing is user-initiated: it never
// triggers reconnection, and it cancels any pending reconnection timers.
// Returns false when there is no active session.
func (c *Client) Disconnect() bool {
	c.mu.Lock()
	c.manualClose = true
	c.stopTimersLocked()
	if c.transport == nil {
		// A dial may still be in flight; its commit sees manualClose and
		// discards the transport, so the state settles here.
		if c.status == StatusConnecting {
			c.status = StatusDisconnected
		}
		c.mu.Unlock()
		return false
	}
	t := c.transport
	c.transport = nil
	c.status = StatusDisconnected
	c.gen++
	c.mu.Unlock()

	if err := t.Close(); err != nil {
		c.log.Warn("transport close failed", "category", "client.close", "error", err)
	}
	c.log.Info("disconnected", "category", "client.close", "reason", "user requested")
	return true
}

// SendRealtimeInput forwards media chunks to the service in order. Chunks
// sent without an active session are dropped.
func (c *Client) SendRealtimeInput(chunks []RealtimeChunk) {
	t := c.activeTransport()
	if t == nil {
		return
	}
	hasAudio, hasVideo := false, false
	for _, ch := range chunks {
		if strings.Contains(ch.MIMEType, "audio") {
			hasAudio = true
		}
		if strings.Contains(ch.MIMEType, "image") || strings.Contains(ch.MIMEType, "video") {
			hasVideo = true
		}
		if err := t.SendRealtimeInput(&genai.Blob{MIMEType: ch.MIMEType, Data: ch.Data}); err != nil {
			c.log.Error("realtime input send failed", "category", "client.realtimeInput", "error", err)
		}
	}
	c.log.Debug("sent realtime input", "category", "client.realtimeInput", "kind", mediaKind(hasAudio, hasVideo), "chunks", len(chunks))
}

func mediaKind(hasAudio, hasVideo bool) string {
	switch {
	case hasAudio && hasVideo:
		return "audio + video"
	case hasAudio:
		return "audio"
	case hasVideo:
		return "video"
	default:
		return "unknown"
	}
}

// EndAudioTurn signals the end of the realtime audio stream for the current
// turn, prompting the model to respond to the accumulated audio.
func (c *Client) EndAudioTurn() {
	t := c.activeTransport()
	if t == nil {
		return
	}
	if err := t.SendAudioStreamEnd(); err != nil {
		c.log.Error("audio stream end send failed", "category", "client.realtimeInput", "error", err)
		return
	}
	c.log.Debug("sent audio stream end", "category", "client.realtimeInput")
}

// SendToolResponse forwards function call responses. An empty set is a
// silent no-op, as is a call without an active session.
func (c *Client) SendToolResponse(responses []*genai.FunctionResponse) {
	if len(responses) == 0 {
		return
	}
	t := c.activeTransport()
	if t == nil {
		return
	}
	if err := t.SendToolResponse(responses); err != nil {
		c.log.Error("tool response send failed", "category", "client.toolResponse", "error", err)
		return
	}
	c.log.Debug("sent tool response", "category", "client.toolResponse", "count", len(responses))
}

// Send forwards a conversational turn with the given turn-completion flag.
// Every outgoing turn is logged so observers get a complete transcript.
func (c *Client) Send(parts []*genai.Part, turnComplete bool) {
	t := c.activeTransport()
	if t == nil {
		return
	}
	turns := []*genai.Content{{Role: "user", Parts: parts}}
	c.log.Debug("sending client content", "category", "client.send", "parts", len(parts), "turnComplete", turnComplete)
	if err := t.SendClientContent(turns, turnComplete); err != nil {
		c.log.Error("content send failed", "category", "client.send", "error", err)
	}
}

// SendText sends a single completed text turn.
func (c *Client) SendText(text string) {
	c.Send([]*genai.Part{{Text: text}}, true)
}

func (c *Client) activeTransport() Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport
}

// dialConfigLocked copies the caller's config and augments it with the
// stored resumption handle and a sliding-window context compression option
// so long sessions do not hit the context ceiling.
func (c *Client) dialConfigLocked(base *genai.LiveConnectConfig) *genai.LiveConnectConfig {
	cfg := genai.LiveConnectConfig{}
	if base != nil {
		cfg = *base
	}
	cfg.SessionResumption = &genai.SessionResumptionConfig{Handle: c.resumptionHandle}
	cfg.ContextWindowCompression = &genai.ContextWindowCompressionConfig{
		SlidingWindow: &genai.SlidingWindow{},
	}
	return &cfg
}

// dial opens the transport with callbacks bound to a fresh generation and
// commits the result. Status must already be Connecting.
func (c *Client) dial(ctx context.Context, model string, config *genai.LiveConnectConfig) bool {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	t, err := c.dialer.Dial(ctx, model, config, c.callbacks(gen))

	c.mu.Lock()
	if err != nil {
		c.status = StatusDisconnected
		schedule := c.autoReconnect && !c.manualClose
		if schedule {
			c.scheduleReconnectLocked()
		}
		c.mu.Unlock()
		c.log.Error("connect failed", "category", "client.connect", "model", model, "error", err)
		return false
	}
	if c.manualClose || gen != c.gen {
		// A disconnect or a close callback superseded this dial while it was
		// in flight. The state already reflects that, so only the orphaned
		// transport needs discarding; committing Connected here would strand
		// the client on a dead session.
		c.mu.Unlock()
		_ = t.Close()
		return false
	}
	c.transport = t
	c.status = StatusConnected
	c.attempts = 0
	c.mu.Unlock()
	c.log.Info("connected", "category", "client.connect", "model", model)
	return true
}

func (c *Client) callbacks(gen int) Callbacks {
	return Callbacks{
		OnOpen:    func() { c.onOpen(gen) },
		OnMessage: func(m *ServerMessage) { c.onMessage(gen, m) },
		OnError:   func(err error) { c.onError(gen, err) },
		OnClose:   func(code int, reason string) { c.onClose(gen, code, reason) },
	}
}

// staleLocked reports whether a callback or timer belongs to a superseded
// transport generation.
func (c *Client) staleLocked(gen int) bool {
	return gen != c.gen
}

func (c *Client) onOpen(gen int) {
	c.mu.Lock()
	if c.staleLocked(gen) {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.log.Debug("transport open", "category", "client.open")
	if f := c.OnOpen; f != nil {
		f()
	}
}

func (c *Client) onError(gen int, err error) {
	c.mu.Lock()
	if c.staleLocked(gen) {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.log.Error("transport error", "category", "client.error", "error", err)
	if f := c.OnError; f != nil {
		f(err)
	}
}

func (c *Client) onClose(gen int, code int, reason string) {
	c.mu.Lock()
	if c.staleLocked(gen) {
		c.mu.Unlock()
		return
	}
	c.status = StatusDisconnected
	c.transport = nil
	// Supersede the closed transport's generation: a dial still in flight for
	// it must not commit Connected afterwards, and its remaining callbacks
	// and timers become no-ops.
	c.gen++
	if c.autoReconnect && !c.manualClose && code != c.normalClose {
		c.scheduleReconnectLocked()
	}
	c.mu.Unlock()

	c.log.Info("transport closed", "category", "client.close", "code", code, "reason", reason)
	if f := c.OnClose; f != nil {
		f(code, reason)
	}
}

func (c *Client) onMessage(gen int, msg *ServerMessage) {
	c.mu.Lock()
	if c.staleLocked(gen) {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	switch Classify(msg) {
	case KindSetupComplete:
		c.emitSetupComplete()
	case KindGoAway:
		c.handleGoAway(gen, msg.GoAway)
	case KindResumptionUpdate:
		c.handleResumptionUpdate(msg.ResumptionUpdate)
	case KindToolCall:
		c.log.Debug("tool call", "category", "server.toolCall", "count", len(msg.ToolCall.FunctionCalls))
		if f := c.OnToolCall; f != nil {
			f(msg.ToolCall.FunctionCalls)
		}
	case KindToolCallCancellation:
		c.log.Debug("tool call cancellation", "category", "server.toolCallCancellation", "ids", msg.ToolCallCancellation.IDs)
		if f := c.OnToolCallCancellation; f != nil {
			f(msg.ToolCallCancellation.IDs)
		}
	case KindServerContent:
		c.handleServerContent(msg.Content)
	default:
		c.log.Warn("unrecognized server message", "category", "server.unrecognized")
	}
}

func (c *Client) emitSetupComplete() {
	c.log.Debug("setup complete", "category", "server.setupComplete")
	if f := c.OnSetupComplete; f != nil {
		f()
	}
}

// handleGoAway schedules a pre-emptive reconnection shortly before the
// server-announced deadline. The warning arrives before the socket actually
// closes, so a replacement session can be established without a gap.
func (c *Client) handleGoAway(gen int, ga *GoAway) {
	c.log.Info("termination warning", "category", "server.goAway", "timeLeft", ga.TimeLeft)
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.autoReconnect || !ga.HasTimeLeft || ga.TimeLeft < 0 {
		return
	}
	delay := ga.TimeLeft - goAwayLead
	if delay < 0 {
		delay = 0
	}
	if c.goAwayTimer != nil {
		c.goAwayTimer.Stop()
	}
	c.goAwayTimer = time.AfterFunc(delay, func() { c.preemptiveReconnect(gen) })
	c.log.Info("pre-emptive reconnection scheduled", "category", "client.reconnect", "in", delay)
}

// preemptiveReconnect swaps the announced-doomed session for a fresh one.
// It is a no-op when the connection already closed or the user disconnected
// before the timer fired.
func (c *Client) preemptiveReconnect(gen int) {
	c.mu.Lock()
	if c.staleLocked(gen) || c.manualClose || c.status != StatusConnected || c.transport == nil {
		c.mu.Unlock()
		return
	}
	t := c.transport
	c.transport = nil
	c.status = StatusDisconnected
	// Stale out the old session's close callback so it cannot schedule a
	// second, competing reconnection.
	c.gen++
	c.mu.Unlock()

	_ = t.Close()
	c.attemptReconnect()
}

func (c *Client) handleResumptionUpdate(u *ResumptionUpdate) {
	if !u.Resumable || u.Handle == "" {
		c.log.Debug("resumption update ignored", "category", "server.sessionResumptionUpdate", "resumable", u.Resumable)
		return
	}
	c.mu.Lock()
	c.resumptionHandle = u.Handle
	c.mu.Unlock()
	c.log.Debug("resumption handle updated", "category", "server.sessionResumptionUpdate")
}

func (c *Client) handleServerContent(sc *ServerContent) {
	if sc.Interrupted {
		c.log.Debug("generation interrupted", "category", "server.interrupted")
		if f := c.OnInterrupted; f != nil {
			f()
		}
		return
	}
	// turnComplete and a model turn can arrive in the same message; both
	// fire.
	if sc.TurnComplete {
		c.log.Debug("turn complete", "category", "server.turnComplete")
		if f := c.OnTurnComplete; f != nil {
			f()
		}
	}
	if sc.ModelTurn == nil {
		return
	}
	audio, rest := partitionParts(sc.ModelTurn.Parts)
	for _, p := range audio {
		c.log.Debug("audio part", "category", "server.audio", "bytes", len(p.InlineData.Data))
		if f := c.OnAudio; f != nil {
			f(p.InlineData.Data)
		}
	}
	if len(rest) > 0 {
		c.log.Debug("model turn", "category", "server.content", "parts", len(rest))
		if f := c.OnContent; f != nil {
			f(&genai.Content{Role: sc.ModelTurn.Role, Parts: rest})
		}
	}
}

// scheduleReconnectLocked arms the backoff timer for the next attempt, or
// permanently disables reconnection once the budget is spent. Caller holds
// c.mu.
func (c *Client) scheduleReconnectLocked() {
	if c.attempts >= c.maxAttempts {
		c.autoReconnect = false
		c.log.Error("reconnection attempts exhausted", "category", "client.reconnect", "attempts", c.attempts)
		return
	}
	delay := backoffDelay(c.attempts, c.baseDelay)
	c.attempts++
	c.log.Info("reconnection scheduled", "category", "client.reconnect", "attempt", c.attempts, "max", c.maxAttempts, "delay", delay)
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.reconnectTimer = time.AfterFunc(delay, c.attemptReconnect)
}

// attemptReconnect redials with the model and config from the original
// connect, carrying the current resumption handle so the server reattaches
// prior conversational state. On success dependents get a setup-complete
// notification without waiting for a fresh server handshake signal.
func (c *Client) attemptReconnect() {
	c.mu.Lock()
	if c.manualClose || c.status != StatusDisconnected {
		c.mu.Unlock()
		return
	}
	if c.model == "" {
		c.mu.Unlock()
		c.log.Error("cannot reconnect without a stored model and config", "category", "client.reconnect")
		return
	}
	model := c.model
	dialConfig := c.dialConfigLocked(c.config)
	c.status = StatusConnecting
	c.mu.Unlock()

	c.log.Info("attempting reconnection", "category", "client.reconnect", "model", model)
	if c.dial(context.Background(), model, dialConfig) {
		c.emitSetupComplete()
	}
	// On failure dial has already scheduled the next attempt if the policy
	// still allows one.
}

// stopTimersLocked cancels pending reconnection timers. Caller holds c.mu.
func (c *Client) stopTimersLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.goAwayTimer != nil {
		c.goAwayTimer.Stop()
		c.goAwayTimer = nil
	}
}

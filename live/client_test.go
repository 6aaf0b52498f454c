package live_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/opencoach/livecoach/live"
)

type sentTurn struct {
	turns        []*genai.Content
	turnComplete bool
}

type fakeTransport struct {
	mu            sync.Mutex
	media         []*genai.Blob
	streamEnds    int
	toolResponses [][]*genai.FunctionResponse
	turns         []sentTurn
	closed        bool
}

func (t *fakeTransport) SendRealtimeInput(media *genai.Blob) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.media = append(t.media, media)
	return nil
}

func (t *fakeTransport) SendAudioStreamEnd() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.streamEnds++
	return nil
}

func (t *fakeTransport) SendToolResponse(responses []*genai.FunctionResponse) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.toolResponses = append(t.toolResponses, responses)
	return nil
}

func (t *fakeTransport) SendClientContent(turns []*genai.Content, turnComplete bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.turns = append(t.turns, sentTurn{turns: turns, turnComplete: turnComplete})
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type dialRecord struct {
	model     string
	config    *genai.LiveConnectConfig
	cb        live.Callbacks
	transport *fakeTransport
}

type fakeDialer struct {
	mu       sync.Mutex
	failures int // dials to reject before succeeding
	dials    []dialRecord
}

func (d *fakeDialer) Dial(_ context.Context, model string, config *genai.LiveConnectConfig, cb live.Callbacks) (live.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec := dialRecord{model: model, config: config, cb: cb}
	if d.failures > 0 {
		d.failures--
		d.dials = append(d.dials, rec)
		return nil, errors.New("dial refused")
	}
	rec.transport = &fakeTransport{}
	d.dials = append(d.dials, rec)
	if cb.OnOpen != nil {
		cb.OnOpen()
	}
	return rec.transport, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}

func (d *fakeDialer) dial(i int) dialRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[i]
}

// rejectingDialer hands out a session and then closes it before Dial
// returns, like a server that accepts the socket but immediately sends a
// close frame.
type rejectingDialer struct {
	fakeDialer
	rejections int
}

func (d *rejectingDialer) Dial(ctx context.Context, model string, config *genai.LiveConnectConfig, cb live.Callbacks) (live.Transport, error) {
	t, err := d.fakeDialer.Dial(ctx, model, config, cb)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	reject := d.rejections > 0
	if reject {
		d.rejections--
	}
	d.mu.Unlock()
	if reject {
		cb.OnClose(1006, "session rejected")
	}
	return t, nil
}

// events counts notifications with thread-safe access.
type events struct {
	mu            sync.Mutex
	opens         int
	closes        []int
	errs          []error
	setupComplete int
	audio         [][]byte
	contents      []*genai.Content
	interrupted   int
	turnsComplete int
	toolCalls     [][]*genai.FunctionCall
	cancellations [][]string
}

func (e *events) bind(c *live.Client) {
	c.OnOpen = func() { e.mu.Lock(); e.opens++; e.mu.Unlock() }
	c.OnClose = func(code int, _ string) { e.mu.Lock(); e.closes = append(e.closes, code); e.mu.Unlock() }
	c.OnError = func(err error) { e.mu.Lock(); e.errs = append(e.errs, err); e.mu.Unlock() }
	c.OnSetupComplete = func() { e.mu.Lock(); e.setupComplete++; e.mu.Unlock() }
	c.OnAudio = func(pcm []byte) { e.mu.Lock(); e.audio = append(e.audio, pcm); e.mu.Unlock() }
	c.OnContent = func(turn *genai.Content) { e.mu.Lock(); e.contents = append(e.contents, turn); e.mu.Unlock() }
	c.OnInterrupted = func() { e.mu.Lock(); e.interrupted++; e.mu.Unlock() }
	c.OnTurnComplete = func() { e.mu.Lock(); e.turnsComplete++; e.mu.Unlock() }
	c.OnToolCall = func(calls []*genai.FunctionCall) { e.mu.Lock(); e.toolCalls = append(e.toolCalls, calls); e.mu.Unlock() }
	c.OnToolCallCancellation = func(ids []string) { e.mu.Lock(); e.cancellations = append(e.cancellations, ids); e.mu.Unlock() }
}

func (e *events) snapshot() events {
	e.mu.Lock()
	defer e.mu.Unlock()
	return events{
		opens:         e.opens,
		closes:        append([]int(nil), e.closes...),
		errs:          append([]error(nil), e.errs...),
		setupComplete: e.setupComplete,
		audio:         append([][]byte(nil), e.audio...),
		contents:      append([]*genai.Content(nil), e.contents...),
		interrupted:   e.interrupted,
		turnsComplete: e.turnsComplete,
		toolCalls:     append([][]*genai.FunctionCall(nil), e.toolCalls...),
		cancellations: append([][]string(nil), e.cancellations...),
	}
}

func newTestClient(d *fakeDialer, baseDelay time.Duration) (*live.Client, *events) {
	c := live.NewClient(live.Options{
		Dialer:             d,
		ReconnectBaseDelay: baseDelay,
	})
	ev := &events{}
	ev.bind(c)
	return c, ev
}

func connect(t *testing.T, c *live.Client) {
	t.Helper()
	require.True(t, c.Connect(context.Background(), "models/test-live", nil))
	require.Equal(t, live.StatusConnected, c.Status())
}

func TestInitialReconnectionStatus(t *testing.T) {
	c, _ := newTestClient(&fakeDialer{}, time.Millisecond)
	st := c.ReconnectionStatus()
	assert.True(t, st.Enabled)
	assert.Equal(t, 0, st.Attempts)
	assert.Equal(t, 5, st.MaxAttempts)
	assert.False(t, st.HasResumptionHandle)
}

func TestConnectRejectedWhileConnected(t *testing.T) {
	d := &fakeDialer{}
	c, ev := newTestClient(d, time.Millisecond)
	connect(t, c)

	assert.False(t, c.Connect(context.Background(), "models/other", nil))
	assert.Equal(t, 1, d.dialCount())
	assert.Equal(t, live.StatusConnected, c.Status())
	assert.Equal(t, 1, ev.snapshot().opens)
}

func TestDisconnectWhenDisconnected(t *testing.T) {
	c, ev := newTestClient(&fakeDialer{}, time.Millisecond)
	assert.False(t, c.Disconnect())
	assert.Empty(t, ev.snapshot().closes)
}

func TestDisconnectClosesTransport(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestClient(d, time.Millisecond)
	connect(t, c)

	assert.True(t, c.Disconnect())
	assert.Equal(t, live.StatusDisconnected, c.Status())
	assert.True(t, d.dial(0).transport.isClosed())
	// A second disconnect finds no session.
	assert.False(t, c.Disconnect())
}

func TestNormalCloseDoesNotReconnect(t *testing.T) {
	d := &fakeDialer{}
	c, ev := newTestClient(d, time.Millisecond)
	connect(t, c)

	d.dial(0).cb.OnClose(1000, "bye")

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, d.dialCount())
	assert.Equal(t, live.StatusDisconnected, c.Status())
	assert.Equal(t, []int{1000}, ev.snapshot().closes)
	assert.Equal(t, 0, c.ReconnectionStatus().Attempts)
}

func TestAbnormalCloseReconnectsAndResumes(t *testing.T) {
	d := &fakeDialer{}
	c, ev := newTestClient(d, time.Millisecond)
	connect(t, c)

	// Server hands out a resumption handle before dying.
	d.dial(0).cb.OnMessage(&live.ServerMessage{
		ResumptionUpdate: &live.ResumptionUpdate{Handle: "handle-1", Resumable: true},
	})
	require.True(t, c.ReconnectionStatus().HasResumptionHandle)

	d.dial(0).cb.OnClose(1011, "server error")

	require.Eventually(t, func() bool { return c.Status() == live.StatusConnected }, 2*time.Second, 2*time.Millisecond)
	require.Equal(t, 2, d.dialCount())

	redial := d.dial(1)
	assert.Equal(t, "models/test-live", redial.model)
	require.NotNil(t, redial.config.SessionResumption)
	assert.Equal(t, "handle-1", redial.config.SessionResumption.Handle)
	assert.NotNil(t, redial.config.ContextWindowCompression)

	// Success resets the attempt counter and announces readiness.
	assert.Equal(t, 0, c.ReconnectionStatus().Attempts)
	assert.Equal(t, 1, ev.snapshot().setupComplete)
}

func TestNotResumableUpdateKeepsNoHandle(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestClient(d, time.Millisecond)
	connect(t, c)

	d.dial(0).cb.OnMessage(&live.ServerMessage{
		ResumptionUpdate: &live.ResumptionUpdate{Handle: "stale", Resumable: false},
	})
	assert.False(t, c.ReconnectionStatus().HasResumptionHandle)
}

func TestReconnectionExhaustionDisables(t *testing.T) {
	d := &fakeDialer{failures: 100}
	c, _ := newTestClient(d, time.Millisecond)

	assert.False(t, c.Connect(context.Background(), "models/test-live", nil))

	require.Eventually(t, func() bool {
		return !c.ReconnectionStatus().Enabled
	}, 5*time.Second, 5*time.Millisecond)

	// Initial dial plus the full attempt budget, then nothing more.
	assert.Equal(t, 6, d.dialCount())
	assert.Equal(t, 5, c.ReconnectionStatus().Attempts)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 6, d.dialCount())
}

func TestSetAutoReconnectRestartsBudget(t *testing.T) {
	d := &fakeDialer{failures: 100}
	c, _ := newTestClient(d, time.Millisecond)
	c.Connect(context.Background(), "models/test-live", nil)
	require.Eventually(t, func() bool { return !c.ReconnectionStatus().Enabled }, 5*time.Second, 5*time.Millisecond)

	c.SetAutoReconnect(true)
	st := c.ReconnectionStatus()
	assert.True(t, st.Enabled)
	assert.Equal(t, 0, st.Attempts)
}

func TestManualDisconnectCancelsPendingReconnect(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestClient(d, 50*time.Millisecond)
	connect(t, c)

	// Abnormal close arms the backoff timer; a user disconnect must defuse
	// it before it fires.
	d.dial(0).cb.OnClose(1006, "dropped")
	require.Equal(t, 1, c.ReconnectionStatus().Attempts)
	c.Disconnect()

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, d.dialCount())
	assert.Equal(t, live.StatusDisconnected, c.Status())
}

func TestGoAwayTriggersPreemptiveReconnect(t *testing.T) {
	d := &fakeDialer{}
	c, ev := newTestClient(d, time.Millisecond)
	connect(t, c)

	// Deadline just past the 1s lead, so the swap fires ~20ms out.
	d.dial(0).cb.OnMessage(&live.ServerMessage{
		GoAway: &live.GoAway{TimeLeft: time.Second + 20*time.Millisecond, HasTimeLeft: true},
	})

	require.Eventually(t, func() bool { return d.dialCount() == 2 }, 2*time.Second, 2*time.Millisecond)
	require.Eventually(t, func() bool { return c.Status() == live.StatusConnected }, 2*time.Second, 2*time.Millisecond)
	assert.True(t, d.dial(0).transport.isClosed())
	assert.Equal(t, 1, ev.snapshot().setupComplete)

	// The doomed session's own close must not schedule a second dial.
	d.dial(0).cb.OnClose(1001, "going away")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, d.dialCount())
}

func TestCloseDuringDialSchedulesReconnect(t *testing.T) {
	d := &rejectingDialer{rejections: 1}
	c := live.NewClient(live.Options{
		Dialer:             d,
		ReconnectBaseDelay: time.Millisecond,
	})

	// The close lands before the dial commits; the client must not end up
	// reporting Connected on the dead session.
	assert.False(t, c.Connect(context.Background(), "models/test-live", nil))

	require.Eventually(t, func() bool {
		return d.dialCount() == 2 && c.Status() == live.StatusConnected
	}, 2*time.Second, 2*time.Millisecond)
	assert.True(t, d.dial(0).transport.isClosed())
	assert.False(t, d.dial(1).transport.isClosed())
}

func TestGoAwayWithNoTimeRemainingReconnectsImmediately(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestClient(d, time.Millisecond)
	connect(t, c)

	d.dial(0).cb.OnMessage(&live.ServerMessage{
		GoAway: &live.GoAway{TimeLeft: 0, HasTimeLeft: true},
	})

	require.Eventually(t, func() bool {
		return d.dialCount() == 2 && c.Status() == live.StatusConnected
	}, 2*time.Second, 2*time.Millisecond)
	assert.True(t, d.dial(0).transport.isClosed())
}

func TestGoAwayTimerNoopsAfterDisconnect(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestClient(d, time.Millisecond)
	connect(t, c)

	d.dial(0).cb.OnMessage(&live.ServerMessage{
		GoAway: &live.GoAway{TimeLeft: time.Second + 30*time.Millisecond, HasTimeLeft: true},
	})
	c.Disconnect()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, d.dialCount())
	assert.Equal(t, live.StatusDisconnected, c.Status())
}

func TestModelTurnPartitionsAudioAndContent(t *testing.T) {
	d := &fakeDialer{}
	c, ev := newTestClient(d, time.Millisecond)
	connect(t, c)

	a := []byte{0x01, 0x02}
	b := []byte{0x03, 0x04}
	d.dial(0).cb.OnMessage(&live.ServerMessage{Content: &live.ServerContent{
		ModelTurn: &genai.Content{Role: "model", Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: "audio/pcm;rate=24000", Data: a}},
			{Text: "keep pushing"},
			{InlineData: &genai.Blob{MIMEType: "audio/pcm;rate=24000", Data: b}},
		}},
	}})

	got := ev.snapshot()
	require.Equal(t, [][]byte{a, b}, got.audio)
	require.Len(t, got.contents, 1)
	require.Len(t, got.contents[0].Parts, 1)
	assert.Equal(t, "keep pushing", got.contents[0].Parts[0].Text)
}

func TestModelTurnAudioOnlyEmitsNoContent(t *testing.T) {
	d := &fakeDialer{}
	c, ev := newTestClient(d, time.Millisecond)
	connect(t, c)

	d.dial(0).cb.OnMessage(&live.ServerMessage{Content: &live.ServerContent{
		ModelTurn: &genai.Content{Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: "audio/pcm;rate=24000", Data: []byte{9}}},
		}},
	}})

	got := ev.snapshot()
	assert.Len(t, got.audio, 1)
	assert.Empty(t, got.contents)
}

func TestTurnCompleteAndModelTurnBothFire(t *testing.T) {
	d := &fakeDialer{}
	c, ev := newTestClient(d, time.Millisecond)
	connect(t, c)

	d.dial(0).cb.OnMessage(&live.ServerMessage{Content: &live.ServerContent{
		TurnComplete: true,
		ModelTurn:    &genai.Content{Parts: []*genai.Part{{Text: "done"}}},
	}})

	got := ev.snapshot()
	assert.Equal(t, 1, got.turnsComplete)
	require.Len(t, got.contents, 1)
}

func TestInterruptedShortCircuits(t *testing.T) {
	d := &fakeDialer{}
	c, ev := newTestClient(d, time.Millisecond)
	connect(t, c)

	d.dial(0).cb.OnMessage(&live.ServerMessage{Content: &live.ServerContent{
		Interrupted:  true,
		TurnComplete: true,
		ModelTurn:    &genai.Content{Parts: []*genai.Part{{Text: "ignored"}}},
	}})

	got := ev.snapshot()
	assert.Equal(t, 1, got.interrupted)
	assert.Equal(t, 0, got.turnsComplete)
	assert.Empty(t, got.contents)
}

func TestToolCallAndCancellationRouted(t *testing.T) {
	d := &fakeDialer{}
	c, ev := newTestClient(d, time.Millisecond)
	connect(t, c)

	calls := []*genai.FunctionCall{{ID: "1", Name: "GetCoachingPlaybook"}}
	d.dial(0).cb.OnMessage(&live.ServerMessage{ToolCall: &live.ToolCall{FunctionCalls: calls}})
	d.dial(0).cb.OnMessage(&live.ServerMessage{ToolCallCancellation: &live.ToolCallCancellation{IDs: []string{"1"}}})

	got := ev.snapshot()
	require.Len(t, got.toolCalls, 1)
	assert.Equal(t, calls, got.toolCalls[0])
	require.Len(t, got.cancellations, 1)
	assert.Equal(t, []string{"1"}, got.cancellations[0])
}

func TestTransportErrorKeepsSession(t *testing.T) {
	d := &fakeDialer{}
	c, ev := newTestClient(d, time.Millisecond)
	connect(t, c)

	d.dial(0).cb.OnError(errors.New("hiccup"))
	assert.Equal(t, live.StatusConnected, c.Status())
	assert.Len(t, ev.snapshot().errs, 1)
}

func TestCommandsDroppedWithoutSession(t *testing.T) {
	c, _ := newTestClient(&fakeDialer{}, time.Millisecond)
	// None of these may panic or error.
	c.SendRealtimeInput([]live.RealtimeChunk{{MIMEType: "audio/pcm", Data: []byte{1}}})
	c.SendToolResponse([]*genai.FunctionResponse{{ID: "1"}})
	c.Send([]*genai.Part{{Text: "hi"}}, true)
	c.EndAudioTurn()
}

func TestSendRealtimeInputForwardsInOrder(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestClient(d, time.Millisecond)
	connect(t, c)

	c.SendRealtimeInput([]live.RealtimeChunk{
		{MIMEType: "audio/pcm;rate=16000", Data: []byte{1}},
		{MIMEType: "image/jpeg", Data: []byte{2}},
	})

	tr := d.dial(0).transport
	tr.mu.Lock()
	defer tr.mu.Unlock()
	require.Len(t, tr.media, 2)
	assert.Equal(t, "audio/pcm;rate=16000", tr.media[0].MIMEType)
	assert.Equal(t, "image/jpeg", tr.media[1].MIMEType)
}

func TestSendToolResponseSkipsEmpty(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestClient(d, time.Millisecond)
	connect(t, c)

	c.SendToolResponse(nil)
	c.SendToolResponse([]*genai.FunctionResponse{})

	tr := d.dial(0).transport
	tr.mu.Lock()
	assert.Empty(t, tr.toolResponses)
	tr.mu.Unlock()

	c.SendToolResponse([]*genai.FunctionResponse{{ID: "1", Name: "f"}})
	tr.mu.Lock()
	assert.Len(t, tr.toolResponses, 1)
	tr.mu.Unlock()
}

func TestSendWrapsUserTurn(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestClient(d, time.Millisecond)
	connect(t, c)

	c.Send([]*genai.Part{{Text: "coach me"}}, false)
	c.SendText("and finish the turn")

	tr := d.dial(0).transport
	tr.mu.Lock()
	defer tr.mu.Unlock()
	require.Len(t, tr.turns, 2)
	assert.False(t, tr.turns[0].turnComplete)
	assert.Equal(t, "user", tr.turns[0].turns[0].Role)
	assert.True(t, tr.turns[1].turnComplete)
	assert.Equal(t, "and finish the turn", tr.turns[1].turns[0].Parts[0].Text)
}

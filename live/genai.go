package live

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"
)

// GenAIDialer opens live sessions through the official genai SDK.
type GenAIDialer struct {
	client *genai.Client
}

// NewGenAIDialer creates a dialer backed by the Gemini API.
func NewGenAIDialer(ctx context.Context, apiKey string) (*GenAIDialer, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GenAIDialer{client: client}, nil
}

// Dial connects to the Live API and starts the receive loop that feeds the
// given callbacks.
func (d *GenAIDialer) Dial(ctx context.Context, model string, config *genai.LiveConnectConfig, cb Callbacks) (Transport, error) {
	session, err := d.client.Live.Connect(ctx, model, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Live API: %w", err)
	}
	t := &genaiTransport{session: session}
	go t.receiveLoop(cb)
	if cb.OnOpen != nil {
		cb.OnOpen()
	}
	return t, nil
}

// genaiTransport adapts the SDK's pull-based Receive loop to the callback
// contract the client expects.
type genaiTransport struct {
	session *genai.Session

	mu     sync.Mutex
	closed bool
}

func (t *genaiTransport) receiveLoop(cb Callbacks) {
	for {
		msg, err := t.session.Receive()
		if err != nil {
			code, reason := closeCode(err)
			var ce *websocket.CloseError
			if !errors.As(err, &ce) && cb.OnError != nil {
				// A transport fault rather than a close frame. The close
				// callback still follows: termination is signaled separately.
				cb.OnError(err)
			}
			if cb.OnClose != nil {
				cb.OnClose(code, reason)
			}
			return
		}
		if cb.OnMessage != nil {
			cb.OnMessage(convertServerMessage(msg))
		}
	}
}

// closeCode extracts the WebSocket close code from a receive error. Receive
// errors wrap gorilla close errors when the server sent a close frame;
// anything else counts as an abnormal closure.
func closeCode(err error) (int, string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text
	}
	return websocket.CloseAbnormalClosure, err.Error()
}

// convertServerMessage lifts an SDK message into the classifier's input
// shape.
func convertServerMessage(m *genai.LiveServerMessage) *ServerMessage {
	out := &ServerMessage{}
	if m == nil {
		return out
	}
	if m.SetupComplete != nil {
		out.SetupComplete = true
	}
	if m.GoAway != nil {
		// The SDK decodes timeLeft into a bare duration, so an absent field
		// is indistinguishable from zero. Treat every GoAway as carrying a
		// deadline: with no time remaining the pre-emptive swap fires
		// immediately, which is the right response either way.
		out.GoAway = &GoAway{
			TimeLeft:    m.GoAway.TimeLeft,
			HasTimeLeft: m.GoAway.TimeLeft >= 0,
		}
	}
	if m.SessionResumptionUpdate != nil {
		out.ResumptionUpdate = &ResumptionUpdate{
			Handle:    m.SessionResumptionUpdate.NewHandle,
			Resumable: m.SessionResumptionUpdate.Resumable,
		}
	}
	if m.ToolCall != nil {
		out.ToolCall = &ToolCall{FunctionCalls: m.ToolCall.FunctionCalls}
	}
	if m.ToolCallCancellation != nil {
		out.ToolCallCancellation = &ToolCallCancellation{IDs: m.ToolCallCancellation.IDs}
	}
	if m.ServerContent != nil {
		out.Content = &ServerContent{
			Interrupted:  m.ServerContent.Interrupted,
			TurnComplete: m.ServerContent.TurnComplete,
			ModelTurn:    m.ServerContent.ModelTurn,
		}
	}
	return out
}

func (t *genaiTransport) SendRealtimeInput(media *genai.Blob) error {
	if err := t.session.SendRealtimeInput(genai.LiveRealtimeInput{Media: media}); err != nil {
		return fmt.Errorf("failed to send media chunk: %w", err)
	}
	return nil
}

func (t *genaiTransport) SendAudioStreamEnd() error {
	if err := t.session.SendRealtimeInput(genai.LiveRealtimeInput{AudioStreamEnd: true}); err != nil {
		return fmt.Errorf("failed to send audio stream end: %w", err)
	}
	return nil
}

func (t *genaiTransport) SendToolResponse(responses []*genai.FunctionResponse) error {
	if err := t.session.SendToolResponse(genai.LiveToolResponseInput{FunctionResponses: responses}); err != nil {
		return fmt.Errorf("failed to send tool response: %w", err)
	}
	return nil
}

func (t *genaiTransport) SendClientContent(turns []*genai.Content, turnComplete bool) error {
	err := t.session.SendClientContent(genai.LiveSendClientContentParameters{
		Turns:        turns,
		TurnComplete: &turnComplete,
	})
	if err != nil {
		return fmt.Errorf("failed to send client content: %w", err)
	}
	return nil
}

func (t *genaiTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	return t.session.Close()
}

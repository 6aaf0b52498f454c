package live

import (
	"context"

	"google.golang.org/genai"
)

// Transport is one live bidirectional session to the inference service.
// A Client never holds more than one at a time.
type Transport interface {
	// SendRealtimeInput forwards one media chunk to the service.
	SendRealtimeInput(media *genai.Blob) error

	// SendAudioStreamEnd signals that the realtime audio stream for the
	// current turn has ended, prompting the model to respond.
	SendAudioStreamEnd() error

	// SendToolResponse forwards function call responses to the service.
	SendToolResponse(responses []*genai.FunctionResponse) error

	// SendClientContent forwards conversational turns with the given
	// turn-completion flag.
	SendClientContent(turns []*genai.Content, turnComplete bool) error

	// Close tears the session down. The transport's close callback fires
	// once the underlying read loop observes the closure.
	Close() error
}

// Callbacks are the lifecycle hooks a Client binds to a Transport when
// dialing. They are invoked from the transport's read loop and must not
// block it.
type Callbacks struct {
	OnOpen    func()
	OnMessage func(msg *ServerMessage)
	OnError   func(err error)
	OnClose   func(code int, reason string)
}

// Dialer opens Transport sessions. The production implementation wraps the
// genai SDK; tests substitute fakes.
type Dialer interface {
	Dial(ctx context.Context, model string, config *genai.LiveConnectConfig, cb Callbacks) (Transport, error)
}

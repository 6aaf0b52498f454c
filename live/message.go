package live

import (
	"strings"
	"time"

	"google.golang.org/genai"
)

// ServerMessage is one inbound message, already lifted out of the SDK's
// wire representation. At most one of the pointer fields is expected to be
// set; Classify decides which case wins when the server sends more.
type ServerMessage struct {
	SetupComplete        bool
	GoAway               *GoAway
	ResumptionUpdate     *ResumptionUpdate
	ToolCall             *ToolCall
	ToolCallCancellation *ToolCallCancellation
	Content              *ServerContent
}

// GoAway warns that the server will terminate the connection after roughly
// TimeLeft. HasTimeLeft distinguishes a zero deadline from an absent one.
type GoAway struct {
	TimeLeft    time.Duration
	HasTimeLeft bool
}

// ResumptionUpdate carries a server-issued resumption handle. The handle is
// only stored when Resumable is true.
type ResumptionUpdate struct {
	Handle    string
	Resumable bool
}

// ToolCall requests execution of one or more functions.
type ToolCall struct {
	FunctionCalls []*genai.FunctionCall
}

// ToolCallCancellation withdraws previously issued tool calls by ID.
type ToolCallCancellation struct {
	IDs []string
}

// ServerContent is model output: an interruption marker, a turn-complete
// marker, a model turn, or a combination of the latter two.
type ServerContent struct {
	Interrupted  bool
	TurnComplete bool
	ModelTurn    *genai.Content
}

// Kind is the semantic category of one inbound message.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindSetupComplete
	KindGoAway
	KindResumptionUpdate
	KindToolCall
	KindToolCallCancellation
	KindServerContent
)

func (k Kind) String() string {
	switch k {
	case KindSetupComplete:
		return "setupComplete"
	case KindGoAway:
		return "goAway"
	case KindResumptionUpdate:
		return "sessionResumptionUpdate"
	case KindToolCall:
		return "toolCall"
	case KindToolCallCancellation:
		return "toolCallCancellation"
	case KindServerContent:
		return "serverContent"
	default:
		return "unrecognized"
	}
}

// Classify maps one inbound message to exactly one Kind. First match wins,
// in this order: setup complete, go-away, resumption update, tool call,
// tool call cancellation, server content.
func Classify(m *ServerMessage) Kind {
	switch {
	case m == nil:
		return KindUnrecognized
	case m.SetupComplete:
		return KindSetupComplete
	case m.GoAway != nil:
		return KindGoAway
	case m.ResumptionUpdate != nil:
		return KindResumptionUpdate
	case m.ToolCall != nil:
		return KindToolCall
	case m.ToolCallCancellation != nil:
		return KindToolCallCancellation
	case m.Content != nil:
		return KindServerContent
	default:
		return KindUnrecognized
	}
}

const audioMIMEPrefix = "audio/pcm"

// isAudioPart reports whether a content part is inline PCM audio.
func isAudioPart(p *genai.Part) bool {
	return p != nil && p.InlineData != nil && strings.HasPrefix(p.InlineData.MIMEType, audioMIMEPrefix)
}

// partitionParts splits a model turn into inline audio parts and everything
// else, preserving the original relative order within each group.
func partitionParts(parts []*genai.Part) (audio, rest []*genai.Part) {
	for _, p := range parts {
		switch {
		case p == nil:
			// skip
		case isAudioPart(p):
			audio = append(audio, p)
		default:
			rest = append(rest, p)
		}
	}
	return audio, rest
}

package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/opencoach/livecoach/audio"
	"github.com/opencoach/livecoach/coach"
	"github.com/opencoach/livecoach/config"
	"github.com/opencoach/livecoach/live"
	"github.com/opencoach/livecoach/logging"
	"github.com/opencoach/livecoach/messages"
)

const (
	writeBufferSize = 256
	writeTimeout    = 10 * time.Second

	// Mime type for microphone audio streamed to the live model.
	inputMimeType = "audio/pcm;rate=16000"
)

// ClientSession represents a single user's connection
type ClientSession struct {
	ID          string
	IsTwilio    bool   // Whether this is a Twilio voice call session
	StreamSid   string // Twilio stream SID (set on "start" event)
	ClientConn  *websocket.Conn
	Live        *live.Client
	AudioBuffer *AudioBuffer // Buffer for incoming audio chunks
	CreatedAt   time.Time

	// Use channels for non-blocking writes
	writeChan chan any

	mu           sync.RWMutex
	lastActivity time.Time
	closed       bool
	CloseChan    chan struct{}
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewClientSession creates a session and opens its live coaching connection
func NewClientSession(id string, clientConn *websocket.Conn, cfg *config.Config, dialer live.Dialer, logger logging.Logger) (*ClientSession, error) {
	return newSession(id, clientConn, cfg, dialer, logger, false)
}

// NewTwilioClientSession creates a session for Twilio voice calls
func NewTwilioClientSession(id string, clientConn *websocket.Conn, cfg *config.Config, dialer live.Dialer, logger logging.Logger) (*ClientSession, error) {
	session, err := newSession(id, clientConn, cfg, dialer, logger, true)
	if err != nil {
		return nil, err
	}

	// Twilio doesn't support WebSocket compression
	clientConn.EnableWriteCompression(false)

	return session, nil
}

func newSession(id string, clientConn *websocket.Conn, cfg *config.Config, dialer live.Dialer, logger logging.Logger, isTwilio bool) (*ClientSession, error) {
	ctx, cancel := context.WithCancel(context.Background())

	// Configure WebSocket for better performance
	clientConn.SetReadLimit(512 * 1024) // 512KB max message
	clientConn.EnableWriteCompression(true)
	clientConn.SetCompressionLevel(6)

	cs := &ClientSession{
		ID:          id,
		IsTwilio:    isTwilio,
		ClientConn:  clientConn,
		AudioBuffer: NewAudioBuffer(cfg.MaxBufferSize),
		CreatedAt:   time.Now(),
		writeChan:   make(chan any, writeBufferSize),
		CloseChan:   make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
	cs.lastActivity = time.Now()

	cs.Live = live.NewClient(live.Options{
		Dialer:               dialer,
		Logger:               logger,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		ReconnectBaseDelay:   cfg.ReconnectBaseDelay,
	})

	// Callbacks have to be in place before Connect: the live client starts
	// delivering server messages as soon as the transport opens.
	cs.setupLiveCallbacks()

	if !cs.Live.Connect(ctx, cfg.LiveModel, liveConnectConfig()) {
		cancel()
		return nil, fmt.Errorf("failed to open live session for %s", id)
	}

	return cs, nil
}

// liveConnectConfig builds the session configuration sent on every connect.
func liveConnectConfig() *genai.LiveConnectConfig {
	return &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{"AUDIO"},
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{
				{Text: coach.DefaultSystemPrompt},
			},
		},
		Tools: coach.BuildTools(),
		// Configure voice for TTS
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{
					VoiceName: "Zephyr", // Available voices: Puck, Charon, Kore, Fenrir, Aoede, Leda, Orus, Zephyr
				},
			},
		},
	}
}

// Start begins the bidirectional message handling for standard WebSocket clients
func (cs *ClientSession) Start() {
	go cs.writePump()
	cs.queueMessage(messages.NewStatusMessage(cs.ID, messages.StatusConnected, "Session established"))
	go cs.handleClientMessages()
}

// StartTwilio begins the bidirectional message handling for Twilio voice calls
func (cs *ClientSession) StartTwilio() {
	go cs.writePump()
	go cs.handleClientMessagesFromTwilio()
}

// setupLiveCallbacks wires live client notifications into the client-facing
// message stream. Browser sessions get JSON envelopes; Twilio sessions get
// media-stream frames.
func (cs *ClientSession) setupLiveCallbacks() {
	cs.Live.OnSetupComplete = func() {
		if cs.IsTwilio {
			return
		}
		cs.queueMessage(messages.NewStatusMessage(cs.ID, messages.StatusSetupComplete, ""))
	}

	cs.Live.OnAudio = func(pcm []byte) {
		if cs.IsTwilio {
			cs.sendAudioToTwilio(pcm)
			return
		}
		cs.queueMessage(messages.NewAudioMessage(cs.ID, base64.StdEncoding.EncodeToString(pcm)))
	}

	cs.Live.OnContent = func(turn *genai.Content) {
		for _, part := range turn.Parts {
			if part == nil || part.Text == "" {
				continue
			}
			if cs.IsTwilio {
				log.Printf("📝 [%s] Model text (Twilio session): %s", cs.shortID(), part.Text)
				continue
			}
			cs.queueMessage(messages.NewTextMessage(cs.ID, part.Text))
		}
	}

	cs.Live.OnTurnComplete = func() {
		if cs.IsTwilio {
			log.Printf("✅ [%s] Model turn complete (Twilio session)", cs.shortID())
			return
		}
		cs.queueMessage(messages.NewStatusMessage(cs.ID, messages.StatusTurnComplete, ""))
	}

	cs.Live.OnInterrupted = func() {
		if cs.IsTwilio {
			return
		}
		cs.queueMessage(messages.NewStatusMessage(cs.ID, messages.StatusInterrupted, ""))
	}

	cs.Live.OnToolCall = func(functionCalls []*genai.FunctionCall) {
		cs.handleToolCalls(functionCalls)
	}

	cs.Live.OnToolCallCancellation = func(ids []string) {
		log.Printf("🔧 [%s] Tool calls cancelled: %v", cs.shortID(), ids)
	}

	cs.Live.OnError = func(err error) {
		log.Printf("❌ [%s] Live session error: %v", cs.shortID(), err)
		if !cs.IsTwilio {
			cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeLiveError, err.Error()))
		}
	}

	cs.Live.OnClose = func(code int, reason string) {
		if cs.IsClosed() {
			return
		}
		if code == websocket.CloseNormalClosure || !cs.Live.ReconnectionStatus().Enabled {
			log.Printf("🔌 [%s] Live session closed (code %d), ending client session", cs.shortID(), code)
			cs.Close()
			return
		}
		// The live client is redialing with the session's resumption handle;
		// keep the browser connection up and let the user know.
		if !cs.IsTwilio {
			cs.queueMessage(messages.NewStatusMessage(cs.ID, messages.StatusReconnecting, reason))
		}
	}
}

// sendAudioToTwilio converts the model's PCM output into the mu-law frames
// Twilio media streams expect.
func (cs *ClientSession) sendAudioToTwilio(pcm []byte) {
	cs.mu.RLock()
	streamSid := cs.StreamSid
	cs.mu.RUnlock()

	if streamSid == "" {
		log.Printf("⚠️ [%s] Received model audio but no StreamSid set yet", cs.shortID())
		return
	}

	// Downsample 24kHz -> 8kHz and compress PCM -> mu-law
	muLawData := audio.PCM24kToMuLaw8k(pcm)
	encoded := base64.StdEncoding.EncodeToString(muLawData)
	cs.queueMessage(messages.NewTwilioMessageBack(streamSid, encoded))
}

// writePump handles all outgoing messages in a single goroutine
func (cs *ClientSession) writePump() {
	defer func() {
		// Send close message before exiting
		cs.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
		cs.ClientConn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
	}()

	for {
		select {
		case <-cs.CloseChan:
			return
		case msg := <-cs.writeChan:
			if err := cs.writeMessage(msg); err != nil {
				return
			}

			n := len(cs.writeChan)
			for i := 0; i < n; i++ {
				select {
				case msg := <-cs.writeChan:
					if err := cs.writeMessage(msg); err != nil {
						return
					}
				default:
					// No more messages, continue outer loop
				}
			}
		}
	}
}

// writeMessage serializes and writes one outbound message. Encoding happens
// here rather than in WriteJSON so audio frames go through sonic.
func (cs *ClientSession) writeMessage(msg any) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		log.Printf("❌ [%s] Failed to encode outbound message: %v", cs.shortID(), err)
		return nil
	}
	cs.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return cs.ClientConn.WriteMessage(websocket.TextMessage, data)
}

// queueMessage adds a message to the write queue (non-blocking)
func (cs *ClientSession) queueMessage(msg any) {
	cs.mu.RLock()
	closed := cs.closed
	cs.mu.RUnlock()
	if closed {
		return
	}
	select {
	case cs.writeChan <- msg:
		cs.touch()
	default:
		// Queue full, drop message (shouldn't happen with proper sizing)
	}
}

// touch records client activity for the idle-session reaper
func (cs *ClientSession) touch() {
	cs.mu.Lock()
	cs.lastActivity = time.Now()
	cs.mu.Unlock()
}

// LastActivity returns the time of the most recent client interaction
func (cs *ClientSession) LastActivity() time.Time {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.lastActivity
}

// Close terminates the session and cleans up resources
func (cs *ClientSession) Close() error {
	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		return nil
	}
	cs.closed = true
	cs.mu.Unlock()

	cs.cancel()

	// Signal close; writePump and the readers exit on CloseChan. The write
	// channel is never closed so a queueMessage racing this teardown cannot
	// send on a closed channel.
	close(cs.CloseChan)

	// Clear audio buffer
	if cs.AudioBuffer != nil {
		cs.AudioBuffer.Clear()
	}

	// Close the live session; Disconnect also cancels any pending
	// reconnection the live client may have scheduled.
	if cs.Live != nil {
		cs.Live.Disconnect()
	}

	// Close client connection - don't write close message as writePump is stopped
	if cs.ClientConn != nil {
		cs.ClientConn.Close()
	}

	return nil
}

// handleClientMessagesFromTwilio processes Twilio WebSocket protocol messages.
// Twilio sends: connected, start, media, stop events.
// Audio is streamed directly to the model (no buffering) — it handles VAD.
func (cs *ClientSession) handleClientMessagesFromTwilio() {
	defer cs.Close()
	for {
		select {
		case <-cs.CloseChan:
			return
		default:
			_, message, err := cs.ClientConn.ReadMessage()
			if err != nil {
				if !cs.IsClosed() {
					log.Printf("❌ [%s] Twilio WebSocket read error: %v", cs.shortID(), err)
				}
				return
			}

			cs.touch()

			var msg map[string]interface{}
			if err := json.Unmarshal(message, &msg); err != nil {
				log.Printf("⚠️ [%s] Failed to parse Twilio message: %v", cs.shortID(), err)
				continue
			}

			event, ok := msg["event"].(string)
			if !ok {
				log.Printf("⚠️ [%s] Twilio message missing 'event' field", cs.shortID())
				continue
			}

			switch event {
			case "connected":
				log.Printf("📞 [%s] Twilio stream connected", cs.shortID())

			case "start":
				startData, ok := msg["start"].(map[string]interface{})
				if !ok {
					log.Printf("⚠️ [%s] Twilio 'start' event missing start data", cs.shortID())
					continue
				}
				streamSid, ok := startData["streamSid"].(string)
				if !ok {
					log.Printf("⚠️ [%s] Twilio 'start' event missing streamSid", cs.shortID())
					continue
				}
				cs.mu.Lock()
				cs.StreamSid = streamSid
				cs.mu.Unlock()
				log.Printf("📞 [%s] Twilio stream started, StreamSid: %s", cs.shortID(), streamSid)

			case "media":
				media, ok := msg["media"].(map[string]interface{})
				if !ok {
					continue
				}
				payloadStr, ok := media["payload"].(string)
				if !ok {
					continue
				}

				// Decode base64 mu-law audio from Twilio
				muLawData, err := base64.StdEncoding.DecodeString(payloadStr)
				if err != nil {
					log.Printf("⚠️ [%s] Failed to decode Twilio audio: %v", cs.shortID(), err)
					continue
				}

				// Convert mu-law (8kHz) -> PCM and upsample to 16kHz
				pcmData := audio.MuLawToPCM16k(muLawData)

				// Stream directly to the model (no buffering — it handles VAD)
				cs.Live.SendRealtimeInput([]live.RealtimeChunk{
					{MIMEType: inputMimeType, Data: pcmData},
				})

			case "stop":
				log.Printf("📞 [%s] Twilio stream stopped", cs.shortID())
				return

			case "mark":
				// Mark events are informational, ignore
				log.Printf("📞 [%s] Twilio mark event received", cs.shortID())

			default:
				log.Printf("⚠️ [%s] Unknown Twilio event: %s", cs.shortID(), event)
			}
		}
	}
}

func (cs *ClientSession) handleClientMessages() {
	defer cs.Close()

	for {
		select {
		case <-cs.CloseChan:
			return
		default:
			messageType, message, err := cs.ClientConn.ReadMessage()
			if err != nil {
				return
			}

			cs.touch()

			// Handle binary messages (raw PCM audio) - buffer instead of sending immediately
			if messageType == websocket.BinaryMessage {
				log.Printf("🎤 [%s] Buffering binary audio: %d bytes from client", cs.shortID(), len(message))
				if err := cs.AudioBuffer.Append(message); err != nil {
					cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeBufferFull,
						fmt.Sprintf("Audio buffer full (max %d bytes)", cs.AudioBuffer.MaxSize())))
				}
				continue
			}

			// Handle text messages (JSON)
			var clientMsg messages.ClientMessage
			if err := json.Unmarshal(message, &clientMsg); err != nil {
				cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, "Invalid message format"))
				continue
			}

			cs.processClientMessage(&clientMsg)
		}
	}
}

func (cs *ClientSession) processClientMessage(msg *messages.ClientMessage) {
	switch msg.Type {
	case "audio":
		var payload messages.AudioPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, "Invalid audio payload"))
			return
		}
		// Decode base64 and buffer the audio
		audioBytes, err := base64.StdEncoding.DecodeString(payload.Data)
		if err != nil {
			cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, "Invalid base64 audio data"))
			return
		}
		log.Printf("🎤 [%s] Buffering JSON audio: %d bytes from client", cs.shortID(), len(audioBytes))
		if err := cs.AudioBuffer.Append(audioBytes); err != nil {
			cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeBufferFull,
				fmt.Sprintf("Audio buffer full (max %d bytes)", cs.AudioBuffer.MaxSize())))
		}

	case "text":
		var payload messages.TextPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, "Invalid text payload"))
			return
		}
		if payload.Text == "" {
			return
		}
		log.Printf("💬 [%s] Client text turn: %d chars", cs.shortID(), len(payload.Text))
		cs.Live.SendText(payload.Text)

	case "control":
		var payload messages.ControlPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, "Invalid control payload"))
			return
		}
		cs.handleControlMessage(&payload)

	default:
		cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, "Unknown message type: "+msg.Type))
	}
}

func (cs *ClientSession) handleControlMessage(payload *messages.ControlPayload) {
	switch payload.Action {
	case "ping":
		cs.queueMessage(messages.NewStatusMessage(cs.ID, messages.StatusPong, ""))
	case "end_turn":
		// Flush buffered audio and send to the model as a batch
		cs.handleEndTurn()
	default:
		cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, "Unknown control action: "+payload.Action))
	}
}

// handleEndTurn flushes the audio buffer, streams it to the model and signals
// the end of the audio turn so the model responds.
func (cs *ClientSession) handleEndTurn() {
	if cs.AudioBuffer.IsEmpty() {
		log.Printf("⚠️ [%s] end_turn received but buffer is empty, ignoring", cs.shortID())
		return
	}
	// Get chunk count before flushing (Flush clears the buffer)
	chunkCount := cs.AudioBuffer.ChunkCount()

	// Flush all buffered audio
	audioData := cs.AudioBuffer.Flush()
	log.Printf("📤 [%s] Sending batch audio to model: %d bytes (%d chunks)", cs.shortID(), len(audioData), chunkCount)

	cs.Live.SendRealtimeInput([]live.RealtimeChunk{
		{MIMEType: inputMimeType, Data: audioData},
	})
	cs.Live.EndAudioTurn()
}

// IsClosed returns whether the session is closed
func (cs *ClientSession) IsClosed() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.closed
}

// handleToolCalls processes function calls from the model and sends responses
func (cs *ClientSession) handleToolCalls(functionCalls []*genai.FunctionCall) {
	var responses []*genai.FunctionResponse

	for _, fc := range functionCalls {
		log.Printf("🔧 [%s] Function call: %s (id: %s)", cs.shortID(), fc.Name, fc.ID)

		var response map[string]any

		switch fc.Name {
		case coach.PlaybookFunctionName:
			playbook := coach.GetCoachingPlaybook()
			response = map[string]any{"output": playbook}
			log.Printf("🔧 [%s] Returning coaching playbook (%d chars)", cs.shortID(), len(playbook))

		default:
			response = map[string]any{"error": fmt.Sprintf("Unknown function: %s", fc.Name)}
			log.Printf("⚠️ [%s] Unknown function called: %s", cs.shortID(), fc.Name)
		}

		responses = append(responses, &genai.FunctionResponse{
			ID:       fc.ID,
			Name:     fc.Name,
			Response: response,
		})
	}

	// Send all responses back to the model
	cs.Live.SendToolResponse(responses)
}

// shortID returns a log-friendly session id prefix
func (cs *ClientSession) shortID() string {
	if len(cs.ID) > 8 {
		return cs.ID[:8]
	}
	return cs.ID
}

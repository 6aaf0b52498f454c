// Probe is a manual test client for the coaching server. It connects to the
// WebSocket endpoint, streams a PCM/WAV file or a typed text turn, and plays
// the model's audio replies through sox.
package main

import (
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/opencoach/livecoach/messages"
)

// AudioPlayer streams audio via sox
type AudioPlayer struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	mu     sync.Mutex
	closed bool
}

func NewAudioPlayer() *AudioPlayer {
	cmd := exec.Command("sox",
		"-t", "raw",
		"-r", "24000",
		"-b", "16",
		"-c", "1",
		"-e", "signed-integer",
		"-",
		"-d",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		log.Println("sox stdin error:", err)
		return nil
	}

	if err := cmd.Start(); err != nil {
		log.Println("sox start error:", err)
		return nil
	}

	return &AudioPlayer{cmd: cmd, stdin: stdin}
}

func (p *AudioPlayer) Play(audioData []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.stdin == nil {
		return
	}
	p.stdin.Write(audioData)
}

func (p *AudioPlayer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	if p.stdin != nil {
		p.stdin.Close()
	}
	if p.cmd != nil && p.cmd.Process != nil {
		p.cmd.Wait()
	}
}

func main() {
	// Flags
	serverURL := flag.String("server", "ws://localhost:8080/ws", "WebSocket server URL")
	audioFile := flag.String("file", "", "Audio file to send (PCM or WAV)")
	text := flag.String("text", "", "Text turn to send instead of audio")
	wait := flag.Duration("wait", 30*time.Second, "How long to wait for a reply")
	flag.Parse()

	if *audioFile == "" && *text == "" {
		log.Fatal("Provide -file or -text")
	}

	log.Printf("🔌 Connecting to %s...", *serverURL)

	// Connect to server
	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	log.Println("✅ Connected!")

	// Setup audio player
	player := NewAudioPlayer()
	if player == nil {
		log.Fatal("Failed to create audio player (is sox installed?)")
	}
	defer player.Close()

	// Handle interrupt
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})

	// Read responses from server
	go func() {
		defer close(done)
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				log.Println("Read error:", err)
				return
			}

			var msg struct {
				Type      string          `json:"type"`
				SessionID string          `json:"sessionId,omitempty"`
				Payload   json.RawMessage `json:"payload"`
			}
			if err := sonic.Unmarshal(message, &msg); err != nil {
				log.Println("Parse error:", err)
				continue
			}

			switch msg.Type {
			case messages.TypeAudio:
				var payload messages.AudioResponsePayload
				sonic.Unmarshal(msg.Payload, &payload)
				audioBytes, err := base64.StdEncoding.DecodeString(payload.Data)
				if err == nil {
					log.Printf("🔊 Playing audio: %d bytes", len(audioBytes))
					player.Play(audioBytes)
				}

			case messages.TypeText:
				var payload messages.TextResponsePayload
				sonic.Unmarshal(msg.Payload, &payload)
				fmt.Printf("📝 %s\n", payload.Text)

			case messages.TypeStatus:
				var payload messages.StatusPayload
				sonic.Unmarshal(msg.Payload, &payload)
				log.Printf("📊 Status: %s %s", payload.Status, payload.Message)
				if payload.Status == messages.StatusTurnComplete {
					log.Println("--- Turn complete ---")
				}

			case messages.TypeError:
				log.Printf("❌ Error: %s", string(msg.Payload))
			}
		}
	}()

	// Wait for connected status
	time.Sleep(500 * time.Millisecond)

	if *text != "" {
		sendText(conn, *text)
	} else {
		sendAudio(conn, *audioFile)
	}

	// Wait for response or interrupt
	select {
	case <-done:
		log.Println("Connection closed")
	case <-interrupt:
		log.Println("\n👋 Interrupted, closing...")
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	case <-time.After(*wait):
		log.Println("⏰ Timeout waiting for response")
	}
}

func sendText(conn *websocket.Conn, text string) {
	log.Printf("📤 Sending text turn: %s", text)
	payload, _ := sonic.Marshal(messages.TextPayload{Text: text})
	msg, _ := sonic.Marshal(messages.ClientMessage{Type: "text", Payload: payload})
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		log.Fatalf("Send error: %v", err)
	}
}

func sendAudio(conn *websocket.Conn, path string) {
	// Load and send audio file
	log.Printf("📤 Sending audio file: %s", path)

	audioData, err := loadAudioFile(path)
	if err != nil {
		log.Fatalf("Failed to load audio: %v", err)
	}

	// Send audio in chunks (simulating real-time streaming)
	chunkSize := 3200 // 100ms at 16kHz
	for i := 0; i < len(audioData); i += chunkSize {
		end := i + chunkSize
		if end > len(audioData) {
			end = len(audioData)
		}
		chunk := audioData[i:end]

		// Send as binary (more efficient)
		if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			log.Printf("Send error: %v", err)
			return
		}

		log.Printf("📤 Sent chunk %d/%d (%d bytes)", i/chunkSize+1, (len(audioData)+chunkSize-1)/chunkSize, len(chunk))

		// Simulate real-time streaming pace
		time.Sleep(100 * time.Millisecond)
	}

	// Tell the server the turn is over so it flushes the buffer
	payload, _ := sonic.Marshal(messages.ControlPayload{Action: "end_turn"})
	msg, _ := sonic.Marshal(messages.ClientMessage{Type: "control", Payload: payload})
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		log.Fatalf("Send error: %v", err)
	}

	log.Println("✅ Audio sent, waiting for response...")
}

// loadAudioFile loads PCM or WAV file and returns raw PCM bytes
func loadAudioFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Check if it's a WAV file (starts with "RIFF")
	if len(data) > 44 && string(data[0:4]) == "RIFF" {
		// Skip WAV header (44 bytes for standard WAV)
		log.Println("📁 Detected WAV file, skipping header")
		return data[44:], nil
	}

	// Assume raw PCM
	log.Println("📁 Detected raw PCM file")
	return data, nil
}

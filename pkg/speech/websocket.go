package speech

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// SocketSynthesizer streams text to the backend's websocket TTS endpoint and
// reads back one binary audio frame per sentence. The connection is shared
// across calls; a mutex keeps request/response pairs in lockstep.
type SocketSynthesizer struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// DialSocketSynthesizer connects to the backend TTS websocket, typically
// ws://<backend>/ws/tts.
func DialSocketSynthesizer(ctx context.Context, wsURL string) (*SocketSynthesizer, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial tts websocket: %w", err)
	}
	return &SocketSynthesizer{conn: conn}, nil
}

type ttsFrame struct {
	Text string `json:"text"`
}

func (s *SocketSynthesizer) Synthesize(ctx context.Context, sentence string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetReadDeadline(deadline)
		_ = s.conn.SetWriteDeadline(deadline)
	}

	if err := s.conn.WriteJSON(ttsFrame{Text: sentence}); err != nil {
		return nil, fmt.Errorf("failed to send tts text: %w", err)
	}

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("failed to read tts audio: %w", err)
		}
		if msgType == websocket.BinaryMessage {
			return data, nil
		}
		// text frames are status noise, keep waiting for audio
	}
}

func (s *SocketSynthesizer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

package media

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Media stream event names. The envelope follows the carrier's media-stream
// convention; "turn" carries a transcript packet from the speech recognizer.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventTurn      = "turn"
	EventMark      = "mark"
	EventClear     = "clear"
	EventStop      = "stop"
)

var ErrStreamClosed = errors.New("media: stream closed")

type StartInfo struct {
	StreamSID    string            `json:"streamSid"`
	CallSID      string            `json:"callSid"`
	Tracks       []string          `json:"tracks,omitempty"`
	MediaFormat  Format            `json:"mediaFormat"`
	CustomParams map[string]string `json:"customParameters,omitempty"`
}

type Format struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type markInfo struct {
	Name string `json:"name"`
}

type mediaPayload struct {
	Track   string `json:"track,omitempty"`
	Payload string `json:"payload"`
}

// Message is one inbound stream message.
type Message struct {
	Event     string          `json:"event"`
	StreamSID string          `json:"streamSid,omitempty"`
	Start     *StartInfo      `json:"start,omitempty"`
	Turn      json.RawMessage `json:"turn,omitempty"`
	Mark      *markInfo       `json:"mark,omitempty"`
}

// MarkName returns the mark's name, or "".
func (m Message) MarkName() string {
	if m.Mark == nil {
		return ""
	}
	return m.Mark.Name
}

type outbound struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid"`
	Media     *mediaPayload `json:"media,omitempty"`
	Mark      *markInfo     `json:"mark,omitempty"`
}

// Stream wraps one media WebSocket. Reads must come from a single
// goroutine; writes are serialized internally and may come from any.
type Stream struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	onFrames     func(n int)

	writeMu sync.Mutex

	mu        sync.RWMutex
	streamSID string
	callSID   string
	params    map[string]string
	closed    bool
	closeOnce sync.Once
}

type StreamConfig struct {
	WriteTimeout time.Duration
	ReadLimit    int64
	// OnFrames observes how many audio frames were written.
	OnFrames func(n int)
}

func NewStream(conn *websocket.Conn, cfg StreamConfig) *Stream {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.ReadLimit > 0 {
		conn.SetReadLimit(cfg.ReadLimit)
	}
	return &Stream{conn: conn, writeTimeout: cfg.WriteTimeout, onFrames: cfg.OnFrames}
}

// Next reads the next inbound message. Undecodable messages are skipped. A
// start message records the stream and call identifiers.
func (s *Stream) Next() (Message, error) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return Message{}, err
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Event == EventStart && msg.Start != nil {
			s.mu.Lock()
			s.streamSID = msg.Start.StreamSID
			if s.streamSID == "" {
				s.streamSID = msg.StreamSID
			}
			s.callSID = msg.Start.CallSID
			s.params = msg.Start.CustomParams
			s.mu.Unlock()
		}
		return msg, nil
	}
}

// CallID returns the call identifier from the start message.
func (s *Stream) CallID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.callSID
}

func (s *Stream) StreamID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streamSID
}

// Param returns a custom start parameter.
func (s *Stream) Param(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params[key]
}

// SendFrames writes each frame as a base64 media message and then a mark
// named mark, if non-empty, so the far end can report playback completion.
func (s *Stream) SendFrames(frames [][]byte, mark string) error {
	sid := s.StreamID()
	sent := 0
	defer func() {
		if s.onFrames != nil {
			s.onFrames(sent)
		}
	}()
	for _, f := range frames {
		if err := s.write(outbound{
			Event:     EventMedia,
			StreamSID: sid,
			Media:     &mediaPayload{Payload: base64.StdEncoding.EncodeToString(f)},
		}); err != nil {
			return fmt.Errorf("send frame %d/%d: %w", sent+1, len(frames), err)
		}
		sent++
	}
	if mark == "" {
		return nil
	}
	return s.SendMark(mark)
}

func (s *Stream) SendMark(name string) error {
	return s.write(outbound{Event: EventMark, StreamSID: s.StreamID(), Mark: &markInfo{Name: name}})
}

// Clear asks the far end to drop audio it has buffered but not yet played.
func (s *Stream) Clear() error {
	return s.write(outbound{Event: EventClear, StreamSID: s.StreamID()})
}

func (s *Stream) write(msg outbound) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return ErrStreamClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return s.conn.WriteJSON(msg)
}

// Close sends a normal close frame and closes the connection.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(s.writeTimeout))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

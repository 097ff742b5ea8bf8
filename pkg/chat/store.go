package chat

import (
	"errors"
	"strings"
	"sync"
)

// ErrFoldRejected is returned when a chunk batch cannot be folded into the
// latest message because its content is no longer a plain-text shape. The
// message list is left untouched; the caller decides how loudly to complain.
var ErrFoldRejected = errors.New("chat: latest message content is not text, fold rejected")

// UpdateLatestMessage folds a batch of parsed chunks into the last message of
// the list. The chunk contents are concatenated, unescaped and appended to
// the latest message's content, preserving its variant shape. A new slice is
// returned; every element but the last is the same value as in the input.
//
// Folding only applies to PlainText content or a single text Unit. Any other
// shape means the turn was already finalized into structured content, and
// appending raw deltas to it would corrupt the shape.
func UpdateLatestMessage(messages []Message, chunks []StreamChunk) ([]Message, error) {
	if len(messages) == 0 || len(chunks) == 0 {
		return messages, nil
	}

	var delta strings.Builder
	for _, c := range chunks {
		delta.WriteString(c.Content)
	}
	text := unescapeDelta(delta.String())

	last := messages[len(messages)-1]
	switch content := last.Content.(type) {
	case PlainText:
		last.Content = content + PlainText(text)
	case Unit:
		if content.Type != UnitText {
			return messages, ErrFoldRejected
		}
		content.Text += text
		last.Content = content
	case Sequence:
		return messages, ErrFoldRejected
	case nil:
		last.Content = PlainText(text)
	default:
		return messages, ErrFoldRejected
	}

	updated := make([]Message, len(messages))
	copy(updated, messages)
	updated[len(updated)-1] = last
	return updated, nil
}

// unescapeDelta decodes the backslash escapes the backend applies so deltas
// survive SSE line framing: "\n" becomes a newline, "\\" a backslash, and a
// trailing bare backslash (line continuation) is dropped.
func unescapeDelta(s string) string {
	if !strings.Contains(s, "\\") {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		if i == len(s)-1 {
			// trailing continuation marker
			break
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// Store holds the ordered message list for one session. It is append-only
// except for the last element, which chunk folding replaces while a turn is
// streaming.
type Store struct {
	mu       sync.RWMutex
	messages []Message
}

func NewStore() *Store {
	return &Store{}
}

// Seed replaces the whole list, used when loading persisted history.
func (s *Store) Seed(messages []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = make([]Message, len(messages))
	copy(s.messages, messages)
}

func (s *Store) Append(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
}

// Fold applies UpdateLatestMessage to the stored list.
func (s *Store) Fold(chunks []StreamChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	updated, err := UpdateLatestMessage(s.messages, chunks)
	if err != nil {
		return err
	}
	s.messages = updated
	return nil
}

// ReplaceLast swaps the final message, used to substitute the apology text
// when a turn fails.
func (s *Store) ReplaceLast(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		s.messages = []Message{msg}
		return
	}
	s.messages[len(s.messages)-1] = msg
}

// Messages returns a snapshot of the list. Elements are shared values; the
// slice itself is the caller's.
func (s *Store) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Latest returns the most recent message, the only one chunk folding may
// touch.
func (s *Store) Latest() (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.messages) == 0 {
		return Message{}, false
	}
	return s.messages[len(s.messages)-1], true
}

// Reset empties the store, used after clearing persisted history.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
}

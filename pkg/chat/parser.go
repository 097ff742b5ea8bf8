package chat

import "strings"

const (
	thinkingOpen  = "<thinking>"
	thinkingClose = "</thinking>"
)

// ChunkType classifies a parser output chunk.
type ChunkType string

const (
	ChunkText     ChunkType = "text"
	ChunkThinking ChunkType = "thinking"
	ChunkToolUse  ChunkType = "tool_use"
)

// StreamChunk is the parser's atomic output: a run of stream bytes with its
// classification. Speakable is true only for visible text.
type StreamChunk struct {
	Type      ChunkType
	Content   string
	Speakable bool
}

// StreamParser incrementally classifies an assistant output stream into text
// and thinking runs. It is a two-state machine (inside or outside a
// <thinking> span) whose buffer carries unconsumed input between calls, so a
// delimiter split across fragments is still recognized once reassembled.
//
// When a fragment contains no complete delimiter the whole remainder is
// emitted and the buffer cleared. A fragment that happens to end mid-delimiter
// (e.g. "...<thi") is therefore classified before the rest of the tag
// arrives; a delimiter is only consumed when it lands whole in one buffer
// state. No bytes are ever lost either way.
type StreamParser struct {
	buffer     string
	inThinking bool
}

func NewStreamParser() *StreamParser {
	return &StreamParser{}
}

// ParseChunk appends fragment to the carry-over buffer and returns the
// ordered chunks for the newly consumed input. Previously returned content is
// never re-emitted. Delimiters are emitted as their own non-speakable
// thinking chunks carrying the literal tag, so concatenating chunk contents
// reproduces the stream byte-for-byte.
func (p *StreamParser) ParseChunk(fragment string) []StreamChunk {
	p.buffer += fragment
	var chunks []StreamChunk

	for len(p.buffer) > 0 {
		start := strings.Index(p.buffer, thinkingOpen)
		end := strings.Index(p.buffer, thinkingClose)

		if start == -1 && end == -1 {
			chunks = append(chunks, p.classified(p.buffer))
			p.buffer = ""
			break
		}

		if start != -1 && (end == -1 || start < end) {
			if start > 0 {
				chunks = append(chunks, p.classified(p.buffer[:start]))
			}
			p.inThinking = true
			chunks = append(chunks, StreamChunk{
				Type:      ChunkThinking,
				Content:   thinkingOpen,
				Speakable: false,
			})
			p.buffer = p.buffer[start+len(thinkingOpen):]
			continue
		}

		if end > 0 {
			chunks = append(chunks, StreamChunk{
				Type:      ChunkThinking,
				Content:   p.buffer[:end],
				Speakable: false,
			})
		}
		p.inThinking = false
		chunks = append(chunks, StreamChunk{
			Type:      ChunkThinking,
			Content:   thinkingClose,
			Speakable: false,
		})
		p.buffer = p.buffer[end+len(thinkingClose):]
	}

	return chunks
}

// classified wraps a run of plain content in a chunk typed by the current
// parser state.
func (p *StreamParser) classified(content string) StreamChunk {
	if p.inThinking {
		return StreamChunk{Type: ChunkThinking, Content: content, Speakable: false}
	}
	return StreamChunk{Type: ChunkText, Content: content, Speakable: true}
}

// InThinking reports whether the parser is currently inside a thinking span.
func (p *StreamParser) InThinking() bool {
	return p.inThinking
}

// Reset clears parser state between turns.
func (p *StreamParser) Reset() {
	p.buffer = ""
	p.inThinking = false
}

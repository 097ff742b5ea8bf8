package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// UnitType identifies one variant of structured message content.
type UnitType string

const (
	UnitText       UnitType = "text"
	UnitThinking   UnitType = "thinking"
	UnitToolUse    UnitType = "tool_use"
	UnitToolResult UnitType = "tool_result"
)

// ContentUnit is a single typed block inside an assistant turn. ToolUseID
// correlates a tool_use block with its tool_result block.
type ContentUnit struct {
	Type      UnitType `json:"type"`
	Text      string   `json:"text,omitempty"`
	Content   string   `json:"content,omitempty"`
	ToolUseID string   `json:"tool_use_id,omitempty"`
}

// Content is the closed set of shapes a message body can take: a plain
// string, a single typed unit, or an ordered sequence of units. Consumers
// switch exhaustively over these three variants.
type Content interface {
	isContent()
}

// PlainText is the common case: the whole turn as one string.
type PlainText string

// Unit wraps a single typed content block.
type Unit ContentUnit

// Sequence is an ordered run of typed content blocks.
type Sequence []ContentUnit

func (PlainText) isContent() {}
func (Unit) isContent()      {}
func (Sequence) isContent()  {}

// Message is one turn in a conversation.
type Message struct {
	ID        string
	Role      string
	Content   Content
	Timestamp time.Time
}

// Clock supplies message timestamps. Inject a fixed one in tests; everything
// else passes time.Now.
type Clock func() time.Time

func NewUserMessage(text string) Message {
	return NewUserMessageAt(time.Now(), text)
}

func NewUserMessageAt(ts time.Time, text string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Content:   PlainText(strings.TrimSpace(text)),
		Timestamp: ts,
	}
}

func NewAssistantMessage(text string) Message {
	return NewAssistantMessageAt(time.Now(), text)
}

func NewAssistantMessageAt(ts time.Time, text string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Content:   PlainText(text),
		Timestamp: ts,
	}
}

// NewAssistantPlaceholder creates the empty assistant message that stream
// chunks fold into while a turn is in flight.
func NewAssistantPlaceholder() Message {
	return NewAssistantMessage("")
}

// NewAssistantPlaceholderAt is NewAssistantPlaceholder with a pinned
// timestamp.
func NewAssistantPlaceholderAt(ts time.Time) Message {
	return NewAssistantMessageAt(ts, "")
}

func (m Message) IsUser() bool {
	return m.Role == RoleUser
}

func (m Message) IsAssistant() bool {
	return m.Role == RoleAssistant
}

func (m Message) IsEmpty() bool {
	return strings.TrimSpace(FlattenContent(m.Content)) == ""
}

// FlattenContent renders a content value back to raw text, delimiters
// included. Tool blocks contribute their content verbatim.
func FlattenContent(c Content) string {
	switch v := c.(type) {
	case nil:
		return ""
	case PlainText:
		return string(v)
	case Unit:
		return unitText(ContentUnit(v))
	case Sequence:
		var b strings.Builder
		for _, u := range v {
			b.WriteString(unitText(u))
		}
		return b.String()
	}
	return ""
}

func unitText(u ContentUnit) string {
	if u.Text != "" {
		return u.Text
	}
	return u.Content
}

// VisibleText strips thinking spans from a content value, leaving only the
// text a user should see (and a speech queue should say).
func VisibleText(c Content) string {
	switch v := c.(type) {
	case nil:
		return ""
	case PlainText:
		return stripThinking(string(v))
	case Unit:
		return visibleUnitText(ContentUnit(v))
	case Sequence:
		var b strings.Builder
		for _, u := range v {
			b.WriteString(visibleUnitText(u))
		}
		return b.String()
	}
	return ""
}

func visibleUnitText(u ContentUnit) string {
	switch u.Type {
	case UnitText:
		return stripThinking(u.Text)
	case UnitThinking, UnitToolUse, UnitToolResult:
		return ""
	}
	return ""
}

// stripThinking removes <thinking>...</thinking> spans from raw text. An
// unterminated span swallows the rest of the string, matching how the
// renderer treats an in-flight turn.
func stripThinking(s string) string {
	var b strings.Builder
	for {
		open := strings.Index(s, thinkingOpen)
		if open == -1 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:open])
		s = s[open+len(thinkingOpen):]
		end := strings.Index(s, thinkingClose)
		if end == -1 {
			return b.String()
		}
		s = s[end+len(thinkingClose):]
	}
}

// PairToolResults matches tool_result units to earlier tool_use units by
// correlation id. Unmatched ids are simply absent from the map; correlation
// is best-effort, never an error.
func PairToolResults(units []ContentUnit) map[string]ContentUnit {
	results := make(map[string]ContentUnit)
	for _, u := range units {
		if u.Type == UnitToolResult && u.ToolUseID != "" {
			results[u.ToolUseID] = u
		}
	}
	return results
}

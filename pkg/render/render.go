package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/lipgloss"
	"github.com/knowtide/knowtide/pkg/chat"
)

// Renderer formats chat messages for the terminal. Thinking spans are styled
// dim red so they read as the assistant's scratch work, or hidden entirely
// when ShowThinking is off. Fenced code blocks are syntax highlighted.
type Renderer struct {
	ShowThinking bool

	userLabel      lipgloss.Style
	assistantLabel lipgloss.Style
	thinking       lipgloss.Style
	toolLabel      lipgloss.Style
}

func NewRenderer(showThinking bool) *Renderer {
	return &Renderer{
		ShowThinking:   showThinking,
		userLabel:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		assistantLabel: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		thinking:       lipgloss.NewStyle().Faint(true).Foreground(lipgloss.Color("9")),
		toolLabel:      lipgloss.NewStyle().Faint(true),
	}
}

// Message renders one message with its role label.
func (r *Renderer) Message(msg chat.Message) string {
	label := r.assistantLabel.Render("Tutor")
	if msg.IsUser() {
		label = r.userLabel.Render("You")
	}
	return fmt.Sprintf("%s: %s", label, r.Content(msg.Content))
}

// Content renders a message body, handling every content variant.
func (r *Renderer) Content(c chat.Content) string {
	switch v := c.(type) {
	case nil:
		return ""
	case chat.PlainText:
		return r.text(string(v))
	case chat.Unit:
		return r.unit(chat.ContentUnit(v))
	case chat.Sequence:
		parts := make([]string, 0, len(v))
		for _, u := range v {
			if rendered := r.unit(u); rendered != "" {
				parts = append(parts, rendered)
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

func (r *Renderer) unit(u chat.ContentUnit) string {
	switch u.Type {
	case chat.UnitText:
		return r.text(u.Text)
	case chat.UnitThinking:
		if !r.ShowThinking {
			return ""
		}
		return r.thinking.Render(u.Text)
	case chat.UnitToolUse:
		return r.toolLabel.Render("Tool Use: ") + u.Content
	case chat.UnitToolResult:
		return r.toolLabel.Render("Tool Result: ") + formatToolResult(u.Content)
	}
	return ""
}

// text styles embedded thinking spans and highlights code fences in the
// visible remainder. An unterminated span stays styled to the end of the
// text, which is what an in-flight turn looks like.
func (r *Renderer) text(s string) string {
	var b strings.Builder
	inThinking := false
	for _, part := range splitOnThinkingTags(s) {
		switch part {
		case "<thinking>":
			inThinking = true
		case "</thinking>":
			inThinking = false
		default:
			if inThinking {
				if r.ShowThinking {
					b.WriteString(r.thinking.Render(part))
				}
			} else {
				b.WriteString(highlightCodeBlocks(part))
			}
		}
	}
	return b.String()
}

// splitOnThinkingTags splits text keeping the delimiters as entries.
func splitOnThinkingTags(s string) []string {
	var parts []string
	for len(s) > 0 {
		open := strings.Index(s, "<thinking>")
		closing := strings.Index(s, "</thinking>")

		next, tag := -1, ""
		if open != -1 && (closing == -1 || open < closing) {
			next, tag = open, "<thinking>"
		} else if closing != -1 {
			next, tag = closing, "</thinking>"
		}

		if next == -1 {
			parts = append(parts, s)
			break
		}
		if next > 0 {
			parts = append(parts, s[:next])
		}
		parts = append(parts, tag)
		s = s[next+len(tag):]
	}
	return parts
}

// highlightCodeBlocks runs fenced code through chroma. Anything that fails
// to highlight is emitted verbatim.
func highlightCodeBlocks(s string) string {
	if !strings.Contains(s, "```") {
		return s
	}

	var b strings.Builder
	segments := strings.Split(s, "```")
	for i, segment := range segments {
		if i%2 == 0 {
			b.WriteString(segment)
			continue
		}
		lang := ""
		code := segment
		if nl := strings.IndexByte(segment, '\n'); nl != -1 {
			lang = strings.TrimSpace(segment[:nl])
			code = segment[nl+1:]
		}

		var highlighted bytes.Buffer
		if err := quick.Highlight(&highlighted, code, lang, "terminal256", "monokai"); err != nil {
			b.WriteString("```")
			b.WriteString(segment)
			b.WriteString("```")
			continue
		}
		b.WriteString(highlighted.String())
	}
	return b.String()
}

func formatToolResult(content string) string {
	var parsed any
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return content
	}
	pretty, err := json.MarshalIndent(parsed, "", "  ")
	if err != nil {
		return content
	}
	return string(pretty)
}

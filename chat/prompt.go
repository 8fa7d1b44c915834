package chat

import "strings"

// Role-tagged segment markers. Each segment is opened by a start marker
// carrying the role name and closed by an end marker; the composed prompt
// ends with an open assistant start marker so the model completes it.
const (
	segStart = "<|im_start|>"
	segEnd   = "<|im_end|>\n"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

func writeSegment(sb *strings.Builder, role, text string) {
	sb.WriteString(segStart)
	sb.WriteString(role)
	sb.WriteByte('\n')
	sb.WriteString(text)
	sb.WriteByte('\n')
	sb.WriteString(segEnd)
}

// BuildPrompt flattens the system prompt, the history snapshot in
// chronological order and the new user message into one prompt string.
// Pure: identical inputs yield a byte-identical prompt.
func BuildPrompt(system string, turns []Turn, userText string) string {
	var sb strings.Builder
	writeSegment(&sb, RoleSystem, system)
	for _, t := range turns {
		writeSegment(&sb, RoleUser, t.User)
		writeSegment(&sb, RoleAssistant, t.Assistant)
	}
	writeSegment(&sb, RoleUser, userText)
	// Open assistant marker, deliberately left unclosed.
	sb.WriteString(segStart)
	sb.WriteString(RoleAssistant)
	sb.WriteByte('\n')
	return sb.String()
}

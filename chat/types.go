package chat

import (
	"strings"

	"github.com/google/uuid"

	"github.com/fabfab/docpilot/llm"
)

// Message is one turn in the conversation. User turns may carry the context
// block that was attached to them and the pages it came from.
type Message struct {
	ID      uuid.UUID
	Role    string
	Content string
	Context string
	Pages   []int
}

func NewUserMessage(content string) Message {
	return Message{ID: uuid.New(), Role: llm.RoleUser, Content: content}
}

func NewAssistantMessage(content string) Message {
	return Message{ID: uuid.New(), Role: llm.RoleAssistant, Content: content}
}

// Callbacks deliver streaming results. OnComplete and OnError are mutually
// exclusive and fire at most once per session; a cancelled session fires
// neither.
type Callbacks struct {
	OnChunk    func(text string)
	OnComplete func(full string)
	OnError    func(err error)
}

const systemPrompt = "You are an assistant answering questions about a document the user has open. Ground your answers in the document context supplied with the question, citing page numbers when you use it. If the context does not cover the question, say so and answer from general knowledge."

// promptMessages builds the wire messages: the system instruction plus a
// trimmed trailing window of the conversation, each user turn suffixed with
// its attached context block.
func promptMessages(history []Message, maxHistory int) []llm.Message {
	if maxHistory > 0 && len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}

	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	for _, msg := range history {
		content := msg.Content
		if msg.Context != "" {
			var sb strings.Builder
			sb.WriteString(content)
			sb.WriteString("\n\nDocument context:\n")
			sb.WriteString(msg.Context)
			content = sb.String()
		}
		messages = append(messages, llm.Message{Role: msg.Role, Content: content})
	}
	return messages
}

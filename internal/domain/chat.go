package domain

// Role identifies the author of a ChatMessage.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is the provider-agnostic chat message shape used by the handler,
// the relay and the client session. Order within a conversation is replayed
// verbatim to the upstream provider.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// LastContent returns the content of the final message, or "" for an empty
// conversation. It is the message half of the signed payload.
func LastContent(messages []ChatMessage) string {
	if len(messages) == 0 {
		return ""
	}
	return messages[len(messages)-1].Content
}

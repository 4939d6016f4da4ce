// Package types holds the message and model types shared between the agent
// loop and LLM providers.
package types

// MessageRole identifies the author of a message.
type MessageRole string

const (
	// RoleSystem is used for the system prompt.
	RoleSystem MessageRole = "system"
	// RoleUser is used for task, page state and action results.
	RoleUser MessageRole = "user"
	// RoleAssistant is used for decisions returned by the model.
	RoleAssistant MessageRole = "assistant"
)

// PartType identifies the kind of a content part.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
)

// ContentPart is one segment of a multipart message.
type ContentPart struct {
	Type PartType
	Text string
	// ImageBase64 holds PNG bytes encoded as standard base64 (no data: prefix).
	ImageBase64 string
}

// Message is a role-tagged message sent to or received from a provider.
// When Parts is non-empty it takes precedence over Content.
type Message struct {
	Role    MessageRole
	Content string
	Parts   []ContentPart
}

// NewMessage creates a plain text message with the given role.
func NewMessage(role MessageRole, content string) *Message {
	return &Message{Role: role, Content: content}
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) *Message {
	return NewMessage(RoleSystem, content)
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) *Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) *Message {
	return NewMessage(RoleAssistant, content)
}

// NewImageMessage creates a user message with a text part followed by an
// inline PNG image part.
func NewImageMessage(text, pngBase64 string) *Message {
	return &Message{
		Role: RoleUser,
		Parts: []ContentPart{
			{Type: PartText, Text: text},
			{Type: PartImage, ImageBase64: pngBase64},
		},
	}
}

// HasImage reports whether the message carries an image part.
func (m *Message) HasImage() bool {
	for _, p := range m.Parts {
		if p.Type == PartImage {
			return true
		}
	}
	return false
}

// Text returns the textual content of the message, joining text parts.
func (m *Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	out := ""
	for _, p := range m.Parts {
		if p.Type != PartText {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += p.Text
	}
	return out
}

// ModelInfo describes the model a provider talks to.
type ModelInfo struct {
	Provider          string
	Name              string
	MaxTokens         int
	SupportsStreaming bool
	SupportsVision    bool
	Metadata          map[string]interface{}
}

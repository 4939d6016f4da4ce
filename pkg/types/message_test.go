package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageText(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
		want string
	}{
		{
			name: "plain content",
			msg:  NewUserMessage("hello"),
			want: "hello",
		},
		{
			name: "text parts joined",
			msg: &Message{Role: RoleUser, Parts: []ContentPart{
				{Type: PartText, Text: "a"},
				{Type: PartImage, ImageBase64: "AAAA"},
				{Type: PartText, Text: "b"},
			}},
			want: "a\nb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.msg.Text())
		})
	}
}

func TestNewImageMessage(t *testing.T) {
	msg := NewImageMessage("state", "iVBORw0K")

	assert.Equal(t, RoleUser, msg.Role)
	assert.True(t, msg.HasImage())
	assert.Equal(t, "state", msg.Text())
	assert.False(t, NewUserMessage("x").HasImage())
}

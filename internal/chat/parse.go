package chat

import (
	"encoding/json"
	"fmt"
)

// Conversation is one parsed model turn: the bot's reply and a suggested
// learner answer, each with a translation.
type Conversation struct {
	BotReply                 string `json:"bot_reply"`
	BotReplyTranslated       string `json:"bot_reply_translated"`
	SuggestedReply           string `json:"suggested_reply"`
	SuggestedReplyTranslated string `json:"suggested_reply_translated"`
}

type conversationEnvelope struct {
	Conversation *Conversation `json:"conversation"`
}

// ParseConversation interprets raw completion text as a conversation turn.
// The model's output is untrusted input: invalid JSON, a missing
// "conversation" object, or any missing field fails with ErrMalformedReply.
// No defaults, no coercion.
func ParseConversation(raw string) (*Conversation, error) {
	var env conversationEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	if env.Conversation == nil {
		return nil, fmt.Errorf("%w: missing conversation object", ErrMalformedReply)
	}

	c := env.Conversation
	for field, v := range map[string]string{
		"bot_reply":                  c.BotReply,
		"bot_reply_translated":       c.BotReplyTranslated,
		"suggested_reply":            c.SuggestedReply,
		"suggested_reply_translated": c.SuggestedReplyTranslated,
	} {
		if v == "" {
			return nil, fmt.Errorf("%w: missing field %q", ErrMalformedReply, field)
		}
	}
	return c, nil
}

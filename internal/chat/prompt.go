package chat

import "github.com/kaiwa-app/kaiwa/internal/ai"

// ComposePrompt assembles the exact ordered message list for a completion
// call: system instructions first, then the rolling history in chronological
// order. Pure function; the caller supplies already-fetched state.
func ComposePrompt(setup Setup, history []ai.Message) []ai.Message {
	out := make([]ai.Message, 0, len(setup.Messages)+len(history))
	out = append(out, setup.Messages...)
	out = append(out, history...)
	return out
}

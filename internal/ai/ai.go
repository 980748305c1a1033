package ai

import "context"

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes one completion call. JSONResponse asks the upstream to
// constrain output to a JSON object.
type Request struct {
	Model        string
	Messages     []Message
	MaxTokens    int
	Temperature  float32
	JSONResponse bool
}

// Gateway sends a composed prompt upstream and returns the first candidate's
// text verbatim. Implementations make a single attempt with a bounded timeout;
// retry policy belongs to the caller.
type Gateway interface {
	Complete(ctx context.Context, req Request) (string, error)
}

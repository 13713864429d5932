// Package provider adapts a handful of hosted LLM chat APIs to a single
// Client interface, so an example executor can wrap any one of them as a
// workflow.Handler without caring which vendor answered the prompt. The
// core engine (workflow/) never imports this package: it is domain stack
// for the examples, not part of the runtime.
package provider

import "context"

// Role identifies the sender of one Message in a Prompt.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in a conversation handed to a Client.
type Message struct {
	Role    Role
	Content string
}

// Prompt is the input to a Client: a conversation. The model is chosen
// when the Client is constructed, not per Prompt.
type Prompt struct {
	Messages []Message
}

// Reply is a Client's response. Tool calling is out of scope for this
// runtime (spec.md section 1 excludes concrete agent/LLM tool-calling
// loops), so Reply carries only the generated text.
type Reply struct {
	Text string
}

// Client sends a Prompt to a hosted chat model and returns its Reply.
// Implementations translate provider-specific request/response shapes
// and must respect ctx cancellation.
type Client interface {
	Complete(ctx context.Context, p Prompt) (Reply, error)
}

func extractSystem(msgs []Message) (string, []Message) {
	var system string
	rest := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}

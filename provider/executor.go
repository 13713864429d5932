package provider

import (
	"context"
	"fmt"

	"github.com/corvidai/agentflow-go/workflow"
)

// NewExecutor builds a workflow.Executor named id that, on receiving a
// Prompt, calls client.Complete and sends the resulting Reply onward.
// Multiple provider Clients can sit behind the same Executor shape,
// letting a fan-out edge address Anthropic, OpenAI, and Gemini executors
// identically.
func NewExecutor(id string, client Client) *workflow.FuncExecutor {
	e := workflow.NewExecutor(id, workflow.ExecutorOptions{AutoSendHandlerResult: true})
	workflow.Handle(e, func(ctx context.Context, wc *workflow.Context, p Prompt) (any, error) {
		reply, err := client.Complete(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("provider: executor %s: %w", id, err)
		}
		return reply, nil
	})
	return e
}

package main

import (
	"context"

	"github.com/taleforge/dungeonmaster/pkg/llms"
	"github.com/taleforge/dungeonmaster/pkg/scheduler"
)

// schedulerChatter adapts a *scheduler.Scheduler to pkg/dm's Chatter
// interface, so the classifier, extractor, and response generator never
// import the scheduler package directly.
type schedulerChatter struct {
	sched *scheduler.Scheduler
}

func (c *schedulerChatter) Chat(ctx context.Context, messages []llms.Message, toolDefs []llms.ToolDefinition, priority llms.Priority) (llms.Response, error) {
	result, err := c.sched.Schedule(ctx, llms.RequestContext{
		Messages: messages,
		Tools:    toolDefs,
		Priority: priority,
	})
	if err != nil {
		return llms.Response{}, err
	}
	return result.Response, nil
}

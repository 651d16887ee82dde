package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tiergate/tiergate/internal/adapter/llm"
	"github.com/tiergate/tiergate/internal/domain/saga"
	"github.com/tiergate/tiergate/internal/domain/workflow"
	"github.com/tiergate/tiergate/internal/port/toolrunner"
)

// AgentNodeRunner returns a NodeFunc that executes agent nodes against the
// LLM proxy. The node config supplies the prompt; the response is written to
// the state key named by config "output" (default "response").
func AgentNodeRunner(client *llm.Client, model string, maxTokens int) NodeFunc {
	return func(ctx context.Context, node *workflow.Node, state map[string]any) (*StepResult, error) {
		prompt, _ := node.Config["prompt"].(string)
		if prompt == "" {
			return nil, fmt.Errorf("agent node %s: missing prompt in config", node.Name)
		}
		if input, ok := state["input"].(string); ok && input != "" {
			prompt = prompt + "\n\nInput:\n" + input
		}

		resp, err := client.ChatCompletion(ctx, llm.ChatCompletionRequest{
			Model:     model,
			Messages:  []llm.ChatMessage{{Role: "user", Content: prompt}},
			MaxTokens: maxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("agent node %s: %w", node.Name, err)
		}

		outputKey := "response"
		if k, ok := node.Config["output"].(string); ok && k != "" {
			outputKey = k
		}

		return &StepResult{
			State:      map[string]any{outputKey: resp.Content},
			Artifacts:  map[string]string{node.Name: resp.Content},
			TokensUsed: int64(resp.TokensIn + resp.TokensOut),
		}, nil
	}
}

// ToolNodeRunner returns a NodeFunc that executes tool nodes through the
// tool-runner boundary. The node config names the tool and carries its data.
func ToolNodeRunner(runner toolrunner.Runner) NodeFunc {
	return func(ctx context.Context, node *workflow.Node, state map[string]any) (*StepResult, error) {
		toolID, _ := node.Config["tool_id"].(string)
		if toolID == "" {
			return nil, fmt.Errorf("tool node %s: missing tool_id in config", node.Name)
		}

		var data json.RawMessage
		if raw, ok := node.Config["data"]; ok {
			encoded, err := json.Marshal(raw)
			if err != nil {
				return nil, fmt.Errorf("tool node %s: encode data: %w", node.Name, err)
			}
			data = encoded
		}

		res, err := runner.Execute(ctx, saga.Operation{
			Type:   saga.OpToolCall,
			ToolID: toolID,
			Data:   data,
		})
		if err != nil {
			return nil, fmt.Errorf("tool node %s: %w", node.Name, err)
		}

		step := &StepResult{
			TokensUsed: res.TokensUsed,
			CostUSD:    res.CostUSD,
		}
		if len(res.Output) > 0 {
			step.State = map[string]any{node.Name + "_output": string(res.Output)}
			step.Artifacts = map[string]string{node.Name: string(res.Output)}
		}
		return step, nil
	}
}

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/llm"
	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/model"
	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/tracker"
)

// llmTaskSpec is the structured shape the decomposition prompt asks the LLM
// collaborator to return (§6: "structured JSON per worker schema out").
type llmTaskSpec struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Dependencies  []string `json:"dependencies"`
	EstimatedMins int      `json:"estimated_minutes"`
}

// LLMDecomposer turns one work item into an ExecutionPlan by asking an LLM
// collaborator (via a fallback chain of providers) to break it into a task
// DAG.
type LLMDecomposer struct {
	chain       *llm.FallbackChain
	concurrency int
}

// NewLLMDecomposer constructs a Decomposer backed by chain, planning at the
// given default concurrency (clamped into the plan's legal range).
func NewLLMDecomposer(chain *llm.FallbackChain, concurrency int) *LLMDecomposer {
	return &LLMDecomposer{chain: chain, concurrency: model.ClampConcurrency(concurrency)}
}

const decompositionSchema = `{"type":"array","items":{"type":"object","properties":{"id":{"type":"string"},"title":{"type":"string"},"description":{"type":"string"},"dependencies":{"type":"array","items":{"type":"string"}},"estimated_minutes":{"type":"integer"}},"required":["id","title"]}}`

// Decompose implements the Decomposer contract.
func (d *LLMDecomposer) Decompose(ctx context.Context, item tracker.WorkItem) (*model.ExecutionPlan, error) {
	prompt := fmt.Sprintf(
		"Break the following work item into an ordered list of implementation tasks, "+
			"each with an id, title, description, dependency ids (referring to other tasks' ids "+
			"in this same list), and an estimated duration in minutes.\n\nTitle: %s\n\n%s",
		item.Title, item.Description,
	)

	resp, err := d.chain.Complete(ctx, llm.Request{
		Prompt:      prompt,
		Temperature: 0.2,
		MaxTokens:   2048,
		Schema:      json.RawMessage(decompositionSchema),
	})
	if err != nil {
		return nil, fmt.Errorf("decompose item %s: %w", item.ID, err)
	}

	var specs []llmTaskSpec
	if err := json.Unmarshal(resp.JSON, &specs); err != nil {
		return nil, fmt.Errorf("parse decomposition response for item %s: %w", item.ID, err)
	}
	if len(specs) == 0 {
		specs = []llmTaskSpec{{ID: item.ID, Title: item.Title, Description: item.Description}}
	}

	tasks := make([]*model.Task, 0, len(specs))
	for _, s := range specs {
		tasks = append(tasks, &model.Task{
			ID:            s.ID,
			Title:         s.Title,
			Description:   s.Description,
			Type:          model.TaskFeature,
			Priority:      item.Priority,
			Dependencies:  s.Dependencies,
			EstimatedMins: s.EstimatedMins,
		})
	}

	dag, err := model.NewDAG(tasks)
	if err != nil {
		return nil, fmt.Errorf("build DAG for item %s: %w", item.ID, err)
	}

	return &model.ExecutionPlan{
		SessionID:   item.ID,
		Concurrency: d.concurrency,
		Tasks:       tasks,
		DAG:         dag,
	}, nil
}

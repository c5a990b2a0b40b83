package stages

import (
	"context"
	"fmt"
	"strings"

	"math-mentor/api/internal/llm"
	"math-mentor/api/internal/types"
)

const defaultStrategy = "direct computation"

type Planner struct {
	gen    llm.Generator
	system string
}

func NewPlanner(gen llm.Generator, system string) *Planner {
	return &Planner{gen: gen, system: orDefault(system, defaultRouterPrompt)}
}

// DefaultRoute: план на случай, когда модель не ответила.
func DefaultRoute(p types.ParsedProblem) types.RouteInfo {
	return types.RouteInfo{
		Topic:                 types.NormalizeTopic(string(p.Topic)),
		Subtopic:              p.Subtopic,
		SolutionStrategy:      defaultStrategy,
		ToolsNeeded:           []string{},
		Difficulty:            types.DifficultyMedium,
		EstimatedSteps:        4,
		SpecialConsiderations: []string{},
	}
}

// routeReply: модели иногда пишут estimated_steps как 4.0.
type routeReply struct {
	Topic                 string   `json:"topic"`
	Subtopic              string   `json:"subtopic"`
	SolutionStrategy      string   `json:"solution_strategy"`
	ToolsNeeded           []string `json:"tools_needed"`
	Difficulty            string   `json:"difficulty"`
	EstimatedSteps        float64  `json:"estimated_steps"`
	SpecialConsiderations []string `json:"special_considerations"`
}

func (r *Planner) Plan(ctx context.Context, p types.ParsedProblem) (types.RouteInfo, error) {
	user := fmt.Sprintf(
		"Parsed problem:\nProblem: %s\nTopic: %s\nSubtopic: %s\nVariables: %s\nConstraints: %s\nGiven: %s\nAsked: %s\n\nRoute and plan the solution strategy.",
		p.Text, p.Topic, p.Subtopic, listOrNone(p.Variables), listOrNone(p.Constraints), listOrNone(p.Given), p.Asked,
	)
	var rep routeReply
	if err := askJSON(ctx, r.gen, r.system, user, jsonOpts, &rep); err != nil {
		return DefaultRoute(p), err
	}

	route := types.RouteInfo{
		Topic:                 types.NormalizeTopic(rep.Topic),
		Subtopic:              strings.TrimSpace(rep.Subtopic),
		SolutionStrategy:      strings.TrimSpace(rep.SolutionStrategy),
		ToolsNeeded:           types.UniqueStrings(rep.ToolsNeeded),
		Difficulty:            types.NormalizeDifficulty(rep.Difficulty),
		EstimatedSteps:        int(rep.EstimatedSteps),
		SpecialConsiderations: types.UniqueStrings(rep.SpecialConsiderations),
	}
	if strings.TrimSpace(rep.Topic) == "" {
		route.Topic = types.NormalizeTopic(string(p.Topic))
	}
	if route.Subtopic == "" {
		route.Subtopic = p.Subtopic
	}
	if route.SolutionStrategy == "" {
		route.SolutionStrategy = defaultStrategy
	}
	if route.EstimatedSteps <= 0 {
		route.EstimatedSteps = 4
	}
	return route, nil
}

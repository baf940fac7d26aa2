package interview

import (
	"context"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Decision is what the session does after an answer has been processed.
type Decision int

const (
	DecisionAdvance Decision = iota
	DecisionFollowUp
	DecisionStop
)

func (d Decision) String() string {
	switch d {
	case DecisionFollowUp:
		return "follow_up"
	case DecisionStop:
		return "stop"
	default:
		return "advance"
	}
}

// PipelineRequest is a snapshot taken by the session loop when an answer
// has been captured. The pipeline never touches live session state.
type PipelineRequest struct {
	Question   QuestionItem
	Answer     string
	Objective  string
	Persona    string
	History    []Turn
	Conditions []ConditionCheck
}

type PipelineOutcome struct {
	Decision   Decision
	FollowUp   string
	Evaluation *Evaluation
	// Degraded is set when evaluation timed out or failed.
	Degraded bool
	Err      error
}

type PipelineConfig struct {
	ReactionTimeout   time.Duration
	EvaluationTimeout time.Duration
}

// ResponsePipeline runs reaction generation and sufficiency evaluation for
// one answer and turns the result into a Decision.
type ResponsePipeline struct {
	reactions  ReactionGenerator
	evaluator  SufficiencyEvaluator
	conditions *ConditionCache
	cfg        PipelineConfig
	logger     *log.Logger
}

func NewResponsePipeline(reactions ReactionGenerator, evaluator SufficiencyEvaluator, conditions *ConditionCache, cfg PipelineConfig, logger *log.Logger) *ResponsePipeline {
	return &ResponsePipeline{
		reactions:  reactions,
		evaluator:  evaluator,
		conditions: conditions,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run requests a reaction and an evaluation in parallel. A reaction, when
// one arrives, is handed to onReaction before Run returns. Reaction errors
// are logged and skipped; an evaluation error degrades the decision to
// Advance. Neither cancels the other call.
func (p *ResponsePipeline) Run(ctx context.Context, req PipelineRequest, onReaction func(string)) PipelineOutcome {
	var (
		g          errgroup.Group
		evaluation *Evaluation
	)
	if p.reactions != nil {
		g.Go(func() error {
			rctx, cancel := withTimeout(ctx, p.cfg.ReactionTimeout)
			defer cancel()
			text, err := p.reactions.GenerateReaction(rctx, ReactionRequest{
				LastAnswer: req.Answer,
				Persona:    req.Persona,
				History:    req.History,
			})
			if err != nil {
				p.logger.Printf("interview: reaction skipped: %v", err)
				return nil
			}
			if text = strings.TrimSpace(text); text != "" && ctx.Err() == nil {
				onReaction(text)
			}
			return nil
		})
	}
	g.Go(func() error {
		ectx, cancel := withTimeout(ctx, p.cfg.EvaluationTimeout)
		defer cancel()
		ev, err := p.evaluator.EvaluateSufficiency(ectx, EvaluationRequest{
			Question:  req.Question.Text,
			Answer:    req.Answer,
			Objective: req.Objective,
			History:   req.History,
		})
		if err != nil {
			return err
		}
		evaluation = &ev
		return nil
	})
	evalErr := g.Wait()

	out := decide(evaluation)
	if evalErr != nil {
		p.logger.Printf("interview: evaluation degraded to advance: %v", evalErr)
		out.Degraded = true
		out.Err = evalErr
	}

	if out.Decision != DecisionStop && p.conditions != nil {
		p.resolveConditions(ctx, req)
	}
	return out
}

func decide(ev *Evaluation) PipelineOutcome {
	switch {
	case ev == nil:
		return PipelineOutcome{Decision: DecisionAdvance}
	case ev.UserStopIntent:
		return PipelineOutcome{Decision: DecisionStop, Evaluation: ev}
	case !ev.IsSufficient && strings.TrimSpace(ev.FollowUpQuestion) != "":
		return PipelineOutcome{Decision: DecisionFollowUp, FollowUp: strings.TrimSpace(ev.FollowUpQuestion), Evaluation: ev}
	default:
		return PipelineOutcome{Decision: DecisionAdvance, Evaluation: ev}
	}
}

// resolveConditions warms the condition cache so the loop can advance
// without a network call.
func (p *ResponsePipeline) resolveConditions(ctx context.Context, req PipelineRequest) {
	for _, check := range req.Conditions {
		if ctx.Err() != nil {
			return
		}
		eligible, err := p.conditions.Resolve(ctx, check, req.Objective, req.History)
		if err != nil {
			p.logger.Printf("interview: condition for question %d unresolved, will ask: %v", check.Item.ID+1, err)
			continue
		}
		p.logger.Printf("interview: condition for question %d resolved (ask=%t)", check.Item.ID+1, eligible)
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

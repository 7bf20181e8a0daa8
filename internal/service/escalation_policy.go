package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/tgo/engage/internal/model"
)

// Trigger names the condition that caused an escalation.
type Trigger string

const (
	TriggerNone              Trigger = ""
	TriggerKeyword           Trigger = "keyword"
	TriggerNegativeSentiment Trigger = "negative_sentiment"
	TriggerBotFailures       Trigger = "bot_failures"
	TriggerTimeout           Trigger = "timeout"
	TriggerManual            Trigger = "manual"
)

// PriorityFloor is the minimum queue priority for sessions escalated by t.
func (t Trigger) PriorityFloor() model.Priority {
	switch t {
	case TriggerNegativeSentiment, TriggerBotFailures, TriggerTimeout:
		return model.PriorityHigh
	default:
		return model.PriorityMedium
	}
}

// TriggerInput is everything the policy looks at for one evaluation.
// A zero LastActivityAt skips the idle check.
type TriggerInput struct {
	MessageText        string
	SentimentScore     *float64
	FailedBotResponses int
	LastActivityAt     time.Time
	Now                time.Time
}

// Decision is the result of trigger evaluation.
type Decision struct {
	Escalate bool
	Trigger  Trigger
	Reason   string
}

// EvaluateTriggers checks the automatic triggers in order and stops at the
// first match. A nil or disabled config never escalates.
func EvaluateTriggers(cfg *model.EscalationConfig, in TriggerInput) Decision {
	if cfg == nil || !cfg.Enabled {
		return Decision{}
	}
	text := strings.ToLower(in.MessageText)

	if kw, ok := matchKeyword(text, cfg.EscalationKeywords); ok {
		return Decision{Escalate: true, Trigger: TriggerKeyword, Reason: fmt.Sprintf("customer requested a human (%q)", kw)}
	}

	if kw, ok := matchKeyword(text, cfg.NegativeSentimentKeywords); ok {
		return Decision{Escalate: true, Trigger: TriggerNegativeSentiment, Reason: fmt.Sprintf("negative sentiment keyword %q", kw)}
	}
	if cfg.NegativeSentimentThreshold != nil && in.SentimentScore != nil && *in.SentimentScore <= *cfg.NegativeSentimentThreshold {
		return Decision{Escalate: true, Trigger: TriggerNegativeSentiment, Reason: fmt.Sprintf("sentiment score %.2f", *in.SentimentScore)}
	}

	if cfg.MaxFailedResponses > 0 && in.FailedBotResponses >= cfg.MaxFailedResponses {
		return Decision{Escalate: true, Trigger: TriggerBotFailures, Reason: fmt.Sprintf("%d consecutive failed bot responses", in.FailedBotResponses)}
	}

	if cfg.EscalationTimeoutMinutes > 0 && !in.LastActivityAt.IsZero() {
		timeout := time.Duration(cfg.EscalationTimeoutMinutes) * time.Minute
		if idle := in.Now.Sub(in.LastActivityAt); idle >= timeout {
			return Decision{Escalate: true, Trigger: TriggerTimeout, Reason: fmt.Sprintf("no progress for %s", idle.Truncate(time.Second))}
		}
	}

	return Decision{}
}

func matchKeyword(text string, keywords model.StringSet) (string, bool) {
	if text == "" {
		return "", false
	}
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(text, kw) {
			return kw, true
		}
	}
	return "", false
}

// QueuePriority ranks a session in the agent queue: the higher of its own
// priority and the trigger's floor.
func QueuePriority(sessionPriority model.Priority, t Trigger) int {
	rank := sessionPriority.Rank()
	if floor := t.PriorityFloor().Rank(); floor > rank {
		return floor
	}
	return rank
}

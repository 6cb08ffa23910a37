// Package summary compiles the executive summary from a completed call's
// transcript and coachable moments. Everything here is templated and
// deterministic: recomputing over identical inputs yields an identical
// summary, and summaries are regenerated wholesale, never edited.
package summary

import (
	"fmt"
	"strings"

	"github.com/amangupta62/sales-call-analysis-microservice/internal/types"
)

// Config tunes outcome classification.
type Config struct {
	// AdvanceThreshold is the trial-close confidence that classifies the
	// call as "advanced". It sits above the detection threshold.
	AdvanceThreshold float64
}

func (c Config) withDefaults() Config {
	if c.AdvanceThreshold == 0 {
		c.AdvanceThreshold = 0.85
	}
	return c
}

const (
	OutcomeAdvanced   = "advanced"
	OutcomeInProgress = "in-progress"
	OutcomeStalled    = "stalled"
)

// actionTemplates drive action-item generation: one item per distinct
// category present, in time order of first occurrence.
var actionTemplates = map[types.MomentCategory]string{
	types.CategoryPriceObjection:  "Prepare a value recap and pricing options before the next touchpoint",
	types.CategoryFeatureInterest: "Send documentation for the capabilities the customer asked about",
	types.CategoryTrialClose:      "Confirm the proposed next step in writing with owner and date",
	types.CategoryTimeline:        "Align the rollout plan with the customer's stated dates",
	types.CategorySecurity:        "Loop in the security team and share compliance documentation",
	types.CategoryOther:           "Review the flagged exchange with the agent in the next coaching session",
}

// Compile derives the executive summary. Moments are expected in the
// detector's deterministic order (start ascending).
func Compile(t types.Transcript, moments []types.CoachableMoment, cfg Config) types.ExecutiveSummary {
	cfg = cfg.withDefaults()

	objections := filter(moments, types.CategoryPriceObjection)
	buying := countBuyingSignals(moments)
	resolved, unresolved := splitResolved(objections, moments)

	out := types.ExecutiveSummary{
		Outcome:           classify(moments, unresolved, len(objections), cfg),
		ObjectionsHandled: resolved,
		BuyingSignals:     buying,
		SentimentTrend:    trend(t, moments),
		ActionItems:       actionItems(moments),
	}
	out.Narrative = narrative(t, moments, out)
	return out
}

func filter(moments []types.CoachableMoment, cat types.MomentCategory) []types.CoachableMoment {
	var out []types.CoachableMoment
	for _, m := range moments {
		if m.Category == cat {
			out = append(out, m)
		}
	}
	return out
}

func countBuyingSignals(moments []types.CoachableMoment) int {
	n := 0
	for _, m := range moments {
		if m.Category == types.CategoryFeatureInterest || m.Category == types.CategoryTrialClose {
			n++
		}
	}
	return n
}

// splitResolved counts objections that were answered later in the call. An
// objection is resolved when a feature-interest or trial-close moment of
// equal-or-greater confidence starts after it.
func splitResolved(objections, moments []types.CoachableMoment) (resolved, unresolved int) {
	for _, o := range objections {
		ok := false
		for _, m := range moments {
			if m.Category != types.CategoryFeatureInterest && m.Category != types.CategoryTrialClose {
				continue
			}
			if m.Start > o.Start && m.Confidence >= o.Confidence {
				ok = true
				break
			}
		}
		if ok {
			resolved++
		} else {
			unresolved++
		}
	}
	return resolved, unresolved
}

// classify picks the outcome label. A sufficiently confident trial close
// advances the call outright; otherwise the unresolved objection share
// decides between in-progress and stalled.
func classify(moments []types.CoachableMoment, unresolved, objections int, cfg Config) string {
	for _, m := range moments {
		if m.Category == types.CategoryTrialClose && m.Confidence >= cfg.AdvanceThreshold {
			return OutcomeAdvanced
		}
	}
	if objections > 0 && float64(unresolved)/float64(objections) > 0.5 {
		return OutcomeStalled
	}
	return OutcomeInProgress
}

// trend compares the halves of the call: buying-type moments count for the
// customer warming up, objections against. It is a descriptor of direction,
// not magnitude.
func trend(t types.Transcript, moments []types.CoachableMoment) string {
	mid := t.Duration() / 2
	var early, late float64
	for _, m := range moments {
		w := m.Confidence
		if m.Category == types.CategoryPriceObjection {
			w = -w
		} else if m.Category != types.CategoryFeatureInterest && m.Category != types.CategoryTrialClose {
			continue
		}
		if m.Start < mid {
			early += w
		} else {
			late += w
		}
	}
	switch {
	case late > early+0.1:
		return "improving"
	case early > late+0.1:
		return "declining"
	default:
		return "steady"
	}
}

func actionItems(moments []types.CoachableMoment) []string {
	seen := make(map[types.MomentCategory]bool)
	items := []string{}
	for _, m := range moments { // moments arrive in start order
		if seen[m.Category] {
			continue
		}
		seen[m.Category] = true
		items = append(items, actionTemplates[m.Category])
	}
	return items
}

func narrative(t types.Transcript, moments []types.CoachableMoment, s types.ExecutiveSummary) string {
	parts := []string{
		fmt.Sprintf("This %.1f-second call surfaced %d coachable moments.", t.Duration(), len(moments)),
		fmt.Sprintf("%d objections were handled and %d buying signals were identified.", s.ObjectionsHandled, s.BuyingSignals),
		fmt.Sprintf("Customer sentiment over the call was %s.", s.SentimentTrend),
	}
	switch s.Outcome {
	case OutcomeAdvanced:
		parts = append(parts, "The call advanced: a concrete next step was proposed and should be confirmed promptly.")
	case OutcomeStalled:
		parts = append(parts, "The call stalled on unresolved objections; follow-up should address them directly.")
	default:
		parts = append(parts, "The call is in progress; follow up to keep momentum and work toward a next step.")
	}
	return strings.Join(parts, " ")
}

// Package detector turns a transcript and sentiment trace into ranked,
// evidence-backed coachable moments. Detect is a pure function: identical
// inputs always produce identical moments, IDs and ordering.
package detector

import (
	"regexp"
	"sort"
	"strings"

	"github.com/amangupta62/sales-call-analysis-microservice/internal/types"
)

// Config tunes detection. Zero values fall back to the defaults used across
// the pipeline.
type Config struct {
	// Threshold discards candidates below this confidence.
	Threshold float64
	// WindowUtterances is the maximum sliding-window span of consecutive
	// utterances a detector evaluates, in addition to single utterances.
	WindowUtterances int
}

func (c Config) withDefaults() Config {
	if c.Threshold == 0 {
		c.Threshold = 0.7
	}
	if c.WindowUtterances <= 0 {
		c.WindowUtterances = 2
	}
	return c
}

// window is one evaluation unit: a run of consecutive utterances.
type window struct {
	start, end float64
	utts       []types.Utterance
	text       string
	agentText  string
	sentiment  float64 // signed: positive label > 0, negative < 0, uncovered 0
}

type candidate struct {
	category   types.MomentCategory
	start, end float64
	confidence float64
	evidence   string
}

// categoryDetector pairs a lexical predicate with a scorer. The pattern is
// repeated here so multi-utterance windows can check that their evidence
// actually spans utterances before the scorer runs.
type categoryDetector struct {
	category  types.MomentCategory
	pattern   *regexp.Regexp
	agentOnly bool
	detect    func(w window) (confidence float64, ok bool)
}

// Detect scans the transcript with every category detector and returns the
// final moment list: below-threshold candidates discarded, same-category
// overlaps merged, ordered by start ascending, confidence descending, then
// category name, with dense IDs assigned from 1 in that order.
func Detect(t types.Transcript, trace types.SentimentTrace, cfg Config) []types.CoachableMoment {
	cfg = cfg.withDefaults()
	if len(t.Utterances) == 0 {
		return nil
	}

	detectors := []categoryDetector{
		{types.CategoryPriceObjection, pricePattern, false, detectPriceObjection},
		{types.CategoryFeatureInterest, featurePattern, false, detectFeatureInterest},
		{types.CategoryTrialClose, closePattern, true, detectTrialClose},
		{types.CategoryTimeline, timelinePattern, false, detectTimeline},
		{types.CategorySecurity, securityPattern, false, detectSecurity},
	}

	var candidates []candidate
	for _, w := range buildWindows(t, trace, cfg.WindowUtterances) {
		for _, d := range detectors {
			// A multi-utterance window only counts when its evidence spans
			// utterances; a lone firing utterance is scored by its own
			// window, which keeps merged ranges anchored to the evidence.
			if len(w.utts) > 1 && !spansUtterances(d.pattern, w.utts, d.agentOnly) {
				continue
			}
			conf, ok := d.detect(w)
			if !ok || conf < cfg.Threshold {
				continue
			}
			candidates = append(candidates, candidate{
				category:   d.category,
				start:      w.start,
				end:        w.end,
				confidence: conf,
				evidence:   w.text,
			})
		}
	}

	merged := mergeSameCategory(candidates)

	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.start != b.start {
			return a.start < b.start
		}
		if a.confidence != b.confidence {
			return a.confidence > b.confidence
		}
		return a.category < b.category
	})

	moments := make([]types.CoachableMoment, 0, len(merged))
	for i, c := range merged {
		moments = append(moments, types.CoachableMoment{
			ID:           i + 1,
			Category:     c.category,
			Start:        c.start,
			End:          c.end,
			Confidence:   c.confidence,
			Evidence:     c.evidence,
			CoachingNote: coachingNotes[c.category],
		})
	}
	return moments
}

// buildWindows yields every single utterance plus every sliding window of up
// to span consecutive utterances, in transcript order.
func buildWindows(t types.Transcript, trace types.SentimentTrace, span int) []window {
	utts := t.Utterances
	var out []window
	for i := range utts {
		for n := 1; n <= span && i+n <= len(utts); n++ {
			out = append(out, makeWindow(utts[i:i+n], trace))
		}
	}
	return out
}

func makeWindow(utts []types.Utterance, trace types.SentimentTrace) window {
	w := window{start: utts[0].Start, end: utts[len(utts)-1].End, utts: utts}
	texts := make([]string, 0, len(utts))
	var agent []string
	for _, u := range utts {
		texts = append(texts, u.Text)
		if u.Speaker == "agent" {
			agent = append(agent, u.Text)
		}
	}
	w.text = strings.Join(texts, " ")
	w.agentText = strings.Join(agent, " ")
	w.sentiment = signedSentiment(trace, w.start, w.end)
	return w
}

// signedSentiment is the overlap-weighted mean of span magnitudes over the
// range, positive labels counting up and negative down. Ranges the trace
// does not cover contribute nothing, so a short trace degrades to neutral.
func signedSentiment(trace types.SentimentTrace, start, end float64) float64 {
	var sum, weight float64
	for _, s := range trace.Spans {
		lo, hi := max64(start, s.Start), min64(end, s.End)
		if hi <= lo {
			continue
		}
		overlap := hi - lo
		weight += overlap
		switch s.Label {
		case types.SentimentPositive:
			sum += overlap * s.Magnitude
		case types.SentimentNegative:
			sum -= overlap * s.Magnitude
		}
	}
	if weight == 0 {
		return 0
	}
	return sum / weight
}

// spansUtterances reports whether the pattern fires in at least two distinct
// utterances of the window.
func spansUtterances(re *regexp.Regexp, utts []types.Utterance, agentOnly bool) bool {
	n := 0
	for _, u := range utts {
		if agentOnly && u.Speaker != "agent" {
			continue
		}
		if re.MatchString(u.Text) {
			n++
			if n == 2 {
				return true
			}
		}
	}
	return false
}

// lexStrength maps a match count onto [0,1]; two distinct hits saturate it.
func lexStrength(re *regexp.Regexp, text string) float64 {
	n := len(re.FindAllStringIndex(text, 3))
	if n > 2 {
		n = 2
	}
	return float64(n) / 2
}

// Cost-concern language paired with negative-or-neutral sentiment. Score
// weighs lexical strength against how far sentiment deviates below neutral.
func detectPriceObjection(w window) (float64, bool) {
	lex := lexStrength(pricePattern, w.text)
	if lex == 0 || w.sentiment > 0.05 {
		return 0, false
	}
	neg := 0.0
	if w.sentiment < 0 {
		neg = -w.sentiment
	}
	return clamp01(0.55 + 0.25*lex + 0.2*neg), true
}

// Capability inquiries riding on positive sentiment.
func detectFeatureInterest(w window) (float64, bool) {
	lex := lexStrength(featurePattern, w.text)
	if lex == 0 || w.sentiment <= 0 {
		return 0, false
	}
	return clamp01(0.5 + 0.2*lex + 0.3*w.sentiment), true
}

// Commitment-seeking language, only credited to the agent track.
func detectTrialClose(w window) (float64, bool) {
	lex := lexStrength(closePattern, w.agentText)
	if lex == 0 {
		return 0, false
	}
	pos := 0.0
	if w.sentiment > 0 {
		pos = w.sentiment
	}
	return clamp01(0.6 + 0.3*lex + 0.1*pos), true
}

func detectTimeline(w window) (float64, bool) {
	lex := lexStrength(timelinePattern, w.text)
	if lex == 0 {
		return 0, false
	}
	return clamp01(0.6 + 0.3*lex), true
}

func detectSecurity(w window) (float64, bool) {
	lex := lexStrength(securityPattern, w.text)
	if lex == 0 {
		return 0, false
	}
	return clamp01(0.6 + 0.3*lex), true
}

// mergeSameCategory folds intersecting candidates of the same category into
// one moment: the range widens to the union, the evidence and confidence come
// from the strongest candidate. Candidates of different categories are never
// merged. The fold is order-independent because candidates are sorted first.
func mergeSameCategory(candidates []candidate) []candidate {
	byCat := make(map[types.MomentCategory][]candidate)
	for _, c := range candidates {
		byCat[c.category] = append(byCat[c.category], c)
	}

	var out []candidate
	for _, group := range byCat {
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].start != group[j].start {
				return group[i].start < group[j].start
			}
			return group[i].end < group[j].end
		})
		var merged []candidate
		for _, c := range group {
			if len(merged) == 0 {
				merged = append(merged, c)
				continue
			}
			last := &merged[len(merged)-1]
			if c.start < last.end { // intersecting ranges
				if c.end > last.end {
					last.end = c.end
				}
				if c.confidence > last.confidence {
					last.confidence = c.confidence
					last.evidence = c.evidence
				}
				continue
			}
			merged = append(merged, c)
		}
		out = append(out, merged...)
	}
	return out
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func max64(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

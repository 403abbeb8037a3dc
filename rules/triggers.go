package rules

import "strings"

// actionItemMarkers are looked for in the summary by action_items triggers
var actionItemMarkers = []string{"action", "todo", "follow up"}

// Matches reports whether a rule with these triggers fires for mc.
// Triggers are OR-ed: one matching trigger is enough. This favors broad
// activation over strict composition and is relied on by existing rules.
func Matches(triggers []Trigger, mc MeetingContext) bool {
	for _, t := range triggers {
		if t.Matches(mc) {
			return true
		}
	}
	return false
}

// Matches evaluates a single trigger. Unknown kinds never match.
func (t Trigger) Matches(mc MeetingContext) bool {
	switch t.Kind {
	case TriggerKeyword:
		return containsFold(mc.Transcript, t.Condition)
	case TriggerSpeaker:
		// There is no per-speaker attribution in MeetingContext, so speaker
		// triggers look for the name anywhere in the transcript.
		return containsFold(mc.Transcript, t.Condition)
	case TriggerTopic:
		return containsFold(mc.Summary, t.Condition)
	case TriggerSentiment:
		return mc.Sentiment() == t.Condition
	case TriggerDuration:
		threshold, ok := t.Number()
		if !ok {
			return false
		}
		return compareDuration(t.Condition, mc.Duration(), threshold)
	case TriggerActionItems:
		for _, marker := range actionItemMarkers {
			if containsFold(mc.Summary, marker) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func compareDuration(op string, duration, threshold float64) bool {
	switch op {
	case OpGreaterThan:
		return duration > threshold
	case OpLessThan:
		return duration < threshold
	case OpEquals:
		return duration == threshold
	default:
		return false
	}
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

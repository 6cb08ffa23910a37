package detector

import (
	"regexp"

	"github.com/amangupta62/sales-call-analysis-microservice/internal/types"
)

// Category pattern sets. Each detector pairs a lexical predicate with a
// scorer; scoring weights live in detector.go.
var (
	pricePattern = regexp.MustCompile(`(?i)\b(too expensive|expensive|pricing|price|cost|costs|budget|afford|cheaper|discount|think (it|this) over|think about it)\b`)

	featurePattern = regexp.MustCompile(`(?i)\b(does it|can it|could it|how does|feature|features|capability|capabilities|integrat\w*|support for|api|dashboard|reporting)\b`)

	closePattern = regexp.MustCompile(`(?i)\b(next step|next steps|shall we|pilot|trial|get started|getting started|move forward|schedule|sign|contract|proposal|when can we start|kick off)\b`)

	timelinePattern = regexp.MustCompile(`(?i)\b(timeline|timelines|deadline|by when|how soon|this quarter|next quarter|next month|go[ -]live|roll[ -]?out|launch date|implementation time)\b`)

	securityPattern = regexp.MustCompile(`(?i)\b(security|secure|compliance|compliant|soc ?2|gdpr|hipaa|encrypt\w*|data privacy|penetration test|audit|sso|single sign[ -]on)\b`)
)

// coachingNotes are the per-category templates attached to every detected
// moment. Kept short so they read well as TTS narration.
var coachingNotes = map[types.MomentCategory]string{
	types.CategoryPriceObjection:  "Acknowledge the cost concern, ask what budget range works, and reframe the conversation around value before discussing discounts.",
	types.CategoryFeatureInterest: "The customer is probing a capability. Answer specifically, demonstrate it if possible, and tie the feature back to their stated goal.",
	types.CategoryTrialClose:      "A next step was proposed. Confirm the commitment explicitly, set a date, and name who owns the follow-up.",
	types.CategoryTimeline:        "Timing is on the table. Pin down the driving date and work the plan backwards from it.",
	types.CategorySecurity:        "Security questions signal a serious evaluation. Offer documentation and a call with the security team rather than improvising answers.",
	types.CategoryOther:           "Review this exchange with the agent and agree on how to handle it next time.",
}

package coordinator

import "regexp"

// Approval is the user's verdict on a preview.
type Approval int

// Approval verdicts.
const (
	Continue Approval = iota
	Approve
	Reject
)

func (a Approval) String() string {
	switch a {
	case Approve:
		return "approve"
	case Reject:
		return "reject"
	}
	return "continue"
}

var (
	rejectRe  = regexp.MustCompile(`(?i)(?:^\s*no\b|\b(?:try again|try a different|different (?:angle|hook|approach|take)|another (?:angle|hook|one|option)|redo|regenerate|rewrite|start over|don'?t like|do not like|not (?:quite|right|it|great)|change (?:the |it)|new hook|meh)\b)`)
	approveRe = regexp.MustCompile(`(?i)\b(?:looks? good|go ahead|approved?|yes|yep|yeah|perfect|love it|ship it|let'?s go|sounds good|proceed|lgtm|go for it|that works|do it)\b`)

	regenerateRe = regexp.MustCompile(`(?i)\b(?:regenerate|rewrite (?:it|the post|the content)|write (?:it )?again|another version|new version|try again)\b`)
)

// ClassifyApproval sorts a reply to a preview into approve, reject or
// ordinary conversation. Rejection wins when both match, so "yes but
// try a different angle" asks for a new hook.
func ClassifyApproval(text string) Approval {
	switch {
	case rejectRe.MatchString(text):
		return Reject
	case approveRe.MatchString(text):
		return Approve
	}
	return Continue
}

// wantsRegeneration reports whether text asks for a new version of the
// generated content.
func wantsRegeneration(text string) bool {
	return regenerateRe.MatchString(text)
}

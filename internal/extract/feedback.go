package extract

import (
	"regexp"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Feedback payload keys.
const (
	KeyRating    = "rating"
	KeyWorked    = "worked"
	KeyNeedsWork = "needs_work"
	KeyText      = "text"
)

var ratingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:rating|overall|score)\s*[:=\-]?\s*([1-5])\b`),
	regexp.MustCompile(`\b([1-5])\s*/\s*5\b`),
	regexp.MustCompile(`(?i)\b([1-5])\s+out\s+of\s+5\b`),
	regexp.MustCompile(`(?i)\b([1-5])\s+stars?\b`),
}

// leadingRatingRe strips a rating expression at the start of freeform
// feedback.
var leadingRatingRe = regexp.MustCompile(`(?i)^\s*(?:(?:rating|overall|score)\s*[:=\-]?\s*)?(?:[1-5]\s*(?:/\s*5|out\s+of\s+5|stars?)?|[★⭐]+)[\s.,:;!\-]*`)

type heading struct {
	phrase string
	worked bool
}

// headings are matched longest first so "what worked well" wins over
// "what worked".
var headings = func() []heading {
	h := []heading{
		{"what worked well", true},
		{"what went well", true},
		{"what worked", true},
		{"worked well", true},
		{"what i liked", true},
		{"strengths", true},
		{"positives", true},
		{"liked", true},
		{"what needs work", false},
		{"needs work", false},
		{"needs improvement", false},
		{"improvements", false},
		{"to improve", false},
		{"issues", false},
		{"what didn't work", false},
		{"what did not work", false},
		{"could be better", false},
	}
	slices.SortStableFunc(h, func(a, b heading) int { return len(b.phrase) - len(a.phrase) })
	return h
}()

type topic struct {
	name string
	re   *regexp.Regexp
}

var topics = []topic{
	{"hook", regexp.MustCompile(`(?i)\b(?:hook|opening|intro)\b`)},
	{"facts", regexp.MustCompile(`(?i)\b(?:facts?|accura\w*|claims?|stats?|statistics)\b`)},
	{"tone", regexp.MustCompile(`(?i)\b(?:tone|voice)\b`)},
	{"cta", regexp.MustCompile(`(?i)\b(?:cta|call[ -]to[ -]action)\b`)},
}

var (
	negativeRe = regexp.MustCompile(`(?i)\b(?:weak|bad|boring|wrong|inaccurate|too long|too much|didn't|did not|doesn't|needs?|improve|confusing|off|missing|not|unclear|generic|flat|lacking)\b`)
	positiveRe = regexp.MustCompile(`(?i)\b(?:great|good|love[d]?|liked|strong|perfect|nice|excellent|worked|engaging|clear|spot on|solid)\b`)
)

var (
	sentenceSplitRe = regexp.MustCompile(`[.!?\n]+`)
	sentenceEndRe   = regexp.MustCompile(`[.!?;]\s+`)
)

// placeholders are list items that mean the list is empty.
var placeholders = []string{"none", "n/a", "na", "nothing", "nothing really", "nope", "no", "-"}

// FeedbackHeuristic derives a feedback summary from prose when the model
// produced no structured block. It only applies to KindFeedback.
//
// The summary is complete when a rating was found and there is something
// to learn from it: a needs-work list or freeform text. A rating with a
// worked list alone is not complete.
type FeedbackHeuristic struct{}

func (FeedbackHeuristic) Name() string { return "feedback-heuristic" }

func (FeedbackHeuristic) Extract(kind Kind, text string) (Outcome, bool) {
	if kind != KindFeedback || strings.TrimSpace(text) == "" {
		return Outcome{}, false
	}

	rating := parseRating(text)
	worked, needsWork, headed := parseLists(text)

	var freeform string
	if !headed {
		freeform = strings.TrimSpace(leadingRatingRe.ReplaceAllString(text, ""))
	}

	if len(worked) == 0 || len(needsWork) == 0 {
		inferredWorked, inferredNeeds := inferTopics(text)
		if len(worked) == 0 {
			worked = inferredWorked
		}
		if len(needsWork) == 0 {
			needsWork = inferredNeeds
		}
	}

	if rating == 0 && len(worked) == 0 && len(needsWork) == 0 && freeform == "" {
		return Outcome{}, false
	}

	complete := rating > 0 && (len(needsWork) > 0 || freeform != "")
	payload := map[string]any{
		KeyRating:             rating,
		KeyWorked:             nonNil(worked),
		KeyNeedsWork:          nonNil(needsWork),
		KeyText:               freeform,
		KindFeedback.Marker(): complete,
	}
	return Outcome{Payload: payload, Complete: complete}, true
}

// parseRating returns a 1-5 rating or 0 when none is present.
func parseRating(text string) int {
	for _, re := range ratingPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			n, _ := strconv.Atoi(m[1])
			return n
		}
	}
	stars := strings.Count(text, "★") + strings.Count(text, "⭐")
	if stars >= 1 && stars <= 5 {
		return stars
	}
	return 0
}

// parseLists collects worked and needs-work items under recognized
// headings. Items come from text after the heading's colon, or from the
// following lines until the next heading or a blank line. headed reports
// whether any heading was seen, even one whose items were all placeholders.
func parseLists(text string) (worked, needsWork []string, headed bool) {
	lines := strings.Split(text, "\n")
	var current *[]string
	collecting := false

	for _, raw := range lines {
		line := cleanLine(raw)
		if segs := headingSegments(line); len(segs) > 0 {
			headed = true
			for _, seg := range segs {
				if seg.h.worked {
					current = &worked
				} else {
					current = &needsWork
				}
				if seg.items != "" {
					*current = appendItems(*current, seg.items)
				}
			}
			collecting = segs[len(segs)-1].items == ""
			continue
		}
		if current == nil || !collecting {
			continue
		}
		if line == "" {
			if len(*current) > 0 {
				collecting = false
			}
			continue
		}
		*current = appendItems(*current, line)
	}
	return worked, needsWork, headed
}

type segment struct {
	h     heading
	items string
}

// headingSegments splits a line holding one or more headings, such as
// "What worked: hook. Needs work: cta", into per-heading items.
func headingSegments(line string) []segment {
	h, rest, ok := findHeading(line)
	if !ok {
		return nil
	}
	for _, loc := range sentenceEndRe.FindAllStringIndex(rest, -1) {
		tail := rest[loc[1]:]
		if _, _, ok := matchHeading(tail); ok {
			return append([]segment{{h, rest[:loc[0]]}}, headingSegments(tail)...)
		}
	}
	return []segment{{h, rest}}
}

// findHeading matches a heading at the start of line, after a leading
// rating ("4/5. What worked: ...") or after a sentence boundary.
func findHeading(line string) (heading, string, bool) {
	if h, rest, ok := matchHeading(line); ok {
		return h, rest, true
	}
	if loc := leadingRatingRe.FindStringIndex(line); loc != nil && loc[1] > 0 {
		if h, rest, ok := matchHeading(line[loc[1]:]); ok {
			return h, rest, true
		}
	}
	for _, loc := range sentenceEndRe.FindAllStringIndex(line, -1) {
		if h, rest, ok := matchHeading(line[loc[1]:]); ok {
			return h, rest, true
		}
	}
	return heading{}, "", false
}

func cleanLine(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "#>-*•+ \t")
	if i := strings.IndexAny(s, ".)"); i > 0 && i <= 2 {
		if _, err := strconv.Atoi(s[:i]); err == nil {
			s = s[i+1:]
		}
	}
	s = strings.ReplaceAll(s, "**", "")
	s = strings.ReplaceAll(s, "__", "")
	return strings.TrimSpace(s)
}

func matchHeading(line string) (heading, string, bool) {
	lower := strings.ToLower(line)
	for _, h := range headings {
		if !strings.HasPrefix(lower, h.phrase) {
			continue
		}
		rest := strings.TrimLeft(line[len(h.phrase):], " ?!")
		switch {
		case rest == "":
			return h, "", true
		case rest[0] == ':' || rest[0] == '-':
			return h, strings.TrimSpace(rest[1:]), true
		}
	}
	return heading{}, "", false
}

func appendItems(list []string, s string) []string {
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == ',' }) {
		item := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(part), "."))
		if item == "" || isPlaceholder(item) {
			continue
		}
		if slices.ContainsFunc(list, func(e string) bool { return strings.EqualFold(e, item) }) {
			continue
		}
		list = append(list, item)
	}
	return list
}

func isPlaceholder(item string) bool {
	lower := strings.ToLower(strings.TrimRight(item, "!"))
	return slices.Contains(placeholders, lower)
}

// inferTopics tags known topics by the sentiment of the sentences that
// mention them. Negative wording wins over positive in the same sentence.
func inferTopics(text string) (worked, needsWork []string) {
	for _, sentence := range sentenceSplitRe.Split(text, -1) {
		if utf8.RuneCountInString(strings.TrimSpace(sentence)) == 0 {
			continue
		}
		neg := negativeRe.MatchString(sentence)
		pos := !neg && positiveRe.MatchString(sentence)
		if !neg && !pos {
			continue
		}
		for _, t := range topics {
			if !t.re.MatchString(sentence) {
				continue
			}
			if neg {
				needsWork = appendItems(needsWork, t.name)
			} else {
				worked = appendItems(worked, t.name)
			}
		}
	}
	return worked, needsWork
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

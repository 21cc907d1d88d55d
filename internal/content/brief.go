// Package content holds the domain records that cross stage boundaries:
// the brief, verification, preview, generated content and feedback.
package content

import "strings"

// FunnelConversion is the funnel stage that requires campaign details.
const FunnelConversion = "conversion"

// ContentBrief is the structured intent collected by the briefing agent.
type ContentBrief struct {
	Message          string   `json:"message,omitempty"`
	Audience         string   `json:"audience,omitempty"`
	Platform         string   `json:"platform,omitempty"`
	FunnelStage      string   `json:"funnel_stage,omitempty"`
	PainArea         string   `json:"pain_area,omitempty"`
	PainPoint        string   `json:"pain_point,omitempty"`
	ComplianceLevel  string   `json:"compliance_level,omitempty"`
	ValueProposition string   `json:"value_proposition,omitempty"`
	DesiredAction    string   `json:"desired_action,omitempty"`
	CTA              string   `json:"cta,omitempty"`
	KeyMessages      []string `json:"key_messages,omitempty"`
	Constraints      string   `json:"constraints,omitempty"`
	PricePoint       string   `json:"price_point,omitempty"`
	Programs         []string `json:"programs,omitempty"`
	Centers          []string `json:"centers,omitempty"`
	Tone             string   `json:"tone,omitempty"`

	// Campaign fields, required only for conversion-stage content.
	CampaignName string `json:"campaign_name,omitempty"`
	Offer        string `json:"offer,omitempty"`
	Deadline     string `json:"deadline,omitempty"`
	LandingPage  string `json:"landing_page,omitempty"`
	PromoCode    string `json:"promo_code,omitempty"`
}

type briefField struct {
	name string
	get  func(*ContentBrief) string
}

var coreFields = []briefField{
	{"message", func(b *ContentBrief) string { return b.Message }},
	{"audience", func(b *ContentBrief) string { return b.Audience }},
	{"platform", func(b *ContentBrief) string { return b.Platform }},
	{"funnel_stage", func(b *ContentBrief) string { return b.FunnelStage }},
	{"pain_point", func(b *ContentBrief) string { return b.PainPoint }},
	{"desired_action", func(b *ContentBrief) string { return b.DesiredAction }},
	{"tone", func(b *ContentBrief) string { return b.Tone }},
}

var campaignFields = []briefField{
	{"campaign_name", func(b *ContentBrief) string { return b.CampaignName }},
	{"offer", func(b *ContentBrief) string { return b.Offer }},
	{"deadline", func(b *ContentBrief) string { return b.Deadline }},
	{"landing_page", func(b *ContentBrief) string { return b.LandingPage }},
	{"promo_code", func(b *ContentBrief) string { return b.PromoCode }},
}

// IsConversion reports whether the brief targets the conversion stage.
func (b *ContentBrief) IsConversion() bool {
	return strings.EqualFold(strings.TrimSpace(b.FunnelStage), FunnelConversion)
}

// IsComplete reports whether every core field is set and, for
// conversion briefs, every campaign field too.
func (b *ContentBrief) IsComplete() bool {
	return len(b.MissingFields()) == 0
}

// MissingFields lists unset required fields in declaration order.
func (b *ContentBrief) MissingFields() []string {
	if b == nil {
		b = &ContentBrief{}
	}
	var missing []string
	for _, f := range coreFields {
		if strings.TrimSpace(f.get(b)) == "" {
			missing = append(missing, f.name)
		}
	}
	if b.IsConversion() {
		for _, f := range campaignFields {
			if strings.TrimSpace(f.get(b)) == "" {
				missing = append(missing, f.name)
			}
		}
	}
	return missing
}

// Merge copies every non-empty field of partial over b.
func (b *ContentBrief) Merge(partial ContentBrief) {
	mergeString(&b.Message, partial.Message)
	mergeString(&b.Audience, partial.Audience)
	mergeString(&b.Platform, partial.Platform)
	mergeString(&b.FunnelStage, partial.FunnelStage)
	mergeString(&b.PainArea, partial.PainArea)
	mergeString(&b.PainPoint, partial.PainPoint)
	mergeString(&b.ComplianceLevel, partial.ComplianceLevel)
	mergeString(&b.ValueProposition, partial.ValueProposition)
	mergeString(&b.DesiredAction, partial.DesiredAction)
	mergeString(&b.CTA, partial.CTA)
	mergeList(&b.KeyMessages, partial.KeyMessages)
	mergeString(&b.Constraints, partial.Constraints)
	mergeString(&b.PricePoint, partial.PricePoint)
	mergeList(&b.Programs, partial.Programs)
	mergeList(&b.Centers, partial.Centers)
	mergeString(&b.Tone, partial.Tone)
	mergeString(&b.CampaignName, partial.CampaignName)
	mergeString(&b.Offer, partial.Offer)
	mergeString(&b.Deadline, partial.Deadline)
	mergeString(&b.LandingPage, partial.LandingPage)
	mergeString(&b.PromoCode, partial.PromoCode)
}

func mergeString(dst *string, src string) {
	if strings.TrimSpace(src) != "" {
		*dst = src
	}
}

func mergeList(dst *[]string, src []string) {
	if len(src) > 0 {
		*dst = append([]string(nil), src...)
	}
}

// BriefFromPayload reads a brief from an extracted payload. Fields may
// sit under a "brief" object or at the top level.
func BriefFromPayload(payload map[string]any) ContentBrief {
	m := nested(payload, "brief")
	return ContentBrief{
		Message:          str(m, "message"),
		Audience:         str(m, "audience"),
		Platform:         str(m, "platform"),
		FunnelStage:      str(m, "funnel_stage"),
		PainArea:         str(m, "pain_area"),
		PainPoint:        str(m, "pain_point"),
		ComplianceLevel:  str(m, "compliance_level"),
		ValueProposition: str(m, "value_proposition"),
		DesiredAction:    str(m, "desired_action"),
		CTA:              str(m, "cta"),
		KeyMessages:      strs(m, "key_messages"),
		Constraints:      str(m, "constraints"),
		PricePoint:       str(m, "price_point"),
		Programs:         strs(m, "programs"),
		Centers:          strs(m, "centers"),
		Tone:             str(m, "tone"),
		CampaignName:     str(m, "campaign_name"),
		Offer:            str(m, "offer"),
		Deadline:         str(m, "deadline"),
		LandingPage:      str(m, "landing_page"),
		PromoCode:        str(m, "promo_code"),
	}
}

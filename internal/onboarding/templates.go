package onboarding

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/boddenberg/tradie-onboarding-bfa/internal/domain"
)

var placeholderRe = regexp.MustCompile(`\{([a-z_]+)\}`)

// ExtractVariables returns the distinct {name} placeholders of content in
// order of first appearance.
func ExtractVariables(content string) []string {
	matches := placeholderRe.FindAllStringSubmatch(content, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if !slices.Contains(out, m[1]) {
			out = append(out, m[1])
		}
	}
	return out
}

// RenderTemplate substitutes {name} placeholders with values. Placeholders
// without a value are left as written.
func RenderTemplate(content string, values map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(content, func(ph string) string {
		name := ph[1 : len(ph)-1]
		if v, ok := values[name]; ok {
			return v
		}
		return ph
	})
}

// PreviewTemplate renders content and reports which placeholders are not
// known variables and which known ones had no value.
func PreviewTemplate(req domain.TemplatePreviewRequest) domain.TemplatePreviewResponse {
	vars := ExtractVariables(req.Content)
	resp := domain.TemplatePreviewResponse{
		Rendered:  RenderTemplate(req.Content, req.Values),
		Variables: vars,
	}
	for _, v := range vars {
		if !slices.Contains(domain.TemplateVariables, v) {
			resp.Unknown = append(resp.Unknown, v)
			continue
		}
		if _, ok := req.Values[v]; !ok {
			resp.Unfilled = append(resp.Unfilled, v)
		}
	}
	resp.Segments = SegmentCount(resp.Rendered)
	return resp
}

// gsm7 is the GSM 03.38 basic character set; anything outside it forces UCS-2.
const gsm7 = "@£$¥èéùìòÇ\nØø\rÅåΔ_ΦΓΛΩΠΨΣΘΞÆæßÉ !\"#¤%&'()*+,-./0123456789:;<=>?" +
	"¡ABCDEFGHIJKLMNOPQRSTUVWXYZÄÖÑÜ§¿abcdefghijklmnopqrstuvwxyzäöñüà"

// gsm7Ext characters take two septets.
const gsm7Ext = "^{}\\[~]|€\f"

// SegmentCount returns how many SMS parts a message of this body needs.
func SegmentCount(body string) int {
	if body == "" {
		return 0
	}

	septets, unicode := 0, false
	for _, r := range body {
		switch {
		case strings.ContainsRune(gsm7, r):
			septets++
		case strings.ContainsRune(gsm7Ext, r):
			septets += 2
		default:
			unicode = true
		}
	}

	single, multi, n := 160, 153, septets
	if unicode {
		single, multi, n = 70, 67, utf8.RuneCountInString(body)
	}
	if n <= single {
		return 1
	}
	return (n + multi - 1) / multi
}

// DefaultTemplates is the starter set offered when a tradie reaches the
// templates step with none saved.
func DefaultTemplates(businessName string) domain.SMSTemplates {
	sign := "{business_name}"
	if strings.TrimSpace(businessName) != "" {
		sign = businessName
	}

	build := func(typ, body string) domain.SMSTemplate {
		content := fmt.Sprintf(body, sign)
		return domain.SMSTemplate{TemplateType: typ, Content: content, Variables: ExtractVariables(content)}
	}

	return domain.SMSTemplates{
		build(domain.TemplateBookingConfirmation, "Hi {customer_name}, your booking with %s is confirmed for {job_date} at {job_time}."),
		build(domain.TemplateOnTheWay, "Hi {customer_name}, {tradie_name} from %s is on the way now."),
		build(domain.TemplateJobComplete, "Hi {customer_name}, the job is done. Thanks for choosing %s!"),
		build(domain.TemplateQuoteFollowUp, "Hi {customer_name}, just following up on your quote of {quote_amount} from %s."),
		build(domain.TemplatePaymentReminder, "Hi {customer_name}, a friendly reminder that invoice {invoice_amount} from %s is due."),
		build(domain.TemplateReviewRequest, "Hi {customer_name}, thanks for choosing %s. We'd love a review: {review_link}"),
	}
}

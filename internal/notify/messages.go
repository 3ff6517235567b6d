package notify

import (
	"fmt"
	"strings"

	"cropdoctor/internal/models"
)

// Bilingual texts sent back to farmers. Swahili first, English second, matching
// what field users expect.
const (
	MsgImageReceived = "Asante! Tunapokea picha yako. Tunachunguza...\n\nThank you! We received your photo. Analyzing..."

	MsgImageFailed = "Samahani, imeshindikana kuchakata picha yako. Tafadhali jaribu tena.\n\nSorry, we couldn't process your image. Please try again."

	MsgTechnicalIssue = "Samahani, kumekuwa na tatizo la kiufundi. Tafadhali jaribu tena baadaye.\n\nSorry, there was a technical issue. Please try again later."

	MsgUnsubscribed = "Umesajiliwa kutoka kwa huduma. Tuma START kuendelea.\n\nYou've been unsubscribed. Send START to resume."

	MsgSendPhoto = "Habari! Tuma picha ya mmea wako ulioathirika ili kukusaidia kuchunguza.\n\nHello! Send a photo of your affected crop so we can help diagnose."
)

// ComposeDiagnosis renders the final bilingual diagnosis message. It is pure:
// the same report always yields the same text.
func ComposeDiagnosis(r *models.Report) string {
	var b strings.Builder

	b.WriteString("*MATOKEO YA UCHUNGUZI / DIAGNOSIS RESULTS*\n\n")

	if r.NeedsHumanReview {
		b.WriteString("⚠️ *Hakikisho limepungua / Low Confidence*\n\n")
	}

	fmt.Fprintf(&b, "📋 *Ugonjwa / Disease:*\n%s / %s\n\n", r.DiseaseSwahili, r.PredictedDisease)
	fmt.Fprintf(&b, "📊 *Ukali / Severity:* %s\n\n", r.Severity)
	b.WriteString("💊 *Ushauri / Advice:*\n\n")
	fmt.Fprintf(&b, "*SW:* %s\n\n", r.AdviceSW)
	fmt.Fprintf(&b, "*EN:* %s\n\n", r.AdviceEN)

	if r.NeedsHumanReview {
		b.WriteString("\n_Mtaalamu atachukulia hii kwa uchunguzi zaidi._\n_A specialist will review this for further analysis._")
	}

	fmt.Fprintf(&b, "\n\n---\nRipoti Nambari / Report ID: %s", r.ReportUUID.String()[:8])

	return b.String()
}

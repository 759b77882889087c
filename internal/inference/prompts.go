package inference

import (
	"fmt"
	"strings"

	"horse.fit/fusion/internal/textutil"
)

func similarityPrompt(incoming, candidate Text) string {
	var b strings.Builder
	b.WriteString("You compare two news reports and decide whether they describe the same real-world event.\n")
	b.WriteString("Same event means same incident, announcement or development, even if wording, language or detail differ.\n")
	b.WriteString("Follow-ups about a different incident are NOT the same story.\n\n")
	writeText(&b, "REPORT A", incoming)
	writeText(&b, "REPORT B", candidate)
	b.WriteString("Reply with only a JSON object:\n")
	b.WriteString(`{"same_story": true|false, "difference": 0-100, "is_breaking": true|false, "confidence": 0.0-1.0, "reasoning": "one sentence"}`)
	b.WriteString("\nconfidence is how sure you are of the same_story answer. difference is the percentage of REPORT A not covered by REPORT B.\n")
	return b.String()
}

func differencePrompt(existing, incoming Text) string {
	var b strings.Builder
	b.WriteString("You maintain a published news article. A new report about the same story arrived.\n")
	b.WriteString("Estimate how much of the NEW REPORT is not already covered by the EXISTING ARTICLE.\n\n")
	writeText(&b, "EXISTING ARTICLE", existing)
	writeText(&b, "NEW REPORT", incoming)
	b.WriteString("Reply with only a JSON object:\n")
	b.WriteString(`{"difference": 0-100, "has_new_information": true|false, "reasoning": "one sentence"}`)
	b.WriteString("\ndifference is the percentage of new or changed facts (0 = identical, 100 = entirely new).\n")
	b.WriteString("has_new_information is false when the report only repeats known facts.\n")
	return b.String()
}

func generationPrompt(source Text) string {
	var b strings.Builder
	b.WriteString("Write a neutral news article from the source report below, in English and in Khmer.\n")
	b.WriteString("Keep every fact, name, number and date. Do not invent facts. No promotional text, links or emojis.\n\n")
	writeText(&b, "SOURCE REPORT", source)
	b.WriteString("Reply with only a JSON object, all four fields required and non-empty:\n")
	b.WriteString(`{"title_en": "...", "content_en": "...", "title_kh": "...", "content_kh": "..."}`)
	b.WriteString("\n")
	return b.String()
}

func mergePrompt(existing BilingualContent, incoming Text) string {
	var b strings.Builder
	b.WriteString("Update the published article with the new report.\n")
	b.WriteString("Keep all prior context and the chronology of events. Add new facts and replace facts the new report supersedes.\n")
	b.WriteString("Never drop earlier facts that are not contradicted.\n\n")
	writeText(&b, "PUBLISHED ARTICLE (EN)", Text{Title: existing.TitleEN, Content: existing.ContentEN})
	if existing.TitleKH != "" || existing.ContentKH != "" {
		writeText(&b, "PUBLISHED ARTICLE (KH)", Text{Title: existing.TitleKH, Content: existing.ContentKH})
	}
	writeText(&b, "NEW REPORT", incoming)
	b.WriteString("Reply with only a JSON object. English fields are required; Khmer fields may be null if you cannot produce them:\n")
	b.WriteString(`{"title_en": "...", "content_en": "...", "title_kh": "..."|null, "content_kh": "..."|null}`)
	b.WriteString("\n")
	return b.String()
}

func classificationPrompt(text Text, existing []Name, tagsOnly bool) string {
	var b strings.Builder
	b.WriteString("Classify the news article into one category and up to 5 short topical tags, each in English and Khmer.\n")
	if len(existing) > 0 {
		b.WriteString("Existing categories (strongly prefer one of these, copy its English name exactly):\n")
		for _, name := range existing {
			if name.KH != "" {
				fmt.Fprintf(&b, "- %s / %s\n", name.EN, name.KH)
				continue
			}
			fmt.Fprintf(&b, "- %s\n", name.EN)
		}
		b.WriteString("Only invent a new category when none of the existing ones fit.\n")
	}
	if tagsOnly {
		b.WriteString("The category is already decided; focus on the tags.\n")
	}
	b.WriteString("\n")
	writeText(&b, "ARTICLE", text)
	b.WriteString("Reply with only a JSON object:\n")
	b.WriteString(`{"category": {"en": "...", "kh": "..."}, "tags": [{"en": "...", "kh": "..."}]}`)
	b.WriteString("\n")
	return b.String()
}

func writeText(b *strings.Builder, label string, text Text) {
	fmt.Fprintf(b, "%s\nTitle: %s\nBody:\n%s\n\n",
		label,
		strings.TrimSpace(text.Title),
		textutil.Truncate(strings.TrimSpace(text.Content), promptContentRunes),
	)
}

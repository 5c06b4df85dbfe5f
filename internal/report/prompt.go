package report

import (
	"fmt"
	"strings"

	"MediScan/internal/session"
)

// MaxReportChars caps the OCR text kept for prompts and chat grounding.
const MaxReportChars = 1000

// Truncate keeps the first n characters of s. It counts runes, so a
// multi-byte character is never split, but words may be.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// SummaryPrompt builds the summarization instruction for the report text.
func SummaryPrompt(reportText string) string {
	return fmt.Sprintf(`You are a medical report summarizer.
Read this text and extract:
- Summary of report
- Abnormal findings
- Prescribed medicines (if any)
- Recommendations

Text: %s
`, reportText)
}

// ChatPrompt builds the grounded question-answer prompt. history must
// already contain the new user turn.
func ChatPrompt(reportText string, history []session.Message, question string) string {
	return fmt.Sprintf(`You are an assistant that answers questions about medical reports.

Here is the medical report text extracted from the uploaded image:
--- REPORT START ---
%s
--- REPORT END ---

Conversation so far:
%s

User's new question:
%s

Your job:
- Answer based only on the report & general medical knowledge.
- Explain clearly in simple terms.
- Do NOT give medical advice or treatment instructions.
`, reportText, FormatHistory(history), question)
}

// FormatHistory renders the transcript one "role: content" line per turn.
func FormatHistory(history []session.Message) string {
	if len(history) == 0 {
		return "(no previous messages)"
	}
	var sb strings.Builder
	for i, m := range history {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
	}
	return sb.String()
}

// StripEmphasis removes every literal "**" from model output.
func StripEmphasis(s string) string {
	return strings.ReplaceAll(s, "**", "")
}

// ToHTML strips emphasis markers and turns newlines into <br>.
func ToHTML(s string) string {
	return strings.ReplaceAll(StripEmphasis(s), "\n", "<br>")
}

package report

import (
	"strings"
	"testing"

	"MediScan/internal/session"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"shorter", "abc", 5, "abc"},
		{"exact", "abcde", 5, "abcde"},
		{"cut mid word", "hello world", 7, "hello w"},
		{"multibyte", "αβγδ", 2, "αβ"},
		{"zero", "abc", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.in, tt.n); got != tt.want {
				t.Fatalf("Truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
		})
	}
}

func TestToHTML(t *testing.T) {
	got := ToHTML("**Summary**\nHb low\n\n**Advice**: see doctor")
	want := "Summary<br>Hb low<br><br>Advice: see doctor"
	if got != want {
		t.Fatalf("ToHTML = %q, want %q", got, want)
	}
	if StripEmphasis("a ***b*** c") != "a *b* c" {
		t.Fatalf("StripEmphasis must remove only double asterisks")
	}
}

func TestSummaryPromptEmbedsText(t *testing.T) {
	p := SummaryPrompt("WBC 12000")
	for _, want := range []string{"Abnormal findings", "Prescribed medicines", "Recommendations", "Text: WBC 12000"} {
		if !strings.Contains(p, want) {
			t.Fatalf("summary prompt missing %q", want)
		}
	}
}

func TestFormatHistory(t *testing.T) {
	if got := FormatHistory(nil); got != "(no previous messages)" {
		t.Fatalf("unexpected empty history %q", got)
	}
	got := FormatHistory([]session.Message{
		{Role: session.RoleUser, Content: "q"},
		{Role: session.RoleAssistant, Content: "a"},
	})
	if got != "user: q\nassistant: a" {
		t.Fatalf("unexpected history %q", got)
	}
}

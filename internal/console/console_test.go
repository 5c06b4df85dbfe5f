package console

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"MediScan/internal/report"
	"MediScan/internal/session"
)

const sid = "0b7d3c1e-9a2f-4e8b-b1c4-5d6e7f8a9b0c"

type fakeOrchestrator struct {
	uploads  []report.Upload
	messages []string
	sessions []string
	resets   []string
	sess     *session.Session
}

func (f *fakeOrchestrator) Analyze(ctx context.Context, sessionID string, up report.Upload) (report.AnalyzeResult, error) {
	f.uploads = append(f.uploads, up)
	f.sessions = append(f.sessions, sessionID)
	f.sess = &session.Session{ID: sid, ReportText: "Glucose 180 mg/dL"}
	return report.AnalyzeResult{SessionID: sid, SummaryHTML: "Summary<br>High glucose"}, nil
}

func (f *fakeOrchestrator) Chat(ctx context.Context, sessionID, message string) (report.ChatResult, error) {
	f.messages = append(f.messages, message)
	f.sessions = append(f.sessions, sessionID)
	if message == "fail" {
		return report.ChatResult{}, errors.New("model unavailable")
	}
	if f.sess != nil {
		f.sess.Messages = append(f.sess.Messages,
			session.Message{Role: session.RoleUser, Content: message},
			session.Message{Role: session.RoleAssistant, Content: "answer"})
	}
	return report.ChatResult{SessionID: sid, Reply: "answer"}, nil
}

func (f *fakeOrchestrator) Session(ctx context.Context, sessionID string) (*session.Session, error) {
	if f.sess == nil || sessionID != f.sess.ID {
		return nil, session.ErrNotFound
	}
	return f.sess, nil
}

func (f *fakeOrchestrator) Reset(ctx context.Context, sessionID string) error {
	f.resets = append(f.resets, sessionID)
	f.sess = nil
	return nil
}

func newTestConsole(orch Orchestrator, input string, out *bytes.Buffer) *Console {
	c := New(orch, strings.NewReader(input), out, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.readFile = func(path string) ([]byte, error) {
		if path == "missing.png" {
			return nil, errors.New("no such file")
		}
		return []byte("\x89PNG\r\n\x1a\n0000"), nil
	}
	return c
}

func TestRunAnalyzeThenChat(t *testing.T) {
	orch := &fakeOrchestrator{}
	var out bytes.Buffer
	c := newTestConsole(orch, "/analyze scans/report.png\nIs glucose high?\n/history\n/report\n/quit\n", &out)

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(orch.uploads) != 1 || orch.uploads[0].ContentType != "image/png" || orch.uploads[0].Filename != "report.png" {
		t.Fatalf("unexpected uploads %+v", orch.uploads)
	}
	if len(orch.messages) != 1 || orch.messages[0] != "Is glucose high?" {
		t.Fatalf("unexpected messages %v", orch.messages)
	}
	if orch.sessions[1] != sid {
		t.Fatalf("chat must reuse the analyzed session, got %q", orch.sessions[1])
	}

	got := out.String()
	for _, want := range []string{"Summary\nHigh glucose", "Bot: answer", "user: Is glucose high?", "Glucose 180 mg/dL", "Goodbye!"} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
}

func TestRunReportsErrorsAndContinues(t *testing.T) {
	orch := &fakeOrchestrator{}
	var out bytes.Buffer
	c := newTestConsole(orch, "/analyze missing.png\nfail\n/bogus\nhello\n", &out)

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := out.String()
	for _, want := range []string{"failed to read missing.png", "Error: model unavailable", "unknown command: /bogus", "Bot: answer"} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
}

func TestNewSessionResets(t *testing.T) {
	orch := &fakeOrchestrator{}
	var out bytes.Buffer
	c := newTestConsole(orch, "/analyze r.png\n/new-session\n/report\n", &out)

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(orch.resets) != 1 || orch.resets[0] != sid {
		t.Fatalf("unexpected resets %v", orch.resets)
	}
	if c.SessionID() != "" {
		t.Fatalf("expected session to be cleared")
	}
	if !strings.Contains(out.String(), "No report analyzed yet") {
		t.Fatalf("expected empty-session notice:\n%s", out.String())
	}
}

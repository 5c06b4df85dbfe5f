// Package console is an interactive terminal front end for the report
// orchestrator: analyze a report image, then ask questions about it.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"MediScan/internal/report"
	"MediScan/internal/session"
)

// Orchestrator is the subset of report.Service the console drives.
type Orchestrator interface {
	Analyze(ctx context.Context, sessionID string, up report.Upload) (report.AnalyzeResult, error)
	Chat(ctx context.Context, sessionID, message string) (report.ChatResult, error)
	Session(ctx context.Context, sessionID string) (*session.Session, error)
	Reset(ctx context.Context, sessionID string) error
}

type Console struct {
	svc       Orchestrator
	in        io.Reader
	out       io.Writer
	logger    *slog.Logger
	readFile  func(string) ([]byte, error)
	sessionID string
}

func New(svc Orchestrator, in io.Reader, out io.Writer, logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{svc: svc, in: in, out: out, logger: logger, readFile: os.ReadFile}
}

// SessionID returns the session the console is bound to, if any.
func (c *Console) SessionID() string { return c.sessionID }

// Resume binds the console to an existing session.
func (c *Console) Resume(id string) { c.sessionID = id }

// Analyze reads an image file and makes it the report under discussion.
func (c *Console) Analyze(ctx context.Context, path string) error {
	data, err := c.readFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	res, err := c.svc.Analyze(ctx, c.sessionID, report.Upload{
		Filename:    filepath.Base(path),
		ContentType: http.DetectContentType(data),
		Data:        data,
	})
	if err != nil {
		return err
	}
	c.sessionID = res.SessionID
	fmt.Fprintf(c.out, "\n%s\n\n", htmlToText(res.SummaryHTML))
	return nil
}

// handleCommand handles slash commands. It reports whether to quit.
func (c *Console) handleCommand(ctx context.Context, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/analyze":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /analyze <image-path>")
		}
		return false, c.Analyze(ctx, strings.Join(parts[1:], " "))

	case "/new-session":
		if c.sessionID != "" {
			if err := c.svc.Reset(ctx, c.sessionID); err != nil {
				return false, err
			}
		}
		c.sessionID = ""
		fmt.Fprintln(c.out, "Started new session.")
		return false, nil

	case "/report", "/history":
		sess, err := c.svc.Session(ctx, c.sessionID)
		if errors.Is(err, session.ErrNotFound) {
			fmt.Fprintln(c.out, "No report analyzed yet. Use /analyze <image-path>.")
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if parts[0] == "/report" {
			fmt.Fprintf(c.out, "\n%s\n\n", sess.ReportText)
			return false, nil
		}
		for _, m := range sess.Messages {
			fmt.Fprintf(c.out, "%s: %s\n", m.Role, m.Content)
		}
		return false, nil

	case "/help":
		fmt.Fprintln(c.out, "Available commands:")
		fmt.Fprintln(c.out, "  /analyze <path>  - Extract and summarize a report image")
		fmt.Fprintln(c.out, "  /report          - Show the extracted report text")
		fmt.Fprintln(c.out, "  /history         - Show the conversation so far")
		fmt.Fprintln(c.out, "  /new-session     - Forget the current report and conversation")
		fmt.Fprintln(c.out, "  /quit, /exit     - Exit")
		fmt.Fprintln(c.out, "  /help            - Show this help message")
		return false, nil

	default:
		return false, fmt.Errorf("unknown command: %s", parts[0])
	}
}

// Run reads lines until EOF or /quit.
func (c *Console) Run(ctx context.Context) error {
	fmt.Fprintln(c.out, "=== MediScan ===")
	if c.sessionID != "" {
		fmt.Fprintf(c.out, "Session: %s\n", c.sessionID)
	}
	fmt.Fprintln(c.out, "Type /help for commands, /quit to exit")
	fmt.Fprintln(c.out)

	scanner := bufio.NewScanner(c.in)
	for {
		fmt.Fprint(c.out, "You: ")
		if !scanner.Scan() {
			break
		}
		if ctx.Err() != nil {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			shouldQuit, err := c.handleCommand(ctx, input)
			if err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
				c.logger.Error("command error", "error", err)
			}
			if shouldQuit {
				break
			}
			continue
		}

		res, err := c.svc.Chat(ctx, c.sessionID, input)
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
			c.logger.Error("failed to send message", "error", err)
			continue
		}
		c.sessionID = res.SessionID
		fmt.Fprintf(c.out, "Bot: %s\n\n", res.Reply)
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	fmt.Fprintln(c.out, "Goodbye!")
	return nil
}

func htmlToText(s string) string {
	return strings.ReplaceAll(s, "<br>", "\n")
}

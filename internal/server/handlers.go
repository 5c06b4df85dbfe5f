package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"MediScan/internal/report"
	"MediScan/internal/session"
)

const (
	HeaderSessionID   = "X-Session-ID"
	SessionCookieName = "mediscan_session"
)

type chatRequest struct {
	Message *string `json:"message"`
}

type messageView struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type sessionView struct {
	ID         string        `json:"session_id"`
	ReportText string        `json:"report_text"`
	History    []messageView `json:"chat_history"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

func (s *Server) analyzeReport(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return echo.NewHTTPError(http.StatusBadRequest, `missing form file "file"`).SetInternal(err)
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read upload").SetInternal(err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read upload").SetInternal(err)
	}

	res, err := s.svc.Analyze(c.Request().Context(), sessionID(c), report.Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get(echo.HeaderContentType),
		Data:        data,
	})
	if err != nil {
		return apiError("Error analyzing report: ", err)
	}
	s.setSession(c, res.SessionID)
	return c.HTML(http.StatusOK, res.SummaryHTML)
}

func (s *Server) chat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if req.Message == nil {
		return echo.NewHTTPError(http.StatusBadRequest, `field "message" is required`)
	}

	res, err := s.svc.Chat(c.Request().Context(), sessionID(c), *req.Message)
	if err != nil {
		return apiError("Chat error: ", err)
	}
	s.setSession(c, res.SessionID)
	return c.String(http.StatusOK, res.Reply)
}

func (s *Server) getSession(c echo.Context) error {
	sess, err := s.svc.Session(c.Request().Context(), sessionID(c))
	if errors.Is(err, session.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Session not found.")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error()).SetInternal(err)
	}

	view := sessionView{
		ID:         sess.ID,
		ReportText: sess.ReportText,
		History:    make([]messageView, len(sess.Messages)),
		CreatedAt:  sess.CreatedAt,
		UpdatedAt:  sess.UpdatedAt,
	}
	for i, m := range sess.Messages {
		view.History[i] = messageView{Role: m.Role, Content: m.Content, Timestamp: m.Timestamp}
	}
	return c.JSON(http.StatusOK, view)
}

func (s *Server) deleteSession(c echo.Context) error {
	if err := s.svc.Reset(c.Request().Context(), sessionID(c)); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error()).SetInternal(err)
	}
	c.SetCookie(&http.Cookie{Name: SessionCookieName, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
	return c.NoContent(http.StatusNoContent)
}

// apiError maps client-caused failures to 400 and everything else to 500
// with prefix prepended to the message.
func apiError(prefix string, err error) error {
	if report.IsBadRequest(err) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	}
	return echo.NewHTTPError(http.StatusInternalServerError, prefix+err.Error()).SetInternal(err)
}

// sessionID reads the session from the header, falling back to the cookie.
func sessionID(c echo.Context) string {
	if id := c.Request().Header.Get(HeaderSessionID); id != "" {
		return id
	}
	if cookie, err := c.Cookie(SessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

func (s *Server) setSession(c echo.Context, id string) {
	if id == "" {
		return
	}
	c.Response().Header().Set(HeaderSessionID, id)
	cookie := &http.Cookie{
		Name:     SessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if s.ttl > 0 {
		cookie.MaxAge = int(s.ttl.Seconds())
	}
	c.SetCookie(cookie)
}

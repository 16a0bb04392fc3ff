package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/doublelife/doublelife-kit/pkg/activity"
	"github.com/doublelife/doublelife-kit/pkg/command"
	"github.com/doublelife/doublelife-kit/pkg/errors"
	"github.com/doublelife/doublelife-kit/pkg/notify"
	"github.com/doublelife/doublelife-kit/pkg/privilege"
	"github.com/doublelife/doublelife-kit/pkg/session"
)

type handler struct {
	manager  *session.Manager
	commands *command.Handler
	backend  privilege.Backend
	inbox    *notify.Inbox
	logger   zerolog.Logger
}

type identityKey struct{}

func identityCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "identity"))
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_identity", err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}

func identityFrom(r *http.Request) uuid.UUID {
	id, _ := r.Context().Value(identityKey{}).(uuid.UUID)
	return id
}

// replySender collects the feedback of one request so it can be returned in
// the response body.
type replySender struct {
	ctx     context.Context
	id      uuid.UUID
	console bool
	backend privilege.Backend

	mu   sync.Mutex
	msgs []string
}

func (s *replySender) SendMessage(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
}

func (s *replySender) HasCapability(name string) bool {
	if s.console {
		return true
	}
	return s.backend.HasCapability(s.ctx, s.id, name)
}

func (s *replySender) Identity() (uuid.UUID, bool) { return s.id, !s.console }

func (s *replySender) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.msgs...)
}

func (h *handler) sender(r *http.Request) *replySender {
	return &replySender{ctx: r.Context(), id: identityFrom(r), backend: h.backend}
}

type commandRequest struct {
	Command string `json:"command"`
}

type commandResponse struct {
	Messages []string `json:"messages"`
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return false
	}
	return true
}

func (h *handler) execute(w http.ResponseWriter, r *http.Request, s *replySender, line string) {
	err := h.commands.Execute(r.Context(), s, line)
	resp := commandResponse{Messages: s.messages()}
	if err != nil {
		writeDomainError(w, r, err, resp)
		return
	}
	writeSuccess(w, http.StatusOK, "", resp)
}

func (h *handler) runCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if !decode(w, r, &req) {
		return
	}
	h.execute(w, r, h.sender(r), req.Command)
}

func (h *handler) consoleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if !decode(w, r, &req) {
		return
	}
	h.execute(w, r, &replySender{ctx: r.Context(), console: true, backend: h.backend}, req.Command)
}

type startRequest struct {
	Mode string `json:"mode"`
}

func (h *handler) startSession(w http.ResponseWriter, r *http.Request) {
	req := startRequest{Mode: session.ModeStandard.String()}
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	mode, err := session.ParseMode(req.Mode)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_mode", err.Error())
		return
	}
	line := "start"
	if mode == session.ModeElevated {
		line = "turbo"
	}
	h.execute(w, r, h.sender(r), line)
}

func (h *handler) endSession(w http.ResponseWriter, r *http.Request) {
	h.execute(w, r, h.sender(r), "end")
}

type prolongRequest struct {
	Minutes int `json:"minutes"`
}

func (h *handler) prolongSession(w http.ResponseWriter, r *http.Request) {
	var req prolongRequest
	if !decode(w, r, &req) {
		return
	}
	s := h.sender(r)
	if !s.HasCapability(h.manager.Settings().Capabilities.Prolong) {
		writeDomainError(w, r, session.RejectMissingCapability.Err(), nil)
		return
	}
	if rej := h.manager.CheckProlong(s.id, req.Minutes); rej != session.RejectNone {
		writeDomainError(w, r, rej.Err(), nil)
		return
	}
	st, _ := h.manager.Status(s.id)
	writeSuccess(w, http.StatusOK, "extended", st)
}

func (h *handler) listSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := h.manager.List()
	out := make([]session.Status, 0, len(sessions))
	for _, sess := range sessions {
		if st, ok := h.manager.Status(sess.Identity()); ok {
			out = append(out, st)
		}
	}
	writeSuccess(w, http.StatusOK, "", out)
}

type sessionResponse struct {
	Active          bool            `json:"active"`
	Session         *session.Status `json:"session,omitempty"`
	CooldownSeconds float64         `json:"cooldown_seconds"`
	StatusLines     []string        `json:"status_lines,omitempty"`
}

func (h *handler) getSession(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r)
	resp := sessionResponse{CooldownSeconds: h.manager.RemainingCooldown(id).Seconds()}
	if st, ok := h.manager.Status(id); ok {
		resp.Active = true
		resp.Session = &st
		resp.StatusLines = command.StatusLines(st)
	}
	writeSuccess(w, http.StatusOK, "", resp)
}

type connectResponse struct {
	Outcome string `json:"outcome"`
}

// connect is called by the host when an identity comes online. Parked
// sessions are resumed after the restore delay.
func (h *handler) connect(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r)
	select {
	case outcome := <-h.manager.ScheduleRestore(r.Context(), id):
		writeSuccess(w, http.StatusOK, "", connectResponse{Outcome: outcome.String()})
	case <-r.Context().Done():
		writeError(w, r, http.StatusRequestTimeout, "cancelled", r.Context().Err().Error())
	}
}

type activityRequest struct {
	Type     string `json:"type"`
	Details  string `json:"details"`
	Location string `json:"location"`
}

type activityResponse struct {
	Recorded bool `json:"recorded"`
}

func (h *handler) recordActivity(w http.ResponseWriter, r *http.Request) {
	var req activityRequest
	if !decode(w, r, &req) {
		return
	}
	typ, err := activity.ParseType(req.Type)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_activity_type", err.Error())
		return
	}
	recorded := h.manager.Record(identityFrom(r), typ, req.Details, req.Location)
	writeSuccess(w, http.StatusOK, "", activityResponse{Recorded: recorded})
}

type checkResponse struct {
	Allowed bool `json:"allowed"`
}

func (h *handler) checkCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if !decode(w, r, &req) {
		return
	}
	allowed := h.manager.IsCommandAllowed(h.sender(r), req.Command)
	if !allowed {
		h.logger.Debug().Str("identity", identityFrom(r).String()).Str("command", req.Command).Msg("Command blocked outside session")
	}
	writeSuccess(w, http.StatusOK, "", checkResponse{Allowed: allowed})
}

func (h *handler) messages(w http.ResponseWriter, r *http.Request) {
	if h.inbox == nil {
		writeSuccess(w, http.StatusOK, "", []notify.Message{})
		return
	}
	msgs := h.inbox.Drain(identityFrom(r))
	if msgs == nil {
		msgs = []notify.Message{}
	}
	writeSuccess(w, http.StatusOK, "", msgs)
}

func (h *handler) progress(w http.ResponseWriter, r *http.Request) {
	if h.inbox != nil {
		if p, ok := h.inbox.Progress(identityFrom(r)); ok {
			writeSuccess(w, http.StatusOK, "", p)
			return
		}
	}
	writeError(w, r, http.StatusNotFound, string(errors.CodeNotFound), "no progress indicator")
}

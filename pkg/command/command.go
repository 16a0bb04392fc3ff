// Package command is the text command surface of the session lifecycle:
// start, turbo, end, prolong, status, reload and help, gated by
// capabilities held by the sender.
package command

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/doublelife/doublelife-kit/pkg/config"
	"github.com/doublelife/doublelife-kit/pkg/errors"
	"github.com/doublelife/doublelife-kit/pkg/notify"
	"github.com/doublelife/doublelife-kit/pkg/session"
)

// Reloader re-reads the configuration from its sources.
type Reloader func(ctx context.Context) (*config.Config, error)

// Handler routes command lines to the session manager.
type Handler struct {
	manager *session.Manager
	reload  Reloader
	logger  zerolog.Logger
}

func New(manager *session.Manager, reload Reloader, logger zerolog.Logger) *Handler {
	return &Handler{
		manager: manager,
		reload:  reload,
		logger:  logger.With().Str("component", "command").Logger(),
	}
}

var aliases = map[string]string{
	"stop":   "end",
	"extend": "prolong",
}

// Execute runs one command line such as "prolong 15". Feedback goes to the
// sender; the returned error carries a code for callers that need one.
func (h *Handler) Execute(ctx context.Context, s session.Sender, line string) error {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) == 0 {
		h.help(s)
		return nil
	}
	name := strings.ToLower(fields[0])
	if a, ok := aliases[name]; ok {
		name = a
	}
	args := fields[1:]

	h.logger.Debug().Str("command", name).Strs("args", args).Msg("Executing command")

	switch name {
	case "start":
		return h.start(ctx, s, session.ModeStandard)
	case "turbo":
		return h.start(ctx, s, session.ModeElevated)
	case "end":
		return h.end(ctx, s)
	case "prolong":
		return h.prolong(s, args)
	case "status":
		return h.status(s, args)
	case "reload":
		return h.reloadConfig(ctx, s)
	case "help":
		h.help(s)
		return nil
	}
	s.SendMessage(fmt.Sprintf("Unknown subcommand %q. Try /doublelife help.", name))
	return errors.New(errors.CodeNotFound, "command", "unknown subcommand", nil).With("command", name)
}

func (h *Handler) start(ctx context.Context, s session.Sender, mode session.Mode) error {
	if r := h.manager.CheckStart(s, mode); r != session.RejectNone {
		msg := r.Message()
		if r == session.RejectOnCooldown {
			id, _ := s.Identity()
			msg = fmt.Sprintf("%s for another %s", msg, notify.FormatDuration(h.manager.RemainingCooldown(id)))
		}
		s.SendMessage(capitalize(msg) + ".")
		return r.Err()
	}
	id, _ := s.Identity()
	if _, err := h.manager.Start(ctx, id, mode); err != nil {
		s.SendMessage("Could not start double life, please try again later.")
		return err
	}
	return nil
}

func (h *Handler) end(ctx context.Context, s session.Sender) error {
	id, ok := s.Identity()
	if !ok {
		s.SendMessage(capitalize(session.RejectNoIdentity.Message()) + ".")
		return session.RejectNoIdentity.Err()
	}
	if !s.HasCapability(h.manager.Settings().Capabilities.Use) {
		s.SendMessage(capitalize(session.RejectMissingCapability.Message()) + ".")
		return session.RejectMissingCapability.Err()
	}
	if !h.manager.End(ctx, id) {
		s.SendMessage("You have no active double life session.")
		return session.RejectNoSession.Err()
	}
	return nil
}

func (h *Handler) prolong(s session.Sender, args []string) error {
	id, ok := s.Identity()
	if !ok {
		s.SendMessage(capitalize(session.RejectNoIdentity.Message()) + ".")
		return session.RejectNoIdentity.Err()
	}
	if !s.HasCapability(h.manager.Settings().Capabilities.Prolong) {
		s.SendMessage("You do not have permission to extend sessions.")
		return session.RejectMissingCapability.Err()
	}
	if len(args) != 1 {
		s.SendMessage("Usage: /doublelife prolong <minutes>")
		return session.RejectInvalidMinutes.Err()
	}
	minutes, err := strconv.Atoi(args[0])
	if err != nil {
		s.SendMessage("Minutes must be a whole number.")
		return session.RejectInvalidMinutes.Err()
	}

	switch r := h.manager.CheckProlong(id, minutes); r {
	case session.RejectNone:
		return nil
	case session.RejectExceedsLimit:
		s.SendMessage("Cannot extend session - would exceed safety limits.")
		return r.Err()
	default:
		s.SendMessage(capitalize(r.Message()) + ".")
		return r.Err()
	}
}

func (h *Handler) status(s session.Sender, args []string) error {
	if !s.HasCapability(h.manager.Settings().Capabilities.Status) {
		s.SendMessage("You do not have permission to view session status.")
		return session.RejectMissingCapability.Err()
	}

	target, ok := s.Identity()
	if len(args) > 0 {
		id, err := uuid.Parse(args[0])
		if err != nil {
			s.SendMessage(fmt.Sprintf("%q is not a valid identity.", args[0]))
			return errors.New(errors.CodeNotFound, "command", "invalid identity", err)
		}
		target, ok = id, true
	}
	if !ok {
		s.SendMessage("Please specify a player!")
		return session.RejectNoIdentity.Err()
	}

	st, ok := h.manager.Status(target)
	if !ok {
		s.SendMessage("No active double life session: " + target.String())
		return session.RejectNoSession.Err()
	}
	for _, line := range StatusLines(st) {
		s.SendMessage(line)
	}
	return nil
}

// StatusLines renders a session status for chat.
func StatusLines(st session.Status) []string {
	mode, err := session.ParseMode(st.Mode)
	display := st.Mode
	if err == nil {
		display = mode.DisplayName()
	}
	return []string{
		"=== Double Life Status ===",
		"Player: " + st.Name,
		"Mode: " + display,
		fmt.Sprintf("Session duration: %d minutes", int(st.Elapsed.Minutes())),
		fmt.Sprintf("Remaining time: %d minutes", int(st.Remaining.Minutes())),
		fmt.Sprintf("Activities logged: %d", st.Activities),
	}
}

func (h *Handler) reloadConfig(ctx context.Context, s session.Sender) error {
	if !s.HasCapability(h.manager.Settings().Capabilities.Admin) {
		s.SendMessage("You do not have permission to reload the configuration.")
		return session.RejectMissingCapability.Err()
	}
	if h.reload == nil {
		s.SendMessage("Reload is not available.")
		return errors.New(errors.CodeInvalidConfig, "command", "no reloader configured", nil)
	}
	cfg, err := h.reload(ctx)
	if err == nil {
		err = h.manager.UpdateConfig(cfg)
	}
	if err != nil {
		h.logger.Error().Err(err).Str("operation", "reload").Msg("Reload failed")
		s.SendMessage("Reload failed: " + err.Error())
		return err
	}
	s.SendMessage("Configuration reloaded successfully!")
	return nil
}

func (h *Handler) help(s session.Sender) {
	caps := h.manager.Settings().Capabilities
	s.SendMessage("=== Double Life Help ===")
	s.SendMessage("/doublelife start - Start a double life session")
	s.SendMessage("/doublelife turbo - Start a turbo session with extra permissions")
	s.SendMessage("/doublelife end - End your current session")
	s.SendMessage("/doublelife status [player] - Show session status")
	if s.HasCapability(caps.Prolong) {
		s.SendMessage("/doublelife prolong <minutes> - Extend your current session")
	}
	if s.HasCapability(caps.Admin) {
		s.SendMessage("/doublelife reload - Reload the configuration")
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

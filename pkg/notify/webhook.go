package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

const (
	colorTurbo   = 16711680
	colorDefault = 255

	discordSummaryLimit = 1800
)

// NewHTTPClient returns a client that makes a single attempt per request;
// webhooks are delivered at most once.
func NewHTTPClient(timeout time.Duration) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 0
	c.Logger = nil
	c.HTTPClient.Timeout = timeout
	return c
}

func post(ctx context.Context, client *retryablehttp.Client, method, url, contentType string, body []byte, headers map[string]string) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: unexpected status %d", method, url, resp.StatusCode)
	}
	return nil
}

type discordFooter struct {
	Text string `json:"text"`
}

type discordEmbed struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Color       int           `json:"color"`
	Timestamp   string        `json:"timestamp"`
	Footer      discordFooter `json:"footer"`
}

type discordMessage struct {
	Content string         `json:"content"`
	Embeds  []discordEmbed `json:"embeds,omitempty"`
}

// DiscordSink posts session logs and elevated-mode alerts to a Discord webhook.
type DiscordSink struct {
	url     string
	format  string
	mention string
	client  *retryablehttp.Client
	logger  zerolog.Logger
}

type DiscordConfig struct {
	URL string
	// Format is "markdown" (embed summary) or "file" (full log attachment).
	Format string
	// Mention is prefixed to elevated-mode messages, e.g. "@here".
	Mention string
	Client  *retryablehttp.Client
	Logger  zerolog.Logger
}

func NewDiscordSink(cfg DiscordConfig) *DiscordSink {
	if cfg.Client == nil {
		cfg.Client = NewHTTPClient(10 * time.Second)
	}
	if cfg.Format == "" {
		cfg.Format = "markdown"
	}
	return &DiscordSink{
		url:     cfg.URL,
		format:  strings.ToLower(cfg.Format),
		mention: cfg.Mention,
		client:  cfg.Client,
		logger:  cfg.Logger.With().Str("component", "discord_sink").Logger(),
	}
}

func (s *DiscordSink) Name() string { return "discord" }

func (s *DiscordSink) Deliver(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case KindTurboActivated:
		return s.sendJSON(ctx, s.turboAlert(ev))
	case KindSessionLog:
		if ev.Log == nil {
			return nil
		}
		if s.format == "file" {
			return s.sendFile(ctx, *ev.Log)
		}
		return s.sendJSON(ctx, s.summary(*ev.Log))
	}
	return nil
}

func (s *DiscordSink) attention(mode string) string {
	if mode == "TURBO" && s.mention != "" {
		return s.mention + " "
	}
	return ""
}

func modeEmoji(mode string) string {
	if mode == "TURBO" {
		return "🚀"
	}
	return "⚡"
}

func (s *DiscordSink) turboAlert(ev Event) discordMessage {
	mention := ""
	if s.mention != "" {
		mention = s.mention + " "
	}
	return discordMessage{
		Content: mention + "🚀 **TURBO MODE ACTIVATED** 🚀",
		Embeds: []discordEmbed{{
			Title:       "⚠️ High Priority Alert",
			Description: fmt.Sprintf("**%s** has activated Turbo Double Life mode with full administrative permissions.\n\n🔒 **Enhanced monitoring is now active**", ev.Name),
			Color:       colorTurbo,
			Timestamp:   ev.At.UTC().Format(time.RFC3339),
			Footer:      discordFooter{Text: "Immediate alert - Session log will follow when ended"},
		}},
	}
}

func (s *DiscordSink) summary(l SessionLog) discordMessage {
	color := colorDefault
	if l.Mode == "TURBO" {
		color = colorTurbo
	}
	return discordMessage{
		Content: s.attention(l.Mode) + modeEmoji(l.Mode) + " **Double Life Session Ended**",
		Embeds: []discordEmbed{{
			Title:       fmt.Sprintf("%s Session - %s", l.ModeDisplay, displayName(l)),
			Description: RenderSummary(l, discordSummaryLimit),
			Color:       color,
			Timestamp:   l.End.UTC().Format(time.RFC3339),
			Footer:      discordFooter{Text: fmt.Sprintf("Activities: %d | Duration: %s", len(l.Activities), shortDuration(l.Duration()))},
		}},
	}
}

func (s *DiscordSink) sendJSON(ctx context.Context, msg discordMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode discord message: %w", err)
	}
	if err := post(ctx, s.client, http.MethodPost, s.url, "application/json", body, nil); err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	s.logger.Debug().Msg("Discord webhook sent")
	return nil
}

func (s *DiscordSink) sendFile(ctx context.Context, l SessionLog) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	payload, err := json.Marshal(discordMessage{
		Content: fmt.Sprintf("%s%s Double Life %s session log for %s:", s.attention(l.Mode), modeEmoji(l.Mode), l.ModeDisplay, displayName(l)),
	})
	if err != nil {
		return err
	}
	if err := w.WriteField("payload_json", string(payload)); err != nil {
		return err
	}
	part, err := w.CreateFormFile("files[0]", fmt.Sprintf("%s-%s-session.log", displayName(l), strings.ToLower(l.Mode)))
	if err != nil {
		return err
	}
	if _, err := io.WriteString(part, Render(l)); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	if err := post(ctx, s.client, http.MethodPost, s.url, w.FormDataContentType(), buf.Bytes(), nil); err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	return nil
}

// CallbackPayload is the body sent to the generic HTTP callback.
type CallbackPayload struct {
	Player    string `json:"player"`
	Identity  string `json:"identity"`
	Mode      string `json:"mode"`
	Timestamp int64  `json:"timestamp"`
	Log       string `json:"log"`
}

// CallbackSink sends the rendered session log to an arbitrary endpoint.
type CallbackSink struct {
	url           string
	method        string
	authorization string
	client        *retryablehttp.Client
	logger        zerolog.Logger
}

type CallbackConfig struct {
	URL           string
	Method        string
	Authorization string
	Client        *retryablehttp.Client
	Logger        zerolog.Logger
}

func NewCallbackSink(cfg CallbackConfig) *CallbackSink {
	if cfg.Client == nil {
		cfg.Client = NewHTTPClient(10 * time.Second)
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	return &CallbackSink{
		url:           cfg.URL,
		method:        strings.ToUpper(cfg.Method),
		authorization: cfg.Authorization,
		client:        cfg.Client,
		logger:        cfg.Logger.With().Str("component", "callback_sink").Logger(),
	}
}

func (s *CallbackSink) Name() string { return "callback" }

func (s *CallbackSink) Deliver(ctx context.Context, ev Event) error {
	if ev.Kind != KindSessionLog || ev.Log == nil {
		return nil
	}
	body, err := json.Marshal(CallbackPayload{
		Player:    displayName(*ev.Log),
		Identity:  ev.Log.Identity.String(),
		Mode:      ev.Log.Mode,
		Timestamp: ev.At.UnixMilli(),
		Log:       Render(*ev.Log),
	})
	if err != nil {
		return fmt.Errorf("encode callback payload: %w", err)
	}

	var headers map[string]string
	if s.authorization != "" {
		headers = map[string]string{"Authorization": s.authorization}
	}
	if err := post(ctx, s.client, s.method, s.url, "application/json", body, headers); err != nil {
		return fmt.Errorf("http callback: %w", err)
	}
	s.logger.Info().Str("identity", ev.Identity.String()).Msg("HTTP callback sent")
	return nil
}

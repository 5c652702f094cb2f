package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ranked-coordinator/internal/config"
	"ranked-coordinator/internal/constants"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

// WebhookSender talks to the chat platform through two webhook endpoints:
// one for the shared channel and one that addresses a user by chat id.
type WebhookSender struct {
	channelURL string
	dmURL      string
	client     *fasthttp.Client
	logger     zerolog.Logger
}

func NewWebhookSender(cfg *config.Config, logger zerolog.Logger) *WebhookSender {
	return &WebhookSender{
		channelURL: cfg.ChannelWebhookURL,
		dmURL:      cfg.DMWebhookURL,
		client: &fasthttp.Client{
			MaxConnsPerHost:     100,
			ReadTimeout:         constants.DispatchTimeout,
			WriteTimeout:        constants.DispatchTimeout,
			MaxIdleConnDuration: 1 * time.Minute,
		},
		logger: logger,
	}
}

type outboundMessage struct {
	UserID  string   `json:"userId,omitempty"`
	Content string   `json:"content"`
	Actions []string `json:"actions,omitempty"`
}

type outboundResponse struct {
	ID string `json:"id"`
}

func (s *WebhookSender) SendReadyCheck(ctx context.Context, rc ReadyCheck) (MessageRef, error) {
	return s.post(ctx, s.channelURL, outboundMessage{
		Content: FormatReadyCheck(rc),
		Actions: []string{"accept", "decline"},
	})
}

func (s *WebhookSender) EditReadyCheck(ctx context.Context, ref MessageRef, rc ReadyCheck) error {
	body, err := json.Marshal(outboundMessage{
		Content: FormatReadyCheck(rc),
		Actions: []string{"accept", "decline"},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal ready check edit: %w", err)
	}
	return s.do(ctx, fasthttp.MethodPatch, s.messageURL(ref), body, nil)
}

func (s *WebhookSender) DeleteMessage(ctx context.Context, ref MessageRef) error {
	if ref == "" {
		return nil
	}
	return s.do(ctx, fasthttp.MethodDelete, s.messageURL(ref), nil, nil)
}

func (s *WebhookSender) SendDirect(ctx context.Context, chatUserID, content string) (MessageRef, error) {
	if chatUserID != "" && s.dmURL != "" {
		ref, err := s.post(ctx, s.dmURL, outboundMessage{UserID: chatUserID, Content: content})
		if err == nil {
			return ref, nil
		}
		s.logger.Warn().Err(err).Str("chat_user_id", chatUserID).Msg("DM failed, falling back to channel")
	}
	return s.post(ctx, s.channelURL, outboundMessage{Content: content})
}

func (s *WebhookSender) AnnounceWinner(ctx context.Context, w WinnerAnnouncement) error {
	_, err := s.post(ctx, s.channelURL, outboundMessage{Content: FormatWinner(w)})
	return err
}

func (s *WebhookSender) post(ctx context.Context, url string, msg outboundMessage) (MessageRef, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal outbound message: %w", err)
	}
	var out outboundResponse
	if err := s.do(ctx, fasthttp.MethodPost, url, body, &out); err != nil {
		return "", err
	}
	return MessageRef(out.ID), nil
}

func (s *WebhookSender) messageURL(ref MessageRef) string {
	return strings.TrimSuffix(s.channelURL, "/") + "/messages/" + string(ref)
}

func (s *WebhookSender) do(ctx context.Context, method, url string, body []byte, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	if body != nil {
		req.SetBody(body)
	}

	deadline := time.Now().Add(constants.DispatchTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.client.DoDeadline(req, resp, deadline); err != nil {
		return fmt.Errorf("chat request failed: %w", err)
	}

	status := resp.StatusCode()
	if status < 200 || status >= 300 {
		return fmt.Errorf("chat request returned status %d", status)
	}
	if out != nil && len(resp.Body()) > 0 {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("failed to decode chat response: %w", err)
		}
	}
	return nil
}

// FormatReadyCheck renders the channel announcement for a proposed match.
func FormatReadyCheck(rc ReadyCheck) string {
	var b strings.Builder
	b.WriteString(rc.Title)
	b.WriteString("\n")
	for _, line := range rc.PlayerLines {
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString(fmt.Sprintf("Responda em %d segundos.", rc.SecondsRemaining))
	return b.String()
}

// FormatWinner renders the channel announcement for a resolved match.
func FormatWinner(w WinnerAnnouncement) string {
	return fmt.Sprintf("Resultado disponível: vencedor %s\nTime 1: %s\nTime 2: %s",
		w.Winner, strings.Join(w.TeamA, ", "), strings.Join(w.TeamB, ", "))
}

// FormatResultSummary renders the per-player DM after resolution.
func FormatResultSummary(r ResultSummary) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s! XP %d → %d, agora %s %s.", r.Outcome, r.XPBefore, r.XPAfter, r.NewTier, r.NewDivision))
	if r.IsMVP {
		b.WriteString(" MVP da partida!")
	}
	return b.String()
}

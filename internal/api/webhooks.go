package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/perrymanuk/radbot/internal/common/errors"
	"github.com/perrymanuk/radbot/internal/session"
	"github.com/perrymanuk/radbot/internal/store"
	"github.com/perrymanuk/radbot/pkg/wsproto"
)

// webhookTurnTimeout bounds one webhook-triggered agent turn.
const webhookTurnTimeout = 5 * time.Minute

// webhookView is a webhook row with the secret replaced by a presence
// flag.
type webhookView struct {
	*store.Webhook
	HasSecret bool `json:"has_secret"`
}

func (s *Server) listWebhooks(c *gin.Context) {
	hooks, err := s.st.ListWebhooks(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	views := make([]webhookView, 0, len(hooks))
	for _, w := range hooks {
		views = append(views, webhookView{Webhook: w, HasSecret: w.Secret != ""})
	}
	c.JSON(http.StatusOK, gin.H{"webhooks": views})
}

func (s *Server) getWebhook(c *gin.Context) {
	id, ok := s.parseUUIDParam(c, "id")
	if !ok {
		return
	}
	hook, err := s.st.GetWebhook(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, webhookView{Webhook: hook, HasSecret: hook.Secret != ""})
}

type createWebhookRequest struct {
	Name           string `json:"name"`
	PathSuffix     string `json:"path_suffix"`
	PromptTemplate string `json:"prompt_template"`
	Secret         string `json:"secret"`
	Enabled        *bool  `json:"enabled"`
}

func (s *Server) createWebhook(c *gin.Context) {
	var req createWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, apperrors.BadRequest("invalid request body"))
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.PathSuffix = strings.Trim(strings.TrimSpace(req.PathSuffix), "/")
	if req.Name == "" || req.PathSuffix == "" || req.PromptTemplate == "" {
		s.respondError(c, apperrors.Validation("name, path_suffix, and prompt_template are required"))
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	hook, err := s.st.CreateWebhook(c.Request.Context(), &store.Webhook{
		Name:           req.Name,
		PathSuffix:     req.PathSuffix,
		PromptTemplate: req.PromptTemplate,
		Secret:         req.Secret,
		Enabled:        enabled,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, webhookView{Webhook: hook, HasSecret: hook.Secret != ""})
}

func (s *Server) deleteWebhook(c *gin.Context) {
	id, ok := s.parseUUIDParam(c, "id")
	if !ok {
		return
	}
	if err := s.st.DeleteWebhook(c.Request.Context(), id); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// triggerWebhook verifies, renders, and dispatches one webhook call. The
// agent turn runs in the background; the caller gets a 202 immediately.
func (s *Server) triggerWebhook(c *gin.Context) {
	pathSuffix := strings.Trim(c.Param("path"), "/")
	hook, err := s.st.GetWebhookByPath(c.Request.Context(), pathSuffix)
	if err != nil {
		s.respondError(c, apperrors.NotFound("webhook not found"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		s.respondError(c, apperrors.BadRequest("unreadable body"))
		return
	}

	if hook.Secret != "" {
		if !verifySignature(hook.Secret, body, c.GetHeader("X-Signature-256")) {
			s.log.Warn("webhook signature mismatch",
				zap.String("webhook", hook.Name))
			s.respondError(c, apperrors.Unauthorized("signature verification failed"))
			return
		}
	}

	var payload map[string]any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			s.respondError(c, apperrors.BadRequest("body must be a JSON object"))
			return
		}
	}

	prompt := renderTemplate(hook.PromptTemplate, payload)

	if err := s.st.RecordWebhookTrigger(c.Request.Context(), hook.ID); err != nil {
		s.log.WithError(err).Warn("record webhook trigger failed")
	}

	go s.dispatchWebhook(hook, prompt)

	c.JSON(http.StatusAccepted, gin.H{
		"status":     "accepted",
		"webhook_id": hook.ID.String(),
	})
}

// dispatchWebhook runs the rendered prompt through the webhook's
// synthetic session and fans the result out to every connected client.
func (s *Server) dispatchWebhook(hook *store.Webhook, prompt string) {
	ctx, cancel := context.WithTimeout(context.Background(), webhookTurnTimeout)
	defer cancel()

	sessionID := session.SyntheticSessionID("webhook_" + hook.ID.String())
	runner, err := s.sessions.GetOrCreate(ctx, sessionID)
	if err != nil {
		s.log.WithError(err).Error("webhook session bootstrap failed",
			zap.String("webhook", hook.Name))
		return
	}

	result, err := runner.ProcessMessage(ctx, prompt)
	if err != nil {
		s.log.WithError(err).Error("webhook turn failed",
			zap.String("webhook", hook.Name))
		return
	}

	s.hub.BroadcastToAllSessions(wsproto.WebhookResult(
		hook.ID.String(), hook.Name, prompt, result.Response))
	s.log.Info("webhook dispatched",
		zap.String("webhook", hook.Name),
		zap.Int("response_len", len(result.Response)))
}

// verifySignature checks an HMAC-SHA256 signature over the raw body. The
// header value may carry a "sha256=" prefix. Comparison is constant-time.
func verifySignature(secret string, body []byte, header string) bool {
	header = strings.TrimPrefix(strings.TrimSpace(header), "sha256=")
	if header == "" {
		return false
	}
	provided, err := hex.DecodeString(header)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}

var templateVarRe = regexp.MustCompile(`\{\{\s*payload((?:\.[A-Za-z0-9_-]+)+)\s*\}\}`)

// renderTemplate substitutes {{payload.a.b}} references with values from
// the request payload. Unresolvable references render as empty strings.
func renderTemplate(template string, payload map[string]any) string {
	return templateVarRe.ReplaceAllStringFunc(template, func(match string) string {
		groups := templateVarRe.FindStringSubmatch(match)
		if len(groups) < 2 {
			return ""
		}
		path := strings.Split(strings.TrimPrefix(groups[1], "."), ".")
		return lookupPath(payload, path)
	})
}

func lookupPath(payload map[string]any, path []string) string {
	var current any = payload
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		current, ok = m[key]
		if !ok {
			return ""
		}
	}
	switch v := current.(type) {
	case string:
		return v
	case nil:
		return ""
	case float64, bool:
		return fmt.Sprintf("%v", v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}

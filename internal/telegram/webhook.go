package telegram

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/shelter-registry/shelter-registry/internal/db/models"
	"github.com/shelter-registry/shelter-registry/internal/lifecycle"
	"github.com/shelter-registry/shelter-registry/internal/telemetry"
)

// SecretHeader carries the secret registered with setWebhook.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// Actor is recorded as approved_by for moderation done from the chat.
const Actor = "Telegram admin"

// DefaultRejectReason is used for rejections from the chat, which offers no way
// to type a reason.
const DefaultRejectReason = "The association does not meet the minimum requirements for registration on the platform."

// Moderator is the lifecycle surface the bot drives.
type Moderator interface {
	Lookup(ctx context.Context, ref lifecycle.Ref) (*models.Association, error)
	Approve(ctx context.Context, ref lifecycle.Ref, actor, notes string) (lifecycle.Result, error)
	Reject(ctx context.Context, ref lifecycle.Ref, reason, actor string) (lifecycle.Result, error)
	Suspend(ctx context.Context, ref lifecycle.Ref, actor string) (lifecycle.Result, error)
	Reactivate(ctx context.Context, ref lifecycle.Ref, actor string) (lifecycle.Result, error)
	SoftDelete(ctx context.Context, ref lifecycle.Ref, actor string) (lifecycle.Result, error)
}

// StatsSource reports association counts per state for the /stats command.
type StatsSource interface {
	CountByState(ctx context.Context) ([]models.StateCount, error)
}

// WebhookHandler receives updates pushed by Telegram.
type WebhookHandler struct {
	bot           Bot
	moderator     Moderator
	conversations *Conversations
	stats         StatsSource
	adminChatID   int64
	secret        string
}

// WebhookOptions configures a WebhookHandler. Conversations and Stats are optional.
type WebhookOptions struct {
	AdminChatID   int64
	Secret        string
	Conversations *Conversations
	Stats         StatsSource
}

// NewWebhookHandler creates the webhook handler.
func NewWebhookHandler(bot Bot, moderator Moderator, opts WebhookOptions) *WebhookHandler {
	return &WebhookHandler{
		bot:           bot,
		moderator:     moderator,
		conversations: opts.Conversations,
		stats:         opts.Stats,
		adminChatID:   opts.AdminChatID,
		secret:        opts.Secret,
	}
}

// Health answers GET /telegram/webhook.
func (h *WebhookHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "bot": "telegram"})
}

// Handle answers POST /telegram/webhook. Processing errors are logged and still
// acknowledged with 200 so Telegram does not redeliver the update.
func (h *WebhookHandler) Handle(c *gin.Context) {
	if h.secret != "" {
		got := c.GetHeader(SecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			slog.Warn("telegram webhook rejected: bad secret token", "remote_addr", c.ClientIP())
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid secret token"})
			return
		}
	}

	var update Update
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid update payload"})
		return
	}

	ctx := c.Request.Context()
	switch {
	case update.CallbackQuery != nil:
		h.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		h.handleMessage(ctx, update.Message)
	default:
		slog.Debug("telegram update ignored", "update_id", update.UpdateID)
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *WebhookHandler) handleCallback(ctx context.Context, cq *CallbackQuery) {
	if cq.Message == nil || cq.Message.Chat.ID != h.adminChatID {
		telemetry.TelegramCallbacksTotal.WithLabelValues("unauthorized").Inc()
		slog.Warn("telegram callback from unauthorised chat", "user_id", cq.From.ID)
		h.answer(ctx, cq.ID, "You are not allowed to moderate associations.")
		return
	}

	cb, err := ParseCallback(cq.Data)
	if err != nil {
		telemetry.TelegramCallbacksTotal.WithLabelValues("unknown").Inc()
		slog.Warn("unrecognised telegram callback", "data", cq.Data)
		h.answer(ctx, cq.ID, "Action not recognised.")
		return
	}
	telemetry.TelegramCallbacksTotal.WithLabelValues(string(cb.Action)).Inc()

	chatID, messageID := cq.Message.Chat.ID, cq.Message.MessageID
	ref := lifecycle.ByID(cb.AssociationID)

	switch cb.Action {
	case ActionView:
		a, err := h.moderator.Lookup(ctx, ref)
		if err != nil {
			h.fail(ctx, cq, cb, err)
			return
		}
		h.edit(ctx, chatID, messageID, detailsText(a), stateKeyboard(a))
		h.answer(ctx, cq.ID, "")
		return

	case ActionDelete:
		a, err := h.moderator.Lookup(ctx, ref)
		if err != nil {
			h.fail(ctx, cq, cb, err)
			return
		}
		text := fmt.Sprintf("Delete <b>%s</b>? Its animals will be hidden from public listings.", escape(a.Name))
		markup := &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{{
			button("🗑 Confirm delete", ActionConfirmDelete, a.ID),
			button("↩️ Cancel", ActionView, a.ID),
		}}}
		h.edit(ctx, chatID, messageID, text, markup)
		h.answer(ctx, cq.ID, "Confirm deletion")
		return
	}

	var res lifecycle.Result
	switch cb.Action {
	case ActionApprove:
		res, err = h.moderator.Approve(ctx, ref, Actor, "")
	case ActionReject:
		res, err = h.moderator.Reject(ctx, ref, DefaultRejectReason, Actor)
	case ActionSuspend:
		res, err = h.moderator.Suspend(ctx, ref, Actor)
	case ActionReactivate:
		res, err = h.moderator.Reactivate(ctx, ref, Actor)
	case ActionConfirmDelete:
		res, err = h.moderator.SoftDelete(ctx, ref, Actor)
	}
	if err != nil {
		h.fail(ctx, cq, cb, err)
		return
	}

	text := escape(res.Message())
	if res.NotificationErr != nil {
		text += "\n⚠️ The association could not be notified."
	}
	var markup *InlineKeyboardMarkup
	if res.Outcome != lifecycle.OutcomeRejectedAndPurged {
		markup = stateKeyboard(res.Association)
	}
	h.edit(ctx, chatID, messageID, text, markup)
	h.answer(ctx, cq.ID, res.Message())
}

// fail reports a lifecycle error back to the admin.
func (h *WebhookHandler) fail(ctx context.Context, cq *CallbackQuery, cb Callback, err error) {
	var itErr *lifecycle.InvalidTransitionError
	switch {
	case errors.Is(err, lifecycle.ErrNotFound):
		h.edit(ctx, cq.Message.Chat.ID, cq.Message.MessageID,
			"This association no longer exists. It may have been rejected or removed.", nil)
		h.answer(ctx, cq.ID, "Association not found")
	case errors.As(err, &itErr):
		h.answer(ctx, cq.ID, fmt.Sprintf("Cannot %s: the association is %s.", cb.Action, itErr.From))
	case errors.Is(err, lifecycle.ErrConflict):
		h.answer(ctx, cq.ID, "The association was modified at the same time. Please try again.")
	default:
		slog.Error("telegram moderation failed",
			"action", cb.Action, "association_id", cb.AssociationID, "error", err)
		h.answer(ctx, cq.ID, "Something went wrong. Please try again later.")
	}
}

func (h *WebhookHandler) handleMessage(ctx context.Context, msg *Message) {
	chatID := msg.Chat.ID

	if chatID == h.adminChatID && command(msg.Text) == "/stats" && h.stats != nil {
		counts, err := h.stats.CountByState(ctx)
		if err != nil {
			slog.Error("failed to load association stats", "error", err)
			h.reply(ctx, chatID, "Statistics are unavailable right now.")
			return
		}
		h.reply(ctx, chatID, statsText(counts))
		return
	}

	if h.conversations == nil {
		return
	}
	reply, err := h.conversations.Handle(ctx, chatID, msg.Text)
	if err != nil {
		slog.Error("telegram conversation failed", "chat_id", chatID, "error", err)
		reply = "Something went wrong. Please send your answer again."
	}
	h.reply(ctx, chatID, escape(reply))
}

func (h *WebhookHandler) reply(ctx context.Context, chatID int64, text string) {
	if _, err := h.bot.SendMessage(ctx, chatID, text, nil); err != nil {
		slog.Warn("telegram reply failed", "chat_id", chatID, "error", err)
	}
}

func (h *WebhookHandler) edit(ctx context.Context, chatID, messageID int64, text string, markup *InlineKeyboardMarkup) {
	if err := h.bot.EditMessageText(ctx, chatID, messageID, text, markup); err != nil {
		slog.Warn("telegram edit failed", "chat_id", chatID, "message_id", messageID, "error", err)
	}
}

func (h *WebhookHandler) answer(ctx context.Context, id, text string) {
	if err := h.bot.AnswerCallbackQuery(ctx, id, text); err != nil {
		slog.Warn("telegram answerCallbackQuery failed", "error", err)
	}
}

func detailsText(a *models.Association) string {
	var b strings.Builder
	b.WriteString("📋 <b>Association details</b>\n\n")
	writeDetails(&b, a.Public())
	if a.ApprovedAt != nil {
		fmt.Fprintf(&b, "\n<b>Approved:</b> %s", a.ApprovedAt.UTC().Format("2006-01-02 15:04"))
		if a.ApprovedBy != nil {
			fmt.Fprintf(&b, " by %s", escape(*a.ApprovedBy))
		}
	}
	if a.AdminNotes != nil && *a.AdminNotes != "" {
		fmt.Fprintf(&b, "\n<b>Notes:</b> %s", escape(*a.AdminNotes))
	}
	return b.String()
}

func statsText(counts []models.StateCount) string {
	byState := make(map[models.AssociationState]int, len(counts))
	total := 0
	for _, c := range counts {
		byState[c.State] = c.Count
		total += c.Count
	}
	var b strings.Builder
	b.WriteString("📊 <b>Associations by state</b>\n")
	for _, st := range models.AllStates {
		a := models.Association{State: st}
		fmt.Fprintf(&b, "\n%s: %d", a.StateLabel(), byState[st])
	}
	fmt.Fprintf(&b, "\n\nTotal: %d", total)
	return b.String()
}

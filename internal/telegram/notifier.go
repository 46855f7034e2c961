package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shelter-registry/shelter-registry/internal/db/models"
	"github.com/shelter-registry/shelter-registry/internal/notify"
	"github.com/shelter-registry/shelter-registry/internal/telemetry"
)

// Bot is the subset of the Bot API used by the notifier and the webhook handler.
type Bot interface {
	SendMessage(ctx context.Context, chatID int64, text string, opts *SendMessageOptions) (*Message, error)
	EditMessageText(ctx context.Context, chatID, messageID int64, text string, markup *InlineKeyboardMarkup) error
	AnswerCallbackQuery(ctx context.Context, id, text string) error
}

// Notifier posts lifecycle events to the admin chat.
type Notifier struct {
	bot    Bot
	chatID int64
}

// NewNotifier creates a notifier for the admin chat.
func NewNotifier(bot Bot, chatID int64) *Notifier {
	return &Notifier{bot: bot, chatID: chatID}
}

// Notify implements notify.Notifier.
func (n *Notifier) Notify(ctx context.Context, ev notify.Event) error {
	text, markup, ok := composeMessage(ev)
	if !ok {
		telemetry.NotificationsTotal.WithLabelValues("telegram", string(ev.Kind), "skipped").Inc()
		return nil
	}

	var opts *SendMessageOptions
	if markup != nil {
		opts = &SendMessageOptions{ReplyMarkup: markup}
	}
	if _, err := n.bot.SendMessage(ctx, n.chatID, text, opts); err != nil {
		telemetry.NotificationsTotal.WithLabelValues("telegram", string(ev.Kind), "failed").Inc()
		slog.Warn("telegram notification failed",
			"event", ev.Kind, "association_id", ev.Association.ID, "error", err)
		return fmt.Errorf("telegram %s notification: %w", ev.Kind, err)
	}
	telemetry.NotificationsTotal.WithLabelValues("telegram", string(ev.Kind), "sent").Inc()
	return nil
}

// composeMessage returns the admin chat text for ev. Password reset events carry a
// secret link and are never posted.
func composeMessage(ev notify.Event) (string, *InlineKeyboardMarkup, bool) {
	a := ev.Association
	var b strings.Builder

	switch ev.Kind {
	case notify.EventRegistered:
		b.WriteString("🐾 <b>New association registered</b>\n\n")
		writeDetails(&b, a)
		return b.String(), moderationKeyboard(a.ID), true

	case notify.EventApproved:
		fmt.Fprintf(&b, "✅ <b>%s</b> was approved", escape(a.Name))
		writeActor(&b, ev.Actor)
		if ev.Notes != "" {
			fmt.Fprintf(&b, "\nNotes: %s", escape(ev.Notes))
		}

	case notify.EventRejected:
		fmt.Fprintf(&b, "❌ <b>%s</b> was rejected and removed", escape(a.Name))
		writeActor(&b, ev.Actor)
		if ev.Reason != "" {
			fmt.Fprintf(&b, "\nReason: %s", escape(ev.Reason))
		}

	case notify.EventSuspended:
		fmt.Fprintf(&b, "⏸ <b>%s</b> was suspended", escape(a.Name))
		writeActor(&b, ev.Actor)

	case notify.EventReactivated:
		fmt.Fprintf(&b, "▶️ <b>%s</b> was reactivated", escape(a.Name))
		writeActor(&b, ev.Actor)

	case notify.EventDeleted:
		fmt.Fprintf(&b, "🗑 <b>%s</b> was deleted", escape(a.Name))
		writeActor(&b, ev.Actor)
		fmt.Fprintf(&b, "\nAnimals hidden from listings: %d", ev.AnimalCount)

	default:
		return "", nil, false
	}
	return b.String(), nil, true
}

func writeActor(b *strings.Builder, actor string) {
	if actor != "" {
		fmt.Fprintf(b, " by %s", escape(actor))
	}
}

func writeDetails(b *strings.Builder, a models.PublicAssociation) {
	fmt.Fprintf(b, "<b>Name:</b> %s\n", escape(a.Name))
	fmt.Fprintf(b, "<b>Email:</b> %s\n", escape(a.Email))
	fmt.Fprintf(b, "<b>Phone:</b> %s\n", escape(a.Phone))
	fmt.Fprintf(b, "<b>Address:</b> %s, %s, %s %s\n",
		escape(a.Address), escape(a.City), escape(a.Region), escape(a.PostalCode))
	fmt.Fprintf(b, "<b>State:</b> %s\n", escape(a.StateLabel))
	fmt.Fprintf(b, "<b>Registered:</b> %s", a.RegisteredAt.UTC().Format(time.RFC1123))
}

func moderationKeyboard(id string) *InlineKeyboardMarkup {
	return &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{
		{button("✅ Approve", ActionApprove, id), button("❌ Reject", ActionReject, id)},
		{button("👁 View details", ActionView, id)},
	}}
}

// stateKeyboard offers the transitions valid from the association's state.
func stateKeyboard(a *models.Association) *InlineKeyboardMarkup {
	var row []InlineKeyboardButton
	switch a.State {
	case models.StatePending:
		return moderationKeyboard(a.ID)
	case models.StateActive:
		row = []InlineKeyboardButton{button("⏸ Suspend", ActionSuspend, a.ID), button("🗑 Delete", ActionDelete, a.ID)}
	case models.StateSuspended:
		row = []InlineKeyboardButton{button("▶️ Reactivate", ActionReactivate, a.ID), button("🗑 Delete", ActionDelete, a.ID)}
	case models.StateRejected:
		row = []InlineKeyboardButton{button("✅ Approve", ActionApprove, a.ID)}
	default:
		return nil
	}
	return &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{row}}
}

var _ notify.Notifier = (*Notifier)(nil)

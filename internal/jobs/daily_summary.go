// Package jobs holds the registry's periodic background work.
//
// daily_summary.go implements DailySummaryJob, which posts the previous period's
// registrations, approvals and new listings to the admin Telegram chat together
// with the current number of active associations and available animals. Periods
// are aligned to UTC multiples of the interval, so a 24h interval reports whole
// UTC days and a restart never reports the same day twice.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shelter-registry/shelter-registry/internal/db/models"
	"github.com/shelter-registry/shelter-registry/internal/telegram"
	"github.com/shelter-registry/shelter-registry/internal/telemetry"
)

// DefaultSummaryInterval is used when no interval is configured.
const DefaultSummaryInterval = 24 * time.Hour

// ActivitySource supplies the counts for one summary window.
type ActivitySource interface {
	Between(ctx context.Context, from, to time.Time) (*models.Activity, error)
}

// MessageSender posts a message to a chat.
type MessageSender interface {
	SendMessage(ctx context.Context, chatID int64, text string, opts *telegram.SendMessageOptions) (*telegram.Message, error)
}

// DailySummaryJob periodically posts an activity summary to the admin chat.
type DailySummaryJob struct {
	activity ActivitySource
	bot      MessageSender
	chatID   int64
	interval time.Duration
	now      func() time.Time
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewDailySummaryJob creates the job. A non-positive interval defaults to 24h.
func NewDailySummaryJob(activity ActivitySource, bot MessageSender, chatID int64, interval time.Duration) *DailySummaryJob {
	if interval <= 0 {
		interval = DefaultSummaryInterval
	}
	return &DailySummaryJob{
		activity: activity,
		bot:      bot,
		chatID:   chatID,
		interval: interval,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start blocks, posting a summary at each period boundary, until ctx is cancelled
// or Stop is called.
func (j *DailySummaryJob) Start(ctx context.Context) {
	slog.Info("daily summary job started", "interval", j.interval)

	timer := time.NewTimer(j.untilNextRun())
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			j.runCheck(ctx)
			timer.Reset(j.untilNextRun())
		case <-j.stopChan:
			slog.Info("daily summary job stopped")
			return
		case <-ctx.Done():
			slog.Info("daily summary job context cancelled")
			return
		}
	}
}

// Stop signals the loop to exit. It is safe to call more than once.
func (j *DailySummaryJob) Stop() {
	j.stopOnce.Do(func() { close(j.stopChan) })
}

func (j *DailySummaryJob) untilNextRun() time.Duration {
	now := j.now().UTC()
	return now.Truncate(j.interval).Add(j.interval).Sub(now)
}

// window returns the most recently completed period.
func (j *DailySummaryJob) window() (time.Time, time.Time) {
	to := j.now().UTC().Truncate(j.interval)
	return to.Add(-j.interval), to
}

func (j *DailySummaryJob) runCheck(ctx context.Context) {
	from, to := j.window()
	act, err := j.activity.Between(ctx, from, to)
	if err != nil {
		slog.Error("daily summary: failed to query activity", "from", from, "to", to, "error", err)
		return
	}

	if _, err := j.bot.SendMessage(ctx, j.chatID, FormatSummary(act), nil); err != nil {
		telemetry.NotificationsTotal.WithLabelValues("telegram", "daily_summary", "failed").Inc()
		slog.Warn("daily summary: failed to post", "error", err)
		return
	}
	telemetry.NotificationsTotal.WithLabelValues("telegram", "daily_summary", "sent").Inc()
	slog.Info("daily summary posted",
		"from", from, "registrations", act.Registrations, "approvals", act.Approvals)
}

// FormatSummary renders act as an HTML chat message.
func FormatSummary(act *models.Activity) string {
	var b strings.Builder
	b.WriteString("📊 <b>Daily summary</b>\n")
	if act.To.Sub(act.From) == 24*time.Hour {
		fmt.Fprintf(&b, "%s\n\n", act.From.Format("Monday 2 January 2006"))
	} else {
		fmt.Fprintf(&b, "%s to %s\n\n", act.From.Format(time.RFC1123), act.To.Format(time.RFC1123))
	}
	fmt.Fprintf(&b, "🐾 New registrations: %d\n", act.Registrations)
	fmt.Fprintf(&b, "✅ Approvals: %d\n", act.Approvals)
	fmt.Fprintf(&b, "🐶 New animals: %d\n\n", act.NewAnimals)
	fmt.Fprintf(&b, "🏠 Active associations: %d\n", act.ActiveAssociations)
	fmt.Fprintf(&b, "❤️ Animals awaiting adoption: %d", act.AvailableAnimals)
	return b.String()
}

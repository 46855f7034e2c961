package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/shelter-registry/shelter-registry/internal/db/models"
	"github.com/shelter-registry/shelter-registry/internal/telegram"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeActivity struct {
	act      models.Activity
	err      error
	from, to time.Time
}

func (f *fakeActivity) Between(_ context.Context, from, to time.Time) (*models.Activity, error) {
	f.from, f.to = from, to
	if f.err != nil {
		return nil, f.err
	}
	act := f.act
	act.From, act.To = from, to
	return &act, nil
}

type fakeSender struct {
	mu    sync.Mutex
	chats []int64
	texts []string
	err   error
}

func (f *fakeSender) SendMessage(_ context.Context, chatID int64, text string, _ *telegram.SendMessageOptions) (*telegram.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats = append(f.chats, chatID)
	f.texts = append(f.texts, text)
	if f.err != nil {
		return nil, f.err
	}
	return &telegram.Message{}, nil
}

func (f *fakeSender) sent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.texts)
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestNewDailySummaryJob_DefaultInterval(t *testing.T) {
	j := NewDailySummaryJob(nil, nil, 1, 0)
	assert.Equal(t, DefaultSummaryInterval, j.interval)
}

func TestDailySummary_WindowIsPreviousUTCDay(t *testing.T) {
	j := NewDailySummaryJob(nil, nil, 1, 24*time.Hour)
	j.now = fixedClock(time.Date(2026, 3, 2, 0, 0, 5, 0, time.UTC))

	from, to := j.window()
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), to)
}

func TestDailySummary_UntilNextRun(t *testing.T) {
	j := NewDailySummaryJob(nil, nil, 1, 24*time.Hour)
	j.now = fixedClock(time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC))
	assert.Equal(t, 6*time.Hour, j.untilNextRun())

	j.interval = time.Hour
	j.now = fixedClock(time.Date(2026, 3, 1, 18, 45, 0, 0, time.UTC))
	assert.Equal(t, 15*time.Minute, j.untilNextRun())
}

func TestDailySummary_RunCheckPostsToAdminChat(t *testing.T) {
	src := &fakeActivity{act: models.Activity{
		Registrations: 3, Approvals: 2, NewAnimals: 5, ActiveAssociations: 17, AvailableAnimals: 40,
	}}
	bot := &fakeSender{}
	j := NewDailySummaryJob(src, bot, -100123, 24*time.Hour)
	j.now = fixedClock(time.Date(2026, 3, 2, 0, 0, 1, 0, time.UTC))

	j.runCheck(context.Background())

	require.Equal(t, 1, bot.sent())
	assert.Equal(t, int64(-100123), bot.chats[0])
	text := bot.texts[0]
	assert.Contains(t, text, "Sunday 1 March 2026")
	assert.Contains(t, text, "New registrations: 3")
	assert.Contains(t, text, "Approvals: 2")
	assert.Contains(t, text, "New animals: 5")
	assert.Contains(t, text, "Active associations: 17")
	assert.Contains(t, text, "Animals awaiting adoption: 40")
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), src.from)
}

func TestDailySummary_QueryErrorSendsNothing(t *testing.T) {
	bot := &fakeSender{}
	j := NewDailySummaryJob(&fakeActivity{err: errors.New("db down")}, bot, 1, 0)

	j.runCheck(context.Background())
	assert.Zero(t, bot.sent())
}

func TestDailySummary_SendErrorIsSwallowed(t *testing.T) {
	bot := &fakeSender{err: errors.New("telegram down")}
	j := NewDailySummaryJob(&fakeActivity{}, bot, 1, 0)

	assert.NotPanics(t, func() { j.runCheck(context.Background()) })
	assert.Equal(t, 1, bot.sent())
}

func TestFormatSummary_CustomInterval(t *testing.T) {
	from := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	text := FormatSummary(&models.Activity{From: from, To: from.Add(6 * time.Hour)})
	assert.Contains(t, text, " to ")
	assert.NotContains(t, text, "Sunday 1 March 2026\n")
}

func TestDailySummary_StartStop(t *testing.T) {
	j := NewDailySummaryJob(&fakeActivity{}, &fakeSender{}, 1, time.Hour)
	done := make(chan struct{})
	go func() {
		j.Start(context.Background())
		close(done)
	}()

	j.Stop()
	j.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestDailySummary_StartReturnsOnCancel(t *testing.T) {
	j := NewDailySummaryJob(&fakeActivity{}, &fakeSender{}, 1, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

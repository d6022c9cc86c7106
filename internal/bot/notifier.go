package bot

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"flexible-todos/internal/logging"
	"flexible-todos/internal/service"
)

// Notifier pushes due reminders to Telegram and takes back the ones that no
// longer apply.
type Notifier struct {
	api     telegramAPI
	svc     *service.NotificationService
	limiter *rate.Limiter
	now     func() time.Time
	log     zerolog.Logger
}

// NewNotifier limits outgoing calls to perSecond; zero or less means unlimited.
func NewNotifier(api telegramAPI, svc *service.NotificationService, perSecond int, now func() time.Time, log zerolog.Logger) *Notifier {
	limit := rate.Inf
	burst := 1
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
		burst = perSecond
	}
	return &Notifier{
		api:     api,
		svc:     svc,
		limiter: rate.NewLimiter(limit, burst),
		now:     now,
		log:     logging.Component(log, "notifier"),
	}
}

// Sweep runs one delivery round. Failures for single reminders are logged and
// retried on the next round.
func (n *Notifier) Sweep(ctx context.Context) error {
	plan, err := n.svc.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep reminders: %w", err)
	}

	for _, r := range plan.Stale {
		if err := n.withdraw(ctx, r); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			n.log.Warn().Err(err).Uint("task", r.Task.ID).Msg("withdraw reminder")
		}
	}

	sent := 0
	for _, r := range plan.Due {
		if err := n.deliver(ctx, r); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			n.log.Warn().Err(err).Uint("task", r.Task.ID).Int64("chat", r.User.TelegramID).Msg("deliver reminder")
			continue
		}
		sent++
	}

	if sent > 0 || len(plan.Stale) > 0 {
		n.log.Info().Int("sent", sent).Int("due", len(plan.Due)).Int("withdrawn", len(plan.Stale)).Msg("reminders swept")
	}
	return nil
}

func (n *Notifier) deliver(ctx context.Context, r service.Reminder) error {
	// A newer reminder replaces the one still on screen.
	if r.Task.NotificationMessageID != nil {
		if err := n.deleteMessage(ctx, r.User.TelegramID, *r.Task.NotificationMessageID); err != nil {
			n.log.Debug().Err(err).Uint("task", r.Task.ID).Msg("delete previous reminder")
		}
	}

	if err := n.limiter.Wait(ctx); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(r.User.TelegramID, reminderText(r.Task, n.now()))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = reminderKeyboard(r.Task.ID)
	sent, err := n.api.Send(msg)
	if err != nil {
		return fmt.Errorf("send reminder: %w", err)
	}
	return n.svc.MarkDelivered(ctx, r, sent.MessageID)
}

func (n *Notifier) withdraw(ctx context.Context, r service.Reminder) error {
	if r.Task.NotificationMessageID != nil {
		if err := n.deleteMessage(ctx, r.User.TelegramID, *r.Task.NotificationMessageID); err != nil {
			n.log.Debug().Err(err).Uint("task", r.Task.ID).Msg("delete stale reminder")
		}
	}
	return n.svc.Withdraw(ctx, r.Task.ID)
}

func (n *Notifier) deleteMessage(ctx context.Context, chatID int64, messageID int) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := n.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID))
	return err
}

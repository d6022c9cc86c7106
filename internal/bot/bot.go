package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"flexible-todos/internal/logging"
	"flexible-todos/internal/model"
	"flexible-todos/internal/repository"
	"flexible-todos/internal/schedule"
	"flexible-todos/internal/service"
)

// telegramAPI is the part of *tgbotapi.BotAPI the bot talks to.
type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type conversationStage int

const (
	stageNone conversationStage = iota
	stageName
	stageDescription
	stagePeriod
	stageDueDate
	stageNotifications
	stageNotifyTime
	stageNotifyPeriod
)

const (
	cbDonePrefix         = "done:"
	cbDeletePrefix       = "delete:"
	cbReminderDonePrefix = "rdone:"
	cbDismissPrefix      = "dismiss:"
)

type conversationState struct {
	stage conversationStage
	input service.TaskInput
	// taskID is set while an existing task is being edited.
	taskID uint
}

func (s *conversationState) editing() bool {
	return s.taskID != 0
}

// optionalKeyboard offers «Clear» next to «Skip» when an override can be removed.
func (s *conversationState) optionalKeyboard() tgbotapi.ReplyKeyboardMarkup {
	if s.editing() {
		return editKeyboard()
	}
	return skipKeyboard()
}

type confirmationRequest struct {
	taskID uint
}

// Bot aggregates Telegram API with services.
type Bot struct {
	api           telegramAPI
	userRepo      *repository.UserRepository
	taskSvc       *service.TaskService
	settingsSvc   *service.SettingsService
	notifySvc     *service.NotificationService
	notifier      *Notifier
	now           func() time.Time
	log           zerolog.Logger
	conversations map[int64]*conversationState
	confirmations map[int64]confirmationRequest
	mu            sync.Mutex
}

// Deps bundles what the bot needs besides the Telegram connection.
type Deps struct {
	Users         *repository.UserRepository
	Tasks         *service.TaskService
	Settings      *service.SettingsService
	Notifications *service.NotificationService
	// SendRate caps reminder messages per second; 0 means no cap.
	SendRate int
	Now      func() time.Time
	Log      zerolog.Logger
}

func New(token string, deps Deps) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	deps.Log.Info().Str("account", api.Self.UserName).Msg("bot authorized")
	return newBot(api, deps), nil
}

func newBot(api telegramAPI, deps Deps) *Bot {
	log := logging.Component(deps.Log, "bot")
	return &Bot{
		api:           api,
		userRepo:      deps.Users,
		taskSvc:       deps.Tasks,
		settingsSvc:   deps.Settings,
		notifySvc:     deps.Notifications,
		notifier:      NewNotifier(api, deps.Notifications, deps.SendRate, deps.Now, deps.Log),
		now:           deps.Now,
		log:           log,
		conversations: make(map[int64]*conversationState),
		confirmations: make(map[int64]confirmationRequest),
	}
}

// Notifier returns the reminder delivery loop bound to this bot's connection.
func (b *Bot) Notifier() *Notifier {
	return b.notifier
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	b.log.Info().Msg("start polling updates")

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		switch {
		case update.CallbackQuery != nil:
			if err := b.handleCallback(ctx, update.CallbackQuery); err != nil {
				b.log.Error().Err(err).Msg("handle callback")
			}
		case update.Message != nil:
			if update.Message.Chat == nil || !update.Message.Chat.IsPrivate() {
				continue
			}
			if err := b.handleMessage(ctx, update.Message); err != nil {
				b.log.Error().Err(err).Msg("handle message")
			}
		}
	}

	return nil
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil {
		return nil
	}

	if !msg.IsCommand() && isCancelDialogInput(msg.Text) {
		b.clearConversation(msg.From.ID)
		b.clearConfirmation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "⏪ Cancelled. Start over whenever you like.")
	}

	if !msg.IsCommand() {
		if handled, err := b.handleMenuAlias(ctx, msg); handled {
			return err
		}
	}

	if msg.IsCommand() {
		b.log.Info().Int64("user", msg.From.ID).Str("command", msg.Command()).Str("args", msg.CommandArguments()).Msg("command")
		return b.handleCommand(ctx, msg)
	}

	if pending, ok := b.getConfirmation(msg.From.ID); ok {
		return b.handleConfirmationResponse(ctx, msg, pending)
	}

	if b.hasConversation(msg.From.ID) {
		b.log.Debug().Int64("user", msg.From.ID).Int("stage", int(b.getConversation(msg.From.ID).stage)).Msg("conversation step")
		return b.handleConversation(ctx, msg)
	}

	return b.sendText(msg.Chat.ID, "I didn't get that. Send /newtask to add a task or /help for the command list.")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	switch msg.Command() {
	case "start":
		return b.handleStart(ctx, msg)
	case "help":
		return b.handleHelp(msg)
	case "newtask":
		return b.startNewTaskConversation(ctx, msg)
	case "edit":
		return b.startEditConversation(ctx, msg)
	case "tasks":
		return b.handleListTasks(ctx, msg)
	case "task":
		return b.handleShowTask(ctx, msg)
	case "done":
		return b.handleDone(ctx, msg)
	case "undo":
		return b.handleUndo(ctx, msg)
	case "forget":
		return b.handleForget(ctx, msg)
	case "delete":
		return b.handleDelete(ctx, msg)
	case "notify":
		return b.handleNotify(ctx, msg)
	case "settings":
		return b.handleSettings(ctx, msg)
	case "time":
		return b.handleTime(ctx, msg)
	case "scale":
		return b.handleScale(ctx, msg)
	case "next":
		return b.handleNext(ctx, msg)
	case "cancel":
		b.clearConversation(msg.From.ID)
		b.clearConfirmation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "⏪ Cancelled.")
	default:
		return b.sendText(msg.Chat.ID, "Unknown command. See /help.")
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	name := user.DisplayName()

	text := fmt.Sprintf(
		"👋 Hi, %s!\n<b>I keep track of things you do regularly and nudge you when they are due.</b>\n\n"+
			"Each task repeats a number of days after you last did it. "+
			"If you dismiss a reminder for an overdue task I will ask again after a while.\n\n%s",
		escape(name), commandList,
	)
	return b.sendText(msg.Chat.ID, text)
}

const commandList = "Commands:\n" +
	"• /newtask — add a task step by step\n" +
	"• /edit &lt;id&gt; — change a task step by step, history stays\n" +
	"• /tasks — list tasks, most urgent first\n" +
	"• /task &lt;id&gt; — details and history\n" +
	"• /done &lt;id&gt; — mark a task done today\n" +
	"• /undo &lt;id&gt; — remove the latest completion\n" +
	"• /forget &lt;id&gt; &lt;entry&gt; — remove one completion from the history\n" +
	"• /notify &lt;id&gt; on|off — turn reminders for a task on or off\n" +
	"• /delete &lt;id&gt; — delete a task\n" +
	"• /settings — reminder time and frequency\n" +
	"• /time HH:MM — default reminder time\n" +
	"• /scale 1-5 — how often overdue tasks are repeated\n" +
	"• /next — when the next reminder fires\n" +
	"• /cancel — abort the current input"

func (b *Bot) handleHelp(msg *tgbotapi.Message) error {
	return b.sendText(msg.Chat.ID, "ℹ️ <b>Help</b>\n"+commandList)
}

func (b *Bot) startNewTaskConversation(ctx context.Context, msg *tgbotapi.Message) error {
	if _, err := b.ensureUser(ctx, msg.From); err != nil {
		return err
	}
	b.log.Info().Int64("user", msg.From.ID).Msg("start new task conversation")
	b.clearConfirmation(msg.From.ID)
	state := &conversationState{stage: stageName}
	b.setConversation(msg.From.ID, state)
	return b.askStage(ctx, msg.Chat.ID, msg.From, state)
}

func (b *Bot) startEditConversation(ctx context.Context, msg *tgbotapi.Message) error {
	user, taskID, ok, err := b.commandTarget(ctx, msg, "edit")
	if !ok || err != nil {
		return err
	}
	task, err := b.taskSvc.GetTask(ctx, user, taskID)
	if err != nil {
		return b.replyError(msg.Chat.ID, err)
	}
	b.log.Info().Int64("user", msg.From.ID).Uint("task", task.ID).Msg("start edit conversation")
	b.clearConfirmation(msg.From.ID)
	state := &conversationState{stage: stageName, input: taskInput(*task), taskID: task.ID}
	b.setConversation(msg.From.ID, state)
	return b.askStage(ctx, msg.Chat.ID, msg.From, state)
}

// handleConversation stores one answer and asks the next question. While
// editing, «Skip» keeps the current value and «Clear» drops an optional one.
func (b *Bot) handleConversation(ctx context.Context, msg *tgbotapi.Message) error {
	state := b.getConversation(msg.From.ID)
	if state == nil {
		return nil
	}

	text := strings.TrimSpace(msg.Text)
	switch state.stage {
	case stageName:
		switch {
		case state.editing() && isSkipInput(text):
		case text == "":
			return b.sendWithReplyMarkup(msg.Chat.ID, "The name can't be empty.", cancelKeyboard())
		default:
			state.input.Name = text
		}
		state.stage = stageDescription
	case stageDescription:
		switch {
		case isSkipInput(text):
		case isClearInput(text):
			state.input.Description = ""
		default:
			state.input.Description = text
		}
		state.stage = stagePeriod
	case stagePeriod:
		if !state.editing() || !isSkipInput(text) {
			period, err := parsePositiveInt(text)
			if err != nil {
				return b.sendWithReplyMarkup(msg.Chat.ID, "The period must be a whole number of days, for example <code>7</code>.", periodKeyboard(state.editing()))
			}
			state.input.Period = period
		}
		state.stage = stageDueDate
	case stageDueDate:
		if !isSkipInput(text) {
			due, err := parseDate(text, b.today())
			if err != nil {
				return b.sendWithReplyMarkup(msg.Chat.ID, "I can't read that date. Use <code>2025-11-30</code> or «Skip».", skipKeyboard())
			}
			state.input.InitialDueDate = &due
		}
		state.stage = stageNotifications
	case stageNotifications:
		switch {
		case isYesInput(text):
			state.input.NotificationsEnabled = true
			state.stage = stageNotifyTime
		case isNoInput(text):
			state.input.NotificationsEnabled = false
			return b.finishConversation(ctx, msg, state)
		default:
			return b.sendWithReplyMarkup(msg.Chat.ID, "Press «Yes» or «No».", yesNoKeyboard())
		}
	case stageNotifyTime:
		switch {
		case isSkipInput(text):
		case isClearInput(text):
			state.input.NotificationTime = nil
		default:
			tod, err := schedule.ParseTimeOfDay(text)
			if err != nil {
				return b.sendWithReplyMarkup(msg.Chat.ID, "Use the <code>HH:MM</code> format, for example <code>08:30</code>.", state.optionalKeyboard())
			}
			state.input.NotificationTime = &tod
		}
		state.stage = stageNotifyPeriod
	case stageNotifyPeriod:
		switch {
		case isSkipInput(text):
		case isClearInput(text):
			state.input.NotificationPeriod = nil
		default:
			days, err := parsePositiveInt(text)
			if err != nil {
				return b.sendWithReplyMarkup(msg.Chat.ID, "Send a whole number of days or «Skip».", state.optionalKeyboard())
			}
			state.input.NotificationPeriod = &days
		}
		return b.finishConversation(ctx, msg, state)
	default:
		b.clearConversation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "Conversation reset. Try /newtask again.")
	}

	return b.askStage(ctx, msg.Chat.ID, msg.From, state)
}

// askStage sends the question for the current stage of the conversation.
func (b *Bot) askStage(ctx context.Context, chatID int64, from *tgbotapi.User, state *conversationState) error {
	in := state.input
	if !state.editing() {
		switch state.stage {
		case stageName:
			return b.sendWithReplyMarkup(chatID, "🆕 New task.\n<b>Step 1:</b> what should it be called?", cancelKeyboard())
		case stageDescription:
			return b.sendWithReplyMarkup(chatID, "✏️ Add a short description (or press «Skip»).", skipKeyboard())
		case stagePeriod:
			return b.sendWithReplyMarkup(chatID, "🔁 How often should it be done, in days?", periodKeyboard(false))
		case stageDueDate:
			return b.sendWithReplyMarkup(chatID, "📅 When is it due first? Use <code>2025-11-30</code>, «today» or «tomorrow» («Skip» means today).", skipKeyboard())
		case stageNotifications:
			return b.sendWithReplyMarkup(chatID, "🔔 Remind you when it is due?", yesNoKeyboard())
		case stageNotifyTime:
			return b.sendWithReplyMarkup(chatID, "⏰ At what time? Send <code>HH:MM</code> or «Skip» to use your default from /settings.", skipKeyboard())
		case stageNotifyPeriod:
			return b.sendWithReplyMarkup(chatID, b.notifyPeriodPrompt(ctx, from, state), skipKeyboard())
		}
		return nil
	}

	switch state.stage {
	case stageName:
		return b.sendWithReplyMarkup(chatID, fmt.Sprintf("✏️ Editing «%s».\n<b>Step 1:</b> send a new name or «Skip» to keep it.", escape(in.Name)), skipKeyboard())
	case stageDescription:
		current := "none"
		if in.Description != "" {
			current = escape(in.Description)
		}
		return b.sendWithReplyMarkup(chatID, fmt.Sprintf("📝 Description: <i>%s</i>.\nSend a new one, «Skip» to keep it or «Clear» to remove it.", current), editKeyboard())
	case stagePeriod:
		return b.sendWithReplyMarkup(chatID, fmt.Sprintf("🔁 Now every %s. Send a new period in days or «Skip».", plural(in.Period, "day")), periodKeyboard(true))
	case stageDueDate:
		due := b.today()
		if in.InitialDueDate != nil {
			due = *in.InitialDueDate
		}
		return b.sendWithReplyMarkup(chatID, fmt.Sprintf("📅 First due %s. Send a new date (<code>2025-11-30</code>, «today», «tomorrow») or «Skip».", due.Format(dateLayout)), skipKeyboard())
	case stageNotifications:
		current := "off"
		if in.NotificationsEnabled {
			current = "on"
		}
		return b.sendWithReplyMarkup(chatID, fmt.Sprintf("🔔 Reminders are %s. Remind you when it is due?", current), yesNoKeyboard())
	case stageNotifyTime:
		current := "your default from /settings"
		if in.NotificationTime != nil {
			current = in.NotificationTime.String()
		}
		return b.sendWithReplyMarkup(chatID, fmt.Sprintf("⏰ Reminder time: %s. Send <code>HH:MM</code>, «Skip» to keep it or «Clear» to use the default.", current), editKeyboard())
	case stageNotifyPeriod:
		return b.sendWithReplyMarkup(chatID, b.notifyPeriodPrompt(ctx, from, state), editKeyboard())
	}
	return nil
}

func (b *Bot) notifyPeriodPrompt(ctx context.Context, from *tgbotapi.User, state *conversationState) string {
	prompt := "⏳ If you dismiss a reminder while the task is overdue, after how many days should I ask again?"
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return prompt
	}
	scale, err := b.settingsSvc.PeriodScale(ctx, user.ID)
	if err != nil {
		b.log.Warn().Err(err).Uint("user", user.ID).Msg("read period scale")
	}
	fallback := schedule.ScalePeriod(state.input.Period, scale)
	switch {
	case !state.editing():
		return fmt.Sprintf("%s «Skip» keeps the default of %d days.", prompt, fallback)
	case state.input.NotificationPeriod != nil:
		return fmt.Sprintf("%s Now %s. «Skip» keeps it, «Clear» goes back to the default of %d days.",
			prompt, plural(*state.input.NotificationPeriod, "day"), fallback)
	default:
		return fmt.Sprintf("%s Now the default of %d days. «Skip» keeps it.", prompt, fallback)
	}
}

func (b *Bot) finishConversation(ctx context.Context, msg *tgbotapi.Message, state *conversationState) error {
	b.clearConversation(msg.From.ID)
	if state.editing() {
		return b.finishTaskUpdate(ctx, msg.From, state.taskID, state.input, msg.Chat.ID)
	}
	return b.finishTaskCreation(ctx, msg.From, state.input, msg.Chat.ID)
}

func (b *Bot) finishTaskCreation(ctx context.Context, from *tgbotapi.User, input service.TaskInput, chatID int64) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}

	task, err := b.taskSvc.CreateTask(ctx, user, input)
	if err != nil {
		return b.sendTextWithRemove(chatID, fmt.Sprintf("Could not save the task: %s", escape(err.Error())))
	}

	b.log.Info().Uint("task", task.ID).Uint("user", user.ID).Int("period", task.Period).Msg("task created")
	return b.sendSavedTask(ctx, chatID, user, task, "✅ <b>Task saved</b>\n")
}

func (b *Bot) finishTaskUpdate(ctx context.Context, from *tgbotapi.User, taskID uint, input service.TaskInput, chatID int64) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}

	task, err := b.taskSvc.UpdateTask(ctx, user, taskID, input)
	switch {
	case errors.Is(err, service.ErrTaskNotFound):
		return b.sendTextWithRemove(chatID, "Task not found.")
	case err != nil:
		return b.sendTextWithRemove(chatID, fmt.Sprintf("Could not save the task: %s", escape(err.Error())))
	}

	b.log.Info().Uint("task", task.ID).Uint("user", user.ID).Int("period", task.Period).Msg("task updated")
	return b.sendSavedTask(ctx, chatID, user, task, "✏️ <b>Task updated</b>\n")
}

func (b *Bot) sendSavedTask(ctx context.Context, chatID int64, user *model.User, task *model.TaskDefinition, header string) error {
	settings, err := b.settingsSvc.Snapshot(ctx, user.ID)
	if err != nil {
		b.log.Warn().Err(err).Uint("user", user.ID).Msg("read settings")
	}
	if err := b.sendTextWithRemove(chatID, header+formatTaskDetails(*task, settings, b.now())); err != nil {
		return err
	}
	return b.sendTaskList(ctx, chatID, user)
}

func (b *Bot) handleListTasks(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}

	b.log.Debug().Uint("user", user.ID).Msg("list tasks")
	return b.sendTaskList(ctx, msg.Chat.ID, user)
}

func (b *Bot) handleShowTask(ctx context.Context, msg *tgbotapi.Message) error {
	user, taskID, ok, err := b.commandTarget(ctx, msg, "task")
	if !ok || err != nil {
		return err
	}
	task, err := b.taskSvc.GetTask(ctx, user, taskID)
	if err != nil {
		return b.replyError(msg.Chat.ID, err)
	}
	settings, err := b.settingsSvc.Snapshot(ctx, user.ID)
	if err != nil {
		b.log.Warn().Err(err).Uint("user", user.ID).Msg("read settings")
	}

	reply := tgbotapi.NewMessage(msg.Chat.ID, formatTaskDetails(*task, settings, b.now())+formatHistory(*task))
	reply.ParseMode = tgbotapi.ModeHTML
	reply.ReplyMarkup = taskKeyboard(task.ID)
	_, err = b.api.Send(reply)
	return err
}

func (b *Bot) handleDone(ctx context.Context, msg *tgbotapi.Message) error {
	user, taskID, ok, err := b.commandTarget(ctx, msg, "done")
	if !ok || err != nil {
		return err
	}
	task, err := b.taskSvc.CompleteTask(ctx, user, taskID, b.today())
	if err != nil {
		return b.replyError(msg.Chat.ID, err)
	}
	b.log.Info().Uint("task", task.ID).Uint("user", user.ID).Msg("task completed")
	return b.sendText(msg.Chat.ID, doneText(*task, b.now()))
}

func (b *Bot) handleUndo(ctx context.Context, msg *tgbotapi.Message) error {
	user, taskID, ok, err := b.commandTarget(ctx, msg, "undo")
	if !ok || err != nil {
		return err
	}
	task, err := b.taskSvc.UndoCompletion(ctx, user, taskID)
	if err != nil {
		return b.replyError(msg.Chat.ID, err)
	}
	b.log.Info().Uint("task", task.ID).Uint("user", user.ID).Msg("completion undone")
	return b.sendText(msg.Chat.ID, fmt.Sprintf("↩️ Latest completion of «%s» removed. It is now %s.",
		escape(normalizeName(task.Name)), schedule.DueDescription(task.DaysUntilDue(b.now()))))
}

func (b *Bot) handleForget(ctx context.Context, msg *tgbotapi.Message) error {
	fields := strings.Fields(msg.CommandArguments())
	if len(fields) != 2 {
		return b.sendText(msg.Chat.ID, "Give the task ID and the history entry, for example /forget 12 40. /task 12 lists the entries.")
	}
	taskID, err := parseID(fields[0])
	if err != nil {
		return b.sendText(msg.Chat.ID, "The task ID must be a number.")
	}
	entryID, err := parseID(fields[1])
	if err != nil {
		return b.sendText(msg.Chat.ID, "The entry must be a number.")
	}
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	if err := b.taskSvc.DeleteCompletion(ctx, user, taskID, entryID); err != nil {
		return b.replyError(msg.Chat.ID, err)
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("🧹 Entry %d removed from task #%d.", entryID, taskID))
}

func (b *Bot) handleNotify(ctx context.Context, msg *tgbotapi.Message) error {
	fields := strings.Fields(msg.CommandArguments())
	if len(fields) != 2 || (!isOnInput(fields[1]) && !isOffInput(fields[1])) {
		return b.sendText(msg.Chat.ID, "Usage: /notify 12 on or /notify 12 off")
	}
	taskID, err := parseID(fields[0])
	if err != nil {
		return b.sendText(msg.Chat.ID, "The task ID must be a number.")
	}
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	task, err := b.taskSvc.GetTask(ctx, user, taskID)
	if err != nil {
		return b.replyError(msg.Chat.ID, err)
	}

	input := taskInput(*task)
	input.NotificationsEnabled = isOnInput(fields[1])
	task, err = b.taskSvc.UpdateTask(ctx, user, taskID, input)
	if err != nil {
		return b.replyError(msg.Chat.ID, err)
	}
	if task.NotificationsEnabled {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("🔔 Reminders for «%s» are on.", escape(normalizeName(task.Name))))
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("🔕 Reminders for «%s» are off.", escape(normalizeName(task.Name))))
}

func (b *Bot) handleDelete(ctx context.Context, msg *tgbotapi.Message) error {
	_, taskID, ok, err := b.commandTarget(ctx, msg, "delete")
	if !ok || err != nil {
		return err
	}
	return b.askDeleteConfirmation(ctx, msg.Chat.ID, msg.From, taskID)
}

func (b *Bot) handleSettings(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	settings, err := b.settingsSvc.Snapshot(ctx, user.ID)
	if err != nil {
		b.log.Warn().Err(err).Uint("user", user.ID).Msg("read settings")
	}
	return b.sendText(msg.Chat.ID, formatSettings(settings))
}

func (b *Bot) handleTime(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	args := strings.TrimSpace(msg.CommandArguments())
	if args == "" {
		current, err := b.settingsSvc.NotificationTime(ctx, user.ID)
		if err != nil {
			b.log.Warn().Err(err).Uint("user", user.ID).Msg("read notification time")
		}
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Reminders go out at %s by default. Change it with, for example, /time 08:30", current))
	}
	tod, err := schedule.ParseTimeOfDay(args)
	if err != nil {
		return b.sendText(msg.Chat.ID, "Use the HH:MM format, for example /time 08:30")
	}
	if err := b.settingsSvc.SetNotificationTime(ctx, user.ID, tod); err != nil {
		return err
	}
	b.log.Info().Uint("user", user.ID).Str("time", tod.String()).Msg("notification time changed")
	return b.sendText(msg.Chat.ID, fmt.Sprintf("⏰ Default reminder time set to %s.", tod))
}

func (b *Bot) handleScale(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	args := strings.TrimSpace(msg.CommandArguments())
	if args == "" {
		return b.handleSettings(ctx, msg)
	}
	scale, err := parsePositiveInt(args)
	if err == nil {
		err = b.settingsSvc.SetPeriodScale(ctx, user.ID, scale)
	}
	if errors.Is(err, service.ErrInvalidInput) || errors.Is(err, errNotPositive) {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("The scale must be a number from %d to %d, for example /scale 2", schedule.MinPeriodScale, schedule.MaxPeriodScale))
	}
	if err != nil {
		return err
	}
	b.log.Info().Uint("user", user.ID).Int("scale", scale).Msg("period scale changed")
	return b.sendText(msg.Chat.ID, formatScaleTable(scale))
}

func (b *Bot) handleNext(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	at, ok, err := b.notifySvc.NextAlarm(ctx, user)
	if err != nil {
		return err
	}
	if !ok {
		return b.sendText(msg.Chat.ID, "No reminders are scheduled.")
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("🔔 Next reminder: %s", at.Format("2006-01-02 15:04")))
}

func (b *Bot) handleConfirmationResponse(ctx context.Context, msg *tgbotapi.Message, req confirmationRequest) error {
	text := strings.TrimSpace(msg.Text)
	switch {
	case isConfirmInput(text):
		b.clearConfirmation(msg.From.ID)
		return b.deleteTaskAndRefresh(ctx, msg.Chat.ID, msg.From, req.taskID)
	case isCancelInput(text):
		b.clearConfirmation(msg.From.ID)
		return b.sendMenuPlaceholder(msg.Chat.ID)
	default:
		return b.sendWithReplyMarkup(msg.Chat.ID, "Confirm or cancel the deletion.", confirmKeyboard())
	}
}

// commandTarget resolves the user and the numeric task ID argument of a command.
// ok is false when a usage hint was sent instead.
func (b *Bot) commandTarget(ctx context.Context, msg *tgbotapi.Message, command string) (*model.User, uint, bool, error) {
	args := strings.TrimSpace(msg.CommandArguments())
	if args == "" {
		return nil, 0, false, b.sendText(msg.Chat.ID, fmt.Sprintf("Give the task ID: /%s 12", command))
	}
	taskID, err := parseID(args)
	if err != nil {
		return nil, 0, false, b.sendText(msg.Chat.ID, "The task ID must be a number.")
	}
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return nil, 0, false, err
	}
	return user, taskID, true, nil
}

func (b *Bot) replyError(chatID int64, err error) error {
	switch {
	case errors.Is(err, service.ErrTaskNotFound):
		return b.sendText(chatID, "Task not found.")
	case errors.Is(err, service.ErrCompletionNotFound):
		return b.sendText(chatID, "Nothing to remove from the history.")
	case errors.Is(err, service.ErrInvalidInput):
		return b.sendText(chatID, escape(err.Error()))
	default:
		b.log.Error().Err(err).Int64("chat", chatID).Msg("request failed")
		return b.sendText(chatID, fmt.Sprintf("Error: %s", escape(err.Error())))
	}
}

func (b *Bot) ensureUser(ctx context.Context, from *tgbotapi.User) (*model.User, error) {
	return b.userRepo.UpsertFromTelegram(ctx, from.ID, from.FirstName, from.LastName, from.UserName)
}

func (b *Bot) today() time.Time {
	return schedule.DateOf(b.now())
}

func (b *Bot) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = mainMenuKeyboard()
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) sendTextWithRemove(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)
	if _, err := b.api.Send(msg); err != nil {
		return err
	}
	return b.sendMenuPlaceholder(chatID)
}

func (b *Bot) sendWithReplyMarkup(chatID int64, text string, markup interface{}) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = markup
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) sendMenuPlaceholder(chatID int64) error {
	msg := tgbotapi.NewMessage(chatID, "🔹 Main menu")
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = mainMenuKeyboard()
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) getConfirmation(userID int64) (confirmationRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	req, ok := b.confirmations[userID]
	return req, ok
}

func (b *Bot) setConfirmation(userID int64, req confirmationRequest) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.confirmations[userID] = req
}

func (b *Bot) clearConfirmation(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.confirmations, userID)
}

func (b *Bot) setConversation(userID int64, state *conversationState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conversations[userID] = state
}

func (b *Bot) getConversation(userID int64) *conversationState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conversations[userID]
}

func (b *Bot) hasConversation(userID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.conversations[userID]
	return ok
}

func (b *Bot) clearConversation(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conversations, userID)
}

func (b *Bot) sendTaskList(ctx context.Context, chatID int64, user *model.User) error {
	tasks, err := b.taskSvc.ListTasks(ctx, user)
	if err != nil {
		return b.sendText(chatID, fmt.Sprintf("Could not load tasks: %s", escape(err.Error())))
	}
	if len(tasks) == 0 {
		return b.sendText(chatID, "You have no tasks yet. Add one with /newtask.")
	}

	now := b.now()
	var builder strings.Builder
	builder.WriteString("📋 <b>Tasks</b>\n")
	builder.WriteString("Press a button to mark a task done today or to delete it.\n\n")

	buttons := make([][]tgbotapi.InlineKeyboardButton, 0, len(tasks))
	for _, task := range tasks {
		builder.WriteString(formatTaskLine(task, now))
		buttons = append(buttons, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("✅ #%d · %s", task.ID, shortName(task.Name, 20)), fmt.Sprintf("%s%d", cbDonePrefix, task.ID)),
			tgbotapi.NewInlineKeyboardButtonData("🗑", fmt.Sprintf("%s%d", cbDeletePrefix, task.ID)),
		))
	}

	msg := tgbotapi.NewMessage(chatID, strings.TrimSpace(builder.String()))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(buttons...)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err = b.api.Send(msg)
	return err
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb == nil || cb.From == nil || cb.Message == nil {
		return nil
	}

	data := cb.Data
	b.log.Debug().Int64("user", cb.From.ID).Str("data", data).Msg("callback")
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.log.Warn().Err(err).Msg("callback ack")
	}

	chatID := cb.Message.Chat.ID
	switch {
	case strings.HasPrefix(data, cbDonePrefix):
		taskID, err := parseTaskID(data, cbDonePrefix)
		if err != nil {
			return nil
		}
		return b.completeTaskAndRefresh(ctx, chatID, cb.From, taskID)
	case strings.HasPrefix(data, cbDeletePrefix):
		taskID, err := parseTaskID(data, cbDeletePrefix)
		if err != nil {
			return nil
		}
		return b.askDeleteConfirmation(ctx, chatID, cb.From, taskID)
	case strings.HasPrefix(data, cbReminderDonePrefix):
		taskID, err := parseTaskID(data, cbReminderDonePrefix)
		if err != nil {
			return nil
		}
		return b.completeFromReminder(ctx, cb, taskID)
	case strings.HasPrefix(data, cbDismissPrefix):
		taskID, err := parseTaskID(data, cbDismissPrefix)
		if err != nil {
			return nil
		}
		return b.dismissReminder(ctx, cb, taskID)
	default:
		return nil
	}
}

func (b *Bot) askDeleteConfirmation(ctx context.Context, chatID int64, from *tgbotapi.User, taskID uint) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}

	task, err := b.taskSvc.GetTask(ctx, user, taskID)
	if err != nil {
		return b.replyError(chatID, err)
	}

	text := fmt.Sprintf("Delete «%s» (#%d) with its whole history?", escape(normalizeName(task.Name)), task.ID)
	b.clearConversation(from.ID)
	b.setConfirmation(from.ID, confirmationRequest{taskID: task.ID})
	return b.sendWithReplyMarkup(chatID, text, confirmKeyboard())
}

func (b *Bot) completeTaskAndRefresh(ctx context.Context, chatID int64, from *tgbotapi.User, taskID uint) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}

	task, err := b.taskSvc.CompleteTask(ctx, user, taskID, b.today())
	if err != nil {
		return b.replyError(chatID, err)
	}

	b.log.Info().Uint("task", task.ID).Uint("user", user.ID).Msg("task completed")
	if err := b.sendText(chatID, doneText(*task, b.now())); err != nil {
		return err
	}
	return b.sendTaskList(ctx, chatID, user)
}

// completeFromReminder handles the Done button under a reminder: the task is
// completed and the reminder message disappears.
func (b *Bot) completeFromReminder(ctx context.Context, cb *tgbotapi.CallbackQuery, taskID uint) error {
	user, err := b.ensureUser(ctx, cb.From)
	if err != nil {
		return err
	}
	task, err := b.taskSvc.CompleteTask(ctx, user, taskID, b.today())
	if err != nil {
		return b.replyError(cb.Message.Chat.ID, err)
	}
	b.log.Info().Uint("task", task.ID).Uint("user", user.ID).Msg("task completed from reminder")

	b.deleteMessage(cb.Message.Chat.ID, cb.Message.MessageID)
	if err := b.notifySvc.Withdraw(ctx, task.ID); err != nil {
		return err
	}
	return b.sendText(cb.Message.Chat.ID, doneText(*task, b.now()))
}

func (b *Bot) dismissReminder(ctx context.Context, cb *tgbotapi.CallbackQuery, taskID uint) error {
	user, err := b.ensureUser(ctx, cb.From)
	if err != nil {
		return err
	}
	task, err := b.taskSvc.DismissNotification(ctx, user, taskID)
	if err != nil {
		return b.replyError(cb.Message.Chat.ID, err)
	}
	b.log.Info().Uint("task", task.ID).Uint("user", user.ID).Msg("reminder dismissed")
	b.deleteMessage(cb.Message.Chat.ID, cb.Message.MessageID)
	return nil
}

func (b *Bot) deleteMessage(chatID int64, messageID int) {
	if _, err := b.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		b.log.Warn().Err(err).Int64("chat", chatID).Int("message", messageID).Msg("delete message")
	}
}

func (b *Bot) deleteTaskAndRefresh(ctx context.Context, chatID int64, from *tgbotapi.User, taskID uint) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}

	task, err := b.taskSvc.GetTask(ctx, user, taskID)
	if err != nil {
		return b.replyError(chatID, err)
	}

	if err := b.taskSvc.DeleteTask(ctx, user, taskID); err != nil {
		return b.replyError(chatID, err)
	}
	if task.NotificationMessageID != nil {
		b.deleteMessage(chatID, *task.NotificationMessageID)
	}

	b.log.Info().Uint("task", task.ID).Uint("user", user.ID).Msg("task deleted")
	if err := b.sendTextWithRemove(chatID, fmt.Sprintf("🗑 «%s» deleted.", escape(normalizeName(task.Name)))); err != nil {
		return err
	}

	return b.sendTaskList(ctx, chatID, user)
}

func (b *Bot) handleMenuAlias(ctx context.Context, msg *tgbotapi.Message) (bool, error) {
	text := strings.TrimSpace(strings.ToLower(msg.Text))
	switch text {
	case strings.ToLower(menuLabelNewTask):
		return true, b.startNewTaskConversation(ctx, msg)
	case strings.ToLower(menuLabelTasks):
		return true, b.handleListTasks(ctx, msg)
	case strings.ToLower(menuLabelSettings):
		return true, b.handleSettings(ctx, msg)
	case strings.ToLower(menuLabelHelp):
		return true, b.handleHelp(msg)
	default:
		return false, nil
	}
}

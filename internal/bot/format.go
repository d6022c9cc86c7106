package bot

import (
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"
	"unicode"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"flexible-todos/internal/model"
	"flexible-todos/internal/schedule"
	"flexible-todos/internal/service"
)

const (
	btnSkip           = "⏭️ Skip"
	btnClear          = "🧹 Clear"
	btnYes            = "Yes"
	btnNo             = "No"
	btnConfirm        = "✅ Confirm"
	btnCancel         = "↩️ Cancel"
	btnCancelDialog   = "⏪ Stop input"
	iconLater         = "🟢"
	iconSoon          = "🟡"
	iconDue           = "⏳"
	iconOverdue       = "⚠️"
	iconLongOverdue   = "🔴"
	menuLabelNewTask  = "➕ New task"
	menuLabelTasks    = "📋 Tasks"
	menuLabelSettings = "⚙️ Settings"
	menuLabelHelp     = "ℹ️ Help"
	dateLayout        = "2006-01-02"
	historyLimit      = 10
)

var errNotPositive = errors.New("not a positive number")

func confirmKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnConfirm),
			tgbotapi.NewKeyboardButton(btnCancel),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelNewTask),
			tgbotapi.NewKeyboardButton(menuLabelTasks),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelSettings),
			tgbotapi.NewKeyboardButton(menuLabelHelp),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = false
	return kb
}

func cancelKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func skipKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnSkip),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func yesNoKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnYes),
			tgbotapi.NewKeyboardButton(btnNo),
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

// editKeyboard is used for optional fields of a task being edited.
func editKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnSkip),
			tgbotapi.NewKeyboardButton(btnClear),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func periodKeyboard(withSkip bool) tgbotapi.ReplyKeyboardMarkup {
	last := tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnCancelDialog))
	if withSkip {
		last = tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnSkip),
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		)
	}
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("1"),
			tgbotapi.NewKeyboardButton("7"),
			tgbotapi.NewKeyboardButton("14"),
			tgbotapi.NewKeyboardButton("30"),
		),
		last,
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

// reminderKeyboard goes under every reminder message.
func reminderKeyboard(taskID uint) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("✅ Done", fmt.Sprintf("%s%d", cbReminderDonePrefix, taskID)),
		tgbotapi.NewInlineKeyboardButtonData("🔕 Dismiss", fmt.Sprintf("%s%d", cbDismissPrefix, taskID)),
	))
}

func taskKeyboard(taskID uint) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("✅ Done today", fmt.Sprintf("%s%d", cbDonePrefix, taskID)),
		tgbotapi.NewInlineKeyboardButtonData("🗑 Delete", fmt.Sprintf("%s%d", cbDeletePrefix, taskID)),
	))
}

func isSkipInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == "-" || value == strings.ToLower(btnSkip) || value == "skip"
}

func isClearInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == strings.ToLower(btnClear) || value == "clear" || value == "none"
}

func isConfirmInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == strings.ToLower(btnConfirm) || value == "confirm" || value == "yes"
}

func isCancelInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == strings.ToLower(btnCancel) || value == "cancel" || value == "no"
}

func isCancelDialogInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == strings.ToLower(btnCancelDialog) || value == "stop" || value == "stop input"
}

func isYesInput(text string) bool {
	switch strings.TrimSpace(strings.ToLower(text)) {
	case "yes", "y":
		return true
	}
	return false
}

func isNoInput(text string) bool {
	switch strings.TrimSpace(strings.ToLower(text)) {
	case "no", "n", "-":
		return true
	}
	return false
}

func isOnInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == "on" || isYesInput(value)
}

func isOffInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == "off" || isNoInput(value)
}

// taskInput prefills an edit with the stored task.
func taskInput(task model.TaskDefinition) service.TaskInput {
	due := task.InitialDueDate
	return service.TaskInput{
		Name:                 task.Name,
		Description:          task.Description,
		Period:               task.Period,
		InitialDueDate:       &due,
		NotificationsEnabled: task.NotificationsEnabled,
		NotificationTime:     task.NotificationTime,
		NotificationPeriod:   task.NotificationPeriod,
	}
}

func parseTaskID(data, prefix string) (uint, error) {
	return parseID(strings.TrimPrefix(data, prefix))
}

func parseID(raw string) (uint, error) {
	value, err := strconv.ParseUint(strings.TrimSpace(strings.TrimPrefix(raw, "#")), 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(value), nil
}

func parsePositiveInt(raw string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if value <= 0 {
		return 0, errNotPositive
	}
	return value, nil
}

// parseDate accepts an ISO date or the words today and tomorrow.
func parseDate(raw string, today time.Time) (time.Time, error) {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case "today":
		return schedule.DateOf(today), nil
	case "tomorrow":
		return schedule.AddDays(today, 1), nil
	}
	parsed, err := time.Parse(dateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, err
	}
	return schedule.DateOf(parsed), nil
}

func urgencyIcon(urgency float64) string {
	switch {
	case urgency <= -1:
		return iconLongOverdue
	case urgency < 0:
		return iconOverdue
	case urgency == 0:
		return iconDue
	case urgency < 0.5:
		return iconSoon
	default:
		return iconLater
	}
}

func formatTaskLine(task model.TaskDefinition, now time.Time) string {
	days := task.DaysUntilDue(now)
	icon := urgencyIcon(schedule.Urgency(task.Period, days))
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s <b>#%d</b> %s\n", icon, task.ID, escape(normalizeName(task.Name))))
	b.WriteString(fmt.Sprintf("   %s · every %s\n", schedule.DueDescription(days), plural(task.Period, "day")))
	if task.Description != "" {
		b.WriteString(fmt.Sprintf("   📝 %s\n", escape(task.Description)))
	}
	b.WriteByte('\n')
	return b.String()
}

func formatTaskDetails(task model.TaskDefinition, settings schedule.Settings, now time.Time) string {
	due := task.NextDueDate()
	days := schedule.DaysUntilDue(due, now)

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s <b>#%d</b> %s\n", urgencyIcon(schedule.Urgency(task.Period, days)), task.ID, escape(normalizeName(task.Name))))
	if task.Description != "" {
		b.WriteString(fmt.Sprintf("📝 %s\n", escape(task.Description)))
	}
	b.WriteString(fmt.Sprintf("🔁 Every %s\n", plural(task.Period, "day")))
	b.WriteString(fmt.Sprintf("📅 Next: %s (%s)\n", due.Format(dateLayout), schedule.DueDescription(days)))

	if !task.NotificationsEnabled {
		b.WriteString("🔕 Reminders off\n")
		return b.String()
	}
	at := schedule.Resolve(task.NotificationTime, settings.NotificationTime)
	b.WriteString(fmt.Sprintf("🔔 Reminder at %s", at))
	if task.NotificationTime == nil {
		b.WriteString(" (default)")
	}
	b.WriteByte('\n')
	if settings.PeriodScale >= schedule.MinPeriodScale && settings.PeriodScale <= schedule.MaxPeriodScale {
		repeat := schedule.EffectivePeriod(task.Period, task.NotificationPeriod, settings.PeriodScale)
		b.WriteString(fmt.Sprintf("⏳ Repeats every %s after a dismissal while overdue\n", plural(repeat, "day")))
	}
	if next, ok := task.NextNotification(settings, now); ok {
		b.WriteString(fmt.Sprintf("⏰ Next reminder: %s\n", next.Format("2006-01-02 15:04")))
	}
	return b.String()
}

func formatHistory(task model.TaskDefinition) string {
	sorted := task.SortedCompletions()
	if len(sorted) == 0 {
		return "\nNever done yet."
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("\n<b>History</b> (%d total)\n", len(sorted)))
	start := max(len(sorted)-historyLimit, 0)
	for i := len(sorted) - 1; i >= start; i-- {
		c := sorted[i]
		b.WriteString(fmt.Sprintf("• %s <i>[%d]</i>", c.Date.Format(dateLayout), c.ID))
		if c.Note != "" {
			b.WriteString(" — " + escape(c.Note))
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatSettings(settings schedule.Settings) string {
	var b strings.Builder
	b.WriteString("⚙️ <b>Settings</b>\n")
	b.WriteString(fmt.Sprintf("• Default reminder time: %s (change with /time HH:MM)\n", settings.NotificationTime))
	b.WriteString(fmt.Sprintf("• Repeat scale: %d (change with /scale %d-%d)\n\n", settings.PeriodScale, schedule.MinPeriodScale, schedule.MaxPeriodScale))
	b.WriteString(formatScaleTable(settings.PeriodScale))
	return b.String()
}

// formatScaleTable shows how overdue reminders repeat for typical periods.
func formatScaleTable(scale int) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("With scale %d an overdue task is brought up again every:\n<pre>", scale))
	for _, ex := range service.ScaleExamples(scale) {
		b.WriteString(fmt.Sprintf("%4d-day task → %3d days\n", ex.TaskPeriod, ex.NotificationPeriod))
	}
	b.WriteString("</pre>")
	return b.String()
}

func reminderText(task model.TaskDefinition, now time.Time) string {
	days := task.DaysUntilDue(now)
	text := fmt.Sprintf("🔔 <b>%s</b> is %s.", escape(normalizeName(task.Name)), schedule.DueDescription(days))
	if task.Description != "" {
		text += "\n📝 " + escape(task.Description)
	}
	return text
}

func doneText(task model.TaskDefinition, now time.Time) string {
	return fmt.Sprintf("✅ «%s» done. Next time: %s (%s).",
		escape(normalizeName(task.Name)),
		task.NextDueDate().Format(dateLayout),
		schedule.DueDescription(task.DaysUntilDue(now)))
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func shortName(name string, maxLen int) string {
	clean := strings.TrimSpace(strings.ReplaceAll(name, "\n", " "))
	clean = normalizeName(clean)
	runes := []rune(clean)
	if len(runes) <= maxLen {
		return clean
	}
	if maxLen <= 1 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-1]) + "…"
}

func normalizeName(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return value
	}
	runes := []rune(value)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

func escape(s string) string {
	return html.EscapeString(s)
}

// Package importer converts task databases from other reminder apps.
package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"flexible-todos/internal/logging"
	"flexible-todos/internal/model"
	"flexible-todos/internal/repository"
	"flexible-todos/internal/schedule"
)

const regularlyDateLayout = "2006-01-02"

// regularlyTask is a row of the Regularly app's tasks table.
type regularlyTask struct {
	ID                   int64   `gorm:"column:_id"`
	Name                 string  `gorm:"column:name"`
	Details              *string `gorm:"column:details"`
	Created              string  `gorm:"column:created"`
	FirstDue             *string `gorm:"column:firstdue"`
	Period               int     `gorm:"column:period"`
	NotificationsEnabled bool    `gorm:"column:notifications_enabled"`
	LastNotified         *string `gorm:"column:lastnotified"`
	NotificationsTime    *string `gorm:"column:notifications_time"`
	NotificationsPeriod  *int    `gorm:"column:notifications_period"`
}

func (regularlyTask) TableName() string { return "tasks" }

// regularlyLog is one completion entry.
type regularlyLog struct {
	TaskID    int64   `gorm:"column:taskid"`
	EntryDate string  `gorm:"column:entrydate"`
	Note      *string `gorm:"column:note"`
}

func (regularlyLog) TableName() string { return "log" }

// Result summarises an import run.
type Result struct {
	Tasks       int
	Completions int
	// Skipped lists rows that could not be converted and why.
	Skipped []string
}

// Importer writes converted tasks into this app's database.
type Importer struct {
	db  *gorm.DB
	loc *time.Location
	log zerolog.Logger
}

// New creates an importer; loc is the zone Regularly's local dates are read in.
func New(db *gorm.DB, loc *time.Location, log zerolog.Logger) *Importer {
	if loc == nil {
		loc = time.Local
	}
	return &Importer{db: db, loc: loc, log: logging.Component(log, "importer")}
}

// OpenRegularly opens a Regularly database file read-only.
func OpenRegularly(path string, log zerolog.Logger) (*gorm.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("regularly db: %w", err)
	}
	return repository.Open("file:"+path+"?mode=ro", log)
}

// Regularly copies every task and log entry of src to user in one transaction.
// Nothing is written when any insert fails.
func (im *Importer) Regularly(ctx context.Context, src *gorm.DB, user *model.User) (Result, error) {
	var rows []regularlyTask
	if err := src.WithContext(ctx).Order("_id ASC").Find(&rows).Error; err != nil {
		return Result{}, fmt.Errorf("read regularly tasks: %w", err)
	}
	var entries []regularlyLog
	if err := src.WithContext(ctx).Order("taskid ASC, entrydate ASC").Find(&entries).Error; err != nil {
		return Result{}, fmt.Errorf("read regularly log: %w", err)
	}

	var res Result
	err := im.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tasks := repository.NewTaskRepository(tx)
		completions := repository.NewCompletionRepository(tx)

		oldToNew := make(map[int64]uint, len(rows))
		for _, row := range rows {
			task, err := im.convertTask(row, user.ID)
			if err != nil {
				res.Skipped = append(res.Skipped, fmt.Sprintf("task %d (%s): %v", row.ID, row.Name, err))
				continue
			}
			if err := tasks.Create(ctx, task); err != nil {
				return err
			}
			oldToNew[row.ID] = task.ID
			res.Tasks++
		}

		for _, entry := range entries {
			taskID, ok := oldToNew[entry.TaskID]
			if !ok {
				res.Skipped = append(res.Skipped, fmt.Sprintf("log entry %s: unknown task %d", entry.EntryDate, entry.TaskID))
				continue
			}
			date, err := parseRegularlyDate(entry.EntryDate)
			if err != nil {
				res.Skipped = append(res.Skipped, fmt.Sprintf("log entry of task %d: %v", entry.TaskID, err))
				continue
			}
			completion := &model.Completion{TaskID: taskID, Date: date, Note: deref(entry.Note)}
			if err := completions.Create(ctx, completion); err != nil {
				return err
			}
			res.Completions++
		}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("import regularly: %w", err)
	}

	for _, reason := range res.Skipped {
		im.log.Warn().Str("reason", reason).Msg("row skipped")
	}
	im.log.Info().Uint("user", user.ID).Int("tasks", res.Tasks).Int("completions", res.Completions).Msg("regularly import finished")
	return res, nil
}

// convertTask maps a Regularly row onto a task. Regularly leaves firstdue
// empty unless the user picked one, so the creation date stands in for it.
func (im *Importer) convertTask(row regularlyTask, userID uint) (*model.TaskDefinition, error) {
	if strings.TrimSpace(row.Name) == "" {
		return nil, errors.New("empty name")
	}
	if row.Period <= 0 {
		return nil, fmt.Errorf("period %d is not positive", row.Period)
	}
	created, err := parseRegularlyDate(row.Created)
	if err != nil {
		return nil, fmt.Errorf("created: %w", err)
	}
	initialDue := created
	if row.FirstDue != nil && strings.TrimSpace(*row.FirstDue) != "" {
		if initialDue, err = parseRegularlyDate(*row.FirstDue); err != nil {
			return nil, fmt.Errorf("firstdue: %w", err)
		}
	}

	task := &model.TaskDefinition{
		UserID:               userID,
		Name:                 strings.TrimSpace(row.Name),
		Description:          strings.TrimSpace(deref(row.Details)),
		CreationDate:         created,
		InitialDueDate:       initialDue,
		Period:               row.Period,
		NotificationsEnabled: row.NotificationsEnabled,
	}

	if row.LastNotified != nil && strings.TrimSpace(*row.LastNotified) != "" {
		day, err := parseRegularlyDate(*row.LastNotified)
		if err != nil {
			return nil, fmt.Errorf("lastnotified: %w", err)
		}
		// Regularly only kept the day; midnight is the earliest instant it could mean.
		dismissed := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, im.loc)
		task.NotificationLastDismissed = &dismissed
	}
	if row.NotificationsTime != nil && strings.TrimSpace(*row.NotificationsTime) != "" {
		tod, err := schedule.ParseTimeOfDay(*row.NotificationsTime)
		if err != nil {
			return nil, fmt.Errorf("notifications_time: %w", err)
		}
		task.NotificationTime = &tod
	}
	if row.NotificationsPeriod != nil && *row.NotificationsPeriod > 0 {
		period := *row.NotificationsPeriod
		task.NotificationPeriod = &period
	}
	return task, nil
}

// parseRegularlyDate reads the date part of a Regularly date or timestamp.
func parseRegularlyDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) > len(regularlyDateLayout) {
		raw = raw[:len(regularlyDateLayout)]
	}
	parsed, err := time.Parse(regularlyDateLayout, raw)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.DateOf(parsed), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

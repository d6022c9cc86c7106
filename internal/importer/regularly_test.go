package importer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"flexible-todos/internal/model"
	"flexible-todos/internal/repository"
	"flexible-todos/internal/schedule"
)

const regularlySchema = `
CREATE TABLE tasks (
	_id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	details TEXT,
	created TEXT NOT NULL,
	firstdue TEXT,
	period INTEGER NOT NULL,
	notifications_enabled INTEGER NOT NULL DEFAULT 1,
	lastnotified TEXT,
	notifications_time TEXT,
	notifications_period INTEGER
);
CREATE TABLE log (
	_id INTEGER PRIMARY KEY AUTOINCREMENT,
	taskid INTEGER NOT NULL,
	entrydate TEXT NOT NULL,
	note TEXT
);`

func writeRegularlyDB(t *testing.T, stmts ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "regularly.db")
	db, err := repository.Open(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, db.Exec(regularlySchema).Error)
	for _, stmt := range stmts {
		require.NoError(t, db.Exec(stmt).Error)
	}
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
	return path
}

func openTarget(t *testing.T) (*gorm.DB, *model.User) {
	t.Helper()
	db, err := repository.NewDB(filepath.Join(t.TempDir(), "target.db"), zerolog.Nop())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	user, err := repository.NewUserRepository(db).UpsertFromTelegram(context.Background(), 7, "Ada", "", "")
	require.NoError(t, err)
	return db, user
}

func openSource(t *testing.T, path string) *gorm.DB {
	t.Helper()
	src, err := OpenRegularly(path, zerolog.Nop())
	require.NoError(t, err)
	sqlDB, err := src.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return src
}

func TestRegularlyImport(t *testing.T) {
	ctx := context.Background()
	path := writeRegularlyDB(t,
		`INSERT INTO tasks (_id, name, details, created, firstdue, period, notifications_enabled, lastnotified, notifications_time, notifications_period)
		 VALUES (5, 'Water plants', 'balcony too', '2023-03-01', '2023-03-04', 3, 1, '2024-01-02', '07:30', 2)`,
		`INSERT INTO tasks (_id, name, details, created, firstdue, period, notifications_enabled)
		 VALUES (9, 'Descale kettle', NULL, '2023-05-10', NULL, 60, 0)`,
		`INSERT INTO log (taskid, entrydate, note) VALUES (5, '2024-01-01', 'all of them')`,
		`INSERT INTO log (taskid, entrydate, note) VALUES (5, '2023-12-29', NULL)`,
		`INSERT INTO log (taskid, entrydate, note) VALUES (9, '2023-11-20', NULL)`,
	)
	db, user := openTarget(t)

	res, err := New(db, time.UTC, zerolog.Nop()).Regularly(ctx, openSource(t, path), user)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Tasks)
	assert.Equal(t, 3, res.Completions)
	assert.Empty(t, res.Skipped)

	tasks, err := repository.NewTaskRepository(db).ListByUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	plants := tasks[0]
	assert.Equal(t, "Water plants", plants.Name)
	assert.Equal(t, "balcony too", plants.Description)
	assert.Equal(t, time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC), plants.CreationDate.UTC())
	assert.Equal(t, time.Date(2023, 3, 4, 0, 0, 0, 0, time.UTC), plants.InitialDueDate.UTC())
	assert.True(t, plants.NotificationsEnabled)
	require.NotNil(t, plants.NotificationLastDismissed)
	assert.True(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC).Equal(*plants.NotificationLastDismissed))
	require.NotNil(t, plants.NotificationTime)
	assert.Equal(t, schedule.TimeOfDay{Hour: 7, Minute: 30}, *plants.NotificationTime)
	require.NotNil(t, plants.NotificationPeriod)
	assert.Equal(t, 2, *plants.NotificationPeriod)
	require.Len(t, plants.Completions, 2)
	assert.Equal(t, "all of them", plants.Completions[1].Note)
	assert.Equal(t, time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC), plants.NextDueDate())

	kettle := tasks[1]
	assert.Equal(t, kettle.CreationDate, kettle.InitialDueDate)
	assert.False(t, kettle.NotificationsEnabled)
	assert.Nil(t, kettle.NotificationTime)
	assert.Nil(t, kettle.NotificationPeriod)
	assert.Nil(t, kettle.NotificationLastDismissed)
	require.Len(t, kettle.Completions, 1)
}

func TestRegularlyImportSkipsBrokenRows(t *testing.T) {
	ctx := context.Background()
	path := writeRegularlyDB(t,
		`INSERT INTO tasks (_id, name, created, period) VALUES (1, 'Fine', '2023-01-01', 7)`,
		`INSERT INTO tasks (_id, name, created, period) VALUES (2, 'No period', '2023-01-01', 0)`,
		`INSERT INTO tasks (_id, name, created, period) VALUES (3, 'Bad date', 'yesterday', 7)`,
		`INSERT INTO log (taskid, entrydate) VALUES (2, '2023-02-01')`,
		`INSERT INTO log (taskid, entrydate) VALUES (1, '2023-02-01 08:15:00')`,
	)
	db, user := openTarget(t)

	res, err := New(db, time.UTC, zerolog.Nop()).Regularly(ctx, openSource(t, path), user)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Tasks)
	assert.Equal(t, 1, res.Completions)
	assert.Len(t, res.Skipped, 3)

	tasks, err := repository.NewTaskRepository(db).ListByUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Len(t, tasks[0].Completions, 1)
	assert.Equal(t, time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC), tasks[0].Completions[0].Date.UTC())
}

func TestOpenRegularlyMissingFile(t *testing.T) {
	_, err := OpenRegularly(filepath.Join(t.TempDir(), "absent.db"), zerolog.Nop())
	assert.Error(t, err)
}

func TestParseRegularlyDate(t *testing.T) {
	got, err := parseRegularlyDate(" 2020-02-29T00:00:00 ")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2020, 2, 29, 0, 0, 0, 0, time.UTC), got)

	_, err = parseRegularlyDate("29/02/2020")
	assert.Error(t, err)
}

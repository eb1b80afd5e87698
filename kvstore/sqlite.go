package kvstore

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	// InMemorySQLiteDSN is a special DSN to create an ephemeral in-memory
	// SQLite database.
	InMemorySQLiteDSN = ":memory:"

	// dbDirPermissions sets directory permissions to 750 (rwxr-x---).
	dbDirPermissions = 0o750
)

// gormConfig disables gorm's own logging; the engine logs through zerolog.
var gormConfig = &gorm.Config{
	Logger: logger.Default.LogMode(logger.Silent),
}

// Item is one stored blob. Keys are unique; values are opaque to storage.
type Item struct {
	gorm.Model
	Key   string `gorm:"uniqueIndex;not null"`
	Value []byte
}

// SQLiteStorage is a file- or memory-backed Storage implementation over
// GORM/SQLite.
type SQLiteStorage struct {
	client *gorm.DB
}

var _ Storage = (*SQLiteStorage)(nil)

// OpenFileStorage opens (or creates) a file-backed SQLite database located
// in the given directory and migrates the item schema.
func OpenFileStorage(dir, filename string) (*SQLiteStorage, error) {
	dsn, err := prepareFilePath(dir, filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to prepare storage path")
	}
	return openSQLite(dsn)
}

// OpenInMemoryStorage opens a non-persistent SQLite database in memory,
// useful for tests and ephemeral state.
func OpenInMemoryStorage() (*SQLiteStorage, error) {
	return openSQLite(InMemorySQLiteDSN)
}

func openSQLite(dsn string) (*SQLiteStorage, error) {
	// WAL and a busy timeout allow the host UI thread and poller callbacks
	// to hit the same file concurrently.
	if dsn != InMemorySQLiteDSN && !strings.Contains(dsn, "?") {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000&cache=shared&mode=rwc"
	}

	db, err := gorm.Open(sqlite.Open(dsn), gormConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open SQLite storage")
	}

	if err := db.AutoMigrate(&Item{}); err != nil {
		return nil, errors.Wrap(err, "failed to auto-migrate storage schema")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get underlying sql.DB")
	}

	// SQLite performs best with a single connection in WAL mode.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	return &SQLiteStorage{client: db}, nil
}

// SaveItem upserts the blob stored under key. The write is committed before
// returning.
func (s *SQLiteStorage) SaveItem(key string, value []byte) error {
	var existing Item
	err := s.client.Where("key = ?", key).First(&existing).Error
	if err == nil {
		existing.Value = value
		if err := s.client.Save(&existing).Error; err != nil {
			return errors.Wrapf(err, "failed to update item %q", key)
		}
		return nil
	}
	if err != gorm.ErrRecordNotFound {
		return errors.Wrapf(err, "failed to query item %q", key)
	}

	item := Item{Key: key, Value: value}
	if err := s.client.Create(&item).Error; err != nil {
		return errors.Wrapf(err, "failed to create item %q", key)
	}
	return nil
}

// LoadItem returns the blob stored under key. The second return value is
// false when no item exists.
func (s *SQLiteStorage) LoadItem(key string) ([]byte, bool, error) {
	var item Item
	err := s.client.Where("key = ?", key).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "failed to load item %q", key)
	}
	return item.Value, true, nil
}

// DeleteItem removes the blob stored under key. Deleting a missing key is
// not an error.
func (s *SQLiteStorage) DeleteItem(key string) error {
	if err := s.client.Unscoped().Where("key = ?", key).Delete(&Item{}).Error; err != nil {
		return errors.Wrapf(err, "failed to delete item %q", key)
	}
	return nil
}

// Close safely closes the underlying database connection.
func (s *SQLiteStorage) Close() error {
	sqlDB, err := s.client.DB()
	if err != nil {
		return errors.Wrap(err, "failed to retrieve native sql.DB")
	}
	if err := sqlDB.Close(); err != nil {
		return errors.Wrap(err, "failed to close storage connection")
	}
	return nil
}

// prepareFilePath ensures the target directory exists and returns the full
// database file path.
func prepareFilePath(dir, filename string) (string, error) {
	if strings.Contains(dir, InMemorySQLiteDSN) {
		return dir, nil
	}

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, dbDirPermissions); err != nil {
			return "", errors.Wrapf(err, "failed to create directory: %s", dir)
		}
	} else if err != nil {
		return "", errors.Wrap(err, "error checking directory")
	}

	return fmt.Sprintf("%s/%s", dir, filename), nil
}

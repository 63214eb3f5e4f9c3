package testfixtures

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/thereayou/convoy/internal/database"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase мигрированная база SQLite во временном каталоге теста.
// Одно соединение: транзакции сериализуются так же, как строки под блокировкой в Postgres.
func NewDatabase(tb testing.TB) *database.Database {
	tb.Helper()
	db, _ := OpenDatabase(tb)
	return db
}

// OpenDatabase то же, что NewDatabase, плюс gorm для сырого SQL в тестах
func OpenDatabase(tb testing.TB) (*database.Database, *gorm.DB) {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "convoy.db")
	gdb, err := gorm.Open(sqlite.Open(path+"?_pragma=foreign_keys(1)"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		tb.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		tb.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	db := database.NewDatabase(gdb)
	if err := db.Migrate(); err != nil {
		tb.Fatalf("failed to migrate: %v", err)
	}
	tb.Cleanup(func() { _ = db.Close() })
	return db, gdb
}

// NewRedis miniredis и клиент к нему; оба закрываются по окончании теста
func NewRedis(tb testing.TB) (*miniredis.Miniredis, *redis.Client) {
	tb.Helper()

	mr := miniredis.RunT(tb)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	tb.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

// Logger логгер, который ничего не пишет
func Logger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

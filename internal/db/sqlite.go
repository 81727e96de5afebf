package db

import (
	"errors"
	"log"
	"strings"

	"github.com/fineauth/fineauth/internal/db/models"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB opens the SQLite database and runs migrations.
func InitDB(dbPath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(withPragmas(dbPath)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	log.Printf("🗄️  Database ready: %s", dbPath)
	return db, nil
}

// Migrate creates or updates every table the service owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Account{},
		&models.Character{},
		&models.ModuleAccountData{},
		&models.Config{},
	)
}

// withPragmas enables WAL and foreign keys on every pooled connection.
func withPragmas(dbPath string) string {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + "_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// GetSetting reads a value from the key/value settings table.
// The boolean is false when the key has never been written.
func GetSetting(db *gorm.DB, key string) (string, bool) {
	var config models.Config
	err := db.Where("key = ?", key).First(&config).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("⚠️ Failed to read setting %s: %v", key, err)
		}
		return "", false
	}
	return config.Value, true
}

// SetSetting creates or overwrites a settings value.
func SetSetting(db *gorm.DB, key, value string) error {
	return db.Save(&models.Config{Key: key, Value: value}).Error
}

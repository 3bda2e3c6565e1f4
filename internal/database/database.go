package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/gluk-w/termgate/internal/config"
)

var DB *gorm.DB

func Init() error {
	return InitAt(config.Cfg.DatabasePath)
}

// InitAt opens the SQLite database at dbPath and runs migrations. Split out
// from Init so tests can point at a throwaway path.
func InitAt(dbPath string) error {
	dbDir := filepath.Dir(dbPath)
	if dbDir != "" {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("create db directory: %w", err)
		}
	}

	var err error
	DB, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}

	if err := DB.AutoMigrate(&Host{}, &User{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}

	return nil
}

func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

func GetHostByID(id uint) (*Host, error) {
	var host Host
	if err := DB.First(&host, id).Error; err != nil {
		return nil, err
	}
	return &host, nil
}

func CreateHost(host *Host) error {
	return DB.Create(host).Error
}

func UpdateHost(host *Host) error {
	return DB.Save(host).Error
}

func DeleteHost(id uint) error {
	return DB.Delete(&Host{}, id).Error
}

func ListHostsByOwner(username string) ([]Host, error) {
	var hosts []Host
	if err := DB.Where("created_by = ?", username).Order("name").Find(&hosts).Error; err != nil {
		return nil, err
	}
	return hosts, nil
}

func CreateUser(user *User) error {
	return DB.Create(user).Error
}

func GetUserByID(id uint) (*User, error) {
	var user User
	if err := DB.First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func GetUserByUsername(username string) (*User, error) {
	var user User
	if err := DB.Where("username = ?", username).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func UpdateUserPassword(id uint, passwordHash string) error {
	return DB.Model(&User{}).Where("id = ?", id).Update("password_hash", passwordHash).Error
}

func GetFirstAdmin() (*User, error) {
	var user User
	if err := DB.Where("role = ?", "admin").Order("id").First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// IsNotFound reports whether err is gorm's record-not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

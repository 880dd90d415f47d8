package db

import (
	"errors"

	"go-referral/referral/gormstore"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func Connect(dsn string) error {
	if dsn == "" {
		return errors.New("DB is not set")
	}

	var err error
	DB, err = gorm.Open(mysql.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	return err
}

func Sync() error {
	if err := DB.AutoMigrate(&User{}, &Payment{}, &Voucher{}); err != nil {
		return err
	}
	return gormstore.Migrate(DB)
}

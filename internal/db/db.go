package db

import (
	"log"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/kaiwa-app/kaiwa/internal/chat"
	"github.com/kaiwa-app/kaiwa/internal/models"
)

// Connect opens the database and runs automigrations.
// driver is "mysql" (production) or "sqlite" (local dev), dsn accordingly.
func Connect(driver, dsn string) *gorm.DB {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = gormsqlite.Open(dsn)
	default:
		dialector = mysql.Open(dsn)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		log.Fatalf("db open: %v", err)
	}

	if err := gdb.AutoMigrate(
		&models.User{},
		&chat.Room{},
		&chat.HistoryRecord{},
	); err != nil {
		log.Fatalf("db automigrate: %v", err)
	}
	return gdb
}

package database

import (
	"gorm.io/gorm"

	"github.com/charlesng35/smallworld/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.World{},
		&models.Friend{},
		&models.Post{},
		&models.PushSubscription{},
		&models.PushRegistration{},
		&models.Notification{},
		&models.TextBlast{},
		&models.Reaction{},
		&models.PostView{},
		&models.Reply{},
		&models.RateCounter{},
	)
}

// Backfill repairs rows that predate the current invariant that post id sets are stored as
// JSON arrays and never as NULL.
func Backfill(db *gorm.DB) error {
	statements := []struct {
		model  any
		column string
	}{
		{&models.Post{}, "hidden_from_ids"},
		{&models.Post{}, "visible_to_ids"},
	}

	for _, stmt := range statements {
		err := db.Model(stmt.model).
			Session(&gorm.Session{SkipHooks: true}).
			Where(stmt.column + " IS NULL").
			UpdateColumn(stmt.column, gorm.Expr("'[]'")).Error
		if err != nil {
			return err
		}
	}

	return nil
}

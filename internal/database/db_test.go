package database

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/smallworld/internal/models"
)

func TestOpenSQLiteMemory(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Exec("SELECT 1").Error)
	require.NoError(t, Ping(context.Background(), db))
}

func TestOpenSQLiteFile(t *testing.T) {
	path := t.TempDir() + "/nested/smallworld.db"
	db, err := Open(Config{Driver: "sqlite", Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	require.NoError(t, AutoMigrate(db))
	require.True(t, db.Migrator().HasTable(&models.Post{}))
}

func TestAutoMigrateCreatesDomainTables(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, AutoMigrateAndBackfill(db))

	migrator := db.Migrator()
	tables := []any{
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
	}
	for _, table := range tables {
		require.True(t, migrator.HasTable(table), "expected table for %T", table)
	}

	require.True(t, migrator.HasIndex(&models.Notification{}, "idx_notifications_noticeable_recipient"))
	require.True(t, migrator.HasIndex(&models.TextBlast{}, "idx_text_blasts_post_friend"))
	require.True(t, migrator.HasIndex(&models.PushRegistration{}, "idx_push_registrations_owner_subscription"))
}

func TestUniqueIndexesRejectDuplicates(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, AutoMigrate(db))

	first := models.TextBlast{PostID: "p1", FriendID: "f1", PhoneNumber: "+15550000000"}
	require.NoError(t, db.Create(&first).Error)

	dup := models.TextBlast{PostID: "p1", FriendID: "f1", PhoneNumber: "+15550000000"}
	err := db.Create(&dup).Error
	require.Error(t, err)
	require.ErrorIs(t, err, gorm.ErrDuplicatedKey)
}

func TestBackfillReplacesNullIDSets(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, AutoMigrate(db))

	id := uuid.NewString()
	require.NoError(t, db.Exec(
		"INSERT INTO posts (id, created_at, updated_at, author_id, type, visibility, body, hidden_from_ids, visible_to_ids) VALUES (?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP, ?, ?, ?, ?, NULL, NULL)",
		id, "u1", string(models.PostTypeStatus), string(models.VisibilityFriends), "legacy",
	).Error)

	require.NoError(t, Backfill(db))

	var post models.Post
	require.NoError(t, db.First(&post, "id = ?", id).Error)
	require.NotNil(t, post.HiddenFromIDs)
	require.NotNil(t, post.VisibleToIDs)
	require.Empty(t, post.HiddenFromIDs)
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := Open(Config{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", uuid.NewString()),
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = Close(db)
	})

	return db
}

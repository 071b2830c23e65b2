package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/skinvault/backend/internal/chat/automod"
	"github.com/skinvault/backend/internal/chat/commands"
	"github.com/skinvault/backend/internal/identity"
	"github.com/skinvault/backend/internal/invites"
	"github.com/skinvault/backend/internal/moderation"
)

// OpenSQLite establishes a SQLite connection and performs schema
// migrations for the fixed tables. Message shard tables are created
// lazily by the store on first write.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&moderation.BanRecord{},
		&moderation.TimeoutRecord{},
		&moderation.BlockRecord{},
		&moderation.PinRecord{},
		&moderation.ChannelFlag{},
		&moderation.ReportRecord{},
		&invites.Invite{},
		&automod.Event{},
		&automod.SettingsRecord{},
		&commands.Command{},
		&identity.ProfileRecord{},
		&identity.PremiumGrant{},
		&migrationRecord{},
	); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

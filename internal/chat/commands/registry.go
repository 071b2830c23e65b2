package commands

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("commands: database handle is required")

	// ErrInvalidSlug reports a slug that fails normalization or is
	// reserved.
	ErrInvalidSlug = errors.New("commands: invalid slug")

	// ErrCommandNotFound reports a lookup miss.
	ErrCommandNotFound = errors.New("commands: command not found")
)

// Command is an operator-registered template command.
type Command struct {
	Slug        string    `gorm:"column:slug;primaryKey;size:32;not null"`
	Description string    `gorm:"column:description;size:200;not null;default:''"`
	Response    string    `gorm:"column:response;size:900;not null"`
	Enabled     bool      `gorm:"column:enabled;not null;default:true"`
	Deleted     bool      `gorm:"column:deleted;not null;default:false"`
	UpdatedBy   string    `gorm:"column:updated_by;size:190;not null;default:''"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName binds commands to their table.
func (Command) TableName() string {
	return "chat_commands"
}

// Registry stores operator-registered commands. Deleted commands keep
// their row so the slug history survives, they just stop resolving.
type Registry struct {
	db *gorm.DB
}

// NewRegistry constructs the command registry.
func NewRegistry(db *gorm.DB) (*Registry, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &Registry{db: db}, nil
}

// Lookup resolves an enabled, non-deleted command by slug.
func (r *Registry) Lookup(ctx context.Context, slug string) (Command, error) {
	normalized := NormalizeSlug(slug)
	if normalized == "" {
		return Command{}, ErrCommandNotFound
	}
	var command Command
	err := r.db.WithContext(ctx).
		Where("slug = ? AND enabled = ? AND deleted = ?", normalized, true, false).
		Take(&command).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Command{}, ErrCommandNotFound
	}
	if err != nil {
		return Command{}, err
	}
	return command, nil
}

// List returns all non-deleted commands ordered by slug.
func (r *Registry) List(ctx context.Context) ([]Command, error) {
	var all []Command
	err := r.db.WithContext(ctx).
		Where("deleted = ?", false).
		Order("slug ASC").
		Find(&all).Error
	if err != nil {
		return nil, err
	}
	return all, nil
}

// Save registers or replaces a command.
func (r *Registry) Save(ctx context.Context, command Command) (Command, error) {
	normalized := NormalizeSlug(command.Slug)
	if normalized == "" {
		return Command{}, ErrInvalidSlug
	}
	command.Slug = normalized
	command.Description = strings.TrimSpace(command.Description)
	command.Response = strings.TrimSpace(command.Response)
	if len(command.Response) > maxResponseLength {
		command.Response = command.Response[:maxResponseLength]
	}
	if command.Response == "" {
		return Command{}, ErrInvalidSlug
	}
	command.Deleted = false
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "slug"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"description", "response", "enabled", "deleted", "updated_by",
			}),
		}).
		Create(&command).Error
	if err != nil {
		return Command{}, err
	}
	return command, nil
}

// SetEnabled toggles a command without touching its template.
func (r *Registry) SetEnabled(ctx context.Context, slug string, enabled bool) error {
	normalized := NormalizeSlug(slug)
	if normalized == "" {
		return ErrInvalidSlug
	}
	result := r.db.WithContext(ctx).
		Model(&Command{}).
		Where("slug = ? AND deleted = ?", normalized, false).
		Update("enabled", enabled)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCommandNotFound
	}
	return nil
}

// Remove soft-deletes a command.
func (r *Registry) Remove(ctx context.Context, slug string) error {
	normalized := NormalizeSlug(slug)
	if normalized == "" {
		return ErrInvalidSlug
	}
	result := r.db.WithContext(ctx).
		Model(&Command{}).
		Where("slug = ? AND deleted = ?", normalized, false).
		Updates(map[string]any{"deleted": true, "enabled": false})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCommandNotFound
	}
	return nil
}

package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errStoreMissingDatabase = errors.New("chat: database handle is required")
	// ErrMessageNotFound signals a lookup miss distinct from other failures.
	ErrMessageNotFound = errors.New("chat: message not found")
)

// Filter narrows a shard range scan. Zero values are ignored.
type Filter struct {
	ChannelKey string
	SenderID   string
	Contains   string
	BeforeMs   int64
	MinMs      int64
	MaxMs      int64
}

// StoreConfig wires the sharded message store.
type StoreConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Store persists messages into per-day shard tables. Shard tables are
// created implicitly on first write; reads skip shards that do not
// exist yet.
type Store struct {
	db         *gorm.DB
	idProvider IDProvider
	logger     *zap.Logger

	mu     sync.Mutex
	tables map[Shard]bool
}

// NewStore constructs the message store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errStoreMissingDatabase
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:         cfg.Database,
		idProvider: idProvider,
		logger:     logger,
		tables:     make(map[Shard]bool),
	}, nil
}

// Insert appends a message to the given shard and assigns its id.
func (s *Store) Insert(ctx context.Context, shard Shard, message *Message) (MessageID, error) {
	if message == nil {
		return "", fmt.Errorf("chat: message is required")
	}
	if err := s.ensureShardTable(shard); err != nil {
		return "", err
	}
	if message.ID == "" {
		id, err := s.idProvider.NewID()
		if err != nil {
			return "", err
		}
		message.ID = id
	}
	if err := s.db.WithContext(ctx).Table(shard.String()).Create(message).Error; err != nil {
		return "", err
	}
	return MessageID(message.ID), nil
}

// QueryRange scans the shard list newest-first, applying the filter in
// each shard, and returns up to limit messages sorted by sent_at_ms
// descending with id as tiebreak. When stopEarly is set, scanning
// stops as soon as limit candidates have been accumulated.
func (s *Store) QueryRange(ctx context.Context, shards []Shard, filter Filter, limit int, stopEarly bool) ([]Message, error) {
	if limit < 1 {
		limit = 1
	}
	collected := make([]Message, 0, limit)
	for _, shard := range shards {
		if stopEarly && len(collected) >= limit {
			break
		}
		exists, err := s.shardTableExists(shard)
		if err != nil {
			return nil, err
		}
		if !exists {
			continue
		}

		query := s.db.WithContext(ctx).Table(shard.String())
		if filter.ChannelKey != "" {
			query = query.Where("channel_key = ?", filter.ChannelKey)
		}
		if filter.SenderID != "" {
			query = query.Where("sender_id = ?", filter.SenderID)
		}
		if filter.Contains != "" {
			pattern := "%" + escapeLike(strings.ToLower(filter.Contains)) + "%"
			query = query.Where("LOWER(body) LIKE ? ESCAPE '\\'", pattern)
		}
		if filter.BeforeMs > 0 {
			query = query.Where("sent_at_ms < ?", filter.BeforeMs)
		}
		if filter.MinMs > 0 {
			query = query.Where("sent_at_ms >= ?", filter.MinMs)
		}
		if filter.MaxMs > 0 {
			query = query.Where("sent_at_ms <= ?", filter.MaxMs)
		}

		var rows []Message
		err = query.
			Order("sent_at_ms DESC").
			Order("id ASC").
			Limit(limit).
			Find(&rows).Error
		if err != nil {
			return nil, err
		}
		collected = append(collected, rows...)
	}

	sortMessagesDescending(collected)
	if len(collected) > limit {
		collected = collected[:limit]
	}
	return collected, nil
}

// FindByID locates a message by id across the given shards, newest
// first. Returns the shard holding the message alongside it.
func (s *Store) FindByID(ctx context.Context, shards []Shard, id MessageID) (*Message, Shard, error) {
	for _, shard := range shards {
		exists, err := s.shardTableExists(shard)
		if err != nil {
			return nil, "", err
		}
		if !exists {
			continue
		}
		var row Message
		err = s.db.WithContext(ctx).Table(shard.String()).
			Where("id = ?", id.String()).
			Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		return &row, shard, nil
	}
	return nil, "", ErrMessageNotFound
}

// UpdateBody replaces the body of an existing message and stamps
// edited_at_ms. Returns ErrMessageNotFound when no shard holds the id.
func (s *Store) UpdateBody(ctx context.Context, shards []Shard, id MessageID, newBody string, editedAt time.Time) error {
	_, shard, err := s.FindByID(ctx, shards, id)
	if err != nil {
		return err
	}
	result := s.db.WithContext(ctx).Table(shard.String()).
		Where("id = ?", id.String()).
		Updates(map[string]interface{}{
			"body":         newBody,
			"edited_at_ms": editedAt.UnixMilli(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// Delete removes a message permanently. Deleting an absent id returns
// ErrMessageNotFound rather than failing.
func (s *Store) Delete(ctx context.Context, shards []Shard, id MessageID) error {
	_, shard, err := s.FindByID(ctx, shards, id)
	if err != nil {
		return err
	}
	result := s.db.WithContext(ctx).Table(shard.String()).
		Where("id = ?", id.String()).
		Delete(&Message{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func (s *Store) ensureShardTable(shard Shard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tables[shard] {
		return nil
	}
	migrator := s.db.Migrator()
	if !migrator.HasTable(shard.String()) {
		if err := s.db.Table(shard.String()).AutoMigrate(&Message{}); err != nil {
			return err
		}
		// Index names embed the shard: sqlite index names are
		// database-global, so each shard needs its own.
		indexSQL := fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS idx_%s_channel_sent ON %s (channel_key, sent_at_ms)",
			shard.String(), shard.String())
		if err := s.db.Exec(indexSQL).Error; err != nil {
			return err
		}
		s.logger.Info("shard table created", zap.String("shard", shard.String()))
	}
	s.tables[shard] = true
	return nil
}

func (s *Store) shardTableExists(shard Shard) (bool, error) {
	s.mu.Lock()
	if s.tables[shard] {
		s.mu.Unlock()
		return true, nil
	}
	s.mu.Unlock()
	exists := s.db.Migrator().HasTable(shard.String())
	if exists {
		s.mu.Lock()
		s.tables[shard] = true
		s.mu.Unlock()
	}
	return exists, nil
}

func sortMessagesDescending(messages []Message) {
	sort.Slice(messages, func(i, j int) bool {
		return messageBefore(messages[i], messages[j])
	})
}

// messageBefore orders by sent_at_ms descending, breaking ties by id
// ascending so repeated cursor queries stay deterministic.
func messageBefore(a, b Message) bool {
	if a.SentAtMs != b.SentAtMs {
		return a.SentAtMs > b.SentAtMs
	}
	return a.ID < b.ID
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-service/internal/config"
	"github.com/chirino/conversation-service/internal/model"
	registrymigrate "github.com/chirino/conversation-service/internal/registry/migrate"
	registrystore "github.com/chirino/conversation-service/internal/registry/store"
	"github.com/chirino/conversation-service/internal/search"
	"github.com/chirino/conversation-service/internal/security"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "postgres",
		Loader: func(ctx context.Context) (registrystore.ConversationStore, error) {
			cfg := config.FromContext(ctx)
			db, err := gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{})
			if err != nil {
				return nil, fmt.Errorf("failed to connect to postgres: %w", err)
			}
			sqlDB, err := db.DB()
			if err != nil {
				return nil, fmt.Errorf("failed to get underlying db: %w", err)
			}
			sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
			sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
			if security.DBPoolMaxConnections != nil {
				security.DBPoolMaxConnections.Set(float64(cfg.DBMaxOpenConns))
			}

			// Periodically update the open connections gauge.
			go func() {
				ticker := time.NewTicker(15 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if security.DBPoolOpenConnections != nil {
							security.DBPoolOpenConnections.Set(float64(sqlDB.Stats().OpenConnections))
						}
					}
				}
			}()

			return &PostgresStore{db: db, cfg: cfg}, nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &postgresMigrator{}})
}

type postgresMigrator struct{}

func (m *postgresMigrator) Name() string { return "postgres-schema" }
func (m *postgresMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg != nil && !cfg.DatastoreMigrateAtStart {
		return nil
	}
	if cfg.DatastoreType != "" && cfg.DatastoreType != "postgres" {
		return nil // skip if not using postgres
	}
	log.Info("Running migration", "name", m.Name())
	db, err := gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("migration: failed to connect: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	// Read and execute embedded schema
	if _, err := sqlDB.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migration: failed to execute schema: %w", err)
	}
	log.Info("Postgres schema migration complete")
	return nil
}

// PostgresStore implements ConversationStore using GORM + PostgreSQL.
type PostgresStore struct {
	db  *gorm.DB
	cfg *config.Config
}

const messageCountSelect = "conversations.*, (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = conversations.id) AS message_count"

type conversationRow struct {
	model.Conversation
	MessageCount int64 `gorm:"column:message_count"`
}

func (r *conversationRow) record() *registrystore.ConversationRecord {
	return &registrystore.ConversationRecord{
		Conversation: r.Conversation,
		MessageCount: r.MessageCount,
	}
}

func (s *PostgresStore) CreateConversation(ctx context.Context, userID string, req registrystore.CreateConversationRequest) (*registrystore.ConversationRecord, error) {
	now := time.Now().UTC()
	conv := model.Conversation{
		ID:          uuid.New(),
		OwnerUserID: userID,
		Title:       strings.TrimSpace(req.Title),
		Model:       req.Model,
		Tags:        req.Tags,
		Metadata:    req.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if conv.Title == "" {
		conv.Title = "New Conversation"
	}
	if conv.Tags == nil {
		conv.Tags = []string{}
	}
	if conv.Metadata == nil {
		conv.Metadata = map[string]interface{}{}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if req.ParentConversationID != nil {
			var parent model.Conversation
			err := tx.Where("id = ? AND owner_user_id = ? AND deleted_at IS NULL", req.ParentConversationID, userID).
				Take(&parent).Error
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return &NotFoundError{Resource: "conversation", ID: req.ParentConversationID.String()}
				}
				return err
			}
			conv.ParentConversationID = req.ParentConversationID
			conv.BranchName = req.BranchName
			conv.BranchCreatedAt = &now
			if req.BranchOrder != nil {
				conv.BranchOrder = *req.BranchOrder
			} else {
				// Default to the end of the sibling list.
				var maxOrder *int
				if err := tx.Model(&model.Conversation{}).
					Where("parent_conversation_id = ? AND deleted_at IS NULL", req.ParentConversationID).
					Select("MAX(branch_order)").
					Scan(&maxOrder).Error; err != nil {
					return err
				}
				if maxOrder != nil {
					conv.BranchOrder = *maxOrder + 1
				}
			}
		}
		return tx.Create(&conv).Error
	})
	if err != nil {
		return nil, mapError(err, "create conversation")
	}
	return &registrystore.ConversationRecord{Conversation: conv}, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, userID string, conversationID uuid.UUID) (*registrystore.ConversationRecord, error) {
	var row conversationRow
	err := s.db.WithContext(ctx).Model(&model.Conversation{}).
		Select(messageCountSelect).
		Where("id = ? AND owner_user_id = ? AND deleted_at IS NULL", conversationID, userID).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Resource: "conversation", ID: conversationID.String()}
		}
		return nil, mapError(err, "get conversation")
	}
	return row.record(), nil
}

func (s *PostgresStore) UpdateConversation(ctx context.Context, userID string, conversationID uuid.UUID, update registrystore.ConversationUpdate) (*registrystore.ConversationRecord, error) {
	updates := map[string]interface{}{"updated_at": time.Now().UTC()}
	if update.Title != nil {
		updates["title"] = *update.Title
	}
	if update.Model != nil {
		updates["model"] = *update.Model
	}
	if update.IsShared != nil {
		updates["is_shared"] = *update.IsShared
	}
	if update.BranchName != nil {
		updates["branch_name"] = *update.BranchName
	}
	// Map-based Updates bypass the struct serializer, so jsonb values are
	// marshaled here.
	if update.Tags != nil {
		raw, err := json.Marshal(update.Tags)
		if err != nil {
			return nil, fmt.Errorf("marshal tags: %w", err)
		}
		updates["tags"] = string(raw)
	}
	if update.Metadata != nil {
		raw, err := json.Marshal(update.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata: %w", err)
		}
		updates["metadata"] = string(raw)
	}

	result := s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ? AND owner_user_id = ? AND deleted_at IS NULL", conversationID, userID).
		Updates(updates)
	if result.Error != nil {
		return nil, mapError(result.Error, "update conversation")
	}
	if result.RowsAffected == 0 {
		return nil, &NotFoundError{Resource: "conversation", ID: conversationID.String()}
	}
	return s.GetConversation(ctx, userID, conversationID)
}

func (s *PostgresStore) DeleteConversation(ctx context.Context, userID string, conversationID uuid.UUID) error {
	// Soft delete. Branches of a deleted conversation become dangling and are
	// handled by the hierarchy orphan policy rather than cascaded here.
	result := s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ? AND owner_user_id = ? AND deleted_at IS NULL", conversationID, userID).
		Update("deleted_at", time.Now().UTC())
	if result.Error != nil {
		return mapError(result.Error, "delete conversation")
	}
	if result.RowsAffected == 0 {
		return &NotFoundError{Resource: "conversation", ID: conversationID.String()}
	}
	return nil
}

func (s *PostgresStore) FetchUserConversationsWithBranching(ctx context.Context, userID string, limit int) ([]model.Conversation, error) {
	q := s.db.WithContext(ctx).
		Where("owner_user_id = ? AND deleted_at IS NULL", userID).
		Order("updated_at DESC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var convs []model.Conversation
	if err := q.Find(&convs).Error; err != nil {
		return nil, mapError(err, "fetch conversations")
	}
	return convs, nil
}

func (s *PostgresStore) SearchUserConversations(ctx context.Context, userID string, filters registrystore.SearchFilters) (*registrystore.SearchPage, error) {
	q := s.db.WithContext(ctx).Model(&model.Conversation{}).
		Select(messageCountSelect).
		Where("owner_user_id = ? AND deleted_at IS NULL", userID)
	if query := strings.TrimSpace(filters.Query); query != "" {
		pattern := "%" + escapeLike(query) + "%"
		q = q.Where(
			"(title ILIKE ? OR EXISTS (SELECT 1 FROM messages m WHERE m.conversation_id = conversations.id AND m.content ILIKE ?))",
			pattern, pattern,
		)
	}
	var rows []conversationRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, mapError(err, "search conversations")
	}
	candidates := make([]registrystore.ConversationRecord, len(rows))
	for i := range rows {
		candidates[i] = *rows[i].record()
	}
	return search.Run(candidates, filters), nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return &UnavailableError{Cause: err}
	}
	return nil
}

// --- Helpers ---

// escapeLike escapes LIKE/ILIKE metacharacters so user input matches literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// mapError converts driver-level failures into the typed store errors the
// route layer understands. Anything unrecognized is wrapped with the
// operation name for the logs.
func mapError(err error, op string) error {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return &ConflictError{Message: pgErr.Detail}
		case strings.HasPrefix(pgErr.Code, "08"): // connection exception class
			return &UnavailableError{Cause: err}
		}
	}
	return fmt.Errorf("%s failed: %w", op, err)
}

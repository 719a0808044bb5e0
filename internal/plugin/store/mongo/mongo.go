package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-service/internal/config"
	"github.com/chirino/conversation-service/internal/model"
	registrymigrate "github.com/chirino/conversation-service/internal/registry/migrate"
	registrystore "github.com/chirino/conversation-service/internal/registry/store"
	"github.com/chirino/conversation-service/internal/search"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const dbName = "conversation_service"

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "mongo",
		Loader: func(ctx context.Context) (registrystore.ConversationStore, error) {
			cfg := config.FromContext(ctx)
			opts := options.Client().ApplyURI(cfg.DBURL)
			if cfg.DBMaxOpenConns > 0 {
				opts.SetMaxPoolSize(uint64(cfg.DBMaxOpenConns))
			}
			if cfg.DBMaxIdleConns > 0 {
				opts.SetMinPoolSize(uint64(cfg.DBMaxIdleConns))
			}
			client, err := mongo.Connect(opts)
			if err != nil {
				return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
			}
			if err := client.Ping(ctx, nil); err != nil {
				return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
			}

			return &MongoStore{
				client: client,
				db:     client.Database(dbName),
			}, nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &mongoMigrator{}})
}

type mongoMigrator struct{}

func (m *mongoMigrator) Name() string { return "mongo-schema" }
func (m *mongoMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg != nil && !cfg.DatastoreMigrateAtStart {
		return nil
	}
	if cfg.DatastoreType != "mongo" {
		return nil // skip if not using mongo
	}

	log.Info("Running migration", "name", m.Name())
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.DBURL))
	if err != nil {
		return fmt.Errorf("mongo migration: failed to connect: %w", err)
	}
	defer client.Disconnect(ctx)

	db := client.Database(dbName)

	collections := map[string][]mongo.IndexModel{
		"conversations": {
			{Keys: bson.D{{Key: "owner_user_id", Value: 1}}},
			{Keys: bson.D{{Key: "parent_conversation_id", Value: 1}}},
			{Keys: bson.D{{Key: "owner_user_id", Value: 1}, {Key: "updated_at", Value: -1}}},
			{Keys: bson.D{{Key: "deleted_at", Value: 1}}},
		},
		"messages": {
			{Keys: bson.D{{Key: "conversation_id", Value: 1}}},
		},
	}
	for name, indexes := range collections {
		coll := db.Collection(name)
		if len(indexes) > 0 {
			if _, err := coll.Indexes().CreateMany(ctx, indexes); err != nil {
				return fmt.Errorf("mongo migration: failed to create indexes for %s: %w", name, err)
			}
		}
	}
	log.Info("Mongo schema migration complete")
	return nil
}

// MongoStore implements ConversationStore using the official MongoDB driver.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// --- MongoDB document types ---

type convDoc struct {
	ID                   string         `bson:"_id"`
	OwnerUserID          string         `bson:"owner_user_id"`
	Title                string         `bson:"title"`
	Model                string         `bson:"model,omitempty"`
	IsShared             bool           `bson:"is_shared"`
	ParentConversationID *string        `bson:"parent_conversation_id,omitempty"`
	BranchName           *string        `bson:"branch_name,omitempty"`
	BranchOrder          int            `bson:"branch_order"`
	BranchCreatedAt      *time.Time     `bson:"branch_created_at,omitempty"`
	Tags                 []string       `bson:"tags"`
	Metadata             map[string]any `bson:"metadata"`
	CreatedAt            time.Time      `bson:"created_at"`
	UpdatedAt            time.Time      `bson:"updated_at"`
	DeletedAt            *time.Time     `bson:"deleted_at,omitempty"`
}

func (d *convDoc) toModel() model.Conversation {
	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	meta := d.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	return model.Conversation{
		ID:                   strToUUID(d.ID),
		OwnerUserID:          d.OwnerUserID,
		Title:                d.Title,
		Model:                d.Model,
		IsShared:             d.IsShared,
		ParentConversationID: ptrStrToUUID(d.ParentConversationID),
		BranchName:           d.BranchName,
		BranchOrder:          d.BranchOrder,
		BranchCreatedAt:      d.BranchCreatedAt,
		Tags:                 tags,
		Metadata:             meta,
		CreatedAt:            d.CreatedAt,
		UpdatedAt:            d.UpdatedAt,
		DeletedAt:            d.DeletedAt,
	}
}

// --- Collection accessors ---

func (s *MongoStore) conversations() *mongo.Collection { return s.db.Collection("conversations") }
func (s *MongoStore) messages() *mongo.Collection      { return s.db.Collection("messages") }

func notDeleted(filter bson.M) bson.M {
	filter["deleted_at"] = bson.M{"$exists": false}
	return filter
}

// --- ConversationStore ---

func (s *MongoStore) CreateConversation(ctx context.Context, userID string, req registrystore.CreateConversationRequest) (*registrystore.ConversationRecord, error) {
	now := time.Now().UTC()
	doc := convDoc{
		ID:          uuid.NewString(),
		OwnerUserID: userID,
		Title:       strings.TrimSpace(req.Title),
		Model:       req.Model,
		Tags:        req.Tags,
		Metadata:    req.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if doc.Title == "" {
		doc.Title = "New Conversation"
	}
	if doc.Tags == nil {
		doc.Tags = []string{}
	}
	if doc.Metadata == nil {
		doc.Metadata = map[string]any{}
	}

	if req.ParentConversationID != nil {
		parentID := uuidToStr(*req.ParentConversationID)
		var parent convDoc
		err := s.conversations().FindOne(ctx, notDeleted(bson.M{
			"_id":           parentID,
			"owner_user_id": userID,
		})).Decode(&parent)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return nil, &registrystore.NotFoundError{Resource: "conversation", ID: req.ParentConversationID.String()}
			}
			return nil, mapError(err, "create conversation")
		}
		doc.ParentConversationID = &parentID
		doc.BranchName = req.BranchName
		doc.BranchCreatedAt = &now
		if req.BranchOrder != nil {
			doc.BranchOrder = *req.BranchOrder
		} else {
			order, err := s.nextBranchOrder(ctx, parentID)
			if err != nil {
				return nil, mapError(err, "create conversation")
			}
			doc.BranchOrder = order
		}
	}

	if _, err := s.conversations().InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, &registrystore.ConflictError{Message: "conversation already exists"}
		}
		return nil, mapError(err, "create conversation")
	}
	return &registrystore.ConversationRecord{Conversation: doc.toModel()}, nil
}

// nextBranchOrder places a new branch after its highest-ordered sibling.
func (s *MongoStore) nextBranchOrder(ctx context.Context, parentID string) (int, error) {
	var sibling convDoc
	err := s.conversations().FindOne(ctx,
		notDeleted(bson.M{"parent_conversation_id": parentID}),
		options.FindOne().SetSort(bson.D{{Key: "branch_order", Value: -1}}),
	).Decode(&sibling)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, err
	}
	return sibling.BranchOrder + 1, nil
}

func (s *MongoStore) GetConversation(ctx context.Context, userID string, conversationID uuid.UUID) (*registrystore.ConversationRecord, error) {
	var doc convDoc
	err := s.conversations().FindOne(ctx, notDeleted(bson.M{
		"_id":           uuidToStr(conversationID),
		"owner_user_id": userID,
	})).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, &registrystore.NotFoundError{Resource: "conversation", ID: conversationID.String()}
		}
		return nil, mapError(err, "get conversation")
	}
	count, err := s.messages().CountDocuments(ctx, bson.M{"conversation_id": doc.ID})
	if err != nil {
		return nil, mapError(err, "get conversation")
	}
	return &registrystore.ConversationRecord{Conversation: doc.toModel(), MessageCount: count}, nil
}

func (s *MongoStore) UpdateConversation(ctx context.Context, userID string, conversationID uuid.UUID, update registrystore.ConversationUpdate) (*registrystore.ConversationRecord, error) {
	sets := bson.M{"updated_at": time.Now().UTC()}
	if update.Title != nil {
		sets["title"] = *update.Title
	}
	if update.Model != nil {
		sets["model"] = *update.Model
	}
	if update.IsShared != nil {
		sets["is_shared"] = *update.IsShared
	}
	if update.BranchName != nil {
		sets["branch_name"] = *update.BranchName
	}
	if update.Tags != nil {
		sets["tags"] = update.Tags
	}
	if update.Metadata != nil {
		sets["metadata"] = update.Metadata
	}

	result, err := s.conversations().UpdateOne(ctx, notDeleted(bson.M{
		"_id":           uuidToStr(conversationID),
		"owner_user_id": userID,
	}), bson.M{"$set": sets})
	if err != nil {
		return nil, mapError(err, "update conversation")
	}
	if result.MatchedCount == 0 {
		return nil, &registrystore.NotFoundError{Resource: "conversation", ID: conversationID.String()}
	}
	return s.GetConversation(ctx, userID, conversationID)
}

func (s *MongoStore) DeleteConversation(ctx context.Context, userID string, conversationID uuid.UUID) error {
	// Soft delete; branches of a deleted conversation fall under the
	// hierarchy orphan policy.
	result, err := s.conversations().UpdateOne(ctx, notDeleted(bson.M{
		"_id":           uuidToStr(conversationID),
		"owner_user_id": userID,
	}), bson.M{"$set": bson.M{"deleted_at": time.Now().UTC()}})
	if err != nil {
		return mapError(err, "delete conversation")
	}
	if result.MatchedCount == 0 {
		return &registrystore.NotFoundError{Resource: "conversation", ID: conversationID.String()}
	}
	return nil
}

func (s *MongoStore) FetchUserConversationsWithBranching(ctx context.Context, userID string, limit int) ([]model.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.conversations().Find(ctx, notDeleted(bson.M{"owner_user_id": userID}), opts)
	if err != nil {
		return nil, mapError(err, "fetch conversations")
	}
	defer cursor.Close(ctx)

	var convs []model.Conversation
	for cursor.Next(ctx) {
		var doc convDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, mapError(err, "fetch conversations")
		}
		convs = append(convs, doc.toModel())
	}
	if err := cursor.Err(); err != nil {
		return nil, mapError(err, "fetch conversations")
	}
	return convs, nil
}

func (s *MongoStore) SearchUserConversations(ctx context.Context, userID string, filters registrystore.SearchFilters) (*registrystore.SearchPage, error) {
	filter := notDeleted(bson.M{"owner_user_id": userID})
	if query := strings.TrimSpace(filters.Query); query != "" {
		pattern := bson.M{"$regex": regexp.QuoteMeta(query), "$options": "i"}
		matchedIDs, err := s.conversationIDsWithContent(ctx, pattern)
		if err != nil {
			return nil, mapError(err, "search conversations")
		}
		filter["$or"] = bson.A{
			bson.M{"title": pattern},
			bson.M{"_id": bson.M{"$in": matchedIDs}},
		}
	}

	cursor, err := s.conversations().Find(ctx, filter)
	if err != nil {
		return nil, mapError(err, "search conversations")
	}
	defer cursor.Close(ctx)

	var candidates []registrystore.ConversationRecord
	var ids []string
	for cursor.Next(ctx) {
		var doc convDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, mapError(err, "search conversations")
		}
		candidates = append(candidates, registrystore.ConversationRecord{Conversation: doc.toModel()})
		ids = append(ids, doc.ID)
	}
	if err := cursor.Err(); err != nil {
		return nil, mapError(err, "search conversations")
	}

	counts, err := s.messageCounts(ctx, ids)
	if err != nil {
		return nil, mapError(err, "search conversations")
	}
	for i := range candidates {
		candidates[i].MessageCount = counts[uuidToStr(candidates[i].ID)]
	}
	return search.Run(candidates, filters), nil
}

// conversationIDsWithContent returns the ids of conversations with at least
// one message matching the content pattern.
func (s *MongoStore) conversationIDsWithContent(ctx context.Context, pattern bson.M) ([]string, error) {
	ids := s.messages().Distinct(ctx, "conversation_id", bson.M{"content": pattern})
	var out []string
	if err := ids.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// messageCounts aggregates message counts per conversation in a single query.
func (s *MongoStore) messageCounts(ctx context.Context, conversationIDs []string) (map[string]int64, error) {
	counts := make(map[string]int64, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return counts, nil
	}
	cursor, err := s.messages().Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"conversation_id": bson.M{"$in": conversationIDs}}}},
		{{Key: "$group", Value: bson.M{"_id": "$conversation_id", "count": bson.M{"$sum": 1}}}},
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var row struct {
			ID    string `bson:"_id"`
			Count int64  `bson:"count"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, err
		}
		counts[row.ID] = row.Count
	}
	return counts, cursor.Err()
}

func (s *MongoStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, nil); err != nil {
		return &registrystore.UnavailableError{Cause: err}
	}
	return nil
}

// --- Helpers ---

func uuidToStr(id uuid.UUID) string { return id.String() }

func strToUUID(s string) uuid.UUID {
	id, _ := uuid.Parse(s)
	return id
}

func ptrStrToUUID(s *string) *uuid.UUID {
	if s == nil {
		return nil
	}
	id := strToUUID(*s)
	return &id
}

func mapError(err error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) || mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return &registrystore.UnavailableError{Cause: err}
	}
	return fmt.Errorf("%s failed: %w", op, err)
}

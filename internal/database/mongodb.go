// internal/database/mongodb.go
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gig-chat/internal/models"
	"gig-chat/internal/utils"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoDB struct {
	Client   *mongo.Client
	Users    *mongo.Collection
	Jobs     *mongo.Collection
	Messages *mongo.Collection
	logger   zerolog.Logger
}

func NewMongoDB(ctx context.Context, uri, database string, logger zerolog.Logger) (*MongoDB, error) {
	serverAPI := options.ServerAPI(options.ServerAPIVersion1)
	opts := options.Client().ApplyURI(uri).SetServerAPIOptions(serverAPI)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %v", err)
	}

	// Ping the database to verify connection
	if err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %v", err)
	}

	logger.Info().Str("database", database).Msg("connected to MongoDB")

	db := client.Database(database)
	m := &MongoDB{
		Client:   client,
		Users:    db.Collection("users"),
		Jobs:     db.Collection("jobs"),
		Messages: db.Collection("messages"),
		logger:   logger,
	}
	if err := m.EnsureIndexes(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// EnsureIndexes creates the indexes the thread and unread queries rely on.
func (m *MongoDB) EnsureIndexes(ctx context.Context) error {
	_, err := m.Messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "senderId", Value: 1}, {Key: "receiverId", Value: 1}, {Key: "createdAt", Value: 1}}},
		{Keys: bson.D{{Key: "receiverId", Value: 1}, {Key: "isRead", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create message indexes: %v", err)
	}
	return nil
}

func (m *MongoDB) Close(ctx context.Context) error {
	m.logger.Info().Msg("closing MongoDB connection")
	return m.Client.Disconnect(ctx)
}

func (m *MongoDB) Ping(ctx context.Context) error {
	if err := m.Client.Ping(ctx, nil); err != nil {
		return utils.NewStoreError("ping", err)
	}
	return nil
}

// --- Users ---

// userDocument is the identity subsystem's user record. Its _id is an
// ObjectID in practice; string ids are accepted as well.
type userDocument struct {
	ID    interface{} `bson:"_id"`
	Name  string      `bson:"name"`
	Email string      `bson:"email"`
	Role  string      `bson:"role"`
}

func (d *userDocument) toModel() *models.User {
	return &models.User{ID: idString(d.ID), Name: d.Name, Email: d.Email, Role: d.Role}
}

// GetUser retrieves a user by id
func (m *MongoDB) GetUser(ctx context.Context, id string) (*models.User, error) {
	var doc userDocument
	err := m.Users.FindOne(ctx, bson.M{"_id": bson.M{"$in": idCandidates(id)}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.NewUserNotFoundError(id)
	}
	if err != nil {
		return nil, utils.NewStoreError("get user", err)
	}
	return doc.toModel(), nil
}

// GetUsers resolves many ids in one query. Missing ids are simply absent.
func (m *MongoDB) GetUsers(ctx context.Context, ids []string) (map[string]*models.User, error) {
	ids = uniqueIDs(ids)
	result := make(map[string]*models.User, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	candidates := make([]interface{}, 0, len(ids)*2)
	for _, id := range ids {
		candidates = append(candidates, idCandidates(id)...)
	}

	cursor, err := m.Users.Find(ctx, bson.M{"_id": bson.M{"$in": candidates}})
	if err != nil {
		return nil, utils.NewStoreError("get users", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc userDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, utils.NewStoreError("decode user", err)
		}
		u := doc.toModel()
		result[u.ID] = u
	}
	if err := cursor.Err(); err != nil {
		return nil, utils.NewStoreError("get users", err)
	}
	return result, nil
}

// --- Jobs ---

type jobDocument struct {
	ID       interface{} `bson:"_id"`
	Title    string      `bson:"title"`
	Employer interface{} `bson:"employer"`
}

func (m *MongoDB) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var doc jobDocument
	err := m.Jobs.FindOne(ctx, bson.M{"_id": bson.M{"$in": idCandidates(id)}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.NewJobNotFoundError(id)
	}
	if err != nil {
		return nil, utils.NewStoreError("get job", err)
	}
	return &models.Job{ID: idString(doc.ID), Title: doc.Title, EmployerID: idString(doc.Employer)}, nil
}

// --- Messages ---

// messageDocument represents the MongoDB document structure for direct messages
type messageDocument struct {
	ID         string    `bson:"_id"`
	SenderID   string    `bson:"senderId"`
	ReceiverID string    `bson:"receiverId"`
	Content    string    `bson:"content"`
	ContextID  string    `bson:"contextId,omitempty"`
	CreatedAt  time.Time `bson:"createdAt"`
	IsRead     bool      `bson:"isRead"`
}

func newMessageDocument(msg *models.Message) *messageDocument {
	return &messageDocument{
		ID:         msg.ID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Content:    msg.Content,
		ContextID:  msg.ContextID,
		CreatedAt:  msg.CreatedAt,
		IsRead:     msg.IsRead,
	}
}

func (d *messageDocument) toModel() *models.Message {
	return &models.Message{
		ID:         d.ID,
		SenderID:   d.SenderID,
		ReceiverID: d.ReceiverID,
		Content:    d.Content,
		ContextID:  d.ContextID,
		CreatedAt:  d.CreatedAt.UTC(),
		IsRead:     d.IsRead,
	}
}

// SaveMessage inserts a new direct message
func (m *MongoDB) SaveMessage(ctx context.Context, msg *models.Message) error {
	if _, err := m.Messages.InsertOne(ctx, newMessageDocument(msg)); err != nil {
		return utils.NewStoreError("save message", err)
	}
	return nil
}

// GetConversation returns the thread between two users in thread order
func (m *MongoDB) GetConversation(ctx context.Context, userA, userB string) ([]*models.Message, error) {
	filter := bson.M{
		"$or": []bson.M{
			{"senderId": userA, "receiverId": userB},
			{"senderId": userB, "receiverId": userA},
		},
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})

	cursor, err := m.Messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, utils.NewStoreError("get conversation", err)
	}
	defer cursor.Close(ctx)

	messages := make([]*models.Message, 0)
	for cursor.Next(ctx) {
		var doc messageDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, utils.NewStoreError("decode message", err)
		}
		messages = append(messages, doc.toModel())
	}
	if err := cursor.Err(); err != nil {
		return nil, utils.NewStoreError("get conversation", err)
	}
	return messages, nil
}

// MarkConversationRead flags every unread message from senderID to receiverID
func (m *MongoDB) MarkConversationRead(ctx context.Context, receiverID, senderID string) (int64, error) {
	result, err := m.Messages.UpdateMany(ctx,
		bson.M{"senderId": senderID, "receiverId": receiverID, "isRead": false},
		bson.M{"$set": bson.M{"isRead": true}},
	)
	if err != nil {
		return 0, utils.NewStoreError("mark read", err)
	}
	return result.ModifiedCount, nil
}

func (m *MongoDB) MarkMessagesRead(ctx context.Context, receiverID string, ids []string) (int64, error) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return 0, nil
	}
	result, err := m.Messages.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}, "receiverId": receiverID, "isRead": false},
		bson.M{"$set": bson.M{"isRead": true}},
	)
	if err != nil {
		return 0, utils.NewStoreError("mark read", err)
	}
	return result.ModifiedCount, nil
}

func (m *MongoDB) CountUnread(ctx context.Context, receiverID string) (int64, error) {
	n, err := m.Messages.CountDocuments(ctx, bson.M{"receiverId": receiverID, "isRead": false})
	if err != nil {
		return 0, utils.NewStoreError("count unread", err)
	}
	return n, nil
}

// GetConversationSummaries groups the user's messages by counterpart, keeping
// the newest message and the unread count of each group.
func (m *MongoDB) GetConversationSummaries(ctx context.Context, userID string) ([]*models.ConversationSummary, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"$or": []bson.M{{"senderId": userID}, {"receiverId": userID}}}}},
		{{Key: "$sort", Value: bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}}},
		{{Key: "$group", Value: bson.M{
			"_id": bson.M{"$cond": bson.A{
				bson.M{"$eq": bson.A{"$senderId", userID}}, "$receiverId", "$senderId",
			}},
			"lastMessage": bson.M{"$first": "$$ROOT"},
			"unreadCount": bson.M{"$sum": bson.M{"$cond": bson.A{
				bson.M{"$and": bson.A{
					bson.M{"$eq": bson.A{"$receiverId", userID}},
					bson.M{"$eq": bson.A{"$isRead", false}},
				}}, 1, 0,
			}}},
		}}},
	}

	cursor, err := m.Messages.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, utils.NewStoreError("aggregate conversations", err)
	}
	defer cursor.Close(ctx)

	summaries := make([]*models.ConversationSummary, 0)
	for cursor.Next(ctx) {
		var row struct {
			CounterpartID string          `bson:"_id"`
			LastMessage   messageDocument `bson:"lastMessage"`
			UnreadCount   int             `bson:"unreadCount"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, utils.NewStoreError("decode conversation", err)
		}
		summaries = append(summaries, &models.ConversationSummary{
			CounterpartID: row.CounterpartID,
			LastMessage:   row.LastMessage.toModel(),
			UnreadCount:   row.UnreadCount,
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, utils.NewStoreError("aggregate conversations", err)
	}
	models.SortSummaries(summaries)
	return summaries, nil
}

// idCandidates matches both ObjectID and plain string primary keys.
func idCandidates(id string) []interface{} {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return []interface{}{oid, id}
	}
	return []interface{}{id}
}

func idString(v interface{}) string {
	switch id := v.(type) {
	case primitive.ObjectID:
		return id.Hex()
	case string:
		return id
	case nil:
		return ""
	default:
		return fmt.Sprint(id)
	}
}

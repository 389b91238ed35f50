package database

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Runs against a real server only when MONGODB_TEST_URI is set. Each run
// uses a throwaway database.
func TestMongoDBAdapter(t *testing.T) {
	uri := os.Getenv("MONGODB_TEST_URI")
	if uri == "" {
		t.Skip("MONGODB_TEST_URI not set")
	}
	ctx := context.Background()

	db, err := NewMongoDB(ctx, uri, "gigchat_test_"+uuid.NewString()[:8], zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Users.Database().Drop(ctx)
		db.Close(ctx)
	})

	f := newFixture()
	for _, u := range f.users() {
		_, err := db.Users.InsertOne(ctx, bson.M{"_id": u.ID, "name": u.Name, "email": u.Email, "role": u.Role})
		require.NoError(t, err)
	}
	for _, j := range f.jobs() {
		_, err := db.Jobs.InsertOne(ctx, bson.M{"_id": j.ID, "title": j.Title, "employer": j.EmployerID})
		require.NoError(t, err)
	}

	runAdapterSuite(t, db, f)
}

// Users written by the identity subsystem carry ObjectIDs.
func TestMongoDBObjectIDUsers(t *testing.T) {
	uri := os.Getenv("MONGODB_TEST_URI")
	if uri == "" {
		t.Skip("MONGODB_TEST_URI not set")
	}
	ctx := context.Background()

	db, err := NewMongoDB(ctx, uri, "gigchat_test_"+uuid.NewString()[:8], zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Users.Database().Drop(ctx)
		db.Close(ctx)
	})

	oid := primitive.NewObjectID()
	_, err = db.Users.InsertOne(ctx, bson.M{"_id": oid, "name": "Ada", "email": "ada@example.com", "role": "employer"})
	require.NoError(t, err)

	u, err := db.GetUser(ctx, oid.Hex())
	require.NoError(t, err)
	require.Equal(t, oid.Hex(), u.ID)

	users, err := db.GetUsers(ctx, []string{oid.Hex()})
	require.NoError(t, err)
	require.Contains(t, users, oid.Hex())
}

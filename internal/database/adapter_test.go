package database

import (
	"context"
	"testing"
	"time"

	"gig-chat/internal/models"
	"gig-chat/internal/utils"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixture names the users and job a backend was seeded with before the
// shared suite runs.
type fixture struct {
	u1, u2, u3 string
	job        string
}

func newFixture() fixture {
	suffix := uuid.NewString()[:8]
	return fixture{
		u1:  "u1-" + suffix,
		u2:  "u2-" + suffix,
		u3:  "u3-" + suffix,
		job: "j1-" + suffix,
	}
}

func (f fixture) users() []*models.User {
	return []*models.User{
		{ID: f.u1, Name: "Ada", Email: "ada@example.com", Role: "employer"},
		{ID: f.u2, Name: "Bo", Email: "bo@example.com", Role: "worker"},
		{ID: f.u3, Name: "Cy", Email: "cy@example.com", Role: "worker"},
	}
}

func (f fixture) jobs() []*models.Job {
	return []*models.Job{{ID: f.job, Title: "Barista", EmployerID: f.u1}}
}

func newMessage(from, to, content string, at time.Time) *models.Message {
	return &models.Message{
		ID:         uuid.Must(uuid.NewV7()).String(),
		SenderID:   from,
		ReceiverID: to,
		Content:    content,
		CreatedAt:  at.UTC().Truncate(time.Millisecond),
	}
}

// runAdapterSuite checks the behavior every DBAdapter must share.
func runAdapterSuite(t *testing.T, db DBAdapter, f fixture) {
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	t.Run("users and jobs", func(t *testing.T) {
		u, err := db.GetUser(ctx, f.u1)
		require.NoError(t, err)
		assert.Equal(t, "Ada", u.Name)

		_, err = db.GetUser(ctx, "missing-"+f.u1)
		assert.True(t, utils.IsErrorCode(err, utils.ErrUserNotFound))

		users, err := db.GetUsers(ctx, []string{f.u1, f.u2, f.u2, "missing-" + f.u1})
		require.NoError(t, err)
		assert.Len(t, users, 2)

		job, err := db.GetJob(ctx, f.job)
		require.NoError(t, err)
		assert.Equal(t, f.u1, job.EmployerID)

		_, err = db.GetJob(ctx, "missing-"+f.job)
		assert.True(t, utils.IsErrorCode(err, utils.ErrJobNotFound))
	})

	t.Run("thread order and read state", func(t *testing.T) {
		m1 := newMessage(f.u1, f.u2, "hello", base)
		m1.ContextID = f.job
		m2 := newMessage(f.u2, f.u1, "hi back", base.Add(time.Second))
		m3 := newMessage(f.u1, f.u2, "are you free?", base.Add(2*time.Second))
		other := newMessage(f.u3, f.u1, "unrelated", base.Add(3*time.Second))
		for _, m := range []*models.Message{m3, m1, other, m2} {
			require.NoError(t, db.SaveMessage(ctx, m))
		}

		thread, err := db.GetConversation(ctx, f.u2, f.u1)
		require.NoError(t, err)
		require.Len(t, thread, 3)
		assert.Equal(t, []string{m1.ID, m2.ID, m3.ID}, []string{thread[0].ID, thread[1].ID, thread[2].ID})
		assert.Equal(t, f.job, thread[0].ContextID)
		assert.True(t, thread[0].CreatedAt.Equal(m1.CreatedAt))

		reverse, err := db.GetConversation(ctx, f.u1, f.u2)
		require.NoError(t, err)
		assert.Len(t, reverse, 3)

		unread, err := db.CountUnread(ctx, f.u2)
		require.NoError(t, err)
		assert.Equal(t, int64(2), unread)

		n, err := db.MarkConversationRead(ctx, f.u2, f.u1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		n, err = db.MarkConversationRead(ctx, f.u2, f.u1)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		unread, err = db.CountUnread(ctx, f.u2)
		require.NoError(t, err)
		assert.Equal(t, int64(0), unread)

		// u1 still has the replies from u2 and u3 unread
		unread, err = db.CountUnread(ctx, f.u1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), unread)
	})

	t.Run("conversation summaries", func(t *testing.T) {
		summaries, err := db.GetConversationSummaries(ctx, f.u1)
		require.NoError(t, err)
		require.Len(t, summaries, 2)

		assert.Equal(t, f.u3, summaries[0].CounterpartID)
		assert.Equal(t, "unrelated", summaries[0].LastMessage.Content)
		assert.Equal(t, 1, summaries[0].UnreadCount)

		assert.Equal(t, f.u2, summaries[1].CounterpartID)
		assert.Equal(t, "are you free?", summaries[1].LastMessage.Content)
		assert.Equal(t, 1, summaries[1].UnreadCount)
	})

	t.Run("mark listed messages", func(t *testing.T) {
		seen := newMessage(f.u3, f.u2, "seen", base.Add(10*time.Second))
		late := newMessage(f.u3, f.u2, "arrived later", base.Add(11*time.Second))
		outgoing := newMessage(f.u2, f.u3, "mine", base.Add(12*time.Second))
		for _, m := range []*models.Message{seen, late, outgoing} {
			require.NoError(t, db.SaveMessage(ctx, m))
		}

		// ids not addressed to the reader are ignored
		n, err := db.MarkMessagesRead(ctx, f.u2, []string{seen.ID, seen.ID, outgoing.ID, "missing-" + f.u2})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = db.MarkMessagesRead(ctx, f.u2, []string{seen.ID})
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		unread, err := db.CountUnread(ctx, f.u2)
		require.NoError(t, err)
		assert.Equal(t, int64(1), unread)

		unread, err = db.CountUnread(ctx, f.u3)
		require.NoError(t, err)
		assert.Equal(t, int64(1), unread)
	})
}

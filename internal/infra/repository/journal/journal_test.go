package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cocaine/cocaine-framework-go/internal/domain/dealer"
	"github.com/cocaine/cocaine-framework-go/internal/infra/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) Repo {
	t.Helper()
	repo, err := NewRepoSQLite(database.Config{DBPath: filepath.Join(t.TempDir(), "db", "journal.db")})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestRecordAndFinish(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	entry := dealer.Entry{
		ID:          "req.1",
		Destination: dealer.Destination{Service: "echo", Handle: "ping"},
		Policy:      dealer.Policy{Urgent: true, Deadline: 2 * time.Second, Timeout: 250 * time.Millisecond, MaxRetries: 1},
		Size:        42,
		State:       dealer.StateSent,
	}
	require.NoError(t, repo.Record(ctx, entry))

	got, err := repo.Get(ctx, "req.1")
	require.NoError(t, err)
	assert.Equal(t, "echo", got.Service)
	assert.Equal(t, "ping", got.Handle)
	assert.True(t, got.Urgent)
	assert.Equal(t, int64(2000), got.DeadlineMs)
	assert.Equal(t, int64(250), got.TimeoutMs)
	assert.Equal(t, 42, got.PayloadBytes)
	assert.Equal(t, string(dealer.StateSent), got.State)

	require.NoError(t, repo.Finish(ctx, "req.1", dealer.StateCompleted, ""))
	got, err = repo.Get(ctx, "req.1")
	require.NoError(t, err)
	assert.Equal(t, string(dealer.StateCompleted), got.State)

	assert.Error(t, repo.Finish(ctx, "req.missing", dealer.StateFailed, "boom"))
	_, err = repo.Get(ctx, "req.missing")
	assert.Error(t, err)
}

func TestListAndCount(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Minute)

	for i, svc := range []string{"echo", "storage", "echo"} {
		require.NoError(t, repo.Record(ctx, dealer.Entry{
			ID:          "req." + string(rune('a'+i)),
			Destination: dealer.Destination{Service: svc, Handle: "h"},
			State:       dealer.StateSent,
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, repo.Finish(ctx, "req.a", dealer.StateAbandoned, "released before completion"))

	all, err := repo.List(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "req.c", all[0].ID)

	echo, err := repo.List(ctx, "echo", 10)
	require.NoError(t, err)
	assert.Len(t, echo, 2)

	counts, err := repo.CountByState(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"sent": 2, "abandoned": 1}, counts)
}

package seenset

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aniketms/jobpulse/internal/config"
)

func TestMemoryAddAndContains(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()

	ok, err := m.Contains(ctx, "boards:1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, m.Add(ctx, "boards:1"))
	require.NoError(t, m.Add(ctx, "boards:1"))

	ok, err = m.Contains(ctx, "boards:1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, m.Len())
}

func TestMemoryConcurrentAdds(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = m.Add(context.Background(), fmt.Sprintf("boards:%d", i%5))
		}(i)
	}
	wg.Wait()
	require.Equal(t, 5, m.Len())
}

func TestSQLiteAddIsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "seen.db")
	s, err := NewSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Add(ctx, "boards:1"))
	require.NoError(t, s.Add(ctx, "boards:1"))
	require.NoError(t, s.Add(ctx, "boards:2"))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	ok, err := s.Contains(ctx, "boards:1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Contains(ctx, "boards:99")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "seen.db")
	ctx := context.Background()

	s, err := NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Add(ctx, "boards:persisted"))
	require.NoError(t, s.Close())

	s, err = NewSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	ok, err := s.Contains(ctx, "boards:persisted")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSQLiteRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := NewSQLite("")
	require.Error(t, err)
}

func TestPostgresAddInsertsOnConflictDoNothing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPostgresWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO seen_keys").
		WithArgs("boards:1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Add(context.Background(), "boards:1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresContains(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPostgresWithPool(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("boards:1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := store.Contains(context.Background(), "boards:1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewSelectsProvider(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	logger := zap.NewNop()

	mem, err := New(ctx, config.SeenSetConfig{Provider: "memory"}, logger)
	require.NoError(t, err)
	require.IsType(t, &Memory{}, mem)

	lite, err := New(ctx, config.SeenSetConfig{
		Provider: "sqlite",
		Path:     filepath.Join(t.TempDir(), "seen.db"),
	}, logger)
	require.NoError(t, err)
	require.IsType(t, &SQLite{}, lite)
	require.NoError(t, lite.Close())

	_, err = New(ctx, config.SeenSetConfig{Provider: "dynamo"}, logger)
	require.Error(t, err)
}

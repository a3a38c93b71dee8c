package store

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hydroplante/internal/model"
)

func TestPutLookup_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.OpenGeneration(ctx, "v1"))

	rec := model.NewRecord(
		model.RequestKey{Method: http.MethodGet, URL: "https://plant.example/images/normale.png"},
		http.StatusOK,
		http.Header{"Content-Type": []string{"image/png"}, "Etag": []string{`"abc"`}},
		[]byte{0x89, 'P', 'N', 'G', 0x00, 0x01},
	)
	require.NoError(t, s.Put(ctx, "v1", rec))

	got, ok, err := s.Lookup(ctx, "v1", rec.Key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec.Body, got.Body)
	assert.Equal(t, rec.Digest, got.Digest)
	assert.Equal(t, http.StatusOK, got.Status)
	assert.Equal(t, "image/png", got.Header.Get("Content-Type"))
	assert.Equal(t, `"abc"`, got.Header.Get("Etag"))
}

func TestLookup_Absent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.OpenGeneration(ctx, "v1"))

	_, ok, err := s.Lookup(ctx, "v1", model.RequestKey{Method: "GET", URL: "https://plant.example/"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLookup_ExactMatchOnly(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.OpenGeneration(ctx, "v1"))
	require.NoError(t, s.Put(ctx, "v1", createTestRecord("https://plant.example/app.js", "x")))

	misses := []model.RequestKey{
		{Method: "GET", URL: "https://plant.example/app.js?v=1"},
		{Method: "GET", URL: "https://plant.example/app"},
		{Method: "HEAD", URL: "https://plant.example/app.js"},
	}
	for _, key := range misses {
		_, ok, err := s.Lookup(ctx, "v1", key)
		require.NoError(t, err)
		assert.False(t, ok, "unexpected match for %s", key)
	}
}

func TestLookup_ScopedToGeneration(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.OpenGeneration(ctx, "v1"))
	require.NoError(t, s.OpenGeneration(ctx, "v2"))
	require.NoError(t, s.Put(ctx, "v1", createTestRecord("https://plant.example/", "old")))

	_, ok, err := s.Lookup(ctx, "v2", model.RequestKey{Method: "GET", URL: "https://plant.example/"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPut_Overwrites(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.OpenGeneration(ctx, "v1"))

	require.NoError(t, s.Put(ctx, "v1", createTestRecord("https://plant.example/style.css", "old")))
	require.NoError(t, s.Put(ctx, "v1", createTestRecord("https://plant.example/style.css", "new")))

	got, ok, err := s.Lookup(ctx, "v1", model.RequestKey{Method: "GET", URL: "https://plant.example/style.css"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new", string(got.Body))
	assert.Equal(t, model.BodyDigest([]byte("new")), got.Digest)
}

func TestPut_EmptyBody(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.OpenGeneration(ctx, "v1"))

	require.NoError(t, s.Put(ctx, "v1", createTestRecord("https://plant.example/empty.txt", "")))

	got, ok, err := s.Lookup(ctx, "v1", model.RequestKey{Method: "GET", URL: "https://plant.example/empty.txt"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotNil(t, got.Body)
	assert.Empty(t, got.Body)
}

func TestPut_RejectsNotCacheable(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.OpenGeneration(ctx, "v1"))

	notFound := createTestRecord("https://plant.example/missing.png", "")
	notFound.Status = http.StatusNotFound

	post := createTestRecord("https://plant.example/form", "")
	post.Key.Method = http.MethodPost

	for _, rec := range []model.Record{notFound, post} {
		err := s.Put(ctx, "v1", rec)
		assert.True(t, errors.Is(err, ErrNotCacheable), "got %v", err)
	}
}

func TestPut_UnknownGeneration(t *testing.T) {
	s := createTestStore(t)

	err := s.Put(context.Background(), "ghost", createTestRecord("https://plant.example/", "x"))
	assert.Error(t, err)
}

func TestPut_ConcurrentSameKeyLastWriteWins(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.OpenGeneration(ctx, "v1"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Put(ctx, "v1", createTestRecord("https://plant.example/extra.png", "same")))
		}()
	}
	wg.Wait()

	keys, err := s.Keys(ctx, "v1")
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestKeys_Ordered(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.OpenGeneration(ctx, "v1"))
	require.NoError(t, s.Put(ctx, "v1", createTestRecord("https://plant.example/style.css", "a")))
	require.NoError(t, s.Put(ctx, "v1", createTestRecord("https://plant.example/app.js", "b")))

	keys, err := s.Keys(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, []model.RequestKey{
		{Method: "GET", URL: "https://plant.example/app.js"},
		{Method: "GET", URL: "https://plant.example/style.css"},
	}, keys)
}

package store

import (
	"net/http"
	"path/filepath"
	"testing"

	"github.com/roach88/hydroplante/internal/model"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRecord creates a cacheable GET record for url with body.
func createTestRecord(url, body string) model.Record {
	return model.NewRecord(
		model.RequestKey{Method: http.MethodGet, URL: url},
		http.StatusOK,
		http.Header{"Content-Type": []string{"text/plain"}},
		[]byte(body),
	)
}

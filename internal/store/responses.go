package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/roach88/hydroplante/internal/model"
)

// ErrNotCacheable is returned by Put for records that must never be stored:
// non-GET requests and non-2xx responses.
var ErrNotCacheable = errors.New("response is not cacheable")

// Put stores a record under gen, overwriting any record with the same key.
// The generation must already exist (see OpenGeneration).
func (s *Store) Put(ctx context.Context, gen model.Generation, rec model.Record) error {
	if rec.Key.Method != http.MethodGet || rec.Status < 200 || rec.Status > 299 {
		return fmt.Errorf("put %s: %w", rec.Key, ErrNotCacheable)
	}

	header := rec.Header
	if header == nil {
		header = http.Header{}
	}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("put %s: marshal header: %w", rec.Key, err)
	}

	body := rec.Body
	if body == nil {
		body = []byte{}
	}
	digest := rec.Digest
	if digest == "" {
		digest = model.BodyDigest(body)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO responses
		(generation, method, url, status, header, body, digest)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(generation, method, url) DO UPDATE SET
			status = excluded.status,
			header = excluded.header,
			body   = excluded.body,
			digest = excluded.digest
	`,
		string(gen),
		rec.Key.Method,
		rec.Key.URL,
		rec.Status,
		string(headerJSON),
		body,
		digest,
	)
	if err != nil {
		return fmt.Errorf("put %s: %w", rec.Key, err)
	}
	return nil
}

// Lookup returns the record stored under key in gen.
// Matching is exact on method and URL. The boolean is false when absent.
func (s *Store) Lookup(ctx context.Context, gen model.Generation, key model.RequestKey) (model.Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT status, header, body, digest
		FROM responses
		WHERE generation = ? AND method = ? AND url = ?
	`, string(gen), key.Method, key.URL)

	rec := model.Record{Key: key}
	var headerJSON string
	err := row.Scan(&rec.Status, &headerJSON, &rec.Body, &rec.Digest)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Record{}, false, nil
	}
	if err != nil {
		return model.Record{}, false, fmt.Errorf("lookup %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(headerJSON), &rec.Header); err != nil {
		return model.Record{}, false, fmt.Errorf("lookup %s: unmarshal header: %w", key, err)
	}
	if rec.Body == nil {
		rec.Body = []byte{}
	}
	return rec, true, nil
}

// Keys lists the request keys stored in gen, ordered by URL then method.
func (s *Store) Keys(ctx context.Context, gen model.Generation) ([]model.RequestKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT method, url FROM responses
		WHERE generation = ?
		ORDER BY url COLLATE BINARY ASC, method ASC
	`, string(gen))
	if err != nil {
		return nil, fmt.Errorf("query keys: %w", err)
	}
	defer rows.Close()

	keys := []model.RequestKey{}
	for rows.Next() {
		var k model.RequestKey
		if err := rows.Scan(&k.Method, &k.URL); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}

package store

import (
	"context"
	"fmt"

	"github.com/roach88/hydroplante/internal/model"
)

// GenerationInfo describes a stored generation.
type GenerationInfo struct {
	Name    model.Generation `json:"name"`
	Entries int              `json:"entries"`
}

// OpenGeneration creates the generation if it does not exist.
// Calling it again for an existing generation is a no-op.
func (s *Store) OpenGeneration(ctx context.Context, gen model.Generation) error {
	if gen == "" {
		return fmt.Errorf("open generation: empty name")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO generations (name) VALUES (?)
		ON CONFLICT(name) DO NOTHING
	`, string(gen))
	if err != nil {
		return fmt.Errorf("open generation %s: %w", gen, err)
	}
	return nil
}

// HasGeneration reports whether the generation exists.
func (s *Store) HasGeneration(ctx context.Context, gen model.Generation) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM generations WHERE name = ?
	`, string(gen)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("has generation %s: %w", gen, err)
	}
	return count > 0, nil
}

// Generations returns every stored generation in creation order.
// Returns an empty slice (not nil) when there are none.
func (s *Store) Generations(ctx context.Context) ([]GenerationInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.name, COUNT(r.url)
		FROM generations g
		LEFT JOIN responses r ON r.generation = g.name
		GROUP BY g.id, g.name
		ORDER BY g.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query generations: %w", err)
	}
	defer rows.Close()

	gens := []GenerationInfo{}
	for rows.Next() {
		var info GenerationInfo
		var name string
		if err := rows.Scan(&name, &info.Entries); err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		info.Name = model.Generation(name)
		gens = append(gens, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate generations: %w", err)
	}
	return gens, nil
}

// DeleteGeneration removes a generation and every response it owns.
// Deleting a generation that does not exist is a no-op.
func (s *Store) DeleteGeneration(ctx context.Context, gen model.Generation) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM generations WHERE name = ?`, string(gen))
	if err != nil {
		return fmt.Errorf("delete generation %s: %w", gen, err)
	}
	return nil
}

// PruneObsolete deletes every generation other than current, in a single
// transaction, and returns the deleted names in creation order.
// After it returns without error, only current (if it exists) remains.
func (s *Store) PruneObsolete(ctx context.Context, current model.Generation) ([]model.Generation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("prune: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	rows, err := tx.QueryContext(ctx, `
		SELECT name FROM generations WHERE name != ? ORDER BY id ASC
	`, string(current))
	if err != nil {
		return nil, fmt.Errorf("prune: list: %w", err)
	}
	var obsolete []model.Generation
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("prune: scan: %w", err)
		}
		obsolete = append(obsolete, model.Generation(name))
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("prune: iterate: %w", err)
	}
	rows.Close()

	for _, gen := range obsolete {
		if _, err := tx.ExecContext(ctx, `DELETE FROM generations WHERE name = ?`, string(gen)); err != nil {
			return nil, fmt.Errorf("prune: delete %s: %w", gen, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("prune: commit: %w", err)
	}
	return obsolete, nil
}

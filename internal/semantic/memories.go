package semantic

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/vesper/internal/errkind"
	"github.com/ashita-ai/vesper/internal/model"
)

// ContentHash derives the idempotency key for store_memory: a memory with
// the same namespace and content hash already exists, so a re-store
// returns the existing record instead of duplicating it.
func ContentHash(namespace, content string) string {
	sum := sha256.Sum256([]byte(namespace + "\x00" + content))
	return hex.EncodeToString(sum[:])
}

// InsertMemory writes a new memory record, or returns the existing one
// (inserted=false) if its content hash already exists in this namespace.
func (s *Store) InsertMemory(ctx context.Context, m model.Memory) (model.Memory, bool, error) {
	if m.Content == "" {
		return model.Memory{}, false, errkind.New(errkind.InvalidInput, false, "semantic: memory content must not be empty")
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.ContentHash == "" {
		m.ContentHash = ContentHash(m.Namespace, m.Content)
	}
	metadata, err := json.Marshal(m.Metadata)
	if err != nil {
		return model.Memory{}, false, errkind.Wrap(errkind.Internal, false, "semantic: marshal memory metadata", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (id, namespace, content, memory_type, metadata, agent_id, task_id, content_hash, has_embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID.String(), m.Namespace, m.Content, m.MemoryType, string(metadata), m.AgentID, m.TaskID,
		m.ContentHash, boolToInt(m.HasEmbedding), formatTime(m.CreatedAt),
	)
	if isUniqueViolation(err) {
		existing, getErr := s.getMemoryByHash(ctx, m.Namespace, m.ContentHash)
		if getErr != nil {
			return model.Memory{}, false, getErr
		}
		return existing, false, nil
	}
	if err != nil {
		return model.Memory{}, false, errkind.Wrap(errkind.Internal, false, "semantic: insert memory", err)
	}
	return m, true, nil
}

func (s *Store) getMemoryByHash(ctx context.Context, namespace, hash string) (model.Memory, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, namespace, content, memory_type, metadata, agent_id, task_id, content_hash, has_embedding, created_at
		FROM memories WHERE namespace = ? AND content_hash = ?`, namespace, hash)
	return scanMemory(row)
}

// GetMemory fetches a memory by id.
func (s *Store) GetMemory(ctx context.Context, id uuid.UUID) (model.Memory, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, namespace, content, memory_type, metadata, agent_id, task_id, content_hash, has_embedding, created_at
		FROM memories WHERE id = ?`, id.String())
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Memory{}, errkind.New(errkind.NotFound, false, "semantic: memory not found")
	}
	if err != nil {
		return model.Memory{}, errkind.Wrap(errkind.Internal, false, "semantic: get memory", err)
	}
	return m, nil
}

// ListRecentMemories returns up to limit memories in namespace, newest first.
func (s *Store) ListRecentMemories(ctx context.Context, namespace string, limit int) ([]model.Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, namespace, content, memory_type, metadata, agent_id, task_id, content_hash, has_embedding, created_at
		FROM memories WHERE namespace = ? ORDER BY created_at DESC LIMIT ?`, namespace, limit)
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, false, "semantic: list recent memories", err)
	}
	defer rows.Close()

	var out []model.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, errkind.Wrap(errkind.Internal, false, "semantic: scan memory", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountMemories reports the total memory row count for a namespace.
func (s *Store) CountMemories(ctx context.Context, namespace string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE namespace = ?`, namespace).Scan(&n); err != nil {
		return 0, errkind.Wrap(errkind.Internal, false, "semantic: count memories", err)
	}
	return n, nil
}

// DeleteMemory removes a memory by id. Reports NotFound if absent so
// delete_memory can distinguish "nothing to delete" at the façade layer.
func (s *Store) DeleteMemory(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id.String())
	if err != nil {
		return errkind.Wrap(errkind.Internal, false, "semantic: delete memory", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errkind.New(errkind.NotFound, false, "semantic: memory not found")
	}
	return nil
}

// ListNamespaces returns every distinct namespace with at least one memory.
func (s *Store) ListNamespaces(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT namespace FROM memories ORDER BY namespace`)
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, false, "semantic: list namespaces", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var ns string
		if err := rows.Scan(&ns); err != nil {
			return nil, errkind.Wrap(errkind.Internal, false, "semantic: scan namespace", err)
		}
		out = append(out, ns)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func scanMemory(row rowScanner) (model.Memory, error) {
	var (
		m                   model.Memory
		id                  string
		metadataJSON        string
		hasEmbedding        int
		createdAt           string
	)
	if err := row.Scan(&id, &m.Namespace, &m.Content, &m.MemoryType, &metadataJSON, &m.AgentID, &m.TaskID, &m.ContentHash, &hasEmbedding, &createdAt); err != nil {
		return model.Memory{}, err
	}
	var err error
	if m.ID, err = uuid.Parse(id); err != nil {
		return model.Memory{}, err
	}
	if err := json.Unmarshal([]byte(metadataJSON), &m.Metadata); err != nil {
		return model.Memory{}, err
	}
	m.HasEmbedding = hasEmbedding != 0
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.Memory{}, err
	}
	return m, nil
}

package db

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/snowclass/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

type branchRow struct {
	Path     string             `json:"path"`
	Head     time.Time          `json:"head"`
	Metadata map[string]any     `json:"metadata,omitempty"`
	Lock     *models.BranchLock `json:"lock,omitempty"`
}

// ancestors returns the path and its parents, root first: MAIN, MAIN/A, MAIN/A/B.
func ancestors(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for i := range parts {
		out = append(out, strings.Join(parts[:i+1], "/"))
	}
	return out
}

// CreateBranch creates or resets a branch with the given head and metadata.
func (c *Client) CreateBranch(ctx context.Context, path string, head time.Time, metadata map[string]string) error {
	meta := make(map[string]any, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPSERT type::record("branch", $path) CONTENT {
			path: $path,
			head: $head,
			metadata: $metadata
		}
	`, map[string]any{"path": path, "head": head, "metadata": meta})
	if err != nil {
		return fmt.Errorf("create branch: %w", wrapQueryError(err))
	}
	return nil
}

func (c *Client) getBranch(ctx context.Context, path string) (*branchRow, error) {
	results, err := surrealdb.Query[[]branchRow](ctx, c.db, `
		SELECT * FROM type::record("branch", $path)
	`, map[string]any{"path": path})
	if err != nil {
		return nil, fmt.Errorf("get branch: %w", err)
	}
	rows := firstResult(results)
	if len(rows) == 0 {
		return nil, fmt.Errorf("branch %s: %w", path, ErrNotFound)
	}
	return &rows[0], nil
}

// BranchHead returns the timestamp of the latest commit on a branch.
func (c *Client) BranchHead(ctx context.Context, path string) (time.Time, error) {
	b, err := c.getBranch(ctx, path)
	if err != nil {
		return time.Time{}, err
	}
	return b.Head, nil
}

// BranchMetadata returns the metadata of a branch merged over that of its ancestors.
// Keys set closer to the branch win.
func (c *Client) BranchMetadata(ctx context.Context, path string) (map[string]string, error) {
	results, err := surrealdb.Query[[]branchRow](ctx, c.db, `
		SELECT path, head, metadata FROM branch WHERE path IN $paths
	`, map[string]any{"paths": ancestors(path)})
	if err != nil {
		return nil, fmt.Errorf("branch metadata: %w", err)
	}

	byPath := make(map[string]branchRow)
	for _, row := range firstResult(results) {
		byPath[row.Path] = row
	}
	if _, ok := byPath[path]; !ok {
		return nil, fmt.Errorf("branch %s: %w", path, ErrNotFound)
	}

	merged := make(map[string]string)
	for _, p := range ancestors(path) {
		for k, v := range byPath[p].Metadata {
			if s, ok := v.(string); ok {
				merged[k] = s
			}
		}
	}
	return merged, nil
}

// OpenTransaction takes the branch lock and returns a transaction staging concept writes.
// Returns ErrBranchLocked if another commit holds the lock.
func (c *Client) OpenTransaction(ctx context.Context, path, reason string, identity models.Identity) (*Transaction, error) {
	lock := models.BranchLock{
		Reason:   reason,
		Username: identity.Username,
		CommitID: uuid.New().String(),
		Since:    time.Now().UTC(),
	}

	results, err := surrealdb.Query[[]branchRow](ctx, c.db, `
		UPDATE type::record("branch", $path) SET lock = $lock WHERE lock = NONE OR lock = NULL
	`, map[string]any{
		"path": path,
		"lock": map[string]any{
			"reason":    lock.Reason,
			"username":  lock.Username,
			"commit_id": lock.CommitID,
			"since":     lock.Since,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("lock branch: %w", wrapQueryError(err))
	}
	if len(firstResult(results)) == 0 {
		b, err := c.getBranch(ctx, path)
		if err != nil {
			return nil, err
		}
		if b.Lock != nil {
			return nil, fmt.Errorf("%w: %s is locked by %s (%s)", ErrBranchLocked, path, b.Lock.Username, b.Lock.Reason)
		}
		return nil, fmt.Errorf("%w: %s", ErrBranchLocked, path)
	}

	c.logger.Info("opened commit", "path", path, "commit_id", lock.CommitID, "reason", reason)
	return &Transaction{client: c, path: path, lock: lock}, nil
}

// Transaction is an open commit on one branch. Writes are staged until Commit.
type Transaction struct {
	client *Client
	path   string
	lock   models.BranchLock

	mu     sync.Mutex
	closed bool
}

// CommitID identifies the transaction.
func (t *Transaction) CommitID() string {
	return t.lock.CommitID
}

func (t *Transaction) checkOpen() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransactionClosed
	}
	return nil
}

// LoadConcepts loads concepts by id, seeing writes staged by this transaction.
func (t *Transaction) LoadConcepts(ctx context.Context, ids []string) ([]models.Concept, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}

	results, err := surrealdb.Query[[]models.Concept](ctx, t.client.db, `
		SELECT VALUE doc FROM concept_staging WHERE commit_id = $commit AND concept_id IN $ids;
		SELECT * FROM concept WHERE path = $path AND concept_id IN $ids;
	`, map[string]any{"commit": t.lock.CommitID, "path": t.path, "ids": ids})
	if err != nil {
		return nil, fmt.Errorf("load concepts: %w", err)
	}
	if results == nil || len(*results) < 2 {
		return []models.Concept{}, nil
	}

	staged := (*results)[0].Result
	seen := make(map[string]bool, len(staged))
	out := make([]models.Concept, 0, len(ids))
	for _, c := range staged {
		seen[c.ConceptID] = true
		out = append(out, c)
	}
	for _, c := range (*results)[1].Result {
		if !seen[c.ConceptID] {
			out = append(out, c)
		}
	}
	return out, nil
}

// UpdateConcepts stages concept writes. Relationships without an id get a new one.
func (t *Transaction) UpdateConcepts(ctx context.Context, concepts []models.Concept) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	if len(concepts) == 0 {
		return nil
	}

	rows := make([]map[string]any, len(concepts))
	for i := range concepts {
		c := withRelationshipIDs(concepts[i], uuid.NewString)
		c.Path = t.path
		rows[i] = map[string]any{
			"key":         t.lock.CommitID + "|" + c.ConceptID,
			"commit_id":   t.lock.CommitID,
			"concept_id":  c.ConceptID,
			"concept_key": conceptKey(t.path, c.ConceptID),
			"doc":         conceptDoc(&c),
		}
	}

	_, err := surrealdb.Query[any](ctx, t.client.db, `
		FOR $row IN $rows {
			UPSERT type::record("concept_staging", $row.key) CONTENT {
				commit_id: $row.commit_id,
				concept_id: $row.concept_id,
				concept_key: $row.concept_key,
				doc: $row.doc
			};
		};
	`, map[string]any{"rows": rows})
	if err != nil {
		return fmt.Errorf("stage concepts: %w", wrapQueryError(err))
	}
	return nil
}

// withRelationshipIDs returns c with an id assigned to every relationship that has none.
// The relationships of the argument are not modified.
func withRelationshipIDs(c models.Concept, newID func() string) models.Concept {
	if !slices.ContainsFunc(c.Relationships, func(r models.Relationship) bool { return r.RelationshipID == "" }) {
		return c
	}
	rels := slices.Clone(c.Relationships)
	for i := range rels {
		if rels[i].RelationshipID == "" {
			rels[i].RelationshipID = newID()
		}
	}
	c.Relationships = rels
	return c
}

// Commit publishes the staged writes, advances the branch head and releases the lock,
// all in one database transaction. Returns the new head.
func (t *Transaction) Commit(ctx context.Context) (time.Time, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return time.Time{}, ErrTransactionClosed
	}

	head := time.Now().UTC()
	_, err := surrealdb.Query[any](ctx, t.client.db, `
		BEGIN TRANSACTION;
		FOR $s IN (SELECT concept_key, doc FROM concept_staging WHERE commit_id = $commit) {
			UPSERT type::record("concept", $s.concept_key) CONTENT $s.doc;
		};
		DELETE concept_staging WHERE commit_id = $commit;
		UPDATE type::record("branch", $path) SET head = $head, lock = NONE;
		COMMIT TRANSACTION;
	`, map[string]any{"commit": t.lock.CommitID, "path": t.path, "head": head})
	if err != nil {
		return time.Time{}, fmt.Errorf("commit: %w", wrapQueryError(err))
	}

	t.closed = true
	t.client.logger.Info("committed", "path", t.path, "commit_id", t.lock.CommitID)
	return head, nil
}

// Abort discards staged writes and releases the lock. Aborting a closed transaction is a no-op.
func (t *Transaction) Abort(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}

	_, err := surrealdb.Query[any](ctx, t.client.db, `
		BEGIN TRANSACTION;
		DELETE concept_staging WHERE commit_id = $commit;
		UPDATE type::record("branch", $path) SET lock = NONE WHERE lock.commit_id = $commit;
		COMMIT TRANSACTION;
	`, map[string]any{"commit": t.lock.CommitID, "path": t.path})
	if err != nil {
		return fmt.Errorf("abort: %w", wrapQueryError(err))
	}

	t.closed = true
	t.client.logger.Warn("aborted commit", "path", t.path, "commit_id", t.lock.CommitID)
	return nil
}

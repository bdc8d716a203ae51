package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pagevault/ingestd/internal/pipeline"
)

// tagStore implements pipeline.TagStore on the unified database.
type tagStore struct {
	db    *sql.DB
	clock pipeline.Clock
}

func newTagStore(db *sql.DB, clock pipeline.Clock) *tagStore {
	return &tagStore{db: db, clock: clock}
}

const tagColumns = "id, name, parent_id, description, color, created_at"

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *tagStore) CreateTag(ctx context.Context, input pipeline.TagInput) (*pipeline.Tag, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("tag name is required")
	}
	if input.ParentID != nil {
		parent, err := getTagByID(ctx, s.db, *input.ParentID)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return nil, fmt.Errorf("create tag %q: %w", input.Name, pipeline.ErrParentTagNotFound)
		}
	}
	now := s.clock.Now()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO tags (name, parent_id, description, color, created_at) VALUES (?, ?, ?, ?, ?)",
		input.Name, input.ParentID, nullable(input.Description), nullable(input.Color), formatTime(now),
	)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("create tag %q: %w", input.Name, pipeline.ErrDuplicateTagName)
	}
	if err != nil {
		return nil, fmt.Errorf("insert tag: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("tag insert id: %w", err)
	}
	return &pipeline.Tag{
		ID:          id,
		Name:        input.Name,
		ParentID:    input.ParentID,
		Description: input.Description,
		Color:       input.Color,
		CreatedAt:   now.UTC(),
	}, nil
}

func (s *tagStore) GetTagByName(ctx context.Context, name string) (*pipeline.Tag, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+tagColumns+" FROM tags WHERE name = ?", name)
	tag, err := scanTag(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return tag, err
}

// GetChildTags returns direct children, or the full subtree when
// recursive is set. Traversal tracks visited ids so it terminates even
// on corrupt parent chains.
func (s *tagStore) GetChildTags(ctx context.Context, tagID int64, recursive bool) ([]pipeline.Tag, error) {
	direct, err := s.childrenOf(ctx, tagID)
	if err != nil {
		return nil, err
	}
	if !recursive {
		return direct, nil
	}

	visited := map[int64]struct{}{tagID: {}}
	var all []pipeline.Tag
	frontier := direct
	for len(frontier) > 0 {
		next := make([]pipeline.Tag, 0)
		for _, tag := range frontier {
			if _, seen := visited[tag.ID]; seen {
				continue
			}
			visited[tag.ID] = struct{}{}
			all = append(all, tag)
			children, cerr := s.childrenOf(ctx, tag.ID)
			if cerr != nil {
				return nil, cerr
			}
			next = append(next, children...)
		}
		frontier = next
	}
	return all, nil
}

// GetTagPath returns the root-to-node ancestor chain.
func (s *tagStore) GetTagPath(ctx context.Context, tagID int64) ([]pipeline.Tag, error) {
	var chain []pipeline.Tag
	visited := make(map[int64]struct{})
	current := &tagID
	for current != nil {
		if _, seen := visited[*current]; seen {
			break
		}
		visited[*current] = struct{}{}
		tag, err := getTagByID(ctx, s.db, *current)
		if err != nil {
			return nil, err
		}
		if tag == nil {
			if len(chain) == 0 {
				return nil, fmt.Errorf("tag %d: %w", tagID, pipeline.ErrTagNotFound)
			}
			break
		}
		chain = append(chain, *tag)
		current = tag.ParentID
	}
	// Walked leaf-to-root; callers want root first.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// DeleteTag removes a tag. With deleteChildren it takes the whole
// subtree and every url_tags row referencing it, in one transaction;
// without, it fails on tags that still have children.
func (s *tagStore) DeleteTag(ctx context.Context, tagID int64, deleteChildren bool) (bool, error) {
	tag, err := getTagByID(ctx, s.db, tagID)
	if err != nil {
		return false, err
	}
	if tag == nil {
		return false, nil
	}

	children, err := s.GetChildTags(ctx, tagID, true)
	if err != nil {
		return false, err
	}
	if len(children) > 0 && !deleteChildren {
		return false, fmt.Errorf("delete tag %q: %w", tag.Name, pipeline.ErrTagHasChildren)
	}

	ids := make([]int64, 0, len(children)+1)
	ids = append(ids, tagID)
	for _, child := range children {
		ids = append(ids, child.ID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete transaction: %w", err)
	}
	// ids is in breadth-first order (parent before descendants).
	// Children reference their parent through parent_id, so with
	// foreign keys on the rows must go leaf-up.
	for i := len(ids) - 1; i >= 0; i-- {
		if _, derr := tx.ExecContext(ctx, "DELETE FROM url_tags WHERE tag_id = ?", ids[i]); derr != nil {
			return false, rollback(tx, fmt.Errorf("delete tag associations: %w", derr))
		}
		if _, derr := tx.ExecContext(ctx, "DELETE FROM tags WHERE id = ?", ids[i]); derr != nil {
			return false, rollback(tx, fmt.Errorf("delete tag: %w", derr))
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete transaction: %w", err)
	}
	return true, nil
}

func (s *tagStore) ListTags(ctx context.Context) ([]pipeline.Tag, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+tagColumns+" FROM tags ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	return collectTags(rows)
}

// AttachTags associates the named tags with a URL, creating unknown
// names when autoCreate is set. Returns the names actually applied.
func (s *tagStore) AttachTags(ctx context.Context, urlID string, names []string, autoCreate bool) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin attach transaction: %w", err)
	}
	now := s.clock.Now()
	applied := make([]string, 0, len(names))
	for _, name := range names {
		tagID, terr := ensureTag(ctx, tx, name, autoCreate, now)
		if terr != nil {
			return nil, rollback(tx, terr)
		}
		if _, aerr := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO url_tags (url_id, tag_id) VALUES (?, ?)", urlID, tagID,
		); aerr != nil {
			return nil, rollback(tx, fmt.Errorf("associate tag %q: %w", name, aerr))
		}
		applied = append(applied, name)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit attach transaction: %w", err)
	}
	return applied, nil
}

func (s *tagStore) TagsForURL(ctx context.Context, urlID string) ([]pipeline.Tag, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT t.id, t.name, t.parent_id, t.description, t.color, t.created_at "+
			"FROM tags t JOIN url_tags ut ON ut.tag_id = t.id WHERE ut.url_id = ? ORDER BY t.name",
		urlID,
	)
	if err != nil {
		return nil, fmt.Errorf("tags for url: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	return collectTags(rows)
}

func (s *tagStore) childrenOf(ctx context.Context, tagID int64) ([]pipeline.Tag, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+tagColumns+" FROM tags WHERE parent_id = ? ORDER BY name", tagID)
	if err != nil {
		return nil, fmt.Errorf("child tags: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	return collectTags(rows)
}

// ensureTag resolves a tag name to its id, creating it when allowed.
func ensureTag(ctx context.Context, q queryer, name string, autoCreate bool, now time.Time) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, "SELECT id FROM tags WHERE name = ?", name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("lookup tag %q: %w", name, err)
	}
	if !autoCreate {
		return 0, fmt.Errorf("tag %q: %w", name, pipeline.ErrTagNotFound)
	}
	res, err := q.ExecContext(ctx,
		"INSERT INTO tags (name, created_at) VALUES (?, ?)", name, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("create tag %q: %w", name, err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("tag insert id: %w", err)
	}
	return id, nil
}

func getTagByID(ctx context.Context, q queryer, id int64) (*pipeline.Tag, error) {
	row := q.QueryRowContext(ctx, "SELECT "+tagColumns+" FROM tags WHERE id = ?", id)
	tag, err := scanTag(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return tag, err
}

func scanTag(row rowScanner) (*pipeline.Tag, error) {
	var (
		tag         pipeline.Tag
		parentID    sql.NullInt64
		description sql.NullString
		color       sql.NullString
		createdAt   string
	)
	err := row.Scan(&tag.ID, &tag.Name, &parentID, &description, &color, &createdAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan tag row: %w", err)
	}
	if parentID.Valid {
		tag.ParentID = &parentID.Int64
	}
	tag.Description = description.String
	tag.Color = color.String
	tag.CreatedAt = parseTime(createdAt)
	return &tag, nil
}

func collectTags(rows *sql.Rows) ([]pipeline.Tag, error) {
	var tags []pipeline.Tag
	for rows.Next() {
		tag, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		tags = append(tags, *tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return tags, nil
}

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"opsboard/api/internal/flow"
	"opsboard/api/internal/util"
)

// PostgresStore is the persistence collaborator behind the flow engine. It
// implements flow.Store plus the process-level CRUD the HTTP layer needs.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ProcessSummary is the list-view row; the full view comes from FetchProcess.
type ProcessSummary struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	ActivityCount   int       `json:"activityCount"`
	UseExplicitFlow bool      `json:"useExplicitFlow"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func (s *PostgresStore) CreateProcess(ctx context.Context, name, description string) (*flow.Process, error) {
	p := &flow.Process{
		ID:          util.NewID("proc"),
		Name:        name,
		Description: description,
		Activities:  []flow.Activity{},
		Edges:       []flow.Edge{},
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO processes (id, name, description)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at
	`, p.ID, p.Name, p.Description).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert process: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListProcesses(ctx context.Context) ([]ProcessSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.description, p.use_explicit_flow, p.updated_at,
			(SELECT COUNT(*) FROM activities a WHERE a.process_id = p.id)
		FROM processes p
		ORDER BY p.updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	defer rows.Close()

	summaries := []ProcessSummary{}
	for rows.Next() {
		var ps ProcessSummary
		if err := rows.Scan(&ps.ID, &ps.Name, &ps.Description, &ps.UseExplicitFlow, &ps.UpdatedAt, &ps.ActivityCount); err != nil {
			return nil, fmt.Errorf("scan process summary: %w", err)
		}
		summaries = append(summaries, ps)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list processes rows: %w", err)
	}
	return summaries, nil
}

// DeleteProcess removes a process; activities and edges go with it via
// cascade.
func (s *PostgresStore) DeleteProcess(ctx context.Context, processID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM processes WHERE id = $1`, processID)
	if err != nil {
		return fmt.Errorf("delete process: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return flow.ErrProcessNotFound
	}
	return nil
}

// FetchProcess is the reconciliation read: the full process with activities
// (ordered) and edges.
func (s *PostgresStore) FetchProcess(ctx context.Context, processID string) (*flow.Process, error) {
	p := &flow.Process{Activities: []flow.Activity{}, Edges: []flow.Edge{}}
	var entry, exit sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, use_explicit_flow, entry_activity_id, exit_activity_id, created_at, updated_at
		FROM processes WHERE id = $1
	`, processID).Scan(&p.ID, &p.Name, &p.Description, &p.UseExplicitFlow, &entry, &exit, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, flow.ErrProcessNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch process: %w", err)
	}
	if entry.Valid {
		p.EntryActivityID = &entry.String
	}
	if exit.Valid {
		p.ExitActivityID = &exit.String
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ord, name, activity_type, linked_process_id, position_x, position_y, metadata
		FROM activities WHERE process_id = $1 ORDER BY ord
	`, processID)
	if err != nil {
		return nil, fmt.Errorf("fetch activities: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		a := flow.Activity{ProcessID: processID}
		var linked sql.NullString
		var meta []byte
		if err := rows.Scan(&a.ID, &a.Order, &a.Name, &a.Type, &linked, &a.PositionX, &a.PositionY, &meta); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		if linked.Valid {
			a.LinkedProcessID = &linked.String
		}
		a.Metadata = json.RawMessage(meta)
		p.Activities = append(p.Activities, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch activities rows: %w", err)
	}

	edgeRows, err := s.db.QueryContext(ctx, `
		SELECT id, source_activity_id, target_activity_id, source_handle, edge_type, animated
		FROM edges WHERE process_id = $1 ORDER BY created_at
	`, processID)
	if err != nil {
		return nil, fmt.Errorf("fetch edges: %w", err)
	}
	defer edgeRows.Close()
	for edgeRows.Next() {
		e := flow.Edge{ProcessID: processID}
		if err := edgeRows.Scan(&e.ID, &e.SourceActivityID, &e.TargetActivityID, &e.SourceHandle, &e.EdgeType, &e.Animated); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		p.Edges = append(p.Edges, e)
	}
	if err := edgeRows.Err(); err != nil {
		return nil, fmt.Errorf("fetch edges rows: %w", err)
	}

	return p, nil
}

func (s *PostgresStore) CreateActivity(ctx context.Context, processID string, draft flow.ActivityDraft) (*flow.Activity, error) {
	a := &flow.Activity{
		ID:              util.NewID("act"),
		ProcessID:       processID,
		Order:           draft.Order,
		Name:            draft.Name,
		Type:            draft.Type,
		PositionX:       draft.PositionX,
		PositionY:       draft.PositionY,
		LinkedProcessID: draft.LinkedProcessID,
		Metadata:        draft.Metadata,
	}
	meta := draft.Metadata
	if len(meta) == 0 {
		meta = json.RawMessage(`{}`)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activities (id, process_id, ord, name, activity_type, linked_process_id, position_x, position_y, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, a.ID, processID, a.Order, a.Name, a.Type, nullable(a.LinkedProcessID), a.PositionX, a.PositionY, []byte(meta))
	if err != nil {
		return nil, fmt.Errorf("insert activity: %w", err)
	}
	s.touch(ctx, processID)
	return a, nil
}

func (s *PostgresStore) UpdateActivity(ctx context.Context, processID, activityID string, patch flow.ActivityPatch) error {
	sets := []string{}
	args := []any{}
	argN := 1

	set := func(column string, value any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, argN))
		args = append(args, value)
		argN++
	}

	if patch.Order != nil {
		set("ord", *patch.Order)
	}
	if patch.Name != nil {
		set("name", *patch.Name)
	}
	if patch.Type != nil {
		set("activity_type", string(*patch.Type))
	}
	if patch.ClearLinkedProcess {
		sets = append(sets, "linked_process_id = NULL")
	} else if patch.LinkedProcessID != nil {
		set("linked_process_id", *patch.LinkedProcessID)
	}
	if patch.PositionX != nil {
		set("position_x", *patch.PositionX)
	}
	if patch.PositionY != nil {
		set("position_y", *patch.PositionY)
	}
	if len(sets) == 0 {
		return nil
	}

	query := fmt.Sprintf(
		`UPDATE activities SET %s WHERE id = $%d AND process_id = $%d`,
		strings.Join(sets, ", "), argN, argN+1,
	)
	args = append(args, activityID, processID)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update activity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return flow.ErrActivityNotFound
	}
	s.touch(ctx, processID)
	return nil
}

// DeleteActivity removes the activity. Edges touching it are cascade-deleted
// by the schema; an entry or exit endpoint pointing at it is cleared in the
// same transaction.
func (s *PostgresStore) DeleteActivity(ctx context.Context, processID, activityID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete activity: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM activities WHERE id = $1 AND process_id = $2`, activityID, processID)
	if err != nil {
		return fmt.Errorf("delete activity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return flow.ErrActivityNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE processes SET
			entry_activity_id = CASE WHEN entry_activity_id = $2 THEN NULL ELSE entry_activity_id END,
			exit_activity_id  = CASE WHEN exit_activity_id  = $2 THEN NULL ELSE exit_activity_id END,
			updated_at = NOW()
		WHERE id = $1
	`, processID, activityID); err != nil {
		return fmt.Errorf("clear endpoints: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete activity: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateActivityPositions(ctx context.Context, processID string, moves []flow.PositionUpdate) error {
	if len(moves) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update positions: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, m := range moves {
		if _, err := tx.ExecContext(ctx, `
			UPDATE activities SET position_x = $1, position_y = $2 WHERE id = $3 AND process_id = $4
		`, m.X, m.Y, m.ActivityID, processID); err != nil {
			return fmt.Errorf("update position %s: %w", m.ActivityID, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE processes SET updated_at = NOW() WHERE id = $1`, processID); err != nil {
		return fmt.Errorf("touch process: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update positions: %w", err)
	}
	return nil
}

// CreateEdge inserts an edge and flips the process to explicit flow in the
// same transaction. A duplicate (process, source, target, handle) triple maps
// to flow.ErrDuplicateEdge.
func (s *PostgresStore) CreateEdge(ctx context.Context, processID string, draft flow.EdgeDraft) (*flow.Edge, error) {
	e := &flow.Edge{
		ID:               util.NewID("edge"),
		ProcessID:        processID,
		SourceActivityID: draft.SourceActivityID,
		TargetActivityID: draft.TargetActivityID,
		SourceHandle:     draft.SourceHandle,
		EdgeType:         draft.EdgeType,
		Animated:         draft.Animated,
	}
	if e.EdgeType == "" {
		e.EdgeType = flow.DefaultEdgeType
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create edge: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO edges (id, process_id, source_activity_id, target_activity_id, source_handle, edge_type, animated)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, processID, e.SourceActivityID, e.TargetActivityID, e.SourceHandle, e.EdgeType, e.Animated)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, flow.ErrDuplicateEdge
		}
		return nil, fmt.Errorf("insert edge: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE processes SET use_explicit_flow = TRUE, updated_at = NOW() WHERE id = $1`, processID); err != nil {
		return nil, fmt.Errorf("ratchet explicit flow: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create edge: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) DeleteEdge(ctx context.Context, processID, edgeID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete edge: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM edges WHERE id = $1 AND process_id = $2`, edgeID, processID)
	if err != nil {
		return fmt.Errorf("delete edge: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return flow.ErrEdgeNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE processes SET use_explicit_flow = TRUE, updated_at = NOW() WHERE id = $1`, processID); err != nil {
		return fmt.Errorf("ratchet explicit flow: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete edge: %w", err)
	}
	return nil
}

// UpdateFlowEndpoints writes the entry/exit anchors. Clear flags beat values;
// an untouched side stays as it was. Any endpoint write ratchets the process
// into explicit flow.
func (s *PostgresStore) UpdateFlowEndpoints(ctx context.Context, processID string, change flow.EndpointChange) error {
	sets := []string{"use_explicit_flow = TRUE", "updated_at = NOW()"}
	args := []any{}
	argN := 1

	switch {
	case change.ClearEntry:
		sets = append(sets, "entry_activity_id = NULL")
	case change.Entry != nil:
		sets = append(sets, fmt.Sprintf("entry_activity_id = $%d", argN))
		args = append(args, *change.Entry)
		argN++
	}
	switch {
	case change.ClearExit:
		sets = append(sets, "exit_activity_id = NULL")
	case change.Exit != nil:
		sets = append(sets, fmt.Sprintf("exit_activity_id = $%d", argN))
		args = append(args, *change.Exit)
		argN++
	}

	query := fmt.Sprintf(`UPDATE processes SET %s WHERE id = $%d`, strings.Join(sets, ", "), argN)
	args = append(args, processID)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update flow endpoints: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return flow.ErrProcessNotFound
	}
	return nil
}

// touch bumps updated_at; best effort, ordering only.
func (s *PostgresStore) touch(ctx context.Context, processID string) {
	_, _ = s.db.ExecContext(ctx, `UPDATE processes SET updated_at = NOW() WHERE id = $1`, processID)
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

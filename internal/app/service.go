package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"opsboard/api/internal/config"
	"opsboard/api/internal/flow"
	"opsboard/api/internal/history"
	"opsboard/api/internal/search"
	"opsboard/api/internal/snapshot"
	"opsboard/api/internal/store"
)

// Store is everything the service needs from persistence: the engine's
// collaborator surface plus process CRUD.
type Store interface {
	flow.Store

	CreateProcess(ctx context.Context, name, description string) (*flow.Process, error)
	ListProcesses(ctx context.Context) ([]store.ProcessSummary, error)
	DeleteProcess(ctx context.Context, processID string) error
	Ping(ctx context.Context) error
}

// ConnectivityView is the payload of the connections endpoint: the effective
// connections of a process regardless of which mode it is in.
type ConnectivityView struct {
	ProcessID   string            `json:"processId"`
	Explicit    bool              `json:"explicit"`
	Connections []flow.Connection `json:"connections"`
}

type Service struct {
	cfg       config.Config
	store     Store
	engine    *flow.Engine
	search    *search.Service
	history   *history.Service
	snapshots *snapshot.RedisStore
}

func New(cfg config.Config, st Store, searchService *search.Service, historyService *history.Service) *Service {
	return &Service{
		cfg:     cfg,
		store:   st,
		engine:  flow.NewEngine(st),
		search:  searchService,
		history: historyService,
	}
}

// NewWithSnapshots wires in the optional Redis snapshot cache. The cache holds
// the last reconciled view per process; everything works without it.
func NewWithSnapshots(cfg config.Config, st Store, searchService *search.Service, historyService *history.Service, snapshots *snapshot.RedisStore) *Service {
	svc := New(cfg, st, searchService, historyService)
	svc.snapshots = snapshots
	return svc
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) SnapshotPing(ctx context.Context) error {
	if s.snapshots == nil {
		return nil
	}
	return s.snapshots.Ping(ctx)
}

func (s *Service) CreateProcess(ctx context.Context, name, description string) (*flow.Process, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(http.StatusBadRequest, "INVALID_NAME", "Process name is required", nil)
	}
	p, err := s.store.CreateProcess(ctx, name, strings.TrimSpace(description))
	if err != nil {
		return nil, fmt.Errorf("create process: %w", err)
	}
	s.afterMutation(ctx, p, "Create process")
	return p, nil
}

func (s *Service) ListProcesses(ctx context.Context) ([]store.ProcessSummary, error) {
	return s.store.ListProcesses(ctx)
}

// GetProcess serves the snapshot cache when it has the process and falls back
// to the store. Mutations repopulate the cache with the reconciled view, so a
// hit is at worst one command behind a concurrent editor.
func (s *Service) GetProcess(ctx context.Context, processID string) (*flow.Process, error) {
	if s.snapshots != nil {
		if p, err := s.snapshots.Load(ctx, processID); err == nil {
			return p, nil
		}
	}
	p, err := s.store.FetchProcess(ctx, processID)
	if err != nil {
		return nil, err
	}
	if s.snapshots != nil {
		if err := s.snapshots.Save(ctx, p); err != nil {
			log.Printf("snapshot save failed for process %s: %v", p.ID, err)
		}
	}
	return p, nil
}

func (s *Service) DeleteProcess(ctx context.Context, processID string) error {
	if err := s.store.DeleteProcess(ctx, processID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteProcess(processID)
	}
	if s.snapshots != nil {
		if err := s.snapshots.Invalidate(ctx, processID); err != nil {
			log.Printf("snapshot invalidate failed for process %s: %v", processID, err)
		}
	}
	if s.history != nil {
		if err := s.history.Drop(processID); err != nil {
			log.Printf("history drop failed for process %s: %v", processID, err)
		}
	}
	return nil
}

func (s *Service) Search(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

func (s *Service) Connectivity(ctx context.Context, processID string) (*ConnectivityView, error) {
	p, err := s.GetProcess(ctx, processID)
	if err != nil {
		return nil, err
	}
	conn := flow.ConnectivityOf(p)
	return &ConnectivityView{
		ProcessID:   p.ID,
		Explicit:    conn.Explicit(),
		Connections: conn.Connections(),
	}, nil
}

func (s *Service) AppendActivity(ctx context.Context, processID string, draft flow.ActivityDraft) (*flow.Result, error) {
	p, err := s.GetProcess(ctx, processID)
	if err != nil {
		return nil, err
	}
	res, err := s.engine.AppendActivity(ctx, p, draft)
	s.afterCommand(ctx, res, fmt.Sprintf("Append activity %q", draft.Name))
	return res, err
}

// UpdateActivity patches activity attributes that do not touch topology:
// name, type, linked process, a single position. Order changes go through
// MoveActivity so the whole sequence is renumbered.
func (s *Service) UpdateActivity(ctx context.Context, processID, activityID string, patch flow.ActivityPatch) (*flow.Process, error) {
	if patch.Order != nil {
		return nil, domainError(http.StatusBadRequest, "INVALID_PATCH", "Order is managed by the move operation", nil)
	}
	if patch.Type != nil && !flow.KnownActivityType(*patch.Type) {
		return nil, domainError(http.StatusBadRequest, "INVALID_TYPE", fmt.Sprintf("Unknown activity type %q", *patch.Type), nil)
	}
	if err := s.store.UpdateActivity(ctx, processID, activityID, patch); err != nil {
		return nil, err
	}
	p, err := s.engine.Refresh(ctx, processID)
	if err != nil {
		return nil, err
	}
	s.afterMutation(ctx, p, fmt.Sprintf("Update activity %s", activityID))
	return p, nil
}

func (s *Service) MoveActivity(ctx context.Context, processID, activityID string, targetIndex int) (*flow.Result, error) {
	p, err := s.GetProcess(ctx, processID)
	if err != nil {
		return nil, err
	}
	res, err := s.engine.MoveActivity(ctx, p, activityID, targetIndex)
	s.afterCommand(ctx, res, fmt.Sprintf("Move activity %s to index %d", activityID, targetIndex))
	return res, err
}

func (s *Service) RemoveActivity(ctx context.Context, processID, activityID string) (*flow.Result, error) {
	p, err := s.GetProcess(ctx, processID)
	if err != nil {
		return nil, err
	}
	res, err := s.engine.RemoveActivity(ctx, p, activityID)
	s.afterCommand(ctx, res, fmt.Sprintf("Remove activity %s", activityID))
	return res, err
}

func (s *Service) UpdatePositions(ctx context.Context, processID string, moves []flow.PositionUpdate) (*flow.Result, error) {
	p, err := s.GetProcess(ctx, processID)
	if err != nil {
		return nil, err
	}
	res, err := s.engine.UpdatePositions(ctx, p, moves)
	s.afterCommand(ctx, res, fmt.Sprintf("Update %d positions", len(moves)))
	return res, err
}

func (s *Service) Connect(ctx context.Context, processID, source, target, sourceHandle string) (*flow.Result, error) {
	p, err := s.GetProcess(ctx, processID)
	if err != nil {
		return nil, err
	}
	res, err := s.engine.Connect(ctx, p, source, target, sourceHandle)
	s.afterCommand(ctx, res, fmt.Sprintf("Connect %s -> %s", source, target))
	return res, err
}

func (s *Service) Disconnect(ctx context.Context, processID string, req flow.DisconnectRequest) (*flow.Result, error) {
	p, err := s.GetProcess(ctx, processID)
	if err != nil {
		return nil, err
	}
	res, err := s.engine.Disconnect(ctx, p, req)
	detail := req.EdgeID
	if detail == "" {
		detail = fmt.Sprintf("%s -> %s", req.Source, req.Target)
	}
	s.afterCommand(ctx, res, fmt.Sprintf("Disconnect %s", detail))
	return res, err
}

func (s *Service) History(processID string, limit int) ([]history.Change, error) {
	if s.history == nil {
		return []history.Change{}, nil
	}
	return s.history.History(processID, limit)
}

func (s *Service) HistorySnapshot(processID, hash string) (json.RawMessage, error) {
	if s.history == nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "History is not configured", nil)
	}
	return s.history.Snapshot(processID, hash)
}

// afterCommand propagates a command result to the side channels. The result
// carries the reconciled view even on partial failure, which is exactly what
// the cache and the audit trail should see.
func (s *Service) afterCommand(ctx context.Context, res *flow.Result, message string) {
	if res == nil || res.Process == nil {
		return
	}
	if res.Outcome != flow.OutcomeComplete {
		message = fmt.Sprintf("%s (%s)", message, res.Outcome)
	}
	s.afterMutation(ctx, res.Process, message)
}

func (s *Service) afterMutation(ctx context.Context, p *flow.Process, message string) {
	if s.snapshots != nil {
		if err := s.snapshots.Save(ctx, p); err != nil {
			log.Printf("snapshot save failed for process %s: %v", p.ID, err)
		}
	}
	if s.history != nil {
		if err := s.history.Record(p.ID, p, message); err != nil {
			log.Printf("history record failed for process %s: %v", p.ID, err)
		}
	}
	if s.search != nil {
		s.search.IndexProcess(search.ProcessRecord{
			ID:            p.ID,
			Name:          p.Name,
			Description:   p.Description,
			ActivityCount: len(p.Activities),
		})
	}
}

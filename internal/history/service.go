// Package history keeps an audit trail of process edits: one git repository
// per process, with the full process view committed as process.json after each
// successful mutation.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const snapshotFile = "process.json"

// ErrChangeNotFound is returned when a snapshot is requested for a hash the
// process repo does not contain.
var ErrChangeNotFound = errors.New("history: change not found")

// Change is one recorded mutation.
type Change struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Record writes the snapshot and commits it with the given message, creating
// the process repo on first use. Identical consecutive snapshots are skipped.
func (s *Service) Record(processID string, snapshot any, message string) error {
	lock := s.processLock(processID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(processID)
	if err != nil {
		return err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	path := filepath.Join(worktree.Filesystem.Root(), snapshotFile)
	if previous, err := os.ReadFile(path); err == nil && string(previous) == string(payload)+"\n" {
		return nil
	}
	if err := os.WriteFile(path, append(payload, '\n'), 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if _, err := worktree.Add(snapshotFile); err != nil {
		return fmt.Errorf("git add snapshot: %w", err)
	}

	if _, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  "Opsboard",
			Email: "opsboard@localhost",
			When:  time.Now(),
		},
	}); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// History returns the recorded changes newest first, capped at limit when
// limit > 0.
func (s *Service) History(processID string, limit int) ([]Change, error) {
	lock := s.processLock(processID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(processID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []Change{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return []Change{}, nil
		}
		return nil, fmt.Errorf("resolve head: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	changes := []Change{}
	err = iter.ForEach(func(commitObj *object.Commit) error {
		changes = append(changes, Change{
			Hash:      commitObj.Hash.String()[:7],
			Message:   commitObj.Message,
			CreatedAt: commitObj.Author.When,
		})
		if limit > 0 && len(changes) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return changes, nil
}

// Snapshot returns the process view recorded at the given commit hash.
func (s *Service) Snapshot(processID, hash string) (json.RawMessage, error) {
	lock := s.processLock(processID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(processID))
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, ErrChangeNotFound
		}
		return nil, fmt.Errorf("open repo: %w", err)
	}

	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrChangeNotFound, hash)
	}
	commitObj, err := repo.CommitObject(*resolved)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrChangeNotFound, hash)
	}

	file, err := commitObj.File(snapshotFile)
	if err != nil {
		return nil, fmt.Errorf("load snapshot from commit: %w", err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open snapshot reader: %w", err)
	}
	defer reader.Close()

	payload, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read snapshot bytes: %w", err)
	}
	return json.RawMessage(payload), nil
}

// Drop removes the history repo for a deleted process.
func (s *Service) Drop(processID string) error {
	lock := s.processLock(processID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(s.repoPath(processID)); err != nil {
		return fmt.Errorf("remove history repo: %w", err)
	}
	return nil
}

func (s *Service) openOrInit(processID string) (*git.Repository, error) {
	path := s.repoPath(processID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(processID string) string {
	return filepath.Join(s.baseDir, processID)
}

func (s *Service) processLock(processID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[processID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[processID] = lock
	}
	return lock
}

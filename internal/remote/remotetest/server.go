// Package remotetest provides an in-memory remote store for tests.
package remotetest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	apperrors "github.com/kimhsiao/tasksync/internal/errors"
	"github.com/kimhsiao/tasksync/internal/models"
)

// Call records one request received by the Server.
type Call struct {
	Method    string
	ID        string
	WithTasks bool
}

// Server is an authoritative store implementing remote.Client. It assigns
// ids of the form T<n> and F<n> on creation.
type Server struct {
	mu      sync.Mutex
	tasks   map[string]models.Task
	folders map[string]models.Folder
	next    int
	calls   []Call

	// fail, when set, decides per call whether to fail and with what.
	fail func(c Call) error
	// hook runs before each call is applied, outside the lock.
	hook func(c Call)
}

// NewServer creates an empty server.
func NewServer() *Server {
	return &Server{
		tasks:   make(map[string]models.Task),
		folders: make(map[string]models.Folder),
	}
}

// FailWith installs a failure rule; nil removes it.
func (s *Server) FailWith(fn func(c Call) error) {
	s.mu.Lock()
	s.fail = fn
	s.mu.Unlock()
}

// OnCall installs a hook run before every call.
func (s *Server) OnCall(fn func(c Call)) {
	s.mu.Lock()
	s.hook = fn
	s.mu.Unlock()
}

// Unreachable is a failure rule that fails every call with a network error.
func Unreachable(Call) error {
	return apperrors.New(apperrors.ErrNetwork, "connection refused")
}

// PutTask stores a task directly, as if created by another device.
func (s *Server) PutTask(t models.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.Sync = models.SyncState{}
	s.tasks[t.ID] = t.Clone()
}

// PutFolder stores a folder directly.
func (s *Server) PutFolder(f models.Folder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f.Sync = models.SyncState{}
	s.folders[f.ID] = f.Clone()
}

// Task returns a stored task.
func (s *Server) Task(id string) (models.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	return t.Clone(), ok
}

// Folder returns a stored folder.
func (s *Server) Folder(id string) (models.Folder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.folders[id]
	return f.Clone(), ok
}

// TaskCount returns the number of stored tasks.
func (s *Server) TaskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// FolderCount returns the number of stored folders.
func (s *Server) FolderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.folders)
}

// Calls returns the recorded calls in arrival order.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CountCalls returns how many calls used method.
func (s *Server) CountCalls(method string) int {
	n := 0
	for _, c := range s.Calls() {
		if c.Method == method {
			n++
		}
	}
	return n
}

// ResetCalls forgets recorded calls.
func (s *Server) ResetCalls() {
	s.mu.Lock()
	s.calls = nil
	s.mu.Unlock()
}

// begin records c and returns the failure to report, if any. The lock is
// held on return when err is nil.
func (s *Server) begin(ctx context.Context, c Call) error {
	s.mu.Lock()
	hook := s.hook
	s.mu.Unlock()
	if hook != nil {
		hook(c)
	}
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.ErrNetwork, c.Method, err)
	}

	s.mu.Lock()
	s.calls = append(s.calls, c)
	if s.fail != nil {
		if err := s.fail(c); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	return nil
}

// FetchTasks implements remote.Client.
func (s *Server) FetchTasks(ctx context.Context) ([]models.Task, error) {
	if err := s.begin(ctx, Call{Method: "FetchTasks"}); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	out := make([]models.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// FetchFolders implements remote.Client.
func (s *Server) FetchFolders(ctx context.Context) ([]models.Folder, error) {
	if err := s.begin(ctx, Call{Method: "FetchFolders"}); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	out := make([]models.Folder, 0, len(s.folders))
	for _, f := range s.folders {
		out = append(out, f.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateTask implements remote.Client.
func (s *Server) CreateTask(ctx context.Context, task models.Task) (models.Task, error) {
	if err := s.begin(ctx, Call{Method: "CreateTask", ID: task.ID}); err != nil {
		return models.Task{}, err
	}
	defer s.mu.Unlock()

	if _, ok := s.folders[task.FolderID]; !ok {
		return models.Task{}, apperrors.Newf(apperrors.ErrRemote, "status 422: unknown folder %s", task.FolderID)
	}
	s.next++
	task = task.Remote()
	task.ID = fmt.Sprintf("T%d", s.next)
	s.tasks[task.ID] = task
	return task.Clone(), nil
}

// UpdateTask implements remote.Client.
func (s *Server) UpdateTask(ctx context.Context, task models.Task) (models.Task, error) {
	if err := s.begin(ctx, Call{Method: "UpdateTask", ID: task.ID}); err != nil {
		return models.Task{}, err
	}
	defer s.mu.Unlock()

	if _, ok := s.tasks[task.ID]; !ok {
		return models.Task{}, apperrors.Newf(apperrors.ErrRemote, "status 404: task %s", task.ID)
	}
	task = task.Remote()
	s.tasks[task.ID] = task
	return task.Clone(), nil
}

// DeleteTask implements remote.Client. Deleting an unknown task succeeds.
func (s *Server) DeleteTask(ctx context.Context, id string) error {
	if err := s.begin(ctx, Call{Method: "DeleteTask", ID: id}); err != nil {
		return err
	}
	defer s.mu.Unlock()

	delete(s.tasks, id)
	return nil
}

// CreateFolder implements remote.Client.
func (s *Server) CreateFolder(ctx context.Context, folder models.Folder) (models.Folder, error) {
	if err := s.begin(ctx, Call{Method: "CreateFolder", ID: folder.ID}); err != nil {
		return models.Folder{}, err
	}
	defer s.mu.Unlock()

	s.next++
	folder = folder.Remote()
	folder.ID = fmt.Sprintf("F%d", s.next)
	s.folders[folder.ID] = folder
	return folder.Clone(), nil
}

// UpdateFolder implements remote.Client.
func (s *Server) UpdateFolder(ctx context.Context, folder models.Folder) (models.Folder, error) {
	if err := s.begin(ctx, Call{Method: "UpdateFolder", ID: folder.ID}); err != nil {
		return models.Folder{}, err
	}
	defer s.mu.Unlock()

	if _, ok := s.folders[folder.ID]; !ok {
		return models.Folder{}, apperrors.Newf(apperrors.ErrRemote, "status 404: folder %s", folder.ID)
	}
	folder = folder.Remote()
	s.folders[folder.ID] = folder
	return folder.Clone(), nil
}

// DeleteFolder implements remote.Client. With withTasks the folder's tasks
// are removed too.
func (s *Server) DeleteFolder(ctx context.Context, id string, withTasks bool) error {
	if err := s.begin(ctx, Call{Method: "DeleteFolder", ID: id, WithTasks: withTasks}); err != nil {
		return err
	}
	defer s.mu.Unlock()

	if withTasks {
		for tid, t := range s.tasks {
			if t.FolderID == id {
				delete(s.tasks, tid)
			}
		}
	}
	delete(s.folders, id)
	return nil
}

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sd8capricon/graph-rag/pkg/common"
	"github.com/sd8capricon/graph-rag/pkg/graph"
	"github.com/sd8capricon/graph-rag/pkg/leaselock"
	"github.com/sd8capricon/graph-rag/pkg/loader"
)

type fakeRegistry struct {
	kbs map[string]*common.KnowledgeBase
}

func (r *fakeRegistry) GetByID(_ context.Context, id string) (*common.KnowledgeBase, error) {
	return r.kbs[id], nil
}

func (r *fakeRegistry) Upsert(_ context.Context, kb *common.KnowledgeBase) error {
	if r.kbs == nil {
		r.kbs = map[string]*common.KnowledgeBase{}
	}
	r.kbs[kb.ID] = kb
	return nil
}

type fakeJobStore struct {
	mu       sync.Mutex
	jobs     map[string]common.Job
	statuses []common.JobStatus
	stale    []common.Job
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: map[string]common.Job{}}
}

func (s *fakeJobStore) CreateJob(_ context.Context, job *common.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.FilesTotal = len(job.Files)
	s.jobs[job.ID] = *job
	return nil
}

func (s *fakeJobStore) GetJob(_ context.Context, id string) (*common.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, errors.New("job not found")
	}
	return &job, nil
}

func (s *fakeJobStore) UpdateJob(_ context.Context, job *common.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = *job
	s.statuses = append(s.statuses, job.Status)
	return nil
}

func (s *fakeJobStore) StaleJobs(context.Context, time.Duration, int) ([]common.Job, error) {
	return s.stale, nil
}

func (s *fakeJobStore) RequeueJob(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != common.JobRunning {
		return false, nil
	}
	job.Status = common.JobQueued
	s.jobs[id] = job
	return true, nil
}

func (s *fakeJobStore) set(id string, status common.JobStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[id]
	job.Status = status
	s.jobs[id] = job
}

type fakePublisher struct {
	queues []string
	bodies [][]byte
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, queueName string, body []byte) error {
	if p.err != nil {
		return p.err
	}
	p.queues = append(p.queues, queueName)
	p.bodies = append(p.bodies, body)
	return nil
}

type fakeLocker struct {
	keys []string
	err  error
}

func (l *fakeLocker) WithLease(ctx context.Context, key string, _ leaselock.Options, fn func(context.Context) error) error {
	l.keys = append(l.keys, key)
	if l.err != nil {
		return l.err
	}
	return fn(ctx)
}

// fakeRunner fails every file whose path contains "bad".
type fakeRunner struct {
	err   error
	files []loader.GraphFile
}

func (r *fakeRunner) Run(_ context.Context, kb *common.KnowledgeBase, files []loader.GraphFile) (*graph.PipelineResult, error) {
	r.files = files
	if r.err != nil {
		return nil, r.err
	}
	res := &graph.PipelineResult{KnowledgeBase: kb}
	for _, f := range files {
		fr := graph.FileResult{File: f.Metadata(), Chunks: 2}
		if strings.Contains(f.Path, "bad") {
			fr.Chunks = 0
			fr.Err = errors.New("unreadable")
		}
		res.Files = append(res.Files, fr)
	}
	return res, nil
}

type fixture struct {
	registry  *fakeRegistry
	store     *fakeJobStore
	publisher *fakePublisher
	locker    *fakeLocker
	runner    *fakeRunner
	manager   *Manager
}

func newFixture() *fixture {
	f := &fixture{
		registry:  &fakeRegistry{},
		store:     newFakeJobStore(),
		publisher: &fakePublisher{},
		locker:    &fakeLocker{},
		runner:    &fakeRunner{},
	}
	f.manager = NewManager(NewManagerParams{
		Registry:  f.registry,
		Store:     f.store,
		Publisher: f.publisher,
		Locker:    f.locker,
		Runner:    f.runner,
		Loader:    &loader.Router{},
	})
	return f
}

func files(paths ...string) []common.JobFile {
	out := make([]common.JobFile, len(paths))
	for i, p := range paths {
		out[i] = common.JobFile{Name: p, Path: p}
	}
	return out
}

func TestSubmit(t *testing.T) {
	f := newFixture()
	kb := &common.KnowledgeBase{ID: "kb1", Name: "Racing"}

	job, err := f.manager.Submit(context.Background(), kb, files("a.txt", "b.txt"))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if job.Status != common.JobQueued || job.FilesTotal != 2 {
		t.Fatalf("job = %+v", job)
	}
	for _, file := range job.Files {
		if file.ID == "" {
			t.Fatalf("file %s has no id", file.Path)
		}
	}
	if f.registry.kbs["kb1"] == nil {
		t.Fatalf("knowledge base not registered")
	}
	if len(f.publisher.queues) != 1 || f.publisher.queues[0] != "ingest_queue" {
		t.Fatalf("published to %v", f.publisher.queues)
	}
	var msg Message
	if err := json.Unmarshal(f.publisher.bodies[0], &msg); err != nil || msg.JobID != job.ID {
		t.Fatalf("message = %s, %v", f.publisher.bodies[0], err)
	}
}

func TestSubmitErrors(t *testing.T) {
	tests := []struct {
		name    string
		kb      *common.KnowledgeBase
		files   []common.JobFile
		pubErr  error
		wantErr error
	}{
		{name: "no files", kb: &common.KnowledgeBase{ID: "kb1"}, wantErr: ErrNoFiles},
		{name: "no knowledge base id", kb: &common.KnowledgeBase{}, files: files("a")},
		{name: "publish fails", kb: &common.KnowledgeBase{ID: "kb1"}, files: files("a"), pubErr: errors.New("broker down")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.publisher.err = tt.pubErr
			_, err := f.manager.Submit(context.Background(), tt.kb, tt.files)
			if err == nil {
				t.Fatalf("Submit() error = nil")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Submit() error = %v, want %v", err, tt.wantErr)
			}
			if tt.pubErr != nil {
				for _, job := range f.store.jobs {
					if job.Status != common.JobFailed {
						t.Fatalf("unpublished job status = %q", job.Status)
					}
				}
			}
		})
	}
}

func TestRunFinalStatus(t *testing.T) {
	tests := []struct {
		name       string
		paths      []string
		runErr     error
		wantStatus common.JobStatus
		wantFailed int
	}{
		{name: "all succeed", paths: []string{"a", "b"}, wantStatus: common.JobCompleted},
		{name: "some fail", paths: []string{"a", "bad", "c", "bad2"}, wantStatus: common.JobCompletedPartial, wantFailed: 2},
		{name: "all fail", paths: []string{"bad"}, wantStatus: common.JobFailed, wantFailed: 1},
		{name: "run error", paths: []string{"a"}, runErr: graph.ErrConfig, wantStatus: common.JobFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.runner.err = tt.runErr
			job, err := f.manager.Submit(context.Background(), &common.KnowledgeBase{ID: "kb1"}, files(tt.paths...))
			if err != nil {
				t.Fatalf("Submit() error = %v", err)
			}

			if err := f.manager.Run(context.Background(), job.ID); err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			got, _ := f.store.GetJob(context.Background(), job.ID)
			if got.Status != tt.wantStatus || got.FilesFailed != tt.wantFailed {
				t.Fatalf("job = %q failed %d, want %q failed %d", got.Status, got.FilesFailed, tt.wantStatus, tt.wantFailed)
			}
			if f.store.statuses[0] != common.JobRunning {
				t.Fatalf("first transition = %q, want running", f.store.statuses[0])
			}
			if tt.wantStatus != common.JobCompleted && got.Error == "" {
				t.Fatalf("failed job has no error message")
			}
			if len(f.locker.keys) != 1 || f.locker.keys[0] != "kb:kb1" {
				t.Fatalf("lease keys = %v", f.locker.keys)
			}
		})
	}
}

func TestRunBindsLoader(t *testing.T) {
	f := newFixture()
	job, _ := f.manager.Submit(context.Background(), &common.KnowledgeBase{ID: "kb1"}, files("s3://bucket/a.txt"))

	if err := f.manager.Run(context.Background(), job.ID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(f.runner.files) != 1 || f.runner.files[0].Loader == nil || f.runner.files[0].ID != job.Files[0].ID {
		t.Fatalf("runner files = %+v", f.runner.files)
	}
}

func TestRunSkipsTerminalJob(t *testing.T) {
	f := newFixture()
	job, _ := f.manager.Submit(context.Background(), &common.KnowledgeBase{ID: "kb1"}, files("a"))
	f.store.set(job.ID, common.JobCompleted)

	if err := f.manager.Run(context.Background(), job.ID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if f.runner.files != nil || len(f.locker.keys) != 0 {
		t.Fatalf("terminal job was run again")
	}
}

func TestRunLostLeaseRequeues(t *testing.T) {
	f := newFixture()
	f.locker.err = leaselock.ErrLost
	job, _ := f.manager.Submit(context.Background(), &common.KnowledgeBase{ID: "kb1"}, files("a"))

	if err := f.manager.Run(context.Background(), job.ID); !errors.Is(err, leaselock.ErrLost) {
		t.Fatalf("Run() error = %v, want ErrLost", err)
	}
	got, _ := f.store.GetJob(context.Background(), job.ID)
	if got.Status != common.JobQueued {
		t.Fatalf("status = %q, want queued", got.Status)
	}
}

func TestRunMissingKnowledgeBase(t *testing.T) {
	f := newFixture()
	job := &common.Job{ID: "j1", KnowledgeBaseID: "gone", Files: files("a"), Status: common.JobQueued}
	_ = f.store.CreateJob(context.Background(), job)

	if err := f.manager.Run(context.Background(), "j1"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	got, _ := f.store.GetJob(context.Background(), "j1")
	if got.Status != common.JobFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
}

func TestWait(t *testing.T) {
	f := newFixture()
	job, _ := f.manager.Submit(context.Background(), &common.KnowledgeBase{ID: "kb1"}, files("a"))

	go func() {
		time.Sleep(20 * time.Millisecond)
		f.store.set(job.ID, common.JobCompleted)
	}()

	got, err := f.manager.Wait(context.Background(), job.ID, 5*time.Millisecond)
	if err != nil || got.Status != common.JobCompleted {
		t.Fatalf("Wait() = %+v, %v", got, err)
	}

	f.store.set(job.ID, common.JobRunning)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	got, err = f.manager.Wait(ctx, job.ID, 5*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) || got == nil || got.Status != common.JobRunning {
		t.Fatalf("Wait() = %+v, %v, want running job and DeadlineExceeded", got, err)
	}
}

func TestRecover(t *testing.T) {
	f := newFixture()
	job, _ := f.manager.Submit(context.Background(), &common.KnowledgeBase{ID: "kb1"}, files("a"))
	f.store.set(job.ID, common.JobRunning)
	f.store.stale = []common.Job{{ID: job.ID, KnowledgeBaseID: "kb1"}, {ID: "vanished"}}

	n, err := f.manager.Recover(context.Background(), time.Minute)
	if err != nil || n != 1 {
		t.Fatalf("Recover() = %d, %v, want 1", n, err)
	}
	got, _ := f.store.GetJob(context.Background(), job.ID)
	if got.Status != common.JobQueued || len(f.publisher.bodies) != 2 {
		t.Fatalf("status = %q, published %d", got.Status, len(f.publisher.bodies))
	}
}

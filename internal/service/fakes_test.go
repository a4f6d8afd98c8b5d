package service

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"io"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/snowclass/internal/archive"
	"github.com/raphaelgruber/snowclass/internal/db"
	"github.com/raphaelgruber/snowclass/internal/differ"
	"github.com/raphaelgruber/snowclass/internal/models"
	"github.com/raphaelgruber/snowclass/internal/reasoner"
	"github.com/stretchr/testify/require"
)

// fakeStore keeps classifications and results in memory.
type fakeStore struct {
	mu       sync.Mutex
	jobs     map[string]models.Classification
	changes  map[string][]models.RelationshipChange
	sets     map[string][]models.EquivalentConcepts
	history  []models.Status
	writes   int
	saveErr  error
	writeErr error

	// beforeTransition runs ahead of a conditional write, standing in for another process.
	beforeTransition func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:    map[string]models.Classification{},
		changes: map[string][]models.RelationshipChange{},
		sets:    map[string][]models.EquivalentConcepts{},
	}
}

func (f *fakeStore) put(job models.Classification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.ID] = job.Copy()
}

func (f *fakeStore) job(id string) models.Classification {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := f.jobs[id]
	return job.Copy()
}

func (f *fakeStore) SaveClassification(_ context.Context, c *models.Classification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.jobs[c.ID] = c.Copy()
	f.history = append(f.history, c.Status)
	return nil
}

func (f *fakeStore) TransitionClassification(_ context.Context, c *models.Classification, from models.Status) error {
	if f.beforeTransition != nil {
		f.beforeTransition()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	if stored, ok := f.jobs[c.ID]; !ok || stored.Status != from {
		return db.ErrStatusChanged
	}
	f.jobs[c.ID] = c.Copy()
	f.history = append(f.history, c.Status)
	return nil
}

func (f *fakeStore) GetClassification(_ context.Context, id string) (*models.Classification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	out := job.Copy()
	return &out, nil
}

func (f *fakeStore) ListClassifications(_ context.Context, path string) ([]models.Classification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Classification
	for _, job := range f.jobs {
		if job.Path == path {
			out = append(out, job.Copy())
		}
	}
	slices.SortFunc(out, func(a, b models.Classification) int { return a.CreationDate.Compare(b.CreationDate) })
	return out, nil
}

func (f *fakeStore) FindClassificationsByStatus(_ context.Context, statuses ...models.Status) ([]models.Classification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Classification
	for _, job := range f.jobs {
		if slices.Contains(statuses, job.Status) {
			out = append(out, job.Copy())
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteAllClassifications(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clear(f.jobs)
	clear(f.changes)
	clear(f.sets)
	return nil
}

func (f *fakeStore) SaveRelationshipChanges(_ context.Context, changes []models.RelationshipChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes++
	for _, c := range changes {
		f.changes[c.ClassificationID] = append(f.changes[c.ClassificationID], c)
	}
	return nil
}

func (f *fakeStore) SaveEquivalentConcepts(_ context.Context, sets []models.EquivalentConcepts, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range sets {
		f.sets[s.ClassificationID] = append(f.sets[s.ClassificationID], s)
	}
	return nil
}

func (f *fakeStore) CountRelationshipChanges(_ context.Context, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.changes[id]), nil
}

func (f *fakeStore) CountEquivalentConcepts(_ context.Context, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sets[id]), nil
}

// ordered returns the changes of id in replay order.
func (f *fakeStore) ordered(id, sourceID string) []models.RelationshipChange {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.RelationshipChange
	for _, c := range f.changes[id] {
		if sourceID == "" || c.SourceID == sourceID {
			out = append(out, c)
		}
	}
	slices.SortStableFunc(out, func(a, b models.RelationshipChange) int {
		return cmp.Or(cmp.Compare(a.SourceID, b.SourceID), cmp.Compare(a.Group, b.Group), cmp.Compare(a.SortNumber, b.SortNumber))
	})
	return out
}

func window[T any](all []T, offset, limit int) []T {
	if offset >= len(all) {
		return nil
	}
	return all[offset:min(offset+limit, len(all))]
}

func (f *fakeStore) PageRelationshipChanges(_ context.Context, id, sourceID string, offset, limit int) ([]models.RelationshipChange, int, error) {
	all := f.ordered(id, sourceID)
	return slices.Clone(window(all, offset, limit)), len(all), nil
}

func (f *fakeStore) StreamRelationshipChanges(ctx context.Context, id string, size int, fn func([]models.RelationshipChange) error) error {
	all := f.ordered(id, "")
	for offset := 0; offset < len(all); offset += size {
		if err := fn(slices.Clone(window(all, offset, size))); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (f *fakeStore) ListEquivalentConcepts(_ context.Context, id string) ([]models.EquivalentConcepts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.sets[id]), nil
}

// fakeBranches is a single-lock branch store with live concept content.
type fakeBranches struct {
	mu        sync.Mutex
	heads     map[string]time.Time
	meta      map[string]map[string]string
	live      map[string]map[string]models.Concept
	locked    map[string]bool
	opened    []openCall
	commits   int
	aborts    int
	miniCalls int
	updateErr error
}

type openCall struct {
	path     string
	reason   string
	identity models.Identity
}

func newFakeBranches() *fakeBranches {
	return &fakeBranches{
		heads:  map[string]time.Time{},
		meta:   map[string]map[string]string{},
		live:   map[string]map[string]models.Concept{},
		locked: map[string]bool{},
	}
}

func (f *fakeBranches) setHead(path string, head time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heads[path] = head
}

func (f *fakeBranches) putConcept(path string, c models.Concept) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.live[path] == nil {
		f.live[path] = map[string]models.Concept{}
	}
	f.live[path][c.ConceptID] = *c.Clone()
}

func (f *fakeBranches) concept(path, id string) models.Concept {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.live[path][id]
	return *c.Clone()
}

func (f *fakeBranches) BranchHead(_ context.Context, path string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	head, ok := f.heads[path]
	if !ok {
		return time.Time{}, db.ErrNotFound
	}
	return head, nil
}

func (f *fakeBranches) BranchMetadata(_ context.Context, path string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.heads[path]; !ok {
		return nil, db.ErrNotFound
	}
	return f.meta[path], nil
}

func (f *fakeBranches) OpenTransaction(_ context.Context, path, reason string, identity models.Identity) (Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locked[path] {
		return nil, db.ErrBranchLocked
	}
	f.locked[path] = true
	f.opened = append(f.opened, openCall{path: path, reason: reason, identity: identity})
	return &fakeTx{branches: f, path: path, staged: map[string]models.Concept{}}, nil
}

func (f *fakeBranches) FindConcept(_ context.Context, path, id string) (*models.Concept, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.live[path][id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return c.Clone(), nil
}

func (f *fakeBranches) FindConceptMinis(_ context.Context, path string, ids []string) (map[string]models.ConceptMini, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.miniCalls++
	out := map[string]models.ConceptMini{}
	for _, id := range ids {
		if c, ok := f.live[path][id]; ok {
			out[id] = c.Mini()
		}
	}
	return out, nil
}

type fakeTx struct {
	branches *fakeBranches
	path     string
	staged   map[string]models.Concept
	closed   bool
}

func (t *fakeTx) CommitID() string { return "commit-" + t.path }

func (t *fakeTx) LoadConcepts(_ context.Context, ids []string) ([]models.Concept, error) {
	t.branches.mu.Lock()
	defer t.branches.mu.Unlock()
	var out []models.Concept
	for _, id := range ids {
		if c, ok := t.staged[id]; ok {
			out = append(out, *c.Clone())
		} else if c, ok := t.branches.live[t.path][id]; ok {
			out = append(out, *c.Clone())
		}
	}
	return out, nil
}

func (t *fakeTx) UpdateConcepts(_ context.Context, concepts []models.Concept) error {
	t.branches.mu.Lock()
	defer t.branches.mu.Unlock()
	if t.branches.updateErr != nil {
		return t.branches.updateErr
	}
	for _, c := range concepts {
		t.staged[c.ConceptID] = *c.Clone()
	}
	return nil
}

func (t *fakeTx) Commit(context.Context) (time.Time, error) {
	t.branches.mu.Lock()
	defer t.branches.mu.Unlock()
	if t.closed {
		return time.Time{}, db.ErrTransactionClosed
	}
	for id, c := range t.staged {
		t.branches.live[t.path][id] = c
	}
	head := t.branches.heads[t.path].Add(time.Minute)
	t.branches.heads[t.path] = head
	t.branches.commits++
	t.branches.locked[t.path] = false
	t.closed = true
	return head, nil
}

func (t *fakeTx) Abort(context.Context) error {
	t.branches.mu.Lock()
	defer t.branches.mu.Unlock()
	if t.closed {
		return nil
	}
	t.branches.aborts++
	t.branches.locked[t.path] = false
	t.closed = true
	return nil
}

// fakeIndex answers checks from fixed stated records.
type fakeIndex struct {
	stated map[string]models.QueryConcept
}

func (f *fakeIndex) FindStatedMissing(_ context.Context, _ string, checks []differ.Check) ([]models.QueryConcept, error) {
	var out []models.QueryConcept
	seen := map[string]bool{}
	for _, p := range checks {
		if rec, ok := f.stated[p.SourceID]; ok && !seen[p.SourceID] && missingAny(&rec, checks) {
			seen[p.SourceID] = true
			out = append(out, rec)
		}
	}
	return out, nil
}

func missingAny(rec *models.QueryConcept, checks []differ.Check) bool {
	for _, p := range checks {
		if p.SourceID != rec.ConceptID {
			continue
		}
		if p.TypeID == models.IsA && !rec.HasParent(p.DestinationID) {
			return true
		}
		if p.TypeID != models.IsA && !rec.HasAttribute(p.TypeID, p.DestinationID) {
			return true
		}
	}
	return false
}

type fakeExporter struct {
	err error
}

func (f *fakeExporter) ExportDelta(_ context.Context, path string, w io.Writer) error {
	if f.err != nil {
		return f.err
	}
	_, err := io.WriteString(w, "delta of "+path)
	return err
}

// fakeReasoner scripts remote job states.
type fakeReasoner struct {
	mu          sync.Mutex
	nextID      string
	submitErr   error
	submitted   []reasoner.SubmitRequest
	deltas      []string
	statuses    map[string]reasoner.StatusResponse
	statusErr   error
	statusCalls int
	results     map[string][]byte
	downloadErr error
}

func newFakeReasoner() *fakeReasoner {
	return &fakeReasoner{
		nextID:   "job-1",
		statuses: map[string]reasoner.StatusResponse{},
		results:  map[string][]byte{},
	}
}

func (f *fakeReasoner) setStatus(id, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = reasoner.StatusResponse{Status: status}
}

func (f *fakeReasoner) Submit(_ context.Context, req reasoner.SubmitRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	delta, err := io.ReadAll(req.Delta)
	if err != nil {
		return "", err
	}
	f.submitted = append(f.submitted, req)
	f.deltas = append(f.deltas, string(delta))
	return f.nextID, nil
}

func (f *fakeReasoner) Status(_ context.Context, id string) (reasoner.StatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.statusErr != nil {
		return reasoner.StatusResponse{}, f.statusErr
	}
	return f.statuses[id], nil
}

func (f *fakeReasoner) DownloadResults(_ context.Context, id string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	b, ok := f.results[id]
	if !ok {
		return nil, errors.New("no results")
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

// fakeClock is a settable wall clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeRecorder counts what the service reports.
type fakeRecorder struct {
	mu          sync.Mutex
	transitions []string
	coolOffs    int
}

func (r *fakeRecorder) RecordTiming(string, time.Duration, error) {}
func (r *fakeRecorder) SetInProgress(int)                         {}

func (r *fakeRecorder) RecordTransition(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, status)
}

func (r *fakeRecorder) RecordCoolOff() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.coolOffs++
}

func (r *fakeRecorder) CoolOffs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.coolOffs
}

const testPath = "MAIN/PROJECT"

var (
	t0         = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	branchHead = time.Date(2025, 2, 28, 17, 30, 0, 0, time.UTC)
	user       = models.Identity{Username: "author", Roles: []string{"AUTHOR"}}
)

type harness struct {
	svc      *ClassificationService
	store    *fakeStore
	branches *fakeBranches
	index    *fakeIndex
	exporter *fakeExporter
	reasoner *fakeReasoner
	clock    *fakeClock
	recorder *fakeRecorder
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		store:    newFakeStore(),
		branches: newFakeBranches(),
		index:    &fakeIndex{stated: map[string]models.QueryConcept{}},
		exporter: &fakeExporter{},
		reasoner: newFakeReasoner(),
		clock:    &fakeClock{now: t0},
		recorder: &fakeRecorder{},
	}
	h.branches.setHead(testPath, branchHead)
	h.branches.meta[testPath] = map[string]string{models.MetadataPreviousPackage: "prev.zip"}

	h.svc = New(Deps{
		Store:    h.store,
		Branches: h.branches,
		Concepts: h.branches,
		Index:    h.index,
		Exporter: h.exporter,
		Reasoner: h.reasoner,
		Metrics:  h.recorder,
		Clock:    h.clock.Now,
	}, opts)
	return h
}

// completedJob stores a COMPLETED job computed against the current head.
func (h *harness) completedJob(t *testing.T, id string, changes []models.RelationshipChange) models.Classification {
	t.Helper()
	job := models.Classification{
		ID:                               id,
		Path:                             testPath,
		Status:                           models.StatusCompleted,
		CreationDate:                     t0,
		LastCommitDate:                   branchHead,
		InferredRelationshipChangesFound: models.Ptr(len(changes) > 0),
		EquivalentConceptsFound:          models.Ptr(false),
	}
	h.store.put(job)
	for i := range changes {
		changes[i].ClassificationID = id
		changes[i].SortNumber = i
	}
	require.NoError(t, h.store.SaveRelationshipChanges(context.Background(), changes))
	return job
}

func resultsArchive(t *testing.T, changes []models.RelationshipChange, sets []models.EquivalentConcepts) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, archive.WriteResults(&buf, changes, sets))
	return buf.Bytes()
}

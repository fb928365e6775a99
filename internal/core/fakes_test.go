package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"tallyr.io/worklog/internal/store"
)

// fakeGenerator replays scripted replies in order, repeating the last one.
// errOnCall (1-based) makes that call and every later one fail with err.
type fakeGenerator struct {
	replies     []string
	err         error
	errOnCall   int
	calls       int
	lastSystem  string
	lastHistory []PromptTurn
}

func (g *fakeGenerator) Generate(_ context.Context, system string, history []PromptTurn) (string, error) {
	g.calls++
	g.lastSystem = system
	g.lastHistory = history

	if g.err != nil && (g.errOnCall == 0 || g.calls >= g.errOnCall) {
		return "", g.err
	}
	if len(g.replies) == 0 {
		return "", errors.New("fake generator has no scripted replies")
	}
	i := g.calls - 1
	if i >= len(g.replies) {
		i = len(g.replies) - 1
	}
	return g.replies[i], nil
}

// memoryStateStore round-trips states through JSON so nothing leaks back to
// the caller unless Save was actually called.
type memoryStateStore struct {
	states  map[int64][]byte
	busy    bool
	lockErr error
	saveErr error
}

func newMemoryStateStore() *memoryStateStore {
	return &memoryStateStore{states: make(map[int64][]byte)}
}

func (m *memoryStateStore) Load(_ context.Context, userID int64) (*ConversationState, error) {
	data, ok := m.states[userID]
	if !ok {
		return nil, nil
	}
	var st ConversationState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (m *memoryStateStore) Save(_ context.Context, userID int64, st *ConversationState) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	m.states[userID] = data
	return nil
}

func (m *memoryStateStore) Clear(_ context.Context, userID int64) error {
	delete(m.states, userID)
	return nil
}

func (m *memoryStateStore) TryLock(_ context.Context, _ int64) (bool, error) {
	if m.lockErr != nil {
		return false, m.lockErr
	}
	return !m.busy, nil
}

func (m *memoryStateStore) Unlock(_ context.Context, _ int64) {}

type fakePersister struct {
	user         *store.User
	targets      []store.Target
	targetsErr   error
	entries      []*store.WorkEntry
	entryErr     error
	mappingRows  []*store.WorkEntryTarget
	mappingErr   error
	increments   map[string]float64
	incrementErr error
}

func newFakePersister() *fakePersister {
	return &fakePersister{
		user:       &store.User{ID: 1, ExternalUserID: "alex", Industry: "software", EmploymentStatus: "employed"},
		increments: make(map[string]float64),
	}
}

func (f *fakePersister) GetUserByID(id int64) (*store.User, error) {
	if f.user == nil {
		return nil, errors.New("user not found")
	}
	return f.user, nil
}

func (f *fakePersister) GetTargetsByUserID(userID int64, activeOnly bool) ([]store.Target, error) {
	if f.targetsErr != nil {
		return nil, f.targetsErr
	}
	var out []store.Target
	for _, t := range f.targets {
		if activeOnly && t.Status != store.TargetStatusActive {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (f *fakePersister) CreateWorkEntry(e *store.WorkEntry) error {
	if f.entryErr != nil {
		return f.entryErr
	}
	e.ID = fmt.Sprintf("entry-%d", len(f.entries)+1)
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakePersister) CreateWorkEntryTarget(m *store.WorkEntryTarget) error {
	if f.mappingErr != nil {
		return f.mappingErr
	}
	f.mappingRows = append(f.mappingRows, m)
	return nil
}

func (f *fakePersister) GetWorkEntryTargets(workEntryID string) ([]store.WorkEntryTarget, error) {
	var out []store.WorkEntryTarget
	for _, m := range f.mappingRows {
		if m.WorkEntryID == workEntryID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (f *fakePersister) GetWorkEntryByID(entryID string, userID int64) (*store.WorkEntry, error) {
	for _, e := range f.entries {
		if e.ID == entryID && e.UserID == userID {
			return e, nil
		}
	}
	return nil, nil
}

func (f *fakePersister) DeleteWorkEntry(entryID string, userID int64) error {
	for i, e := range f.entries {
		if e.ID == entryID && e.UserID == userID {
			f.entries = append(f.entries[:i], f.entries[i+1:]...)
			return nil
		}
	}
	return errors.New("work entry not found or not owned by user")
}

func (f *fakePersister) IncrementTargetValue(targetID string, userID int64, delta float64) error {
	if f.incrementErr != nil {
		return f.incrementErr
	}
	f.increments[targetID] += delta
	return nil
}

type fakeEncryptor struct {
	err error
}

func (f fakeEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return append([]byte("sealed:"), plaintext...), nil
}

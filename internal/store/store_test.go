package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reminator329/trainingbook/internal/entity"
	"github.com/reminator329/trainingbook/internal/graph"
)

type kind struct {
	entity.Base
	Name string `doc:"name"`
}

type step struct {
	entity.Base
	Kind *kind `doc:"kind,ref"`
	Rest int   `doc:"rest"`
}

type plan struct {
	entity.Base
	Name  string  `doc:"name"`
	Steps []*step `doc:"steps"`
}

type visit struct {
	entity.Base
	Plan *plan `doc:"plan,ref"`
	Step *step `doc:"step,ref"`
}

var testCollections = []string{"kinds", "plans", "visits"}

func testCodec() *graph.Codec {
	r := entity.NewRegistry()
	entity.MustRegister[kind](r, entity.Tag{Class: "Kind", Module: "test"})
	entity.MustRegister[step](r, entity.Tag{Class: "Step", Module: "test"})
	entity.MustRegister[plan](r, entity.Tag{Class: "Plan", Module: "test"})
	entity.MustRegister[visit](r, entity.Tag{Class: "Visit", Module: "test"})
	return graph.NewCodec(r)
}

type flakyBackend struct {
	*MemoryBackend
	failWrites bool
}

func (b *flakyBackend) Write(ctx context.Context, data []byte) error {
	if b.failWrites {
		return errors.New("disk full")
	}
	return b.MemoryBackend.Write(ctx, data)
}

func openMemory(t *testing.T, data []byte, opts ...Option) (*Store, *MemoryBackend) {
	t.Helper()
	backend := NewMemoryBackend(data)
	s, err := Open(context.Background(), backend, testCodec(), testCollections, opts...)
	require.NoError(t, err)
	return s, backend
}

func TestOpenInitializesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "data.json")
	s, err := Open(context.Background(), NewFileBackend(path), testCodec(), testCollections)
	require.NoError(t, err)
	require.Equal(t, 0, s.Len("kinds"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "{\n    \"kinds\": [],\n    \"plans\": [],\n    \"visits\": []\n}\n", string(raw))
}

func TestOpenInitializesEmptyDocument(t *testing.T) {
	_, backend := openMemory(t, []byte("  \n"))
	require.Equal(t, 1, backend.Writes())
	require.JSONEq(t, `{"kinds":[],"plans":[],"visits":[]}`, string(backend.Bytes()))
}

func TestOpenValidatesCollections(t *testing.T) {
	ctx := context.Background()
	_, err := Open(ctx, NewMemoryBackend(nil), testCodec(), nil)
	require.Error(t, err)
	_, err = Open(ctx, NewMemoryBackend(nil), testCodec(), []string{"a", "a"})
	require.Error(t, err)
	_, err = Open(ctx, NewMemoryBackend(nil), testCodec(), []string{"a"}, WithCollectionAlias("old", "missing"))
	require.ErrorIs(t, err, ErrUnknownCollection)
}

func TestUpsertAppendsThenReplaces(t *testing.T) {
	ctx := context.Background()
	s, backend := openMemory(t, nil)

	bench := &kind{Name: "Bench"}
	require.NoError(t, s.Upsert(ctx, "kinds", bench))
	require.False(t, bench.ID.IsZero())
	require.NoError(t, s.Upsert(ctx, "kinds", &kind{Name: "Squat"}))
	require.Equal(t, 2, s.Len("kinds"))

	renamed := &kind{Base: entity.Base{ID: bench.ID}, Name: "Bench press"}
	require.NoError(t, s.Upsert(ctx, "kinds", renamed))
	require.Equal(t, 2, s.Len("kinds"))

	all, err := AllOf[*kind](s, "kinds")
	require.NoError(t, err)
	require.Equal(t, "Squat", all[0].Name)
	require.Same(t, renamed, all[1])

	got, ok := s.Get(bench.ID)
	require.True(t, ok)
	require.Same(t, renamed, got)
	require.Equal(t, 4, backend.Writes())
}

func TestUpsertUnknownCollection(t *testing.T) {
	s, backend := openMemory(t, nil)
	err := s.Upsert(context.Background(), "nope", &kind{Name: "x"})
	require.ErrorIs(t, err, ErrUnknownCollection)
	require.Equal(t, 1, backend.Writes())

	_, err = s.All("nope")
	require.ErrorIs(t, err, ErrUnknownCollection)
}

func TestUpsertRejectsUnregisteredType(t *testing.T) {
	type stray struct{ entity.Base }
	s, _ := openMemory(t, nil)
	err := s.Upsert(context.Background(), "kinds", &stray{})
	require.ErrorIs(t, err, entity.ErrUnregisteredType)
	require.Equal(t, 0, s.Len("kinds"))
}

func TestReloadSharesCanonicalInstances(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data.json")
	s, err := Open(ctx, NewFileBackend(path), testCodec(), testCollections)
	require.NoError(t, err)

	bench := &kind{Name: "Bench"}
	require.NoError(t, s.Upsert(ctx, "kinds", bench))
	push := &plan{Name: "Push", Steps: []*step{{Kind: bench, Rest: 90}}}
	require.NoError(t, s.Upsert(ctx, "plans", push))
	require.NoError(t, s.Upsert(ctx, "visits", &visit{Plan: push, Step: push.Steps[0]}))

	reloaded, err := Open(ctx, NewFileBackend(path), testCodec(), testCollections)
	require.NoError(t, err)

	kinds, err := AllOf[*kind](reloaded, "kinds")
	require.NoError(t, err)
	plans, err := AllOf[*plan](reloaded, "plans")
	require.NoError(t, err)
	visits, err := AllOf[*visit](reloaded, "visits")
	require.NoError(t, err)

	require.Len(t, plans, 1)
	require.Equal(t, "Push", plans[0].Name)
	require.Equal(t, bench.ID, kinds[0].ID)
	require.Same(t, kinds[0], plans[0].Steps[0].Kind)
	require.Same(t, plans[0], visits[0].Plan)
	require.Same(t, plans[0].Steps[0], visits[0].Step)
}

func TestUpsertRebindsReferencesAcrossCollections(t *testing.T) {
	ctx := context.Background()
	s, _ := openMemory(t, nil)

	bench := &kind{Name: "Bench"}
	require.NoError(t, s.Upsert(ctx, "kinds", bench))
	push := &plan{Name: "Push", Steps: []*step{{Kind: bench, Rest: 90}}}
	require.NoError(t, s.Upsert(ctx, "plans", push))
	v := &visit{Plan: push, Step: push.Steps[0]}
	require.NoError(t, s.Upsert(ctx, "visits", v))

	snapshots, err := SnapshotOf[*plan](s, "plans")
	require.NoError(t, err)
	edited := snapshots[0]
	edited.Steps[0].Rest = 120
	require.Equal(t, 90, push.Steps[0].Rest)

	require.NoError(t, s.Upsert(ctx, "plans", edited))
	require.Same(t, edited, v.Plan)
	require.Same(t, edited.Steps[0], v.Step)
	require.Equal(t, 120, v.Step.Rest)
	require.Same(t, bench, edited.Steps[0].Kind)
}

func TestWriteFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	backend := &flakyBackend{MemoryBackend: NewMemoryBackend(nil)}
	s, err := Open(ctx, backend, testCodec(), testCollections)
	require.NoError(t, err)

	bench := &kind{Name: "Bench"}
	require.NoError(t, s.Upsert(ctx, "kinds", bench))
	push := &plan{Name: "Push", Steps: []*step{{Kind: bench, Rest: 90}}}
	require.NoError(t, s.Upsert(ctx, "plans", push))
	before := string(backend.Bytes())

	backend.failWrites = true
	edited, err := SnapshotOf[*plan](s, "plans")
	require.NoError(t, err)
	edited[0].Name = "Pull"
	err = s.Upsert(ctx, "plans", edited[0])
	require.ErrorContains(t, err, "disk full")

	plans, err := AllOf[*plan](s, "plans")
	require.NoError(t, err)
	require.Len(t, plans, 1)
	require.Same(t, push, plans[0])
	got, _ := s.Get(push.Steps[0].ID)
	require.Same(t, push.Steps[0], got)
	require.Equal(t, before, string(backend.Bytes()))

	require.Error(t, s.Upsert(ctx, "kinds", &kind{Name: "Row"}))
	require.Equal(t, 1, s.Len("kinds"))
}

func TestTransactCallbackFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	s, backend := openMemory(t, nil)
	bench := &kind{Name: "Bench"}
	require.NoError(t, s.Upsert(ctx, "kinds", bench))
	writes := backend.Writes()

	boom := errors.New("boom")
	err := s.Transact(ctx, func(tx Tx) error {
		require.NoError(t, tx.Upsert("kinds", &kind{Name: "Row"}))
		require.NoError(t, tx.Upsert("kinds", &kind{Base: entity.Base{ID: bench.ID}, Name: "renamed"}))
		_, ok := tx.Find("kinds", func(e entity.Entity) bool { return e.(*kind).Name == "Row" })
		require.True(t, ok)
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, writes, backend.Writes())

	all, err := AllOf[*kind](s, "kinds")
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Same(t, bench, all[0])
	require.Equal(t, "Bench", bench.Name)
	got, _ := s.Get(bench.ID)
	require.Same(t, bench, got)
}

func TestTransactWritesOnce(t *testing.T) {
	ctx := context.Background()
	s, backend := openMemory(t, nil)
	err := s.Transact(ctx, func(tx Tx) error {
		if err := tx.Upsert("kinds", &kind{Name: "A"}); err != nil {
			return err
		}
		return tx.Upsert("kinds", &kind{Name: "B"})
	})
	require.NoError(t, err)
	require.Equal(t, 2, backend.Writes())
	require.Equal(t, 2, s.Len("kinds"))
}

func TestLoadRejectsMalformedDocuments(t *testing.T) {
	cases := map[string]string{
		"invalid json":   `{"kinds": [`,
		"not a list":     `{"kinds": {"a": 1}}`,
		"missing id":     `{"kinds": [{"_class": "Kind", "_module": "test", "name": "Bench"}]}`,
		"unknown tag":    `{"kinds": [{"_class": "Ghost", "_module": "test", "id": "g"}]}`,
		"bad field type": `{"plans": [{"_class": "Plan", "_module": "test", "id": "p", "steps": [{"_class": "Step", "_module": "test", "id": "s", "rest": "long"}]}]}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Open(context.Background(), NewMemoryBackend([]byte(doc)), testCodec(), testCollections)
			require.ErrorIs(t, err, graph.ErrMalformedDocument)
		})
	}
}

func TestLoadFailureKeepsState(t *testing.T) {
	ctx := context.Background()
	s, backend := openMemory(t, nil)
	require.NoError(t, s.Upsert(ctx, "kinds", &kind{Name: "Bench"}))

	require.NoError(t, backend.Write(ctx, []byte(`{"kinds": [{"_class": "Ghost"}]}`)))
	require.Error(t, s.Load(ctx))
	require.Equal(t, 1, s.Len("kinds"))
}

func TestLoadMalformedPath(t *testing.T) {
	doc := `{"kinds": [], "plans": [{"_class": "Plan", "_module": "test", "id": "p", "steps": [{"_class": "Step", "_module": "test", "id": "s", "rest": 1.5}]}]}`
	_, err := Open(context.Background(), NewMemoryBackend([]byte(doc)), testCodec(), testCollections)
	var mde *graph.MalformedDocumentError
	require.True(t, errors.As(err, &mde))
	require.Equal(t, "plans[0].steps[0].rest", mde.Path)
}

func TestLoadKeepsRepeatedRecordOnceAndDropsUnknownCollections(t *testing.T) {
	doc := `{
		"kinds": [
			{"_class": "Kind", "_module": "test", "id": "k1", "name": "Bench"},
			{"_class": "Kind", "_module": "test", "id": "k1", "name": "Bench again"}
		],
		"legacy": [1, 2, 3]
	}`
	s, backend := openMemory(t, []byte(doc))
	kinds, err := AllOf[*kind](s, "kinds")
	require.NoError(t, err)
	require.Len(t, kinds, 1)
	require.Equal(t, "Bench", kinds[0].Name)

	require.NoError(t, s.Save(context.Background()))
	require.NotContains(t, string(backend.Bytes()), "legacy")
}

func TestCollectionAliasReadsLegacyKey(t *testing.T) {
	doc := `{"oldKinds": [{"_class": "Kind", "_module": "test", "id": "k1", "name": "Bench"}]}`
	s, backend := openMemory(t, []byte(doc), WithCollectionAlias("oldKinds", "kinds"))
	require.Equal(t, 1, s.Len("kinds"))
	require.Equal(t, 1, s.Len("oldKinds"))

	require.NoError(t, s.Save(context.Background()))
	require.NotContains(t, string(backend.Bytes()), "oldKinds")

	var written map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(backend.Bytes(), &written))
	require.Contains(t, string(written["kinds"]), `"k1"`)
}

func TestSnapshotIsolatesAndFindIsLive(t *testing.T) {
	ctx := context.Background()
	s, _ := openMemory(t, nil)
	bench := &kind{Name: "Bench"}
	require.NoError(t, s.Upsert(ctx, "kinds", bench))

	snap, err := SnapshotOf[*kind](s, "kinds")
	require.NoError(t, err)
	snap[0].Name = "changed"
	require.Equal(t, "Bench", bench.Name)

	found, ok := FindOf(s, "kinds", func(k *kind) bool { return k.Name == "Bench" })
	require.True(t, ok)
	require.Same(t, bench, found)

	_, ok = FindOf(s, "kinds", func(k *kind) bool { return k.Name == "changed" })
	require.False(t, ok)
	_, ok = s.Find("nope", func(entity.Entity) bool { return true })
	require.False(t, ok)
}

func TestListenersNotifiedAfterWrite(t *testing.T) {
	ctx := context.Background()
	var seen []string
	backend := NewMemoryBackend(nil)
	recorder := ListenerFunc(func(_ context.Context, collection string, e entity.Entity) error {
		seen = append(seen, collection+":"+e.(*kind).Name)
		require.Contains(t, string(backend.Bytes()), e.EntityID().String())
		return nil
	})
	failing := ListenerFunc(func(context.Context, string, entity.Entity) error {
		return errors.New("broker down")
	})
	s, err := Open(ctx, backend, testCodec(), testCollections, WithListener(failing), WithListener(recorder))
	require.NoError(t, err)

	var notified entity.Entity
	s.listeners = append(s.listeners, ListenerFunc(func(_ context.Context, _ string, e entity.Entity) error {
		notified = e
		return nil
	}))

	bench := &kind{Name: "Bench"}
	require.NoError(t, s.Upsert(ctx, "kinds", bench))
	require.Equal(t, []string{"kinds:Bench"}, seen)
	require.Equal(t, bench.ID, notified.EntityID())
	require.NotSame(t, bench, notified)
}

func TestFileBackendWritesAtomically(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")
	backend := NewFileBackend(path)

	_, err := backend.Read(ctx)
	require.ErrorIs(t, err, ErrNoDocument)

	require.NoError(t, backend.Write(ctx, []byte(`{"a": 1}`)))
	require.NoError(t, backend.Write(ctx, []byte(`{"a": 2}`)))
	data, err := backend.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, `{"a": 2}`, string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.False(t, strings.HasSuffix(entries[0].Name(), ".tmp"))
}

func TestFileBackendLeavesDocumentOnFailedRename(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	target := filepath.Join(dir, "data.json")
	require.NoError(t, os.Mkdir(target, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(target, "keep"), []byte("x"), 0o644))

	err := NewFileBackend(target).Write(ctx, []byte(`{}`))
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestBackfillIDs(t *testing.T) {
	doc := []byte(`{
		"kinds": [{"_class": "Kind", "_module": "test", "name": "Bench"}],
		"plans": [{"_class": "Plan", "_module": "test", "id": "keep", "steps": [
			{"_class": "Step", "_module": "test", "id": "", "rest": 90,
			 "kind": {"_class": "Kind", "_module": "test", "name": "Bench"}}
		]}]
	}`)
	out, assigned, err := BackfillDocument(doc)
	require.NoError(t, err)
	require.Equal(t, 3, assigned)
	require.Contains(t, string(out), `"id": "keep"`)

	s, _ := openMemory(t, out)
	plans, err := AllOf[*plan](s, "plans")
	require.NoError(t, err)
	require.Equal(t, entity.ID("keep"), plans[0].ID)
	require.False(t, plans[0].Steps[0].ID.IsZero())
	require.Equal(t, 90, plans[0].Steps[0].Rest)

	_, again, err := BackfillDocument(out)
	require.NoError(t, err)
	require.Zero(t, again)
}

func TestBackfillDocumentKeepsKeyOrder(t *testing.T) {
	doc := []byte(`{"plans": [{"_class": "Plan", "_module": "test", "zeta": 1, "name": "Push", "steps": []}],
		"kinds": [{"_class": "Kind", "_module": "test", "name": "Row", "id": "", "owner": 123456789012345678}]}`)
	out, assigned, err := BackfillDocument(doc)
	require.NoError(t, err)
	require.Equal(t, 2, assigned)

	text := string(out)
	requireOrdered := func(keys ...string) {
		t.Helper()
		last := -1
		for _, key := range keys {
			at := strings.Index(text[last+1:], key)
			require.GreaterOrEqual(t, at, 0, "%s missing after offset %d in %s", key, last, text)
			last += at + 1
		}
	}
	requireOrdered(`"plans"`, `"_class": "Plan"`, `"_module"`, `"id"`, `"zeta"`, `"name": "Push"`, `"steps"`, `"kinds"`)
	requireOrdered(`"kinds"`, `"_class": "Kind"`, `"name": "Row"`, `"id"`, `"owner": 123456789012345678`)
	require.True(t, strings.HasSuffix(text, "}\n"))

	_, err = graph.ReadDocument(strings.NewReader(`[1, 2]`))
	require.ErrorIs(t, err, graph.ErrMalformedDocument)
	_, _, err = BackfillDocument([]byte(`{"plans": [`))
	require.ErrorIs(t, err, graph.ErrMalformedDocument)
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"casekeeper/internal/apperr"
	"casekeeper/internal/models"
	"casekeeper/internal/storage"
)

var testNow = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

func newTestRepository(t *testing.T, kv storage.KV, opts ...Option) *Repository {
	t.Helper()
	if kv == nil {
		kv = storage.NewMemory(0)
	}
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	repo, err := Open(context.Background(), kv, opts...)
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	return repo
}

type recordingCascade struct {
	mu        sync.Mutex
	forCase   []string
	partial   map[string][]models.AttachmentMetadata
	returnErr error
}

func (c *recordingCascade) DeleteAttachmentsForCase(_ context.Context, caseID string, _ []models.AttachmentMetadata) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forCase = append(c.forCase, caseID)
	return c.returnErr
}

func (c *recordingCascade) DeleteAttachments(_ context.Context, caseID string, metas []models.AttachmentMetadata) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.partial == nil {
		c.partial = map[string][]models.AttachmentMetadata{}
	}
	c.partial[caseID] = metas
	return c.returnErr
}

func TestSaveInsertThenUpdate(t *testing.T) {
	repo := newTestRepository(t, nil)
	ctx := context.Background()

	rec := models.CaseRecord{ID: "250101-1", Category: models.CategoryExpenses, ApplicantName: " Fatima "}
	saved, outcome, err := repo.Save(ctx, rec)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if outcome != OutcomeInserted {
		t.Fatalf("expected inserted, got %s", outcome)
	}
	if saved.ApplicantName != "Fatima" {
		t.Fatalf("expected trimmed name, got %q", saved.ApplicantName)
	}
	if repo.Counter() != 1 {
		t.Fatalf("expected counter 1, got %d", repo.Counter())
	}

	rec.ApplicantName = "Fatima Ali"
	_, outcome, err = repo.Save(ctx, rec)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if outcome != OutcomeUpdated {
		t.Fatalf("expected updated, got %s", outcome)
	}
	if repo.Counter() != 1 {
		t.Fatalf("update must not move counter, got %d", repo.Counter())
	}

	list, err := repo.List(models.CategoryExpenses)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ApplicantName != "Fatima Ali" {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestSaveUpdatePreservesPosition(t *testing.T) {
	repo := newTestRepository(t, nil)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if _, _, err := repo.Save(ctx, models.CaseRecord{ID: id, Category: models.CategoryAid}); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	if _, _, err := repo.Save(ctx, models.CaseRecord{ID: "b", Category: models.CategoryAid, Notes: "edited"}); err != nil {
		t.Fatalf("update: %v", err)
	}

	// Equal dates keep insertion order, so List exposes array position.
	list, _ := repo.List(models.CategoryAid)
	got := []string{list[0].ID, list[1].ID, list[2].ID}
	if fmt.Sprint(got) != "[a b c]" {
		t.Fatalf("unexpected order: %v", got)
	}
	if list[1].Notes != "edited" {
		t.Fatalf("update not applied: %+v", list[1])
	}
}

func TestSaveRequiresCategory(t *testing.T) {
	repo := newTestRepository(t, nil)
	_, _, err := repo.Save(context.Background(), models.CaseRecord{ID: "x"})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if apperr.CodeOf(err) != apperr.CodeMissingRequired {
		t.Fatalf("unexpected code %d", apperr.CodeOf(err))
	}

	_, _, err = repo.Save(context.Background(), models.CaseRecord{ID: "x", Category: "other"})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for unknown category, got %v", err)
	}
	if repo.Counter() != 0 {
		t.Fatalf("failed saves must not move counter")
	}
}

func TestSaveValidationCodes(t *testing.T) {
	repo := newTestRepository(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		rec  models.CaseRecord
		code int
	}{
		{name: "unknown category", rec: models.CaseRecord{Category: "other"}, code: apperr.CodeInvalidCategory},
		{name: "negative amount", rec: models.CaseRecord{Category: models.CategoryAid, Amount: -5}, code: apperr.CodeInvalidArgument},
		{name: "negative family size", rec: models.CaseRecord{Category: models.CategoryAid, FamilySize: -1}, code: apperr.CodeInvalidArgument},
		{name: "duplicate attachment id", rec: models.CaseRecord{Category: models.CategoryAid, Attachments: []models.AttachmentMetadata{
			{ID: "a", DataKey: storage.AttachmentKey("c", "a")},
			{ID: "a", DataKey: storage.AttachmentKey("c", "a")},
		}}, code: apperr.CodeInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := repo.Save(ctx, tt.rec)
			if !errors.Is(err, apperr.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if got := apperr.CodeOf(err); got != tt.code {
				t.Fatalf("expected code %d, got %d (%v)", tt.code, got, err)
			}
		})
	}
}

func TestSaveMintsID(t *testing.T) {
	repo := newTestRepository(t, nil)
	ctx := context.Background()

	saved, _, err := repo.Save(ctx, models.CaseRecord{Category: models.CategorySponsorship})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.ID != "250101-1" {
		t.Fatalf("expected minted id 250101-1, got %q", saved.ID)
	}
	if !saved.Date.Equal(testNow) {
		t.Fatalf("expected default date, got %s", saved.Date)
	}

	// An explicit id that collides with the next minted one is skipped over.
	if _, _, err := repo.Save(ctx, models.CaseRecord{ID: "250101-3", Category: models.CategorySponsorship}); err != nil {
		t.Fatalf("save explicit: %v", err)
	}
	saved, _, err = repo.Save(ctx, models.CaseRecord{Category: models.CategorySponsorship})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.ID != "250101-4" {
		t.Fatalf("expected 250101-4, got %q", saved.ID)
	}
}

func TestListSortsByDateDescending(t *testing.T) {
	repo := newTestRepository(t, nil)
	ctx := context.Background()
	day := func(d int) time.Time { return time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC) }

	records := []models.CaseRecord{
		{ID: "old", Date: day(1)},
		{ID: "new", Date: day(5)},
		{ID: "tie-first", Date: day(3)},
		{ID: "tie-second", Date: day(3)},
	}
	for _, rec := range records {
		rec.Category = models.CategoryExpenses
		if _, _, err := repo.Save(ctx, rec); err != nil {
			t.Fatalf("save %s: %v", rec.ID, err)
		}
	}

	list, err := repo.List(models.CategoryExpenses)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var ids []string
	for _, rec := range list {
		ids = append(ids, rec.ID)
	}
	if fmt.Sprint(ids) != "[new tie-first tie-second old]" {
		t.Fatalf("unexpected order: %v", ids)
	}
}

func TestListRejectsUnknownCategory(t *testing.T) {
	repo := newTestRepository(t, nil)
	if _, err := repo.List("nope"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDeleteCascades(t *testing.T) {
	cascade := &recordingCascade{}
	repo := newTestRepository(t, nil, WithCascade(cascade))
	ctx := context.Background()

	rec := models.CaseRecord{
		ID:       "250101-1",
		Category: models.CategoryExpenses,
		Attachments: []models.AttachmentMetadata{
			{ID: "a1", DataKey: storage.AttachmentKey("250101-1", "a1")},
		},
	}
	if _, _, err := repo.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := repo.Delete(ctx, "250101-1", models.CategoryExpenses); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(cascade.forCase) != 1 || cascade.forCase[0] != "250101-1" {
		t.Fatalf("expected cascade for case, got %v", cascade.forCase)
	}
	if _, err := repo.Get("250101-1", models.CategoryExpenses); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}

	err := repo.Delete(ctx, "250101-1", models.CategoryExpenses)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestDeleteSurvivesCascadeFailure(t *testing.T) {
	cascade := &recordingCascade{returnErr: errors.New("blob store down")}
	repo := newTestRepository(t, nil, WithCascade(cascade))
	ctx := context.Background()

	if _, _, err := repo.Save(ctx, models.CaseRecord{ID: "x", Category: models.CategoryAid}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := repo.Delete(ctx, "x", models.CategoryAid); err != nil {
		t.Fatalf("delete should succeed despite cascade failure: %v", err)
	}
	if repo.Counts()[models.CategoryAid] != 0 {
		t.Fatalf("record should be removed")
	}
}

func TestDeleteKeepsBlobsSharedWithOtherCategory(t *testing.T) {
	cascade := &recordingCascade{}
	repo := newTestRepository(t, nil, WithCascade(cascade))
	ctx := context.Background()

	shared := models.AttachmentMetadata{ID: "s", DataKey: storage.AttachmentKey("dup", "s")}
	own := models.AttachmentMetadata{ID: "o", DataKey: storage.AttachmentKey("dup", "o")}
	if _, _, err := repo.Save(ctx, models.CaseRecord{ID: "dup", Category: models.CategoryExpenses, Attachments: []models.AttachmentMetadata{shared, own}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, _, err := repo.Save(ctx, models.CaseRecord{ID: "dup", Category: models.CategoryAid, Attachments: []models.AttachmentMetadata{shared}}); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := repo.Delete(ctx, "dup", models.CategoryExpenses); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(cascade.forCase) != 0 {
		t.Fatalf("full case cascade must not run while id is shared")
	}
	got := cascade.partial["dup"]
	if len(got) != 1 || got[0].ID != "o" {
		t.Fatalf("expected only unshared attachment deleted, got %+v", got)
	}
}

func TestFindByField(t *testing.T) {
	repo := newTestRepository(t, nil)
	ctx := context.Background()
	seed := []models.CaseRecord{
		{ID: "1", Category: models.CategoryExpenses, ApplicantName: "فاطمة أحمد", NationalID: "1001"},
		{ID: "2", Category: models.CategoryAid, ApplicantName: "Omar", NationalID: "1002"},
		{ID: "3", Category: models.CategoryAid, ApplicantName: "فاطمه", Fields: map[string]string{"district": "North"}},
	}
	for _, rec := range seed {
		if _, _, err := repo.Save(ctx, rec); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	all, err := repo.FindByField(ScopeAll, MatchText("فاطمة"))
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected both spellings to match, got %d", len(all))
	}

	aid, err := repo.FindByField(string(models.CategoryAid), MatchText("north"))
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(aid) != 1 || aid[0].ID != "3" {
		t.Fatalf("expected free-form field match, got %+v", aid)
	}

	byID, err := repo.FindByField(ScopeAll, MatchField(models.FieldNationalID, "1002"))
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(byID) != 1 || byID[0].ID != "2" {
		t.Fatalf("unexpected exact match result: %+v", byID)
	}

	if _, err := repo.FindByField("elsewhere", nil); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for bad scope, got %v", err)
	}
}

func TestHooks(t *testing.T) {
	var order []string
	var prevSeen *models.CaseRecord
	hooks := []Hook{
		{
			Name: "stamp",
			PreSave: func(_ context.Context, rec *models.CaseRecord) error {
				order = append(order, "pre")
				rec.Status = "open"
				return nil
			},
			PostSave: func(_ context.Context, prev *models.CaseRecord, _ models.CaseRecord) error {
				order = append(order, "post")
				prevSeen = prev
				return errors.New("ignored")
			},
			PostDelete: func(context.Context, models.CaseRecord) error {
				order = append(order, "delete")
				return nil
			},
		},
	}
	repo := newTestRepository(t, nil, WithHooks(hooks...))
	ctx := context.Background()

	saved, _, err := repo.Save(ctx, models.CaseRecord{ID: "h", Category: models.CategoryAid})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.Status != "open" {
		t.Fatalf("pre-save hook should set status, got %q", saved.Status)
	}
	if prevSeen != nil {
		t.Fatalf("insert should report nil prev")
	}
	if _, _, err := repo.Save(ctx, saved); err != nil {
		t.Fatalf("update: %v", err)
	}
	if prevSeen == nil || prevSeen.ID != "h" {
		t.Fatalf("update should report previous record")
	}
	if err := repo.Delete(ctx, "h", models.CategoryAid); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if fmt.Sprint(order) != "[pre post pre post delete]" {
		t.Fatalf("unexpected hook order: %v", order)
	}
}

func TestPreSaveHookAborts(t *testing.T) {
	repo := newTestRepository(t, nil, WithHooks(Hook{
		Name: "deny",
		PreSave: func(context.Context, *models.CaseRecord) error {
			return apperr.Validation(errors.New("denied"))
		},
	}))
	_, _, err := repo.Save(context.Background(), models.CaseRecord{ID: "x", Category: models.CategoryAid})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected hook error, got %v", err)
	}
	if repo.Counts()[models.CategoryAid] != 0 {
		t.Fatalf("aborted save must not persist")
	}
}

func TestReopenLoadsPersistedState(t *testing.T) {
	kv := storage.NewMemory(0)
	repo := newTestRepository(t, kv)
	ctx := context.Background()

	if _, _, err := repo.Save(ctx, models.CaseRecord{ID: "p", Category: models.CategoryExpenses, Amount: 120}); err != nil {
		t.Fatalf("save: %v", err)
	}
	settings := models.Settings{OrganizationName: "Relief", IDPrefix: "R-"}
	if err := repo.SaveSettings(ctx, settings); err != nil {
		t.Fatalf("save settings: %v", err)
	}

	reopened := newTestRepository(t, kv)
	got, err := reopened.Get("p", models.CategoryExpenses)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Amount != 120 {
		t.Fatalf("unexpected record: %+v", got)
	}
	if reopened.Counter() != 1 {
		t.Fatalf("expected counter 1, got %d", reopened.Counter())
	}
	if reopened.Settings().OrganizationName != "Relief" || reopened.Settings().Currency != models.DefaultCurrency {
		t.Fatalf("unexpected settings: %+v", reopened.Settings())
	}
}

func TestOpenRejectsMalformedCategory(t *testing.T) {
	kv := storage.NewMemory(0)
	ctx := context.Background()
	if err := kv.Put(ctx, storage.CasesKey(string(models.CategoryAid)), []byte("{not json")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_, err := Open(ctx, kv)
	if !errors.Is(err, apperr.ErrParse) {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestSaveQuotaLeavesStateUntouched(t *testing.T) {
	repo := newTestRepository(t, storage.NewMemory(300))
	ctx := context.Background()

	if _, _, err := repo.Save(ctx, models.CaseRecord{ID: "small", Category: models.CategoryAid}); err != nil {
		t.Fatalf("save: %v", err)
	}
	big := models.CaseRecord{ID: "big", Category: models.CategoryAid, Notes: string(make([]byte, 400))}
	_, _, err := repo.Save(ctx, big)
	if !errors.Is(err, apperr.ErrQuotaExceeded) {
		t.Fatalf("expected quota error, got %v", err)
	}
	if repo.Counts()[models.CategoryAid] != 1 || repo.Counter() != 1 {
		t.Fatalf("failed save must not change state: counts=%v counter=%d", repo.Counts(), repo.Counter())
	}
}

func TestReplaceStateKeepsCounterMonotonic(t *testing.T) {
	repo := newTestRepository(t, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, _, err := repo.Save(ctx, models.CaseRecord{Category: models.CategoryAid}); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	st := repo.Snapshot()
	st.Cases[models.CategoryAid] = append(st.Cases[models.CategoryAid], st.Cases[models.CategoryAid][0])
	st.Counter = 1
	if err := repo.ReplaceState(ctx, st); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if repo.Counter() != 3 {
		t.Fatalf("counter moved backwards: %d", repo.Counter())
	}
	if repo.Counts()[models.CategoryAid] != 3 {
		t.Fatalf("duplicates should be dropped, got %d", repo.Counts()[models.CategoryAid])
	}

	st.Cases[models.CategoryAid] = []models.CaseRecord{{Category: models.CategoryAid}}
	if err := repo.ReplaceState(ctx, st); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for missing id, got %v", err)
	}
	if repo.Counts()[models.CategoryAid] != 3 {
		t.Fatalf("rejected replace must not change state")
	}
}

func TestUpdateCascadesUnreferencedAttachments(t *testing.T) {
	cascade := &recordingCascade{}
	retained := storage.AttachmentKey("kept", "k1")
	repo := newTestRepository(t, nil,
		WithCascade(cascade),
		WithRetainedKeys(func(context.Context) ([]string, error) { return []string{retained}, nil }),
	)
	ctx := context.Background()

	dropped := models.CaseRecord{ID: "gone", Category: models.CategoryExpenses, Attachments: []models.AttachmentMetadata{
		{ID: "g1", DataKey: storage.AttachmentKey("gone", "g1")},
	}}
	kept := models.CaseRecord{ID: "kept", Category: models.CategoryAid, Attachments: []models.AttachmentMetadata{
		{ID: "k1", DataKey: retained},
	}}
	moved := models.CaseRecord{ID: "moved", Category: models.CategoryExpenses, Attachments: []models.AttachmentMetadata{
		{ID: "m1", DataKey: storage.AttachmentKey("moved", "m1")},
	}}
	for _, rec := range []models.CaseRecord{dropped, kept, moved} {
		if _, _, err := repo.Save(ctx, rec); err != nil {
			t.Fatalf("save %s: %v", rec.ID, err)
		}
	}

	err := repo.Update(ctx, func(st State) (State, error) {
		st.Cases[models.CategoryExpenses] = nil
		st.Cases[models.CategoryAid] = nil
		m := moved
		m.Category = models.CategorySponsorship
		st.Cases[models.CategorySponsorship] = []models.CaseRecord{m}
		return st, nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	got := cascade.partial["gone"]
	if len(got) != 1 || got[0].ID != "g1" {
		t.Fatalf("expected dropped record's attachment deleted, got %+v", got)
	}
	if metas, ok := cascade.partial["kept"]; ok {
		t.Fatalf("retained key must not be deleted, got %+v", metas)
	}
	if metas, ok := cascade.partial["moved"]; ok {
		t.Fatalf("key still referenced by the new state must not be deleted, got %+v", metas)
	}
}

func TestUpdateSkipsCascadeWhenRetainedKeysFail(t *testing.T) {
	cascade := &recordingCascade{}
	repo := newTestRepository(t, nil,
		WithCascade(cascade),
		WithRetainedKeys(func(context.Context) ([]string, error) { return nil, errors.New("snapshots unreadable") }),
	)
	ctx := context.Background()
	rec := models.CaseRecord{ID: "x", Category: models.CategoryAid, Attachments: []models.AttachmentMetadata{
		{ID: "a", DataKey: storage.AttachmentKey("x", "a")},
	}}
	if _, _, err := repo.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := repo.ReplaceState(ctx, State{}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if len(cascade.partial) != 0 {
		t.Fatalf("payloads must stay when retained keys are unknown, got %+v", cascade.partial)
	}
	if repo.Counts()[models.CategoryAid] != 0 {
		t.Fatalf("replace should still commit")
	}
}

func TestUpdateSerializesConcurrentWriters(t *testing.T) {
	repo := newTestRepository(t, nil)
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- repo.Update(ctx, func(st State) (State, error) {
				rec := models.CaseRecord{ID: fmt.Sprintf("w-%d", i), Category: models.CategoryAid}
				st.Cases[models.CategoryAid] = append(st.Cases[models.CategoryAid], rec)
				return st, nil
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	if got := repo.Counts()[models.CategoryAid]; got != writers {
		t.Fatalf("expected %d records, got %d", writers, got)
	}
}

func TestUpdateErrorLeavesStateUntouched(t *testing.T) {
	repo := newTestRepository(t, nil)
	ctx := context.Background()
	if _, _, err := repo.Save(ctx, models.CaseRecord{ID: "a", Category: models.CategoryAid}); err != nil {
		t.Fatalf("save: %v", err)
	}
	err := repo.Update(ctx, func(st State) (State, error) {
		st.Cases[models.CategoryAid] = nil
		return st, errors.New("merge failed")
	})
	if err == nil {
		t.Fatal("expected update error")
	}
	if repo.Counts()[models.CategoryAid] != 1 {
		t.Fatalf("failed update must not change state")
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	repo := newTestRepository(t, nil)
	ctx := context.Background()
	if _, _, err := repo.Save(ctx, models.CaseRecord{ID: "d", Category: models.CategoryAid, Fields: map[string]string{"k": "v"}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	st := repo.Snapshot()
	st.Cases[models.CategoryAid][0].Fields["k"] = "changed"

	got, _ := repo.Get("d", models.CategoryAid)
	if got.Fields["k"] != "v" {
		t.Fatalf("snapshot mutation leaked into repository")
	}
}

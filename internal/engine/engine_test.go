package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"github.com/arkilian/bookingstore/internal/aggregate"
	"github.com/arkilian/bookingstore/internal/catalog"
	"github.com/arkilian/bookingstore/internal/errors"
	"github.com/arkilian/bookingstore/internal/index"
	"github.com/arkilian/bookingstore/internal/query/planner"
	"github.com/arkilian/bookingstore/pkg/types"
)

func testOptions(years ...int) Options {
	opts := DefaultOptions()
	opts.Boundaries = years
	opts.DefaultIndexes = index.DefaultDefinitions
	return opts
}

func newTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	e, err := New(context.Background(), opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return e
}

func day(s string) time.Time {
	t, err := types.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func booking(id, subject, resource, start string, amount int64) types.Booking {
	rs := day(start)
	return types.Booking{
		ID:         id,
		SubjectID:  subject,
		ResourceID: resource,
		RangeStart: rs,
		RangeEnd:   rs.AddDate(0, 0, 2),
		Amount:     decimal.NewFromInt(amount),
	}
}

func submit(t *testing.T, e *Engine, b types.Booking) string {
	t.Helper()
	id, err := e.Submit(context.Background(), b)
	if err != nil {
		t.Fatalf("Submit(%s) failed: %v", b.ID, err)
	}
	return id
}

func cond(t *testing.T, field, op, value string) planner.Condition {
	t.Helper()
	c, err := planner.NewCondition(field, op, value)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func ids(records []types.Booking) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func TestScenario_OneYearQueryTouchesOnePartition(t *testing.T) {
	e := newTestEngine(t, testOptions(2023, 2024, 2025))
	submit(t, e, booking("a", "S1", "R1", "2023-03-01", 100))
	submit(t, e, booking("b", "S1", "R1", "2023-11-20", 100))
	submit(t, e, booking("c", "S2", "R1", "2024-02-10", 100))
	submit(t, e, booking("d", "S2", "R2", "2024-12-31", 100))

	res, err := e.Query(context.Background(), planner.Query{
		Where: []planner.Condition{
			cond(t, "range_start", ">=", "2024-01-01"),
			cond(t, "range_start", "<=", "2024-12-31"),
		},
		Sort: &planner.SortKey{Field: types.FieldRangeStart},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := fmt.Sprint(ids(res.Records)); got != "[c d]" {
		t.Errorf("records = %s, want [c d]", got)
	}
	if res.Stats.PartitionsScanned != 1 {
		t.Errorf("partitions scanned = %d, want 1 (plan %s)", res.Stats.PartitionsScanned, res.Stats.Plan)
	}
	if res.Stats.PartitionsPruned != 3 {
		t.Errorf("partitions pruned = %d, want 3", res.Stats.PartitionsPruned)
	}
}

func TestScenario_BoundaryAddedLaterDoesNotMigrate(t *testing.T) {
	e := newTestEngine(t, testOptions(2024))
	ctx := context.Background()

	submit(t, e, booking("early", "S", "R", "2027-06-01", 10))
	if pid, _ := e.Directory().Locate("early"); pid != types.FallbackPartition {
		t.Fatalf("early routed to %d, want fallback", pid)
	}

	info, err := e.AddPartitionBoundary(ctx, 2027)
	if err != nil {
		t.Fatal(err)
	}
	if info.Name != "p2027" || len(info.Indexes) != len(index.DefaultDefinitions) {
		t.Errorf("new partition = %+v", info)
	}
	if _, err := e.AddPartitionBoundary(ctx, 2027); errors.GetCode(err) != errors.CodeConflict {
		t.Errorf("duplicate boundary: got %v, want conflict", err)
	}

	submit(t, e, booking("late", "S", "R", "2027-08-01", 10))
	if pid, _ := e.Directory().Locate("late"); pid != info.ID {
		t.Errorf("late routed to %d, want %d", pid, info.ID)
	}
	if pid, _ := e.Directory().Locate("early"); pid != types.FallbackPartition {
		t.Errorf("early moved to %d", pid)
	}

	res, err := e.Query(ctx, planner.Query{
		Where: []planner.Condition{
			cond(t, "range_start", ">=", "2027-01-01"),
			cond(t, "range_start", "<", "2028-01-01"),
		},
		Sort: &planner.SortKey{Field: types.FieldRangeStart},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := fmt.Sprint(ids(res.Records)); got != "[early late]" {
		t.Errorf("2027 records = %s, want [early late]", got)
	}
}

func TestScenario_CancelSubtractsOnce(t *testing.T) {
	e := newTestEngine(t, testOptions(2024))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		submit(t, e, booking(fmt.Sprintf("x%d", i), "X", "R", "2024-05-01", 100))
	}
	for i := 0; i < 2; i++ {
		if err := e.Transition(ctx, "x2", types.StatusCanceled); err != nil {
			t.Fatalf("cancel #%d failed: %v", i+1, err)
		}
	}

	s, err := e.SubjectSummary("X")
	if err != nil {
		t.Fatal(err)
	}
	if s.Count != 4 || !s.Total.Equal(decimal.NewFromInt(400)) {
		t.Errorf("summary = count %d total %s, want 4 and 400", s.Count, s.Total)
	}
	r, _ := e.ResourceSummary("R")
	if r.Count != 4 || !r.Total.Equal(decimal.NewFromInt(400)) {
		t.Errorf("resource summary = %+v", r)
	}
}

func TestScenario_WritesSerializePerPartition(t *testing.T) {
	opts := testOptions(2023, 2024)
	opts.Partition.LockTimeout = 5 * time.Second
	e := newTestEngine(t, opts)
	ctx := context.Background()

	held, _ := e.Directory().Partition(e.Directory().Route(day("2024-01-01")))
	release, err := held.Lock(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// a different partition is not blocked
	done := make(chan error, 1)
	go func() {
		_, err := e.Submit(ctx, booking("other", "S", "R", "2023-04-01", 1))
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("insert into an unlocked partition blocked")
	}

	// the same partition waits for the holder
	go func() {
		_, err := e.Submit(ctx, booking("same", "S", "R", "2024-04-01", 1))
		done <- err
	}()
	select {
	case <-done:
		t.Fatal("insert into a locked partition did not wait")
	case <-time.After(50 * time.Millisecond):
	}
	release()
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	stats := e.Collector().LockStats("p2024")
	if stats.Contended < 1 || stats.TotalWait <= 0 {
		t.Errorf("p2024 lock stats = %+v, want a contended wait", stats)
	}
	if other := e.Collector().LockStats("p2023"); other.Contended != 0 {
		t.Errorf("p2023 lock stats = %+v, want no contention", other)
	}
}

func TestAddPartitionBoundary_ConcurrentSubmits(t *testing.T) {
	e := newTestEngine(t, testOptions(2024))
	ctx := context.Background()

	for year := 2030; year < 2050; year++ {
		start := make(chan struct{})
		errs := make(chan error, 4*50+1)
		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				<-start
				for i := 0; i < 50; i++ {
					b := booking(fmt.Sprintf("%d-%d-%d", year, w, i), "S", "R", fmt.Sprintf("%d-03-01", year), 1)
					if _, err := e.Submit(ctx, b); err != nil {
						errs <- err
					}
				}
			}(w)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := e.AddPartitionBoundary(ctx, year); err != nil {
				errs <- err
			}
		}()
		close(start)
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatalf("year %d: %v", year, err)
		}
		if err := e.CheckConsistency(ctx); err != nil {
			t.Fatalf("year %d: %v", year, err)
		}
	}
}

func TestSubmit_Validation(t *testing.T) {
	e := newTestEngine(t, testOptions(2024))
	ctx := context.Background()

	bad := booking("bad", "S", "R", "2024-01-10", 5)
	bad.RangeEnd = bad.RangeStart
	if _, err := e.Submit(ctx, bad); errors.GetCode(err) != errors.CodeInvariantViolation {
		t.Errorf("empty range: got %v, want invariant violation", err)
	}
	neg := booking("neg", "S", "R", "2024-01-10", -5)
	if _, err := e.Submit(ctx, neg); errors.GetCode(err) != errors.CodeInvariantViolation {
		t.Errorf("negative amount: got %v", err)
	}

	first := submit(t, e, booking("", "S", "R", "2024-01-10", 5))
	second := submit(t, e, booking("", "S", "R", "2024-01-11", 5))
	if first == "" || first == second {
		t.Errorf("generated ids %q, %q", first, second)
	}
	a, _ := e.Get(ctx, first)
	b, _ := e.Get(ctx, second)
	if a.Status != types.StatusPending {
		t.Errorf("default status = %s", a.Status)
	}
	if !b.CreatedAt.After(a.CreatedAt) {
		t.Errorf("created_at not increasing: %v then %v", a.CreatedAt, b.CreatedAt)
	}

	dup := booking(first, "S2", "R2", "2024-06-01", 1)
	if _, err := e.Submit(ctx, dup); errors.GetCode(err) != errors.CodeConflict {
		t.Errorf("duplicate id: got %v, want conflict", err)
	}
	if s, _ := e.SubjectSummary("S2"); s.Count != 0 {
		t.Errorf("rejected duplicate reached summaries: %+v", s)
	}
}

func TestTransition_Rules(t *testing.T) {
	e := newTestEngine(t, testOptions(2024))
	ctx := context.Background()
	submit(t, e, booking("a", "S", "R", "2024-01-10", 5))

	tests := []struct {
		name   string
		id     string
		status types.Status
		code   string
	}{
		{"confirm", "a", types.StatusConfirmed, ""},
		{"confirm again", "a", types.StatusConfirmed, ""},
		{"back to pending", "a", types.StatusPending, errors.CodeConflict},
		{"cancel", "a", types.StatusCanceled, ""},
		{"revive", "a", types.StatusConfirmed, errors.CodeConflict},
		{"unknown status", "a", types.Status("lost"), errors.CodeInvariantViolation},
		{"unknown record", "zzz", types.StatusCanceled, errors.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.Transition(ctx, tt.id, tt.status)
			if got := errors.GetCode(err); got != tt.code {
				t.Errorf("code = %q (%v), want %q", got, err, tt.code)
			}
		})
	}
	got, _ := e.Get(ctx, "a")
	if got.Status != types.StatusCanceled {
		t.Errorf("final status = %s", got.Status)
	}
}

func TestDelete(t *testing.T) {
	e := newTestEngine(t, testOptions(2024))
	ctx := context.Background()
	submit(t, e, booking("a", "S", "R", "2024-01-10", 5))
	submit(t, e, booking("b", "S", "R", "2024-02-10", 7))

	if err := e.Delete(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Get(ctx, "a"); errors.GetCode(err) != errors.CodeNotFound {
		t.Errorf("Get after delete: %v", err)
	}
	if err := e.Delete(ctx, "a"); errors.GetCode(err) != errors.CodeNotFound {
		t.Errorf("second delete: %v", err)
	}
	s, _ := e.SubjectSummary("S")
	if s.Count != 1 || !s.Total.Equal(decimal.NewFromInt(7)) {
		t.Errorf("summary after delete = %+v", s)
	}
	if err := e.CheckConsistency(ctx); err != nil {
		t.Error(err)
	}
	// the id is free again
	submit(t, e, booking("a", "S", "R", "2024-03-10", 1))
}

func TestSubmit_BusyIsRetryable(t *testing.T) {
	opts := testOptions(2024)
	opts.Partition.LockTimeout = 20 * time.Millisecond
	e := newTestEngine(t, opts)
	ctx := context.Background()

	part, _ := e.Directory().Partition(e.Directory().Route(day("2024-01-01")))
	release, _ := part.Lock(ctx)
	defer release()

	_, err := e.Submit(ctx, booking("a", "S", "R", "2024-05-01", 1))
	if errors.GetCode(err) != errors.CodeBusy || !errors.IsRetryable(err) {
		t.Errorf("got %v, want retryable busy", err)
	}
	if _, ok := e.Directory().Locate("a"); ok {
		t.Error("timed out insert left the id registered")
	}
	if st := e.Collector().LockStats("p2024"); st.Timeouts != 1 {
		t.Errorf("lock stats = %+v, want one timeout", st)
	}
}

func TestRecordRating(t *testing.T) {
	e := newTestEngine(t, testOptions())
	ctx := context.Background()

	for _, v := range []float64{5, 4, 3, 5} {
		if err := e.RecordRating(ctx, "R", v); err != nil {
			t.Fatal(err)
		}
	}
	if err := e.RecordRating(ctx, "R", 7); errors.GetCode(err) != errors.CodeInvariantViolation {
		t.Errorf("out of range rating: %v", err)
	}
	r, err := e.ResourceSummary("R")
	if err != nil {
		t.Fatal(err)
	}
	if r.RatingCount != 4 || r.RatingAverage != 4.25 {
		t.Errorf("ratings = %d avg %v, want 4 avg 4.25", r.RatingCount, r.RatingAverage)
	}
	if _, err := e.SubjectSummary("nobody"); errors.GetCode(err) != errors.CodeNotFound {
		t.Errorf("missing summary: %v", err)
	}
}

func TestIndexLifecycle(t *testing.T) {
	opts := testOptions(2024)
	opts.DefaultIndexes = nil
	e := newTestEngine(t, opts)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		b := booking(fmt.Sprintf("b%d", i), "S", fmt.Sprintf("R%d", i%2), "2024-03-01", int64(i))
		submit(t, e, b)
	}
	q := planner.Query{Where: []planner.Condition{
		cond(t, "resource_id", "=", "R1"),
		cond(t, "amount", ">", "1"),
	}}

	_, access, err := e.Explain(ctx, q)
	if err != nil {
		t.Fatal(err)
	}
	for _, a := range access {
		if a.Kind != planner.AccessScan {
			t.Errorf("access before define = %s", a)
		}
	}

	fields, _ := types.ParseFields("resource_id,amount")
	if err := e.DefineIndex(ctx, fields, false); err != nil {
		t.Fatal(err)
	}
	if err := e.DefineIndex(ctx, fields, true); err != nil {
		t.Errorf("redefine: %v", err)
	}
	if defs := e.IndexDefinitions(); len(defs) != 1 || defs[0].Auto {
		t.Errorf("definitions = %+v", defs)
	}
	if err := e.CheckConsistency(ctx); err != nil {
		t.Fatal(err)
	}

	plan, access, _ := e.Explain(ctx, q)
	used := false
	for _, a := range access {
		if a.Partition == e.Directory().Route(day("2024-03-01")) {
			used = a.Kind == planner.AccessIndex && a.Predicate.Width() == 2
		}
	}
	if !used {
		t.Errorf("index not chosen: %s %v", plan, access)
	}

	res, err := e.Query(ctx, q)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Records) != 2 {
		t.Errorf("query returned %v, want b3 and b5", ids(res.Records))
	}

	if err := e.DropIndex(ctx, fields); err != nil {
		t.Fatal(err)
	}
	if err := e.DropIndex(ctx, fields); errors.GetCode(err) != errors.CodeNoSuchIndex {
		t.Errorf("second drop: %v", err)
	}
	if parts := e.ListPartitions(); len(parts[0].Indexes) != 0 {
		t.Errorf("indexes after drop = %v", parts[0].Indexes)
	}
}

func TestDefineIndex_SharesLockWithReaders(t *testing.T) {
	e := newTestEngine(t, testOptions(2024))
	ctx := context.Background()
	submit(t, e, booking("a", "S", "R", "2024-02-01", 10))

	part, _ := e.Directory().Partition(e.Directory().Route(day("2024-02-01")))
	release, err := part.RLock(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	amount, _ := types.ParseFields("amount")
	done := make(chan error, 1)
	go func() { done <- e.DefineIndex(ctx, amount, false) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("DefineIndex waited for a reader")
	}
	if err := e.CheckConsistency(ctx); err != nil {
		t.Error(err)
	}
}

func TestOpen_RestoresFromCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	ctx := context.Background()

	cat, err := catalog.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	e, err := Open(ctx, cat, testOptions(2024))
	if err != nil {
		t.Fatal(err)
	}
	submit(t, e, booking("a", "S", "R", "2024-01-10", 50))
	submit(t, e, booking("b", "S", "R", "2026-07-01", 70))
	submit(t, e, booking("c", "T", "R", "2024-08-01", 20))
	if err := e.Transition(ctx, "c", types.StatusCanceled); err != nil {
		t.Fatal(err)
	}
	if _, err := e.AddPartitionBoundary(ctx, 2026); err != nil {
		t.Fatal(err)
	}
	for _, v := range []float64{4, 5} {
		if err := e.RecordRating(ctx, "R", v); err != nil {
			t.Fatal(err)
		}
	}
	extra, _ := types.ParseFields("amount")
	if err := e.DefineIndex(ctx, extra, true); err != nil {
		t.Fatal(err)
	}
	last, _ := e.Get(ctx, "c")
	wantSubject, _ := e.SubjectSummary("S")
	wantResource, _ := e.ResourceSummary("R")
	cat.Close()

	cat, err = catalog.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer cat.Close()
	// boundaries in options are ignored once the catalog holds some
	e, err = Open(ctx, cat, testOptions(2030))
	if err != nil {
		t.Fatal(err)
	}

	parts := e.ListPartitions()
	var names []string
	for _, p := range parts {
		names = append(names, p.Name)
	}
	if got := fmt.Sprint(names); got != "[p2024 p2026 pmax]" {
		t.Errorf("partitions = %s", got)
	}
	if pid, _ := e.Directory().Locate("b"); pid != types.FallbackPartition {
		t.Errorf("b restored into %d, want fallback", pid)
	}
	c, err := e.Get(ctx, "c")
	if err != nil || c.Status != types.StatusCanceled {
		t.Errorf("c = %+v, %v", c, err)
	}
	if len(e.IndexDefinitions()) != len(index.DefaultDefinitions)+1 {
		t.Errorf("definitions = %+v", e.IndexDefinitions())
	}
	if err := e.CheckConsistency(ctx); err != nil {
		t.Error(err)
	}

	gotSubject, _ := e.SubjectSummary("S")
	gotResource, _ := e.ResourceSummary("R")
	if gotSubject.Count != wantSubject.Count || !gotSubject.Total.Equal(wantSubject.Total) {
		t.Errorf("subject summary = %+v, want %+v", gotSubject, wantSubject)
	}
	if gotResource.RatingAverage != wantResource.RatingAverage || gotResource.Count != wantResource.Count {
		t.Errorf("resource summary = %+v, want %+v", gotResource, wantResource)
	}

	next := submit(t, e, booking("", "S", "R", "2024-02-01", 1))
	n, _ := e.Get(ctx, next)
	if !n.CreatedAt.After(last.CreatedAt) {
		t.Errorf("created_at went backwards after restart: %v <= %v", n.CreatedAt, last.CreatedAt)
	}
	if report := e.VerifyAll(ctx); report.Drifted != 0 || report.Failed != 0 {
		t.Errorf("verify after restart = %+v", report)
	}
}

// failingStore accepts everything except the write named by fail.
type failingStore struct {
	fail string
}

func (s *failingStore) err(op string) error {
	if s.fail == op {
		return errors.NewCatalogError(errors.CodePersistFailed, "injected "+op+" failure", nil)
	}
	return nil
}

func (s *failingStore) SavePartition(context.Context, types.PartitionID, int) error {
	return s.err("partition")
}
func (s *failingStore) SaveIndexDefinition(context.Context, index.Definition) error {
	return s.err("index")
}
func (s *failingStore) DeleteIndexDefinition(context.Context, types.Fields) error { return nil }
func (s *failingStore) InsertBooking(context.Context, types.PartitionID, *types.Booking) error {
	return s.err("insert")
}
func (s *failingStore) UpdateStatus(context.Context, string, types.Status) error {
	return s.err("status")
}
func (s *failingStore) DeleteBooking(context.Context, string) error { return s.err("delete") }
func (s *failingStore) AppendRating(context.Context, string, float64) error {
	return s.err("rating")
}
func (s *failingStore) LoadPartitions(context.Context) ([]catalog.PartitionRecord, error) {
	return nil, nil
}
func (s *failingStore) LoadIndexDefinitions(context.Context) ([]index.Definition, error) {
	return nil, nil
}
func (s *failingStore) LoadBookings(context.Context, func(types.PartitionID, types.Booking) error) error {
	return nil
}
func (s *failingStore) LoadRatings(context.Context, func(string, float64) error) error {
	return nil
}

func TestJournalFailureLeavesNoState(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{}
	e, err := Open(ctx, store, testOptions(2024))
	if err != nil {
		t.Fatal(err)
	}
	submit(t, e, booking("a", "S", "R", "2024-01-10", 10))

	store.fail = "insert"
	if _, err := e.Submit(ctx, booking("b", "S", "R", "2024-01-11", 10)); errors.GetCode(err) != errors.CodePersistFailed {
		t.Errorf("insert: %v", err)
	}
	if _, ok := e.Directory().Locate("b"); ok {
		t.Error("failed insert left the id registered")
	}

	store.fail = "status"
	if err := e.Transition(ctx, "a", types.StatusCanceled); err == nil {
		t.Error("expected transition failure")
	}
	store.fail = "delete"
	if err := e.Delete(ctx, "a"); err == nil {
		t.Error("expected delete failure")
	}
	store.fail = "rating"
	if err := e.RecordRating(ctx, "R", 3); err == nil {
		t.Error("expected rating failure")
	}
	store.fail = "partition"
	if _, err := e.AddPartitionBoundary(ctx, 2030); err == nil {
		t.Error("expected boundary failure")
	}
	if len(e.ListPartitions()) != 2 {
		t.Errorf("failed boundary left a partition: %+v", e.ListPartitions())
	}
	store.fail = "index"
	amount, _ := types.ParseFields("amount")
	if err := e.DefineIndex(ctx, amount, false); err == nil {
		t.Error("expected index failure")
	}

	a, _ := e.Get(ctx, "a")
	if a.Status != types.StatusPending {
		t.Errorf("status changed despite failure: %s", a.Status)
	}
	s, _ := e.SubjectSummary("S")
	r, _ := e.ResourceSummary("R")
	if s.Count != 1 || r.RatingCount != 0 {
		t.Errorf("summaries changed despite failures: %+v %+v", s, r)
	}
	if err := e.CheckConsistency(ctx); err != nil {
		t.Error(err)
	}
	// a boundary whose persistence failed can be added again
	store.fail = ""
	if _, err := e.AddPartitionBoundary(ctx, 2030); err != nil {
		t.Errorf("retry boundary: %v", err)
	}
}

func TestProperty_IndexesAndSummariesStayConsistent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	statuses := []types.Status{types.StatusPending, types.StatusConfirmed, types.StatusCanceled}

	properties.Property("indexes match partitions and summaries match recompute", prop.ForAll(
		func(ops []int) bool {
			ctx := context.Background()
			e, err := New(ctx, testOptions(2023, 2024, 2025))
			if err != nil {
				return false
			}
			var live []string
			for i, op := range ops {
				switch {
				case op%8 < 5 || len(live) == 0:
					b := booking(fmt.Sprintf("r%d", i), fmt.Sprintf("S%d", op%3), fmt.Sprintf("R%d", op%2),
						fmt.Sprintf("%d-%02d-01", 2022+op%5, 1+op%12), int64(op%97))
					if _, err := e.Submit(ctx, b); err != nil {
						return false
					}
					live = append(live, b.ID)
				case op%8 < 7:
					id := live[op%len(live)]
					// illegal transitions are rejected and change nothing
					e.Transition(ctx, id, statuses[op%3])
				default:
					k := op % len(live)
					if err := e.Delete(ctx, live[k]); err != nil {
						return false
					}
					live = append(live[:k], live[k+1:]...)
				}
			}
			if err := e.CheckConsistency(ctx); err != nil {
				t.Log(err)
				return false
			}
			for _, kind := range []aggregate.Kind{aggregate.KindSubject, aggregate.KindResource} {
				for _, id := range e.Aggregates().Keys(kind) {
					res, err := e.Verify(ctx, aggregate.Key{Kind: kind, ID: id})
					if err != nil || res.Drifted {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 1000)),
	))

	properties.TestingRun(t)
}

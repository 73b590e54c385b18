package catalog

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"menusync/internal/broadcast"
)

func newTestService(ms *memStore) (*Service, *broadcast.Broadcaster[Snapshot]) {
	b := broadcast.New[Snapshot](8)
	return NewService(ms, ms, b, time.Minute), b
}

func startImport(t *testing.T, s *Service, branchID uuid.UUID, csv string, opts ImportOptions) *ImportResult {
	t.Helper()

	id, err := s.StartImport(context.Background(), branchID, "menu.csv", strings.NewReader(csv), int64(len(csv)), opts)
	require.NoError(t, err)

	res, err := s.Result(id)
	require.NoError(t, err)
	return res
}

func TestService_ImportEndToEnd(t *testing.T) {
	ms := newMemStore()
	branch := ms.addBranch("Downtown")
	s, b := newTestService(ms)

	branchSub := b.Subscribe(branch.ID.String())
	globalSub := b.Subscribe(broadcast.Global)
	otherSub := b.Subscribe(uuid.New().String())

	csv := strings.Join([]string{
		"category,name,price,modifiers",
		"Drinks,Cola,5,",
		"Drinks,Tea,2.50,Honey:0.50",
		"Food,Burger,9.90,",
	}, "\n")

	res := startImport(t, s, branch.ID, csv, ImportOptions{ClearFirst: true})

	assert.Equal(t, StateComplete, res.State)
	assert.Equal(t, 3, res.Imported)
	assert.Equal(t, 3, res.TotalRows)
	assert.Empty(t, res.RowErrors)

	// Branch-scoped and GLOBAL subscribers both receive the committed
	// catalog; the unrelated branch subscriber receives nothing.
	select {
	case ev := <-branchSub.Events():
		assert.Equal(t, branch.ID, ev.Payload.BranchID)
		assert.Len(t, ev.Payload.Items, 3)
	case <-time.After(time.Second):
		t.Fatal("branch subscriber received no event")
	}
	select {
	case ev := <-globalSub.Events():
		assert.Equal(t, branch.ID, ev.Payload.BranchID)
	case <-time.After(time.Second):
		t.Fatal("global subscriber received no event")
	}
	select {
	case <-otherSub.Events():
		t.Fatal("unrelated branch subscriber received an event")
	default:
	}

	// The store agrees with the broadcast.
	snap, err := s.BranchSnapshot(context.Background(), branch.ID)
	require.NoError(t, err)
	assert.Len(t, snap.Items, 3)

	// History recorded the run.
	recs, err := s.ImportHistory(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, StateComplete, recs[0].State)
	assert.Equal(t, 3, recs[0].RowsTotal)
}

func TestService_RejectedBatchCommitsNothing(t *testing.T) {
	ms := newMemStore()
	branch := ms.addBranch("Downtown")
	s, b := newTestService(ms)
	sub := b.Subscribe(branch.ID.String())

	csv := strings.Join([]string{
		"category,name,price",
		"Drinks,Cola,5",
		"Drinks,Cola,6",
	}, "\n")

	res := startImport(t, s, branch.ID, csv, ImportOptions{ClearFirst: true})

	assert.Equal(t, StateRejected, res.State)
	require.Len(t, res.BatchErrors, 1)
	assert.Equal(t, 0, ms.callCount("ClearItems"))
	assert.Equal(t, 0, ms.callCount("InsertItem"))
	select {
	case <-sub.Events():
		t.Fatal("rejected import must not broadcast")
	default:
	}

	recs, err := s.ImportHistory(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, StateRejected, recs[0].State)
}

func TestService_AllowPartialCommitsValidSubset(t *testing.T) {
	ms := newMemStore()
	branch := ms.addBranch("Downtown")
	s, _ := newTestService(ms)

	csv := strings.Join([]string{
		"category,name,price",
		"Drinks,Cola,5",
		"Drinks,BadPrice,oops",
		"Food,Burger,9.90",
	}, "\n")

	res := startImport(t, s, branch.ID, csv, ImportOptions{AllowPartial: true})

	assert.Equal(t, StateComplete, res.State)
	assert.Equal(t, 2, res.Imported)
	require.Len(t, res.RowErrors, 1)
	assert.Equal(t, 3, res.RowErrors[0].Row)

	snap, err := s.BranchSnapshot(context.Background(), branch.ID)
	require.NoError(t, err)
	assert.Len(t, snap.Items, 2)
}

func TestService_ImportUnknownBranch(t *testing.T) {
	ms := newMemStore()
	s, _ := newTestService(ms)

	_, err := s.StartImport(context.Background(), uuid.New(), "menu.csv", strings.NewReader("x"), 1, ImportOptions{})
	assert.Error(t, err)
}

func TestService_ProgressChannelClosesWhenDone(t *testing.T) {
	ms := newMemStore()
	branch := ms.addBranch("Downtown")
	s, _ := newTestService(ms)

	csv := "category,name,price\nDrinks,Cola,5\n"
	id, err := s.StartImport(context.Background(), branch.ID, "menu.csv", strings.NewReader(csv), int64(len(csv)), ImportOptions{})
	require.NoError(t, err)

	ch, subErr := s.SubscribeProgress(id)
	if subErr != nil {
		// The job can finish before we subscribe; that is fine as long as
		// the result is still queryable.
		_, err := s.Result(id)
		require.NoError(t, err)
		return
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case p, ok := <-ch:
			if !ok {
				res, err := s.Result(id)
				require.NoError(t, err)
				assert.Equal(t, StateComplete, res.State)
				return
			}
			assert.Equal(t, id, p.ImportID)
		case <-deadline:
			t.Fatal("progress channel never closed")
		}
	}
}

func TestService_EditItemParsesPrice(t *testing.T) {
	ms := newMemStore()
	branch := ms.addBranch("Downtown")
	item := seedItem(t, ms, branch, "Drinks", "Cola", 500)
	s, b := newTestService(ms)
	sub := b.Subscribe(branch.ID.String())

	price := "6.495"
	updated, err := s.EditItem(context.Background(), item.ID, ItemEdit{Price: &price})
	require.NoError(t, err)
	assert.Equal(t, int64(650), updated.PriceCents)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, branch.ID, ev.Payload.BranchID)
	case <-time.After(time.Second):
		t.Fatal("edit did not broadcast")
	}
}

func TestService_DeleteItem(t *testing.T) {
	ms := newMemStore()
	branch := ms.addBranch("Downtown")
	item := seedItem(t, ms, branch, "Drinks", "Cola", 500)
	s, _ := newTestService(ms)

	require.NoError(t, s.DeleteItem(context.Background(), item.ID))

	snap, err := s.BranchSnapshot(context.Background(), branch.ID)
	require.NoError(t, err)
	assert.Empty(t, snap.Items)
}

// gatedReader serves its data, then blocks further reads until gate is
// closed. Lets a test hold an import mid-parse.
type gatedReader struct {
	data []byte
	pos  int
	gate chan struct{}
}

func (g *gatedReader) Read(p []byte) (int, error) {
	if g.pos < len(g.data) {
		n := copy(p, g.data[g.pos:])
		g.pos += n
		return n, nil
	}
	<-g.gate
	return 0, io.EOF
}

func TestService_CancelImportNeverReachesStore(t *testing.T) {
	ms := newMemStore()
	branch := ms.addBranch("Downtown")
	s, _ := newTestService(ms)

	gate := make(chan struct{})
	r := &gatedReader{data: []byte("category,name,price\nDrinks,Cola,5\n"), gate: gate}

	id, err := s.StartImport(context.Background(), branch.ID, "menu.csv", r, 0, ImportOptions{ClearFirst: true})
	require.NoError(t, err)

	// The job is held mid-parse; cancel it, then let the reader finish.
	require.NoError(t, s.CancelImport(id))
	close(gate)

	res, err := s.Result(id)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, res.State)

	// A cancelled import never reaches the syncing phase: no clears, no
	// inserts, even with ClearFirst set.
	assert.Equal(t, 0, ms.callCount("ClearModifiers"))
	assert.Equal(t, 0, ms.callCount("ClearItems"))
	assert.Equal(t, 0, ms.callCount("InsertItem"))

	p, err := s.Progress(id)
	require.NoError(t, err)
	assert.Equal(t, PhaseCancelled, p.Phase)

	recs, err := s.ImportHistory(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, StateCancelled, recs[0].State)

	assert.Error(t, s.CancelImport("unknown-id"))
}

func TestService_SubscribeProgressAfterFinish(t *testing.T) {
	ms := newMemStore()
	branch := ms.addBranch("Downtown")
	s, _ := newTestService(ms)

	csv := "category,name,price\nDrinks,Cola,5\n"
	id, err := s.StartImport(context.Background(), branch.ID, "menu.csv", strings.NewReader(csv), int64(len(csv)), ImportOptions{})
	require.NoError(t, err)
	_, err = s.Result(id)
	require.NoError(t, err)

	// Subscribing after completion (inside the cleanup window) must
	// deliver the final progress and close, never hang.
	ch, err := s.SubscribeProgress(id)
	require.NoError(t, err)

	select {
	case p, ok := <-ch:
		require.True(t, ok)
		assert.Equal(t, PhaseSuccess, p.Phase)
	case <-time.After(time.Second):
		t.Fatal("no final progress delivered")
	}
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("late subscriber channel never closed")
	}
}

func TestService_ProgressConcurrentPolling(t *testing.T) {
	ms := newMemStore()
	branch := ms.addBranch("Downtown")
	s, _ := newTestService(ms)

	var b strings.Builder
	b.WriteString("category,name,price\n")
	for i := 0; i < 500; i++ {
		fmt.Fprintf(&b, "Drinks,Item %d,5\n", i)
	}
	csv := b.String()

	id, err := s.StartImport(context.Background(), branch.ID, "menu.csv", strings.NewReader(csv), int64(len(csv)), ImportOptions{})
	require.NoError(t, err)

	// Poll while the job goroutine is writing progress.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			p, err := s.Progress(id)
			if err != nil {
				return
			}
			if p.Phase == PhaseSuccess || p.Phase == PhaseError {
				return
			}
		}
	}()

	res, err := s.Result(id)
	require.NoError(t, err)
	assert.Equal(t, StateComplete, res.State)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poller never observed a terminal phase")
	}
}

func TestService_ProgressReportsBytes(t *testing.T) {
	ms := newMemStore()
	branch := ms.addBranch("Downtown")
	s, _ := newTestService(ms)

	csv := "category,name,price\nDrinks,Cola,5\n"
	id, err := s.StartImport(context.Background(), branch.ID, "menu.csv", strings.NewReader(csv), int64(len(csv)), ImportOptions{})
	require.NoError(t, err)
	_, err = s.Result(id)
	require.NoError(t, err)

	p, err := s.Progress(id)
	require.NoError(t, err)
	assert.Equal(t, int64(len(csv)), p.BytesRead)
	assert.Equal(t, 100, p.Percent)
}

func TestService_WaitForImports(t *testing.T) {
	ms := newMemStore()
	branch := ms.addBranch("Downtown")
	s, _ := newTestService(ms)

	csv := "category,name,price\nDrinks,Cola,5\n"
	id, err := s.StartImport(context.Background(), branch.ID, "menu.csv", strings.NewReader(csv), int64(len(csv)), ImportOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.WaitForImports(ctx))

	_, err = s.Result(id)
	require.NoError(t, err)
	assert.Equal(t, 0, s.ActiveImports())
}

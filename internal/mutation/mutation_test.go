package mutation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/wesm/noticevault/internal/auth"
	"github.com/wesm/noticevault/internal/feed"
	"github.com/wesm/noticevault/internal/notice"
	"github.com/wesm/noticevault/internal/store"
	"github.com/wesm/noticevault/internal/testutil"
)

type countingInvalidator struct {
	n atomic.Int32
}

func (c *countingInvalidator) InvalidateAll(context.Context) { c.n.Add(1) }

type fakeDetails struct {
	phone string
	err   error
	calls int
}

func (f *fakeDetails) FetchDetail(ctx context.Context, code string) (*feed.Detail, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &feed.Detail{Code: code, Phone: f.phone}, nil
}

// failingStore fails every write.
type failingStore struct {
	*store.Store
}

var errWrite = &notice.TransientStoreError{Op: "write", Err: errors.New("database is locked")}

func (failingStore) ToggleFavorite(context.Context, int64) (bool, error) { return false, errWrite }
func (failingStore) SetPhone(context.Context, int64, string) (bool, error) {
	return false, errWrite
}
func (failingStore) SetStatusMemo(context.Context, int64, string, string) error { return errWrite }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func userCtx() context.Context {
	return auth.WithUser(context.Background(), auth.User{Name: "staff"})
}

func setup(t *testing.T, details DetailFetcher) (*Coordinator, *store.Store, *countingInvalidator) {
	t.Helper()
	st := testutil.NewTestStore(t)
	inv := &countingInvalidator{}
	return New(st, details, inv, WithLogger(quietLogger())), st, inv
}

func TestToggleFavoriteRoundTrip(t *testing.T) {
	c, st, inv := setup(t, nil)
	ctx := userCtx()
	ids := testutil.SeedNotices(t, st, testutil.NewNotice(1).Build())

	fav, err := c.ToggleFavorite(ctx, ids[0])
	if err != nil || !fav {
		t.Fatalf("first toggle = %v, %v; want true", fav, err)
	}
	testutil.MustNoErr(t, c.SaveStatusMemo(ctx, ids[0], "전화", "회신 대기"), "SaveStatusMemo")

	fav, err = c.ToggleFavorite(ctx, ids[0])
	if err != nil || fav {
		t.Fatalf("second toggle = %v, %v; want false", fav, err)
	}

	n, err := st.GetNotice(ctx, ids[0])
	testutil.MustNoErr(t, err, "GetNotice")
	if n.IsFavorite || n.Status != "" || n.Memo != "" {
		t.Errorf("after round trip favorite=%v status=%q memo=%q", n.IsFavorite, n.Status, n.Memo)
	}
	if got := inv.n.Load(); got != 3 {
		t.Errorf("invalidations = %d, want 3", got)
	}
}

func TestToggleFavoriteFailureReportsOriginal(t *testing.T) {
	st := testutil.NewTestStore(t)
	ids := testutil.SeedNotices(t, st, testutil.NewNotice(1).Favorite().Build())
	inv := &countingInvalidator{}
	c := New(failingStore{st}, nil, inv, WithLogger(quietLogger()))

	fav, err := c.ToggleFavorite(userCtx(), ids[0])
	if !notice.IsTransient(err) {
		t.Errorf("error = %v, want transient", err)
	}
	if !fav {
		t.Error("flag after failed toggle = false, want original true")
	}
	if inv.n.Load() != 0 {
		t.Error("cache invalidated after failed write")
	}
}

func TestToggleFavoriteNotFound(t *testing.T) {
	c, _, inv := setup(t, nil)
	if _, err := c.ToggleFavorite(userCtx(), 404); !errors.Is(err, notice.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
	if inv.n.Load() != 0 {
		t.Error("cache invalidated for missing notice")
	}
}

func TestUnauthenticatedIsNoop(t *testing.T) {
	details := &fakeDetails{phone: "054-000-0000"}
	c, st, inv := setup(t, details)
	ctx := context.Background()
	ids := testutil.SeedNotices(t, st,
		testutil.NewNotice(1).Favorite().Build(),
		testutil.NewNotice(2).WithSource(notice.SourceKAPT).WithKaptCode("A1").Build(),
	)

	fav, err := c.ToggleFavorite(ctx, ids[0])
	if err != nil || !fav {
		t.Errorf("ToggleFavorite() = %v, %v; want unchanged true, nil", fav, err)
	}
	if phone, err := c.BackfillPhone(ctx, ids[1]); err != nil || phone != "" {
		t.Errorf("BackfillPhone() = %q, %v", phone, err)
	}
	if err := c.SaveStatusMemo(ctx, ids[0], "bogus", "x"); err != nil {
		t.Errorf("SaveStatusMemo() = %v, want nil", err)
	}

	n, _ := st.GetNotice(ctx, ids[0])
	if !n.IsFavorite || n.Memo != "" {
		t.Errorf("notice changed without a user: %+v", n)
	}
	if inv.n.Load() != 0 || details.calls != 0 {
		t.Errorf("invalidations=%d detail calls=%d, want 0/0", inv.n.Load(), details.calls)
	}
}

func TestBackfillPhone(t *testing.T) {
	details := &fakeDetails{phone: "054-771-0000"}
	c, st, inv := setup(t, details)
	ctx := userCtx()
	ids := testutil.SeedNotices(t, st,
		testutil.NewNotice(1).WithSource(notice.SourceKAPT).WithKaptCode("A1").Build(),
		testutil.NewNotice(2).WithSource(notice.SourceKAPT).WithKaptCode("A2").WithPhone("0540000000").Build(),
		testutil.NewNotice(3).WithSource(notice.SourceKAPT).Build(),
		testutil.NewNotice(4).WithKaptCode("A4").Build(),
	)

	phone, err := c.BackfillPhone(ctx, ids[0])
	if err != nil || phone != "0547710000" {
		t.Fatalf("BackfillPhone() = %q, %v; want 0547710000", phone, err)
	}
	n, _ := st.GetNotice(ctx, ids[0])
	if n.PhoneNumber != "0547710000" {
		t.Errorf("stored phone = %q", n.PhoneNumber)
	}
	if inv.n.Load() != 1 {
		t.Errorf("invalidations = %d, want 1", inv.n.Load())
	}

	for _, id := range ids[1:] {
		if phone, err := c.BackfillPhone(ctx, id); err != nil || phone != "" {
			t.Errorf("BackfillPhone(%d) = %q, %v; want no-op", id, phone, err)
		}
	}
	if details.calls != 1 || inv.n.Load() != 1 {
		t.Errorf("detail calls=%d invalidations=%d, want 1/1", details.calls, inv.n.Load())
	}
}

func TestBackfillPhoneUpstreamFailure(t *testing.T) {
	details := &fakeDetails{err: errors.New("timeout")}
	c, st, inv := setup(t, details)
	ids := testutil.SeedNotices(t, st,
		testutil.NewNotice(1).WithSource(notice.SourceKAPT).WithKaptCode("A1").Build())

	_, err := c.BackfillPhone(userCtx(), ids[0])
	var upErr *notice.UpstreamFetchError
	if !errors.As(err, &upErr) {
		t.Errorf("error = %v, want UpstreamFetchError", err)
	}
	n, _ := st.GetNotice(context.Background(), ids[0])
	if n.PhoneNumber != "" || inv.n.Load() != 0 {
		t.Errorf("phone=%q invalidations=%d after failed fetch", n.PhoneNumber, inv.n.Load())
	}
}

func TestBackfillPhoneNoDetailSource(t *testing.T) {
	c, st, _ := setup(t, nil)
	ids := testutil.SeedNotices(t, st,
		testutil.NewNotice(1).WithSource(notice.SourceKAPT).WithKaptCode("A1").Build())
	if _, err := c.BackfillPhone(userCtx(), ids[0]); !errors.Is(err, errNoDetailSource) {
		t.Errorf("error = %v, want errNoDetailSource", err)
	}
}

func TestSaveStatusMemoValidation(t *testing.T) {
	c, st, inv := setup(t, nil)
	ids := testutil.SeedNotices(t, st, testutil.NewNotice(1).Build())

	err := c.SaveStatusMemo(userCtx(), ids[0], "완료", "")
	if !notice.IsValidation(err) {
		t.Errorf("error = %v, want validation", err)
	}
	if inv.n.Load() != 0 {
		t.Error("cache invalidated for rejected status")
	}

	for _, status := range notice.StatusOptions {
		if err := c.SaveStatusMemo(userCtx(), ids[0], status, "memo"); err != nil {
			t.Errorf("SaveStatusMemo(%q) = %v", status, err)
		}
	}
	if err := c.SaveStatusMemo(userCtx(), 999, "", ""); !errors.Is(err, notice.ErrNotFound) {
		t.Errorf("SaveStatusMemo(999) = %v, want ErrNotFound", err)
	}
}

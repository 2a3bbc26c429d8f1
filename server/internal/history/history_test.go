package history

import (
	"sync"
	"testing"

	"github.com/tubedrift/tubedrift/pkg/types"
)

func rec(query string, ids ...string) types.SearchRecord {
	items := make([]types.ResultItem, len(ids))
	for i, id := range ids {
		items[i] = types.ResultItem{ID: id}
	}
	return types.SearchRecord{Query: query, Kind: types.KindVideo, Results: items}
}

func TestGet_UnknownSessionIsEmpty(t *testing.T) {
	s := New()

	first := s.Get("sess-1")
	if first == nil || len(first) != 0 {
		t.Fatalf("first Get: got %v, want empty non-nil list", first)
	}
	second := s.Get("sess-1")
	if len(second) != 0 {
		t.Fatalf("second Get: got %d records, want 0", len(second))
	}
	if !s.Has("sess-1") {
		t.Error("Has: lazily created session should be known")
	}
}

func TestPutAndGet(t *testing.T) {
	s := New()
	s.Put("sess", []types.SearchRecord{rec("golang", "a", "b")})

	got := s.Get("sess")
	if len(got) != 1 || got[0].Query != "golang" {
		t.Fatalf("Get: got %+v", got)
	}
	if len(got[0].Results) != 2 {
		t.Errorf("results: got %d, want 2", len(got[0].Results))
	}
}

func TestGet_ReturnsDetachedCopy(t *testing.T) {
	s := New()
	s.Put("sess", []types.SearchRecord{rec("golang", "a")})

	got := s.Get("sess")
	got[0].Results[0].ID = "mutated"
	got = append(got, rec("extra"))

	again := s.Get("sess")
	if len(again) != 1 {
		t.Fatalf("in-place append leaked into the store: %d records", len(again))
	}
	if again[0].Results[0].ID != "a" {
		t.Errorf("in-place edit leaked into the store: %q", again[0].Results[0].ID)
	}

	// After Put the change is visible.
	s.Put("sess", got)
	if n := len(s.Get("sess")); n != 2 {
		t.Errorf("after Put: got %d records, want 2", n)
	}
}

func TestInitRecord_ResetsAndIsIdempotent(t *testing.T) {
	s := New()
	s.Put("sess", []types.SearchRecord{rec("golang")})

	s.InitRecord("sess")
	s.InitRecord("sess")
	if n := len(s.Get("sess")); n != 0 {
		t.Errorf("after InitRecord: got %d records, want 0", n)
	}
}

func TestAppend_RepeatSearchIsNewEntry(t *testing.T) {
	s := New()
	s.Append("sess", rec("a", "1"))
	s.Append("sess", rec("b", "2"))
	out := s.Append("sess", rec("a", "9"))

	if len(out) != 3 {
		t.Fatalf("records: got %d, want 3", len(out))
	}
	var got []string
	for _, r := range out {
		got = append(got, r.Query+"="+r.Results[0].ID)
	}
	want := []string{"a=1", "b=2", "a=9"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("history: got %v, want %v", got, want)
		}
	}
}

func TestSessions_Sorted(t *testing.T) {
	s := New()
	s.Get("b")
	s.Get("a")
	s.InitRecord("c")

	got := s.Sessions()
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("Sessions: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Sessions[%d]: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestConcurrentUpdates(t *testing.T) {
	s := New()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Update("sess", func(r []types.SearchRecord) []types.SearchRecord {
				return append(r, rec("q"))
			})
		}()
		go func() {
			defer wg.Done()
			s.Get("sess")
		}()
	}
	wg.Wait()

	if n := len(s.Get("sess")); n != 100 {
		t.Errorf("records: got %d, want 100", n)
	}
}

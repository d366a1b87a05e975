package frametable

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"vmkernel/internal/mem"
	"vmkernel/internal/metrics"
	"vmkernel/internal/pagedir"
	"vmkernel/internal/vmerr"
)

func TestAddRejectsDuplicateFrame(t *testing.T) {
	ft := New()
	if _, err := ft.Add(1, 10); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	if _, err := ft.Add(1, 11); err != vmerr.ErrOutOfMemory {
		t.Fatalf("duplicate Add: got %v, want ErrOutOfMemory", err)
	}
	if ft.Len() != 1 {
		t.Fatalf("Len = %d, want 1 (FT-unique)", ft.Len())
	}
}

func TestLookupRemove(t *testing.T) {
	ft := New()
	ft.Add(1, 10)
	ft.Add(2, 10)

	if _, ok := ft.Lookup(2); !ok {
		t.Fatalf("Lookup(2) not found")
	}
	ft.Remove(1)
	if _, ok := ft.Lookup(1); ok {
		t.Fatalf("Lookup(1) found after Remove")
	}
	if ft.Len() != 1 {
		t.Fatalf("Len = %d, want 1 after Remove", ft.Len())
	}
}

func TestAssociateAndFTMapAgreement(t *testing.T) {
	ft := New()
	ft.Add(5, 10)
	dir := pagedir.New()
	dir.Map(100, 5, true)

	if ok := ft.Associate(5, dir, 100); !ok {
		t.Fatalf("Associate failed")
	}
	e, ok := ft.Lookup(5)
	if !ok {
		t.Fatalf("Lookup(5) not found")
	}
	if !e.HasPage() {
		t.Fatalf("HasPage() = false after Associate")
	}
	frame, present := e.Dir.Lookup(e.Page)
	if !present || frame != 5 {
		t.Fatalf("FT-map-agreement violated: dir.Lookup(%d) = (%d, %v), want (5, true)", e.Page, frame, present)
	}
}

func TestRetagClearsAssociation(t *testing.T) {
	ft := New()
	ft.Add(7, 10)
	dir := pagedir.New()
	ft.Associate(7, dir, mem.UserPage(200))

	if ok := ft.Retag(7, 99); !ok {
		t.Fatalf("Retag failed")
	}
	e, _ := ft.Lookup(7)
	if e.Owner != 99 {
		t.Fatalf("Owner = %d, want 99", e.Owner)
	}
	if e.HasPage() {
		t.Fatalf("HasPage() = true after Retag, want false")
	}
}

func TestSetMetricsTracksOccupancy(t *testing.T) {
	ft := New()
	ft.Add(1, 10)
	ft.Add(2, 10)

	stats := metrics.New(prometheus.NewRegistry())
	ft.SetMetrics(stats)
	if got := testutil.ToFloat64(stats.FramesInUse); got != 2 {
		t.Fatalf("FramesInUse after SetMetrics = %v, want 2 (existing occupancy)", got)
	}

	ft.Add(3, 10)
	if got := testutil.ToFloat64(stats.FramesInUse); got != 3 {
		t.Fatalf("FramesInUse after Add = %v, want 3", got)
	}

	ft.Remove(2)
	if got := testutil.ToFloat64(stats.FramesInUse); got != 2 {
		t.Fatalf("FramesInUse after Remove = %v, want 2", got)
	}
}

func TestMoveToTailAdvancesClockHand(t *testing.T) {
	ft := New()
	ft.Add(1, 10)
	ft.Add(2, 10)
	ft.Add(3, 10)

	ft.MoveToTail(0) // move frame 1 to the end
	e, n := ft.At(2)
	if n != 3 || e.Frame != 1 {
		t.Fatalf("At(2) = (%+v, %d), want frame 1 at index 2", e, n)
	}
}

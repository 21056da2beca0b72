package alloc

import (
	"strings"
	"testing"
)

func TestAllocAppends(t *testing.T) {
	a := New(8)

	if addr := a.Alloc(13, 2, "ifd"); addr != 8 {
		t.Errorf("first block at %d, want 8", addr)
	}
	// 21 rounds up to 22.
	if addr := a.Alloc(100, 2, "strip"); addr != 22 {
		t.Errorf("aligned block at %d, want 22", addr)
	}
	if a.EOF() != 122 {
		t.Errorf("EOF %d, want 122", a.EOF())
	}
	if err := a.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestAllocZeroSize(t *testing.T) {
	a := New(7)
	if addr := a.Alloc(0, 4, "empty"); addr != 8 {
		t.Errorf("zero-size block at %d, want 8", addr)
	}
	if addr := a.Alloc(4, 1, "next"); addr != 8 {
		t.Errorf("next block at %d, want 8", addr)
	}
}

func TestFits(t *testing.T) {
	a := New(8)
	if !a.Fits(1 << 20) {
		t.Error("unlimited allocator should always fit")
	}

	a.SetLimit(100)
	if !a.Fits(500) {
		t.Error("an empty file must accept one oversized page")
	}
	a.Alloc(500, 1, "page")
	if a.Fits(1) {
		t.Error("file past its limit accepted more data")
	}

	b := New(8)
	b.SetLimit(100)
	b.Alloc(50, 1, "page")
	if !b.Fits(42) || b.Fits(43) {
		t.Errorf("limit boundary wrong at EOF %d", b.EOF())
	}
}

func TestReuse(t *testing.T) {
	a := New(0)
	desc := a.Alloc(40, 2, "description")
	a.Alloc(10, 2, "strip")

	if err := a.Free(desc, 40); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if addr := a.Reuse(30, 2, "description"); addr != desc {
		t.Errorf("reused block at %d, want %d", addr, desc)
	}
	freed := a.Freed()
	if len(freed) != 1 || freed[0].Addr != 30 || freed[0].Size != 10 {
		t.Errorf("remaining free ranges %+v", freed)
	}

	// Too large for the remainder: appended.
	if addr := a.Reuse(20, 2, "description"); addr != 50 {
		t.Errorf("appended block at %d, want 50", addr)
	}
	if err := a.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestReuseAligned(t *testing.T) {
	a := New(0)
	a.Alloc(1, 1, "pad")
	odd := a.Alloc(9, 1, "value")
	a.Alloc(4, 1, "strip")
	if err := a.Free(odd, 9); err != nil {
		t.Fatal(err)
	}

	// The free range [1, 10) holds 8 bytes from the word boundary at 2.
	if addr := a.Reuse(8, 2, "value"); addr != 2 {
		t.Errorf("aligned reuse at %d, want 2", addr)
	}
	if len(a.Freed()) != 0 {
		t.Errorf("free ranges left: %+v", a.Freed())
	}
}

func TestFreeUnknown(t *testing.T) {
	a := New(0)
	addr := a.Alloc(16, 1, "value")
	if err := a.Free(addr, 8); err == nil {
		t.Error("freeing with the wrong size succeeded")
	}
	if err := a.Free(addr, 16); err != nil {
		t.Fatal(err)
	}
	if err := a.Free(addr, 16); err == nil {
		t.Error("double free succeeded")
	}
}

func TestFreedSorted(t *testing.T) {
	a := New(0)
	var addrs []uint64
	for range 4 {
		addrs = append(addrs, a.Alloc(8, 1, "value"))
	}
	for _, i := range []int{3, 0, 2} {
		if err := a.Free(addrs[i], 8); err != nil {
			t.Fatal(err)
		}
	}
	freed := a.Freed()
	for i := 1; i < len(freed); i++ {
		if freed[i-1].Addr >= freed[i].Addr {
			t.Fatalf("free ranges out of order: %+v", freed)
		}
	}
}

func TestValidateOverlap(t *testing.T) {
	a := New(0)
	a.Alloc(16, 1, "ifd")
	a.live = append(a.live, Block{Addr: 8, Size: 4, Tag: "strip"})
	a.eof = 16

	err := a.Validate()
	if err == nil || !strings.Contains(err.Error(), "overlaps") {
		t.Fatalf("expected overlap error, got %v", err)
	}

	b := New(8)
	b.live = append(b.live, Block{Addr: 0, Size: 4, Tag: "header"})
	if err := b.Validate(); err == nil {
		t.Error("block before the base address passed validation")
	}
}

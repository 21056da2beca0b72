package alloc

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
)

// Block is a range of file space. Tag names what the writer stored there.
type Block struct {
	Addr uint64
	Size uint64
	Tag  string
}

func (b Block) end() uint64 { return b.Addr + b.Size }

// Allocator hands out offsets within one output file.
type Allocator struct {
	mu    sync.Mutex
	base  uint64
	eof   uint64
	limit uint64 // soft; 0 means unlimited
	live  []Block
	freed []Block // sorted by address
}

// New returns an Allocator whose first block starts at base.
func New(base uint64) *Allocator {
	return &Allocator{base: base, eof: base}
}

// SetLimit sets the soft file size limit checked by Fits. 0 disables it.
func (a *Allocator) SetLimit(limit uint64) {
	a.mu.Lock()
	a.limit = limit
	a.mu.Unlock()
}

// Fits reports whether size more bytes can be appended under the limit.
// A file with nothing allocated always fits, so one oversized page still
// gets its own file.
func (a *Allocator) Fits(size uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.limit == 0 || a.eof == a.base || a.eof+size <= a.limit
}

// EOF returns the address one past the last allocated byte.
func (a *Allocator) EOF() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.eof
}

// Alloc appends a block of size bytes at the end of the file, starting on
// a multiple of align.
func (a *Allocator) Alloc(size, align uint64, tag string) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.appendLocked(size, align, tag)
}

func (a *Allocator) appendLocked(size, align uint64, tag string) uint64 {
	a.eof = alignUp(a.eof, align)
	addr := a.eof
	if size > 0 {
		a.eof += size
		a.live = append(a.live, Block{Addr: addr, Size: size, Tag: tag})
	}
	return addr
}

// Reuse places a block in the first freed range that holds it at the
// requested alignment, and appends it otherwise.
func (a *Allocator) Reuse(size, align uint64, tag string) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, f := range a.freed {
		addr := alignUp(f.Addr, align)
		if addr+size > f.end() {
			continue
		}
		if rest := f.end() - (addr + size); rest > 0 {
			a.freed[i] = Block{Addr: addr + size, Size: rest}
		} else {
			a.freed = slices.Delete(a.freed, i, i+1)
		}
		a.live = append(a.live, Block{Addr: addr, Size: size, Tag: tag})
		return addr
	}
	return a.appendLocked(size, align, tag)
}

// Free returns a live block to the pool used by Reuse.
func (a *Allocator) Free(addr, size uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	i := slices.IndexFunc(a.live, func(b Block) bool { return b.Addr == addr && b.Size == size })
	if i < 0 {
		return fmt.Errorf("alloc: no block of %d bytes at 0x%x", size, addr)
	}
	a.live = slices.Delete(a.live, i, i+1)
	at, _ := slices.BinarySearchFunc(a.freed, addr, func(b Block, t uint64) int {
		return cmp.Compare(b.Addr, t)
	})
	a.freed = slices.Insert(a.freed, at, Block{Addr: addr, Size: size})
	return nil
}

// Freed returns a copy of the free ranges in address order.
func (a *Allocator) Freed() []Block {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.freed)
}

// Validate checks that live blocks lie between the base address and EOF
// and do not overlap.
func (a *Allocator) Validate() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	blocks := slices.Clone(a.live)
	slices.SortFunc(blocks, func(x, y Block) int { return cmp.Compare(x.Addr, y.Addr) })
	for i, b := range blocks {
		if b.Addr < a.base || b.end() > a.eof {
			return fmt.Errorf("alloc: %s block [0x%x, 0x%x) outside [0x%x, 0x%x)", b.Tag, b.Addr, b.end(), a.base, a.eof)
		}
		if i > 0 && blocks[i-1].end() > b.Addr {
			return fmt.Errorf("alloc: %s block at 0x%x overlaps %s block at 0x%x", b.Tag, b.Addr, blocks[i-1].Tag, blocks[i-1].Addr)
		}
	}
	return nil
}

func alignUp(addr, align uint64) uint64 {
	if align <= 1 {
		return addr
	}
	if r := addr % align; r != 0 {
		addr += align - r
	}
	return addr
}

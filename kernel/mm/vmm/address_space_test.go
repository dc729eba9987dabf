package vmm

import (
	"bytes"
	"testing"

	"rvos/kernel"
	"rvos/kernel/mm"
)

func newUserSpace(t *testing.T) *AddressSpace {
	t.Helper()

	as, err := NewBareAddressSpace()
	if err != nil {
		t.Fatal(err)
	}
	if err := as.mapTrampoline(); err != nil {
		t.Fatal(err)
	}
	return as
}

func TestPermissionFromPort(t *testing.T) {
	specs := []struct {
		port    uintptr
		expPerm MapPermission
		expErr  *kernel.Error
	}{
		{0, 0, errBadPort},
		{1, PermUser | PermRead, nil},
		{2, PermUser | PermWrite, nil},
		{3, PermUser | PermRead | PermWrite, nil},
		{4, PermUser | PermExec, nil},
		{7, PermUser | PermRead | PermWrite | PermExec, nil},
		{8, 0, errBadPort},
		{9, 0, errBadPort},
		{0xff, 0, errBadPort},
	}

	for specIndex, spec := range specs {
		perm, err := PermissionFromPort(spec.port)
		if err != spec.expErr {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
			continue
		}
		if perm != spec.expPerm {
			t.Errorf("[spec %d] expected permission %s; got %s", specIndex, spec.expPerm, perm)
		}
	}

	if got := (PermUser | PermRead | PermExec).String(); got != "ur-x" {
		t.Errorf("expected String() to return ur-x; got %s", got)
	}
}

func TestInsertFramedArea(t *testing.T) {
	alloc := setupMemory(t, 64)
	as := newUserSpace(t)

	if err := as.InsertFramedArea(0x10000, 0x12000, PermUser|PermRead|PermWrite); err != nil {
		t.Fatal(err)
	}

	specs := []struct {
		start, end uintptr
		expErr     *kernel.Error
	}{
		// same range
		{0x10000, 0x12000, ErrOverlap},
		// partial overlap at either end
		{0xf000, 0x11000, ErrOverlap},
		{0x11fff, 0x13000, ErrOverlap},
		// trampoline is mapped outside of any area
		{Trampoline, Trampoline + 1, ErrOverlap},
		// past the end of the address space
		{mm.MaxVirtAddr, mm.MaxVirtAddr + mm.PageSize, errBadRange},
		// adjacent ranges are fine
		{0x12000, 0x13000, nil},
		{0xe000, 0x10000, nil},
	}

	for specIndex, spec := range specs {
		free := alloc.FreeCount()
		areas := len(as.areas)

		err := as.InsertFramedArea(spec.start, spec.end, PermUser|PermRead)
		if err != spec.expErr {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
			continue
		}

		if spec.expErr != nil && (alloc.FreeCount() != free || len(as.areas) != areas) {
			t.Errorf("[spec %d] expected failed insert to leave the address space untouched", specIndex)
		}
	}

	pte, ok := as.Translate(mm.PageFromAddress(0x11000))
	if !ok || !pte.HasFlags(FlagUser|FlagRead|FlagWrite) {
		t.Fatalf("expected original mapping to be intact; got %x", uintptr(pte))
	}
}

func TestRemoveAreaRange(t *testing.T) {
	alloc := setupMemory(t, 64)
	as := newUserSpace(t)

	perm := PermUser | PermRead | PermWrite
	for _, r := range [][2]uintptr{{0x10000, 0x14000}, {0x14000, 0x15000}} {
		if err := as.InsertFramedArea(r[0], r[1], perm); err != nil {
			t.Fatal(err)
		}
	}
	if err := as.InsertFramedArea(TrapContextBase, Trampoline, PermRead|PermWrite); err != nil {
		t.Fatal(err)
	}

	page := func(va uintptr) mm.Page { return mm.PageFromAddress(va) }

	specs := []struct {
		start, end mm.Page
		expErr     *kernel.Error
	}{
		// first half of an area
		{page(0x10000), page(0x12000), ErrNoSuchArea},
		// interior of an area
		{page(0x11000), page(0x13000), ErrNoSuchArea},
		// spans both areas
		{page(0x10000), page(0x15000), ErrNoSuchArea},
		// nothing there
		{page(0x20000), page(0x21000), ErrNoSuchArea},
		// kernel-only area
		{page(TrapContextBase), page(Trampoline), ErrNoSuchArea},
		// exact matches
		{page(0x14000), page(0x15000), nil},
		{page(0x10000), page(0x14000), nil},
		// already removed
		{page(0x10000), page(0x14000), ErrNoSuchArea},
	}

	for specIndex, spec := range specs {
		free := alloc.FreeCount()
		if err := as.RemoveAreaRange(spec.start, spec.end); err != spec.expErr {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
			continue
		}

		expFree := free
		if spec.expErr == nil {
			expFree += uint(spec.end - spec.start)
		}
		if got := alloc.FreeCount(); got != expFree {
			t.Errorf("[spec %d] expected free count %d; got %d", specIndex, expFree, got)
		}
	}

	for va := uintptr(0x10000); va < 0x15000; va += mm.PageSize {
		if _, ok := as.Translate(page(va)); ok {
			t.Errorf("expected %x to be unmapped", va)
		}
	}

	if _, ok := as.Translate(page(TrapContextBase)); !ok {
		t.Error("expected the trap context page to stay mapped")
	}

	// The range can be mapped again.
	if err := as.InsertFramedArea(0x10000, 0x14000, perm); err != nil {
		t.Fatalf("expected re-insert to succeed; got %v", err)
	}
}

func TestAppendAndShrink(t *testing.T) {
	setupMemory(t, 64)
	as := newUserSpace(t)

	const heap = uintptr(0x20000)
	perm := PermUser | PermRead | PermWrite
	if err := as.InsertFramedArea(heap, heap, perm); err != nil {
		t.Fatal(err)
	}
	if err := as.InsertFramedArea(0x23000, 0x24000, perm); err != nil {
		t.Fatal(err)
	}

	start := mm.PageFromAddress(heap)

	if err := as.AppendTo(start, heap+0x1800); err != nil {
		t.Fatal(err)
	}
	for _, va := range []uintptr{heap, heap + 0x1000} {
		if _, ok := as.Translate(mm.PageFromAddress(va)); !ok {
			t.Errorf("expected %x to be mapped after AppendTo", va)
		}
	}

	// Growing into the next area fails and maps nothing.
	if err := as.AppendTo(start, 0x24000); err != ErrOverlap {
		t.Fatalf("expected ErrOverlap; got %v", err)
	}
	if _, ok := as.Translate(mm.PageFromAddress(heap + 0x2000)); ok {
		t.Fatal("expected failed AppendTo to leave new pages unmapped")
	}

	if err := as.ShrinkTo(start, heap+0x800); err != nil {
		t.Fatal(err)
	}
	if _, ok := as.Translate(mm.PageFromAddress(heap + 0x1000)); ok {
		t.Error("expected second heap page to be unmapped after ShrinkTo")
	}
	if _, ok := as.Translate(mm.PageFromAddress(heap)); !ok {
		t.Error("expected first heap page to remain mapped after ShrinkTo")
	}

	if err := as.ShrinkTo(start, heap-mm.PageSize); err != errBadRange {
		t.Fatalf("expected errBadRange when shrinking below the area start; got %v", err)
	}

	if err := as.AppendTo(mm.PageFromAddress(0x50000), 0x60000); err != ErrNoSuchArea {
		t.Fatalf("expected ErrNoSuchArea; got %v", err)
	}
}

func TestCheckAccess(t *testing.T) {
	setupMemory(t, 64)
	as := newUserSpace(t)

	if err := as.InsertFramedArea(0x10000, 0x11000, PermUser|PermRead); err != nil {
		t.Fatal(err)
	}
	if err := as.InsertFramedArea(0x11000, 0x12000, PermUser|PermRead|PermWrite); err != nil {
		t.Fatal(err)
	}
	if err := as.InsertFramedArea(TrapContextBase, Trampoline, PermRead|PermWrite); err != nil {
		t.Fatal(err)
	}

	specs := []struct {
		va, length uintptr
		perm       MapPermission
		expErr     *kernel.Error
	}{
		{0x10000, 8, PermRead, nil},
		{0x10000, 8, PermWrite, ErrAccessViolation},
		{0x11000, 0x1000, PermWrite, nil},
		{0x10ff8, 16, PermRead, nil},
		{0x10ff8, 16, PermWrite, ErrAccessViolation},
		{0x11ff8, 16, PermRead, ErrAccessViolation},
		{0x10000, 8, PermExec, ErrAccessViolation},
		{TrapContextBase, 8, PermRead, ErrAccessViolation},
		{0x30000, 0, PermRead, nil},
		{^uintptr(0), 2, PermRead, ErrAccessViolation},
	}

	for specIndex, spec := range specs {
		if err := as.CheckAccess(spec.va, spec.length, spec.perm); err != spec.expErr {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
		}
	}
}

func TestFromExistedUser(t *testing.T) {
	alloc := setupMemory(t, 128)
	parent := newUserSpace(t)

	perm := PermUser | PermRead | PermWrite
	if err := parent.InsertFramedArea(0x10000, 0x12000, perm); err != nil {
		t.Fatal(err)
	}
	if err := CopyToUser(parent.Token(), 0x10ffc, []byte("fork copy")); err != nil {
		t.Fatal(err)
	}

	child, err := FromExistedUser(parent)
	if err != nil {
		t.Fatal(err)
	}

	got, err := CopyFromUser(child.Token(), 0x10ffc, 9)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("fork copy")) {
		t.Fatalf("expected child to see parent contents; got %q", got)
	}

	parentPTE, _ := parent.Translate(mm.PageFromAddress(0x10000))
	childPTE, _ := child.Translate(mm.PageFromAddress(0x10000))
	if parentPTE.Frame() == childPTE.Frame() {
		t.Fatal("expected child pages to be backed by different frames")
	}

	if _, ok := child.Translate(mm.PageFromAddress(Trampoline)); !ok {
		t.Fatal("expected trampoline to be mapped in the child")
	}

	// Changes after the copy stay private.
	if err := CopyToUser(child.Token(), 0x10ffc, []byte("F")); err != nil {
		t.Fatal(err)
	}
	if err := child.InsertFramedArea(0x30000, 0x31000, perm); err != nil {
		t.Fatal(err)
	}

	if got, _ := CopyFromUser(parent.Token(), 0x10ffc, 1); got[0] != 'f' {
		t.Fatalf("expected parent memory to be unaffected; got %q", got)
	}
	if _, ok := parent.Translate(mm.PageFromAddress(0x30000)); ok {
		t.Fatal("expected child mapping to be invisible to the parent")
	}

	free := alloc.FreeCount()
	child.RecycleDataPages()
	if got := alloc.FreeCount(); got != free+3 {
		t.Fatalf("expected RecycleDataPages to release 3 frames; free count went from %d to %d", free, got)
	}

	nodes := uint(len(child.pageTable.frames))
	child.Destroy()
	if got := alloc.FreeCount(); got != free+3+nodes {
		t.Fatalf("expected Destroy to release %d page table frames", nodes)
	}
}

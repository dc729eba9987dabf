package vmm

import (
	"bytes"
	"errors"
	"testing"

	"rvos/kernel/mm"
)

func TestTranslatedByteBuffer(t *testing.T) {
	setupMemory(t, 64)
	as := newUserSpace(t)

	if err := as.InsertFramedArea(0x10000, 0x13000, PermUser|PermRead|PermWrite); err != nil {
		t.Fatal(err)
	}
	if err := as.InsertFramedArea(TrapContextBase, Trampoline, PermRead|PermWrite); err != nil {
		t.Fatal(err)
	}
	if err := as.InsertFramedArea(0x20000, 0x21000, PermUser|PermRead|PermExec); err != nil {
		t.Fatal(err)
	}

	specs := []struct {
		ptr, length uintptr
		perm        MapPermission
		expLens     []int
		expErr      bool
	}{
		{0x10000, 16, PermRead, []int{16}, false},
		{0x10ff8, 16, PermWrite, []int{8, 8}, false},
		{0x10800, 0x2000, PermRead | PermWrite, []int{0x800, 0x1000, 0x800}, false},
		{0x10000, 0, PermRead, nil, false},
		{0x12ff8, 16, PermRead, nil, true},
		{0x30000, 1, PermRead, nil, true},
		{TrapContextBase, 8, PermRead, nil, true},
		{0x20000, 8, PermRead, []int{8}, false},
		// text pages are not writable
		{0x20000, 8, PermWrite, nil, true},
		{0x12ffc, 8, PermWrite, nil, true},
	}

	for specIndex, spec := range specs {
		buffers, err := TranslatedByteBuffer(as.Token(), spec.ptr, spec.length, spec.perm)
		if (err != nil) != spec.expErr {
			t.Errorf("[spec %d] expected error=%t; got %v", specIndex, spec.expErr, err)
			continue
		}
		if spec.expErr {
			continue
		}

		if len(buffers) != len(spec.expLens) {
			t.Errorf("[spec %d] expected %d slices; got %d", specIndex, len(spec.expLens), len(buffers))
			continue
		}
		for i, buf := range buffers {
			if len(buf) != spec.expLens[i] {
				t.Errorf("[spec %d] expected slice %d to have length %d; got %d", specIndex, i, spec.expLens[i], len(buf))
			}
		}
	}
}

func TestUserBufferStraddlingPages(t *testing.T) {
	setupMemory(t, 64)
	as := newUserSpace(t)

	if err := as.InsertFramedArea(0x10000, 0x12000, PermUser|PermRead|PermWrite); err != nil {
		t.Fatal(err)
	}

	payload := []byte("0123456789abcdef")
	ub, err := NewUserBuffer(as.Token(), 0x10ff8, uintptr(len(payload)), PermRead|PermWrite)
	if err != nil {
		t.Fatal(err)
	}
	if ub.Len() != len(payload) {
		t.Fatalf("expected buffer length %d; got %d", len(payload), ub.Len())
	}

	if n, err := ub.ReadFrom(bytes.NewReader(payload)); err != nil || n != int64(len(payload)) {
		t.Fatalf("expected ReadFrom to copy %d bytes; got %d, %v", len(payload), n, err)
	}

	// The two halves live in different frames.
	first, _ := as.Translate(mm.PageFromAddress(0x10000))
	second, _ := as.Translate(mm.PageFromAddress(0x11000))
	if got := mm.FrameData(first.Frame())[0xff8:]; string(got) != "01234567" {
		t.Fatalf("unexpected first page tail %q", got)
	}
	if got := mm.FrameData(second.Frame())[:8]; string(got) != "89abcdef" {
		t.Fatalf("unexpected second page head %q", got)
	}

	var out bytes.Buffer
	if n, err := ub.WriteTo(&out); err != nil || n != int64(len(payload)) || out.String() != string(payload) {
		t.Fatalf("expected WriteTo to produce %q; got %q (%d, %v)", payload, out.String(), n, err)
	}

	if _, err := ub.WriteTo(failingWriter{}); err == nil {
		t.Fatal("expected WriteTo to propagate writer errors")
	}
}

func TestTranslatedString(t *testing.T) {
	setupMemory(t, 64)
	as := newUserSpace(t)

	if err := as.InsertFramedArea(0x10000, 0x12000, PermUser|PermRead|PermWrite); err != nil {
		t.Fatal(err)
	}

	if err := CopyToUser(as.Token(), 0x10ffd, []byte("app_a\x00")); err != nil {
		t.Fatal(err)
	}
	if got, err := TranslatedString(as.Token(), 0x10ffd); err != nil || got != "app_a" {
		t.Fatalf("expected app_a; got %q, %v", got, err)
	}

	// Runs off the end of the mapping without a terminator.
	if err := CopyToUser(as.Token(), 0x11ffe, []byte("xy")); err != nil {
		t.Fatal(err)
	}
	if _, err := TranslatedString(as.Token(), 0x11ffe); err != ErrInvalidMapping {
		t.Fatalf("expected ErrInvalidMapping; got %v", err)
	}

	fill := bytes.Repeat([]byte{'a'}, int(mm.PageSize)+8)
	if err := CopyToUser(as.Token(), 0x10000, fill); err != nil {
		t.Fatal(err)
	}
	if _, err := TranslatedString(as.Token(), 0x10000); err != errStringTooLong {
		t.Fatalf("expected errStringTooLong; got %v", err)
	}
}

func TestCopyToUserNeedsWrite(t *testing.T) {
	setupMemory(t, 64)
	as := newUserSpace(t)

	if err := as.InsertFramedArea(0x10000, 0x11000, PermUser|PermRead|PermExec); err != nil {
		t.Fatal(err)
	}
	if err := as.InsertFramedArea(0x11000, 0x12000, PermUser|PermWrite); err != nil {
		t.Fatal(err)
	}

	if err := CopyToUser(as.Token(), 0x10000, []byte("x")); err != ErrInvalidMapping {
		t.Fatalf("expected a write to a read-only page to fail; got %v", err)
	}
	// Straddling into the read-only page fails as a whole.
	if err := CopyToUser(as.Token(), 0x10fff, []byte("xy")); err != ErrInvalidMapping {
		t.Fatalf("expected a straddling write to fail; got %v", err)
	}
	if err := CopyToUser(as.Token(), 0x11000, []byte("ok")); err != nil {
		t.Fatalf("expected a write to a writable page to succeed; got %v", err)
	}
	if _, err := CopyFromUser(as.Token(), 0x11000, 2); err != ErrInvalidMapping {
		t.Fatalf("expected a read from a write-only page to fail; got %v", err)
	}

	if got, _ := CopyFromUser(as.Token(), 0x10000, 1); got[0] != 0 {
		t.Fatalf("expected the read-only page to be untouched; got %q", got)
	}
}

type failingWriter struct{}

func (failingWriter) Write(_ []byte) (int, error) {
	return 0, errors.New("write failed")
}

package vmm

import (
	"bytes"
	"io"

	"rvos/kernel"
	"rvos/kernel/mm"
)

const (
	// maxUserString bounds the length of strings read from user memory.
	maxUserString = mm.PageSize
)

var errStringTooLong = &kernel.Error{Module: "vmm", Message: "user string is not terminated"}

// TranslatedByteBuffer returns the physical bytes backing the user range
// [ptr, ptr+length) in the address space identified by token. Each returned
// slice lies within a single page since consecutive user pages need not be
// physically contiguous. The whole request fails with ErrInvalidMapping if
// any page is not mapped for user access with the rights in perm.
func TranslatedByteBuffer(token, ptr, length uintptr, perm MapPermission) ([][]byte, *kernel.Error) {
	end := ptr + length
	if end < ptr || end > mm.MaxVirtAddr {
		return nil, ErrInvalidMapping
	}

	var (
		pt       = PageTableFromToken(token)
		required = (perm | PermUser).flags()
		buffers  [][]byte
	)

	for start := ptr; start < end; {
		page := mm.PageFromAddress(start)
		pte, ok := pt.Translate(page)
		if !ok || !pte.HasFlags(required) {
			return nil, ErrInvalidMapping
		}

		pageEnd := (page + 1).Address()
		if pageEnd > end {
			pageEnd = end
		}

		data := mm.FrameData(pte.Frame())
		buffers = append(buffers, data[mm.PageOffset(start):mm.PageOffset(start)+pageEnd-start])
		start = pageEnd
	}

	return buffers, nil
}

// UserBuffer is a user memory range resolved to its physical pages.
type UserBuffer struct {
	Buffers [][]byte
}

// NewUserBuffer translates [ptr, ptr+length) in the address space
// identified by token. Every page must grant the rights in perm.
func NewUserBuffer(token, ptr, length uintptr, perm MapPermission) (*UserBuffer, *kernel.Error) {
	buffers, err := TranslatedByteBuffer(token, ptr, length, perm)
	if err != nil {
		return nil, err
	}
	return &UserBuffer{Buffers: buffers}, nil
}

// Len returns the number of bytes in the buffer.
func (b *UserBuffer) Len() int {
	var n int
	for _, buf := range b.Buffers {
		n += len(buf)
	}
	return n
}

// WriteTo copies the user bytes to w.
func (b *UserBuffer) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, buf := range b.Buffers {
		n, err := w.Write(buf)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// ReadFrom fills the user bytes from r. It stops early without error if r
// is exhausted.
func (b *UserBuffer) ReadFrom(r io.Reader) (int64, error) {
	var total int64
	for _, buf := range b.Buffers {
		n, err := io.ReadFull(r, buf)
		total += int64(n)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// CopyToUser writes data at ptr in the address space identified by token.
// The destination must be writable by the user.
func CopyToUser(token, ptr uintptr, data []byte) *kernel.Error {
	buf, err := NewUserBuffer(token, ptr, uintptr(len(data)), PermWrite)
	if err != nil {
		return err
	}

	// Reading from a bytes.Reader cannot fail.
	_, _ = buf.ReadFrom(bytes.NewReader(data))
	return nil
}

// CopyFromUser reads length bytes at ptr in the address space identified by
// token. The source must be readable by the user.
func CopyFromUser(token, ptr, length uintptr) ([]byte, *kernel.Error) {
	buf, err := NewUserBuffer(token, ptr, length, PermRead)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, length)
	for _, src := range buf.Buffers {
		out = append(out, src...)
	}
	return out, nil
}

// TranslatedString reads a NUL-terminated string at ptr in the address
// space identified by token.
func TranslatedString(token, ptr uintptr) (string, *kernel.Error) {
	var (
		pt  = PageTableFromToken(token)
		out []byte
	)

	for va := ptr; uintptr(len(out)) < maxUserString; va++ {
		if va >= mm.MaxVirtAddr {
			return "", ErrInvalidMapping
		}

		pte, ok := pt.Translate(mm.PageFromAddress(va))
		if !ok || !pte.HasFlags(FlagUser|FlagRead) {
			return "", ErrInvalidMapping
		}

		ch := mm.FrameData(pte.Frame())[mm.PageOffset(va)]
		if ch == 0 {
			return string(out), nil
		}
		out = append(out, ch)
	}

	return "", errStringTooLong
}

package vmm

import (
	"rvos/kernel"
	"rvos/kernel/mm"
)

// MapType selects how the pages of an area obtain their frames.
type MapType uint8

const (
	// MapIdentical maps every page onto the frame with the same number.
	// It is only used by the kernel space for its direct map.
	MapIdentical MapType = iota

	// MapFramed backs every page with a freshly allocated frame owned by
	// the area.
	MapFramed
)

// MapArea is a contiguous range of virtual pages sharing one permission set.
type MapArea struct {
	pages   mm.PageRange
	frames  map[mm.Page]mm.Frame
	mapType MapType
	perm    MapPermission
}

// NewMapArea returns an area covering [startVA, endVA) rounded outwards to
// page boundaries. No pages are mapped until the area is pushed into an
// address space.
func NewMapArea(startVA, endVA uintptr, mapType MapType, perm MapPermission) *MapArea {
	return &MapArea{
		pages:   mm.PageRange{Start: mm.PageFromAddress(startVA), End: mm.PageCeil(endVA)},
		frames:  make(map[mm.Page]mm.Frame),
		mapType: mapType,
		perm:    perm,
	}
}

// Range returns the pages covered by the area.
func (a *MapArea) Range() mm.PageRange { return a.pages }

// Permission returns the access rights of the area.
func (a *MapArea) Permission() MapPermission { return a.perm }

// Type returns the map type of the area.
func (a *MapArea) Type() MapType { return a.mapType }

// mapOne installs the translation for a single page.
func (a *MapArea) mapOne(pt *PageTable, page mm.Page) *kernel.Error {
	var (
		frame mm.Frame
		err   *kernel.Error
	)

	switch a.mapType {
	case MapIdentical:
		frame = mm.Frame(page)
	case MapFramed:
		if frame, err = mm.AllocFrame(); err != nil {
			return err
		}
	}

	if err = pt.Map(page, frame, a.perm.flags()); err != nil {
		if a.mapType == MapFramed {
			mm.FreeFrame(frame)
		}
		return err
	}

	if a.mapType == MapFramed {
		a.frames[page] = frame
	}
	return nil
}

// unmapOne removes the translation for a single page and releases its frame.
func (a *MapArea) unmapOne(pt *PageTable, page mm.Page) {
	if frame, ok := a.frames[page]; ok {
		mm.FreeFrame(frame)
		delete(a.frames, page)
	}
	pt.Unmap(page)
}

// mapPages maps the pages in [from, to). If a page cannot be mapped, the
// pages mapped by this call are unmapped again before returning the error.
func (a *MapArea) mapPages(pt *PageTable, from, to mm.Page) *kernel.Error {
	for page := from; page < to; page++ {
		if err := a.mapOne(pt, page); err != nil {
			for undo := from; undo < page; undo++ {
				a.unmapOne(pt, undo)
			}
			return err
		}
	}
	return nil
}

func (a *MapArea) unmapPages(pt *PageTable, from, to mm.Page) {
	for page := from; page < to; page++ {
		a.unmapOne(pt, page)
	}
}

// mapAll maps every page of the area.
func (a *MapArea) mapAll(pt *PageTable) *kernel.Error {
	return a.mapPages(pt, a.pages.Start, a.pages.End)
}

// unmapAll unmaps every page of the area releasing the frames it owns.
func (a *MapArea) unmapAll(pt *PageTable) {
	a.unmapPages(pt, a.pages.Start, a.pages.End)
}

// appendTo grows the area so it ends at newEnd.
func (a *MapArea) appendTo(pt *PageTable, newEnd mm.Page) *kernel.Error {
	if err := a.mapPages(pt, a.pages.End, newEnd); err != nil {
		return err
	}
	a.pages.End = newEnd
	return nil
}

// shrinkTo trims the area so it ends at newEnd.
func (a *MapArea) shrinkTo(pt *PageTable, newEnd mm.Page) {
	a.unmapPages(pt, newEnd, a.pages.End)
	a.pages.End = newEnd
}

// copyData writes data into the frames of the area starting offset bytes
// into its first page. The area must already be mapped.
func (a *MapArea) copyData(data []byte, offset uintptr) {
	page := a.pages.Start
	for len(data) > 0 && page < a.pages.End {
		n := copy(mm.FrameData(a.frames[page])[offset:], data)
		data = data[n:]
		offset = 0
		page++
	}
}

package vmm

import (
	"strings"

	"rvos/kernel"
)

// MapPermission is the set of access rights granted to a mapped area. The
// bit positions match the corresponding page table entry flags.
type MapPermission uint8

const (
	// PermRead allows loads from the area.
	PermRead = MapPermission(FlagRead)

	// PermWrite allows stores to the area.
	PermWrite = MapPermission(FlagWrite)

	// PermExec allows instruction fetches from the area.
	PermExec = MapPermission(FlagExec)

	// PermUser makes the area accessible from user mode.
	PermUser = MapPermission(FlagUser)

	permMask = PermRead | PermWrite | PermExec | PermUser

	// portMask covers the bits a user may set in an mmap port argument.
	portMask = uintptr(0x7)
)

var errBadPort = &kernel.Error{Module: "vmm", Message: "invalid mmap permission bits"}

// PermissionFromPort converts the port argument of an mmap request (bit 0
// read, bit 1 write, bit 2 exec) into a user permission set. Ports with
// unknown bits set or with no access bit at all are rejected.
func PermissionFromPort(port uintptr) (MapPermission, *kernel.Error) {
	if port&^portMask != 0 || port&portMask == 0 {
		return 0, errBadPort
	}

	perm := PermUser
	if port&0x1 != 0 {
		perm |= PermRead
	}
	if port&0x2 != 0 {
		perm |= PermWrite
	}
	if port&0x4 != 0 {
		perm |= PermExec
	}
	return perm, nil
}

// Has returns true if p grants every right in other.
func (p MapPermission) Has(other MapPermission) bool {
	return p&other == other
}

// flags returns the page table entry flags for this permission set.
func (p MapPermission) flags() PageTableEntryFlag {
	return PageTableEntryFlag(p & permMask)
}

// String renders the permission set in "urwx" form with dashes for
// missing rights.
func (p MapPermission) String() string {
	var sb strings.Builder
	for _, r := range []struct {
		perm MapPermission
		ch   byte
	}{{PermUser, 'u'}, {PermRead, 'r'}, {PermWrite, 'w'}, {PermExec, 'x'}} {
		if p.Has(r.perm) {
			sb.WriteByte(r.ch)
		} else {
			sb.WriteByte('-')
		}
	}
	return sb.String()
}

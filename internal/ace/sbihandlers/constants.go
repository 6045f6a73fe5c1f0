// Package sbihandlers implements one handler per SBI extension and per
// trap cause, each producing a transformation for the flow package to
// apply: ApplyToConfidentialHart, ApplyToHypervisorHart, or a
// declassification in either direction (spec.md §4.6).
package sbihandlers

// SBI extension ids, per the table in spec.md §6. 0x48534D spells "HSM" in
// ASCII and is used here, per the table, for both the Base info FIDs and
// (per "plus standard RFNC, HSM" in the same section) hart-state
// management FIDs such as HART_START — the table gives one numeric home to
// both, so this implementation does too rather than inventing a second id
// the spec never assigns.
const (
	ExtHSM  uint64 = 0x48534D
	ExtSRST uint64 = 0x53525354
	ExtCoVG uint64 = 0x434F5647
	ExtCoVH uint64 = 0x434F5648
	ExtNACL uint64 = 0x4E41434C
	ExtRFNC uint64 = 0x52464E43
)

// HSM FIDs.
const (
	FIDGetMvendorid uint64 = iota
	FIDGetMarchid
	FIDGetMimpid
	FIDHartStart
)

// SRST FIDs.
const (
	FIDSystemReset uint64 = iota
)

// CoVG FIDs.
const (
	FIDShareMemory uint64 = iota
	FIDUnshareMemory
	FIDTLBInvalidate
)

// CoVH (Host) FIDs.
const (
	FIDCreateTVM uint64 = iota
	FIDFinalizeTVM
	FIDDestroyTVM
	FIDAddMemoryRegion
	FIDRunTVMVcpu
)

// NACL FIDs.
const (
	FIDSetupSharedMemory uint64 = iota
)

// RFNC FIDs. HFenceVvmaAsid/HFenceVvma are the nested-virtualization
// variants that spec.md §4.6 says are a NoOperation: nested virtualization
// is out of scope (spec.md §1 Non-goals) beyond passing these through.
const (
	FIDFenceI uint64 = iota
	FIDSFenceVMA
	FIDSFenceVMAASID
	FIDHFenceGVMAVMID
	FIDHFenceGVMA
	FIDHFenceVVMAASID
	FIDHFenceVVMA
)

// Hard-coded hart identity values returned by the Base info FIDs. A real
// deployment would source these from the hart's actual mvendorid/marchid/
// mimpid CSRs via the architecture facade.
const (
	Mvendorid uint64 = 0
	Marchid   uint64 = 0
	Mimpid    uint64 = 0
)

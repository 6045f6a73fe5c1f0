package arch

// HardwareCapability describes what a hart can do, probed once at boot and
// consulted by pagealloc/pmp/dispatch wiring. In this software model there
// is no physical hart to query, so Probe returns a fixed capability set
// representative of the class of hart the monitor targets (rv64gc + H
// extension); a real deployment would replace Probe's body with a call
// into firmware-provided hart configuration.
type HardwareCapability struct {
	NumPMPEntries int

	HasHExtension bool
	HasSExtension bool
	HasFExtension bool
	HasDExtension bool
	HasQExtension bool

	// InterruptBitmap mirrors the set bits of mip/mie this hart supports
	// (SSIP, STIP, SEIP, VSSIP, VSTIP, VSEIP, and so on).
	InterruptBitmap uint64

	HasMenvcfg bool
	HasSenvcfg bool
	HasHenvcfg bool
}

const (
	InterruptSSIP uint64 = 1 << 1
	InterruptSTIP uint64 = 1 << 5
	InterruptSEIP uint64 = 1 << 9

	InterruptVSSIP uint64 = 1 << 2
	InterruptVSTIP uint64 = 1 << 6
	InterruptVSEIP uint64 = 1 << 10

	InterruptSGEIP uint64 = 1 << 12
)

// Probe returns this hart's capability set. The value is constant across
// calls in this implementation because no physical probing is possible.
func Probe() HardwareCapability {
	return HardwareCapability{
		NumPMPEntries: 16,
		HasHExtension: true,
		HasSExtension: true,
		HasFExtension: true,
		HasDExtension: true,
		HasQExtension: false,
		InterruptBitmap: InterruptSSIP | InterruptSTIP | InterruptSEIP |
			InterruptVSSIP | InterruptVSTIP | InterruptVSEIP | InterruptSGEIP,
		HasMenvcfg: true,
		HasSenvcfg: true,
		HasHenvcfg: true,
	}
}

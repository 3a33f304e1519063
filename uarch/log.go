package uarch

// Kind distinguishes a read access from a write access within a Log.
type Kind int

const (
	Read Kind = iota
	Write
)

// Access is one entry of an access log: a kind, the physical address
// of the 8-byte word touched, the value before the access, the value
// after (writes only), and the sibling hashes needed to fold that
// leaf's change into the root. Every access is exactly one Merkle
// leaf, so no access size is recorded.
type Access struct {
	Kind        Kind
	Address     uint64
	ValueBefore uint64
	ValueAfter  uint64 // only meaningful when Kind == Write
	Siblings    [][32]byte
}

// Log is the ordered access trace one uarch step or reset produces,
// together with the root hashes it is claimed to bridge.
type Log struct {
	RootBefore [32]byte
	RootAfter  [32]byte
	Accesses   []Access
}

// LogStep executes exactly one uarch instruction against s, recording
// every register and memory access it performs into a fresh Log
// (spec.md §4.G's log_uarch_step).
func LogStep(s *State) *Log {
	log := &Log{}
	log.RootBefore = s.beginLog(log)
	step(s)
	log.RootAfter = s.endLog()
	return log
}

// LogReset restores s to its initial state (registers zeroed, PC and
// cycle zeroed, halt cleared; the RAM's program image is left as is),
// recording the access log the reset produces (log_uarch_reset's
// verify_uarch_reset_* analog, spec.md §4.G).
func LogReset(s *State) *Log {
	log := &Log{}
	log.RootBefore = s.beginLog(log)
	resetState(s)
	log.RootAfter = s.endLog()
	return log
}

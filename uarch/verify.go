package uarch

import (
	"github.com/cartesi/machine/merkle"
	"github.com/cartesi/machine/pma"
)

// replay builds a scratch machine containing nothing but the
// addresses a log touches, seeded with each address's first recorded
// value_before, then runs exec against it, recording a fresh log.
// Because the uarch's only inputs are the values it reads, this fresh
// log's computed values are exactly what an honest uarch would
// produce from the same starting values — independent of whatever
// value_after the log under test claims.
func replay(addrs []uint64, before map[uint64]uint64, base uint64, exec func(*State)) *Log {
	pages := make(map[uint64]*pma.PMA)
	for _, addr := range addrs {
		pageIndex := addr >> pma.PageBits
		if _, ok := pages[pageIndex]; ok {
			continue
		}
		pages[pageIndex] = &pma.PMA{
			Start:  pageIndex << pma.PageBits,
			Length: pma.PageSize,
			Flags:  pma.Flags{Memory: true, Readable: true, Writable: true},
			Memory: pma.NewMemory(pma.PageSize, nil),
		}
	}
	ranges := make([]*pma.PMA, 0, len(pages))
	for _, p := range pages {
		ranges = append(ranges, p)
	}
	table, err := pma.NewTable(ranges)
	if err != nil {
		return nil
	}
	for addr, v := range before {
		r := table.Find(addr&^7, 8)
		r.WriteOffset(addr&^7, v, 3)
	}
	tree := merkle.NewTree(table)
	s := NewState(table, tree, base)
	log := &Log{}
	log.RootBefore = s.beginLog(log)
	exec(s)
	log.RootAfter = s.endLog()
	return log
}

// sameShape reports whether two logs recorded the same sequence of
// kinds/addresses/after-values (before-values necessarily match,
// since the replay was seeded from them).
func sameShape(a, b *Log) bool {
	if len(a.Accesses) != len(b.Accesses) {
		return false
	}
	for i := range a.Accesses {
		x, y := a.Accesses[i], b.Accesses[i]
		if x.Kind != y.Kind || x.Address != y.Address {
			return false
		}
		if x.Kind == Write && x.ValueAfter != y.ValueAfter {
			return false
		}
	}
	return true
}

// foldCheck verifies log's own (address, value, siblings) chain folds
// from rootBefore to rootAfter, the cryptographic half of
// verification (spec.md §4.G; catches any tampered sibling hash).
func foldCheck(log *Log, rootBefore, rootAfter [32]byte) bool {
	current := rootBefore
	for _, a := range log.Accesses {
		target := merkle.WordHash(a.ValueBefore)
		if !merkle.Verify(a.Address, merkle.LeafSizeLog2, merkle.Proof{Target: target, Siblings: a.Siblings}, current) {
			return false
		}
		if a.Kind == Write {
			current = merkle.Fold(a.Address, merkle.LeafSizeLog2, merkle.WordHash(a.ValueAfter), a.Siblings)
		}
	}
	return current == rootAfter
}

// firstBefore collects, per address, the value_before of its first
// occurrence in the log — the only state the replay is allowed to see.
func firstBefore(log *Log) (addrs []uint64, before map[uint64]uint64) {
	before = make(map[uint64]uint64)
	for _, a := range log.Accesses {
		if _, ok := before[a.Address]; !ok {
			addrs = append(addrs, a.Address)
			before[a.Address] = a.ValueBefore
		}
	}
	return addrs, before
}

// VerifyStepLog checks that log is an internally consistent record of
// a single uarch instruction: replaying the instruction from nothing
// but the log's own value_before entries reproduces exactly the
// sequence of accesses and write values the log claims. base is the
// uarch RAM PMA's physical start address — a published constant of
// the machine configuration, not something recovered from the log
// (spec.md §4.G's log_uarch_step verifier).
func VerifyStepLog(log *Log, base uint64) bool {
	addrs, before := firstBefore(log)
	replayed := replay(addrs, before, base, step)
	return replayed != nil && sameShape(log, replayed)
}

// VerifyStepStateTransition is VerifyStepLog plus the cryptographic
// fold check that log's chain of (value, siblings) actually bridges
// rootBefore to rootAfter — the full verify_uarch_step_state_transition
// spec.md §4.G and testable property 6 require. Returns false if
// log's own RootBefore/RootAfter disagree with the supplied roots, if
// the semantic replay diverges, or if any access fails to verify
// against the evolving root (including a tampered sibling hash).
func VerifyStepStateTransition(rootBefore [32]byte, log *Log, rootAfter [32]byte, base uint64) bool {
	if log.RootBefore != rootBefore || log.RootAfter != rootAfter {
		return false
	}
	if !VerifyStepLog(log, base) {
		return false
	}
	return foldCheck(log, rootBefore, rootAfter)
}

// VerifyResetLog is VerifyStepLog's analog for log_uarch_reset: replay
// resetState instead of step, and apply the same shape check.
func VerifyResetLog(log *Log, base uint64) bool {
	addrs, before := firstBefore(log)
	replayed := replay(addrs, before, base, resetState)
	return replayed != nil && sameShape(log, replayed)
}

// VerifyResetStateTransition is VerifyStepStateTransition's analog
// for reset_uarch (spec.md §4.G's "analogous verify_uarch_reset_*
// pair").
func VerifyResetStateTransition(rootBefore [32]byte, log *Log, rootAfter [32]byte, base uint64) bool {
	if log.RootBefore != rootBefore || log.RootAfter != rootAfter {
		return false
	}
	if !VerifyResetLog(log, base) {
		return false
	}
	return foldCheck(log, rootBefore, rootAfter)
}

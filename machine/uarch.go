package machine

import "github.com/cartesi/machine/uarch"

// RunUarch steps the microarchitecture sub-interpreter until its own
// halt flag is set or its cycle counter reaches uarchCycleEnd,
// spec.md §4.G's run_uarch(uarch_cycle_end).
func (m *CPU) RunUarch(uarchCycleEnd uint64) {
	uarch.Run(m.uarchState, uarchCycleEnd)
}

// ResetUarch restores the microarchitecture's registers, pc, cycle,
// and halt flag to their power-on state (spec.md §4.G reset_uarch).
func (m *CPU) ResetUarch() {
	uarch.Reset(m.uarchState)
}

// LogUarchStep executes exactly one microarchitecture instruction and
// returns its independently verifiable access log (spec.md §4.G
// log_uarch_step).
func (m *CPU) LogUarchStep() *uarch.Log {
	return uarch.LogStep(m.uarchState)
}

// LogUarchReset is LogUarchStep's analog for reset_uarch (spec.md
// §4.G log_uarch_reset).
func (m *CPU) LogUarchReset() *uarch.Log {
	return uarch.LogReset(m.uarchState)
}

// VerifyUarchStepLog and VerifyUarchStepStateTransition expose
// package uarch's static verifiers at the machine's own base address,
// so a caller does not need to know the uarch RAM PMA's location
// (spec.md §4.G's verify_uarch_step_log / _state_transition).
func (m *CPU) VerifyUarchStepLog(log *uarch.Log) bool {
	return uarch.VerifyStepLog(log, uarchBase)
}

func (m *CPU) VerifyUarchStepStateTransition(rootBefore [32]byte, log *uarch.Log, rootAfter [32]byte) bool {
	return uarch.VerifyStepStateTransition(rootBefore, log, rootAfter, uarchBase)
}

func (m *CPU) VerifyUarchResetLog(log *uarch.Log) bool {
	return uarch.VerifyResetLog(log, uarchBase)
}

func (m *CPU) VerifyUarchResetStateTransition(rootBefore [32]byte, log *uarch.Log, rootAfter [32]byte) bool {
	return uarch.VerifyResetStateTransition(rootBefore, log, rootAfter, uarchBase)
}

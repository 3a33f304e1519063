package uarch

// resetState restores s to its power-on condition: every register
// zero, pc/cycle zero, halt cleared. It only clears the shadow
// register file that lives in the RAM PMA and does not reload the
// program image, so an access log taken of it (LogReset) covers
// exactly what the reset changed.
func resetState(s *State) {
	for i := 1; i < 32; i++ {
		s.SetX(i, 0)
	}
	s.SetPC(0)
	s.setCycle(0)
	s.setHalted(false)
}

// Reset runs resetState unlogged, for the machine's own reset_uarch.
func Reset(s *State) { resetState(s) }

// Run steps s until either its halt flag is set or its cycle counter
// reaches cycleEnd, mirroring run_uarch(uarch_cycle_end) (spec.md
// §4.G). No access log is recorded; use LogStep for a logged single
// step.
func Run(s *State, cycleEnd uint64) {
	for !s.Halted() && s.Cycle() < cycleEnd {
		step(s)
	}
}

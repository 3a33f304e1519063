package machine

import (
	"fmt"

	"github.com/cartesi/machine/riscv"
)

// ConfigError reports a fatal problem discovered while building a
// machine: overlapping PMAs, misaligned regions, or an unknown CSR
// name in the processor config (spec.md §7). The size of an image file
// is not checked against the length of its range.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return fmt.Sprintf("machine: configuration error: %s", e.Reason) }

func configErrorf(format string, args ...any) *ConfigError {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// AccessError reports a host API request that cannot be honored: an
// address not contained in one memory PMA, or a write_memory aimed at
// an IO PMA (spec.md §7).
type AccessError struct {
	Reason string
}

func (e *AccessError) Error() string { return fmt.Sprintf("machine: access error: %s", e.Reason) }

func accessErrorf(format string, args ...any) *AccessError {
	return &AccessError{Reason: fmt.Sprintf(format, args...)}
}

// IOError reports a host-side I/O failure (file open/read, persisted
// store/load) that is fatal to the operation but not to the machine's
// own state (spec.md §7).
type IOError struct {
	Op     string
	Reason string
}

func (e *IOError) Error() string { return fmt.Sprintf("machine: %s: %s", e.Op, e.Reason) }

func ioErrorf(op, format string, args ...any) *IOError {
	return &IOError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// trapError is the internal control-flow value a faulting instruction
// raises; it never escapes Step — the interpreter's trap handling
// consumes it and enters the machine's own trap vector (spec.md §7's
// "exception-style control flow... plain early-return", §9).
type trapError struct {
	cause riscv.TrapCause
	tval  uint64
}

func (e *trapError) Error() string {
	return fmt.Sprintf("trap cause=%#x tval=%#x", e.cause.MCauseValue(), e.tval)
}

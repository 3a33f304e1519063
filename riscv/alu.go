package riscv

import "github.com/holiman/uint256"

// SignExtend32 sign-extends the low 32 bits of v to 64 bits, the
// operation every RV64 "W" instruction (ADDW, SLLW, ...) performs on
// its result before writing it back to rd.
func SignExtend32(v uint64) uint64 {
	return uint64(int64(int32(uint32(v))))
}

// DivS implements RISC-V signed division: divide-by-zero returns -1,
// and INT64_MIN / -1 returns INT64_MIN (no trap, no overflow panic —
// per the RISC-V spec's integer division semantics referenced in
// spec.md's "bit-exact arithmetic" design note).
func DivS(a, b int64) int64 {
	if b == 0 {
		return -1
	}
	if a == -1<<63 && b == -1 {
		return -1 << 63
	}
	return a / b
}

// DivU implements RISC-V unsigned division: divide-by-zero returns
// the all-ones value (UINT64_MAX).
func DivU(a, b uint64) uint64 {
	if b == 0 {
		return ^uint64(0)
	}
	return a / b
}

// RemS implements RISC-V signed remainder: divide-by-zero returns the
// dividend unchanged; INT64_MIN % -1 is 0.
func RemS(a, b int64) int64 {
	if b == 0 {
		return a
	}
	if a == -1<<63 && b == -1 {
		return 0
	}
	return a % b
}

// RemU implements RISC-V unsigned remainder: divide-by-zero returns
// the dividend unchanged.
func RemU(a, b uint64) uint64 {
	if b == 0 {
		return a
	}
	return a % b
}

// MulHSS returns the upper 64 bits of the signed 64x64 product
// (MULH). MulHSU and MulHUU are the mixed-sign/unsigned variants.
// Widened via github.com/holiman/uint256, matching how the teacher's
// rvgo/fast/yul64.go computes MULH/MULHSU/MULHU through yul256.go's
// 256-bit mul/shr (the 256-bit width there exists for EVM-word
// compatibility; a 128-bit-capable uint256.Int value gives the exact
// same 64x64->128 widening we need here).
func MulHSS(a, b int64) uint64 {
	var x, y uint256.Int
	signedToU256(&x, a)
	signedToU256(&y, b)
	var prod uint256.Int
	prod.Mul(&x, &y)
	prod.Rsh(&prod, 64)
	return prod.Uint64()
}

func MulHSU(a int64, b uint64) uint64 {
	var x, y uint256.Int
	signedToU256(&x, a)
	y.SetUint64(b)
	var prod uint256.Int
	prod.Mul(&x, &y)
	prod.Rsh(&prod, 64)
	return prod.Uint64()
}

func MulHUU(a, b uint64) uint64 {
	var x, y uint256.Int
	x.SetUint64(a)
	y.SetUint64(b)
	var prod uint256.Int
	prod.Mul(&x, &y)
	prod.Rsh(&prod, 64)
	return prod.Uint64()
}

// signedToU256 places the two's-complement 256-bit representation of
// a signed 64-bit value into out, so that uint256's unsigned Mul
// reproduces signed multiplication (matching EVM SIGNEXTEND followed
// by MUL, which is what the teacher's signExtend64To256 does).
func signedToU256(out *uint256.Int, v int64) {
	if v >= 0 {
		out.SetUint64(uint64(v))
		return
	}
	out.SetUint64(uint64(v))
	var mask uint256.Int
	mask.Not(&mask) // NOT of zero = all ones, same idiom as yul256.go's not()
	mask.Lsh(&mask, 64)
	out.Or(out, &mask)
}

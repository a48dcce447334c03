package stm

import (
	"math/bits"
	"unsafe"

	"golang.org/x/sys/cpu"
)

// lockArray is a fixed power-of-two array of lock cells, addressed by a
// hash of a Var's identity. Coverage is deliberately many-to-one (a
// "stripe" of addresses shares a cell); false sharing across unrelated
// Vars is acceptable.
type lockArray struct {
	cells      []cell
	mask       uint64 // len(cells)-1
	shiftExtra uint
	_          cpu.CacheLinePad
}

func newLockArray(logSize int, shiftExtra int) *lockArray {
	if logSize <= 0 {
		logSize = defaultLockArrayLogSize
	}
	if shiftExtra < 0 {
		shiftExtra = defaultLockShiftExtra
	}
	n := uint64(1) << uint(logSize)
	return &lockArray{
		cells:      make([]cell, n),
		mask:       n - 1,
		shiftExtra: uint(shiftExtra),
	}
}

// cellOf maps a Var's address to its lock cell. The address is shifted
// right by log2(word size) plus the configured extra stripe width, then
// masked to the array size; the low half is byte-swapped first to defeat
// aliasing between sequentially-allocated Vars that would otherwise all
// hash to nearby cells.
func (la *lockArray) cellOf(addr uintptr) *cell {
	shift := uint(bits.TrailingZeros(uint(unsafe.Sizeof(addr)))) + la.shiftExtra
	h := uint64(addr) >> shift
	h = swapLowHalf(h)
	return &la.cells[h&la.mask]
}

func swapLowHalf(h uint64) uint64 {
	lo := uint32(h)
	lo = bits.ReverseBytes32(lo)
	return (h &^ 0xffffffff) | uint64(lo)
}

// reset zero-fills every cell, used only by the quiescence "clock rollover"
// function while every thread is parked.
func (la *lockArray) reset() {
	for i := range la.cells {
		storeSeqCst(&la.cells[i].state, 0)
		la.cells[i].owner.Store(nil)
	}
}

func varAddr(v *Var) uintptr {
	return uintptr(unsafe.Pointer(v))
}

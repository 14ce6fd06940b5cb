package regalloc

import (
	"strings"
)

// NewRegSet returns a new RegSet with the given registers.
func NewRegSet(regs ...RealReg) RegSet {
	var ret RegSet
	for _, r := range regs {
		ret = ret.Add(r)
	}
	return ret
}

// RegSet represents a set of registers.
type RegSet uint64

// Format returns the names of the registers in the set.
func (rs RegSet) Format(info *RegisterInfo) string {
	var ret []string
	rs.Range(func(r RealReg) {
		ret = append(ret, info.RealRegName(r))
	})
	return strings.Join(ret, ", ")
}

// Has returns true if r is in the set.
func (rs RegSet) Has(r RealReg) bool {
	return r < 64 && rs&(1<<uint(r)) != 0
}

// Add returns the set with r added.
func (rs RegSet) Add(r RealReg) RegSet {
	if r >= 64 {
		return rs
	}
	return rs | 1<<uint(r)
}

// Union returns the union of the two sets.
func (rs RegSet) Union(o RegSet) RegSet {
	return rs | o
}

// Range calls f for each register in the set in ascending order.
func (rs RegSet) Range(f func(allocatedRealReg RealReg)) {
	for i := 0; i < 64; i++ {
		if rs&(1<<uint(i)) != 0 {
			f(RealReg(i))
		}
	}
}

package mem

import "golang.org/x/sys/cpu"

// zeroPage fills pg (a full direct-mapped frame) with zeros. Machines whose
// CPUID reports Enhanced REP MOVSB/STOSB get the builtin clear, which the Go
// runtime lowers to the wide/vectorized memclr the microcode's fast string
// path is tuned for; everything else falls back to an explicit byte loop
// rather than assume the runtime picked the same strategy.
func zeroPage(pg []byte) {
	if cpu.X86.HasERMS {
		clear(pg)
		return
	}
	for i := range pg {
		pg[i] = 0
	}
}

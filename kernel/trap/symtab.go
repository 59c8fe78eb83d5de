package trap

import (
	"sort"
	"sync"

	"github.com/ianlancetaylor/demangle"
	"golang.org/x/arch/x86/x86asm"
)

// Symbol is one resolved kernel symbol, grounded on stack_trace.c's
// packed Entry ({address, type, name_offset}) — type is carried for
// parity with the original's nm-style symbol type character ('T' text,
// 'D' data, ...) even though nothing here branches on it yet.
type Symbol struct {
	Addr uintptr
	Type byte
	Name string
}

var (
	symMu  sync.RWMutex
	symtab []Symbol // sorted by Addr, ascending
)

// InstallSymbols replaces the kernel symbol table RIPs resolve against,
// grounded on load_kernel_symbols, whose caller locates the
// ember_symbols boot module and decodes its SYMF-magic header into a
// []Symbol; within this module only the tests call it. Names are stored
// as given: symLookup demangles them on the way out, while Lookup
// returns them unchanged.
func InstallSymbols(symbols []Symbol) {
	sorted := append([]Symbol(nil), symbols...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Addr < sorted[j].Addr })

	symMu.Lock()
	defer symMu.Unlock()
	symtab = sorted
}

// Lookup finds the symbol containing rip, grounded on find_symbol: the
// last entry whose address does not exceed rip (symtab is built as a
// flat ascending list the same way the original's linker-generated
// table is, so a linear scan's early break becomes a binary search
// here). ok is false if no symbol table is installed or rip falls
// before the first entry.
func Lookup(rip uintptr) (sym Symbol, offset uintptr, ok bool) {
	symMu.RLock()
	defer symMu.RUnlock()

	if len(symtab) == 0 {
		return Symbol{}, 0, false
	}
	i := sort.Search(len(symtab), func(i int) bool { return symtab[i].Addr > rip }) - 1
	if i < 0 {
		return Symbol{}, 0, false
	}
	return symtab[i], rip - symtab[i].Addr, true
}

// symLookup adapts Lookup to x86asm.SymLookup, demangling the name on
// the way out so a disassembled CALL/JMP target in a fault report reads
// as source-level symbol names rather than raw mangled linkage names.
func symLookup(addr uint64) (string, uint64) {
	sym, offset, ok := Lookup(uintptr(addr))
	if !ok {
		return "", 0
	}
	return demangle.Filter(sym.Name), uint64(offset)
}

var _ x86asm.SymLookup = symLookup

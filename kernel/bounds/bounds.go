// Package bounds names the call sites that must check the kernel's
// resource budget (kernel/res) before doing work that could allocate,
// mirroring biscuit's bounds package — a per-call-site tag passed to
// res.Resadd_noblock so a storm of concurrent syscalls can't exhaust
// kernel memory one page-table walk at a time.
//
// biscuit's own bounds.go (the file defining B_ASPACE_T_K2USER_INNER and
// friends) was never retrieved in the example pack — only its call sites
// in vm/as.go and vm/userbuf.go were. This package is reconstructed from
// those call sites: each one becomes a Tag, and every observed call passes
// exactly one unit of cost, so Cost is a constant 1 rather than an
// inferred per-tag table this pack has no evidence for.
package bounds

// Tag identifies one budget-checked call site.
type Tag int

const (
	// CopyToUser guards one loop iteration of a kernel-to-user copy
	// (biscuit's B_ASPACE_T_K2USER_INNER).
	CopyToUser Tag = iota
	// CopyFromUser guards one loop iteration of a user-to-kernel copy
	// (biscuit's B_ASPACE_T_USER2K_INNER).
	CopyFromUser
	// UserBufTransfer guards one Userbuf_t.Uioread/Uiowrite chunk
	// (biscuit's B_USERBUF_T__TX).
	UserBufTransfer
	// UserIOVecInit guards building a scatter/gather vector from a user
	// iovec array (biscuit's B_USERIOVEC_T_IOV_INIT).
	UserIOVecInit
	// UserIOVecTransfer guards one chunk of an iovec-based transfer
	// (biscuit's B_USERIOVEC_T__TX).
	UserIOVecTransfer
)

// Cost is the number of kernel/res budget units a single use of tag
// consumes. Every call site this package is grounded on passes the same
// per-iteration cost, so Cost is uniform; a future call site with a
// genuinely different cost should add its own Tag rather than overload
// an existing one.
func (t Tag) Cost() int64 {
	return 1
}

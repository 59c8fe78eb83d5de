// Package container provides the intrusive containers shared by every other
// kernel package: a doubly-linked list embedded in each element, a byte
// ring buffer, and a small chained hash table. Every relation named in
// spec.md §3/§9 (regions, ready queues, wait queues, children, events) is
// threaded through a Node embedded directly in its owning struct so no
// separate allocation is needed to link it in, and removal is O(1).
//
// Each distinct list a struct can belong to needs its own embedded Node
// (spec.md §9): a Thread, for example, embeds one Node for the ready queue
// and a different one for a wait queue, since both can be live at once.
// Node is generic over its owner type so List.Front/PopFront hand back the
// owning struct directly (the Go equivalent of the original C kernel's
// LIST_ELEMENT_OF/CONTAINER_OF offset macros).
package container

// Node is an intrusive doubly-linked list link embedded in T. Owner is set
// once, at construction of the embedding struct, via NewNode.
type Node[T any] struct {
	prev, next *Node[T]
	list       *List[T]
	owner      *T
}

// NewNode binds a list node to its owning struct. Call it once, typically
// from the owner's constructor: `t.readyNode = container.NewNode(t)`.
func NewNode[T any](owner *T) Node[T] {
	return Node[T]{owner: owner}
}

// Owner returns the struct this node is embedded in.
func (n *Node[T]) Owner() *T {
	return n.owner
}

// Linked reports whether the node is currently part of a list.
func (n *Node[T]) Linked() bool {
	return n.list != nil
}

// List is an intrusive doubly-linked list anchored by a sentinel node so
// insertion and removal never need a nil check at the ends.
type List[T any] struct {
	root Node[T]
	size int
}

// Init must run before first use; the zero value of List is not ready
// (root.prev/root.next must point at itself).
func (l *List[T]) Init() *List[T] {
	l.root.next = &l.root
	l.root.prev = &l.root
	l.root.list = l
	l.size = 0
	return l
}

func (l *List[T]) lazyInit() {
	if l.root.next == nil {
		l.Init()
	}
}

// Len returns the number of elements currently linked.
func (l *List[T]) Len() int {
	return l.size
}

// Empty reports whether the list has no elements.
func (l *List[T]) Empty() bool {
	return l.size == 0
}

// PushBack appends n at the tail of the list.
func (l *List[T]) PushBack(n *Node[T]) {
	l.lazyInit()
	if n.Linked() {
		panic("node already linked")
	}
	at := l.root.prev
	n.prev = at
	n.next = &l.root
	at.next = n
	l.root.prev = n
	n.list = l
	l.size++
}

// PushFront prepends n at the head of the list.
func (l *List[T]) PushFront(n *Node[T]) {
	l.lazyInit()
	if n.Linked() {
		panic("node already linked")
	}
	at := &l.root
	n.next = at.next
	n.prev = at
	at.next.prev = n
	at.next = n
	n.list = l
	l.size++
}

// InsertBefore splices n into the list immediately before at, which must
// already be linked to l. Used for sorted insertion (kernel/vm's region
// list, ordered by base address) where PushBack/PushFront aren't enough.
func (l *List[T]) InsertBefore(at, n *Node[T]) {
	if at.list != l {
		panic("insertion point not linked to this list")
	}
	if n.Linked() {
		panic("node already linked")
	}
	n.prev = at.prev
	n.next = at
	at.prev.next = n
	at.prev = n
	n.list = l
	l.size++
}

// InsertAfter splices n into the list immediately after at, which must
// already be linked to l. Used when splitting a region: the right-hand
// remainder is re-inserted right after the node being replaced.
func (l *List[T]) InsertAfter(at, n *Node[T]) {
	if at.list != l {
		panic("insertion point not linked to this list")
	}
	if n.Linked() {
		panic("node already linked")
	}
	n.next = at.next
	n.prev = at
	at.next.prev = n
	at.next = n
	n.list = l
	l.size++
}

// Remove detaches n from whichever list it is in. It is a no-op (not an
// error) if n is not currently linked, matching spec.md §4.4's "cancellation
// is idempotent" requirement for event lists.
func (l *List[T]) Remove(n *Node[T]) {
	if !n.Linked() {
		return
	}
	if n.list != l {
		panic("node belongs to a different list")
	}
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev, n.next, n.list = nil, nil, nil
	l.size--
}

// Front returns the head element's owner, or nil if the list is empty.
func (l *List[T]) Front() *T {
	n := l.frontNode()
	if n == nil {
		return nil
	}
	return n.owner
}

func (l *List[T]) frontNode() *Node[T] {
	l.lazyInit()
	if l.Empty() {
		return nil
	}
	return l.root.next
}

// PopFront removes the head element and returns its owner, or nil if empty.
func (l *List[T]) PopFront() *T {
	n := l.frontNode()
	if n == nil {
		return nil
	}
	l.Remove(n)
	return n.owner
}

// Each calls f with the owner of every linked element, front to back. f must
// not mutate the list.
func (l *List[T]) Each(f func(*T)) {
	l.lazyInit()
	for n := l.root.next; n != &l.root; n = n.next {
		f(n.owner)
	}
}

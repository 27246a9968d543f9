package nbl

// Count returns the number of lists in the chain starting at head.
func Count(head *NetBufferList) int {
	n := 0
	for l := head; l != nil; l = l.Next {
		n++
	}
	return n
}

// Link chains lists in order and returns the head.
func Link(lists ...*NetBufferList) *NetBufferList {
	var b Builder
	for _, l := range lists {
		b.Append(l)
	}
	return b.Head()
}

// Slice flattens the chain starting at head. The links are left intact.
func Slice(head *NetBufferList) []*NetBufferList {
	var out []*NetBufferList
	for l := head; l != nil; l = l.Next {
		out = append(out, l)
	}
	return out
}

// Builder appends lists to a chain in O(1).
type Builder struct {
	head *NetBufferList
	tail *NetBufferList
	n    int
}

// Append detaches l from whatever followed it and adds it at the tail.
func (b *Builder) Append(l *NetBufferList) {
	l.Next = nil
	if b.tail == nil {
		b.head = l
	} else {
		b.tail.Next = l
	}
	b.tail = l
	b.n++
}

// Head returns the first list, or nil when empty.
func (b *Builder) Head() *NetBufferList { return b.head }

// Len returns the number of lists appended.
func (b *Builder) Len() int { return b.n }

// Partition walks the chain once and splits it by pred. Relative order is
// kept within each result. Every node ends up in exactly one of them.
func Partition(head *NetBufferList, pred func(*NetBufferList) bool) (matched, rest Builder) {
	for l := head; l != nil; {
		next := l.Next
		if pred(l) {
			matched.Append(l)
		} else {
			rest.Append(l)
		}
		l = next
	}
	return matched, rest
}

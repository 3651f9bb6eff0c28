package db

import (
	"sort"
	"sync"

	"github.com/spaolacci/murmur3"
)

// TableLocks is a fixed set of mutexes indexed by a hash of the table name.
// Two tables may share a stripe; Lock acquires distinct stripes in
// ascending order so multi-table callers cannot deadlock each other.
type TableLocks struct {
	stripes []sync.Mutex
}

// NewTableLocks creates a lock set with n stripes.
func NewTableLocks(n int) *TableLocks {
	if n <= 0 {
		n = 1
	}
	return &TableLocks{stripes: make([]sync.Mutex, n)}
}

// Stripe returns the stripe index guarding table.
func (l *TableLocks) Stripe(table string) int {
	return int(murmur3.Sum32([]byte(table)) % uint32(len(l.stripes)))
}

// Lock locks every stripe covering tables and returns a function that
// releases them.
func (l *TableLocks) Lock(tables ...string) func() {
	seen := make(map[int]struct{}, len(tables))
	idx := make([]int, 0, len(tables))
	for _, t := range tables {
		s := l.Stripe(t)
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		idx = append(idx, s)
	}
	sort.Ints(idx)

	for _, s := range idx {
		l.stripes[s].Lock()
	}
	return func() {
		for i := len(idx) - 1; i >= 0; i-- {
			l.stripes[idx[i]].Unlock()
		}
	}
}

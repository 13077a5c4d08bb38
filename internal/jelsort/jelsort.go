// Package jelsort provides stable sorting that leaves its input alone.
package jelsort

import (
	"cmp"
	"sort"
)

type sorter[E any] struct {
	src []E
	lt  func(left, right E) bool
}

func (s sorter[E]) Len() int {
	return len(s.src)
}

func (s sorter[E]) Swap(i, j int) {
	s.src[i], s.src[j] = s.src[j], s.src[i]
}

func (s sorter[E]) Less(i, j int) bool {
	return s.lt(s.src[i], s.src[j])
}

// By returns a sorted copy of items, ordered by lt, which must return true if
// left comes before right. Items that compare equal keep their relative
// order.
//
// items will not be modified.
func By[E any](items []E, lt func(left E, right E) bool) []E {
	if len(items) == 0 || lt == nil {
		return items
	}

	s := sorter[E]{
		src: make([]E, len(items)),
		lt:  lt,
	}

	copy(s.src, items)
	sort.Stable(s)
	return s.src
}

// ByKey is By with an ordering on the key that key returns for each item.
func ByKey[E any, K cmp.Ordered](items []E, key func(E) K) []E {
	return By(items, func(left, right E) bool {
		return key(left) < key(right)
	})
}

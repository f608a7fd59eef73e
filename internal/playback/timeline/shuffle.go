// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package timeline

import (
	"math/rand/v2"

	"github.com/ManuGH/xplay/internal/playback/media"
)

// RepeatMode controls next/previous window resolution.
type RepeatMode string

const (
	RepeatOff RepeatMode = "off"
	RepeatOne RepeatMode = "one"
	RepeatAll RepeatMode = "all"
)

// ShuffleOrder is a permutation of window indices used while shuffle mode
// is enabled. Implementations are immutable; Clone* return new orders.
type ShuffleOrder interface {
	Len() int
	// Next returns the index after i, or media.IndexUnset if i is last.
	Next(i int) int
	// Previous returns the index before i, or media.IndexUnset if i is first.
	Previous(i int) int
	First() int
	Last() int
	CloneAndInsert(insertionIndex, count int) ShuffleOrder
	CloneAndRemove(fromIndex, toIndex int) ShuffleOrder
	CloneAndClear() ShuffleOrder
}

// UnshuffledOrder is the identity permutation.
type UnshuffledOrder struct{ n int }

// NewUnshuffledOrder returns the identity order over n windows.
func NewUnshuffledOrder(n int) UnshuffledOrder { return UnshuffledOrder{n: n} }

func (o UnshuffledOrder) Len() int { return o.n }

func (o UnshuffledOrder) Next(i int) int {
	if i+1 < o.n {
		return i + 1
	}
	return media.IndexUnset
}

func (o UnshuffledOrder) Previous(i int) int {
	if i-1 >= 0 {
		return i - 1
	}
	return media.IndexUnset
}

func (o UnshuffledOrder) First() int {
	if o.n > 0 {
		return 0
	}
	return media.IndexUnset
}

func (o UnshuffledOrder) Last() int {
	if o.n > 0 {
		return o.n - 1
	}
	return media.IndexUnset
}

func (o UnshuffledOrder) CloneAndInsert(_, count int) ShuffleOrder {
	return UnshuffledOrder{n: o.n + count}
}

func (o UnshuffledOrder) CloneAndRemove(from, to int) ShuffleOrder {
	return UnshuffledOrder{n: o.n - (to - from)}
}

func (o UnshuffledOrder) CloneAndClear() ShuffleOrder { return UnshuffledOrder{} }

// RandomOrder is a seeded random permutation. New indices are inserted at
// random positions so existing relative order is preserved.
type RandomOrder struct {
	shuffled []int
	position []int
	seed     uint64
}

// NewRandomOrder returns a random permutation of n indices.
func NewRandomOrder(n int, seed uint64) *RandomOrder {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return newRandomOrder(r.Perm(n), seed)
}

// NewRandomOrderFrom uses an explicit permutation.
func NewRandomOrderFrom(shuffled []int, seed uint64) *RandomOrder {
	return newRandomOrder(append([]int(nil), shuffled...), seed)
}

func newRandomOrder(shuffled []int, seed uint64) *RandomOrder {
	pos := make([]int, len(shuffled))
	for i, idx := range shuffled {
		pos[idx] = i
	}
	return &RandomOrder{shuffled: shuffled, position: pos, seed: seed}
}

func (o *RandomOrder) Len() int { return len(o.shuffled) }

func (o *RandomOrder) Next(i int) int {
	p := o.position[i] + 1
	if p < len(o.shuffled) {
		return o.shuffled[p]
	}
	return media.IndexUnset
}

func (o *RandomOrder) Previous(i int) int {
	p := o.position[i] - 1
	if p >= 0 {
		return o.shuffled[p]
	}
	return media.IndexUnset
}

func (o *RandomOrder) First() int {
	if len(o.shuffled) > 0 {
		return o.shuffled[0]
	}
	return media.IndexUnset
}

func (o *RandomOrder) Last() int {
	if len(o.shuffled) > 0 {
		return o.shuffled[len(o.shuffled)-1]
	}
	return media.IndexUnset
}

func (o *RandomOrder) CloneAndInsert(insertionIndex, count int) ShuffleOrder {
	seed := o.seed + 1
	r := rand.New(rand.NewPCG(seed, uint64(insertionIndex)))
	out := make([]int, 0, len(o.shuffled)+count)
	for _, idx := range o.shuffled {
		if idx >= insertionIndex {
			idx += count
		}
		out = append(out, idx)
	}
	for i := 0; i < count; i++ {
		at := r.IntN(len(out) + 1)
		out = append(out, 0)
		copy(out[at+1:], out[at:])
		out[at] = insertionIndex + i
	}
	return newRandomOrder(out, seed)
}

func (o *RandomOrder) CloneAndRemove(from, to int) ShuffleOrder {
	n := to - from
	out := make([]int, 0, len(o.shuffled))
	for _, idx := range o.shuffled {
		switch {
		case idx >= from && idx < to:
			continue
		case idx >= to:
			idx -= n
		}
		out = append(out, idx)
	}
	return newRandomOrder(out, o.seed)
}

func (o *RandomOrder) CloneAndClear() ShuffleOrder {
	return newRandomOrder(nil, o.seed)
}

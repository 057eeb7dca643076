package model

import "sync/atomic"

const (
	chunkBits = 10
	chunkSize = 1 << chunkBits
	chunkMask = chunkSize - 1
)

// column is a growable array split into fixed-size chunks. Chunks never move
// once allocated, so a pointer to a slot stays valid while the directory is
// replaced on growth. Only the writer calls slot with an index at or beyond
// the committed length; readers only touch committed slots.
type column[T any] struct {
	dir atomic.Pointer[[]*[chunkSize]T]
}

// slot returns the cell for index i, allocating chunks as needed. Writer only.
func (c *column[T]) slot(i int) *T {
	ci := i >> chunkBits
	dirp := c.dir.Load()
	var dir []*[chunkSize]T
	if dirp != nil {
		dir = *dirp
	}
	if ci >= len(dir) {
		grown := make([]*[chunkSize]T, ci+1, max(2*len(dir), ci+1))
		copy(grown, dir)
		for j := len(dir); j <= ci; j++ {
			grown[j] = new([chunkSize]T)
		}
		c.dir.Store(&grown)
		dir = grown
	}
	return &dir[ci][i&chunkMask]
}

// at returns the cell for a committed index.
func (c *column[T]) at(i int) *T {
	dir := *c.dir.Load()
	return &dir[i>>chunkBits][i&chunkMask]
}

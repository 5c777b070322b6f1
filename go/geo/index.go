package geo

import "math"

// cell is a fixed-degree grid bucket. Resolution follows a halving
// scheme: each +1 of res halves the cell edge, with res 8 at roughly
// half a kilometer, comparable to the hexagonal index the dispatcher
// was designed around.
type cell struct {
	row int
	col int
}

// Index buckets items by grid cell for ring queries. It is rebuilt
// from a snapshot each dispatch tick, and is single-writer after Build.
type Index[T any] struct {
	cellDeg float64
	cells   map[cell][]T
}

// NewIndex returns an index at the given resolution.
func NewIndex[T any](res int) *Index[T] {
	if res < 0 {
		res = 0
	} else if res > 15 {
		res = 15
	}
	return &Index[T]{
		cellDeg: 1.28 / float64(int(1)<<res),
		cells:   make(map[cell][]T),
	}
}

// Build indexes items, using at to extract each item's location.
// Items with no location (ok=false) are skipped.
func (x *Index[T]) Build(items []T, at func(T) (Point, bool)) {
	x.cells = make(map[cell][]T, len(items))
	for _, item := range items {
		if p, ok := at(item); ok {
			var c = x.cellOf(p)
			x.cells[c] = append(x.cells[c], item)
		}
	}
}

// Len returns the number of indexed items.
func (x *Index[T]) Len() int {
	var n int
	for _, bucket := range x.cells {
		n += len(bucket)
	}
	return n
}

// Disk returns all items within k rings of p's cell (the cell itself
// at k=0). Matches the grid-disk contract of hexagonal indexes: a
// superset filter, with exact distance checks applied downstream.
func (x *Index[T]) Disk(p Point, k int) []T {
	var center = x.cellOf(p)
	var out []T
	for dr := -k; dr <= k; dr++ {
		for dc := -k; dc <= k; dc++ {
			out = append(out, x.cells[cell{center.row + dr, center.col + dc}]...)
		}
	}
	return out
}

func (x *Index[T]) cellOf(p Point) cell {
	return cell{
		row: int(math.Floor(p.Lat / x.cellDeg)),
		col: int(math.Floor(p.Lng / x.cellDeg)),
	}
}

package geo

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHaversineKnownDistance(t *testing.T) {
	// Dallas to Fort Worth is about 50 km.
	var dallas = Point{Lat: 32.7767, Lng: -96.7970}
	var fortWorth = Point{Lat: 32.7555, Lng: -97.3308}

	var d = HaversineM(dallas, fortWorth)
	require.InDelta(t, 50000, d, 2000)
	require.Zero(t, HaversineM(dallas, dallas))
}

func TestIndexDiskExpandsWithK(t *testing.T) {
	var idx = NewIndex[Point](8)
	var center = Point{Lat: 32.0, Lng: -96.0}

	// One point in the center cell, one roughly a cell away, one far away.
	var near = Point{Lat: 32.0, Lng: -96.0 + idx.cellDeg}
	var far = Point{Lat: 33.0, Lng: -96.0}
	idx.Build([]Point{center, near, far}, func(p Point) (Point, bool) { return p, true })

	require.Equal(t, 3, idx.Len())
	require.Len(t, idx.Disk(center, 0), 1)
	require.Len(t, idx.Disk(center, 1), 2)
	require.Len(t, idx.Disk(center, 200), 3)
}

func TestIndexSkipsUnlocatedItems(t *testing.T) {
	type driver struct {
		id  string
		loc *Point
	}
	var idx = NewIndex[driver](8)
	idx.Build(
		[]driver{{"a", &Point{Lat: 1, Lng: 1}}, {"b", nil}},
		func(d driver) (Point, bool) {
			if d.loc == nil {
				return Point{}, false
			}
			return *d.loc, true
		})
	require.Equal(t, 1, idx.Len())
}

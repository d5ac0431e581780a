package field

import "github.com/fieldsrv/server/internal/data"

// Point is a 2D map coordinate. Y grows downward.
type Point struct {
	X, Y int16
}

// Rect is an axis-aligned rectangle in map coordinates.
type Rect struct {
	Left, Top, Right, Bottom int16
}

// PtInRect reports whether p lies inside r (inclusive).
func (r Rect) PtInRect(p Point) bool {
	return p.X >= r.Left && p.X <= r.Right && p.Y >= r.Top && p.Y <= r.Bottom
}

// Foothold is one horizontal walkable segment.
type Foothold struct {
	ID     int16
	X1, X2 int16
	Y      int16
}

// Space2D answers the spatial queries drop placement consumes: "surface
// under point" and "closest walkable surface". Footholds are immutable
// after load, so reads need no lock.
type Space2D struct {
	footholds []Foothold
	mbr       Rect
}

func NewSpace2D(info *data.FieldInfo) *Space2D {
	s := &Space2D{
		mbr: Rect{Left: info.Left, Top: info.Top, Right: info.Right, Bottom: info.Bottom},
	}
	for _, fh := range info.Footholds {
		s.footholds = append(s.footholds, Foothold{ID: fh.ID, X1: fh.X1, X2: fh.X2, Y: fh.Y})
	}
	return s
}

// IsPointInMBR reports whether the point lies inside the map's usable bounds.
func (s *Space2D) IsPointInMBR(x, y int16) bool {
	return s.mbr.PtInRect(Point{X: x, Y: y})
}

// FootholdUnderneath returns the highest foothold at or below (x, y) that
// spans x, plus the landing y on that surface. Returns nil when nothing is
// below the point.
func (s *Space2D) FootholdUnderneath(x, y int16) (*Foothold, int16) {
	var best *Foothold
	for i := range s.footholds {
		fh := &s.footholds[i]
		if x < fh.X1 || x > fh.X2 || fh.Y < y {
			continue
		}
		if best == nil || fh.Y < best.Y {
			best = fh
		}
	}
	if best == nil {
		return nil, y
	}
	return best, best.Y
}

// FootholdClosest returns the foothold nearest to (x, y) and the closest
// point on it, used as the fallback landing spot when the primary target
// falls outside the map bounds.
func (s *Space2D) FootholdClosest(x, y int16) (*Foothold, Point) {
	var best *Foothold
	var bestPt Point
	bestDist := int32(-1)
	for i := range s.footholds {
		fh := &s.footholds[i]
		px := x
		if px < fh.X1 {
			px = fh.X1
		} else if px > fh.X2 {
			px = fh.X2
		}
		dx := int32(px) - int32(x)
		dy := int32(fh.Y) - int32(y)
		dist := dx*dx + dy*dy
		if bestDist < 0 || dist < bestDist {
			bestDist = dist
			best = fh
			bestPt = Point{X: px, Y: fh.Y}
		}
	}
	if best == nil {
		return nil, Point{X: x, Y: y}
	}
	return best, bestPt
}

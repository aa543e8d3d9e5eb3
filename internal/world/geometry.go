package world

import (
	"fmt"
	"math"
)

// #region point
// Point is an integer screen position.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Point) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}
// #endregion point

// #region size
// Size is a screen or detection resolution. Serialized as {x,y} to match recorded plans.
type Size struct {
	Width  int `json:"x"`
	Height int `json:"y"`
}
// #endregion size

// #region rect
// Rect is an axis aligned integer rectangle anchored at its bottom-left corner.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Contains reports whether p lies inside r. The max edges are exclusive.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X < r.X+r.Width && p.Y >= r.Y && p.Y < r.Y+r.Height
}

// Overlaps reports whether r and o share any area.
func (r Rect) Overlaps(o Rect) bool {
	return r.X < o.X+o.Width && o.X < r.X+r.Width && r.Y < o.Y+o.Height && o.Y < r.Y+r.Height
}

// Union returns the smallest rect enclosing both r and o.
func (r Rect) Union(o Rect) Rect {
	minX := min(r.X, o.X)
	minY := min(r.Y, o.Y)
	maxX := max(r.X+r.Width, o.X+o.Width)
	maxY := max(r.Y+r.Height, o.Y+o.Height)
	return Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

func (r Rect) Area() int {
	return r.Width * r.Height
}

func (r Rect) Center() Point {
	return Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

func (r Rect) BottomLeft() Point {
	return Point{X: r.X, Y: r.Y}
}

func (r Rect) TopRight() Point {
	return Point{X: r.X + r.Width, Y: r.Y + r.Height}
}

// Scale multiplies the rect by the given factors. The origin rounds up and the extent rounds down.
func (r Rect) Scale(sx, sy float64) Rect {
	return Rect{
		X:      int(math.Ceil(float64(r.X) * sx)),
		Y:      int(math.Ceil(float64(r.Y) * sy)),
		Width:  int(math.Floor(float64(r.Width) * sx)),
		Height: int(math.Floor(float64(r.Height) * sy)),
	}
}

func (r Rect) String() string {
	return fmt.Sprintf("{x:%d,y:%d,w:%d,h:%d}", r.X, r.Y, r.Width, r.Height)
}
// #endregion rect

// #region within-rect
// WithinRect constrains a detection to a region of a screen of the given size.
type WithinRect struct {
	ScreenSize Size `json:"screenSize"`
	Rect       Rect `json:"rect"`
}

// Project maps a rect reported at the detection resolution into this constraint's screen space.
func (w WithinRect) Project(r Rect, resolution Size) Rect {
	if resolution.Width <= 0 || resolution.Height <= 0 {
		return r
	}
	sx := float64(w.ScreenSize.Width) / float64(resolution.Width)
	sy := float64(w.ScreenSize.Height) / float64(resolution.Height)
	return r.Scale(sx, sy)
}

// CornerInside reports whether the projected rect's bottom-left or top-right corner is inside the constraint.
func (w WithinRect) CornerInside(r Rect, resolution Size) bool {
	p := w.Project(r, resolution)
	return w.Rect.Contains(p.BottomLeft()) || w.Rect.Contains(p.TopRight())
}

// Intersects reports whether the projected rect overlaps the constraint.
func (w WithinRect) Intersects(r Rect, resolution Size) bool {
	return w.Rect.Overlaps(w.Project(r, resolution))
}

func (w WithinRect) String() string {
	return fmt.Sprintf("{screenSize:%dx%d,rect:%s}", w.ScreenSize.Width, w.ScreenSize.Height, w.Rect)
}
// #endregion within-rect

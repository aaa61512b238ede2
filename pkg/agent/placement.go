package agent

import "github.com/deliberatorium/deliberatorium/pkg/canvas"

// Grid lane cell size for voice notecards. Cells are a little larger than the
// minimum node size so neighbors do not touch.
const (
	LaneCellWidth  = 240.0
	LaneCellHeight = 190.0
	laneInset      = 24.0
)

// Lane hands out grid slots inside a viewport, left to right then top to
// bottom, wrapping back to the first slot when the viewport is full. One
// lane instance lives per live session so consecutive voice notecards land
// next to each other.
type Lane struct {
	viewport canvas.Bounds
	next     int
}

// DefaultViewport is used when a client never reported one.
func DefaultViewport() canvas.Bounds {
	return canvas.Bounds{X: 0, Y: 0, W: 1280, H: 800}
}

func NewLane(viewport canvas.Bounds) *Lane {
	if viewport.W < LaneCellWidth+2*laneInset || viewport.H < LaneCellHeight+2*laneInset {
		viewport = DefaultViewport()
	}
	return &Lane{viewport: viewport}
}

// Viewport returns the lane's viewport.
func (l *Lane) Viewport() canvas.Bounds { return l.viewport }

// Next returns the bounds of the next grid slot, sized for a concept node.
func (l *Lane) Next() canvas.Bounds {
	cols := int((l.viewport.W - 2*laneInset) / LaneCellWidth)
	rows := int((l.viewport.H - 2*laneInset) / LaneCellHeight)
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}

	slot := l.next % (cols * rows)
	l.next++

	col := slot % cols
	row := slot / cols
	return canvas.Bounds{
		X: l.viewport.X + laneInset + float64(col)*LaneCellWidth,
		Y: l.viewport.Y + laneInset + float64(row)*LaneCellHeight,
		W: MinNodeWidth,
		H: MinNodeHeight,
	}
}

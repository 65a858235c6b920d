package anchor

// Box is an axis-aligned box in normalized corner form.
type Box struct {
	Left, Top, Right, Bottom float32
}

// BoxFromXYWH converts a center/size box to corner form.
func BoxFromXYWH(cx, cy, w, h float32) Box {
	return Box{Left: cx - w/2, Top: cy - h/2, Right: cx + w/2, Bottom: cy + h/2}
}

// XYWH returns the center and size of the box.
func (b Box) XYWH() (cx, cy, w, h float32) {
	return (b.Left + b.Right) / 2, (b.Top + b.Bottom) / 2, b.Right - b.Left, b.Bottom - b.Top
}

// Area returns the box area, zero for degenerate boxes.
func (b Box) Area() float32 {
	w := b.Right - b.Left
	h := b.Bottom - b.Top
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// IoU returns the intersection over union of two boxes.
func (b Box) IoU(o Box) float32 {
	left := max(b.Left, o.Left)
	top := max(b.Top, o.Top)
	right := min(b.Right, o.Right)
	bottom := min(b.Bottom, o.Bottom)
	if right <= left || bottom <= top {
		return 0
	}
	inter := (right - left) * (bottom - top)
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

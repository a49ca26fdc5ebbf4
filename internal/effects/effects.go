package effects

import "fmt"

// Motion is the camera state for one frame of a scene: a zoom factor on top
// of the cover scale and a pan offset as a fraction of the frame size.
type Motion struct {
	Scale   float64
	OffsetX float64
	OffsetY float64
}

type Effect interface {
	Motion(sceneIndex int, phase float64) Motion
}

// KenBurns cycles four slow zoom and pan moves by scene index:
//
//	0: zoom in,  pan down-right
//	1: zoom out, pan up-left
//	2: zoom in,  pan down-left
//	3: zoom out, pan up-right
type KenBurns struct {
	MinScale float64
	MaxScale float64
	Pan      float64 // max offset from center, fraction of frame
}

func NewKenBurns() *KenBurns {
	return &KenBurns{MinScale: 1.0, MaxScale: 1.15, Pan: 0.02}
}

type variant struct {
	zoomIn bool
	dx, dy float64
}

var variants = [4]variant{
	{zoomIn: true, dx: 1, dy: 1},
	{zoomIn: false, dx: -1, dy: -1},
	{zoomIn: true, dx: -1, dy: 1},
	{zoomIn: false, dx: 1, dy: -1},
}

func (k *KenBurns) Motion(sceneIndex int, phase float64) Motion {
	phase = clamp01(phase)
	v := variants[((sceneIndex%4)+4)%4]

	from, to := k.MinScale, k.MaxScale
	if !v.zoomIn {
		from, to = to, from
	}
	travel := (2*phase - 1) * k.Pan
	return Motion{
		Scale:   from + (to-from)*phase,
		OffsetX: v.dx * travel,
		OffsetY: v.dy * travel,
	}
}

// Overscan is how much larger than the frame the cover-fit bitmap is drawn
// so the pan never exposes an edge.
func (k *KenBurns) Overscan() float64 {
	return 2 * k.Pan
}

// Static holds every scene still.
type Static struct{}

func (Static) Motion(int, float64) Motion {
	return Motion{Scale: 1}
}

// NewEffect returns the motion effect registered under name.
func NewEffect(name string) (Effect, error) {
	switch name {
	case "kenburns", "":
		return NewKenBurns(), nil
	case "static":
		return Static{}, nil
	default:
		return nil, fmt.Errorf("unknown motion effect: %s", name)
	}
}

// OverscanOf reports the overscan an effect needs, zero for still effects.
func OverscanOf(e Effect) float64 {
	if o, ok := e.(interface{ Overscan() float64 }); ok {
		return o.Overscan()
	}
	return 0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

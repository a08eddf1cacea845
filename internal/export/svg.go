// Package export renders stored trajectories for use outside the terminal.
package export

import (
	"fmt"
	"strings"

	"github.com/san-kum/progsim/internal/dynamo"
	"github.com/san-kum/progsim/internal/sim"
)

type Point struct{ X, Y float64 }

// Series returns the samples of one variable against time. Outputs are
// searched first, then event states, then states.
func Series(tr *sim.Trajectory, name string) ([]Point, error) {
	for _, get := range []func(i int) map[string]float64{
		func(i int) map[string]float64 { return tr.Outputs[i] },
		func(i int) map[string]float64 { return tr.EventStates[i] },
		func(i int) map[string]float64 { return tr.States[i] },
	} {
		if pts, ok := pick(tr, name, get); ok {
			return pts, nil
		}
	}
	return nil, &dynamo.InputError{Arg: "var", Reason: fmt.Sprintf("unknown variable %q", name)}
}

func pick(tr *sim.Trajectory, name string, get func(i int) map[string]float64) ([]Point, bool) {
	pts := make([]Point, tr.Len())
	for i := range pts {
		v, ok := get(i)[name]
		if !ok {
			return nil, false
		}
		pts[i] = Point{X: tr.Times[i], Y: v}
	}
	return pts, tr.Len() > 0
}

// Values drops the time axis.
func Values(pts []Point) []float64 {
	out := make([]float64, len(pts))
	for i, p := range pts {
		out[i] = p.Y
	}
	return out
}

// TrajectoryToSVG draws points as a line. Each mark adds a dashed vertical
// line at that x, such as the time an event was reached.
func TrajectoryToSVG(points []Point, width, height int, strokeColor string, marks ...float64) string {
	if len(points) < 2 {
		return ""
	}

	// Find bounds
	minX, maxX := points[0].X, points[0].X
	minY, maxY := points[0].Y, points[0].Y
	for _, p := range points {
		minX, maxX = min(minX, p.X), max(maxX, p.X)
		minY, maxY = min(minY, p.Y), max(maxY, p.Y)
	}

	rangeX := maxX - minX
	rangeY := maxY - minY
	if rangeX == 0 {
		rangeX = 1
	}
	if rangeY == 0 {
		rangeY = 1
	}
	minY -= rangeY * 0.1
	maxY += rangeY * 0.1
	rangeY = maxY - minY

	px := func(x float64) float64 { return (x - minX) / rangeX * float64(width) }
	py := func(y float64) float64 { return float64(height) - (y-minY)/rangeY*float64(height) }

	var sb strings.Builder

	fmt.Fprintf(&sb, `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">
<rect width="100%%" height="100%%" fill="#0a0a0a"/>
`, width, height, width, height)

	for _, m := range marks {
		if m < minX || m > maxX {
			continue
		}
		fmt.Fprintf(&sb, `<line x1="%.1f" y1="0" x2="%.1f" y2="%d" stroke="#ff4444" stroke-dasharray="4 4"/>
`, px(m), px(m), height)
	}

	fmt.Fprintf(&sb, `<path fill="none" stroke="%s" stroke-width="1.5" d="M`, strokeColor)
	for i, p := range points {
		if i > 0 {
			sb.WriteString(" L")
		}
		fmt.Fprintf(&sb, "%.1f,%.1f", px(p.X), py(p.Y))
	}

	sb.WriteString(`"/>
</svg>`)
	return sb.String()
}

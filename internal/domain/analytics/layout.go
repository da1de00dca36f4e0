package analytics

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"crypto-risk-intelligence/internal/domain/entity"
)

// Layout algorithm names
const (
	LayoutSpring   = "spring"
	LayoutCircular = "circular"
	LayoutSpiral   = "spiral"
	LayoutRandom   = "random"
)

const (
	DefaultLayoutScale = 100.0
	DefaultLayoutSeed  = 1

	springIterations = 100
	springMinDist    = 0.01
	spiralResolution = 0.35
)

// LayoutOptions selects the placement algorithm and the target box. The
// seed makes spring and random layouts repeatable.
type LayoutOptions struct {
	Algorithm string
	Scale     float64
	Center    Point
	Seed      uint64
}

// Point is a 2D position
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// LayoutResult maps every node of the view to a position. Positions are
// centred on Center and the largest offset along either axis equals Scale.
type LayoutResult struct {
	Algorithm string           `json:"algorithm"`
	Scale     float64          `json:"scale"`
	Center    Point            `json:"center"`
	Positions map[string]Point `json:"positions"`
	Truncated bool             `json:"truncated"`
}

// ValidLayout reports whether name selects a known layout
func ValidLayout(name string) bool {
	switch name {
	case LayoutSpring, LayoutCircular, LayoutSpiral, LayoutRandom:
		return true
	}
	return false
}

// Validate fills defaults and rejects unknown algorithms or a negative scale
func (o *LayoutOptions) Validate() error {
	if o.Algorithm == "" {
		o.Algorithm = LayoutSpring
	}
	if !ValidLayout(o.Algorithm) {
		return fmt.Errorf("%w: unknown layout %q", entity.ErrInvalidInput, o.Algorithm)
	}
	if o.Scale < 0 || math.IsNaN(o.Scale) || math.IsInf(o.Scale, 0) {
		return fmt.Errorf("%w: layout scale must be a positive number", entity.ErrInvalidInput)
	}
	if o.Scale == 0 {
		o.Scale = DefaultLayoutScale
	}
	if o.Seed == 0 {
		o.Seed = DefaultLayoutSeed
	}
	return nil
}

// Layout places the nodes of the view for drawing. The spring layout runs
// Fruchterman-Reingold over the undirected projection and honours ctx
// between iterations.
func Layout(ctx context.Context, v *GraphView, opts LayoutOptions) (*LayoutResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	g := project(v)

	var pos []Point
	switch opts.Algorithm {
	case LayoutCircular:
		pos = circularPositions(g.n())
	case LayoutSpiral:
		pos = spiralPositions(g.n())
	case LayoutRandom:
		pos = randomPositions(g.n(), opts.Seed)
	default:
		var err error
		if pos, err = springPositions(ctx, g, opts.Seed); err != nil {
			return nil, fmt.Errorf("failed to compute spring layout: %w", err)
		}
	}
	if opts.Algorithm != LayoutCircular {
		rescale(pos)
	}

	res := &LayoutResult{
		Algorithm: opts.Algorithm,
		Scale:     opts.Scale,
		Center:    opts.Center,
		Positions: make(map[string]Point, len(pos)),
		Truncated: v.Truncated,
	}
	for i, p := range pos {
		res.Positions[g.ids[i]] = Point{
			X: opts.Center.X + p.X*opts.Scale,
			Y: opts.Center.Y + p.Y*opts.Scale,
		}
	}
	return res, nil
}

// circularPositions spaces nodes evenly on the unit circle in id order.
// A lone node sits at the origin.
func circularPositions(n int) []Point {
	pos := make([]Point, n)
	if n < 2 {
		return pos
	}
	for i := range pos {
		theta := 2 * math.Pi * float64(i) / float64(n)
		pos[i] = Point{X: math.Cos(theta), Y: math.Sin(theta)}
	}
	return pos
}

func spiralPositions(n int) []Point {
	pos := make([]Point, n)
	for i := range pos {
		d := float64(i)
		pos[i] = Point{X: d * math.Cos(spiralResolution*d), Y: d * math.Sin(spiralResolution*d)}
	}
	return pos
}

func randomPositions(n int, seed uint64) []Point {
	rng := rand.New(rand.NewPCG(seed, seed))
	pos := make([]Point, n)
	for i := range pos {
		pos[i] = Point{X: rng.Float64(), Y: rng.Float64()}
	}
	return pos
}

// springPositions runs Fruchterman-Reingold from seeded random positions.
// Each step moves a node by the current temperature along its net force;
// the temperature cools linearly to zero.
func springPositions(ctx context.Context, g *graph, seed uint64) ([]Point, error) {
	n := g.n()
	pos := randomPositions(n, seed)
	if n < 2 {
		return pos, nil
	}

	adjacent := make([]map[int]bool, n)
	for i, nbrs := range g.und {
		adjacent[i] = make(map[int]bool, len(nbrs))
		for _, w := range nbrs {
			adjacent[i][w] = true
		}
	}

	k := 2 / math.Sqrt(float64(n))
	minX, maxX, minY, maxY := bounds(pos)
	t := 0.1 * math.Max(maxX-minX, maxY-minY)
	dt := t / float64(springIterations+1)

	disp := make([]Point, n)
	for iter := 0; iter < springIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i := range disp {
			disp[i] = Point{}
		}
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				if i == j {
					continue
				}
				dx, dy := pos[i].X-pos[j].X, pos[i].Y-pos[j].Y
				d := math.Max(math.Hypot(dx, dy), springMinDist)
				force := k * k / (d * d)
				if adjacent[i][j] {
					force -= d / k
				}
				disp[i].X += dx * force
				disp[i].Y += dy * force
			}
		}
		for i := range pos {
			length := math.Max(math.Hypot(disp[i].X, disp[i].Y), springMinDist)
			pos[i].X += disp[i].X * t / length
			pos[i].Y += disp[i].Y * t / length
		}
		t -= dt
	}
	return pos, nil
}

// rescale centres pos on the origin and scales the largest absolute
// coordinate to 1
func rescale(pos []Point) {
	if len(pos) == 0 {
		return
	}
	var mean Point
	for _, p := range pos {
		mean.X += p.X
		mean.Y += p.Y
	}
	mean.X /= float64(len(pos))
	mean.Y /= float64(len(pos))

	lim := 0.0
	for i := range pos {
		pos[i].X -= mean.X
		pos[i].Y -= mean.Y
		lim = math.Max(lim, math.Max(math.Abs(pos[i].X), math.Abs(pos[i].Y)))
	}
	if lim == 0 {
		return
	}
	for i := range pos {
		pos[i].X /= lim
		pos[i].Y /= lim
	}
}

func bounds(pos []Point) (minX, maxX, minY, maxY float64) {
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	for _, p := range pos {
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}
	return minX, maxX, minY, maxY
}

package chessboard

import (
	"image"
	"math"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// maxSecondDifferenceRatio bounds how far a corner may deviate from the midpoint of its two
// lattice neighbours, relative to the local step.
const maxSecondDifferenceRatio = 0.3

var latticeDirections = []image.Point{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}

// chessLattice is a grid of corner positions indexed [i][j] along the two lattice axes.
type chessLattice [][]r2.Point

func (l chessLattice) width() int  { return len(l) }
func (l chessLattice) height() int { return len(l[0]) }

// sortByDistance returns the indices of pts other than skip, sorted by distance to p.
func sortByDistance(pts []r2.Point, p r2.Point, skip int) []int {
	order := make([]int, 0, len(pts))
	for k := range pts {
		if k != skip {
			order = append(order, k)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return pts[order[a]].Sub(p).Norm() < pts[order[b]].Sub(p).Norm()
	})
	return order
}

// initialAxes estimates the two lattice step vectors at pts[seed]: u is the nearest neighbour
// and v is the most perpendicular of the next nearest ones.
func initialAxes(pts []r2.Point, seed int) (r2.Point, r2.Point, bool) {
	p := pts[seed]
	order := sortByDistance(pts, p, seed)
	if len(order) < 2 {
		return r2.Point{}, r2.Point{}, false
	}
	u := pts[order[0]].Sub(p)
	un := u.Norm()
	if un == 0 {
		return r2.Point{}, r2.Point{}, false
	}
	best, bestCos := -1, 0.5
	for _, k := range order[1:min(len(order), 9)] {
		d := pts[k].Sub(p)
		dn := d.Norm()
		if dn > 2*un {
			break
		}
		if c := math.Abs(d.Dot(u)) / (dn * un); c < bestCos {
			best, bestCos = k, c
		}
	}
	if best < 0 {
		return r2.Point{}, r2.Point{}, false
	}
	return u, pts[best].Sub(p), true
}

// nearestUnused returns the closest point to target that is not used yet and lies within tol.
func nearestUnused(pts []r2.Point, used map[int]bool, target r2.Point, tol float64) int {
	best, bestDist := -1, tol
	for k, p := range pts {
		if used[k] {
			continue
		}
		if d := p.Sub(target).Norm(); d < bestDist {
			best, bestDist = k, d
		}
	}
	return best
}

// growLattice greedily grows a lattice from pts[seed] breadth first. Each new corner is found by
// stepping from an assigned neighbour with that neighbour's local step vectors and snapping to the
// nearest unused point; the step along the direction taken is then replaced by the observed one so
// that perspective foreshortening is followed.
func growLattice(pts []r2.Point, seed int, tolerance float64) (chessLattice, error) {
	u, v, ok := initialAxes(pts, seed)
	if !ok {
		return nil, errors.New("no lattice neighbours around seed")
	}
	grid := map[image.Point]int{{}: seed}
	steps := map[image.Point][2]r2.Point{{}: {u, v}}
	used := map[int]bool{seed: true}
	queue := []image.Point{{}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		p := pts[grid[cur]]
		st := steps[cur]
		for _, d := range latticeDirections {
			next := cur.Add(d)
			if _, ok := grid[next]; ok {
				continue
			}
			step := st[0].Mul(float64(d.X)).Add(st[1].Mul(float64(d.Y)))
			k := nearestUnused(pts, used, p.Add(step), tolerance*step.Norm())
			if k < 0 {
				continue
			}
			grid[next] = k
			used[k] = true
			observed := pts[k].Sub(p)
			ns := st
			if d.X != 0 {
				ns[0] = observed.Mul(float64(d.X))
			} else {
				ns[1] = observed.Mul(float64(d.Y))
			}
			steps[next] = ns
			queue = append(queue, next)
		}
	}

	minC, maxC := image.Point{}, image.Point{}
	for c := range grid {
		minC.X, minC.Y = min(minC.X, c.X), min(minC.Y, c.Y)
		maxC.X, maxC.Y = max(maxC.X, c.X), max(maxC.Y, c.Y)
	}
	w, h := maxC.X-minC.X+1, maxC.Y-minC.Y+1
	if len(grid) != w*h {
		return nil, errors.Errorf("grown lattice is not rectangular: %d corners in a %dx%d box", len(grid), w, h)
	}
	lattice := make(chessLattice, w)
	for i := range lattice {
		lattice[i] = make([]r2.Point, h)
	}
	for c, k := range grid {
		lattice[c.X-minC.X][c.Y-minC.Y] = pts[k]
	}
	return lattice, nil
}

// checkRegular rejects lattices whose rows or columns bend more than perspective allows.
func checkRegular(l chessLattice) error {
	for i := 0; i < l.width(); i++ {
		for j := 0; j < l.height(); j++ {
			if i > 0 && i < l.width()-1 {
				if err := checkSecondDifference(l[i-1][j], l[i][j], l[i+1][j]); err != nil {
					return err
				}
			}
			if j > 0 && j < l.height()-1 {
				if err := checkSecondDifference(l[i][j-1], l[i][j], l[i][j+1]); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func checkSecondDifference(a, b, c r2.Point) error {
	step := c.Sub(a).Norm() / 2
	dev := a.Add(c).Sub(b.Mul(2)).Norm()
	if step == 0 || dev > maxSecondDifferenceRatio*step {
		return errors.Errorf("irregular lattice at (%.1f, %.1f)", b.X, b.Y)
	}
	return nil
}

// orderLattice turns the lattice into the row-major corner ordering of the pattern. Mirrored
// orderings are never produced; among the remaining ones the ordering whose rows point most
// toward +x is kept, with ties resolved by enumeration order.
func orderLattice(l chessLattice, pattern PatternSpec) ([]r2.Point, error) {
	w, h := l.width(), l.height()
	type mapping func(c, r int) r2.Point
	var candidates []mapping
	if w == pattern.Cols && h == pattern.Rows {
		for _, flip := range [][2]bool{{false, false}, {true, false}, {false, true}, {true, true}} {
			fi, fj := flip[0], flip[1]
			candidates = append(candidates, func(c, r int) r2.Point {
				i, j := c, r
				if fi {
					i = w - 1 - c
				}
				if fj {
					j = h - 1 - r
				}
				return l[i][j]
			})
		}
	}
	if w == pattern.Rows && h == pattern.Cols {
		for _, flip := range [][2]bool{{false, false}, {true, false}, {false, true}, {true, true}} {
			fi, fj := flip[0], flip[1]
			candidates = append(candidates, func(c, r int) r2.Point {
				i, j := r, c
				if fi {
					i = w - 1 - r
				}
				if fj {
					j = h - 1 - c
				}
				return l[i][j]
			})
		}
	}
	if len(candidates) == 0 {
		return nil, errors.Errorf("found a %dx%d lattice, expected %dx%d", w, h, pattern.Cols, pattern.Rows)
	}

	var best []r2.Point
	bestScore := math.Inf(-1)
	for _, m := range candidates {
		var rowAxis, colAxis r2.Point
		for r := 0; r < pattern.Rows; r++ {
			rowAxis = rowAxis.Add(m(pattern.Cols-1, r).Sub(m(0, r)))
		}
		for c := 0; c < pattern.Cols; c++ {
			colAxis = colAxis.Add(m(c, pattern.Rows-1).Sub(m(c, 0)))
		}
		if rowAxis.Cross(colAxis) <= 0 {
			continue
		}
		score := rowAxis.X / rowAxis.Norm()
		if score > bestScore {
			bestScore = score
			best = make([]r2.Point, 0, pattern.NumCorners())
			for r := 0; r < pattern.Rows; r++ {
				for c := 0; c < pattern.Cols; c++ {
					best = append(best, m(c, r))
				}
			}
		}
	}
	if best == nil {
		return nil, errors.New("no consistent corner ordering")
	}
	return best, nil
}

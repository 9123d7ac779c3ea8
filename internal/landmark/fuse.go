package landmark

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// FuserParams configures a Fuser.
type FuserParams struct {
	// OutlierThreshold is the distance, in mesh units, within which a line
	// counts as agreeing with an estimate.
	OutlierThreshold float64
	// ParallelToleranceDeg is the largest angle between inlier rays for
	// which they are treated as parallel.
	ParallelToleranceDeg float64
	// MaxIterations bounds inlier re-evaluation. Zero means 10.
	MaxIterations int
}

// maxCondition is the largest condition number accepted for the normal
// equations before falling back to the centroid.
const maxCondition = 1e8

// Method records how a fused point was computed.
type Method string

const (
	MethodNone          Method = "none"
	MethodSingle        Method = "single"
	MethodLeastSquares  Method = "least-squares"
	MethodCentroid      Method = "centroid"
	MethodParallelGuard Method = "parallel-centroid"
)

// Fusion is the estimate for one landmark.
type Fusion struct {
	Point  r3.Vec
	Status Status
	Method Method
	// Inliers are the view indices of the lines that support Point.
	Inliers []int
	// Lines is the number of lines offered to the fuser.
	Lines int
	// InlierWeight is the sum of inlier line weights.
	InlierWeight float64
	// Residual is the RMS distance of the inlier lines to Point.
	Residual float64
	// Err is ErrFusionDegenerate, wrapped with detail, when fewer than two
	// views support the estimate.
	Err error
}

// Confidence normalises the inlier weight by the number of rendered views.
func (f Fusion) Confidence(totalViews int) float64 {
	if totalViews <= 0 {
		return 0
	}
	return f.InlierWeight / float64(totalViews)
}

// Fuser combines the view lines of one landmark. It is stateless and safe
// for concurrent use.
type Fuser struct {
	params   FuserParams
	cosParal float64
}

// NewFuser validates params and returns a Fuser.
func NewFuser(params FuserParams) (*Fuser, error) {
	if !(params.OutlierThreshold > 0) || math.IsInf(params.OutlierThreshold, 0) {
		return nil, fmt.Errorf("outlier threshold must be positive and finite, got %g", params.OutlierThreshold)
	}
	if params.ParallelToleranceDeg < 0 || params.ParallelToleranceDeg >= 90 {
		return nil, fmt.Errorf("parallel tolerance must be in [0, 90) degrees, got %g", params.ParallelToleranceDeg)
	}
	if params.MaxIterations <= 0 {
		params.MaxIterations = 10
	}
	return &Fuser{
		params:   params,
		cosParal: math.Cos(params.ParallelToleranceDeg * math.Pi / 180),
	}, nil
}

// Params returns the fuser configuration.
func (f *Fuser) Params() FuserParams { return f.params }

// Fuse estimates one point from lines. With no lines the landmark is missing;
// with one, or when no two lines agree, the best single line is used; else
// the largest agreeing set is solved in the least-squares sense.
func (f *Fuser) Fuse(lines []ViewLine) Fusion {
	switch len(lines) {
	case 0:
		return Fusion{
			Point:  r3.Vec{X: math.NaN(), Y: math.NaN(), Z: math.NaN()},
			Status: StatusMissing,
			Method: MethodNone,
			Err:    fmt.Errorf("%w: no valid views", ErrFusionDegenerate),
		}
	case 1:
		return single(lines, 0, "one valid view")
	}

	inliers, ok := f.consensus(lines)
	if !ok {
		best := 0
		for i, l := range lines {
			if l.weight() > lines[best].weight() {
				best = i
			}
		}
		return single(lines, best, fmt.Sprintf("no two of %d views agree", len(lines)))
	}

	point, method := f.solve(lines, inliers)
	for iter := 1; iter < f.params.MaxIterations; iter++ {
		next := f.within(lines, point)
		if len(next) < 2 || equalInts(next, inliers) {
			break
		}
		inliers = next
		point, method = f.solve(lines, inliers)
	}

	out := Fusion{
		Point:   point,
		Status:  StatusFused,
		Method:  method,
		Lines:   len(lines),
		Inliers: make([]int, 0, len(inliers)),
	}
	var sq float64
	for _, i := range inliers {
		out.Inliers = append(out.Inliers, lines[i].View)
		out.InlierWeight += lines[i].Weight
		d := lines[i].Distance(point)
		sq += d * d
	}
	out.Residual = math.Sqrt(sq / float64(len(inliers)))
	return out
}

func single(lines []ViewLine, i int, why string) Fusion {
	l := lines[i]
	return Fusion{
		Point:        l.Origin,
		Status:       StatusSingleView,
		Method:       MethodSingle,
		Inliers:      []int{l.View},
		Lines:        len(lines),
		InlierWeight: l.Weight,
		Err:          fmt.Errorf("%w: %s", ErrFusionDegenerate, why),
	}
}

// consensus scores the closest-approach point of every agreeing pair by the
// number of lines passing within the threshold and returns the inlier set of
// the best one. Among equal counts a candidate lying more than the threshold
// behind the anchors of its rays, on the camera side, loses; then the
// candidate nearest its anchors wins, then the smaller residual sum, then the
// earlier pair.
func (f *Fuser) consensus(lines []ViewLine) ([]int, bool) {
	thr := f.params.OutlierThreshold
	eps := 1e-9 * thr
	var (
		best                              []int
		bestBehind, bestSpread, bestScore float64
	)
	for i := 0; i < len(lines); i++ {
		for j := i + 1; j < len(lines); j++ {
			c, gap := closestApproach(lines[i], lines[j])
			if gap > thr {
				continue
			}
			in := f.within(lines, c)
			var behind, spread, score float64
			for _, k := range in {
				l := lines[k]
				score += l.Distance(c)
				spread += r3.Norm(r3.Sub(l.Origin, c))
				if !l.IsPoint {
					behind += math.Max(0, -r3.Dot(r3.Sub(c, l.Origin), l.Direction)-thr)
				}
			}
			switch {
			case len(in) > len(best):
			case len(in) < len(best):
				continue
			case behind < bestBehind-eps:
			case behind > bestBehind+eps:
				continue
			case spread < bestSpread-eps:
			case spread <= bestSpread+eps && score < bestScore:
			default:
				continue
			}
			best, bestBehind, bestSpread, bestScore = in, behind, spread, score
		}
	}
	return best, len(best) >= 2
}

func (f *Fuser) within(lines []ViewLine, p r3.Vec) []int {
	var in []int
	for k, l := range lines {
		if l.Distance(p) <= f.params.OutlierThreshold {
			in = append(in, k)
		}
	}
	return in
}

// closestApproach returns the midpoint of the shortest segment between two
// lines (or points) and its length.
func closestApproach(a, b ViewLine) (r3.Vec, float64) {
	var pa, pb r3.Vec
	switch {
	case a.IsPoint && b.IsPoint:
		pa, pb = a.Origin, b.Origin
	case a.IsPoint:
		pa, pb = a.Origin, b.ClosestPoint(a.Origin)
	case b.IsPoint:
		pa, pb = a.ClosestPoint(b.Origin), b.Origin
	default:
		w := r3.Sub(a.Origin, b.Origin)
		dd := r3.Dot(a.Direction, b.Direction)
		da, db := r3.Dot(a.Direction, w), r3.Dot(b.Direction, w)
		den := 1 - dd*dd
		if den < 1e-12 {
			pa, pb = a.Origin, b.ClosestPoint(a.Origin)
			break
		}
		s := (dd*db - da) / den
		t := (db - dd*da) / den
		pa = r3.Add(a.Origin, r3.Scale(s, a.Direction))
		pb = r3.Add(b.Origin, r3.Scale(t, b.Direction))
	}
	return r3.Scale(0.5, r3.Add(pa, pb)), r3.Norm(r3.Sub(pa, pb))
}

// solve returns the weighted least-squares point closest to the inlier lines:
//
//	Σ wᵢ(I − dᵢdᵢᵀ) x = Σ wᵢ(I − dᵢdᵢᵀ) oᵢ
//
// Point lines contribute wᵢI. Mutually parallel rays or an ill-conditioned
// system fall back to the weighted centroid of the anchors.
func (f *Fuser) solve(lines []ViewLine, inliers []int) (r3.Vec, Method) {
	if f.parallel(lines, inliers) {
		return centroid(lines, inliers), MethodParallelGuard
	}

	a := mat.NewSymDense(3, nil)
	b := mat.NewVecDense(3, nil)
	for _, k := range inliers {
		l := lines[k]
		w := l.weight()
		d := [3]float64{l.Direction.X, l.Direction.Y, l.Direction.Z}
		o := [3]float64{l.Origin.X, l.Origin.Y, l.Origin.Z}
		for r := 0; r < 3; r++ {
			for c := r; c < 3; c++ {
				m := 0.0
				if r == c {
					m = 1
				}
				if !l.IsPoint {
					m -= d[r] * d[c]
				}
				a.SetSym(r, c, a.At(r, c)+w*m)
				b.SetVec(r, b.AtVec(r)+w*m*o[c])
				if r != c {
					b.SetVec(c, b.AtVec(c)+w*m*o[r])
				}
			}
		}
	}

	if cond := mat.Cond(a, 2); math.IsInf(cond, 0) || math.IsNaN(cond) || cond > maxCondition {
		return centroid(lines, inliers), MethodCentroid
	}
	var x mat.VecDense
	if err := x.SolveVec(a, b); err != nil {
		return centroid(lines, inliers), MethodCentroid
	}
	return r3.Vec{X: x.AtVec(0), Y: x.AtVec(1), Z: x.AtVec(2)}, MethodLeastSquares
}

// parallel reports whether every inlier is a ray and all of them lie within
// the parallel tolerance of each other.
func (f *Fuser) parallel(lines []ViewLine, inliers []int) bool {
	for _, k := range inliers {
		if lines[k].IsPoint {
			return false
		}
	}
	for i := 0; i < len(inliers); i++ {
		for j := i + 1; j < len(inliers); j++ {
			c := math.Abs(r3.Dot(lines[inliers[i]].Direction, lines[inliers[j]].Direction))
			if c < f.cosParal {
				return false
			}
		}
	}
	return true
}

func centroid(lines []ViewLine, inliers []int) r3.Vec {
	var sum r3.Vec
	var total float64
	for _, k := range inliers {
		w := lines[k].weight()
		sum = r3.Add(sum, r3.Scale(w, lines[k].Origin))
		total += w
	}
	return r3.Scale(1/total, sum)
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

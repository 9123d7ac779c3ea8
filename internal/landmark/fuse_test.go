package landmark

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

// rayThrough builds a ray that passes through p along dir.
func rayThrough(view int, p, dir r3.Vec, weight float64) ViewLine {
	d := r3.Unit(dir)
	return ViewLine{View: view, Origin: r3.Sub(p, r3.Scale(3, d)), Direction: d, Weight: weight}
}

func testFuser(t *testing.T, thr float64) *Fuser {
	t.Helper()
	f, err := NewFuser(FuserParams{OutlierThreshold: thr, ParallelToleranceDeg: 1})
	require.NoError(t, err)
	return f
}

var spreadDirs = []r3.Vec{
	{X: 0, Y: 0, Z: -1},
	{X: 1, Y: 0.2, Z: -1},
	{X: -0.8, Y: 0.5, Z: -1},
	{X: 0.1, Y: -1, Z: -0.7},
	{X: -0.3, Y: 0.9, Z: -0.4},
	{X: 0.7, Y: 0.7, Z: -0.2},
}

func assertNear(t *testing.T, want, got r3.Vec, tol float64, msgAndArgs ...interface{}) {
	t.Helper()
	if d := r3.Norm(r3.Sub(want, got)); !(d <= tol) {
		assert.Failf(t, "points differ", "want %v got %v (distance %g)", want, got, d)
		if len(msgAndArgs) > 0 {
			t.Log(msgAndArgs...)
		}
	}
}

func TestFuseConsistentRays(t *testing.T) {
	p := r3.Vec{X: 1.25, Y: -0.5, Z: 3}
	f := testFuser(t, 0.01)
	for n := 2; n <= len(spreadDirs); n++ {
		lines := make([]ViewLine, n)
		for i := range lines {
			lines[i] = rayThrough(i, p, spreadDirs[i], 1)
		}
		got := f.Fuse(lines)
		assert.Equal(t, StatusFused, got.Status)
		assert.Equal(t, MethodLeastSquares, got.Method)
		assert.NoError(t, got.Err)
		assert.Len(t, got.Inliers, n)
		assertNear(t, p, got.Point, 1e-9, "n =", n)
		assert.InDelta(t, 0, got.Residual, 1e-9)
		assert.InDelta(t, float64(n)/10, got.Confidence(10), 1e-12)
	}
}

func TestFuseZeroAndOneLine(t *testing.T) {
	f := testFuser(t, 0.01)

	none := f.Fuse(nil)
	assert.Equal(t, StatusMissing, none.Status)
	assert.True(t, math.IsNaN(none.Point.X) && math.IsNaN(none.Point.Y) && math.IsNaN(none.Point.Z))
	assert.True(t, errors.Is(none.Err, ErrFusionDegenerate))
	assert.Zero(t, none.Confidence(4))

	l := rayThrough(3, r3.Vec{X: 1, Y: 2, Z: 3}, r3.Vec{Z: -1}, 0.8)
	one := f.Fuse([]ViewLine{l})
	assert.Equal(t, StatusSingleView, one.Status)
	assert.Equal(t, l.Origin, one.Point)
	assert.Equal(t, []int{3}, one.Inliers)
	assert.True(t, errors.Is(one.Err, ErrFusionDegenerate))
	assert.InDelta(t, 0.2, one.Confidence(4), 1e-12)
}

func TestFuseRejectsOutlierWherever(t *testing.T) {
	p := r3.Vec{X: 0.3, Y: 0.1, Z: -0.2}
	f := testFuser(t, 0.05)
	outliers := []r3.Vec{
		{X: 0.5, Y: 0.1, Z: -0.2},
		{X: -4, Y: 7, Z: 2},
		{X: 100, Y: -100, Z: 30},
		{X: 0.3, Y: 1.3, Z: -0.2},
	}
	for _, q := range outliers {
		lines := make([]ViewLine, 0, 5)
		for i := 0; i < 4; i++ {
			lines = append(lines, rayThrough(i, p, spreadDirs[i], 1))
		}
		lines = append(lines, rayThrough(4, q, spreadDirs[4], 1))
		got := f.Fuse(lines)
		require.Equal(t, StatusFused, got.Status)
		assert.Equal(t, []int{0, 1, 2, 3}, got.Inliers, "outlier at %v", q)
		assertNear(t, p, got.Point, 1e-9, "outlier at", q)
	}
}

func TestFuseOutlierFirst(t *testing.T) {
	// The outlier is listed first and crosses one of the inliers, so the
	// first agreeing pair is a wrong one.
	p := r3.Vec{}
	q := r3.Vec{X: 1}
	f := testFuser(t, 0.05)
	lines := []ViewLine{
		rayThrough(0, q, r3.Sub(q, r3.Vec{Z: 4}), 1), // passes through q and (0,0,4)
		rayThrough(1, p, r3.Vec{Z: -1}, 1),           // passes through p and (0,0,4)
		rayThrough(2, p, spreadDirs[1], 1),
		rayThrough(3, p, spreadDirs[2], 1),
	}
	got := f.Fuse(lines)
	assert.Equal(t, []int{1, 2, 3}, got.Inliers)
	assertNear(t, p, got.Point, 1e-9)
}

func TestFuseThreeViewsOneOutlier(t *testing.T) {
	// With three views the wrong crossing and the true one both have two
	// inliers. The wrong one lies behind the anchors on the camera side.
	p := r3.Vec{}
	q := r3.Vec{X: 1}
	f := testFuser(t, 0.05)
	outlier := rayThrough(0, q, r3.Sub(q, r3.Vec{Z: 4}), 1)
	good := []ViewLine{
		rayThrough(1, p, r3.Vec{Z: -1}, 1),
		rayThrough(2, p, spreadDirs[1], 1),
	}
	for name, lines := range map[string][]ViewLine{
		"outlier first": {outlier, good[0], good[1]},
		"outlier last":  {good[0], good[1], outlier},
		"outlier mid":   {good[0], outlier, good[1]},
	} {
		got := f.Fuse(lines)
		assert.Equal(t, StatusFused, got.Status, name)
		assert.ElementsMatch(t, []int{1, 2}, got.Inliers, name)
		assertNear(t, p, got.Point, 1e-9, name)
	}

	// anchored on the surface hit, as the line builder does in ray mode
	surfaceHit := func(view int, hit, dir r3.Vec) ViewLine {
		return ViewLine{View: view, Origin: hit, Direction: r3.Unit(dir), Weight: 1}
	}
	lines := []ViewLine{
		surfaceHit(0, q, r3.Sub(q, r3.Vec{Z: 4})),
		surfaceHit(1, p, r3.Vec{Z: -1}),
		surfaceHit(2, p, spreadDirs[1]),
	}
	got := f.Fuse(lines)
	assert.Equal(t, []int{1, 2}, got.Inliers)
	assertNear(t, p, got.Point, 1e-9)
}

func TestFuseNoisyRaysWithinThreshold(t *testing.T) {
	p := r3.Vec{X: 1, Y: 1, Z: 1}
	f := testFuser(t, 0.05)
	offsets := []r3.Vec{{X: 0.004}, {Y: -0.003}, {Z: 0.002}, {X: -0.002, Y: 0.002}}
	lines := make([]ViewLine, len(offsets))
	for i, o := range offsets {
		lines[i] = rayThrough(i, r3.Add(p, o), spreadDirs[i], 1)
	}
	got := f.Fuse(lines)
	assert.Equal(t, StatusFused, got.Status)
	assert.Len(t, got.Inliers, 4)
	assertNear(t, p, got.Point, 0.01)
	assert.Greater(t, got.Residual, 0.0)
}

func TestFuseWeights(t *testing.T) {
	// two agreeing points: the weighted solve leans to the heavier one
	f := testFuser(t, 1)
	a := ViewLine{View: 0, Origin: r3.Vec{}, Direction: r3.Vec{Z: -1}, IsPoint: true, Weight: 3}
	b := ViewLine{View: 1, Origin: r3.Vec{X: 0.4}, Direction: r3.Vec{X: -1}, IsPoint: true, Weight: 1}
	got := f.Fuse([]ViewLine{a, b})
	assert.Equal(t, StatusFused, got.Status)
	assertNear(t, r3.Vec{X: 0.1}, got.Point, 1e-12)
	assert.InDelta(t, 4.0/5, got.Confidence(5), 1e-12)
}

func TestFusePointsAndRays(t *testing.T) {
	p := r3.Vec{X: -2, Y: 0.5, Z: 1}
	f := testFuser(t, 0.01)
	lines := []ViewLine{
		{View: 0, Origin: p, Direction: r3.Vec{Z: -1}, IsPoint: true, Weight: 0.9},
		rayThrough(1, p, spreadDirs[1], 0.7),
		rayThrough(2, p, spreadDirs[2], 0.6),
	}
	got := f.Fuse(lines)
	assert.Equal(t, StatusFused, got.Status)
	assertNear(t, p, got.Point, 1e-9)
}

func TestFuseParallelRaysUseCentroid(t *testing.T) {
	f := testFuser(t, 0.1)
	lines := []ViewLine{
		{View: 0, Origin: r3.Vec{X: 0, Z: 1}, Direction: r3.Vec{Z: -1}, Weight: 1},
		{View: 1, Origin: r3.Vec{X: 0.02, Z: 1}, Direction: r3.Vec{Z: -1}, Weight: 1},
		{View: 2, Origin: r3.Vec{X: 0.04, Z: 1}, Direction: r3.Unit(r3.Vec{X: 0.001, Z: -1}), Weight: 2},
	}
	got := f.Fuse(lines)
	assert.Equal(t, StatusFused, got.Status)
	assert.Equal(t, MethodParallelGuard, got.Method)
	want := r3.Vec{X: (0 + 0.02 + 0.08) / 4, Z: 1}
	assertNear(t, want, got.Point, 1e-12)
	for _, c := range []float64{got.Point.X, got.Point.Y, got.Point.Z} {
		assert.False(t, math.IsNaN(c) || math.IsInf(c, 0))
	}
}

func TestFuseNoConsensusFallsBackToBestView(t *testing.T) {
	f := testFuser(t, 0.01)
	lines := []ViewLine{
		{View: 0, Origin: r3.Vec{X: 0}, Direction: r3.Vec{Z: 1}, IsPoint: true, Weight: 0.5},
		{View: 1, Origin: r3.Vec{X: 1}, Direction: r3.Vec{Z: 1}, IsPoint: true, Weight: 0.9},
		{View: 2, Origin: r3.Vec{X: 2}, Direction: r3.Vec{Z: 1}, IsPoint: true, Weight: 0.9},
	}
	got := f.Fuse(lines)
	assert.Equal(t, StatusSingleView, got.Status)
	assert.Equal(t, r3.Vec{X: 1}, got.Point)
	assert.Equal(t, []int{1}, got.Inliers)
	assert.True(t, errors.Is(got.Err, ErrFusionDegenerate))
}

func TestFuseDeterministic(t *testing.T) {
	f := testFuser(t, 0.2)
	lines := []ViewLine{
		rayThrough(0, r3.Vec{}, spreadDirs[0], 1),
		rayThrough(1, r3.Vec{X: 0.1}, spreadDirs[1], 1),
		rayThrough(2, r3.Vec{X: 0.05, Y: 0.1}, spreadDirs[2], 1),
		rayThrough(3, r3.Vec{X: 3}, spreadDirs[3], 1),
	}
	first := f.Fuse(lines)
	for i := 0; i < 20; i++ {
		again := f.Fuse(lines)
		assert.Equal(t, first.Point, again.Point)
		assert.Equal(t, first.Inliers, again.Inliers)
	}
}

func TestClosestApproach(t *testing.T) {
	a := ViewLine{Origin: r3.Vec{Z: 1}, Direction: r3.Vec{X: 1}}
	b := ViewLine{Origin: r3.Vec{Z: -1}, Direction: r3.Vec{Y: 1}}
	mid, gap := closestApproach(a, b)
	assertNear(t, r3.Vec{}, mid, 1e-12)
	assert.InDelta(t, 2, gap, 1e-12)

	// parallel lines fall back to the projection of a's origin
	c := ViewLine{Origin: r3.Vec{Y: 3, Z: 1}, Direction: r3.Vec{X: -1}}
	_, gap = closestApproach(a, c)
	assert.InDelta(t, 3, gap, 1e-12)

	p := ViewLine{Origin: r3.Vec{X: 5, Y: 1, Z: 1}, IsPoint: true}
	mid, gap = closestApproach(a, p)
	assert.InDelta(t, 1, gap, 1e-12)
	assertNear(t, r3.Vec{X: 5, Y: 0.5, Z: 1}, mid, 1e-12)
}

func TestNewFuserValidates(t *testing.T) {
	for _, p := range []FuserParams{
		{OutlierThreshold: 0},
		{OutlierThreshold: math.NaN()},
		{OutlierThreshold: math.Inf(1)},
		{OutlierThreshold: 1, ParallelToleranceDeg: 90},
		{OutlierThreshold: 1, ParallelToleranceDeg: -1},
	} {
		_, err := NewFuser(p)
		assert.Error(t, err, "%+v", p)
	}
	f, err := NewFuser(FuserParams{OutlierThreshold: 1})
	require.NoError(t, err)
	assert.Equal(t, 10, f.Params().MaxIterations)
}

func TestStatusText(t *testing.T) {
	for _, s := range []Status{StatusFused, StatusSingleView, StatusMissing} {
		b, err := s.MarshalText()
		require.NoError(t, err)
		var back Status
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, s, back)
	}
	var s Status
	assert.Error(t, s.UnmarshalText([]byte("lost")))
}

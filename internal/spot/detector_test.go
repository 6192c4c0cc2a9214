package spot

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minute = int64(60_000)

// noiseSeries returns n gaussian observations around level, one per minute
// starting at start.
func noiseSeries(rng *rand.Rand, n int, start int64, level float64) Series {
	s := Series{Timestamps: make([]int64, n), Values: make([]float64, n)}
	for i := 0; i < n; i++ {
		s.Timestamps[i] = start + int64(i)*minute
		s.Values[i] = level + rng.NormFloat64()
	}
	return s
}

func fittedDetector(t *testing.T, params Hyperparameters, train Series) *Detector {
	t.Helper()
	d, err := New(params)
	require.NoError(t, err)
	require.NoError(t, d.Fit(train))
	return d
}

func TestHyperparametersValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Hyperparameters)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Hyperparameters) {}},
		{name: "zero probability", mutate: func(h *Hyperparameters) { h.Probability = 0 }, wantErr: "probability"},
		{name: "negative depth", mutate: func(h *Hyperparameters) { h.Depth = -1 }, wantErr: "depth"},
		{name: "negative update interval", mutate: func(h *Hyperparameters) { h.UpdateInterval = -1 }, wantErr: "update_interval"},
		{name: "inverted quantiles", mutate: func(h *Hyperparameters) { h.LowerQuantile, h.UpperQuantile = 0.9, 0.1 }, wantErr: "below"},
		{name: "unknown method", mutate: func(h *Hyperparameters) { h.Method = "arima" }, wantErr: "method"},
		{name: "unknown side", mutate: func(h *Hyperparameters) { h.Side = "left" }, wantErr: "side"},
		{name: "negative warmup", mutate: func(h *Hyperparameters) { h.Warmup = -time.Second }, wantErr: "warmup"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := DefaultHyperparameters()
			tt.mutate(&h)
			err := h.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFitInsufficientData(t *testing.T) {
	d, err := New(DefaultHyperparameters())
	require.NoError(t, err)

	err = d.Fit(Series{Values: []float64{1, 2, 3, 4, 5}})

	var insufficient *InsufficientDataError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, 5, insufficient.Available)
	assert.Equal(t, 20, insufficient.Required)
}

func TestFitRejectsMismatchedSeries(t *testing.T) {
	d, err := New(DefaultHyperparameters())
	require.NoError(t, err)

	err = d.Fit(Series{Timestamps: []int64{1, 2}, Values: []float64{1, 2, 3}})
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestPredictBeforeFit(t *testing.T) {
	d, err := New(DefaultHyperparameters())
	require.NoError(t, err)

	_, err = d.Predict(Series{Timestamps: []int64{1}, Values: []float64{1}})
	assert.ErrorIs(t, err, ErrNotFitted)
}

func TestFitSingleSideDisablesOther(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	train := noiseSeries(rng, 500, 0, 10)

	tests := []struct {
		side     Direction
		check    func(t *testing.T, st State)
		spike    float64
		wantFire bool
	}{
		{
			side: DirectionUp,
			check: func(t *testing.T, st State) {
				assert.True(t, math.IsInf(st.InitDown, -1))
				assert.True(t, math.IsInf(st.ExtremeDown, -1))
				assert.False(t, math.IsInf(st.ExtremeUp, 0))
			},
			spike:    -1000,
			wantFire: false,
		},
		{
			side: DirectionDown,
			check: func(t *testing.T, st State) {
				assert.True(t, math.IsInf(st.InitUp, 1))
				assert.True(t, math.IsInf(st.ExtremeUp, 1))
				assert.False(t, math.IsInf(st.ExtremeDown, 0))
			},
			spike:    1000,
			wantFire: false,
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.side), func(t *testing.T) {
			params := DefaultHyperparameters()
			params.Side = tt.side
			d := fittedDetector(t, params, train)

			tt.check(t, d.State())
			assert.Equal(t, tt.wantFire, d.Update(tt.spike))
		})
	}
}

func TestPredictFlagsSpike(t *testing.T) {
	for _, method := range []Method{MethodSPOT, MethodDSPOT, MethodESPOT} {
		t.Run(string(method), func(t *testing.T) {
			rng := rand.New(rand.NewSource(42))
			train := noiseSeries(rng, 600, 0, 100)
			params := DefaultHyperparameters()
			params.Method = method
			d := fittedDetector(t, params, train)

			live := noiseSeries(rng, 50, 600*minute, 100)
			live.Values[25] = 130

			pred, err := d.Predict(live)
			require.NoError(t, err)

			require.Len(t, pred.Anomalies, 50)
			assert.True(t, pred.Anomalies[25])
			assert.Equal(t, 1, pred.Count())
			assert.False(t, pred.WarmingUp)
		})
	}
}

func TestAnomaliesAreNotAbsorbed(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	d := fittedDetector(t, DefaultHyperparameters(), noiseSeries(rng, 400, 0, 50))
	before := d.State()

	pred, err := d.Predict(Series{Timestamps: []int64{400 * minute}, Values: []float64{500}})
	require.NoError(t, err)
	require.Equal(t, []bool{true}, pred.Anomalies)

	after := d.State()
	assert.Equal(t, before.PeaksUp, after.PeaksUp)
	assert.Equal(t, before.PeaksDown, after.PeaksDown)
	assert.Equal(t, before.Window, after.Window)
	assert.Equal(t, before.N, after.N)
	assert.NotContains(t, after.Window, 500.0)
}

func TestUpdateNeverAbsorbsAnomalies(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	params := DefaultHyperparameters()
	params.Depth = 0
	d := fittedDetector(t, params, noiseSeries(rng, 400, 0, 0))

	for i := 0; i < 500; i++ {
		r := rng.NormFloat64() * 6
		before := d.State()
		if d.Update(r) {
			after := d.State()
			assert.Equal(t, len(before.PeaksUp), len(after.PeaksUp))
			assert.Equal(t, len(before.PeaksDown), len(after.PeaksDown))
			assert.Equal(t, before.N, after.N)
		}
	}
}

func TestQuantileMonotonicity(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	params := DefaultHyperparameters()
	params.Depth = 0
	d := fittedDetector(t, params, noiseSeries(rng, 500, 0, 0))

	for i := 0; i < 300; i++ {
		st := d.State()
		// draw between the initial threshold and the current boundary
		r := st.InitUp + rng.Float64()*(st.ExtremeUp-st.InitUp)
		require.False(t, d.Update(r))

		after := d.State()
		assert.GreaterOrEqual(t, after.ExtremeUp, r, "boundary overshot absorbed peak at step %d", i)
		assert.Len(t, after.PeaksUp, len(st.PeaksUp)+1)

		maxPeak := 0.0
		for _, p := range after.PeaksUp {
			maxPeak = math.Max(maxPeak, p)
		}
		assert.GreaterOrEqual(t, after.ExtremeUp, after.InitUp+maxPeak)
	}
}

func TestPredictIdempotentReplay(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	d := fittedDetector(t, DefaultHyperparameters(), noiseSeries(rng, 300, 0, 20))

	live := noiseSeries(rng, 30, 300*minute, 20)
	live.Values[10] = 80

	first, err := d.Predict(live)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Count())

	second, err := d.Predict(live)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Count())
	assert.Empty(t, second.Timestamps)
	assert.Equal(t, live.Timestamps[29], d.Watermark())
}

func TestPredictSkipsFittedRange(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	full := noiseSeries(rng, 320, 0, 5)
	train := Series{Timestamps: full.Timestamps[:300], Values: full.Values[:300]}
	d := fittedDetector(t, DefaultHyperparameters(), train)

	pred, err := d.Predict(full)
	require.NoError(t, err)

	assert.Equal(t, full.Timestamps[300:], pred.Timestamps)
}

func TestPredictWarmup(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	params := DefaultHyperparameters()
	params.Warmup = time.Hour
	d := fittedDetector(t, params, noiseSeries(rng, 300, 0, 20))

	early := noiseSeries(rng, 10, 300*minute, 20)
	early.Values[5] = 500
	pred, err := d.Predict(early)
	require.NoError(t, err)
	assert.True(t, pred.WarmingUp)
	assert.Equal(t, 0, pred.Count())

	late := noiseSeries(rng, 10, 400*minute, 20)
	late.Values[5] = 500
	pred, err = d.Predict(late)
	require.NoError(t, err)
	assert.False(t, pred.WarmingUp)
	assert.True(t, pred.Anomalies[5])
}

func TestPredictRefitsAfterUpdateInterval(t *testing.T) {
	rng := rand.New(rand.NewSource(21))
	params := DefaultHyperparameters()
	params.UpdateInterval = 5
	d := fittedDetector(t, params, noiseSeries(rng, 200, 0, 20))
	created := d.State().Created

	_, err := d.Predict(noiseSeries(rng, 5, 200*minute, 20))
	require.NoError(t, err)
	assert.Equal(t, 5, d.State().Counter)

	_, err = d.Predict(noiseSeries(rng, 1, 205*minute, 20))
	require.NoError(t, err)

	st := d.State()
	assert.Equal(t, 0, st.Counter)
	assert.Equal(t, 205*minute, st.Latest)
	assert.Equal(t, created, st.Created)
	assert.True(t, st.Fitted)
}

func TestPredictSkipsNonFiniteValues(t *testing.T) {
	rng := rand.New(rand.NewSource(23))
	params := DefaultHyperparameters()
	d := fittedDetector(t, params, noiseSeries(rng, 200, 0, 20))
	before := d.State()

	pred, err := d.Predict(Series{Timestamps: []int64{200 * minute}, Values: []float64{math.NaN()}})
	require.NoError(t, err)

	assert.Equal(t, []bool{false}, pred.Anomalies)
	assert.Equal(t, before.Window, d.State().Window)
	assert.Equal(t, 200*minute, d.Watermark())
}

func TestLevel(t *testing.T) {
	tests := []struct {
		name   string
		method Method
		depth  int
		values []float64
		want   float64
	}{
		{name: "moving average", method: MethodDSPOT, depth: 3, values: []float64{1, 2, 3}, want: 2},
		{name: "ewma", method: MethodESPOT, depth: 2, values: []float64{1, 2, 3}, want: 2 + 5.0/9},
		{name: "empty", method: MethodDSPOT, depth: 3, values: nil, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := DefaultHyperparameters()
			params.Method = tt.method
			params.Depth = tt.depth
			d, err := New(params)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, d.level(tt.values), 1e-12)
		})
	}
}

func TestRing(t *testing.T) {
	r := newRing(3)
	for _, v := range []float64{1, 2} {
		r.push(v)
	}
	assert.Equal(t, []float64{1, 2}, r.values())

	for _, v := range []float64{3, 4, 5} {
		r.push(v)
	}
	assert.Equal(t, []float64{3, 4, 5}, r.values())
	assert.Equal(t, 3, r.len())

	empty := newRing(0)
	empty.push(1)
	assert.Empty(t, empty.values())
}

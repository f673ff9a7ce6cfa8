package stats

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestEmptySummaryIsZero(t *testing.T) {
	var acc Accumulator
	s := acc.Summary()
	if s != (Summary{}) {
		t.Fatalf("empty accumulator summary = %+v, want zero", s)
	}
}

func TestSingleSampleSetsMinMaxAndZeroJitter(t *testing.T) {
	var acc Accumulator
	acc.Observe(42)

	s := acc.Summary()
	if !almostEqual(s.Avg, 42) || !almostEqual(s.Min, 42) || !almostEqual(s.Max, 42) {
		t.Fatalf("avg/min/max = %v/%v/%v, want 42/42/42", s.Avg, s.Min, s.Max)
	}
	if s.JitterPairAvg != 0 {
		t.Fatalf("jitter pair avg after one sample = %v, want 0", s.JitterPairAvg)
	}
	if s.JitterMaxMin != 0 || s.StdDev != 0 {
		t.Fatalf("jitter maxmin/stddev = %v/%v, want 0/0", s.JitterMaxMin, s.StdDev)
	}
}

func TestDerivedStats(t *testing.T) {
	cases := []struct {
		name    string
		rtts    []float64
		avg     float64
		min     float64
		max     float64
		pairAvg float64
	}{
		{
			name:    "alternating",
			rtts:    []float64{10, 20, 10, 20, 10},
			avg:     14,
			min:     10,
			max:     20,
			pairAvg: 10,
		},
		{
			name:    "monotonic",
			rtts:    []float64{5, 10, 15, 20},
			avg:     12.5,
			min:     5,
			max:     20,
			pairAvg: 5,
		},
		{
			name:    "constant",
			rtts:    []float64{7, 7, 7},
			avg:     7,
			min:     7,
			max:     7,
			pairAvg: 0,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var acc Accumulator
			for _, rtt := range tc.rtts {
				acc.Observe(rtt)
			}
			s := acc.Summary()
			if !almostEqual(s.Avg, tc.avg) {
				t.Errorf("avg = %v, want %v", s.Avg, tc.avg)
			}
			if !almostEqual(s.Min, tc.min) || !almostEqual(s.Max, tc.max) {
				t.Errorf("min/max = %v/%v, want %v/%v", s.Min, s.Max, tc.min, tc.max)
			}
			if !almostEqual(s.JitterMaxMin, tc.max-tc.min) {
				t.Errorf("jitter maxmin = %v, want %v", s.JitterMaxMin, tc.max-tc.min)
			}
			if !almostEqual(s.JitterPairAvg, tc.pairAvg) {
				t.Errorf("jitter pair avg = %v, want %v", s.JitterPairAvg, tc.pairAvg)
			}
			if s.Min > s.Avg || s.Avg > s.Max {
				t.Errorf("min <= avg <= max violated: %v/%v/%v", s.Min, s.Avg, s.Max)
			}
		})
	}
}

func TestStdDevPopulationForm(t *testing.T) {
	var acc Accumulator
	for _, rtt := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		acc.Observe(rtt)
	}
	// Classic example: population stddev is exactly 2.
	if s := acc.Summary(); !almostEqual(s.StdDev, 2) {
		t.Fatalf("stddev = %v, want 2", s.StdDev)
	}
}

func TestStdDevNeverNegativeUnderRounding(t *testing.T) {
	var acc Accumulator
	// Identical large samples make sumSq/n - avg^2 land a hair below zero.
	for i := 0; i < 1000; i++ {
		acc.Observe(10000.1)
	}
	s := acc.Summary()
	if math.IsNaN(s.StdDev) || s.StdDev < 0 {
		t.Fatalf("stddev = %v, want small non-negative value", s.StdDev)
	}
}

func TestBreakPairChain(t *testing.T) {
	var acc Accumulator
	acc.Observe(10)
	acc.Observe(30)
	acc.BreakPairChain()
	acc.Observe(90)

	// |30-10| counted once; 90 does not pair across the break.
	if s := acc.Summary(); !almostEqual(s.JitterPairAvg, 20) {
		t.Fatalf("jitter pair avg = %v, want 20", s.JitterPairAvg)
	}
}

func TestResetDiscardsEverything(t *testing.T) {
	var acc Accumulator
	acc.Observe(10)
	acc.Observe(50)
	acc.Reset()

	if acc.Count() != 0 {
		t.Fatalf("count after reset = %d, want 0", acc.Count())
	}
	acc.Observe(15)
	s := acc.Summary()
	if !almostEqual(s.Avg, 15) || !almostEqual(s.Min, 15) || !almostEqual(s.Max, 15) {
		t.Fatalf("post-reset avg/min/max = %v/%v/%v, want 15", s.Avg, s.Min, s.Max)
	}
	if s.JitterPairAvg != 0 {
		t.Fatalf("post-reset jitter pair avg = %v, want 0", s.JitterPairAvg)
	}
}

package ta

import (
	"math"
	"testing"
)

func TestLast(t *testing.T) {
	s := []float64{1, 2, 3, 4}
	if Last(s, 0) != 4 {
		t.Fatalf("expected 4, got %v", Last(s, 0))
	}
	if Last(s, 1) != 3 {
		t.Fatalf("expected 3, got %v", Last(s, 1))
	}
}

func TestCrossover(t *testing.T) {
	fast := []float64{1, 3}
	slow := []float64{2, 2}
	if !Crossover(fast, slow) {
		t.Fatal("expected crossover")
	}
	if Crossover(slow, fast) {
		t.Fatal("unexpected crossover")
	}
}

func TestCrossunder(t *testing.T) {
	fast := []float64{3, 1}
	slow := []float64{2, 2}
	if !Crossunder(fast, slow) {
		t.Fatal("expected crossunder")
	}
}

func TestHighestLowest(t *testing.T) {
	s := []float64{5, 9, 3, 7, 2}

	if got := Highest(s, 3); got != 7 {
		t.Fatalf("expected 7, got %v", got)
	}
	if got := Lowest(s, 3); got != 2 {
		t.Fatalf("expected 2, got %v", got)
	}
	// 窗口大于序列长度时退化为全序列
	if got := Highest(s, 100); got != 9 {
		t.Fatalf("expected 9, got %v", got)
	}
}

func TestMeanStdDev(t *testing.T) {
	s := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	if got := Mean(s); got != 5 {
		t.Fatalf("expected mean 5, got %v", got)
	}
	if got := StdDev(s); math.Abs(got-2) > 1e-9 {
		t.Fatalf("expected stddev 2, got %v", got)
	}

	if Mean(nil) != 0 {
		t.Fatal("empty mean should be 0")
	}
	if StdDev([]float64{1}) != 0 {
		t.Fatal("single-element stddev should be 0")
	}
}

package lottery_test

import (
	"errors"
	"math"
	"testing"

	"serotonyl.ru/mystery-box/internal/lottery"
)

// scripted возвращает заранее заданные значения по кругу.
type scripted struct {
	values []int64
	i      int
	asked  []int64
}

func (s *scripted) Int64N(n int64) int64 {
	s.asked = append(s.asked, n)
	v := s.values[s.i%len(s.values)]
	s.i++
	return v
}

func TestSelectWalksInSortOrder(t *testing.T) {
	// Кандидаты нарочно перемешаны: обход идёт по (SortKey, ID).
	candidates := []lottery.Candidate{
		{ID: 6, SortKey: 6, Weight: 60},
		{ID: 1, SortKey: 1, Weight: 1},
		{ID: 5, SortKey: 5, Weight: 30},
		{ID: 4, SortKey: 4, Weight: 9},
	}

	tests := []struct {
		name string
		r    int64
		want int64
	}{
		{"первое значение", 0, 1},
		{"граница первого", 1, 4},
		{"внутри второго", 9, 5},
		{"последнее значение второго", 39, 5},
		{"начало третьего", 40, 6},
		{"последнее значение", 99, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &scripted{values: []int64{tt.r}}
			got, err := lottery.Select(src, candidates)
			if err != nil {
				t.Fatalf("Select() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Select() = %d, want %d", got, tt.want)
			}
			if len(src.asked) != 1 || src.asked[0] != 100 {
				t.Errorf("Int64N called with %v, want [100]", src.asked)
			}
		})
	}
}

func TestSelectTieBreaksByID(t *testing.T) {
	candidates := []lottery.Candidate{
		{ID: 20, Weight: 50},
		{ID: 10, Weight: 50},
	}
	got, err := lottery.Select(&scripted{values: []int64{0}}, candidates)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if got != 10 {
		t.Errorf("Select() = %d, want 10", got)
	}
}

func TestSelectSkipsZeroWeights(t *testing.T) {
	candidates := []lottery.Candidate{
		{ID: 1, Weight: 0},
		{ID: 2, Weight: 3},
		{ID: 3, Weight: 0},
	}
	for r := int64(0); r < 3; r++ {
		got, err := lottery.Select(&scripted{values: []int64{r}}, candidates)
		if err != nil {
			t.Fatalf("Select() error = %v", err)
		}
		if got != 2 {
			t.Errorf("r=%d: Select() = %d, want 2", r, got)
		}
	}
}

func TestSelectErrors(t *testing.T) {
	tests := []struct {
		name       string
		candidates []lottery.Candidate
		wantNoCand bool
	}{
		{"пустой набор", nil, true},
		{"все нули", []lottery.Candidate{{ID: 1}, {ID: 2}}, true},
		{"отрицательный вес", []lottery.Candidate{{ID: 1, Weight: 5}, {ID: 2, Weight: -1}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := lottery.Select(lottery.Seeded(1), tt.candidates)
			if err == nil {
				t.Fatal("Select() error = nil, want error")
			}
			if got := errors.Is(err, lottery.ErrNoCandidates); got != tt.wantNoCand {
				t.Errorf("errors.Is(err, ErrNoCandidates) = %v, want %v", got, tt.wantNoCand)
			}
		})
	}
}

func TestSelectDoesNotReorderInput(t *testing.T) {
	candidates := []lottery.Candidate{{ID: 3, Weight: 1}, {ID: 1, Weight: 1}}
	if _, err := lottery.Select(lottery.Seeded(7), candidates); err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if candidates[0].ID != 3 || candidates[1].ID != 1 {
		t.Errorf("input reordered: %+v", candidates)
	}
}

func TestSelectFrequencies(t *testing.T) {
	const draws = 100_000
	weights := map[int64]int64{1: 60, 2: 30, 3: 9, 4: 1}

	candidates := make([]lottery.Candidate, 0, len(weights))
	for id, w := range weights {
		candidates = append(candidates, lottery.Candidate{ID: id, SortKey: id, Weight: w})
	}

	src := lottery.Seeded(20240601)
	counts := make(map[int64]int)
	for i := 0; i < draws; i++ {
		id, err := lottery.Select(src, candidates)
		if err != nil {
			t.Fatalf("Select() error = %v", err)
		}
		counts[id]++
	}

	for id, w := range weights {
		got := float64(counts[id]) / draws * 100
		if math.Abs(got-float64(w)) > 1.5 {
			t.Errorf("candidate %d: frequency %.2f%%, want %d%% ±1.5", id, got, w)
		}
	}
}

func TestSeededIsDeterministic(t *testing.T) {
	candidates := []lottery.Candidate{{ID: 1, Weight: 50}, {ID: 2, Weight: 50}}
	a, b := lottery.Seeded(42), lottery.Seeded(42)
	for i := 0; i < 100; i++ {
		x, _ := lottery.Select(a, candidates)
		y, _ := lottery.Select(b, candidates)
		if x != y {
			t.Fatalf("draw %d differs: %d vs %d", i, x, y)
		}
	}
}

package app

import (
	"testing"

	"brainforces/internal/domain"
)

func TestAssignPlacesDense(t *testing.T) {
	check := func(solved, want []int) {
		t.Helper()
		results := make([]domain.QuizResult, len(solved))
		for i, s := range solved {
			results[i].Solved = s
		}
		assignPlaces(results)
		for i := range results {
			if results[i].Place != want[i] {
				t.Fatalf("solved=%v: position %d got place %d, want %d", solved, i, results[i].Place, want[i])
			}
		}
	}

	check([]int{5, 5, 3, 1}, []int{1, 1, 2, 3})
	check([]int{10, 7, 7, 3}, []int{1, 2, 2, 3})
	check([]int{4, 4, 4}, []int{1, 1, 1})
	check([]int{2}, []int{1})
	check(nil, nil)
}

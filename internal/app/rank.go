package app

import "brainforces/internal/domain"

// assignPlaces writes dense ranks into results, which must already be ordered
// by solved descending: ties share a place and the next distinct solved count
// continues at the tied place plus one, so [5,5,3,1] ranks as [1,1,2,3].
func assignPlaces(results []domain.QuizResult) {
	place := 1
	for i := range results {
		if i > 0 && results[i].Solved != results[i-1].Solved {
			place++
		}
		results[i].Place = place
	}
}

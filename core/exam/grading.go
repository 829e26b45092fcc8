package exam

// autoGrade scores the choice questions of an attempt.
// Text questions are left for manual review.
func autoGrade(e Exam, a *Attempt) {
	a.Scores = make(map[string]int, len(e.Questions))
	a.Score, a.MaxScore = 0, 0
	a.NeedsReview = false

	for _, q := range e.Questions {
		a.MaxScore += q.Points
		ans := a.Answers[q.ID]

		switch q.Kind {
		case KindText:
			a.NeedsReview = true
		default:
			var pts int
			if sameChoices(normalizeChoices(ans.Choices), q.Correct) {
				pts = q.Points
			}
			a.Scores[q.ID] = pts
			a.Score += pts
		}
	}
	a.Passed = computePassed(e, *a)
}

// applyManualScores sets the reviewed scores, each clamped to [0, question points].
func applyManualScores(e Exam, a *Attempt, scores map[string]int) {
	if a.Scores == nil {
		a.Scores = make(map[string]int, len(e.Questions))
	}
	for _, q := range e.Questions {
		pts, ok := scores[q.ID]
		if !ok {
			if _, scored := a.Scores[q.ID]; scored {
				continue
			}
			pts = 0
		}
		if pts < 0 {
			pts = 0
		} else if pts > q.Points {
			pts = q.Points
		}
		a.Scores[q.ID] = pts
	}

	a.Score, a.MaxScore = 0, 0
	for _, q := range e.Questions {
		a.MaxScore += q.Points
		a.Score += a.Scores[q.ID]
	}
	a.NeedsReview = false
	a.Passed = computePassed(e, *a)
}

// computePassed is nil while any answer awaits review.
func computePassed(e Exam, a Attempt) *bool {
	if a.NeedsReview {
		return nil
	}
	passed := a.Score*100 >= e.PassPercent*a.MaxScore
	return &passed
}

func sameChoices(a, b []int) bool {
	if len(a) != len(b) || len(a) == 0 {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

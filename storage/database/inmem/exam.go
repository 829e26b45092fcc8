package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/trezcool/academia/core/exam"
)

type examRepository struct {
	db *examTable
}

var _ exam.Repository = (*examRepository)(nil)

func NewExamRepository(db *DB) exam.Repository {
	return &examRepository{db: db.exam}
}

func copyExam(e exam.Exam) exam.Exam {
	qs := make([]exam.Question, 0, len(e.Questions))
	for _, q := range e.Questions {
		q.Options = append([]string(nil), q.Options...)
		q.Correct = append([]int(nil), q.Correct...)
		qs = append(qs, q)
	}
	e.Questions = qs
	return e
}

func copyAttempt(a exam.Attempt) exam.Attempt {
	answers := make(map[string]exam.Answer, len(a.Answers))
	for k, v := range a.Answers {
		v.Choices = append([]int(nil), v.Choices...)
		answers[k] = v
	}
	scores := make(map[string]int, len(a.Scores))
	for k, v := range a.Scores {
		scores[k] = v
	}
	a.Answers, a.Scores = answers, scores
	if a.SubmittedAt != nil {
		at := *a.SubmittedAt
		a.SubmittedAt = &at
	}
	if a.Passed != nil {
		passed := *a.Passed
		a.Passed = &passed
	}
	return a
}

func (repo *examRepository) CreateExam(_ context.Context, e exam.Exam) (exam.Exam, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	e.ID = newID()
	e = copyExam(e)
	repo.db.table[e.ID] = &e
	return copyExam(e), nil
}

func (repo *examRepository) GetExam(_ context.Context, id string) (exam.Exam, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if e, ok := repo.db.table[id]; ok {
		return copyExam(*e), nil
	}
	return exam.Exam{}, exam.ErrNotFound
}

func (repo *examRepository) AddQuestion(_ context.Context, q exam.Question) (exam.Question, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	e, ok := repo.db.table[q.ExamID]
	if !ok {
		return exam.Question{}, exam.ErrNotFound
	}
	q.ID = newID()
	e.Questions = append(e.Questions, q)
	sort.SliceStable(e.Questions, func(i, j int) bool { return e.Questions[i].Position < e.Questions[j].Position })
	return q, nil
}

func (repo *examRepository) findInProgress(examID, userID string) (*exam.Attempt, bool) {
	for _, a := range repo.db.attempts {
		if a.ExamID == examID && a.UserID == userID && a.InProgress() {
			return a, true
		}
	}
	return nil, false
}

func (repo *examRepository) CreateAttempt(_ context.Context, a exam.Attempt) (exam.Attempt, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.findInProgress(a.ExamID, a.UserID); ok && a.InProgress() {
		return exam.Attempt{}, exam.ErrAttemptInProgress
	}
	a.ID = newID()
	a = copyAttempt(a)
	repo.db.attempts[a.ID] = &a
	return copyAttempt(a), nil
}

func (repo *examRepository) GetAttempt(_ context.Context, id string) (exam.Attempt, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if a, ok := repo.db.attempts[id]; ok {
		return copyAttempt(*a), nil
	}
	return exam.Attempt{}, exam.ErrAttemptNotFound
}

func (repo *examRepository) FindInProgress(_ context.Context, examID, userID string) (exam.Attempt, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if a, ok := repo.findInProgress(examID, userID); ok {
		return copyAttempt(*a), nil
	}
	return exam.Attempt{}, exam.ErrAttemptNotFound
}

func (repo *examRepository) CountAttempts(_ context.Context, examID, userID string) (int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var n int
	for _, a := range repo.db.attempts {
		if a.ExamID == examID && a.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (repo *examRepository) SaveAttempt(_ context.Context, a exam.Attempt, fromStatus string) (exam.Attempt, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	orig, ok := repo.db.attempts[a.ID]
	if !ok {
		return exam.Attempt{}, exam.ErrAttemptNotFound
	}
	if orig.Status != fromStatus {
		return exam.Attempt{}, exam.ErrStatusConflict
	}
	a = copyAttempt(a)
	repo.db.attempts[a.ID] = &a
	return copyAttempt(a), nil
}

func (repo *examRepository) QueryAttempts(_ context.Context, filter *exam.QueryFilter) ([]exam.Attempt, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	attempts := make([]exam.Attempt, 0)
	for _, a := range repo.db.attempts {
		if filter != nil {
			if filter.TenantID != "" && a.TenantID != filter.TenantID {
				continue
			}
			if filter.ExamID != "" && a.ExamID != filter.ExamID {
				continue
			}
			if filter.UserID != "" && a.UserID != filter.UserID {
				continue
			}
			if filter.CourseIDs != nil && !contains(filter.CourseIDs, a.CourseID) {
				continue
			}
			if len(filter.Statuses) > 0 && !contains(filter.Statuses, a.Status) {
				continue
			}
			if filter.NeedsReview != nil && a.NeedsReview != *filter.NeedsReview {
				continue
			}
		}
		attempts = append(attempts, copyAttempt(*a))
	}
	sort.SliceStable(attempts, func(i, j int) bool { return attempts[i].StartedAt.After(attempts[j].StartedAt) })
	if filter != nil && filter.Limit > 0 && len(attempts) > filter.Limit {
		attempts = attempts[:filter.Limit]
	}
	return attempts, nil
}

func (repo *examRepository) ListExpired(_ context.Context, now time.Time, limit int) ([]exam.Attempt, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	attempts := make([]exam.Attempt, 0)
	for _, a := range repo.db.attempts {
		if a.InProgress() && !a.EndsAt.After(now) {
			attempts = append(attempts, copyAttempt(*a))
		}
	}
	sort.Slice(attempts, func(i, j int) bool { return attempts[i].EndsAt.Before(attempts[j].EndsAt) })
	if limit > 0 && len(attempts) > limit {
		attempts = attempts[:limit]
	}
	return attempts, nil
}

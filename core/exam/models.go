package exam

import (
	"sort"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/academia/core"
)

// Question kinds
const (
	KindSingle   = "single"
	KindMultiple = "multiple"
	KindText     = "text"
)

// Attempt statuses
const (
	StatusInProgress    = "in_progress"
	StatusSubmitted     = "submitted"
	StatusAutoSubmitted = "auto_submitted"
	StatusGraded        = "graded"
)

const EventAttemptSubmitted = "exam.attempt_submitted"

type (
	Exam struct {
		ID          string        `json:"id"`
		TenantID    string        `json:"tenant_id"`
		CourseID    string        `json:"course_id"`
		Title       string        `json:"title"`
		Duration    time.Duration `json:"duration"`
		PassPercent int           `json:"pass_percent"`
		MaxAttempts int           `json:"max_attempts"` // 0: unlimited
		Questions   []Question    `json:"questions"`
		CreatedAt   time.Time     `json:"created_at"` // UTC
	}

	Question struct {
		ID       string   `json:"id"`
		ExamID   string   `json:"exam_id"`
		Position int      `json:"position"`
		Kind     string   `json:"kind"`
		Prompt   string   `json:"prompt"`
		Options  []string `json:"options"`
		Correct  []int    `json:"correct,omitempty"` // never sent to students
		Points   int      `json:"points"`
	}

	Answer struct {
		Choices []int  `json:"choices,omitempty"`
		Text    string `json:"text,omitempty"`
	}

	Attempt struct {
		ID          string            `json:"id"`
		ExamID      string            `json:"exam_id"`
		CourseID    string            `json:"course_id"`
		UserID      string            `json:"user_id"`
		TenantID    string            `json:"tenant_id"`
		StartedAt   time.Time         `json:"started_at"`             // UTC
		EndsAt      time.Time         `json:"ends_at"`                // UTC
		SubmittedAt *time.Time        `json:"submitted_at,omitempty"` // UTC
		Status      string            `json:"status"`
		Answers     map[string]Answer `json:"answers"` // {questionID: Answer}
		Scores      map[string]int    `json:"scores"`  // {questionID: points}
		Score       int               `json:"score"`
		MaxScore    int               `json:"max_score"`
		Passed      *bool             `json:"passed"` // nil until fully graded
		NeedsReview bool              `json:"needs_review"`
	}
)

// ForStudent hides the correct answers.
func (e Exam) ForStudent() Exam {
	qs := make([]Question, 0, len(e.Questions))
	for _, q := range e.Questions {
		q.Correct = nil
		qs = append(qs, q)
	}
	e.Questions = qs
	return e
}

func (e Exam) MaxScore() int {
	var max int
	for _, q := range e.Questions {
		max += q.Points
	}
	return max
}

func (a Attempt) InProgress() bool { return a.Status == StatusInProgress }

// Remaining returns the time left before the attempt deadline, never negative.
func (a Attempt) Remaining(now time.Time) time.Duration {
	if rem := a.EndsAt.Sub(now); rem > 0 {
		return rem
	}
	return 0
}

// Expired reports whether the deadline has passed.
func (a Attempt) Expired(now time.Time) bool { return !now.Before(a.EndsAt) }

type NewExam struct {
	CourseID        string `json:"course_id" validate:"required"`
	Title           string `json:"title" validate:"required,max=255"`
	DurationMinutes int    `json:"duration_minutes" validate:"required,min=1,max=1440"`
	PassPercent     int    `json:"pass_percent" validate:"min=0,max=100"`
	MaxAttempts     int    `json:"max_attempts" validate:"min=0"`
}

func (ne *NewExam) Validate(validate *validator.Validate) error {
	ne.Title = core.CleanString(ne.Title)
	return validate.Struct(ne)
}

type NewQuestion struct {
	Kind    string   `json:"kind" validate:"required,oneof=single multiple text"`
	Prompt  string   `json:"prompt" validate:"required"`
	Options []string `json:"options"`
	Correct []int    `json:"correct"`
	Points  int      `json:"points" validate:"min=1"`
}

func (nq *NewQuestion) Validate(validate *validator.Validate) error {
	nq.Prompt = core.CleanString(nq.Prompt)
	if err := validate.Struct(nq); err != nil {
		return err
	}
	return nq.validateChoices()
}

func (nq *NewQuestion) validateChoices() error {
	if nq.Kind == KindText {
		nq.Options, nq.Correct = nil, nil
		return nil
	}
	if len(nq.Options) < 2 {
		return core.NewFieldError("options", errAtLeastTwoOptions)
	}
	if len(nq.Correct) == 0 || (nq.Kind == KindSingle && len(nq.Correct) != 1) {
		return core.NewFieldError("correct", errInvalidCorrect)
	}
	nq.Correct = normalizeChoices(nq.Correct)
	for _, idx := range nq.Correct {
		if idx < 0 || idx >= len(nq.Options) {
			return core.NewFieldError("correct", errInvalidCorrect)
		}
	}
	return nil
}

type SaveAnswers struct {
	Answers map[string]Answer `json:"answers" validate:"required"`
}

type QueryFilter struct {
	TenantID    string   `query:"-"`
	ExamID      string   `query:"-"`
	UserID      string   `query:"-"`
	CourseIDs   []string `query:"-"`
	Statuses    []string `query:"status"`
	NeedsReview *bool    `query:"needs_review"`
	Limit       int      `query:"-"`
}

// normalizeChoices returns the sorted, deduplicated choices.
func normalizeChoices(choices []int) []int {
	if len(choices) == 0 {
		return nil
	}
	cp := append([]int(nil), choices...)
	sort.Ints(cp)
	res := cp[:1]
	for _, c := range cp[1:] {
		if c != res[len(res)-1] {
			res = append(res, c)
		}
	}
	return res
}

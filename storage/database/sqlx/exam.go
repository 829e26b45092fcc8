package sqlxrepos

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/academia/core/exam"
)

const (
	examColumns     = "id, tenant_id, course_id, title, duration, pass_percent, max_attempts, created_at"
	questionColumns = "id, exam_id, position, kind, prompt, options, correct, points"
)

const attemptColumns = `id, exam_id, course_id, user_id, tenant_id, started_at, ends_at, submitted_at, status,
	answers, scores, score, max_score, passed, needs_review`

type examRow struct {
	ID          string    `db:"id"`
	TenantID    string    `db:"tenant_id"`
	CourseID    string    `db:"course_id"`
	Title       string    `db:"title"`
	Duration    int64     `db:"duration"` // ns
	PassPercent int       `db:"pass_percent"`
	MaxAttempts int       `db:"max_attempts"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r examRow) exam() exam.Exam {
	return exam.Exam{
		ID:          r.ID,
		TenantID:    r.TenantID,
		CourseID:    r.CourseID,
		Title:       r.Title,
		Duration:    time.Duration(r.Duration),
		PassPercent: r.PassPercent,
		MaxAttempts: r.MaxAttempts,
		Questions:   []exam.Question{},
		CreatedAt:   r.CreatedAt.UTC(),
	}
}

type questionRow struct {
	ID       string         `db:"id"`
	ExamID   string         `db:"exam_id"`
	Position int            `db:"position"`
	Kind     string         `db:"kind"`
	Prompt   string         `db:"prompt"`
	Options  pq.StringArray `db:"options"`
	Correct  types.JSONText `db:"correct"`
	Points   int            `db:"points"`
}

func (r questionRow) question() (exam.Question, error) {
	q := exam.Question{
		ID:       r.ID,
		ExamID:   r.ExamID,
		Position: r.Position,
		Kind:     r.Kind,
		Prompt:   r.Prompt,
		Options:  []string(r.Options),
		Points:   r.Points,
	}
	if err := r.Correct.Unmarshal(&q.Correct); err != nil {
		return exam.Question{}, errors.Wrap(err, "decoding correct choices")
	}
	return q, nil
}

type attemptRow struct {
	ID          string         `db:"id"`
	ExamID      string         `db:"exam_id"`
	CourseID    string         `db:"course_id"`
	UserID      string         `db:"user_id"`
	TenantID    string         `db:"tenant_id"`
	StartedAt   time.Time      `db:"started_at"`
	EndsAt      time.Time      `db:"ends_at"`
	SubmittedAt null.Time      `db:"submitted_at"`
	Status      string         `db:"status"`
	Answers     types.JSONText `db:"answers"`
	Scores      types.JSONText `db:"scores"`
	Score       int            `db:"score"`
	MaxScore    int            `db:"max_score"`
	Passed      null.Bool      `db:"passed"`
	NeedsReview bool           `db:"needs_review"`
}

func newAttemptRow(a exam.Attempt) (attemptRow, error) {
	answers, err := marshalJSON(a.Answers, "{}")
	if err != nil {
		return attemptRow{}, errors.Wrap(err, "encoding answers")
	}
	scores, err := marshalJSON(a.Scores, "{}")
	if err != nil {
		return attemptRow{}, errors.Wrap(err, "encoding scores")
	}
	return attemptRow{
		ID:          a.ID,
		ExamID:      a.ExamID,
		CourseID:    a.CourseID,
		UserID:      a.UserID,
		TenantID:    a.TenantID,
		StartedAt:   a.StartedAt.UTC(),
		EndsAt:      a.EndsAt.UTC(),
		SubmittedAt: null.TimeFromPtr(a.SubmittedAt),
		Status:      a.Status,
		Answers:     answers,
		Scores:      scores,
		Score:       a.Score,
		MaxScore:    a.MaxScore,
		Passed:      null.BoolFromPtr(a.Passed),
		NeedsReview: a.NeedsReview,
	}, nil
}

func (r attemptRow) attempt() (exam.Attempt, error) {
	a := exam.Attempt{
		ID:          r.ID,
		ExamID:      r.ExamID,
		CourseID:    r.CourseID,
		UserID:      r.UserID,
		TenantID:    r.TenantID,
		StartedAt:   r.StartedAt.UTC(),
		EndsAt:      r.EndsAt.UTC(),
		Status:      r.Status,
		Answers:     map[string]exam.Answer{},
		Scores:      map[string]int{},
		Score:       r.Score,
		MaxScore:    r.MaxScore,
		Passed:      r.Passed.Ptr(),
		NeedsReview: r.NeedsReview,
	}
	if r.SubmittedAt.Valid {
		at := r.SubmittedAt.Time.UTC()
		a.SubmittedAt = &at
	}
	if err := r.Answers.Unmarshal(&a.Answers); err != nil {
		return exam.Attempt{}, errors.Wrap(err, "decoding answers")
	}
	if err := r.Scores.Unmarshal(&a.Scores); err != nil {
		return exam.Attempt{}, errors.Wrap(err, "decoding scores")
	}
	return a, nil
}

func attempts(rows []attemptRow) ([]exam.Attempt, error) {
	res := make([]exam.Attempt, 0, len(rows))
	for _, r := range rows {
		a, err := r.attempt()
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, nil
}

// marshalJSON encodes `v`, or returns `empty` for a nil value.
func marshalJSON(v interface{}, empty string) (types.JSONText, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return types.JSONText(empty), nil
	}
	return types.JSONText(b), nil
}

type examRepository struct {
	base
}

var _ exam.Repository = (*examRepository)(nil)

func NewExamRepository(db *sqlx.DB) *examRepository {
	return &examRepository{base{db: db}}
}

func (repo examRepository) CreateExam(ctx context.Context, e exam.Exam) (exam.Exam, error) {
	e.ID = newID()
	_, err := repo.db.ExecContext(ctx,
		"INSERT INTO exams ("+examColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		e.ID, e.TenantID, e.CourseID, e.Title, int64(e.Duration), e.PassPercent, e.MaxAttempts, e.CreatedAt.UTC())
	if err != nil {
		return exam.Exam{}, errors.Wrap(err, "inserting exam")
	}
	if e.Questions == nil {
		e.Questions = []exam.Question{}
	}
	return e, nil
}

func (repo examRepository) GetExam(ctx context.Context, id string) (exam.Exam, error) {
	if !validUUID(id) {
		return exam.Exam{}, exam.ErrNotFound
	}
	var row examRow
	if err := repo.db.GetContext(ctx, &row, "SELECT "+examColumns+" FROM exams WHERE id = $1", id); err != nil {
		return exam.Exam{}, trapNoRowsErr(err, exam.ErrNotFound, "getting exam")
	}
	e := row.exam()

	var qRows []questionRow
	q := "SELECT " + questionColumns + " FROM questions WHERE exam_id = $1 ORDER BY position ASC"
	if err := repo.db.SelectContext(ctx, &qRows, q, id); err != nil {
		return exam.Exam{}, errors.Wrap(err, "listing questions")
	}
	for _, qr := range qRows {
		question, err := qr.question()
		if err != nil {
			return exam.Exam{}, err
		}
		e.Questions = append(e.Questions, question)
	}
	return e, nil
}

func (repo examRepository) AddQuestion(ctx context.Context, q exam.Question) (exam.Question, error) {
	q.ID = newID()
	correct, err := marshalJSON(q.Correct, "[]")
	if err != nil {
		return exam.Question{}, errors.Wrap(err, "encoding correct choices")
	}
	options := q.Options
	if options == nil {
		options = []string{}
	}
	_, err = repo.db.ExecContext(ctx,
		"INSERT INTO questions ("+questionColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		q.ID, q.ExamID, q.Position, q.Kind, q.Prompt, pq.StringArray(options), correct, q.Points)
	if err != nil {
		return exam.Question{}, errors.Wrap(err, "inserting question")
	}
	return q, nil
}

func (repo examRepository) CreateAttempt(ctx context.Context, a exam.Attempt) (exam.Attempt, error) {
	a.ID = newID()
	row, err := newAttemptRow(a)
	if err != nil {
		return exam.Attempt{}, err
	}
	_, err = repo.db.NamedExecContext(ctx, `INSERT INTO attempts (`+attemptColumns+`) VALUES (
		:id, :exam_id, :course_id, :user_id, :tenant_id, :started_at, :ends_at, :submitted_at, :status,
		:answers, :scores, :score, :max_score, :passed, :needs_review)`, row)
	if err != nil {
		if isUniqueViolation(err, "attempts_in_progress_key") {
			return exam.Attempt{}, exam.ErrAttemptInProgress
		}
		return exam.Attempt{}, errors.Wrap(err, "inserting attempt")
	}
	return row.attempt()
}

func (repo examRepository) getAttempt(ctx context.Context, cond string, args ...interface{}) (exam.Attempt, error) {
	var row attemptRow
	if err := repo.db.GetContext(ctx, &row, "SELECT "+attemptColumns+" FROM attempts WHERE "+cond, args...); err != nil {
		return exam.Attempt{}, trapNoRowsErr(err, exam.ErrAttemptNotFound, "getting attempt")
	}
	return row.attempt()
}

func (repo examRepository) GetAttempt(ctx context.Context, id string) (exam.Attempt, error) {
	if !validUUID(id) {
		return exam.Attempt{}, exam.ErrAttemptNotFound
	}
	return repo.getAttempt(ctx, "id = $1", id)
}

func (repo examRepository) FindInProgress(ctx context.Context, examID, userID string) (exam.Attempt, error) {
	if !validUUID(examID) || !validUUID(userID) {
		return exam.Attempt{}, exam.ErrAttemptNotFound
	}
	return repo.getAttempt(ctx, "exam_id = $1 AND user_id = $2 AND status = $3", examID, userID, exam.StatusInProgress)
}

func (repo examRepository) CountAttempts(ctx context.Context, examID, userID string) (int, error) {
	if !validUUID(examID) || !validUUID(userID) {
		return 0, nil
	}
	var n int
	err := repo.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM attempts WHERE exam_id = $1 AND user_id = $2", examID, userID)
	return n, errors.Wrap(err, "counting attempts")
}

func (repo examRepository) SaveAttempt(ctx context.Context, a exam.Attempt, fromStatus string) (exam.Attempt, error) {
	if !validUUID(a.ID) {
		return exam.Attempt{}, exam.ErrAttemptNotFound
	}
	row, err := newAttemptRow(a)
	if err != nil {
		return exam.Attempt{}, err
	}
	res, err := repo.db.ExecContext(ctx, `UPDATE attempts SET
		submitted_at = $1, status = $2, answers = $3, scores = $4, score = $5, max_score = $6, passed = $7, needs_review = $8
		WHERE id = $9 AND status = $10`,
		row.SubmittedAt, row.Status, row.Answers, row.Scores, row.Score, row.MaxScore, row.Passed, row.NeedsReview,
		row.ID, fromStatus)
	if err != nil {
		return exam.Attempt{}, errors.Wrap(err, "saving attempt")
	}
	if err = checkAffected(res, exam.ErrStatusConflict); err != nil {
		if _, getErr := repo.GetAttempt(ctx, a.ID); errors.Cause(getErr) == exam.ErrAttemptNotFound {
			return exam.Attempt{}, getErr
		}
		return exam.Attempt{}, err
	}
	return row.attempt()
}

func (repo examRepository) QueryAttempts(ctx context.Context, filter *exam.QueryFilter) ([]exam.Attempt, error) {
	var (
		w     where
		limit string
	)
	if filter != nil {
		if filter.TenantID != "" {
			w.add("tenant_id = ?", filter.TenantID)
		}
		if filter.ExamID != "" {
			w.add("exam_id = ?", filter.ExamID)
		}
		if filter.UserID != "" {
			w.add("user_id = ?", filter.UserID)
		}
		if filter.CourseIDs != nil {
			ids := validUUIDs(filter.CourseIDs)
			if len(ids) == 0 {
				return []exam.Attempt{}, nil
			}
			w.add("course_id IN (?)", ids)
		}
		if len(filter.Statuses) > 0 {
			w.add("status IN (?)", filter.Statuses)
		}
		if filter.NeedsReview != nil {
			w.add("needs_review = ?", *filter.NeedsReview)
		}
		if filter.Limit > 0 {
			limit = " LIMIT ?"
			w.args = append(w.args, filter.Limit)
		}
	}

	var rows []attemptRow
	q := "SELECT " + attemptColumns + " FROM attempts" + w.String() + " ORDER BY started_at DESC" + limit
	if err := repo.selectIn(ctx, &rows, q, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying attempts")
	}
	return attempts(rows)
}

func (repo examRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]exam.Attempt, error) {
	var rows []attemptRow
	q := "SELECT " + attemptColumns + " FROM attempts WHERE status = $1 AND ends_at <= $2 ORDER BY ends_at ASC LIMIT $3"
	if err := repo.db.SelectContext(ctx, &rows, q, exam.StatusInProgress, now.UTC(), limit); err != nil {
		return nil, errors.Wrap(err, "listing expired attempts")
	}
	return attempts(rows)
}

package exam

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/remeh/sizedwaitgroup"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/course"
	"github.com/trezcool/academia/core/user"
)

const sweepBatchSize = 500

var (
	// errors
	ErrNotFound          = errors.New("exam not found")
	ErrAttemptNotFound   = errors.New("attempt not found")
	ErrNotEnrolled       = errors.New("you must be enrolled in the course to take this exam")
	ErrMaxAttempts       = errors.New("maximum number of attempts reached")
	ErrNoQuestions       = errors.New("this exam has no questions")
	ErrAttemptExpired    = errors.New("attempt time is over")
	ErrNotInProgress     = errors.New("attempt is not in progress")
	ErrAttemptInProgress = errors.New("an attempt is already in progress")
	ErrNotSubmitted      = errors.New("attempt has not been submitted yet")
	ErrStatusConflict    = errors.New("attempt was modified concurrently")

	errAtLeastTwoOptions = errors.New("choice questions need at least 2 options")
	errInvalidCorrect    = errors.New("invalid correct choices")
	errUnknownQuestion   = errors.New("unknown question")
)

type (
	Repository interface {
		CreateExam(ctx context.Context, e Exam) (Exam, error)
		// GetExam returns the exam with its questions, ordered by position.
		GetExam(ctx context.Context, id string) (Exam, error)
		AddQuestion(ctx context.Context, q Question) (Question, error)

		// CreateAttempt fails with ErrAttemptInProgress when the user already has an attempt in progress.
		CreateAttempt(ctx context.Context, a Attempt) (Attempt, error)
		GetAttempt(ctx context.Context, id string) (Attempt, error)
		FindInProgress(ctx context.Context, examID, userID string) (Attempt, error)
		CountAttempts(ctx context.Context, examID, userID string) (int, error)
		// SaveAttempt only saves `a` if its stored status is still `fromStatus`, else fails with ErrStatusConflict.
		SaveAttempt(ctx context.Context, a Attempt, fromStatus string) (Attempt, error)
		// QueryAttempts returns the matching attempts, newest first.
		QueryAttempts(ctx context.Context, filter *QueryFilter) ([]Attempt, error)
		// ListExpired returns in-progress attempts whose deadline is at or before `now`.
		ListExpired(ctx context.Context, now time.Time, limit int) ([]Attempt, error)
	}

	Catalog interface {
		Find(ctx context.Context, id string) (course.Course, error)
		Query(ctx context.Context, actor user.Actor, filter *course.QueryFilter, ordering []core.DBOrdering) ([]course.Course, error)
	}

	Enrollments interface {
		IsEnrolled(ctx context.Context, userID, courseID string) (bool, error)
	}

	Service struct {
		repo        Repository
		catalog     Catalog
		enrollments Enrollments
		events      core.EventPublisher
		logger      core.Logger
		concurrency int
		now         func() time.Time // mockable
	}
)

func NewService(
	repo Repository,
	catalog Catalog,
	enrollments Enrollments,
	events core.EventPublisher,
	logger core.Logger,
	sweepConcurrency int,
) *Service {
	if sweepConcurrency <= 0 {
		sweepConcurrency = 1
	}
	return &Service{
		repo:        repo,
		catalog:     catalog,
		enrollments: enrollments,
		events:      events,
		logger:      logger,
		concurrency: sweepConcurrency,
		now:         time.Now,
	}
}

func (svc *Service) managedCourse(ctx context.Context, actor user.Actor, courseID string) (course.Course, error) {
	c, err := svc.catalog.Find(ctx, courseID)
	if err != nil {
		return course.Course{}, err
	}
	if c.TenantID != actor.TenantID {
		return course.Course{}, course.ErrNotFound
	}
	if !actor.CanManage(c.TenantID, c.InstructorID) {
		return course.Course{}, core.ErrPermissionDenied
	}
	return c, nil
}

func (svc *Service) canManage(ctx context.Context, actor user.Actor, courseID string) bool {
	_, err := svc.managedCourse(ctx, actor, courseID)
	return err == nil
}

func (svc *Service) CreateExam(ctx context.Context, actor user.Actor, ne NewExam) (Exam, error) {
	c, err := svc.managedCourse(ctx, actor, ne.CourseID)
	if err != nil {
		return Exam{}, err
	}
	e := Exam{
		TenantID:    c.TenantID,
		CourseID:    c.ID,
		Title:       ne.Title,
		Duration:    time.Duration(ne.DurationMinutes) * time.Minute,
		PassPercent: ne.PassPercent,
		MaxAttempts: ne.MaxAttempts,
		Questions:   []Question{},
		CreatedAt:   svc.now().UTC(),
	}
	e, err = svc.repo.CreateExam(ctx, e)
	return e, errors.Wrap(err, "creating exam")
}

func (svc *Service) AddQuestion(ctx context.Context, actor user.Actor, examID string, nq NewQuestion) (Question, error) {
	e, err := svc.getExam(ctx, actor, examID)
	if err != nil {
		return Question{}, err
	}
	if _, err = svc.managedCourse(ctx, actor, e.CourseID); err != nil {
		return Question{}, err
	}
	if err = nq.validateChoices(); err != nil {
		return Question{}, err
	}
	q := Question{
		ExamID:   e.ID,
		Position: len(e.Questions) + 1,
		Kind:     nq.Kind,
		Prompt:   nq.Prompt,
		Options:  nq.Options,
		Correct:  nq.Correct,
		Points:   nq.Points,
	}
	q, err = svc.repo.AddQuestion(ctx, q)
	return q, errors.Wrap(err, "adding question")
}

func (svc *Service) getExam(ctx context.Context, actor user.Actor, id string) (Exam, error) {
	e, err := svc.repo.GetExam(ctx, id)
	if err != nil {
		return Exam{}, err
	}
	if e.TenantID != actor.TenantID {
		return Exam{}, ErrNotFound
	}
	return e, nil
}

// GetExam returns the exam to its course managers, or without the correct answers to enrolled students.
func (svc *Service) GetExam(ctx context.Context, actor user.Actor, id string) (Exam, error) {
	e, err := svc.getExam(ctx, actor, id)
	if err != nil {
		return Exam{}, err
	}
	if svc.canManage(ctx, actor, e.CourseID) {
		return e, nil
	}
	enrolled, err := svc.enrollments.IsEnrolled(ctx, actor.UserID, e.CourseID)
	if err != nil {
		return Exam{}, errors.Wrap(err, "checking enrollment")
	}
	if !enrolled {
		return Exam{}, ErrNotFound
	}
	return e.ForStudent(), nil
}

// StartAttempt resumes the attempt in progress of the actor, or starts a new one.
func (svc *Service) StartAttempt(ctx context.Context, actor user.Actor, examID string) (Attempt, error) {
	e, err := svc.getExam(ctx, actor, examID)
	if err != nil {
		return Attempt{}, err
	}
	enrolled, err := svc.enrollments.IsEnrolled(ctx, actor.UserID, e.CourseID)
	if err != nil {
		return Attempt{}, errors.Wrap(err, "checking enrollment")
	}
	if !enrolled {
		return Attempt{}, ErrNotEnrolled
	}
	if len(e.Questions) == 0 {
		return Attempt{}, ErrNoQuestions
	}

	now := svc.now().UTC()
	if a, err := svc.repo.FindInProgress(ctx, e.ID, actor.UserID); err == nil {
		if !a.Expired(now) {
			return a, nil
		}
		if _, err = svc.finalize(ctx, e, a, now); err != nil {
			return Attempt{}, errors.Wrap(err, "finalizing expired attempt")
		}
	} else if errors.Cause(err) != ErrAttemptNotFound {
		return Attempt{}, errors.Wrap(err, "finding attempt in progress")
	}

	if e.MaxAttempts > 0 {
		count, err := svc.repo.CountAttempts(ctx, e.ID, actor.UserID)
		if err != nil {
			return Attempt{}, errors.Wrap(err, "counting attempts")
		}
		if count >= e.MaxAttempts {
			return Attempt{}, ErrMaxAttempts
		}
	}

	a, err := svc.repo.CreateAttempt(ctx, Attempt{
		ExamID:    e.ID,
		CourseID:  e.CourseID,
		UserID:    actor.UserID,
		TenantID:  e.TenantID,
		StartedAt: now,
		EndsAt:    now.Add(e.Duration),
		Status:    StatusInProgress,
		Answers:   map[string]Answer{},
		Scores:    map[string]int{},
	})
	if errors.Cause(err) == ErrAttemptInProgress {
		// lost a race against a concurrent start
		return svc.repo.FindInProgress(ctx, e.ID, actor.UserID)
	}
	return a, errors.Wrap(err, "creating attempt")
}

// GetAttempt returns an attempt to its owner or to the course managers.
// An expired attempt still in progress is auto-submitted first.
func (svc *Service) GetAttempt(ctx context.Context, actor user.Actor, id string) (Attempt, error) {
	a, err := svc.repo.GetAttempt(ctx, id)
	if err != nil {
		return Attempt{}, err
	}
	if a.TenantID != actor.TenantID || (a.UserID != actor.UserID && !svc.canManage(ctx, actor, a.CourseID)) {
		return Attempt{}, ErrAttemptNotFound
	}
	if now := svc.now().UTC(); a.InProgress() && a.Expired(now) {
		e, err := svc.repo.GetExam(ctx, a.ExamID)
		if err != nil {
			return Attempt{}, errors.Wrap(err, "getting exam")
		}
		return svc.finalize(ctx, e, a, now)
	}
	return a, nil
}

func (svc *Service) getOwnAttempt(ctx context.Context, actor user.Actor, id string) (Exam, Attempt, error) {
	a, err := svc.repo.GetAttempt(ctx, id)
	if err != nil {
		return Exam{}, Attempt{}, err
	}
	if a.TenantID != actor.TenantID || a.UserID != actor.UserID {
		return Exam{}, Attempt{}, ErrAttemptNotFound
	}
	e, err := svc.repo.GetExam(ctx, a.ExamID)
	if err != nil {
		return Exam{}, Attempt{}, errors.Wrap(err, "getting exam")
	}
	return e, a, nil
}

// SaveAnswers merges answers into an attempt in progress.
// Past the deadline, the attempt is auto-submitted and ErrAttemptExpired returned.
func (svc *Service) SaveAnswers(ctx context.Context, actor user.Actor, id string, answers map[string]Answer) (Attempt, error) {
	e, a, err := svc.getOwnAttempt(ctx, actor, id)
	if err != nil {
		return Attempt{}, err
	}
	if !a.InProgress() {
		return Attempt{}, ErrNotInProgress
	}
	now := svc.now().UTC()
	if a.Expired(now) {
		if _, err = svc.finalize(ctx, e, a, now); err != nil {
			return Attempt{}, errors.Wrap(err, "finalizing expired attempt")
		}
		return Attempt{}, ErrAttemptExpired
	}

	questions := make(map[string]Question, len(e.Questions))
	for _, q := range e.Questions {
		questions[q.ID] = q
	}
	if a.Answers == nil {
		a.Answers = make(map[string]Answer, len(answers))
	}
	for qid, ans := range answers {
		q, ok := questions[qid]
		if !ok {
			return Attempt{}, core.NewFieldError("answers."+qid, errUnknownQuestion)
		}
		if q.Kind == KindText {
			ans.Choices = nil
		} else {
			ans.Text = ""
			ans.Choices = normalizeChoices(ans.Choices)
		}
		a.Answers[qid] = ans
	}

	a, err = svc.repo.SaveAttempt(ctx, a, StatusInProgress)
	if errors.Cause(err) == ErrStatusConflict {
		return Attempt{}, ErrNotInProgress
	}
	return a, errors.Wrap(err, "saving answers")
}

// Submit ends an attempt in progress; at or past its deadline it is recorded as auto-submitted.
func (svc *Service) Submit(ctx context.Context, actor user.Actor, id string) (Attempt, error) {
	e, a, err := svc.getOwnAttempt(ctx, actor, id)
	if err != nil {
		return Attempt{}, err
	}
	if !a.InProgress() {
		return Attempt{}, ErrNotInProgress
	}
	return svc.finalize(ctx, e, a, svc.now().UTC())
}

// finalize submits and auto-grades an attempt in progress.
// If it was finalized concurrently, the stored attempt is returned.
func (svc *Service) finalize(ctx context.Context, e Exam, a Attempt, now time.Time) (Attempt, error) {
	if a.Expired(now) {
		a.Status = StatusAutoSubmitted
	} else {
		a.Status = StatusSubmitted
	}
	a.SubmittedAt = &now
	autoGrade(e, &a)

	saved, err := svc.repo.SaveAttempt(ctx, a, StatusInProgress)
	if err != nil {
		if errors.Cause(err) == ErrStatusConflict {
			return svc.repo.GetAttempt(ctx, a.ID)
		}
		return Attempt{}, errors.Wrap(err, "saving attempt")
	}
	if err = svc.events.Publish(ctx, core.NewEvent(EventAttemptSubmitted, saved.TenantID, saved)); err != nil {
		svc.logger.Warn(fmt.Sprintf("publishing %s: %v", EventAttemptSubmitted, err), err)
	}
	return saved, nil
}

// Grade applies the manual review scores of a submitted attempt.
func (svc *Service) Grade(ctx context.Context, actor user.Actor, id string, scores map[string]int) (Attempt, error) {
	a, err := svc.repo.GetAttempt(ctx, id)
	if err != nil {
		return Attempt{}, err
	}
	if a.TenantID != actor.TenantID {
		return Attempt{}, ErrAttemptNotFound
	}
	if _, err = svc.managedCourse(ctx, actor, a.CourseID); err != nil {
		return Attempt{}, err
	}
	if a.InProgress() {
		return Attempt{}, ErrNotSubmitted
	}
	e, err := svc.repo.GetExam(ctx, a.ExamID)
	if err != nil {
		return Attempt{}, errors.Wrap(err, "getting exam")
	}

	fromStatus := a.Status
	applyManualScores(e, &a, scores)
	a.Status = StatusGraded
	a, err = svc.repo.SaveAttempt(ctx, a, fromStatus)
	if errors.Cause(err) == ErrStatusConflict {
		return Attempt{}, ErrStatusConflict
	}
	return a, errors.Wrap(err, "saving grades")
}

// AutoSubmitExpired submits every expired attempt still in progress, and returns how many were submitted.
func (svc *Service) AutoSubmitExpired(ctx context.Context) (int, error) {
	now := svc.now().UTC()
	attempts, err := svc.repo.ListExpired(ctx, now, sweepBatchSize)
	if err != nil {
		return 0, errors.Wrap(err, "listing expired attempts")
	}
	if len(attempts) == 0 {
		return 0, nil
	}

	var (
		submitted int64
		exams     = make(map[string]Exam)
	)
	for _, a := range attempts {
		if _, ok := exams[a.ExamID]; ok {
			continue
		}
		e, err := svc.repo.GetExam(ctx, a.ExamID)
		if err != nil {
			return 0, errors.Wrap(err, "getting exam")
		}
		exams[e.ID] = e
	}

	swg := sizedwaitgroup.New(svc.concurrency)
	for _, a := range attempts {
		if err = swg.AddWithContext(ctx); err != nil {
			break
		}
		go func(a Attempt) {
			defer swg.Done()
			if _, err := svc.finalize(ctx, exams[a.ExamID], a, now); err != nil {
				svc.logger.Error(fmt.Sprintf("auto-submitting attempt %s: %v", a.ID, err), err)
				return
			}
			atomic.AddInt64(&submitted, 1)
		}(a)
	}
	swg.Wait()
	return int(submitted), errors.Wrap(ctx.Err(), "auto-submitting attempts")
}

func (svc *Service) ListAttempts(ctx context.Context, actor user.Actor, examID string) ([]Attempt, error) {
	e, err := svc.getExam(ctx, actor, examID)
	if err != nil {
		return nil, err
	}
	if _, err = svc.managedCourse(ctx, actor, e.CourseID); err != nil {
		return nil, err
	}
	return svc.repo.QueryAttempts(ctx, &QueryFilter{TenantID: e.TenantID, ExamID: e.ID})
}

func (svc *Service) MyAttempts(ctx context.Context, actor user.Actor, limit int) ([]Attempt, error) {
	return svc.repo.QueryAttempts(ctx, &QueryFilter{TenantID: actor.TenantID, UserID: actor.UserID, Limit: limit})
}

// PendingReview lists the submitted attempts awaiting a manual review, for the courses the actor manages.
func (svc *Service) PendingReview(ctx context.Context, actor user.Actor) ([]Attempt, error) {
	needsReview := true
	filter := &QueryFilter{
		TenantID:    actor.TenantID,
		Statuses:    []string{StatusSubmitted, StatusAutoSubmitted},
		NeedsReview: &needsReview,
	}
	if !actor.IsAdmin() {
		if !actor.IsInstructor() {
			return nil, core.ErrPermissionDenied
		}
		courses, err := svc.catalog.Query(ctx, actor, &course.QueryFilter{InstructorID: actor.UserID}, nil)
		if err != nil {
			return nil, errors.Wrap(err, "querying instructor courses")
		}
		if len(courses) == 0 {
			return []Attempt{}, nil
		}
		for _, c := range courses {
			filter.CourseIDs = append(filter.CourseIDs, c.ID)
		}
	}
	return svc.repo.QueryAttempts(ctx, filter)
}

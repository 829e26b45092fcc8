package exam_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/academia/apps/api/di"
	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/enrollment"
	"github.com/trezcool/academia/core/exam"
	"github.com/trezcool/academia/core/user"
	eventsvc "github.com/trezcool/academia/services/events"
	logsvc "github.com/trezcool/academia/services/logger"
	inmemdb "github.com/trezcool/academia/storage/database/inmem"
)

func TestService_AutoSubmitExpired(t *testing.T) {
	ctx := context.Background()
	conf := core.NewTestConfig()
	events := eventsvc.NewRecorder()
	b := di.MemoryBackends(inmemdb.Open(), conf)
	b.Events = events
	c := di.New(conf, logsvc.NewDiscardLogger(), b)

	e, err := b.Exams.CreateExam(ctx, exam.Exam{TenantID: "t1", CourseID: "c1", Title: "Quiz", Duration: time.Minute, PassPercent: 50})
	require.NoError(t, err)
	q, err := b.Exams.AddQuestion(ctx, exam.Question{ExamID: e.ID, Position: 1, Kind: exam.KindSingle, Options: []string{"a", "b"}, Correct: []int{0}, Points: 1})
	require.NoError(t, err)

	now := time.Now().UTC()
	newAttempt := func(userID string, endsAt time.Time) exam.Attempt {
		a, err := b.Exams.CreateAttempt(ctx, exam.Attempt{
			ExamID:    e.ID,
			CourseID:  e.CourseID,
			UserID:    userID,
			TenantID:  e.TenantID,
			StartedAt: endsAt.Add(-e.Duration),
			EndsAt:    endsAt,
			Status:    exam.StatusInProgress,
			Answers:   map[string]exam.Answer{q.ID: {Choices: []int{0}}},
		})
		require.NoError(t, err)
		return a
	}
	expired := []exam.Attempt{
		newAttempt("u1", now.Add(-time.Minute)),
		newAttempt("u2", now.Add(-time.Second)),
	}
	running := newAttempt("u3", now.Add(time.Minute))

	n, err := c.ExamSvc.AutoSubmitExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{exam.EventAttemptSubmitted, exam.EventAttemptSubmitted}, events.Types())

	for _, a := range expired {
		got, err := b.Exams.GetAttempt(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, exam.StatusAutoSubmitted, got.Status)
		require.NotNil(t, got.SubmittedAt)
		assert.Equal(t, 1, got.Score)
		require.NotNil(t, got.Passed)
		assert.True(t, *got.Passed)
	}

	got, err := b.Exams.GetAttempt(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, exam.StatusInProgress, got.Status)

	n, err = c.ExamSvc.AutoSubmitExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "a second sweep finds nothing")
}

func TestService_deadlines(t *testing.T) {
	ctx := context.Background()
	conf := core.NewTestConfig()
	b := di.MemoryBackends(inmemdb.Open(), conf)
	c := di.New(conf, logsvc.NewDiscardLogger(), b)

	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c.ExamSvc.SetClock(func() time.Time { return clock })

	e, err := b.Exams.CreateExam(ctx, exam.Exam{
		TenantID: "t1", CourseID: "c1", Title: "Quiz", Duration: 10 * time.Minute, PassPercent: 50, MaxAttempts: 4,
	})
	require.NoError(t, err)
	q, err := b.Exams.AddQuestion(ctx, exam.Question{ExamID: e.ID, Position: 1, Kind: exam.KindSingle, Options: []string{"a", "b"}, Correct: []int{0}, Points: 1})
	require.NoError(t, err)
	_, err = b.Enrollments.CreateEnrollment(ctx, enrollment.Enrollment{TenantID: "t1", UserID: "u1", CourseID: "c1", Status: enrollment.StatusActive})
	require.NoError(t, err)
	actor := user.Actor{UserID: "u1", TenantID: "t1", Roles: []string{user.RoleStudent}}
	right := map[string]exam.Answer{q.ID: {Choices: []int{0}}}

	stored := func(id string) exam.Attempt {
		a, err := b.Exams.GetAttempt(ctx, id)
		require.NoError(t, err)
		return a
	}

	t.Run("saving past the deadline auto-submits", func(t *testing.T) {
		a, err := c.ExamSvc.StartAttempt(ctx, actor, e.ID)
		require.NoError(t, err)
		assert.Equal(t, clock.Add(10*time.Minute), a.EndsAt)
		_, err = c.ExamSvc.SaveAnswers(ctx, actor, a.ID, right)
		require.NoError(t, err)

		clock = a.EndsAt.Add(time.Second)
		_, err = c.ExamSvc.SaveAnswers(ctx, actor, a.ID, map[string]exam.Answer{q.ID: {Choices: []int{1}}})
		assert.Equal(t, exam.ErrAttemptExpired, errors.Cause(err))

		got := stored(a.ID)
		assert.Equal(t, exam.StatusAutoSubmitted, got.Status)
		assert.Equal(t, []int{0}, got.Answers[q.ID].Choices, "late answers are dropped")
		assert.Equal(t, 1, got.Score)

		_, err = c.ExamSvc.Submit(ctx, actor, a.ID)
		assert.Equal(t, exam.ErrNotInProgress, errors.Cause(err))
	})

	t.Run("submitting at the deadline is an auto-submission", func(t *testing.T) {
		a, err := c.ExamSvc.StartAttempt(ctx, actor, e.ID)
		require.NoError(t, err)

		clock = a.EndsAt
		got, err := c.ExamSvc.Submit(ctx, actor, a.ID)
		require.NoError(t, err)
		assert.Equal(t, exam.StatusAutoSubmitted, got.Status)
		require.NotNil(t, got.SubmittedAt)
		assert.True(t, got.SubmittedAt.Equal(a.EndsAt))
	})

	t.Run("starting over an expired attempt finalizes it first", func(t *testing.T) {
		a, err := c.ExamSvc.StartAttempt(ctx, actor, e.ID)
		require.NoError(t, err)

		clock = clock.Add(5 * time.Minute)
		resumed, err := c.ExamSvc.StartAttempt(ctx, actor, e.ID)
		require.NoError(t, err)
		assert.Equal(t, a.ID, resumed.ID, "the attempt in progress is resumed")

		clock = a.EndsAt.Add(time.Minute)
		next, err := c.ExamSvc.StartAttempt(ctx, actor, e.ID)
		require.NoError(t, err)
		assert.NotEqual(t, a.ID, next.ID)
		assert.Equal(t, clock.Add(10*time.Minute), next.EndsAt)
		assert.Equal(t, exam.StatusAutoSubmitted, stored(a.ID).Status)

		_, err = c.ExamSvc.Submit(ctx, actor, next.ID)
		require.NoError(t, err)
		assert.Equal(t, exam.StatusSubmitted, stored(next.ID).Status)
	})

	t.Run("attempts are capped", func(t *testing.T) {
		n, err := b.Exams.CountAttempts(ctx, e.ID, actor.UserID)
		require.NoError(t, err)
		assert.Equal(t, 4, n)

		_, err = c.ExamSvc.StartAttempt(ctx, actor, e.ID)
		assert.Equal(t, exam.ErrMaxAttempts, errors.Cause(err))
	})
}

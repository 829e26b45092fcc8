package echoapi

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/academia/core/course"
	"github.com/trezcool/academia/core/enrollment"
	"github.com/trezcool/academia/core/exam"
	"github.com/trezcool/academia/core/user"
	"github.com/trezcool/academia/tests"
)

func Test_courseApi(t *testing.T) {
	app := setup(t)
	teacher := app.createUser(t, "Teacher", "teacher", user.RoleInstructor)
	student := app.createUser(t, "Hero", "hero", user.RoleStudent)
	teacherToken := app.getToken(t, teacher)
	studentToken := app.getToken(t, student)

	var c course.Course
	t.Run("create", func(t *testing.T) {
		rec := app.call(t, http.MethodPost, "/v1/courses", studentToken, course.NewCourse{Title: "Go"}, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = app.call(t, http.MethodPost, "/v1/courses", teacherToken, course.NewCourse{}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = app.call(t, http.MethodPost, "/v1/courses", teacherToken, course.NewCourse{Title: " Intro to Go ", Price: 0}, &c)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.Equal(t, "Intro to Go", c.Title)
		assert.Equal(t, "intro-to-go", c.Slug)
		assert.Equal(t, teacher.ID, c.InstructorID)
		assert.Equal(t, course.StatusDraft, c.Status)

		rec = app.call(t, http.MethodPost, "/v1/courses", teacherToken, course.NewCourse{Title: "Intro to Go"}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"slug": "a course with this slug already exists"}`, rec.Body.String())
	})

	t.Run("drafts are hidden from students", func(t *testing.T) {
		rec := app.call(t, http.MethodGet, "/v1/courses/"+c.ID, studentToken, nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = app.call(t, http.MethodPost, "/v1/enrollments", studentToken, enrollment.NewEnrollment{CourseID: c.ID}, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.JSONEq(t, `{"error": "course is not published"}`, rec.Body.String())
	})

	t.Run("publish", func(t *testing.T) {
		rec := app.call(t, http.MethodPost, "/v1/courses/"+c.ID+"/publish", studentToken, nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = app.call(t, http.MethodPost, "/v1/courses/"+c.ID+"/publish", teacherToken, nil, &c)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, course.StatusPublished, c.Status)

		var got []course.Course
		rec = app.call(t, http.MethodGet, "/v1/courses", studentToken, nil, &got)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, got, 1)
		assert.Equal(t, c.ID, got[0].ID)
	})

	t.Run("update", func(t *testing.T) {
		desc := "Learn Go"
		var got course.Course
		rec := app.call(t, http.MethodPut, "/v1/courses/"+c.ID, teacherToken, course.UpdateCourse{Description: &desc}, &got)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, desc, got.Description)

		rec = app.call(t, http.MethodPut, "/v1/courses/"+c.ID, studentToken, course.UpdateCourse{Description: &desc}, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("batches", func(t *testing.T) {
		start := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)
		var b course.Batch
		rec := app.call(t, http.MethodPost, "/v1/courses/"+c.ID+"/batches", teacherToken,
			course.NewBatch{Name: "Spring", StartsAt: start, EndsAt: start.Add(30 * 24 * time.Hour), Capacity: 1}, &b)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.Equal(t, 1, b.Capacity)

		rec = app.call(t, http.MethodPost, "/v1/courses/"+c.ID+"/batches", teacherToken,
			course.NewBatch{Name: "Backwards", StartsAt: start, EndsAt: start.Add(-time.Hour)}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var batches []course.Batch
		rec = app.call(t, http.MethodGet, "/v1/courses/"+c.ID+"/batches", studentToken, nil, &batches)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, batches, 1)

		var e enrollment.Enrollment
		rec = app.call(t, http.MethodPost, "/v1/enrollments", studentToken, enrollment.NewEnrollment{CourseID: c.ID, BatchID: b.ID}, &e)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.Equal(t, b.ID, e.BatchID)

		other := app.createUser(t, "Late", "late", user.RoleStudent)
		rec = app.call(t, http.MethodPost, "/v1/enrollments", app.getToken(t, other), enrollment.NewEnrollment{CourseID: c.ID, BatchID: b.ID}, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.JSONEq(t, `{"error": "batch is full"}`, rec.Body.String())
	})

	t.Run("materials disabled", func(t *testing.T) {
		rec := app.call(t, http.MethodPost, "/v1/courses/"+c.ID+"/materials", teacherToken, MaterialUploadRequest{Filename: "slides.pdf"}, nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("archive", func(t *testing.T) {
		rec := app.call(t, http.MethodPost, "/v1/courses/"+c.ID+"/archive", teacherToken, nil, &c)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, course.StatusArchived, c.Status)
	})
}

func Test_enrollmentApi(t *testing.T) {
	app := setup(t)
	teacher := app.createUser(t, "Teacher", "teacher", user.RoleInstructor)
	student := app.createUser(t, "Hero", "hero", user.RoleStudent)
	free := testutil.CreateCourse(t, app.b.Courses, app.tenant.ID, teacher.ID, "Free Course", 0, course.StatusPublished)
	paid := testutil.CreateCourse(t, app.b.Courses, app.tenant.ID, teacher.ID, "Paid Course", 4900, course.StatusPublished)
	studentToken := app.getToken(t, student)
	teacherToken := app.getToken(t, teacher)

	rec := app.call(t, http.MethodPost, "/v1/enrollments", studentToken, enrollment.NewEnrollment{CourseID: paid.ID}, nil)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.JSONEq(t, `{"error": "this course must be purchased"}`, rec.Body.String())

	var e enrollment.Enrollment
	rec = app.call(t, http.MethodPost, "/v1/enrollments", studentToken, enrollment.NewEnrollment{CourseID: free.ID}, &e)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, enrollment.StatusActive, e.Status)
	assert.Equal(t, student.ID, e.UserID)

	rec = app.call(t, http.MethodPost, "/v1/enrollments", studentToken, enrollment.NewEnrollment{CourseID: free.ID}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// welcome mail
	require.Len(t, app.mail.Sent(), 1)
	assert.Equal(t, student.Email, app.mail.Sent()[0].To[0].Address)

	runHTTPTests(t, app, []httpTest{
		{name: "mine", path: "/v1/enrollments", token: studentToken, wantCode: http.StatusOK, wantData: marshallList(t, e)},
		{name: "detail", path: "/v1/enrollments/" + e.ID, token: studentToken, wantCode: http.StatusOK, wantData: marshallObj(t, e)},
		{name: "course roster", path: "/v1/courses/" + free.ID + "/enrollments", token: teacherToken, wantCode: http.StatusOK, wantData: marshallList(t, e)},
		{name: "roster is for managers", path: "/v1/courses/" + free.ID + "/enrollments", token: studentToken, wantCode: http.StatusForbidden},
		{name: "students cannot complete", method: http.MethodPost, path: "/v1/enrollments/" + e.ID + "/complete", token: studentToken, wantCode: http.StatusForbidden},
	})

	var done enrollment.Enrollment
	rec = app.call(t, http.MethodPost, "/v1/enrollments/"+e.ID+"/complete", teacherToken, nil, &done)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, enrollment.StatusCompleted, done.Status)

	rec = app.call(t, http.MethodPost, "/v1/enrollments/"+e.ID+"/cancel", studentToken, nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error": "enrollment is not active"}`, rec.Body.String())
}

func Test_examApi(t *testing.T) {
	app := setup(t)
	teacher := app.createUser(t, "Teacher", "teacher", user.RoleInstructor)
	student := app.createUser(t, "Hero", "hero", user.RoleStudent)
	outsider := app.createUser(t, "Outsider", "outsider", user.RoleStudent)
	c := testutil.CreateCourse(t, app.b.Courses, app.tenant.ID, teacher.ID, "Go", 0, course.StatusPublished)
	teacherToken := app.getToken(t, teacher)
	studentToken := app.getToken(t, student)

	var x exam.Exam
	rec := app.call(t, http.MethodPost, "/v1/exams", studentToken, exam.NewExam{CourseID: c.ID, Title: "Final", DurationMinutes: 30}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = app.call(t, http.MethodPost, "/v1/exams", teacherToken, exam.NewExam{CourseID: c.ID, Title: "Final", DurationMinutes: 30, PassPercent: 50}, &x)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 30*time.Minute, x.Duration)

	_, err := app.c.EnrollmentSvc.Enroll(context.Background(), student.Actor(), enrollment.NewEnrollment{CourseID: c.ID})
	require.NoError(t, err)

	rec = app.call(t, http.MethodPost, "/v1/exams/"+x.ID+"/attempts", studentToken, nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.JSONEq(t, `{"error": "this exam has no questions"}`, rec.Body.String())

	addQuestion := func(nq exam.NewQuestion) exam.Question {
		var q exam.Question
		rec := app.call(t, http.MethodPost, "/v1/exams/"+x.ID+"/questions", teacherToken, nq, &q)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		return q
	}
	rec = app.call(t, http.MethodPost, "/v1/exams/"+x.ID+"/questions", teacherToken,
		exam.NewQuestion{Kind: exam.KindSingle, Prompt: "1+1?", Options: []string{"2"}, Correct: []int{0}, Points: 1}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	q1 := addQuestion(exam.NewQuestion{Kind: exam.KindSingle, Prompt: "1+1?", Options: []string{"1", "2"}, Correct: []int{1}, Points: 2})
	q2 := addQuestion(exam.NewQuestion{Kind: exam.KindMultiple, Prompt: "Primes?", Options: []string{"2", "3", "4"}, Correct: []int{1, 0}, Points: 2})
	q3 := addQuestion(exam.NewQuestion{Kind: exam.KindText, Prompt: "Why Go?", Points: 4})
	assert.Equal(t, []int{0, 1}, q2.Correct)
	assert.Equal(t, 3, q3.Position)

	t.Run("students never see the correct answers", func(t *testing.T) {
		var got exam.Exam
		rec := app.call(t, http.MethodGet, "/v1/exams/"+x.ID, studentToken, nil, &got)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, got.Questions, 3)
		assert.NotContains(t, rec.Body.String(), `"correct"`)

		rec = app.call(t, http.MethodGet, "/v1/exams/"+x.ID, teacherToken, nil, &got)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []int{1}, got.Questions[0].Correct)

		rec = app.call(t, http.MethodGet, "/v1/exams/"+x.ID, app.getToken(t, outsider), nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("outsiders cannot start", func(t *testing.T) {
		rec := app.call(t, http.MethodPost, "/v1/exams/"+x.ID+"/attempts", app.getToken(t, outsider), nil, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.JSONEq(t, `{"error": "you must be enrolled in the course to take this exam"}`, rec.Body.String())
	})

	var a AttemptResponse
	t.Run("attempt", func(t *testing.T) {
		rec := app.call(t, http.MethodPost, "/v1/exams/"+x.ID+"/attempts", studentToken, nil, &a)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.Equal(t, exam.StatusInProgress, a.Status)
		assert.InDelta(t, 30*60, a.RemainingSeconds, 5)

		// resumes the attempt in progress
		var again AttemptResponse
		rec = app.call(t, http.MethodPost, "/v1/exams/"+x.ID+"/attempts", studentToken, nil, &again)
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, a.ID, again.ID)

		answers := exam.SaveAnswers{Answers: map[string]exam.Answer{
			q1.ID: {Choices: []int{1}},
			q2.ID: {Choices: []int{1, 0}, Text: "ignored"},
			q3.ID: {Text: "Simplicity"},
		}}
		var saved AttemptResponse
		rec = app.call(t, http.MethodPut, "/v1/attempts/"+a.ID+"/answers", studentToken, answers, &saved)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, []int{0, 1}, saved.Answers[q2.ID].Choices)
		assert.Empty(t, saved.Answers[q2.ID].Text)

		rec = app.call(t, http.MethodPut, "/v1/attempts/"+a.ID+"/answers", studentToken,
			exam.SaveAnswers{Answers: map[string]exam.Answer{"nope": {}}}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = app.call(t, http.MethodPut, "/v1/attempts/"+a.ID+"/answers", app.getToken(t, outsider), answers, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("submit", func(t *testing.T) {
		var got AttemptResponse
		rec := app.call(t, http.MethodPost, "/v1/attempts/"+a.ID+"/submit", studentToken, nil, &got)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, exam.StatusSubmitted, got.Status)
		assert.Zero(t, got.RemainingSeconds)
		assert.Equal(t, 4, got.Score)
		assert.Equal(t, 8, got.MaxScore)
		assert.True(t, got.NeedsReview)
		assert.Nil(t, got.Passed)
		assert.Contains(t, app.events.Types(), exam.EventAttemptSubmitted)

		rec = app.call(t, http.MethodPost, "/v1/attempts/"+a.ID+"/submit", studentToken, nil, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("review", func(t *testing.T) {
		var pending []AttemptResponse
		rec := app.call(t, http.MethodGet, "/v1/attempts/review", teacherToken, nil, &pending)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, pending, 1)

		rec = app.call(t, http.MethodPost, "/v1/attempts/"+a.ID+"/grade", studentToken, GradeRequest{Scores: map[string]int{q3.ID: 4}}, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		var got AttemptResponse
		rec = app.call(t, http.MethodPost, "/v1/attempts/"+a.ID+"/grade", teacherToken, GradeRequest{Scores: map[string]int{q3.ID: 10}}, &got)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, exam.StatusGraded, got.Status)
		assert.Equal(t, 8, got.Score)
		require.NotNil(t, got.Passed)
		assert.True(t, *got.Passed)
		assert.False(t, got.NeedsReview)

		rec = app.call(t, http.MethodGet, "/v1/attempts/review", teacherToken, nil, &pending)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, pending)

		var mine []AttemptResponse
		rec = app.call(t, http.MethodGet, "/v1/attempts", studentToken, nil, &mine)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, mine, 1)
		assert.Equal(t, a.ID, mine[0].ID)
	})
}

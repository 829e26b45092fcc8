package echoapi

import (
	"math"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core/exam"
)

type examApi struct {
	Deps
	now func() time.Time // mockable
}

func registerExamAPI(g *echo.Group, auth []echo.MiddlewareFunc, deps Deps) {
	api := examApi{Deps: deps, now: time.Now}

	xg := g.Group("/exams", auth...)
	xg.POST("", api.create, instructorMiddleware)
	xg.GET("/:id", api.retrieve)
	xg.POST("/:id/questions", api.addQuestion, instructorMiddleware)
	xg.POST("/:id/attempts", api.startAttempt)
	xg.GET("/:id/attempts", api.queryExamAttempts, instructorMiddleware)

	ag := g.Group("/attempts", auth...)
	ag.GET("", api.queryAttempts)
	ag.GET("/review", api.queryPendingReview, instructorMiddleware)
	ag.GET("/:id", api.retrieveAttempt)
	ag.PUT("/:id/answers", api.saveAnswers)
	ag.POST("/:id/submit", api.submit)
	ag.POST("/:id/grade", api.grade, instructorMiddleware)
}

// AttemptResponse adds the server side countdown to an Attempt.
type AttemptResponse struct {
	exam.Attempt
	RemainingSeconds int64 `json:"remaining_seconds"`
}

func (api *examApi) attemptResponse(a exam.Attempt) AttemptResponse {
	res := AttemptResponse{Attempt: a}
	if a.InProgress() {
		res.RemainingSeconds = int64(math.Ceil(a.Remaining(api.now()).Seconds()))
	}
	return res
}

func (api *examApi) attemptsResponse(attempts []exam.Attempt) []AttemptResponse {
	res := make([]AttemptResponse, 0, len(attempts))
	for _, a := range attempts {
		res = append(res, api.attemptResponse(a))
	}
	return res
}

func (api *examApi) create(ctx echo.Context) error {
	var data exam.NewExam
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewExam")
	}
	if err := data.Validate(api.Validate); err != nil {
		return err
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	e, err := api.ExamSvc.CreateExam(ctx.Request().Context(), actor, data)
	if err != nil {
		return errors.Wrap(err, "creating exam")
	}
	return ctx.JSON(http.StatusCreated, e)
}

func (api *examApi) retrieve(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	e, err := api.ExamSvc.GetExam(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting exam")
	}
	return ctx.JSON(http.StatusOK, e)
}

func (api *examApi) addQuestion(ctx echo.Context) error {
	var data exam.NewQuestion
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewQuestion")
	}
	if err := data.Validate(api.Validate); err != nil {
		return err
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	q, err := api.ExamSvc.AddQuestion(ctx.Request().Context(), actor, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "adding question")
	}
	return ctx.JSON(http.StatusCreated, q)
}

func (api *examApi) startAttempt(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	a, err := api.ExamSvc.StartAttempt(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "starting attempt")
	}
	return ctx.JSON(http.StatusCreated, api.attemptResponse(a))
}

func (api *examApi) queryExamAttempts(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	attempts, err := api.ExamSvc.ListAttempts(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "listing exam attempts")
	}
	return ctx.JSON(http.StatusOK, api.attemptsResponse(attempts))
}

func (api *examApi) queryAttempts(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	attempts, err := api.ExamSvc.MyAttempts(ctx.Request().Context(), actor, queryInt(ctx, "limit", 0))
	if err != nil {
		return errors.Wrap(err, "listing attempts")
	}
	return ctx.JSON(http.StatusOK, api.attemptsResponse(attempts))
}

func (api *examApi) queryPendingReview(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	attempts, err := api.ExamSvc.PendingReview(ctx.Request().Context(), actor)
	if err != nil {
		return errors.Wrap(err, "listing attempts pending review")
	}
	return ctx.JSON(http.StatusOK, api.attemptsResponse(attempts))
}

func (api *examApi) retrieveAttempt(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	a, err := api.ExamSvc.GetAttempt(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting attempt")
	}
	return ctx.JSON(http.StatusOK, api.attemptResponse(a))
}

func (api *examApi) saveAnswers(ctx echo.Context) error {
	var data exam.SaveAnswers
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SaveAnswers")
	}
	if err := api.Validate.Struct(data); err != nil {
		return err
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	a, err := api.ExamSvc.SaveAnswers(ctx.Request().Context(), actor, ctx.Param("id"), data.Answers)
	if err != nil {
		return errors.Wrap(err, "saving answers")
	}
	return ctx.JSON(http.StatusOK, api.attemptResponse(a))
}

func (api *examApi) submit(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	a, err := api.ExamSvc.Submit(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "submitting attempt")
	}
	return ctx.JSON(http.StatusOK, api.attemptResponse(a))
}

func (api *examApi) grade(ctx echo.Context) error {
	var data GradeRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to GradeRequest")
	}
	if err := api.Validate.Struct(data); err != nil {
		return err
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	a, err := api.ExamSvc.Grade(ctx.Request().Context(), actor, ctx.Param("id"), data.Scores)
	if err != nil {
		return errors.Wrap(err, "grading attempt")
	}
	return ctx.JSON(http.StatusOK, api.attemptResponse(a))
}

type GradeRequest struct {
	Scores map[string]int `json:"scores" validate:"required"`
}

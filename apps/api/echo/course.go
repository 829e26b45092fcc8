package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/course"
	"github.com/trezcool/academia/core/enrollment"
)

type courseApi struct {
	Deps
}

func registerCourseAPI(g *echo.Group, auth []echo.MiddlewareFunc, deps Deps) {
	api := courseApi{Deps: deps}

	cg := g.Group("/courses", auth...)
	cg.GET("", api.query)
	cg.POST("", api.create, instructorMiddleware)

	dg := cg.Group("/:id")
	dg.GET("", api.retrieve)
	dg.PUT("", api.update)
	dg.POST("/publish", api.publish)
	dg.POST("/archive", api.archive)
	dg.GET("/batches", api.queryBatches)
	dg.POST("/batches", api.createBatch)
	dg.POST("/materials", api.materialUpload)
	dg.GET("/enrollments", api.queryEnrollments)
}

func (api *courseApi) query(ctx echo.Context) error {
	filter := new(course.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []course.Course{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx, course.OrderingFields...)

	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	courses, err := api.CourseSvc.Query(ctx.Request().Context(), actor, filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying courses")
	}
	if courses == nil {
		courses = []course.Course{}
	}
	return ctx.JSON(http.StatusOK, courses)
}

func (api *courseApi) create(ctx echo.Context) error {
	var data course.NewCourse
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewCourse")
	}
	if err := data.Validate(api.Validate); err != nil {
		return err
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	c, err := api.CourseSvc.Create(ctx.Request().Context(), actor, data)
	if err != nil {
		return errors.Wrap(err, "creating course")
	}
	return ctx.JSON(http.StatusCreated, c)
}

func (api *courseApi) retrieve(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	c, err := api.CourseSvc.Get(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting course")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *courseApi) update(ctx echo.Context) error {
	var data course.UpdateCourse
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateCourse")
	}
	if err := data.Validate(api.Validate); err != nil {
		return err
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	c, err := api.CourseSvc.Update(ctx.Request().Context(), actor, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating course")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *courseApi) publish(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	c, err := api.CourseSvc.Publish(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "publishing course")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *courseApi) archive(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	c, err := api.CourseSvc.Archive(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "archiving course")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *courseApi) queryBatches(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	batches, err := api.CourseSvc.ListBatches(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "listing batches")
	}
	if batches == nil {
		batches = []course.Batch{}
	}
	return ctx.JSON(http.StatusOK, batches)
}

func (api *courseApi) createBatch(ctx echo.Context) error {
	var data course.NewBatch
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewBatch")
	}
	if err := data.Validate(api.Validate); err != nil {
		return err
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	b, err := api.CourseSvc.CreateBatch(ctx.Request().Context(), actor, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "creating batch")
	}
	return ctx.JSON(http.StatusCreated, b)
}

func (api *courseApi) materialUpload(ctx echo.Context) error {
	var data MaterialUploadRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to MaterialUploadRequest")
	}
	if err := data.Validate(api.Validate); err != nil {
		return err
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	upload, err := api.CourseSvc.MaterialUploadURL(ctx.Request().Context(), actor, ctx.Param("id"), data.Filename)
	if err != nil {
		return errors.Wrap(err, "presigning material upload")
	}
	return ctx.JSON(http.StatusCreated, upload)
}

func (api *courseApi) queryEnrollments(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	enrollments, err := api.EnrollmentSvc.ListForCourse(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "listing course enrollments")
	}
	if enrollments == nil {
		enrollments = []enrollment.Enrollment{}
	}
	return ctx.JSON(http.StatusOK, enrollments)
}

type MaterialUploadRequest struct {
	Filename string `json:"filename" validate:"required,max=255"`
}

func (mr *MaterialUploadRequest) Validate(validate *validator.Validate) error {
	mr.Filename = core.CleanString(mr.Filename)
	return validate.Struct(mr)
}

package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/luxaar/luxaar/core/course"
	"github.com/luxaar/luxaar/core/enrollment"
	"github.com/luxaar/luxaar/core/progress"
)

type courseApi struct {
	svc         course.ServiceInterface
	enrollSvc   enrollment.ServiceInterface
	progressSvc progress.ServiceInterface
	validate    *validator.Validate
}

func registerCourseAPI(g *echo.Group, authed []echo.MiddlewareFunc, deps *Deps) {
	api := courseApi{
		svc:         deps.CourseSvc,
		enrollSvc:   deps.EnrollSvc,
		progressSvc: deps.ProgressSvc,
		validate:    deps.Validate,
	}
	admin := adminMiddleware()

	cg := g.Group("/courses", authed...)
	cg.GET("", api.query)
	cg.POST("", api.create, admin)
	cg.GET("/:id", api.retrieve)
	cg.PUT("/:id", api.update, admin)
	cg.DELETE("/:id", api.destroy, admin)
	cg.GET("/:id/outline", api.outline)
	cg.GET("/:id/progress", api.progress)
	cg.POST("/:id/access-requests", api.requestAccess)
	cg.POST("/:id/modules", api.createModule, admin)
	cg.PUT("/:id/modules/order", api.reorderModules, admin)

	mg := g.Group("/modules", authed...)
	mg.PUT("/:id", api.updateModule, admin)
	mg.DELETE("/:id", api.destroyModule, admin)
	mg.POST("/:id/lessons", api.createLesson, admin)
	mg.PUT("/:id/lessons/order", api.reorderLessons, admin)

	lg := g.Group("/lessons", authed...)
	lg.GET("/:id", api.retrieveLesson)
	lg.PUT("/:id", api.updateLesson, admin)
	lg.DELETE("/:id", api.destroyLesson, admin)
	lg.POST("/:id/playback", api.reportPlayback)
	lg.POST("/:id/complete", api.completeLesson)
}

// Courses

func (api *courseApi) query(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	filter := &course.QueryFilter{
		Search:        ctx.QueryParam("search"),
		Category:      ctx.QueryParam("category"),
		Level:         ctx.QueryParam("level"),
		PublishedOnly: !usr.IsAdmin(),
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	courses, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying courses")
	}
	if courses == nil {
		courses = []course.Course{}
	}
	return ctx.JSON(http.StatusOK, courses)
}

func (api *courseApi) create(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var data course.NewCourse
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewCourse")
	}
	c, err := api.svc.Create(ctx.Request().Context(), data, usr.ID)
	if err != nil {
		return errors.Wrap(err, "creating course")
	}
	return ctx.JSON(http.StatusCreated, c)
}

func (api *courseApi) visibleCourse(ctx echo.Context) (course.Course, error) {
	usr, err := getContextUser(ctx)
	if err != nil {
		return course.Course{}, errors.Wrap(err, "getting context user")
	}
	return api.svc.GetVisible(ctx.Request().Context(), ctx.Param("id"), usr.IsAdmin())
}

func (api *courseApi) retrieve(ctx echo.Context) error {
	c, err := api.visibleCourse(ctx)
	if err != nil {
		return errors.Wrap(err, "finding course")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *courseApi) update(ctx echo.Context) error {
	c, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding course")
	}
	var data course.UpdateCourse
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateCourse")
	}
	c, err = api.svc.Update(ctx.Request().Context(), c, data)
	if err != nil {
		return errors.Wrap(err, "updating course")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *courseApi) destroy(ctx echo.Context) error {
	if err := api.svc.Delete(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting course")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// outline serves the course tree; lesson bodies are only included for admins,
// students read them one by one through the unlock gate.
func (api *courseApi) outline(ctx echo.Context) error {
	c, err := api.visibleCourse(ctx)
	if err != nil {
		return errors.Wrap(err, "finding course")
	}
	outline, err := api.svc.Outline(ctx.Request().Context(), c.ID)
	if err != nil {
		return errors.Wrap(err, "building outline")
	}

	usr, _ := getContextUser(ctx)
	if !usr.IsAdmin() {
		for mi := range outline.Modules {
			for li := range outline.Modules[mi].Lessons {
				outline.Modules[mi].Lessons[li].VideoURL = ""
				outline.Modules[mi].Lessons[li].Content = ""
			}
		}
	}
	return ctx.JSON(http.StatusOK, outline)
}

func (api *courseApi) progress(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	cp, err := api.progressSvc.CourseProgress(ctx.Request().Context(), usr.ID, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "computing course progress")
	}
	return ctx.JSON(http.StatusOK, cp)
}

func (api *courseApi) requestAccess(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var data enrollment.NewAccessRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAccessRequest")
	}
	req, err := api.enrollSvc.RequestAccess(ctx.Request().Context(), usr, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "requesting access")
	}
	return ctx.JSON(http.StatusCreated, req)
}

// Modules

func (api *courseApi) createModule(ctx echo.Context) error {
	var data course.NewModule
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewModule")
	}
	m, err := api.svc.CreateModule(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "creating module")
	}
	return ctx.JSON(http.StatusCreated, m)
}

func (api *courseApi) bindReorder(ctx echo.Context) (course.Reorder, error) {
	var data course.Reorder
	if err := ctx.Bind(&data); err != nil {
		return data, errors.Wrap(err, "binding to Reorder")
	}
	return data, api.validate.Struct(data)
}

func (api *courseApi) reorderModules(ctx echo.Context) error {
	data, err := api.bindReorder(ctx)
	if err != nil {
		return err
	}
	modules, err := api.svc.ReorderModules(ctx.Request().Context(), ctx.Param("id"), data.IDs)
	if err != nil {
		return errors.Wrap(err, "reordering modules")
	}
	return ctx.JSON(http.StatusOK, modules)
}

func (api *courseApi) updateModule(ctx echo.Context) error {
	m, err := api.svc.GetModule(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding module")
	}
	var data course.UpdateModule
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateModule")
	}
	m, err = api.svc.UpdateModule(ctx.Request().Context(), m, data)
	if err != nil {
		return errors.Wrap(err, "updating module")
	}
	return ctx.JSON(http.StatusOK, m)
}

func (api *courseApi) destroyModule(ctx echo.Context) error {
	if err := api.svc.DeleteModule(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting module")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Lessons

func (api *courseApi) createLesson(ctx echo.Context) error {
	var data course.NewLesson
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewLesson")
	}
	l, err := api.svc.CreateLesson(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "creating lesson")
	}
	return ctx.JSON(http.StatusCreated, l)
}

func (api *courseApi) reorderLessons(ctx echo.Context) error {
	data, err := api.bindReorder(ctx)
	if err != nil {
		return err
	}
	lessons, err := api.svc.ReorderLessons(ctx.Request().Context(), ctx.Param("id"), data.IDs)
	if err != nil {
		return errors.Wrap(err, "reordering lessons")
	}
	return ctx.JSON(http.StatusOK, lessons)
}

// retrieveLesson serves admins the raw lesson and students the gated view with their progress.
func (api *courseApi) retrieveLesson(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if usr.IsAdmin() {
		l, err := api.svc.GetLesson(ctx.Request().Context(), ctx.Param("id"))
		if err != nil {
			return errors.Wrap(err, "finding lesson")
		}
		return ctx.JSON(http.StatusOK, l)
	}

	view, err := api.progressSvc.Lesson(ctx.Request().Context(), usr.ID, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "loading lesson")
	}
	return ctx.JSON(http.StatusOK, view)
}

func (api *courseApi) updateLesson(ctx echo.Context) error {
	l, err := api.svc.GetLesson(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding lesson")
	}
	var data course.UpdateLesson
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateLesson")
	}
	l, err = api.svc.UpdateLesson(ctx.Request().Context(), l, data)
	if err != nil {
		return errors.Wrap(err, "updating lesson")
	}
	return ctx.JSON(http.StatusOK, l)
}

func (api *courseApi) destroyLesson(ctx echo.Context) error {
	if err := api.svc.DeleteLesson(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting lesson")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *courseApi) reportPlayback(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var data progress.Playback
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Playback")
	}
	res, err := api.progressSvc.ReportPlayback(ctx.Request().Context(), usr.ID, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "reporting playback")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *courseApi) completeLesson(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	res, err := api.progressSvc.CompleteText(ctx.Request().Context(), usr.ID, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "completing lesson")
	}
	return ctx.JSON(http.StatusOK, res)
}

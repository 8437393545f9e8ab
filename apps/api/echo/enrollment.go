package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/luxaar/luxaar/core/enrollment"
	"github.com/luxaar/luxaar/core/user"
)

type enrollmentApi struct {
	svc enrollment.ServiceInterface
}

func registerEnrollmentAPI(g *echo.Group, authed []echo.MiddlewareFunc, deps *Deps) {
	api := enrollmentApi{svc: deps.EnrollSvc}
	admin := adminMiddleware()

	rg := g.Group("/access-requests", authed...)
	rg.GET("", api.queryRequests)
	rg.GET("/:id", api.retrieveRequest)
	rg.POST("/:id/approve", api.approve, admin)
	rg.POST("/:id/reject", api.reject, admin)

	eg := g.Group("/enrollments", authed...)
	eg.GET("", api.query)
	eg.POST("", api.enroll, admin)
	eg.GET("/:id", api.retrieve)
	eg.DELETE("/:id", api.unenroll, admin)
}

// ownerOrAdmin reports whether usr may see a record owned by ownerID.
func ownerOrAdmin(usr user.User, ownerID string) bool {
	return usr.IsAdmin() || usr.ID == ownerID
}

// Access requests

// queryRequests lists every request for admins and the caller's own otherwise.
func (api *enrollmentApi) queryRequests(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	filter := enrollment.RequestFilter{
		UserID:   ctx.QueryParam("user_id"),
		CourseID: ctx.QueryParam("course_id"),
		Status:   ctx.QueryParam("status"),
	}
	if !usr.IsAdmin() {
		filter.UserID = usr.ID
	}

	reqs, err := api.svc.QueryAccessRequests(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying access requests")
	}
	if reqs == nil {
		reqs = []enrollment.AccessRequest{}
	}
	return ctx.JSON(http.StatusOK, reqs)
}

func (api *enrollmentApi) retrieveRequest(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	req, err := api.svc.GetAccessRequest(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding access request")
	}
	if !ownerOrAdmin(usr, req.UserID) {
		return errHttpNotFound
	}
	return ctx.JSON(http.StatusOK, req)
}

type ApprovalResponse struct {
	Request    enrollment.AccessRequest `json:"request"`
	Enrollment enrollment.Enrollment    `json:"enrollment"`
}

func (api *enrollmentApi) approve(ctx echo.Context) error {
	reviewer, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var data enrollment.Review
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Review")
	}
	req, enr, err := api.svc.Approve(ctx.Request().Context(), reviewer, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "approving access request")
	}
	return ctx.JSON(http.StatusOK, ApprovalResponse{Request: req, Enrollment: enr})
}

func (api *enrollmentApi) reject(ctx echo.Context) error {
	reviewer, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var data enrollment.Review
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Review")
	}
	req, err := api.svc.Reject(ctx.Request().Context(), reviewer, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "rejecting access request")
	}
	return ctx.JSON(http.StatusOK, req)
}

// Enrollments

func (api *enrollmentApi) query(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	filter := enrollment.QueryFilter{
		UserID:   ctx.QueryParam("user_id"),
		CourseID: ctx.QueryParam("course_id"),
		Status:   ctx.QueryParam("status"),
	}
	if !usr.IsAdmin() {
		filter.UserID = usr.ID
	}

	enrs, err := api.svc.Query(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying enrollments")
	}
	if enrs == nil {
		enrs = []enrollment.Enrollment{}
	}
	return ctx.JSON(http.StatusOK, enrs)
}

func (api *enrollmentApi) enroll(ctx echo.Context) error {
	var data enrollment.NewEnrollment
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewEnrollment")
	}
	enr, err := api.svc.Enroll(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "enrolling")
	}
	return ctx.JSON(http.StatusCreated, enr)
}

func (api *enrollmentApi) retrieve(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	enr, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding enrollment")
	}
	if !ownerOrAdmin(usr, enr.UserID) {
		return errHttpNotFound
	}
	return ctx.JSON(http.StatusOK, enr)
}

func (api *enrollmentApi) unenroll(ctx echo.Context) error {
	if err := api.svc.Unenroll(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "unenrolling")
	}
	return ctx.NoContent(http.StatusNoContent)
}

package echoapi

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/luxaar/luxaar/core/course"
	"github.com/luxaar/luxaar/core/enrollment"
	"github.com/luxaar/luxaar/core/support"
	"github.com/luxaar/luxaar/core/user"
)

type StatsResponse struct {
	Users              int `json:"users"`
	PendingUsers       int `json:"pending_users"`
	Courses            int `json:"courses"`
	Enrollments        int `json:"enrollments"`
	PendingRequests    int `json:"pending_requests"`
	OpenSupportTickets int `json:"open_support_messages"`
}

type adminApi struct {
	deps *Deps
}

func registerAdminAPI(g *echo.Group, authed []echo.MiddlewareFunc, deps *Deps) {
	api := adminApi{deps: deps}
	ag := g.Group("/admin", append(authed, adminMiddleware())...)
	ag.GET("/stats", api.stats)
}

func (api *adminApi) stats(ctx echo.Context) error {
	var (
		stats    StatsResponse
		inactive = false
		d        = api.deps
	)
	eg, egCtx := errgroup.WithContext(ctx.Request().Context())
	count := func(dst *int, fn func(context.Context) (int, error)) {
		eg.Go(func() (err error) {
			*dst, err = fn(egCtx)
			return err
		})
	}
	count(&stats.Users, func(c context.Context) (int, error) { return d.UserSvc.Count(c, nil) })
	count(&stats.PendingUsers, func(c context.Context) (int, error) {
		return d.UserSvc.Count(c, &user.QueryFilter{IsActive: &inactive})
	})
	count(&stats.Courses, func(c context.Context) (int, error) { return d.CourseSvc.Count(c, &course.QueryFilter{}) })
	count(&stats.Enrollments, func(c context.Context) (int, error) {
		return d.EnrollSvc.Count(c, enrollment.QueryFilter{})
	})
	count(&stats.PendingRequests, func(c context.Context) (int, error) {
		return d.EnrollSvc.CountAccessRequests(c, enrollment.RequestFilter{Status: enrollment.RequestPending})
	})
	count(&stats.OpenSupportTickets, func(c context.Context) (int, error) {
		return d.SupportSvc.Count(c, support.QueryFilter{Status: support.StatusOpen})
	})
	if err := eg.Wait(); err != nil {
		return errors.Wrap(err, "counting stats")
	}
	return ctx.JSON(http.StatusOK, stats)
}

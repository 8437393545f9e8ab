package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/luxaar/luxaar/core/support"
)

type supportApi struct {
	svc support.ServiceInterface
}

func registerSupportAPI(g *echo.Group, authed []echo.MiddlewareFunc, deps *Deps) {
	api := supportApi{svc: deps.SupportSvc}
	admin := adminMiddleware()

	sg := g.Group("/support", authed...)
	sg.POST("", api.create)
	sg.GET("", api.query)
	sg.GET("/:id", api.retrieve)
	sg.POST("/:id/reply", api.reply, admin)
	sg.POST("/:id/resolve", api.resolve, admin)
}

func (api *supportApi) create(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var data support.NewMessage
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewMessage")
	}
	msg, err := api.svc.Create(ctx.Request().Context(), usr, data)
	if err != nil {
		return errors.Wrap(err, "creating support message")
	}
	return ctx.JSON(http.StatusCreated, msg)
}

func (api *supportApi) query(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	filter := support.QueryFilter{Status: ctx.QueryParam("status")}
	if !usr.IsAdmin() {
		filter.UserID = usr.ID
	}
	msgs, err := api.svc.Query(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying support messages")
	}
	if msgs == nil {
		msgs = []support.Message{}
	}
	return ctx.JSON(http.StatusOK, msgs)
}

func (api *supportApi) retrieve(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	msg, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding support message")
	}
	if !ownerOrAdmin(usr, msg.UserID) {
		return errHttpNotFound
	}
	return ctx.JSON(http.StatusOK, msg)
}

func (api *supportApi) reply(ctx echo.Context) error {
	admin, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var data support.Reply
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Reply")
	}
	msg, err := api.svc.Reply(ctx.Request().Context(), admin, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "replying to support message")
	}
	return ctx.JSON(http.StatusOK, msg)
}

func (api *supportApi) resolve(ctx echo.Context) error {
	msg, err := api.svc.Resolve(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "resolving support message")
	}
	return ctx.JSON(http.StatusOK, msg)
}

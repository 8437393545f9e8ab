package echoapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/luxaar/luxaar/core"
	"github.com/luxaar/luxaar/core/aichat"
)

type aichatApi struct {
	svc    aichat.ServiceInterface
	logger core.Logger
}

func registerAIChatAPI(g *echo.Group, authed []echo.MiddlewareFunc, deps *Deps) {
	api := aichatApi{svc: deps.AIChatSvc, logger: deps.Logger}
	limiter := newUserRateLimiter(deps.Conf.AI.RatePerMinute)
	admin := adminMiddleware()

	ag := g.Group("/ai", authed...)
	ag.POST("/chat", api.chat, limiter.middleware())
	ag.GET("/sessions", api.sessions)
	ag.GET("/sessions/:id", api.session)
	ag.DELETE("/sessions/:id", api.deleteSession)
	ag.GET("/health", api.health)
	ag.GET("/models", api.models)
	ag.GET("/settings", api.settings, admin)
	ag.PUT("/settings", api.updateSettings, admin)
}

// sseWriter writes chat events as server-sent events.
// Headers go out with the first event so errors raised before it still get a JSON response.
type sseWriter struct {
	res     *echo.Response
	started bool
}

func (w *sseWriter) emit(ev aichat.Event) error {
	if !w.started {
		h := w.res.Header()
		h.Set(echo.HeaderContentType, "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		w.res.WriteHeader(http.StatusOK)
		w.started = true
	}

	data, err := json.Marshal(ev.Data)
	if err != nil {
		return errors.Wrap(err, "marshalling event")
	}
	if _, err = fmt.Fprintf(w.res, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return err
	}
	w.res.Flush()
	return nil
}

func (api *aichatApi) chat(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var data aichat.ChatRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ChatRequest")
	}

	w := &sseWriter{res: ctx.Response()}
	sess, _, err := api.svc.Chat(ctx.Request().Context(), usr.ID, data, w.emit)
	if err != nil {
		if !w.started {
			return errors.Wrap(err, "chatting")
		}
		// already reported to the client as an error event
		api.logger.Error(fmt.Sprintf("chat session %s: %v", sess.ID, err), err, usr)
	}
	return nil
}

func (api *aichatApi) sessions(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	sessions, err := api.svc.Sessions(ctx.Request().Context(), usr.ID, queryInt(ctx, "limit"))
	if err != nil {
		return errors.Wrap(err, "listing chat sessions")
	}
	if sessions == nil {
		sessions = []aichat.Session{}
	}
	return ctx.JSON(http.StatusOK, sessions)
}

func (api *aichatApi) session(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	sess, err := api.svc.Session(ctx.Request().Context(), usr.ID, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding chat session")
	}
	return ctx.JSON(http.StatusOK, sess)
}

func (api *aichatApi) deleteSession(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if err = api.svc.DeleteSession(ctx.Request().Context(), usr.ID, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting chat session")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *aichatApi) health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.svc.Health(ctx.Request().Context()))
}

func (api *aichatApi) models(ctx echo.Context) error {
	models, err := api.svc.Models(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "listing models")
	}
	return ctx.JSON(http.StatusOK, models)
}

func (api *aichatApi) settings(ctx echo.Context) error {
	s, err := api.svc.Settings(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "getting ai settings")
	}
	return ctx.JSON(http.StatusOK, s)
}

func (api *aichatApi) updateSettings(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var data aichat.UpdateSettings
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateSettings")
	}
	s, err := api.svc.UpdateSettings(ctx.Request().Context(), usr.ID, data)
	if err != nil {
		return errors.Wrap(err, "updating ai settings")
	}
	return ctx.JSON(http.StatusOK, s)
}

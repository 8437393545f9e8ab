package echoapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/luxaar/luxaar/core"
	"github.com/luxaar/luxaar/core/notification"
	"github.com/luxaar/luxaar/services/metrics"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// websocket messages
const (
	wsTypeUnreadCount  = "unread_count"
	wsTypeNotification = "notification"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the token query param authenticates the socket, origins are checked by CORS for the REST API
	CheckOrigin: func(*http.Request) bool { return true },
}

type notificationApi struct {
	svc     notification.ServiceInterface
	metrics *metrics.Metrics
	logger  core.Logger
}

type WSMessage struct {
	Type         string                     `json:"type"`
	Count        int                        `json:"count,omitempty"`
	Notification *notification.Notification `json:"notification,omitempty"`
}

func registerNotificationAPI(g *echo.Group, authed []echo.MiddlewareFunc, auth *authenticator, deps *Deps) {
	api := notificationApi{svc: deps.NotifSvc, metrics: deps.Metrics, logger: deps.Logger}

	// browsers cannot set headers on a websocket handshake
	g.GET("/notifications/ws", api.websocket, auth.jwtFromQuery(), auth.requireUser(deps.UserSvc))

	ng := g.Group("/notifications", authed...)
	ng.GET("", api.list)
	ng.GET("/unread-count", api.unreadCount)
	ng.POST("/read-all", api.markAllRead)
	ng.POST("/:id/read", api.markRead)
	ng.DELETE("/:id", api.destroy)
}

func (api *notificationApi) list(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	filter := notification.QueryFilter{UserID: usr.ID, Limit: queryInt(ctx, "limit")}
	if unread := queryBool(ctx, "unread"); unread != nil {
		filter.UnreadOnly = *unread
	}
	ns, err := api.svc.List(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "listing notifications")
	}
	if ns == nil {
		ns = []notification.Notification{}
	}
	return ctx.JSON(http.StatusOK, ns)
}

func (api *notificationApi) unreadCount(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	n, err := api.svc.UnreadCount(ctx.Request().Context(), usr.ID)
	if err != nil {
		return errors.Wrap(err, "counting unread notifications")
	}
	return ctx.JSON(http.StatusOK, CountResponse{Count: n})
}

func (api *notificationApi) markRead(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if err = api.svc.MarkRead(ctx.Request().Context(), usr.ID, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "marking notification read")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: "Notification marked as read."})
}

func (api *notificationApi) markAllRead(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	n, err := api.svc.MarkAllRead(ctx.Request().Context(), usr.ID)
	if err != nil {
		return errors.Wrap(err, "marking all notifications read")
	}
	return ctx.JSON(http.StatusOK, CountResponse{Count: int(n)})
}

func (api *notificationApi) destroy(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if err = api.svc.Delete(ctx.Request().Context(), usr.ID, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting notification")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// websocket pushes the user's notifications as they are created.
// The first message is the unread count, sent once the subscription is live.
func (api *notificationApi) websocket(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	subCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, unsubscribe, err := api.svc.Subscribe(subCtx, usr.ID)
	if err != nil {
		return errors.Wrap(err, "subscribing to notifications")
	}
	defer unsubscribe()

	conn, err := upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		// the upgrader already replied
		api.logger.Debug("websocket upgrade failed: " + err.Error())
		return nil
	}
	//goland:noinspection GoUnhandledErrorResult
	defer conn.Close()

	if api.metrics != nil {
		api.metrics.WebsocketOpened()
		defer api.metrics.WebsocketClosed()
	}

	count, err := api.svc.UnreadCount(subCtx, usr.ID)
	if err != nil {
		api.logger.Error("counting unread notifications: "+err.Error(), err, usr)
	}
	if err = writeWS(conn, WSMessage{Type: wsTypeUnreadCount, Count: count}); err != nil {
		return nil
	}

	// clients only send control frames; reading detects the close
	go func() {
		defer cancel()
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-subCtx.Done():
			return nil
		case n, ok := <-ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(wsWriteWait))
				return nil
			}
			if err := writeWS(conn, WSMessage{Type: wsTypeNotification, Notification: &n}); err != nil {
				return nil
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return nil
			}
		}
	}
}

func writeWS(conn *websocket.Conn, msg WSMessage) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}

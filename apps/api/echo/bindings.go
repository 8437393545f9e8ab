package echoapi

import (
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/luxaar/luxaar/core"
)

var orderingParam = "ordering"

type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	val := ctx.QueryParam(orderingParam)
	if val == "" {
		return
	}

	for _, field := range strings.Split(val, ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		if field != "" {
			ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
		}
	}
}

// query param helpers: malformed values are ignored like missing ones

func queryBool(ctx echo.Context, name string) *bool {
	b, err := strconv.ParseBool(ctx.QueryParam(name))
	if err != nil {
		return nil
	}
	return &b
}

func queryInt(ctx echo.Context, name string) int {
	n, _ := strconv.Atoi(ctx.QueryParam(name))
	return n
}

func queryTime(ctx echo.Context, name string) time.Time {
	t, err := time.Parse(time.RFC3339, ctx.QueryParam(name))
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func queryStrings(ctx echo.Context, name string) []string {
	var out []string
	for _, v := range ctx.QueryParams()[name] {
		if v = core.CleanString(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

type (
	SuccessResponse struct {
		Success string `json:"success"`
	}

	CountResponse struct {
		Count int `json:"count"`
	}
)

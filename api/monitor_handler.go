package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/getshortzy/clipqueue/monitor"
)

func (a *API) performanceSummary(c echo.Context) error {
	w, err := monitor.ParseWindow(c.QueryParam("window"))
	if err != nil {
		return a.fail(c, err)
	}
	sum, err := a.eng.Monitor().GetPerformanceSummary(c.Request().Context(), w)
	if err != nil {
		return a.fail(c, err)
	}
	return c.JSON(http.StatusOK, sum)
}

func (a *API) systemHealth(c echo.Context) error {
	h, err := a.eng.Monitor().GetSystemHealth(c.Request().Context())
	if err != nil {
		return a.fail(c, err)
	}
	return c.JSON(http.StatusOK, h)
}

func (a *API) bottlenecks(c echo.Context) error {
	bs, err := a.eng.Monitor().IdentifyBottlenecks(c.Request().Context())
	if err != nil {
		return a.fail(c, err)
	}
	if bs == nil {
		bs = []monitor.Bottleneck{}
	}
	return c.JSON(http.StatusOK, map[string][]monitor.Bottleneck{"bottlenecks": bs})
}

func (a *API) counters(c echo.Context) error {
	return c.JSON(http.StatusOK, a.eng.Metrics().Totals())
}

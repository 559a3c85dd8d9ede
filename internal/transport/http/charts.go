package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
)

// cyclesChart renders cycle history (daily P&L and duration) as an
// echarts page for quick operator inspection.
func (h *handlers) cyclesChart(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	recs, err := h.store.ListCycleResults(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	// Newest first in the store; plot oldest to newest.
	labels := make([]string, 0, len(recs))
	pnl := make([]opts.LineData, 0, len(recs))
	dur := make([]opts.BarData, 0, len(recs))
	for i := len(recs) - 1; i >= 0; i-- {
		r := recs[i]
		labels = append(labels, r.StartedAt.Format("01-02 15:04"))
		pnl = append(pnl, opts.LineData{Value: r.DailyPnL})
		dur = append(dur, opts.BarData{Value: r.Duration.Milliseconds()})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:     types.ThemeWesteros,
			PageTitle: "vigil cycles",
			Width:     "1400px",
			Height:    "420px",
		}),
		charts.WithTitleOpts(opts.Title{Title: "Daily P&L by cycle"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
	)
	line.SetXAxis(labels).AddSeries("daily_pnl", pnl)

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "1400px", Height: "320px"}),
		charts.WithTitleOpts(opts.Title{Title: "Cycle duration (ms)"}),
	)
	bar.SetXAxis(labels).AddSeries("duration_ms", dur)

	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := line.Render(c.Writer); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	_ = bar.Render(c.Writer)
}

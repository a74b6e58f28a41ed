// Package render draws coverage plans for operators: an interactive HTML
// chart for the web UI and a static PNG for reports and the CLI.
package render

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/coverage.explorer/internal/coverage"
)

// ErrEmptyPlan is returned when there is nothing to draw.
var ErrEmptyPlan = errors.New("plan has no waypoints")

// Options tweak a rendering. The zero value is usable.
type Options struct {
	Title string
	// Robot marks the robot's position when set.
	Robot *r3.Vec
	// AssetsHost overrides where the HTML page loads echarts from.
	AssetsHost string
}

func (o Options) title(plan coverage.Plan) string {
	if o.Title != "" {
		return o.Title
	}
	return fmt.Sprintf("Coverage plan (%s)", plan.Boundary.Frame)
}

// bounds returns a square extent around everything drawn, so the chart
// keeps metric proportions.
func bounds(plan coverage.Plan, robot *r3.Vec) (minX, maxX, minY, maxY float64) {
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	grow := func(p r3.Vec) {
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}
	for _, p := range plan.Boundary.Points {
		grow(p)
	}
	for _, wp := range plan.Waypoints {
		grow(wp.Position)
	}
	if robot != nil {
		grow(*robot)
	}

	span := math.Max(maxX-minX, maxY-minY)*1.1 + 1
	cx, cy := (minX+maxX)/2, (minY+maxY)/2
	return cx - span/2, cx + span/2, cy - span/2, cy + span/2
}

func closed(points []r3.Vec) []r3.Vec {
	if len(points) == 0 {
		return nil
	}
	return append(append([]r3.Vec(nil), points...), points[0])
}

func lineData(points []r3.Vec) []opts.LineData {
	data := make([]opts.LineData, 0, len(points))
	for _, p := range points {
		data = append(data, opts.LineData{Value: []interface{}{p.X, p.Y}})
	}
	return data
}

// PlanHTML writes a self-contained HTML page charting the boundary, the
// padded area, and the sweep path.
func PlanHTML(w io.Writer, plan coverage.Plan, o Options) error {
	if len(plan.Waypoints) == 0 {
		return ErrEmptyPlan
	}
	minX, maxX, minY, maxY := bounds(plan, o.Robot)

	init := opts.Initialization{PageTitle: o.title(plan), Theme: "dark", Width: "900px", Height: "900px"}
	if o.AssetsHost != "" {
		init.AssetsHost = o.AssetsHost
	}
	chart := charts.NewLine()
	chart.SetGlobalOptions(
		charts.WithInitializationOpts(init),
		charts.WithTitleOpts(opts.Title{
			Title:    o.title(plan),
			Subtitle: fmt.Sprintf("waypoints=%d area=%.1f m²", len(plan.Waypoints), coverage.Area(plan.Boundary.Polygon())),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Min: minX, Max: maxX, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Min: minY, Max: maxY, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
	)

	path := make([]r3.Vec, 0, len(plan.Waypoints))
	for _, wp := range plan.Waypoints {
		path = append(path, wp.Position)
	}
	chart.AddSeries("boundary", lineData(closed(plan.Boundary.Polygon())),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithLineStyleOpts(opts.LineStyle{Width: 2}))
	chart.AddSeries("padded", lineData(closed(plan.Padded.PolygonSlice())),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithLineStyleOpts(opts.LineStyle{Width: 1, Type: "dashed"}))
	chart.AddSeries("sweep", lineData(path),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true)}),
		charts.WithLineStyleOpts(opts.LineStyle{Width: 1}))
	if o.Robot != nil {
		chart.AddSeries("robot", []opts.LineData{{Value: []interface{}{o.Robot.X, o.Robot.Y}, SymbolSize: 14}})
	}
	return chart.Render(w)
}

// PlanPlot builds a gonum plot of plan.
func PlanPlot(plan coverage.Plan, o Options) (*plot.Plot, error) {
	if len(plan.Waypoints) == 0 {
		return nil, ErrEmptyPlan
	}
	p := plot.New()
	p.Title.Text = o.title(plan)
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"
	p.X.Min, p.X.Max, p.Y.Min, p.Y.Max = bounds(plan, o.Robot)
	p.Add(plotter.NewGrid())

	outline := func(points []r3.Vec, c color.Color, width vg.Length, dashed bool) (*plotter.Line, error) {
		line, err := plotter.NewLine(xys(points))
		if err != nil {
			return nil, err
		}
		line.Color = c
		line.Width = width
		if dashed {
			line.Dashes = []vg.Length{vg.Points(4), vg.Points(3)}
		}
		return line, nil
	}

	boundary, err := outline(closed(plan.Boundary.Polygon()), color.RGBA{R: 200, G: 40, B: 40, A: 255}, vg.Points(2), false)
	if err != nil {
		return nil, err
	}
	padded, err := outline(closed(plan.Padded.PolygonSlice()), color.RGBA{R: 230, G: 150, B: 30, A: 255}, vg.Points(1), true)
	if err != nil {
		return nil, err
	}
	path := make([]r3.Vec, 0, len(plan.Waypoints))
	for _, wp := range plan.Waypoints {
		path = append(path, wp.Position)
	}
	sweep, err := outline(path, color.RGBA{R: 40, G: 90, B: 200, A: 255}, vg.Points(1), false)
	if err != nil {
		return nil, err
	}
	points, err := plotter.NewScatter(xys(path))
	if err != nil {
		return nil, err
	}
	points.Color = sweep.Color
	points.Radius = vg.Points(1.5)

	p.Add(boundary, padded, sweep, points)
	p.Legend.Add("boundary", boundary)
	p.Legend.Add("padded", padded)
	p.Legend.Add("sweep", sweep)

	if o.Robot != nil {
		robot, err := plotter.NewScatter(plotter.XYs{{X: o.Robot.X, Y: o.Robot.Y}})
		if err != nil {
			return nil, err
		}
		robot.Color = color.Black
		robot.Radius = vg.Points(5)
		p.Add(robot)
		p.Legend.Add("robot", robot)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// WritePlanPNG renders plan as a size×size PNG.
func WritePlanPNG(w io.Writer, plan coverage.Plan, size vg.Length, o Options) error {
	p, err := PlanPlot(plan, o)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(size, size, "png")
	if err != nil {
		return fmt.Errorf("failed to create png writer: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// SavePlanPNG writes plan to path. The format follows the extension.
func SavePlanPNG(path string, plan coverage.Plan, o Options) error {
	p, err := PlanPlot(plan, o)
	if err != nil {
		return err
	}
	if err := p.Save(8*vg.Inch, 8*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save plot %s: %w", path, err)
	}
	return nil
}

func xys(points []r3.Vec) plotter.XYs {
	out := make(plotter.XYs, len(points))
	for i, p := range points {
		out[i] = plotter.XY{X: p.X, Y: p.Y}
	}
	return out
}

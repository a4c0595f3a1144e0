package lens

import (
	"fmt"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

const htmlChartWidth = "100%"

// RenderChartHTML writes the chart as an interactive echarts html page.
func RenderChartHTML(w io.Writer, spec ChartSpec, title string) error {
	height := "500px"
	if spec.Options.Height > 0 {
		height = strconv.Itoa(spec.Options.Height) + "px"
	}
	initOpts := opts.Initialization{Width: htmlChartWidth, Height: height, PageTitle: title}

	var err error
	switch spec.Kind {
	case ChartKindPie:
		err = newHTMLPie(spec, title, initOpts).Render(w)
	case ChartKindTreeMap:
		err = newHTMLTreeMap(spec, title, initOpts).Render(w)
	case ChartKindArea:
		err = newHTMLTrend(spec, title, initOpts).Render(w)
	default:
		return fmt.Errorf("unhandled chart kind: %s", spec.Kind)
	}
	if err != nil {
		return fmt.Errorf("render html chart failed: %w", err)
	}
	return nil
}

func newHTMLPie(spec ChartSpec, title string, initOpts opts.Initialization) *charts.Pie {
	pie := charts.NewPie()
	pie.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts),
		charts.WithTitleOpts(opts.Title{Title: title, Left: "center"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "item"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
	)

	colors := []string{"#3CB371", "#FF0000", "#FFCC00"}
	data := make([]opts.PieData, len(spec.Rows))
	for i := range spec.Rows {
		data[i] = opts.PieData{
			Name:      spec.rowLabel(i),
			Value:     spec.rowNumber(i, 1),
			ItemStyle: &opts.ItemStyle{Color: colors[i%len(colors)]},
		}
	}
	pie.AddSeries("Tests", data).
		SetSeriesOptions(
			charts.WithLabelOpts(opts.Label{
				Show:      opts.Bool(true),
				Formatter: "{b}: {c} ({d}%)",
			}),
		)
	return pie
}

func newHTMLTreeMap(spec ChartSpec, title string, initOpts opts.Initialization) *charts.TreeMap {
	tm := charts.NewTreeMap()
	tm.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: "Grouped by package and class", Left: "center"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "item"}),
	)

	tm.AddSeries(detailRootLabel, treeMapNodes(spec), charts.WithTreeMapOpts(opts.TreeMapChart{
		Animation:      opts.Bool(true),
		Roam:           opts.Bool(true),
		ColorMappingBy: "value",
		Label:          &opts.Label{Show: opts.Bool(true), Formatter: "{b}"},
		UpperLabel:     &opts.UpperLabel{Show: opts.Bool(true)},
		Levels: &[]opts.TreeMapLevel{
			{
				ItemStyle:  &opts.ItemStyle{BorderColor: "#555", BorderWidth: 2, GapWidth: 2},
				UpperLabel: &opts.UpperLabel{Show: opts.Bool(true)},
			},
			{
				ItemStyle:  &opts.ItemStyle{BorderColor: "#999", BorderWidth: 1, GapWidth: 1},
				UpperLabel: &opts.UpperLabel{Show: opts.Bool(true)},
			},
			{
				ColorSaturation: []float32{0.35, 0.75},
				ItemStyle:       &opts.ItemStyle{Color: spec.Options.MaxColor},
			},
		},
		Left: "2%", Right: "2%", Top: "12%", Bottom: "2%",
	}))
	return tm
}

// treeMapNodes rebuilds the package, class, and method hierarchy from the parent links of detail rows. The root row
// is omitted since echarts draws the series itself as the root.
func treeMapNodes(spec ChartSpec) []opts.TreeMapNode {
	sizes := treeMapSubtreeSizes(spec)
	children := make(map[string][]int, len(spec.Rows))
	for i, row := range spec.Rows {
		if len(row) > 1 {
			if parent, ok := row[1].(string); ok {
				children[parent] = append(children[parent], i)
			}
		}
	}
	var build func(label string, depth int) []opts.TreeMapNode
	build = func(label string, depth int) []opts.TreeMapNode {
		if depth > 3 { // root, package, class, method
			return nil
		}
		nodes := make([]opts.TreeMapNode, 0, len(children[label]))
		for _, i := range children[label] {
			childLabel := spec.rowLabel(i)
			node := opts.TreeMapNode{Name: childLabel, Value: sizes[i]}
			if childLabel != label {
				node.Children = build(childLabel, depth+1)
			}
			nodes = append(nodes, node)
		}
		return nodes
	}
	return build(detailRootLabel, 1)
}

func newHTMLTrend(spec ChartSpec, title string, initOpts opts.Initialization) *charts.Line {
	xAxisName, yAxisName := "", ""
	if spec.Options.HAxis != nil {
		xAxisName = spec.Options.HAxis.Title
	}
	if spec.Options.VAxis != nil {
		yAxisName = spec.Options.VAxis.Title
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts),
		charts.WithTitleOpts(opts.Title{Title: title, Left: "center"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Name: xAxisName}),
		charts.WithYAxisOpts(opts.YAxis{Name: yAxisName}),
	)

	labels := make([]string, len(spec.Rows))
	for i := range spec.Rows {
		labels[i] = strconv.Itoa(int(spec.rowNumber(i, 0)))
	}
	line.SetXAxis(labels)

	stack := ""
	if spec.Options.IsStacked != nil && *spec.Options.IsStacked {
		stack = "total"
	}
	symbolSize := 8
	if spec.Options.PointSize > 0 {
		symbolSize = spec.Options.PointSize
	}
	colors := []string{"#3CB371", "#FF0000", "#FFCC00"}
	for col := 1; col < len(spec.Columns); col++ {
		data := make([]opts.LineData, len(spec.Rows))
		for i := range spec.Rows {
			data[i] = opts.LineData{Value: spec.rowNumber(i, col), SymbolSize: symbolSize}
		}
		line.AddSeries(spec.Columns[col].Label, data,
			charts.WithLineChartOpts(opts.LineChart{Stack: stack, ShowSymbol: opts.Bool(true)}),
			charts.WithAreaStyleOpts(opts.AreaStyle{Opacity: opts.Float(0.6)}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: colors[(col-1)%len(colors)]}),
		)
	}
	return line
}

package lens

// ChartArea sets the relative size of the plot area within the chart.
type ChartArea struct {
	Width  string `json:"width,omitempty"`
	Height string `json:"height,omitempty"`
}

// AxisOptions configures a chart axis. Zero values are treated as unset when merging.
type AxisOptions struct {
	Title          string `json:"title,omitempty"`
	ViewWindowMode string `json:"viewWindowMode,omitempty"`
	Gridlines      int    `json:"gridlinesCount,omitempty"`
}

// ChartOptions holds the rendering options passed along with a ChartSpec. Nil pointer and empty string fields are
// unset, allowing a shared base to be combined with per chart overrides through Merge.
type ChartOptions struct {
	Displayed          *bool        `json:"displayed,omitempty"`
	Height             int          `json:"height,omitempty"` // pixels
	Fill               int          `json:"fill,omitempty"`
	DisplayExactValues *bool        `json:"displayExactValues,omitempty"`
	ChartArea          *ChartArea   `json:"chartArea,omitempty"`
	MinColor           string       `json:"minColor,omitempty"`
	MidColor           string       `json:"midColor,omitempty"`
	MaxColor           string       `json:"maxColor,omitempty"`
	HAxis              *AxisOptions `json:"hAxis,omitempty"`
	VAxis              *AxisOptions `json:"vAxis,omitempty"`
	PointSize          int          `json:"pointSize,omitempty"`
	IsStacked          *bool        `json:"isStacked,omitempty"`
}

// Merge returns a new ChartOptions starting from a copy of the receiver with every set field of the override
// applied. Neither input is modified and the result shares no pointers with them.
func (o ChartOptions) Merge(override ChartOptions) ChartOptions {
	result := o.clone()
	if override.Displayed != nil {
		result.Displayed = ptr(*override.Displayed)
	}
	if override.Height != 0 {
		result.Height = override.Height
	}
	if override.Fill != 0 {
		result.Fill = override.Fill
	}
	if override.DisplayExactValues != nil {
		result.DisplayExactValues = ptr(*override.DisplayExactValues)
	}
	if override.ChartArea != nil {
		area := ChartArea{}
		if result.ChartArea != nil {
			area = *result.ChartArea
		}
		if override.ChartArea.Width != "" {
			area.Width = override.ChartArea.Width
		}
		if override.ChartArea.Height != "" {
			area.Height = override.ChartArea.Height
		}
		result.ChartArea = &area
	}
	if override.MinColor != "" {
		result.MinColor = override.MinColor
	}
	if override.MidColor != "" {
		result.MidColor = override.MidColor
	}
	if override.MaxColor != "" {
		result.MaxColor = override.MaxColor
	}
	result.HAxis = mergeAxis(result.HAxis, override.HAxis)
	result.VAxis = mergeAxis(result.VAxis, override.VAxis)
	if override.PointSize != 0 {
		result.PointSize = override.PointSize
	}
	if override.IsStacked != nil {
		result.IsStacked = ptr(*override.IsStacked)
	}
	return result
}

func (o ChartOptions) clone() ChartOptions {
	c := o
	if o.Displayed != nil {
		c.Displayed = ptr(*o.Displayed)
	}
	if o.DisplayExactValues != nil {
		c.DisplayExactValues = ptr(*o.DisplayExactValues)
	}
	if o.ChartArea != nil {
		c.ChartArea = ptr(*o.ChartArea)
	}
	if o.HAxis != nil {
		c.HAxis = ptr(*o.HAxis)
	}
	if o.VAxis != nil {
		c.VAxis = ptr(*o.VAxis)
	}
	if o.IsStacked != nil {
		c.IsStacked = ptr(*o.IsStacked)
	}
	return c
}

func mergeAxis(base, override *AxisOptions) *AxisOptions {
	if override == nil {
		return base
	}
	axis := AxisOptions{}
	if base != nil {
		axis = *base
	}
	if override.Title != "" {
		axis.Title = override.Title
	}
	if override.ViewWindowMode != "" {
		axis.ViewWindowMode = override.ViewWindowMode
	}
	if override.Gridlines != 0 {
		axis.Gridlines = override.Gridlines
	}
	return &axis
}

func ptr[T any](v T) *T {
	return &v
}

// BaseChartOptions are shared by every dashboard chart.
func BaseChartOptions() ChartOptions {
	return ChartOptions{
		Displayed: ptr(true),
		Height:    500,
	}
}

func plotChartOptions() ChartOptions {
	return BaseChartOptions().Merge(ChartOptions{
		Fill:               20,
		DisplayExactValues: ptr(true),
		ChartArea:          &ChartArea{Width: "90%", Height: "90%"},
	})
}

// PieChartOptions are the options of the summary chart.
func PieChartOptions() ChartOptions {
	return plotChartOptions()
}

// FailedTreeMapOptions are the options of the failed test drill-down, colored orange to red.
func FailedTreeMapOptions() ChartOptions {
	return plotChartOptions().Merge(ChartOptions{
		MinColor: "#FFCC99",
		MidColor: "#FF6600",
		MaxColor: "#FF0000",
	})
}

// IgnoredTreeMapOptions are the options of the ignored test drill-down, colored yellow to orange.
func IgnoredTreeMapOptions() ChartOptions {
	return plotChartOptions().Merge(ChartOptions{
		MinColor: "#FFFF66",
		MidColor: "#FFCC00",
		MaxColor: "#FF9900",
	})
}

// TrendChartOptions are the options of the build trend chart.
func TrendChartOptions() ChartOptions {
	return BaseChartOptions().Merge(ChartOptions{
		Fill:               20,
		DisplayExactValues: ptr(true),
		HAxis: &AxisOptions{
			Title:          "Id of the build",
			ViewWindowMode: "maximized",
			Gridlines:      5,
		},
		VAxis:     &AxisOptions{Title: "Number of tests"},
		PointSize: 8,
		IsStacked: ptr(true),
	})
}

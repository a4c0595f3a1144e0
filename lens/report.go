package lens

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-analyze/charts"
)

const (
	detailTableMaxRecords = 24
	detailErrorMaxRunes   = 60
)

var errNoChartData = errors.New("chart has no data")

var (
	passedColor  = charts.ColorGreenAlt1
	failedColor  = charts.ColorRed
	ignoredColor = charts.Color{ /* Golden yellow */ R: 220, G: 210, B: 100, A: 255}
)

// ChartOutputForPath returns the image output format for the file extension of path.
func ChartOutputForPath(path string) (string, error) {
	if strings.HasSuffix(path, ".png") {
		return charts.ChartOutputPNG, nil
	} else if strings.HasSuffix(path, ".jpg") || strings.HasSuffix(path, ".jpeg") {
		return charts.ChartOutputJPG, nil
	} else if strings.HasSuffix(path, ".svg") {
		return charts.ChartOutputSVG, nil
	}
	return "", fmt.Errorf("unhandled chart file type: %s", path)
}

// WriteChartImage renders the chart to the image file at path, the format is selected by the file extension.
func WriteChartImage(path string, spec ChartSpec, errorByLabel map[string]string, title string) error {
	outputType, err := ChartOutputForPath(path)
	if err != nil {
		return err
	}
	if buf, err := RenderChartImage(spec, errorByLabel, title, outputType); err != nil {
		return fmt.Errorf("render chart failed: %w", err)
	} else if err = os.WriteFile(path, buf, 0644); err != nil {
		return fmt.Errorf("write chart file failed: %w", err)
	}
	return nil
}

// RenderChartImage renders a chart spec as a static image. Pie specs render as a pie, area specs as filled stacked
// lines, and treemap specs as a table of the failing test methods since a static treemap can't be explored.
func RenderChartImage(spec ChartSpec, errorByLabel map[string]string, title, outputFormat string) ([]byte, error) {
	height := 500
	if spec.Options.Height > 0 {
		height = spec.Options.Height
	}
	p := charts.NewPainter(charts.PainterOptions{
		OutputFormat: outputFormat,
		Width:        800,
		Height:       height,
	})
	p.FilledRect(0, 0, p.Width(), p.Height(), charts.ColorWhite, charts.ColorWhite, 0)

	var err error
	switch spec.Kind {
	case ChartKindPie:
		err = renderPieToPainter(p, spec, title)
	case ChartKindArea:
		err = renderTrendToPainter(p, spec, title)
	case ChartKindTreeMap:
		err = renderDetailTableToPainter(p, spec, errorByLabel, title)
	default:
		err = fmt.Errorf("unhandled chart kind: %s", spec.Kind)
	}
	if errors.Is(err, errNoChartData) {
		renderCenteredText(p, "No Tests Recorded")
	} else if err != nil {
		return nil, err
	}
	return p.Bytes()
}

func chartFont(size float64) charts.FontStyle {
	return charts.FontStyle{
		FontSize:  size,
		FontColor: charts.ColorBlack,
		Font:      charts.GetDefaultFont(),
	}
}

func renderCenteredText(p *charts.Painter, text string) {
	font := chartFont(16)
	textBox := p.MeasureText(text, 0, font)
	p.Text(text, (p.Width()-textBox.Width())/2, p.Height()/2, 0, font)
}

func renderPieToPainter(p *charts.Painter, spec ChartSpec, title string) error {
	values := make([]float64, len(spec.Rows))
	names := make([]string, len(spec.Rows))
	var total float64
	for i := range spec.Rows {
		names[i] = spec.rowLabel(i)
		values[i] = spec.rowNumber(i, 1)
		total += values[i]
	}
	if total == 0 {
		return errNoChartData // pie charts can't render an empty sum
	}

	opt := charts.NewPieChartOptionWithData(values)
	opt.Theme = charts.GetTheme(charts.ThemeLight).
		WithBackgroundColor(charts.ColorTransparent).
		WithSeriesColors([]charts.Color{passedColor, failedColor, ignoredColor})
	opt.Title.Text = title
	opt.Legend.SeriesNames = names
	if err := p.PieChart(opt); err != nil {
		return fmt.Errorf("error rendering chart: %w", err)
	}
	return nil
}

// renderTrendToPainter renders the passed, failed, and ignored counts as cumulative filled lines. The largest
// cumulative series is drawn first so each smaller series fills over it, producing a stacked area.
func renderTrendToPainter(p *charts.Painter, spec ChartSpec, title string) error {
	if len(spec.Rows) == 0 {
		return errNoChartData
	}
	labels := make([]string, len(spec.Rows))
	passed := make([]float64, len(spec.Rows))
	failed := make([]float64, len(spec.Rows))
	total := make([]float64, len(spec.Rows))
	for i := range spec.Rows {
		labels[i] = strconv.Itoa(int(spec.rowNumber(i, 0)))
		passed[i] = spec.rowNumber(i, 1)
		failed[i] = passed[i] + spec.rowNumber(i, 2)
		total[i] = failed[i] + spec.rowNumber(i, 3)
	}

	opt := charts.NewLineChartOptionWithData([][]float64{total, failed, passed})
	opt.Theme = charts.GetTheme(charts.ThemeLight).
		WithBackgroundColor(charts.ColorTransparent).
		WithSeriesColors([]charts.Color{ignoredColor, failedColor, passedColor})
	opt.Title.Text = title
	opt.FillArea = charts.Ptr(true)
	opt.XAxis.Labels = labels
	opt.Legend.SeriesNames = []string{"Ignored", "Failed", "Passed"}
	if err := p.LineChart(opt); err != nil {
		return fmt.Errorf("error rendering chart: %w", err)
	}
	return nil
}

func renderDetailTableToPainter(p *charts.Painter, spec ChartSpec, errorByLabel map[string]string, title string) error {
	parents := make(map[string]string, len(spec.Rows))
	for i, row := range spec.Rows {
		if len(row) > 1 {
			parent, _ := row[1].(string)
			parents[spec.rowLabel(i)] = parent
		}
	}
	var data [][]string
	var maxCorrelation int
	for i := range spec.Rows {
		correlation := int(spec.rowNumber(i, 3))
		if correlation == 0 {
			continue // only test method rows carry a correlation
		}
		maxCorrelation = max(maxCorrelation, correlation)
		label := spec.rowLabel(i)
		class := parents[label]
		data = append(data, []string{parents[class], class, label, strconv.Itoa(correlation), errorCellText(errorByLabel[label])})
	}
	if len(data) == 0 {
		return errNoChartData
	}
	omitted := len(data) - detailTableMaxRecords
	if omitted > 0 {
		data = data[:detailTableMaxRecords]
	}

	titleFont := chartFont(14)
	titleBox := p.MeasureText(title, 0, titleFont)
	p.Text(title, 10, titleBox.Height()+10, 0, titleFont)

	minColor := hexChartColor(spec.Options.MinColor, charts.ColorOrangeAlt1)
	midColor := hexChartColor(spec.Options.MidColor, charts.ColorOrangeAlt1)
	maxColor := hexChartColor(spec.Options.MaxColor, charts.ColorRed)
	rowColors := []charts.Color{
		{R: 240, G: 240, B: 240, A: 255},
		charts.ColorTransparent,
	}
	if len(data)%2 == 0 {
		// reverse row colors so table end is opposite of transparent
		rowColors[0], rowColors[1] = rowColors[1], rowColors[0]
	}
	defaultCellFontStyle := charts.FontStyle{
		FontSize:  10,
		FontColor: charts.Color{R: 50, G: 50, B: 50, A: 255},
		Font:      charts.GetDefaultFont(),
	}
	tableOpt := charts.TableChartOption{
		Header:                []string{"Package", "Class", "Method", "Class " + spec.TestType, "Log"},
		Data:                  data,
		HeaderBackgroundColor: charts.Color{R: 210, G: 210, B: 210, A: 255},
		RowBackgroundColors:   rowColors,
		Padding:               charts.NewBoxEqual(6),
		Spans:                 []int{16, 14, 16, 6, 28},
		TextAligns:            []string{charts.AlignLeft, charts.AlignLeft, charts.AlignLeft, charts.AlignCenter, charts.AlignLeft},
		CellModifier: func(cell charts.TableCell) charts.TableCell {
			if cell.Row == 0 {
				return cell
			}
			cell.FontStyle = defaultCellFontStyle // reset on each call to prevent prior changes persisting

			switch cell.Column {
			case 3: // class correlation
				count, _ := strconv.Atoi(cell.Text)
				if count >= maxCorrelation {
					cell.FontStyle.FontColor = maxColor
				} else if count*2 >= maxCorrelation {
					cell.FontStyle.FontColor = midColor
				} else {
					cell.FontStyle.FontColor = minColor
				}
			case 4: // log
				cell.FontStyle.FontSize = 8
			}
			return cell
		},
	}
	tablePainter := p.Child(charts.PainterPaddingOption(charts.NewBox(10, titleBox.Height()+20, 10, 10)))
	if err := tablePainter.TableChart(tableOpt); err != nil {
		return fmt.Errorf("error rendering table: %w", err)
	}
	if omitted > 0 {
		p.Text("("+strconv.Itoa(omitted)+" more tests)", 10, p.Height()-10, 0, chartFont(10))
	}
	return nil
}

// errorCellText reduces error output to its first line, truncated to detailErrorMaxRunes characters.
func errorCellText(errorText string) string {
	errorText = strings.TrimSpace(errorText)
	if line, _, found := strings.Cut(errorText, "\n"); found {
		errorText = strings.TrimSpace(line)
	}
	if runes := []rune(errorText); len(runes) > detailErrorMaxRunes {
		errorText = string(runes[:detailErrorMaxRunes-2]) + ".."
	}
	return errorText
}

// hexChartColor parses a "#RRGGBB" color, returning the fallback when the value is empty or malformed.
func hexChartColor(hex string, fallback charts.Color) charts.Color {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) != 6 {
		return fallback
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return fallback
	}
	return charts.Color{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}
}

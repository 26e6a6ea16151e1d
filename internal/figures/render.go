package figures

import (
	"bytes"
	"fmt"
	"html"
	"image/color"
	"math"
	"strings"

	"github.com/fogleman/gg"
	"github.com/rotisserie/eris"

	"github.com/grantscope/advisor/internal/dataset"
)

var (
	background = color.White
	ink        = color.RGBA{R: 0x22, G: 0x22, B: 0x22, A: 0xff}
	barFill    = color.RGBA{R: 0x2b, G: 0x6c, B: 0xb0, A: 0xff}
	gridLine   = color.RGBA{R: 0xdd, G: 0xdd, B: 0xdd, A: 0xff}
)

const (
	margin     = 16.0
	labelWidth = 190.0
	valueWidth = 110.0
	titleSpace = 36.0
)

func safeRender(render func(chart, int, int) ([]byte, error), c chart, w, h int) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("figures: render panicked: %v", r)
		}
	}()
	return render(c, w, h)
}

// renderPNG draws c as a horizontal bar chart.
func renderPNG(c chart, w, h int) ([]byte, error) {
	if w <= 0 || h <= 0 {
		return nil, eris.New("figures: invalid canvas size")
	}
	dc := gg.NewContext(w, h)
	dc.SetColor(background)
	dc.Clear()

	dc.SetColor(ink)
	dc.DrawStringAnchored(c.label, float64(w)/2, margin+6, 0.5, 0.5)

	if len(c.values) == 0 {
		dc.DrawStringAnchored("No data available", float64(w)/2, float64(h)/2, 0.5, 0.5)
		return encode(dc)
	}

	maxVal := 0.0
	for _, v := range c.values {
		maxVal = math.Max(maxVal, v)
	}
	if maxVal <= 0 {
		maxVal = 1
	}

	plotX := margin + labelWidth
	plotW := float64(w) - plotX - valueWidth - margin
	rowH := (float64(h) - titleSpace - margin) / float64(len(c.values))
	barH := math.Max(2, rowH*0.7)

	dc.SetColor(gridLine)
	dc.SetLineWidth(1)
	dc.DrawLine(plotX, titleSpace, plotX, float64(h)-margin)
	dc.Stroke()

	for i, v := range c.values {
		y := titleSpace + float64(i)*rowH
		cy := y + rowH/2

		dc.SetColor(ink)
		dc.DrawStringAnchored(dataset.Truncate(c.labels[i], 28), plotX-8, cy, 1, 0.5)

		bw := plotW * math.Max(0, v) / maxVal
		dc.SetColor(barFill)
		dc.DrawRectangle(plotX, cy-barH/2, bw, barH)
		dc.Fill()

		dc.SetColor(ink)
		dc.DrawStringAnchored(c.format(v), plotX+bw+6, cy, 0, 0.5)
	}
	return encode(dc)
}

func encode(dc *gg.Context) ([]byte, error) {
	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, eris.Wrap(err, "figures: encode png")
	}
	return buf.Bytes(), nil
}

func (c chart) format(v float64) string {
	if c.money {
		return dataset.FormatUSD(v)
	}
	return dataset.FormatNumber(v)
}

// htmlTable is the text fallback for a chart that could not be rendered.
func htmlTable(c chart) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<figure class=\"chart\"><figcaption>%s</figcaption><table>", html.EscapeString(c.label))
	for i, v := range c.values {
		fmt.Fprintf(&b, "<tr><td>%s</td><td>%s</td></tr>", html.EscapeString(c.labels[i]), html.EscapeString(c.format(v)))
	}
	b.WriteString("</table></figure>")
	return b.String()
}

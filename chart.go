/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
	"html"
	"io"
	"strings"
)

// ChartRecord is one plotted guess.
type ChartRecord struct {
	GuessIndex      int    `json:"guess_index"`
	ChosenName      string `json:"chosen_name"`
	ChosenListeners int64  `json:"chosen_listeners"`
	OtherName       string `json:"other_name"`
	OtherListeners  int64  `json:"other_listeners"`
}

func projectChart(history []GuessEntry) []ChartRecord {
	records := make([]ChartRecord, len(history))
	for i, e := range history {
		records[i] = ChartRecord{
			GuessIndex:      i + 1,
			ChosenName:      e.ChosenName,
			ChosenListeners: e.ChosenListeners,
			OtherName:       e.OtherName,
			OtherListeners:  e.OtherListeners,
		}
	}
	return records
}

// ChartRenderer draws chart data. Only the data is contractual; layout and
// colors belong to the implementation.
type ChartRenderer interface {
	ContentType() string
	RenderGuesses(w io.Writer, records []ChartRecord) error
	RenderHistogram(w io.Writer, bins []HistogramBin) error
}

const (
	chartHeight  = 420
	chartMarginX = 70
	chartMarginY = 60
	plotHeight   = chartHeight - 2*chartMarginY

	colorChosenWin  = "#1db954"
	colorChosenLose = "#e22134"
	colorOther      = "#535353"
	colorHistogram  = "#1db954"
)

type svgRenderer struct{}

func (svgRenderer) ContentType() string {
	return "image/svg+xml; charset=utf-8"
}

func writeSVGHeader(b *strings.Builder, width int, title string) {
	fmt.Fprintf(b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d" font-family="sans-serif" font-size="12">`,
		width, chartHeight, width, chartHeight)
	b.WriteString(`<rect width="100%" height="100%" fill="#ffffff"/>`)
	fmt.Fprintf(b, `<text x="%d" y="30" text-anchor="middle" font-size="18" font-weight="bold">%s</text>`,
		width/2, html.EscapeString(title))
	fmt.Fprintf(b, `<line x1="%d" y1="%d" x2="%d" y2="%d" stroke="#000"/>`,
		chartMarginX, chartHeight-chartMarginY, width-chartMarginX/2, chartHeight-chartMarginY)
	fmt.Fprintf(b, `<line x1="%d" y1="%d" x2="%d" y2="%d" stroke="#000"/>`,
		chartMarginX, chartMarginY, chartMarginX, chartHeight-chartMarginY)
}

func writeYAxis(b *strings.Builder, peak int64) {
	const ticks = 4
	for i := 0; i <= ticks; i++ {
		value := peak * int64(i) / ticks
		y := chartHeight - chartMarginY - plotHeight*i/ticks
		fmt.Fprintf(b, `<text x="%d" y="%d" text-anchor="end">%s</text>`,
			chartMarginX-6, y+4, formatListeners(value))
	}
}

func barHeight(value, peak int64) int {
	if peak <= 0 || value <= 0 {
		return 0
	}
	return int(float64(value) / float64(peak) * plotHeight)
}

func (svgRenderer) RenderGuesses(w io.Writer, records []ChartRecord) error {
	const (
		groupWidth = 90
		barWidth   = 32
	)

	width := 2*chartMarginX + max(len(records), 1)*groupWidth

	var peak int64
	for _, r := range records {
		peak = max(peak, r.ChosenListeners, r.OtherListeners)
	}

	var b strings.Builder
	writeSVGHeader(&b, width, "Guess history")
	writeYAxis(&b, peak)

	base := chartHeight - chartMarginY

	for i, r := range records {
		x := chartMarginX + i*groupWidth + (groupWidth-2*barWidth)/2

		chosenColor := colorChosenLose
		if r.ChosenListeners > r.OtherListeners {
			chosenColor = colorChosenWin
		}

		h := barHeight(r.ChosenListeners, peak)
		fmt.Fprintf(&b, `<rect x="%d" y="%d" width="%d" height="%d" fill="%s"><title>%s: %s</title></rect>`,
			x, base-h, barWidth, h, chosenColor,
			html.EscapeString(r.ChosenName), formatListeners(r.ChosenListeners))

		h = barHeight(r.OtherListeners, peak)
		fmt.Fprintf(&b, `<rect x="%d" y="%d" width="%d" height="%d" fill="%s"><title>%s: %s</title></rect>`,
			x+barWidth, base-h, barWidth, h, colorOther,
			html.EscapeString(r.OtherName), formatListeners(r.OtherListeners))

		fmt.Fprintf(&b, `<text x="%d" y="%d" text-anchor="middle">#%d</text>`,
			x+barWidth, base+16, r.GuessIndex)
	}

	fmt.Fprintf(&b, `<rect x="%d" y="%d" width="12" height="12" fill="%s"/><text x="%d" y="%d">chosen</text>`,
		chartMarginX, chartHeight-24, colorChosenWin, chartMarginX+16, chartHeight-14)
	fmt.Fprintf(&b, `<rect x="%d" y="%d" width="12" height="12" fill="%s"/><text x="%d" y="%d">other</text>`,
		chartMarginX+80, chartHeight-24, colorOther, chartMarginX+96, chartHeight-14)

	b.WriteString(`</svg>`)

	_, err := io.WriteString(w, b.String())

	return err
}

func (svgRenderer) RenderHistogram(w io.Writer, bins []HistogramBin) error {
	const barWidth = 28

	width := 2*chartMarginX + max(len(bins), 1)*barWidth

	peak := 0
	for _, bin := range bins {
		peak = max(peak, bin.Count)
	}

	var b strings.Builder
	writeSVGHeader(&b, width, "Monthly listener distribution")

	base := chartHeight - chartMarginY

	for i := 0; i <= 4; i++ {
		fmt.Fprintf(&b, `<text x="%d" y="%d" text-anchor="end">%d</text>`,
			chartMarginX-6, base-plotHeight*i/4+4, peak*i/4)
	}

	for i, bin := range bins {
		h := barHeight(int64(bin.Count), int64(peak))
		x := chartMarginX + i*barWidth
		fmt.Fprintf(&b, `<rect x="%d" y="%d" width="%d" height="%d" fill="%s" stroke="#ffffff"><title>%s–%s: %d</title></rect>`,
			x, base-h, barWidth, h, colorHistogram,
			formatListeners(bin.Lower), formatListeners(bin.Upper), bin.Count)
	}

	if len(bins) > 0 {
		fmt.Fprintf(&b, `<text x="%d" y="%d" text-anchor="start">%s</text>`,
			chartMarginX, base+16, formatListeners(bins[0].Lower))
		fmt.Fprintf(&b, `<text x="%d" y="%d" text-anchor="end">%s</text>`,
			chartMarginX+len(bins)*barWidth, base+16, formatListeners(bins[len(bins)-1].Upper))
	}

	fmt.Fprintf(&b, `<text x="%d" y="%d" text-anchor="middle">Monthly listeners</text>`,
		width/2, chartHeight-14)

	b.WriteString(`</svg>`)

	_, err := io.WriteString(w, b.String())

	return err
}

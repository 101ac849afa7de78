package store

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// ExportData is the full JSON form of one saved run: metadata plus the
// sampled output series.
type ExportData struct {
	RunMetadata
	Times  []float64            `json:"times"`
	Series map[string][]float64 `json:"series"`
}

// Export gathers one run's metadata and outputs for serialisation.
func (s *Store) Export(runID string) (*ExportData, error) {
	meta, err := s.Load(runID)
	if err != nil {
		return nil, err
	}
	times, series, err := s.LoadOutputs(runID)
	if err != nil {
		return nil, err
	}
	return &ExportData{RunMetadata: *meta, Times: times, Series: series}, nil
}

// ExportJSON writes one run as indented JSON.
func (s *Store) ExportJSON(runID string, w io.Writer) error {
	data, err := s.Export(runID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// ExportSVG renders one output series of a run as an SVG polyline against
// time.
func (s *Store) ExportSVG(runID, output string, width, height int) (string, error) {
	data, err := s.Export(runID)
	if err != nil {
		return "", err
	}
	ys, ok := data.Series[output]
	if !ok {
		return "", fmt.Errorf("run %s has no output %q", runID, output)
	}
	return curveSVG(data.Times, ys, width, height, "#00ff00"), nil
}

// curveSVG draws one x/y series as a stroked path on a dark background, with
// a tenth of the data range as padding on every side.
func curveSVG(xs, ys []float64, width, height int, stroke string) string {
	if len(xs) < 2 || len(xs) != len(ys) {
		return ""
	}

	minX, maxX := xs[0], xs[0]
	minY, maxY := ys[0], ys[0]
	for i := range xs {
		if xs[i] < minX {
			minX = xs[i]
		}
		if xs[i] > maxX {
			maxX = xs[i]
		}
		if ys[i] < minY {
			minY = ys[i]
		}
		if ys[i] > maxY {
			maxY = ys[i]
		}
	}
	rangeX := maxX - minX
	rangeY := maxY - minY
	if rangeX == 0 {
		rangeX = 1
	}
	if rangeY == 0 {
		rangeY = 1
	}
	minX -= rangeX * 0.1
	maxX += rangeX * 0.1
	minY -= rangeY * 0.1
	maxY += rangeY * 0.1
	rangeX = maxX - minX
	rangeY = maxY - minY

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">
<rect width="100%%" height="100%%" fill="#0a0a0a"/>
<path fill="none" stroke="%s" stroke-width="1.5" d="M`,
		width, height, width, height, stroke))

	for i := range xs {
		x := (xs[i] - minX) / rangeX * float64(width)
		y := float64(height) - (ys[i]-minY)/rangeY*float64(height)
		if i == 0 {
			sb.WriteString(fmt.Sprintf("%.1f,%.1f", x, y))
		} else {
			sb.WriteString(fmt.Sprintf(" L%.1f,%.1f", x, y))
		}
	}

	sb.WriteString(`"/>
</svg>`)
	return sb.String()
}

package render

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"os"
)

//go:embed templates/*.html.tmpl
var templateFS embed.FS

var (
	mapTemplate    = template.Must(template.ParseFS(templateFS, "templates/map.html.tmpl"))
	figureTemplate = template.Must(template.ParseFS(templateFS, "templates/figure.html.tmpl"))
)

// MapRenderer writes the Leaflet pressure map.
type MapRenderer struct{}

// Render writes a self-contained HTML page for data.
func (MapRenderer) Render(w io.Writer, data MapData) error {
	if err := mapTemplate.Execute(w, data); err != nil {
		return fmt.Errorf("render map: %w", err)
	}
	return nil
}

// FigureRenderer writes the Plotly topology figure as a standalone page.
type FigureRenderer struct{}

func (FigureRenderer) Render(w io.Writer, fig Figure) error {
	if err := figureTemplate.Execute(w, fig); err != nil {
		return fmt.Errorf("render figure: %w", err)
	}
	return nil
}

// WriteMapFile renders data into path, replacing any existing file.
func WriteMapFile(path string, data MapData) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	return MapRenderer{}.Render(f, data)
}

package main

import (
	"fmt"
	"os"

	"github.com/couchcryptid/hydromap/internal/network"
	"github.com/couchcryptid/hydromap/internal/render"
)

func writeFigure(path, name string, net *network.Network) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	return render.FigureRenderer{}.Render(f, render.BuildFigure(name, net))
}

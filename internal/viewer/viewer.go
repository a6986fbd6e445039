// Package viewer loads a bundled or uploaded network and builds its
// topology figure for the web viewer.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/couchcryptid/hydromap/internal/epanet"
	"github.com/couchcryptid/hydromap/internal/network"
	"github.com/couchcryptid/hydromap/internal/render"
	"github.com/couchcryptid/hydromap/internal/samples"
	"github.com/google/uuid"
)

// GenericMessage is the only failure text shown to users.
const GenericMessage = "Please check your EPANET INP File. Something goes wrong!"

// Kind classifies a viewer failure.
type Kind string

const (
	KindUpload Kind = "upload"
	KindParse  Kind = "parse"
	KindSample Kind = "sample"
	KindRender Kind = "render"
)

// ViewError is returned for every failure while producing a view.
type ViewError struct {
	Kind Kind
	Err  error
}

func (e *ViewError) Error() string { return fmt.Sprintf("view %s: %v", e.Kind, e.Err) }

func (e *ViewError) Unwrap() error { return e.Err }

func fail(kind Kind, err error) error { return &ViewError{Kind: kind, Err: err} }

// KindOf returns the kind of a ViewError in err's chain, or KindRender for
// anything else.
func KindOf(err error) Kind {
	var ve *ViewError
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return KindRender
}

// Upload is a network file sent by the user.
type Upload struct {
	Filename string
	Body     io.Reader
}

// View is what the page shows for one run.
type View struct {
	// Source is the sample name or the uploaded file name.
	Source string
	// Path is where an upload was stored, empty for samples.
	Path   string
	Nodes  int
	Links  int
	Figure render.Figure
}

// Service builds views. Uploads are stored under uploadDir as
// <uuid><ext> and are never removed.
type Service struct {
	uploadDir string
	newID     func() string
	logger    *slog.Logger
}

// NewService creates a Service storing uploads under uploadDir.
func NewService(uploadDir string, logger *slog.Logger) *Service {
	return &Service{uploadDir: uploadDir, newID: uuid.NewString, logger: logger}
}

// FromSample builds the view of a bundled network.
func (s *Service) FromSample(ctx context.Context, name string) (*View, error) {
	if err := ctx.Err(); err != nil {
		return nil, fail(KindRender, err)
	}
	net, err := samples.Load(name)
	if err != nil {
		if errors.Is(err, samples.ErrNotFound) {
			return nil, fail(KindSample, err)
		}
		return nil, fail(KindParse, err)
	}
	return s.build(name, "", net)
}

// FromUpload stores the upload and builds the view of the stored file.
func (s *Service) FromUpload(ctx context.Context, up Upload) (*View, error) {
	if err := ctx.Err(); err != nil {
		return nil, fail(KindRender, err)
	}
	path, err := s.save(up)
	if err != nil {
		return nil, fail(KindUpload, err)
	}
	net, err := epanet.ParseFile(path)
	if err != nil {
		return nil, fail(KindParse, err)
	}
	return s.build(up.Filename, path, net)
}

func (s *Service) save(up Upload) (path string, err error) {
	ext := filepath.Ext(up.Filename)
	if !strings.EqualFold(ext, ".inp") {
		return "", fmt.Errorf("file %q: expected an .inp file", up.Filename)
	}
	path = filepath.Join(s.uploadDir, s.newID()+ext)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("store upload: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("store upload: %w", cerr)
		}
	}()
	n, err := io.Copy(f, up.Body)
	if err != nil {
		return "", fmt.Errorf("store upload: %w", err)
	}
	if n == 0 {
		return "", fmt.Errorf("file %q is empty", up.Filename)
	}
	s.logger.Info("upload stored", "file", up.Filename, "path", path, "bytes", n)
	return path, nil
}

func (s *Service) build(source, path string, net *network.Network) (*View, error) {
	if net.NodeCount() == 0 {
		return nil, fail(KindRender, errors.New("network has no nodes"))
	}
	return &View{
		Source: source,
		Path:   path,
		Nodes:  net.NodeCount(),
		Links:  net.LinkCount(),
		Figure: render.BuildFigure(source, net),
	}, nil
}

// CheckReadiness reports whether uploads can be stored.
func (s *Service) CheckReadiness(_ context.Context) error {
	info, err := os.Stat(s.uploadDir)
	if err != nil {
		return fmt.Errorf("upload dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("upload dir %s is not a directory", s.uploadDir)
	}
	return nil
}

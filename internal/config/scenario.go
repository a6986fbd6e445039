package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/couchcryptid/hydromap/internal/edit"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Scenario defaults.
const (
	DefaultInput     = "PK_QD28_TESTE_DOS_NOS_DUPLICADOS (20).inp"
	DefaultOutput    = "VRP_VAZAMENTO.html"
	DefaultSourceCRS = "EPSG:31983"
	DefaultTargetCRS = "EPSG:4326"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Scenario describes one render run: which network to load, the edits to
// apply, and where the outputs go.
type Scenario struct {
	Name   string `yaml:"name"`
	Input  string `yaml:"input" validate:"required_without=Sample,excluded_with=Sample"`
	Sample string `yaml:"sample" validate:"required_without=Input,excluded_with=Input"`
	CRS    CRS    `yaml:"crs"`
	Title  string `yaml:"title"`
	Output string `yaml:"output" validate:"required"`

	// Optional extra outputs.
	GeoJSON   string `yaml:"geojson"`
	ExportINP string `yaml:"export_inp"`

	// Geocode asks the map caption service for a place name at the map centre.
	Geocode bool `yaml:"geocode"`

	Edits []EditSpec `yaml:"edits" validate:"dive"`
}

// CRS names the source and target coordinate reference systems.
type CRS struct {
	Source string `yaml:"source" validate:"required,startswith=EPSG:"`
	Target string `yaml:"target" validate:"required,startswith=EPSG:"`
}

// EditSpec is one edit as written in a scenario file. Diameters are in
// millimetres as in the INP files the scenarios are written against.
type EditSpec struct {
	Op   string `yaml:"op" validate:"required,oneof=split_pipe insert_reservoir insert_prv"`
	Link string `yaml:"link" validate:"required_unless=Op insert_reservoir"`
	Node string `yaml:"node" validate:"required_unless=Op insert_prv"`
	Name string `yaml:"name" validate:"required_if=Op insert_reservoir"`

	// split_pipe
	First   string  `yaml:"first"`
	Second  string  `yaml:"second"`
	ScaleTo float64 `yaml:"scale_to" validate:"gte=0"`

	// insert_reservoir
	Head   float64 `yaml:"head" validate:"gte=0"`
	Pipe   string  `yaml:"pipe"`
	Length float64 `yaml:"length" validate:"gte=0"`

	// split_pipe and insert_reservoir
	DiameterMM float64 `yaml:"diameter_mm" validate:"gte=0"`
	Roughness  float64 `yaml:"roughness" validate:"gte=0"`

	// insert_prv: downstream pressure target in metres.
	Setting float64 `yaml:"setting" validate:"gte=0"`
}

// DefaultScenario reproduces the leak-sector study: split P375 at N354,
// feed N49 from a new reservoir, and put PRVs on P379, P375_1 and P366.
func DefaultScenario() *Scenario {
	s := &Scenario{
		Name:  "vazamento",
		Input: DefaultInput,
		Edits: []EditSpec{
			{Op: string(edit.OpSplitPipe), Link: "P375", Node: "N354", ScaleTo: 188.12067746, DiameterMM: 32, Roughness: 140},
			{Op: string(edit.OpInsertReservoir), Name: "r1", Node: "N49", Pipe: "P_R1_N49", Head: edit.DefaultReservoirHead, Length: 0.10, DiameterMM: 110, Roughness: 140},
			{Op: string(edit.OpInsertPRV), Link: "P379", Setting: edit.DefaultPRVSetting},
			{Op: string(edit.OpInsertPRV), Link: "P375_1", Setting: edit.DefaultPRVSetting},
			{Op: string(edit.OpInsertPRV), Link: "P366", Setting: edit.DefaultPRVSetting},
		},
	}
	s.applyDefaults()
	return s
}

// LoadScenario reads a YAML scenario, fills defaults and validates it. A
// relative input path is resolved against the scenario file's directory.
func LoadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	s, err := ParseScenario(raw)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	if s.Input != "" && !filepath.IsAbs(s.Input) {
		s.Input = filepath.Join(filepath.Dir(path), s.Input)
	}
	return s, nil
}

// ParseScenario decodes and validates a YAML scenario. Unknown keys are
// rejected; an empty document yields the defaults with no edits.
func ParseScenario(raw []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode: %w", err)
	}
	s.applyDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Scenario) applyDefaults() {
	if s.Input == "" && s.Sample == "" {
		s.Input = DefaultInput
	}
	if s.CRS.Source == "" {
		s.CRS.Source = DefaultSourceCRS
	}
	if s.CRS.Target == "" {
		s.CRS.Target = DefaultTargetCRS
	}
	if s.Output == "" {
		s.Output = DefaultOutput
	}
}

// Validate checks the struct tags and reports the first failure by its
// YAML field path.
func (s *Scenario) Validate() error {
	if err := validate.Struct(s); err != nil {
		return formatValidationError(err)
	}
	return nil
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	e := verrs[0]
	field := strings.TrimPrefix(e.Namespace(), "Scenario.")
	switch e.Tag() {
	case "required", "required_without", "required_if", "required_unless":
		return fmt.Errorf("%s: field is required", field)
	case "excluded_with":
		return fmt.Errorf("%s: input and sample are mutually exclusive", field)
	case "oneof":
		return fmt.Errorf("%s: must be one of %s", field, e.Param())
	case "gte":
		return fmt.Errorf("%s: must be at least %s", field, e.Param())
	case "startswith":
		return fmt.Errorf("%s: must start with %s", field, e.Param())
	default:
		return fmt.Errorf("%s: validation failed (%s)", field, e.Tag())
	}
}

// EditList converts the scenario edits to edit operations in SI units.
func (s *Scenario) EditList() []edit.Edit {
	out := make([]edit.Edit, 0, len(s.Edits))
	for _, e := range s.Edits {
		ed := edit.Edit{Op: edit.Op(e.Op), Link: e.Link, Node: e.Node, Name: e.Name}
		switch ed.Op {
		case edit.OpSplitPipe:
			ed.Split = edit.SplitOptions{
				FirstName:  e.First,
				SecondName: e.Second,
				ScaleTo:    e.ScaleTo,
				Diameter:   e.DiameterMM / 1000,
				Roughness:  e.Roughness,
			}
		case edit.OpInsertReservoir:
			ed.Reservoir = edit.ReservoirOptions{
				Head:      e.Head,
				PipeName:  e.Pipe,
				Length:    e.Length,
				Diameter:  e.DiameterMM / 1000,
				Roughness: e.Roughness,
			}
		case edit.OpInsertPRV:
			ed.PRV = edit.PRVOptions{Name: e.Name, Setting: e.Setting}
		}
		out = append(out, ed)
	}
	return out
}

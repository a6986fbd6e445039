package epanet

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/hydromap/internal/network"
	"github.com/paulmach/orb"
)

// ParseError reports a malformed line in an input file.
type ParseError struct {
	Line    int
	Section string
	Msg     string
}

func (e *ParseError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("inp: %s", e.Msg)
	}
	return fmt.Sprintf("inp: line %d [%s]: %s", e.Line, e.Section, e.Msg)
}

// line is one non-empty, comment-stripped input line.
type line struct {
	num    int
	raw    string
	fields []string
}

// Sections are applied in this order so that options (units) are known
// before values are converted and nodes exist before links reference them.
var sectionOrder = []string{
	"TITLE", "OPTIONS", "TIMES", "PATTERNS", "CURVES",
	"JUNCTIONS", "RESERVOIRS", "TANKS", "COORDINATES",
	"PIPES", "PUMPS", "VALVES", "DEMANDS", "STATUS",
}

// ParseFile reads an EPANET input file from disk.
func ParseFile(path string) (*network.Network, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open network file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads an EPANET input file. Unsupported sections (controls, rules,
// quality, energy, report and drawing sections) are skipped.
func Parse(r io.Reader) (*network.Network, error) {
	sections, err := splitSections(r)
	if err != nil {
		return nil, err
	}
	if len(sections["JUNCTIONS"])+len(sections["RESERVOIRS"])+len(sections["TANKS"]) == 0 {
		return nil, &ParseError{Msg: "no nodes defined"}
	}

	p := &parser{net: network.New(), rawCurves: make(map[string][][2]float64)}
	p.u, _ = unitsFor("GPM") // EPANET default when OPTIONS omits UNITS
	p.net.Options.FlowUnits = "GPM"

	handlers := map[string]func(line) error{
		"TITLE":       p.title,
		"OPTIONS":     p.option,
		"TIMES":       p.times,
		"PATTERNS":    p.pattern,
		"CURVES":      p.curve,
		"JUNCTIONS":   p.junction,
		"RESERVOIRS":  p.reservoir,
		"TANKS":       p.tank,
		"COORDINATES": p.coordinate,
		"PIPES":       p.pipe,
		"PUMPS":       p.pump,
		"VALVES":      p.valve,
		"DEMANDS":     p.demand,
		"STATUS":      p.status,
	}
	for _, name := range sectionOrder {
		for _, ln := range sections[name] {
			if err := handlers[name](ln); err != nil {
				return nil, &ParseError{Line: ln.num, Section: name, Msg: err.Error()}
			}
		}
	}
	if err := p.convertCurves(); err != nil {
		return nil, err
	}
	return p.net, nil
}

func splitSections(r io.Reader) (map[string][]line, error) {
	sections := make(map[string][]line)
	current := ""
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	num := 0
	for sc.Scan() {
		num++
		raw := sc.Text()
		if num == 1 {
			raw = strings.TrimPrefix(raw, "\ufeff")
		}
		text := raw
		if i := strings.IndexByte(text, ';'); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if strings.HasPrefix(text, "[") {
			end := strings.IndexByte(text, ']')
			if end < 0 {
				return nil, &ParseError{Line: num, Section: current, Msg: fmt.Sprintf("malformed section header %q", text)}
			}
			current = strings.ToUpper(strings.TrimSpace(text[1:end]))
			continue
		}
		if current == "" {
			return nil, &ParseError{Line: num, Msg: "data before first section header"}
		}
		sections[current] = append(sections[current], line{num: num, raw: strings.TrimSpace(raw), fields: strings.Fields(text)})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read network file: %w", err)
	}
	return sections, nil
}

type parser struct {
	net       *network.Network
	u         units
	rawCurves map[string][][2]float64
	demanded  map[string]bool
}

func (p *parser) title(ln line) error {
	p.net.Title = append(p.net.Title, ln.raw)
	return nil
}

func (p *parser) option(ln line) error {
	key := strings.ToUpper(ln.fields[0])
	args := ln.fields[1:]
	// Two-word keys carry their value one field later.
	if len(args) > 0 {
		switch key + " " + strings.ToUpper(args[0]) {
		case "DEMAND MULTIPLIER", "SPECIFIC GRAVITY", "DEMAND MODEL", "MINIMUM PRESSURE",
			"REQUIRED PRESSURE", "PRESSURE EXPONENT", "EMITTER EXPONENT", "FLOWCHANGE",
			"CHECKFREQ", "MAXCHECK", "DAMPLIMIT":
			key = key + " " + strings.ToUpper(args[0])
			args = args[1:]
		}
	}
	if len(args) == 0 {
		return nil
	}
	switch key {
	case "UNITS":
		u, err := unitsFor(args[0])
		if err != nil {
			return err
		}
		p.u = u
		p.net.Options.FlowUnits = u.flowKeyword
	case "HEADLOSS":
		h := network.HeadlossFormula(strings.ToUpper(args[0]))
		switch h {
		case network.HazenWilliams, network.DarcyWeisbach, network.ChezyManning:
			p.net.Options.Headloss = h
		default:
			return fmt.Errorf("unknown headloss formula %q", args[0])
		}
	case "DEMAND MULTIPLIER":
		return parseInto(args[0], &p.net.Options.DemandMultiplier)
	case "PATTERN":
		p.net.Options.DefaultPattern = args[0]
	case "VISCOSITY":
		return parseInto(args[0], &p.net.Options.Viscosity)
	case "TRIALS":
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid TRIALS %q", args[0])
		}
		p.net.Options.Trials = n
	case "ACCURACY":
		return parseInto(args[0], &p.net.Options.Accuracy)
	}
	return nil
}

func (p *parser) times(ln line) error {
	key := strings.ToUpper(ln.fields[0])
	args := ln.fields[1:]
	if len(args) > 0 && (key == "HYDRAULIC" || key == "PATTERN" || key == "QUALITY" || key == "REPORT" || key == "RULE" || key == "START") {
		key = key + " " + strings.ToUpper(args[0])
		args = args[1:]
	}
	var target *time.Duration
	t := &p.net.Times
	switch key {
	case "DURATION":
		target = &t.Duration
	case "HYDRAULIC TIMESTEP":
		target = &t.HydraulicStep
	case "PATTERN TIMESTEP":
		target = &t.PatternStep
	case "PATTERN START":
		target = &t.PatternStart
	default:
		return nil
	}
	d, err := parseDuration(args)
	if err != nil {
		return err
	}
	*target = d
	return nil
}

func (p *parser) pattern(ln line) error {
	id := ln.fields[0]
	for _, f := range ln.fields[1:] {
		v, err := parseFloat(f)
		if err != nil {
			return err
		}
		p.net.Patterns[id] = append(p.net.Patterns[id], v)
	}
	if _, ok := p.net.Patterns[id]; !ok {
		p.net.Patterns[id] = nil
	}
	return nil
}

func (p *parser) curve(ln line) error {
	if err := need(ln, 3); err != nil {
		return err
	}
	x, err := parseFloat(ln.fields[1])
	if err != nil {
		return err
	}
	y, err := parseFloat(ln.fields[2])
	if err != nil {
		return err
	}
	p.rawCurves[ln.fields[0]] = append(p.rawCurves[ln.fields[0]], [2]float64{x, y})
	return nil
}

func (p *parser) junction(ln line) error {
	if err := need(ln, 2); err != nil {
		return err
	}
	vals, err := floats(ln.fields[1:min(len(ln.fields), 3)])
	if err != nil {
		return err
	}
	o := network.JunctionOpts{Elevation: vals[0] * p.u.length}
	if len(vals) > 1 {
		o.BaseDemand = vals[1] * p.u.flow
	}
	if len(ln.fields) > 3 {
		o.Pattern = ln.fields[3]
	}
	_, err = p.net.AddJunction(ln.fields[0], o)
	return err
}

func (p *parser) reservoir(ln line) error {
	if err := need(ln, 2); err != nil {
		return err
	}
	head, err := parseFloat(ln.fields[1])
	if err != nil {
		return err
	}
	o := network.ReservoirOpts{BaseHead: head * p.u.length}
	if len(ln.fields) > 2 {
		o.HeadPattern = ln.fields[2]
	}
	_, err = p.net.AddReservoir(ln.fields[0], o)
	return err
}

func (p *parser) tank(ln line) error {
	if err := need(ln, 6); err != nil {
		return err
	}
	vals, err := floats(ln.fields[1:6])
	if err != nil {
		return err
	}
	_, err = p.net.AddTank(ln.fields[0], network.TankOpts{
		Elevation: vals[0] * p.u.length,
		InitLevel: vals[1] * p.u.length,
		MinLevel:  vals[2] * p.u.length,
		MaxLevel:  vals[3] * p.u.length,
		Diameter:  vals[4] * p.u.length,
	})
	return err
}

func (p *parser) coordinate(ln line) error {
	if err := need(ln, 3); err != nil {
		return err
	}
	node, err := p.net.Node(ln.fields[0])
	if err != nil {
		return err
	}
	xy, err := floats(ln.fields[1:3])
	if err != nil {
		return err
	}
	node.SetCoordinates(orb.Point{xy[0], xy[1]})
	return nil
}

func (p *parser) pipe(ln line) error {
	if err := need(ln, 6); err != nil {
		return err
	}
	vals, err := floats(ln.fields[3:6])
	if err != nil {
		return err
	}
	o := network.PipeOpts{
		Length:    vals[0] * p.u.length,
		Diameter:  vals[1] * p.u.diameter,
		Roughness: vals[2],
	}
	if p.net.Options.Headloss == network.DarcyWeisbach {
		o.Roughness *= p.u.roughnessDW
	}
	rest := ln.fields[6:]
	if len(rest) > 0 {
		if k, err := parseFloat(rest[0]); err == nil {
			o.MinorLoss = k
			rest = rest[1:]
		}
	}
	if len(rest) > 0 {
		s, err := parseStatus(rest[0])
		if err != nil {
			return err
		}
		o.Status = s
	}
	_, err = p.net.AddPipe(ln.fields[0], ln.fields[1], ln.fields[2], o)
	return err
}

func (p *parser) pump(ln line) error {
	if err := need(ln, 4); err != nil {
		return err
	}
	var o network.PumpOpts
	args := ln.fields[3:]
	for i := 0; i+1 < len(args); i += 2 {
		switch strings.ToUpper(args[i]) {
		case "HEAD":
			o.HeadCurve = args[i+1]
		case "POWER":
			v, err := parseFloat(args[i+1])
			if err != nil {
				return err
			}
			o.Power = v * p.u.power
		case "SPEED":
			v, err := parseFloat(args[i+1])
			if err != nil {
				return err
			}
			o.Speed = v
		}
	}
	_, err := p.net.AddPump(ln.fields[0], ln.fields[1], ln.fields[2], o)
	return err
}

func (p *parser) valve(ln line) error {
	if err := need(ln, 6); err != nil {
		return err
	}
	diam, err := parseFloat(ln.fields[3])
	if err != nil {
		return err
	}
	typ, ok := network.ParseValveType(strings.ToUpper(ln.fields[4]))
	if !ok {
		return fmt.Errorf("unknown valve type %q", ln.fields[4])
	}
	o := network.ValveOpts{Type: typ, Diameter: diam * p.u.diameter}
	if typ == network.ValveGPV {
		o.Curve = ln.fields[5]
	} else {
		setting, err := parseFloat(ln.fields[5])
		if err != nil {
			return err
		}
		switch typ {
		case network.ValvePRV, network.ValvePSV, network.ValvePBV:
			o.Setting = setting * p.u.pressure
		case network.ValveFCV:
			o.Setting = setting * p.u.flow
		default:
			o.Setting = setting
		}
	}
	if len(ln.fields) > 6 {
		k, err := parseFloat(ln.fields[6])
		if err != nil {
			return err
		}
		o.MinorLoss = k
	}
	// EPANET valves start Active unless [STATUS] fixes them open or closed.
	o.Status = network.StatusActive
	_, err = p.net.AddValve(ln.fields[0], ln.fields[1], ln.fields[2], o)
	return err
}

// demand applies [DEMANDS] entries. The first entry for a junction replaces
// the [JUNCTIONS] demand; later entries add to it and keep the first pattern.
func (p *parser) demand(ln line) error {
	if err := need(ln, 2); err != nil {
		return err
	}
	node, err := p.net.Node(ln.fields[0])
	if err != nil {
		return err
	}
	j, ok := node.(*network.Junction)
	if !ok {
		return fmt.Errorf("demand on non-junction %q", ln.fields[0])
	}
	d, err := parseFloat(ln.fields[1])
	if err != nil {
		return err
	}
	if p.demanded == nil {
		p.demanded = make(map[string]bool)
	}
	if !p.demanded[j.Name()] {
		p.demanded[j.Name()] = true
		j.BaseDemand = 0
		j.DemandPattern = ""
		if len(ln.fields) > 2 {
			j.DemandPattern = ln.fields[2]
		}
	}
	j.BaseDemand += d * p.u.flow
	return nil
}

func (p *parser) status(ln line) error {
	if err := need(ln, 2); err != nil {
		return err
	}
	link, err := p.net.Link(ln.fields[0])
	if err != nil {
		return err
	}
	s, statusErr := parseStatus(ln.fields[1])
	switch l := link.(type) {
	case *network.Pipe:
		if statusErr != nil {
			return statusErr
		}
		l.SetInitialStatus(s)
	case *network.Valve:
		if statusErr == nil {
			l.SetInitialStatus(s)
			return nil
		}
		v, err := parseFloat(ln.fields[1])
		if err != nil {
			return err
		}
		switch l.Type {
		case network.ValvePRV, network.ValvePSV, network.ValvePBV:
			v *= p.u.pressure
		case network.ValveFCV:
			v *= p.u.flow
		}
		l.Setting = v
		l.SetInitialStatus(network.StatusActive)
	case *network.Pump:
		if statusErr == nil {
			l.SetInitialStatus(s)
			return nil
		}
		v, err := parseFloat(ln.fields[1])
		if err != nil {
			return err
		}
		l.Speed = v
		if v == 0 {
			l.SetInitialStatus(network.StatusClosed)
		}
	}
	return nil
}

// convertCurves scales curves referenced by pumps and GPVs (flow vs head);
// other curves are kept in file units.
func (p *parser) convertCurves() error {
	flowHead := make(map[string]bool)
	for _, l := range p.net.Links() {
		switch l := l.(type) {
		case *network.Pump:
			if l.HeadCurve != "" {
				flowHead[l.HeadCurve] = true
			}
		case *network.Valve:
			if l.Curve != "" {
				flowHead[l.Curve] = true
			}
		}
	}
	for id := range flowHead {
		if _, ok := p.rawCurves[id]; !ok {
			return &ParseError{Msg: fmt.Sprintf("curve %q referenced but not defined", id)}
		}
	}
	for id, pts := range p.rawCurves {
		c := &network.Curve{ID: id, Points: make([][2]float64, len(pts))}
		for i, pt := range pts {
			if flowHead[id] {
				pt = [2]float64{pt[0] * p.u.flow, pt[1] * p.u.length}
			}
			c.Points[i] = pt
		}
		p.net.Curves[id] = c
	}
	return nil
}

func parseStatus(s string) (network.LinkStatus, error) {
	switch strings.ToUpper(s) {
	case "OPEN":
		return network.StatusOpen, nil
	case "CLOSED":
		return network.StatusClosed, nil
	case "ACTIVE":
		return network.StatusActive, nil
	case "CV":
		return network.StatusCheckValve, nil
	default:
		return 0, fmt.Errorf("unknown status %q", s)
	}
}

func need(ln line, n int) error {
	if len(ln.fields) < n {
		return fmt.Errorf("expected at least %d fields, got %d", n, len(ln.fields))
	}
	return nil
}

func parseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return v, nil
}

func parseInto(s string, dst *float64) error {
	v, err := parseFloat(s)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func floats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := parseFloat(f)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

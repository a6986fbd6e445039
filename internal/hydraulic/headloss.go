package hydraulic

import (
	"fmt"
	"math"

	"github.com/couchcryptid/hydromap/internal/network"
)

const (
	gravity = 9.81
	// water at 20 C, scaled by Options.Viscosity
	kinematicViscosity = 1.022e-6

	bigCoeff    = 1e8
	minGradient = 1e-7

	headTol = 0.00015
	flowTol = 2.8e-6

	// 8 / (g * pi^2)
	minorLossFactor = 0.08262686
)

// friction returns the head loss and its derivative for a pipe carrying q.
func friction(formula network.HeadlossFormula, p *network.Pipe, q, viscosity float64) (h, g float64) {
	aq := math.Abs(q)
	switch formula {
	case network.DarcyWeisbach:
		h, g = darcyWeisbach(p, q, viscosity)
	case network.ChezyManning:
		r := 10.29 * p.Roughness * p.Roughness * p.Length / math.Pow(p.Diameter, 16.0/3.0)
		h = r * q * aq
		g = 2 * r * aq
	default:
		r := 10.667 * math.Pow(p.Roughness, -1.852) * math.Pow(p.Diameter, -4.871) * p.Length
		h = r * math.Pow(aq, 0.852) * q
		g = 1.852 * r * math.Pow(aq, 0.852)
	}
	if p.MinorLoss > 0 {
		m := minorLossFactor * p.MinorLoss / math.Pow(p.Diameter, 4)
		h += m * q * aq
		g += 2 * m * aq
	}
	return h, math.Max(g, minGradient)
}

func darcyWeisbach(p *network.Pipe, q, viscosity float64) (h, g float64) {
	aq := math.Abs(q)
	nu := kinematicViscosity * viscosity
	area := math.Pi * p.Diameter * p.Diameter / 4
	re := aq / area * p.Diameter / nu
	r := minorLossFactor * p.Length / math.Pow(p.Diameter, 5)
	switch {
	case re < 1:
		return 0, minGradient
	case re < 2000:
		// laminar: f = 64/Re makes the loss linear in q
		f := 64 / re
		h = f * r * q * aq
		return h, f * r * aq
	default:
		f := 0.25 / math.Pow(math.Log10(p.Roughness/(3.7*p.Diameter)+5.74/math.Pow(re, 0.9)), 2)
		h = f * r * q * aq
		return h, 2 * f * r * aq
	}
}

// valveLoss treats a valve as a minor loss with coefficient k.
func valveLoss(diameter, k, q float64) (h, g float64) {
	aq := math.Abs(q)
	m := minorLossFactor * k / math.Pow(diameter, 4)
	return m * q * aq, math.Max(2*m*aq, minGradient)
}

// pumpCurve is a power-function head curve: gain = shutoff - r*q^n.
type pumpCurve struct {
	shutoff float64
	r       float64
	n       float64
	// design flow used as the starting guess
	design float64
	// constant power pumps use gain = power/q instead of the curve
	power float64
}

func newPumpCurve(net *network.Network, p *network.Pump) (pumpCurve, error) {
	if p.HeadCurve == "" {
		// kW -> m4/s for water
		c := p.Power * 1000 / (1000 * gravity)
		return pumpCurve{power: c, design: 0.01}, nil
	}
	curve, ok := net.Curves[p.HeadCurve]
	if !ok || len(curve.Points) == 0 {
		return pumpCurve{}, fmt.Errorf("pump %q: head curve %q not defined", p.Name(), p.HeadCurve)
	}
	pts := curve.Points
	switch {
	case len(pts) == 1:
		q0, h0 := pts[0][0], pts[0][1]
		if q0 <= 0 || h0 <= 0 {
			return pumpCurve{}, fmt.Errorf("pump %q: invalid design point", p.Name())
		}
		return pumpCurve{shutoff: 4.0 / 3.0 * h0, r: h0 / 3 / (q0 * q0), n: 2, design: q0}, nil
	case len(pts) >= 3 && pts[0][0] == 0:
		a := pts[0][1]
		q1, h1 := pts[1][0], pts[1][1]
		q2, h2 := pts[2][0], pts[2][1]
		if !(a > h1 && h1 > h2 && q2 > q1 && q1 > 0) {
			return pumpCurve{}, fmt.Errorf("pump %q: head curve %q is not decreasing", p.Name(), p.HeadCurve)
		}
		n := math.Log((a-h2)/(a-h1)) / math.Log(q2/q1)
		return pumpCurve{shutoff: a, r: (a - h1) / math.Pow(q1, n), n: n, design: q1}, nil
	default:
		// Use the middle point as a single design point.
		mid := pts[len(pts)/2]
		if mid[0] <= 0 || mid[1] <= 0 {
			return pumpCurve{}, fmt.Errorf("pump %q: invalid head curve %q", p.Name(), p.HeadCurve)
		}
		return pumpCurve{shutoff: 4.0 / 3.0 * mid[1], r: mid[1] / 3 / (mid[0] * mid[0]), n: 2, design: mid[0]}, nil
	}
}

// loss returns the head loss across the pump (negative when it adds head)
// and its derivative.
func (c pumpCurve) loss(q, speed float64) (h, g float64) {
	if c.power > 0 {
		aq := math.Max(math.Abs(q), 1e-4)
		h = -c.power * speed / aq
		return h, math.Max(c.power*speed/(aq*aq), minGradient)
	}
	aq := math.Abs(q)
	rs := c.r * math.Pow(speed, 2-c.n)
	grad := c.n * rs * math.Pow(aq, c.n-1)
	h = -(c.shutoff*speed*speed - rs*math.Pow(aq, c.n-1)*q)
	return h, math.Max(grad, minGradient)
}

func (c pumpCurve) shutoffHead(speed float64) float64 {
	if c.power > 0 {
		return math.Inf(1)
	}
	return c.shutoff * speed * speed
}

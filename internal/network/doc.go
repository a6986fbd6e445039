// Package network models a water distribution system as read from an
// EPANET input file.
//
// # Units
//
// Every quantity held by a Network is SI, whatever FLOW UNITS the source
// file declared:
//
//	lengths, elevations, heads, levels   m
//	diameters                            m (files use mm or in)
//	flows and demands                    m3/s
//	pressure-valve settings              m of head (files use m or psi)
//
// Conversion happens once, in package epanet. Rendering converts back to
// display units (L/s, km/h) at the edge.
//
// # Ownership
//
// A *Network is an explicitly owned, mutable value. Editing operations take
// it as an argument and mutate it in place; nothing in the module keeps a
// package-level model.
package network

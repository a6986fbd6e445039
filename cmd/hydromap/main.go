// Command hydromap edits an EPANET network, simulates it and writes the
// pressure map.
//
// Usage:
//
//	hydromap render --scenario configs/vazamento.yaml
//	hydromap export --scenario configs/vazamento.yaml --inp edited.inp
//	hydromap inspect --sample Net1.inp
//	hydromap check --scenario configs/vazamento.yaml
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// Package dae holds the shared vocabulary of the simulation pipeline: state
// vectors, named scalar inputs, and the error taxonomy used from mesh
// construction through to the differentiable solver bridge.
package dae

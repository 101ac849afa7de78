// Package metrics computes per-run scalar summaries from a solved discharge
// curve. Each metric is a streaming observer fed one (time, voltage, current)
// sample at a time, so the same types work on stored runs and on live solves.
package metrics

import (
	"math"

	"github.com/voltlab/celldyn/internal/solver"
)

const (
	voltageOutput = "Voltage [V]"
	currentOutput = "Current [A]"
)

// Metric accumulates one scalar over a sampled trajectory.
type Metric interface {
	Name() string
	Observe(t, voltage, current float64)
	Value() float64
	Reset()
}

// Capacity integrates current over time, in amp hours.
type Capacity struct {
	charge  float64
	lastT   float64
	lastCur float64
	started bool
}

func NewCapacity() *Capacity { return &Capacity{} }

func (c *Capacity) Name() string { return "capacity_ah" }

func (c *Capacity) Observe(t, voltage, current float64) {
	if c.started {
		c.charge += 0.5 * (c.lastCur + current) * (t - c.lastT)
	}
	c.lastT = t
	c.lastCur = current
	c.started = true
}

func (c *Capacity) Value() float64 { return c.charge / 3600 }

func (c *Capacity) Reset() { *c = Capacity{} }

// Energy integrates voltage times current over time, in watt hours.
type Energy struct {
	energy  float64
	lastT   float64
	lastPow float64
	started bool
}

func NewEnergy() *Energy { return &Energy{} }

func (e *Energy) Name() string { return "energy_wh" }

func (e *Energy) Observe(t, voltage, current float64) {
	p := voltage * current
	if e.started {
		e.energy += 0.5 * (e.lastPow + p) * (t - e.lastT)
	}
	e.lastT = t
	e.lastPow = p
	e.started = true
}

func (e *Energy) Value() float64 { return e.energy / 3600 }

func (e *Energy) Reset() { *e = Energy{} }

// VoltageSag is the drop from the first sample's voltage to the minimum seen.
type VoltageSag struct {
	first   float64
	min     float64
	started bool
}

func NewVoltageSag() *VoltageSag { return &VoltageSag{} }

func (v *VoltageSag) Name() string { return "voltage_sag" }

func (v *VoltageSag) Observe(t, voltage, current float64) {
	if !v.started {
		v.first = voltage
		v.min = voltage
		v.started = true
		return
	}
	v.min = math.Min(v.min, voltage)
}

func (v *VoltageSag) Value() float64 {
	if !v.started {
		return 0
	}
	return v.first - v.min
}

func (v *VoltageSag) Reset() { *v = VoltageSag{} }

// MeanVoltage averages the voltage samples.
type MeanVoltage struct {
	sum     float64
	samples int
}

func NewMeanVoltage() *MeanVoltage { return &MeanVoltage{} }

func (m *MeanVoltage) Name() string { return "mean_voltage" }

func (m *MeanVoltage) Observe(t, voltage, current float64) {
	m.sum += voltage
	m.samples++
}

func (m *MeanVoltage) Value() float64 {
	if m.samples == 0 {
		return 0
	}
	return m.sum / float64(m.samples)
}

func (m *MeanVoltage) Reset() { *m = MeanVoltage{} }

// Summary runs the standard metric set over a solution's voltage and current
// outputs. Runs without those outputs yield an empty map.
func Summary(sol *solver.Solution) map[string]float64 {
	v, okV := sol.Output(voltageOutput)
	c, okC := sol.Output(currentOutput)
	if !okV || !okC {
		return map[string]float64{}
	}
	ms := []Metric{NewCapacity(), NewEnergy(), NewVoltageSag(), NewMeanVoltage()}
	for i, t := range sol.T {
		for _, m := range ms {
			m.Observe(t, v.Data[i], c.Data[i])
		}
	}
	out := make(map[string]float64, len(ms))
	for _, m := range ms {
		out[m.Name()] = m.Value()
	}
	return out
}

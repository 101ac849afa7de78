package metrics

import (
	"math"
	"testing"
)

func feed(m Metric, ts, vs, is []float64) {
	for i := range ts {
		m.Observe(ts[i], vs[i], is[i])
	}
}

func TestCapacityConstantCurrent(t *testing.T) {
	c := NewCapacity()
	ts := []float64{0, 90, 180, 270, 360}
	vs := []float64{3, 3, 3, 3, 3}
	is := []float64{0.222, 0.222, 0.222, 0.222, 0.222}
	feed(c, ts, vs, is)
	want := 0.222 * 360 / 3600
	if math.Abs(c.Value()-want) > 1e-12 {
		t.Fatalf("capacity %v, want %v", c.Value(), want)
	}

	c.Reset()
	if c.Value() != 0 {
		t.Fatal("reset should clear the accumulator")
	}
}

func TestEnergyTrapezoid(t *testing.T) {
	e := NewEnergy()
	// Power ramps linearly from 0 to 2 W over 3600 s: 1 Wh.
	feed(e, []float64{0, 1800, 3600}, []float64{1, 1, 1}, []float64{0, 1, 2})
	if math.Abs(e.Value()-1) > 1e-12 {
		t.Fatalf("energy %v, want 1", e.Value())
	}
}

func TestVoltageSag(t *testing.T) {
	v := NewVoltageSag()
	feed(v, []float64{0, 1, 2, 3}, []float64{3.2, 3.0, 2.9, 3.1}, []float64{0, 0, 0, 0})
	if math.Abs(v.Value()-0.3) > 1e-12 {
		t.Fatalf("sag %v, want 0.3", v.Value())
	}
}

func TestMeanVoltage(t *testing.T) {
	m := NewMeanVoltage()
	feed(m, []float64{0, 1}, []float64{3.0, 3.4}, []float64{0, 0})
	if math.Abs(m.Value()-3.2) > 1e-12 {
		t.Fatalf("mean %v, want 3.2", m.Value())
	}
	m.Reset()
	if m.Value() != 0 {
		t.Fatal("reset should clear the mean")
	}
}

package allocation

import (
	"errors"
	"math"
	"testing"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestSpecificGravity(t *testing.T) {
	sg, err := SpecificGravity(35)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := 141.5 / (35 + 131.5)
	if sg != want {
		t.Errorf("got %v, want %v", sg, want)
	}
}

func TestSpecificGravityRejectsNonPositive(t *testing.T) {
	for _, api := range []float64{0, -10} {
		if _, err := SpecificGravity(api); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("api %v: expected ErrInvalidInput, got %v", api, err)
		}
	}
}

func TestWaterCutFactor(t *testing.T) {
	cases := []struct {
		bsw  float64
		want float64
	}{
		{0, 1.0},
		{5, 0.95},
		{100, 0.0},
	}
	for _, c := range cases {
		got, err := WaterCutFactor(c.bsw)
		if err != nil {
			t.Fatalf("bsw %v: unexpected error: %v", c.bsw, err)
		}
		if !almostEqual(got, c.want, 1e-12) {
			t.Errorf("bsw %v: got %v, want %v", c.bsw, got, c.want)
		}
	}
}

func TestWaterCutFactorRange(t *testing.T) {
	for _, bsw := range []float64{-0.1, 100.1} {
		if _, err := WaterCutFactor(bsw); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("bsw %v: expected ErrInvalidInput, got %v", bsw, err)
		}
	}
}

func TestTemperatureCorrectionAtStandardIsUnity(t *testing.T) {
	if got := TemperatureCorrectionFactor(60, 60, 35); got != 1.0 {
		t.Errorf("got %v, want 1.0", got)
	}
}

func TestTemperatureCorrectionCoefficientSwitch(t *testing.T) {
	// ΔT = 20: heavy crude uses α=0.000347, light uses α=0.000400.
	heavy := TemperatureCorrectionFactor(80, 60, 35)
	light := TemperatureCorrectionFactor(80, 60, 50)

	wantHeavy := 1.0 - 0.000347*20 - 0.000002*400
	wantLight := 1.0 - 0.000400*20 - 0.000002*400
	if !almostEqual(heavy, wantHeavy, 1e-12) {
		t.Errorf("heavy: got %v, want %v", heavy, wantHeavy)
	}
	if !almostEqual(light, wantLight, 1e-12) {
		t.Errorf("light: got %v, want %v", light, wantLight)
	}
	if heavy <= light {
		t.Errorf("heavy crude should shrink less than light: %v vs %v", heavy, light)
	}
}

func TestApiCorrectionFactor(t *testing.T) {
	got, err := ApiCorrectionFactor(80, 60, 35)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// CPL reduces to the temperature effect term.
	want := 1.0 + 0.0004*20
	if !almostEqual(got, want, 1e-12) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestNetStandardVolume(t *testing.T) {
	got := NetStandardVolume(950, 0.99, 1.008)
	want := 950 * 0.99 * 1.008
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

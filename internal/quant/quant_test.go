package quant

import (
	"errors"
	"math"
	"testing"

	"captiond/internal/accel"
	"captiond/internal/nn"
	"captiond/internal/runtime"
)

func ramp(n int) []float32 {
	w := make([]float32, n)
	for i := range w {
		w[i] = float32(math.Sin(float64(i)*0.37)) * 0.5
	}
	return w
}

func tree(acc runtime.Accelerator) *nn.Container {
	root := nn.NewContainer("Root")
	vt := nn.NewContainer("VisionTower")
	vt.Add("fc1", nn.NewLinear(acc, 8, 16, ramp(128), nil))
	root.Add("vision_tower", vt)
	lm := nn.NewContainer("LM")
	lm.Add("up_proj", nn.NewLinear(acc, 8, 16, ramp(128), make([]float32, 16)))
	lm.Add("down_proj", nn.NewLinear(acc, 16, 8, ramp(128), nil))
	root.Add("language_model", lm)
	return root
}

func precisions(t *testing.T, root runtime.Module) map[string]runtime.Precision {
	t.Helper()
	out := map[string]runtime.Precision{}
	_ = runtime.Walk(root, func(path string, m runtime.Module) error {
		if pr, ok := m.(runtime.PrecisionReporter); ok {
			out[path] = pr.Precision()
		}
		return nil
	})
	return out
}

func TestApply_Int8HonoursSkipList(t *testing.T) {
	root := tree(nil)
	st, err := Apply(root, runtime.QuantConfig{LoadIn8bit: true, SkipModules: []string{"vision_tower"}})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if st.Quantized != 2 || st.Skipped != 1 {
		t.Fatalf("stats = %+v", st)
	}
	p := precisions(t, root)
	if p["vision_tower.fc1"] != runtime.PrecisionFull {
		t.Fatalf("vision layer must stay full precision")
	}
	if p["language_model.up_proj"] != runtime.PrecisionInt8 || p["language_model.down_proj"] != runtime.PrecisionInt8 {
		t.Fatalf("language model not quantized: %v", p)
	}
}

func TestApply_NF4WithoutSkipLeaksIntoVision(t *testing.T) {
	root := tree(nil)
	if _, err := Apply(root, runtime.QuantConfig{LoadIn4bit: true, QuantType: "nf4", ComputeDType: runtime.BFloat16, DoubleQuant: true}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	m := runtime.Lookup(root, "vision_tower.fc1")
	if m.TypeName() != "Linear4bit" {
		t.Fatalf("expected Linear4bit, got %s", m.TypeName())
	}
	if !m.(*Linear4bit).DoubleQuant() || m.DType() != runtime.BFloat16 {
		t.Fatalf("double quant / compute dtype not applied")
	}
}

func TestApply_NoBitsIsNoop(t *testing.T) {
	root := tree(nil)
	st, err := Apply(root, runtime.QuantConfig{})
	if err != nil || st.Quantized != 0 {
		t.Fatalf("expected no-op, got %+v %v", st, err)
	}
	if _, err := Apply(root, runtime.QuantConfig{LoadIn4bit: true, QuantType: "fp4"}); !errors.Is(err, ErrUnsupportedScheme) {
		t.Fatalf("expected ErrUnsupportedScheme, got %v", err)
	}
}

func TestApply_RequiresHostLayers(t *testing.T) {
	pool := accel.NewPool(accel.PoolConfig{TotalBytes: 1 << 20})
	root := tree(pool)
	if err := root.To(runtime.DeviceGPU, runtime.Auto); err != nil {
		t.Fatalf("to gpu: %v", err)
	}
	if _, err := Apply(root, runtime.QuantConfig{LoadIn8bit: true}); err == nil {
		t.Fatalf("expected error quantizing device-resident layers")
	}
}

func maxAbsDiff(a, b []float32) float64 {
	var d float64
	for i := range a {
		d = math.Max(d, math.Abs(float64(a[i]-b[i])))
	}
	return d
}

func TestDequantizeError(t *testing.T) {
	src := nn.NewLinear(nil, 32, 8, ramp(256), nil)
	q8 := NewLinear8bit(src)
	if d := maxAbsDiff(q8.Dequantize(), src.Weights()); d > 0.5/127+1e-6 {
		t.Fatalf("int8 error too large: %v", d)
	}
	q4 := NewLinear4bit(src, runtime.Float16, false)
	if d := maxAbsDiff(q4.Dequantize(), src.Weights()); d > 0.1 {
		t.Fatalf("nf4 error too large: %v", d)
	}
	dq := NewLinear4bit(src, runtime.Float16, true)
	if d := maxAbsDiff(dq.Dequantize(), q4.Dequantize()); d > 0.01 {
		t.Fatalf("double quant drifted: %v", d)
	}
}

func TestForwardTracksFullPrecision(t *testing.T) {
	src := nn.NewLinear(nil, 16, 4, ramp(64), []float32{0.1, -0.1, 0.2, 0})
	x := ramp(16)
	want := src.Forward(x)
	for _, l := range []nn.Projection{NewLinear8bit(src), NewLinear4bit(src, runtime.Float32, true)} {
		if d := maxAbsDiff(l.Forward(x), want); d > 0.5 {
			t.Fatalf("%s output diverged by %v", l.TypeName(), d)
		}
	}
}

func TestQuantizedLayerResidency(t *testing.T) {
	pool := accel.NewPool(accel.PoolConfig{TotalBytes: 1 << 20})
	src := nn.NewLinear(pool, 8, 16, ramp(128), nil)
	q := NewLinear8bit(src)
	if err := q.To(runtime.DeviceGPU, runtime.Float16); err != nil {
		t.Fatalf("to gpu: %v", err)
	}
	if got := pool.Stats().Allocated; got != q.footprint() {
		t.Fatalf("allocated %d, want %d", got, q.footprint())
	}
	if err := q.To(runtime.DeviceCPU, runtime.Auto); err != nil {
		t.Fatalf("to cpu: %v", err)
	}
	if pool.Stats().Allocated != 0 {
		t.Fatalf("device bytes not released")
	}
}

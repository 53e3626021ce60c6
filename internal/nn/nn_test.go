package nn

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"captiond/internal/accel"
	"captiond/internal/runtime"
)

func newPool(total int64) *accel.Pool {
	return accel.NewPool(accel.PoolConfig{Name: "nn-test", TotalBytes: total})
}

func TestContainer_OrderAndReplace(t *testing.T) {
	c := NewContainer("Block")
	a := NewRMSNorm(nil, 2, 1e-6)
	b := NewRMSNorm(nil, 2, 1e-6)
	c.Add("b", b)
	c.Add("a", a)
	c.Add("b", a) // re-adding keeps the original position
	var names []string
	for _, ch := range c.Children() {
		names = append(names, ch.Name)
	}
	if diff := cmp.Diff([]string{"b", "a"}, names); diff != "" {
		t.Fatalf("order (-want +got):\n%s", diff)
	}
	if c.Get("b") != runtime.Module(a) {
		t.Fatalf("Add did not replace")
	}
	if err := c.ReplaceChild("missing", a); err == nil {
		t.Fatalf("expected error replacing a missing child")
	}
	if err := c.ReplaceChild("a", b); err != nil || c.Get("a") != runtime.Module(b) {
		t.Fatalf("replace: %v", err)
	}
	if NewContainer("Empty").Device() != runtime.DeviceCPU || NewContainer("Empty").DType() != runtime.Auto {
		t.Fatalf("empty container placement")
	}
}

func TestContainer_ToReportsFailingChild(t *testing.T) {
	pool := newPool(40)
	c := NewContainer("Model")
	c.Add("first", NewLinear(pool, 2, 2, make([]float32, 4), nil))   // 16 bytes
	c.Add("second", NewLinear(pool, 4, 4, make([]float32, 16), nil)) // 64 bytes
	err := c.To(runtime.DeviceGPU, runtime.Auto)
	if !errors.Is(err, runtime.ErrOutOfMemory) {
		t.Fatalf("err = %v, want OOM", err)
	}
	if got := err.Error(); len(got) < 6 || got[:6] != "second" {
		t.Fatalf("error should name the child: %q", got)
	}
	if c.Get("first").Device() != runtime.DeviceGPU || c.Get("second").Device() != runtime.DeviceCPU {
		t.Fatalf("partial move state wrong")
	}
}

func TestResidency_Move(t *testing.T) {
	pool := newPool(100)
	r := NewResidency(pool)
	if err := r.Move(runtime.DeviceGPU, 60); err != nil {
		t.Fatalf("move: %v", err)
	}
	if pool.Stats().Allocated != 60 {
		t.Fatalf("allocated=%d", pool.Stats().Allocated)
	}
	// Growing past capacity fails and keeps the old placement.
	if err := r.Move(runtime.DeviceGPU, 80); !errors.Is(err, runtime.ErrOutOfMemory) {
		t.Fatalf("err=%v", err)
	}
	if r.Device() != runtime.DeviceGPU || pool.Stats().Allocated != 60 {
		t.Fatalf("failed move changed state: %s %d", r.Device(), pool.Stats().Allocated)
	}
	if err := r.Move(runtime.DeviceCPU, 60); err != nil {
		t.Fatalf("move host: %v", err)
	}
	if pool.Stats().Allocated != 0 {
		t.Fatalf("allocated after host move=%d", pool.Stats().Allocated)
	}

	var none Residency
	if err := none.Move(runtime.DeviceGPU, 1); !errors.Is(err, runtime.ErrNoAccelerator) {
		t.Fatalf("err=%v", err)
	}
}

func TestLinear_ForwardAndCast(t *testing.T) {
	pool := newPool(1 << 10)
	l := NewLinear(pool, 3, 2, []float32{1, 2, 3, -1, 0, 1}, []float32{0.5, -0.5})
	got := l.Forward([]float32{1, 1, 1})
	if diff := cmp.Diff([]float32{6.5, -0.5}, got); diff != "" {
		t.Fatalf("forward (-want +got):\n%s", diff)
	}
	if l.Precision() != runtime.PrecisionFull || l.InFeatures() != 3 || l.OutFeatures() != 2 {
		t.Fatalf("shape/precision wrong")
	}

	if err := l.To(runtime.DeviceGPU, runtime.Float16); err != nil {
		t.Fatalf("to: %v", err)
	}
	if l.DType() != runtime.Float16 || l.Device() != runtime.DeviceGPU {
		t.Fatalf("placement %s/%s", l.Device(), l.DType())
	}
	if a := pool.Stats().Allocated; a != 16 {
		t.Fatalf("allocated=%d, want 16 (6 weights + 2 bias at 2 bytes)", a)
	}
	// 1/3 is not representable in fp16; the output is rounded.
	x := l.Forward([]float32{1.0 / 3, 0, 0})
	if x[0] == float32(1.0/3)+0.5 {
		t.Fatalf("fp16 forward not rounded: %v", x[0])
	}
	if math.Abs(float64(x[0])-(1.0/3+0.5)) > 1e-3 {
		t.Fatalf("fp16 forward too far off: %v", x[0])
	}
}

func TestLinear_IntegerCastRejected(t *testing.T) {
	l := NewLinear(nil, 1, 1, []float32{1}, nil)
	if err := l.To(runtime.DeviceCPU, runtime.Int64); err == nil {
		t.Fatalf("expected int cast to fail")
	}
	if l.DType() != runtime.Float32 {
		t.Fatalf("failed cast changed dtype")
	}
}

func TestEmbedding_Lookup(t *testing.T) {
	e := NewEmbedding(nil, 3, 2, []float32{0, 1, 2, 3, 4, 5})
	row, err := e.Lookup(2)
	if err != nil || row[0] != 4 || row[1] != 5 {
		t.Fatalf("row=%v err=%v", row, err)
	}
	row[0] = 99
	if again, _ := e.Lookup(2); again[0] != 4 {
		t.Fatalf("Lookup must return a copy")
	}
	for _, id := range []int64{-1, 3} {
		if _, err := e.Lookup(id); err == nil {
			t.Fatalf("id %d should be out of range", id)
		}
	}
}

func TestRMSNormAndGELU(t *testing.T) {
	n := NewRMSNorm(nil, 4, 1e-6)
	y := n.Forward([]float32{2, -2, 2, -2})
	for _, v := range y {
		if math.Abs(math.Abs(float64(v))-1) > 1e-4 {
			t.Fatalf("rmsnorm output %v", y)
		}
	}
	g := []float32{0, 10, -10}
	GELU(g)
	if g[0] != 0 || math.Abs(float64(g[1])-10) > 1e-4 || math.Abs(float64(g[2])) > 1e-4 {
		t.Fatalf("gelu=%v", g)
	}
	a := []float32{1, 2}
	Add(a, []float32{3, 4})
	if a[0] != 4 || a[1] != 6 {
		t.Fatalf("add=%v", a)
	}
}

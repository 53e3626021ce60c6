package nn

import (
	"fmt"
	"math"

	"captiond/internal/runtime"
)

// Projection is a dense layer y = Wx (+ b). Full-precision and quantized
// linear layers both implement it so they can be swapped in place.
type Projection interface {
	runtime.Module
	InFeatures() int
	OutFeatures() int
	Forward(x []float32) []float32
}

// Linear is a full-precision dense layer with weight shape [out, in].
type Linear struct {
	in, out int
	weight  *runtime.Tensor
	bias    *runtime.Tensor
	w, b    []float32
	res     Residency
}

// NewLinear builds a float32 host layer. bias may be nil.
func NewLinear(acc runtime.Accelerator, in, out int, weight, bias []float32) *Linear {
	l := &Linear{in: in, out: out, res: NewResidency(acc)}
	l.weight = runtime.FromFloat32([]int{out, in}, weight)
	if bias != nil {
		l.bias = runtime.FromFloat32([]int{out}, bias)
	}
	l.decode()
	return l
}

func (l *Linear) decode() {
	l.w = l.weight.Float32s()
	if l.bias != nil {
		l.b = l.bias.Float32s()
	}
}

func (l *Linear) TypeName() string          { return "Linear" }
func (l *Linear) Children() []runtime.Child { return nil }
func (l *Linear) Device() runtime.Device    { return l.res.Device() }
func (l *Linear) DType() runtime.DType      { return l.weight.DType() }
func (l *Linear) Precision() runtime.Precision {
	return runtime.PrecisionFull
}
func (l *Linear) InFeatures() int  { return l.in }
func (l *Linear) OutFeatures() int { return l.out }

// Weights returns the decoded weight matrix, row major [out, in].
func (l *Linear) Weights() []float32 { return append([]float32(nil), l.w...) }

// Bias returns the decoded bias or nil.
func (l *Linear) Bias() []float32 {
	if l.b == nil {
		return nil
	}
	return append([]float32(nil), l.b...)
}

func (l *Linear) To(dev runtime.Device, dt runtime.DType) error {
	w, err := l.weight.To(dev, dt)
	if err != nil {
		return err
	}
	var b *runtime.Tensor
	n := w.Bytes()
	if l.bias != nil {
		if b, err = l.bias.To(dev, dt); err != nil {
			return err
		}
		n += b.Bytes()
	}
	if err := l.res.Move(dev, n); err != nil {
		return err
	}
	l.weight, l.bias = w, b
	l.decode()
	return nil
}

// Forward computes in the layer's dtype: inputs and outputs are rounded
// through its storage format.
func (l *Linear) Forward(x []float32) []float32 {
	dt := l.weight.DType()
	xin := append([]float32(nil), x...)
	runtime.Round(dt, xin)
	y := make([]float32, l.out)
	for o := 0; o < l.out; o++ {
		row := l.w[o*l.in : (o+1)*l.in]
		var s float32
		for i, v := range row {
			s += v * xin[i]
		}
		if l.b != nil {
			s += l.b[o]
		}
		y[o] = s
	}
	runtime.Round(dt, y)
	return y
}

// Embedding maps token ids to vectors; weight shape [vocab, dim].
type Embedding struct {
	vocab, dim int
	weight     *runtime.Tensor
	w          []float32
	res        Residency
}

func NewEmbedding(acc runtime.Accelerator, vocab, dim int, weight []float32) *Embedding {
	e := &Embedding{vocab: vocab, dim: dim, res: NewResidency(acc)}
	e.weight = runtime.FromFloat32([]int{vocab, dim}, weight)
	e.w = e.weight.Float32s()
	return e
}

func (e *Embedding) TypeName() string          { return "Embedding" }
func (e *Embedding) Children() []runtime.Child { return nil }
func (e *Embedding) Device() runtime.Device    { return e.res.Device() }
func (e *Embedding) DType() runtime.DType      { return e.weight.DType() }
func (e *Embedding) Dim() int                  { return e.dim }

func (e *Embedding) To(dev runtime.Device, dt runtime.DType) error {
	w, err := e.weight.To(dev, dt)
	if err != nil {
		return err
	}
	if err := e.res.Move(dev, w.Bytes()); err != nil {
		return err
	}
	e.weight = w
	e.w = w.Float32s()
	return nil
}

// Lookup returns a copy of the embedding row for id.
func (e *Embedding) Lookup(id int64) ([]float32, error) {
	if id < 0 || int(id) >= e.vocab {
		return nil, fmt.Errorf("token id %d out of range [0,%d)", id, e.vocab)
	}
	return append([]float32(nil), e.w[int(id)*e.dim:(int(id)+1)*e.dim]...), nil
}

// RMSNorm normalises by root mean square and applies a learned gain.
type RMSNorm struct {
	dim    int
	eps    float32
	weight *runtime.Tensor
	w      []float32
	res    Residency
}

func NewRMSNorm(acc runtime.Accelerator, dim int, eps float32) *RMSNorm {
	ones := make([]float32, dim)
	for i := range ones {
		ones[i] = 1
	}
	n := &RMSNorm{dim: dim, eps: eps, res: NewResidency(acc)}
	n.weight = runtime.FromFloat32([]int{dim}, ones)
	n.w = n.weight.Float32s()
	return n
}

func (n *RMSNorm) TypeName() string          { return "RMSNorm" }
func (n *RMSNorm) Children() []runtime.Child { return nil }
func (n *RMSNorm) Device() runtime.Device    { return n.res.Device() }
func (n *RMSNorm) DType() runtime.DType      { return n.weight.DType() }

func (n *RMSNorm) To(dev runtime.Device, dt runtime.DType) error {
	w, err := n.weight.To(dev, dt)
	if err != nil {
		return err
	}
	if err := n.res.Move(dev, w.Bytes()); err != nil {
		return err
	}
	n.weight = w
	n.w = w.Float32s()
	return nil
}

func (n *RMSNorm) Forward(x []float32) []float32 {
	var ss float64
	for _, v := range x {
		ss += float64(v) * float64(v)
	}
	scale := float32(1 / math.Sqrt(ss/float64(len(x))+float64(n.eps)))
	y := make([]float32, len(x))
	for i, v := range x {
		y[i] = v * scale * n.w[i]
	}
	runtime.Round(n.weight.DType(), y)
	return y
}

// GELU applies the tanh approximation in place.
func GELU(x []float32) {
	const c = 0.7978845608028654 // sqrt(2/pi)
	for i, v := range x {
		f := float64(v)
		x[i] = float32(0.5 * f * (1 + math.Tanh(c*(f+0.044715*f*f*f))))
	}
}

// Add accumulates b into a.
func Add(a, b []float32) {
	for i := range a {
		a[i] += b[i]
	}
}

// Accelerator returns the runtime the layer reserves device memory on.
func (l *Linear) Accelerator() runtime.Accelerator { return l.res.Accelerator() }

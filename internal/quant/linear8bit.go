package quant

import (
	"math"

	"captiond/internal/nn"
	"captiond/internal/runtime"
)

// Linear8bitLt stores weights as int8 with one absmax scale per output row.
// Activations are computed in float16.
type Linear8bitLt struct {
	in, out int
	q       []int8
	scale   []float32
	bias    *runtime.Tensor
	b       []float32
	res     nn.Residency
}

// NewLinear8bit quantizes a full-precision layer row by row.
func NewLinear8bit(src *nn.Linear) *Linear8bitLt {
	in, out := src.InFeatures(), src.OutFeatures()
	w := src.Weights()
	l := &Linear8bitLt{
		in:    in,
		out:   out,
		q:     make([]int8, len(w)),
		scale: make([]float32, out),
		res:   nn.NewResidency(src.Accelerator()),
	}
	for o := 0; o < out; o++ {
		row := w[o*in : (o+1)*in]
		var amax float32
		for _, v := range row {
			amax = max(amax, float32(math.Abs(float64(v))))
		}
		l.scale[o] = amax / 127
		if amax == 0 {
			continue
		}
		for i, v := range row {
			l.q[o*in+i] = int8(math.Round(float64(v / amax * 127)))
		}
	}
	if b := src.Bias(); b != nil {
		l.bias, _ = runtime.FromFloat32([]int{out}, b).To(runtime.DeviceCPU, runtime.Float16)
		l.b = l.bias.Float32s()
	}
	return l
}

func (l *Linear8bitLt) TypeName() string             { return "Linear8bitLt" }
func (l *Linear8bitLt) Children() []runtime.Child    { return nil }
func (l *Linear8bitLt) Device() runtime.Device       { return l.res.Device() }
func (l *Linear8bitLt) DType() runtime.DType         { return runtime.Float16 }
func (l *Linear8bitLt) Precision() runtime.Precision { return runtime.PrecisionInt8 }
func (l *Linear8bitLt) InFeatures() int              { return l.in }
func (l *Linear8bitLt) OutFeatures() int             { return l.out }

func (l *Linear8bitLt) footprint() int64 {
	n := int64(len(l.q)) + 4*int64(len(l.scale))
	if l.bias != nil {
		n += l.bias.Bytes()
	}
	return n
}

// To moves the packed weights. dt is ignored: int8 storage is fixed.
func (l *Linear8bitLt) To(dev runtime.Device, _ runtime.DType) error {
	return l.res.Move(dev, l.footprint())
}

func (l *Linear8bitLt) Forward(x []float32) []float32 {
	xin := append([]float32(nil), x...)
	runtime.Round(runtime.Float16, xin)
	y := make([]float32, l.out)
	for o := 0; o < l.out; o++ {
		var s float32
		for i, q := range l.q[o*l.in : (o+1)*l.in] {
			s += float32(q) * xin[i]
		}
		s *= l.scale[o]
		if l.b != nil {
			s += l.b[o]
		}
		y[o] = s
	}
	runtime.Round(runtime.Float16, y)
	return y
}

// Dequantize reconstructs the float weight matrix.
func (l *Linear8bitLt) Dequantize() []float32 {
	w := make([]float32, len(l.q))
	for i, q := range l.q {
		w[i] = float32(q) * l.scale[i/l.in]
	}
	return w
}

package quant

import (
	"math"

	"captiond/internal/nn"
	"captiond/internal/runtime"
)

const (
	// BlockSize is the number of weights sharing one absmax scale.
	BlockSize = 64
	// GroupSize is the number of block scales sharing one second-level
	// scale under double quantization.
	GroupSize = 256
)

// nf4 is the 4-bit NormalFloat code book: quantiles of a standard normal
// rescaled to [-1, 1].
var nf4 = [16]float32{
	-1.0, -0.6961928009986877, -0.5250730514526367, -0.39491748809814453,
	-0.28444138169288635, -0.18477343022823334, -0.09105003625154495, 0.0,
	0.07958029955625534, 0.16093020141124725, 0.24611230194568634, 0.33791524171829224,
	0.44070982933044434, 0.5626170039176941, 0.7229568362236023, 1.0,
}

// Linear4bit stores weights as packed NF4 codes with per-block absmax.
type Linear4bit struct {
	in, out int
	n       int
	packed  []byte
	compute runtime.DType

	// absmax holds block scales directly, or is nil under double quant.
	absmax []float32
	// Double-quantized block scales: int8 codes, per-group scale and a
	// global offset.
	qabs   []int8
	gscale []float32
	offset float32

	bias *runtime.Tensor
	b    []float32
	res  nn.Residency
}

// NewLinear4bit quantizes src to NF4. compute is the activation dtype.
func NewLinear4bit(src *nn.Linear, compute runtime.DType, doubleQuant bool) *Linear4bit {
	w := src.Weights()
	if !compute.IsFloat() {
		compute = runtime.Float32
	}
	l := &Linear4bit{
		in:      src.InFeatures(),
		out:     src.OutFeatures(),
		n:       len(w),
		packed:  make([]byte, (len(w)+1)/2),
		compute: compute,
		res:     nn.NewResidency(src.Accelerator()),
	}
	blocks := (len(w) + BlockSize - 1) / BlockSize
	absmax := make([]float32, blocks)
	for bi := 0; bi < blocks; bi++ {
		lo, hi := bi*BlockSize, min((bi+1)*BlockSize, len(w))
		var amax float32
		for _, v := range w[lo:hi] {
			amax = max(amax, float32(math.Abs(float64(v))))
		}
		absmax[bi] = amax
		for i := lo; i < hi; i++ {
			var code byte
			if amax > 0 {
				code = nearestNF4(w[i] / amax)
			} else {
				code = 7
			}
			l.setCode(i, code)
		}
	}
	if doubleQuant {
		l.quantizeAbsmax(absmax)
	} else {
		l.absmax = absmax
	}
	if b := src.Bias(); b != nil {
		l.bias, _ = runtime.FromFloat32([]int{l.out}, b).To(runtime.DeviceCPU, compute)
		l.b = l.bias.Float32s()
	}
	return l
}

func nearestNF4(v float32) byte {
	best, bestD := 0, float32(math.MaxFloat32)
	for i, c := range nf4 {
		d := v - c
		if d < 0 {
			d = -d
		}
		if d < bestD {
			best, bestD = i, d
		}
	}
	return byte(best)
}

func (l *Linear4bit) setCode(i int, code byte) {
	if i%2 == 0 {
		l.packed[i/2] = l.packed[i/2]&0x0f | code<<4
	} else {
		l.packed[i/2] = l.packed[i/2]&0xf0 | code
	}
}

func (l *Linear4bit) code(i int) byte {
	if i%2 == 0 {
		return l.packed[i/2] >> 4
	}
	return l.packed[i/2] & 0x0f
}

func (l *Linear4bit) quantizeAbsmax(absmax []float32) {
	var sum float64
	for _, a := range absmax {
		sum += float64(a)
	}
	l.offset = float32(sum / float64(len(absmax)))
	groups := (len(absmax) + GroupSize - 1) / GroupSize
	l.qabs = make([]int8, len(absmax))
	l.gscale = make([]float32, groups)
	for g := 0; g < groups; g++ {
		lo, hi := g*GroupSize, min((g+1)*GroupSize, len(absmax))
		var m float32
		for _, a := range absmax[lo:hi] {
			m = max(m, float32(math.Abs(float64(a-l.offset))))
		}
		l.gscale[g] = m / 127
		if m == 0 {
			continue
		}
		for i := lo; i < hi; i++ {
			l.qabs[i] = int8(math.Round(float64((absmax[i] - l.offset) / m * 127)))
		}
	}
}

func (l *Linear4bit) blockAbsmax(bi int) float32 {
	if l.absmax != nil {
		return l.absmax[bi]
	}
	return float32(l.qabs[bi])*l.gscale[bi/GroupSize] + l.offset
}

func (l *Linear4bit) TypeName() string             { return "Linear4bit" }
func (l *Linear4bit) Children() []runtime.Child    { return nil }
func (l *Linear4bit) Device() runtime.Device       { return l.res.Device() }
func (l *Linear4bit) DType() runtime.DType         { return l.compute }
func (l *Linear4bit) Precision() runtime.Precision { return runtime.PrecisionNF4 }
func (l *Linear4bit) InFeatures() int              { return l.in }
func (l *Linear4bit) OutFeatures() int             { return l.out }

// DoubleQuant reports whether block scales are themselves quantized.
func (l *Linear4bit) DoubleQuant() bool { return l.absmax == nil }

func (l *Linear4bit) footprint() int64 {
	n := int64(len(l.packed)) + 4*int64(len(l.absmax)) + int64(len(l.qabs)) + 4*int64(len(l.gscale))
	if l.bias != nil {
		n += l.bias.Bytes()
	}
	return n
}

// To moves the packed weights. Packed codes keep their format; dt only
// changes the bias storage.
func (l *Linear4bit) To(dev runtime.Device, dt runtime.DType) error {
	var bias *runtime.Tensor
	if l.bias != nil {
		var err error
		if bias, err = l.bias.To(dev, dt); err != nil {
			return err
		}
	}
	if err := l.res.Move(dev, l.footprint()); err != nil {
		return err
	}
	if bias != nil {
		l.bias = bias
		l.b = bias.Float32s()
	}
	return nil
}

// Dequantize reconstructs the float weight matrix.
func (l *Linear4bit) Dequantize() []float32 {
	w := make([]float32, l.n)
	for i := range w {
		w[i] = nf4[l.code(i)] * l.blockAbsmax(i/BlockSize)
	}
	return w
}

func (l *Linear4bit) Forward(x []float32) []float32 {
	w := l.Dequantize()
	runtime.Round(l.compute, w)
	xin := append([]float32(nil), x...)
	runtime.Round(l.compute, xin)
	y := make([]float32, l.out)
	for o := 0; o < l.out; o++ {
		var s float32
		for i, v := range w[o*l.in : (o+1)*l.in] {
			s += v * xin[i]
		}
		if l.b != nil {
			s += l.b[o]
		}
		y[o] = s
	}
	runtime.Round(l.compute, y)
	return y
}

package manager

import (
	"context"
	"errors"
	"image"
	"image/color"
	"strings"
	"sync"
	"testing"

	"captiond/internal/accel"
	"captiond/internal/runtime"
)

const fakeLeafBytes = 1 << 10

// fakeNode is an in-memory module. Leaves reserve fakeLeafBytes on acc
// while placed on the accelerator.
type fakeNode struct {
	typ      string
	children []runtime.Child
	prec     runtime.Precision
	dev      runtime.Device
	dt       runtime.DType
	acc      runtime.Accelerator
	toErr    error
	moves    *[]string
	name     string
}

func newLeaf(name string, acc runtime.Accelerator, moves *[]string) *fakeNode {
	return &fakeNode{typ: "Linear", dev: runtime.DeviceCPU, dt: runtime.Float32, acc: acc, moves: moves, name: name}
}

func newBranch(typ string, children ...runtime.Child) *fakeNode {
	return &fakeNode{typ: typ, children: children, dev: runtime.DeviceCPU, dt: runtime.Float32}
}

func (n *fakeNode) TypeName() string          { return n.typ }
func (n *fakeNode) Children() []runtime.Child { return n.children }
func (n *fakeNode) Device() runtime.Device    { return n.dev }
func (n *fakeNode) DType() runtime.DType      { return n.dt }

func (n *fakeNode) Precision() runtime.Precision { return n.prec }

func (n *fakeNode) To(dev runtime.Device, dt runtime.DType) error {
	if n.toErr != nil {
		return n.toErr
	}
	for _, c := range n.children {
		if err := c.Module.To(dev, dt); err != nil {
			return err
		}
	}
	if len(n.children) == 0 && n.acc != nil && dev != n.dev {
		if dev == runtime.DeviceGPU {
			if err := n.acc.Reserve(fakeLeafBytes); err != nil {
				return err
			}
		} else {
			n.acc.Release(fakeLeafBytes)
		}
	}
	n.dev = dev
	if dt != runtime.Auto {
		n.dt = dt
	}
	if n.moves != nil && n.name != "" {
		*n.moves = append(*n.moves, n.name+"->"+string(dev))
	}
	return nil
}

// fakeModel is a three-part model: language model, vision tower, projector.
type fakeModel struct {
	*fakeNode
	lm, vision, projector *fakeNode
	gen                   *runtime.GenerationConfig

	mu       sync.Mutex
	genFn    func(in runtime.Inputs, opts runtime.GenerateOptions) ([]int64, error)
	lastIn   runtime.Inputs
	lastOpts runtime.GenerateOptions
}

func newFakeModel(acc runtime.Accelerator, moves *[]string) *fakeModel {
	lm := newBranch("LlamaModel", runtime.Child{Name: "up_proj", Module: newLeaf("language_model", acc, moves)})
	vision := newBranch("SiglipVisionModel", runtime.Child{Name: "fc1", Module: newLeaf("vision_tower", acc, moves)})
	proj := newBranch("LlavaMultiModalProjector", runtime.Child{Name: "linear_1", Module: newLeaf("multi_modal_projector", acc, moves)})
	root := newBranch("LlavaForConditionalGeneration",
		runtime.Child{Name: "language_model", Module: lm},
		runtime.Child{Name: "vision_tower", Module: vision},
		runtime.Child{Name: "multi_modal_projector", Module: proj},
	)
	return &fakeModel{
		fakeNode:  root,
		lm:        lm,
		vision:    vision,
		projector: proj,
		gen:       &runtime.GenerationConfig{EOSTokenID: []any{float64(2)}, BOSTokenID: 1},
	}
}

func (m *fakeModel) VisionTower() runtime.Module                 { return m.vision }
func (m *fakeModel) GenerationConfig() *runtime.GenerationConfig { return m.gen }

func (m *fakeModel) Projector() runtime.Module {
	if m.projector == nil {
		return nil
	}
	return m.projector
}

// Device follows the language model, like the embedding of a real model.
func (m *fakeModel) Device() runtime.Device { return m.lm.Device() }

func (m *fakeModel) Generate(in runtime.Inputs, opts runtime.GenerateOptions) ([]int64, error) {
	m.mu.Lock()
	m.lastIn, m.lastOpts = in, opts
	fn := m.genFn
	m.mu.Unlock()
	if fn != nil {
		return fn(in, opts)
	}
	return append(in["input_ids"].Int64s(), 10, 11, 2), nil
}

func (m *fakeModel) last() (runtime.Inputs, runtime.GenerateOptions) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastIn, m.lastOpts
}

type fakeTokenizer struct {
	words          map[int64]string
	special        map[int64]bool
	bos, eos, pad  int64
	hasBOS, hasEOS bool
	hasPad         bool
}

func newFakeTokenizer() *fakeTokenizer {
	return &fakeTokenizer{
		words:   map[int64]string{1: "<s>", 2: "</s>", 5: "<image>", 10: " a", 11: " cat", 12: `"`, 13: " dog"},
		special: map[int64]bool{1: true, 2: true, 5: true},
		bos:     1, eos: 2, hasBOS: true, hasEOS: true,
	}
}

func (t *fakeTokenizer) Decode(ids []int64, skipSpecial bool) string {
	var b strings.Builder
	for _, id := range ids {
		if skipSpecial && t.special[id] {
			continue
		}
		b.WriteString(t.words[id])
	}
	return b.String()
}

func (t *fakeTokenizer) BOSTokenID() (int64, bool) { return t.bos, t.hasBOS }
func (t *fakeTokenizer) EOSTokenID() (int64, bool) { return t.eos, t.hasEOS }
func (t *fakeTokenizer) PadTokenID() (int64, bool) { return t.pad, t.hasPad }

type fakeProcessor struct {
	tok *fakeTokenizer

	mu   sync.Mutex
	msgs []runtime.Message
}

func (p *fakeProcessor) Tokenizer() runtime.Tokenizer { return p.tok }

func (p *fakeProcessor) ApplyChatTemplate(msgs []runtime.Message, addGenerationPrompt bool) (string, error) {
	p.mu.Lock()
	p.msgs = append([]runtime.Message(nil), msgs...)
	p.mu.Unlock()
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(m.Role + ":" + m.Content + "\n")
	}
	if addGenerationPrompt {
		b.WriteString("assistant:")
	}
	return b.String(), nil
}

func (p *fakeProcessor) Encode(text string, img image.Image) (runtime.Inputs, error) {
	if img == nil {
		return nil, errors.New("no image")
	}
	return runtime.Inputs{
		"input_ids":      runtime.FromInt64([]int{1, 3}, []int64{1, 5, 7}),
		"attention_mask": runtime.FromInt64([]int{1, 3}, []int64{1, 1, 1}),
		"pixel_values":   runtime.FromFloat32([]int{1, 3, 2, 2}, make([]float32, 12)),
		"image_scale":    runtime.FromFloat32([]int{1}, []float32{1}),
	}, nil
}

// fakeProvider builds a fresh fakeModel per load. With leakVision set it
// ignores the skip list and quantizes the vision tower too.
type fakeProvider struct {
	acc         runtime.Accelerator
	leakVision  bool
	loadErr     error
	panicOnLoad bool
	tok         *fakeTokenizer

	// entered (buffered) is signalled when LoadModel starts; gate, when
	// set, then holds LoadModel until it is closed.
	entered chan struct{}
	gate    chan struct{}
	// onModel sees every model before it is placed.
	onModel func(m *fakeModel, opts runtime.LoadOptions)

	mu     sync.Mutex
	loads  int
	opts   []runtime.LoadOptions
	models []*fakeModel
	moves  []string
}

func (p *fakeProvider) LoadProcessor(ctx context.Context, source, cacheDir string) (runtime.Processor, error) {
	tok := p.tok
	if tok == nil {
		tok = newFakeTokenizer()
	}
	return &fakeProcessor{tok: tok}, nil
}

func (p *fakeProvider) LoadModel(ctx context.Context, source string, opts runtime.LoadOptions) (runtime.Model, error) {
	if p.entered != nil {
		select {
		case p.entered <- struct{}{}:
		default:
		}
	}
	if p.gate != nil {
		<-p.gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loads++
	p.opts = append(p.opts, opts)
	if p.panicOnLoad {
		panic("weights corrupted")
	}
	if p.loadErr != nil {
		return nil, p.loadErr
	}
	m := newFakeModel(p.acc, &p.moves)
	if p.onModel != nil {
		p.onModel(m, opts)
	}
	if q := opts.Quantization; q != nil {
		prec := runtime.PrecisionInt8
		if q.LoadIn4bit {
			prec = runtime.PrecisionNF4
		}
		m.lm.children[0].Module.(*fakeNode).prec = prec
		if p.leakVision {
			m.vision.children[0].Module.(*fakeNode).prec = prec
		}
	}
	dev := runtime.DeviceCPU
	if opts.DeviceMap == runtime.DeviceMapAuto && p.acc != nil && p.acc.Available() {
		dev = runtime.DeviceGPU
	}
	if err := m.To(dev, opts.DType); err != nil {
		return nil, err
	}
	p.models = append(p.models, m)
	return m, nil
}

func (p *fakeProvider) loadCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loads
}

func (p *fakeProvider) lastModel() *fakeModel {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.models) == 0 {
		return nil
	}
	return p.models[len(p.models)-1]
}

func newTestPool(bf16 bool) *accel.Pool {
	return accel.NewPool(accel.PoolConfig{Name: "test-gpu", TotalBytes: 1 << 20, ContextBytes: 4 << 10, BF16: bf16})
}

func newTestManager(t *testing.T, p *fakeProvider, acc runtime.Accelerator) (*Manager, *MemoryPublisher) {
	t.Helper()
	pub := NewMemoryPublisher(0)
	if p.acc == nil {
		p.acc = acc
	}
	m := NewWithConfig(ManagerConfig{Provider: p, Accelerator: acc, ModelSource: "test/model", Publisher: pub})
	return m, pub
}

func eventNames(pub *MemoryPublisher) []string {
	var out []string
	for _, e := range pub.Events() {
		out = append(out, e.Name)
	}
	return out
}

func solidImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 40, B: 40, A: 255})
		}
	}
	return img
}

package llava

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"strconv"

	"captiond/internal/nn"
	"captiond/internal/runtime"
)

// Model is a loaded LLaVA-style model. Its module tree mirrors the layout
// of LlavaForConditionalGeneration so skip lists and inspection use the
// familiar names.
type Model struct {
	cfg  Config
	acc  runtime.Accelerator
	root *nn.Container

	model     *nn.Container
	vision    *nn.Container
	projector *nn.Container
	lm        *nn.Container
	embed     *nn.Embedding
	posEmbed  *nn.Embedding
	norm      *nn.RMSNorm

	gen     *runtime.GenerationConfig
	special map[int64]bool
}

type initializer struct {
	seed uint64
}

func (in initializer) rng(path string) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(path))
	return rand.New(rand.NewPCG(in.seed, h.Sum64()))
}

func (in initializer) normal(path string, n int, scale float64) []float32 {
	r := in.rng(path)
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(r.NormFloat64() * scale)
	}
	return out
}

func (in initializer) linear(acc runtime.Accelerator, path string, inF, outF int, bias bool) *nn.Linear {
	w := in.normal(path+".weight", inF*outF, 1/math.Sqrt(float64(inF)))
	var b []float32
	if bias {
		b = in.normal(path+".bias", outF, 0.02)
	}
	return nn.NewLinear(acc, inF, outF, w, b)
}

// buildModel materialises float32 host weights for cfg.
func buildModel(cfg Config, acc runtime.Accelerator) *Model {
	ini := initializer{seed: cfg.Seed}
	v, t := cfg.VisionConfig, cfg.TextConfig
	eps := t.RMSNormEps
	if eps == 0 {
		eps = 1e-5
	}
	m := &Model{cfg: cfg, acc: acc}

	// vision tower
	const vp = "model.vision_tower.vision_model"
	emb := nn.NewContainer("SiglipVisionEmbeddings")
	patchIn := 3 * v.PatchSize * v.PatchSize
	emb.Add("patch_embedding", ini.linear(acc, vp+".embeddings.patch_embedding", patchIn, v.HiddenSize, true))
	m.posEmbed = nn.NewEmbedding(acc, cfg.NumPatches(), v.HiddenSize, ini.normal(vp+".embeddings.position_embedding", cfg.NumPatches()*v.HiddenSize, 0.02))
	emb.Add("position_embedding", m.posEmbed)
	layers := nn.NewContainer("ModuleList")
	for i := 0; i < v.NumHiddenLayers; i++ {
		p := vp + ".encoder.layers." + strconv.Itoa(i)
		mlp := nn.NewContainer("SiglipMLP")
		mlp.Add("fc1", ini.linear(acc, p+".mlp.fc1", v.HiddenSize, v.IntermediateSize, true))
		mlp.Add("fc2", ini.linear(acc, p+".mlp.fc2", v.IntermediateSize, v.HiddenSize, true))
		layer := nn.NewContainer("SiglipEncoderLayer")
		layer.Add("layer_norm1", nn.NewRMSNorm(acc, v.HiddenSize, 1e-6))
		layer.Add("mlp", mlp)
		layers.Add(strconv.Itoa(i), layer)
	}
	enc := nn.NewContainer("SiglipEncoder")
	enc.Add("layers", layers)
	vm := nn.NewContainer("SiglipVisionTransformer")
	vm.Add("embeddings", emb)
	vm.Add("encoder", enc)
	vm.Add("post_layernorm", nn.NewRMSNorm(acc, v.HiddenSize, 1e-6))
	m.vision = nn.NewContainer("SiglipVisionModel")
	m.vision.Add("vision_model", vm)

	// projector
	m.projector = nn.NewContainer("LlavaMultiModalProjector")
	m.projector.Add("linear_1", ini.linear(acc, "model.multi_modal_projector.linear_1", v.HiddenSize, t.HiddenSize, true))
	m.projector.Add("linear_2", ini.linear(acc, "model.multi_modal_projector.linear_2", t.HiddenSize, t.HiddenSize, true))

	// language model
	const lp = "model.language_model"
	m.embed = nn.NewEmbedding(acc, t.VocabSize, t.HiddenSize, ini.normal(lp+".embed_tokens", t.VocabSize*t.HiddenSize, 0.5))
	m.lm = nn.NewContainer("LlamaModel")
	m.lm.Add("embed_tokens", m.embed)
	lmLayers := nn.NewContainer("ModuleList")
	for i := 0; i < t.NumHiddenLayers; i++ {
		p := lp + ".layers." + strconv.Itoa(i)
		mlp := nn.NewContainer("LlamaMLP")
		mlp.Add("up_proj", ini.linear(acc, p+".mlp.up_proj", t.HiddenSize, t.IntermediateSize, false))
		mlp.Add("down_proj", ini.linear(acc, p+".mlp.down_proj", t.IntermediateSize, t.HiddenSize, false))
		layer := nn.NewContainer("LlamaDecoderLayer")
		layer.Add("input_layernorm", nn.NewRMSNorm(acc, t.HiddenSize, eps))
		layer.Add("mlp", mlp)
		lmLayers.Add(strconv.Itoa(i), layer)
	}
	m.lm.Add("layers", lmLayers)
	m.norm = nn.NewRMSNorm(acc, t.HiddenSize, eps)
	m.lm.Add("norm", m.norm)

	m.model = nn.NewContainer("LlavaModel")
	m.model.Add("vision_tower", m.vision)
	m.model.Add("multi_modal_projector", m.projector)
	m.model.Add("language_model", m.lm)

	m.root = nn.NewContainer("LlavaForConditionalGeneration")
	m.root.Add("model", m.model)
	m.root.Add("lm_head", ini.linear(acc, "lm_head", t.HiddenSize, t.VocabSize, false))
	return m
}

func (m *Model) TypeName() string            { return m.root.TypeName() }
func (m *Model) Children() []runtime.Child   { return m.root.Children() }
func (m *Model) VisionTower() runtime.Module { return m.vision }
func (m *Model) Projector() runtime.Module   { return m.projector }

// GenerationConfig is shared and mutable: resolved token ids written into
// it persist across calls.
func (m *Model) GenerationConfig() *runtime.GenerationConfig { return m.gen }

// Config returns the architecture the model was built from.
func (m *Model) Config() Config { return m.cfg }

// Device is where the language model embeddings live.
func (m *Model) Device() runtime.Device { return m.embed.Device() }

// DType is the language model's activation dtype.
func (m *Model) DType() runtime.DType { return m.embed.DType() }

func (m *Model) To(dev runtime.Device, dt runtime.DType) error { return m.root.To(dev, dt) }

// Root exposes the tree for quantization.
func (m *Model) Root() runtime.Module { return m.root }

func (m *Model) projection(path string) (nn.Projection, error) {
	p, ok := runtime.Lookup(m.root, path).(nn.Projection)
	if !ok {
		return nil, fmt.Errorf("module %s is not a projection", path)
	}
	return p, nil
}

func (m *Model) rmsnorm(path string) (*nn.RMSNorm, error) {
	n, ok := runtime.Lookup(m.root, path).(*nn.RMSNorm)
	if !ok {
		return nil, fmt.Errorf("module %s is not an RMSNorm", path)
	}
	return n, nil
}

// mlp runs h += down(gelu(up(norm(h)))) for one block.
func (m *Model) mlp(h []float32, prefix, normName, up, down string) error {
	norm, err := m.rmsnorm(prefix + "." + normName)
	if err != nil {
		return err
	}
	u, err := m.projection(prefix + ".mlp." + up)
	if err != nil {
		return err
	}
	d, err := m.projection(prefix + ".mlp." + down)
	if err != nil {
		return err
	}
	x := u.Forward(norm.Forward(h))
	nn.GELU(x)
	nn.Add(h, d.Forward(x))
	return nil
}

// encodeImage runs the vision tower and projector over CHW pixels and
// returns one language-model feature per patch. Pixels are cast to the
// vision tower's dtype first.
func (m *Model) encodeImage(px *runtime.Tensor) ([][]float32, error) {
	v := m.cfg.VisionConfig
	if px.Device() != m.vision.Device() {
		return nil, fmt.Errorf("pixel_values on %s but vision tower on %s", px.Device(), m.vision.Device())
	}
	if !px.IsFloatingPoint() {
		return nil, fmt.Errorf("pixel_values must be floating point, got %s", px.DType())
	}
	s := v.ImageSize
	if px.Len() != 3*s*s {
		return nil, fmt.Errorf("pixel_values has %d elements, want %d", px.Len(), 3*s*s)
	}
	vals := px.Float32s()
	runtime.Round(m.vision.DType(), vals)

	const vp = "model.vision_tower.vision_model"
	patchEmbed, err := m.projection(vp + ".embeddings.patch_embedding")
	if err != nil {
		return nil, err
	}
	post, err := m.rmsnorm(vp + ".post_layernorm")
	if err != nil {
		return nil, err
	}
	l1, err := m.projection("model.multi_modal_projector.linear_1")
	if err != nil {
		return nil, err
	}
	l2, err := m.projection("model.multi_modal_projector.linear_2")
	if err != nil {
		return nil, err
	}

	p := v.PatchSize
	grid := s / p
	feats := make([][]float32, 0, grid*grid)
	patch := make([]float32, 3*p*p)
	for py := 0; py < grid; py++ {
		for pxi := 0; pxi < grid; pxi++ {
			k := 0
			for c := 0; c < 3; c++ {
				for dy := 0; dy < p; dy++ {
					row := c*s*s + (py*p+dy)*s + pxi*p
					copy(patch[k:k+p], vals[row:row+p])
					k += p
				}
			}
			h := patchEmbed.Forward(patch)
			pos, err := m.posEmbed.Lookup(int64(py*grid + pxi))
			if err != nil {
				return nil, err
			}
			nn.Add(h, pos)
			for i := 0; i < v.NumHiddenLayers; i++ {
				if err := m.mlp(h, vp+".encoder.layers."+strconv.Itoa(i), "layer_norm1", "fc1", "fc2"); err != nil {
					return nil, err
				}
			}
			x := l1.Forward(post.Forward(h))
			nn.GELU(x)
			f := l2.Forward(x)
			runtime.Round(m.DType(), f)
			feats = append(feats, f)
		}
	}
	return feats, nil
}

// decodeState is the running state of the decoder: the sum of every embedding
// seen so far. Each position attends to the mean of its prefix.
type decodeState struct {
	sum []float64
	n   int
}

func newDecodeState(dim int) *decodeState { return &decodeState{sum: make([]float64, dim)} }

func (c *decodeState) push(e []float32) {
	for i, v := range e {
		c.sum[i] += float64(v)
	}
	c.n++
}

// logits computes next-token scores for the last embedding given the
// context of all embeddings up to and including it.
func (m *Model) logits(last []float32, st *decodeState) ([]float32, error) {
	dt := m.DType()
	h := make([]float32, len(last))
	for i := range h {
		h[i] = last[i] + float32(st.sum[i]/float64(st.n))
	}
	runtime.Round(dt, h)
	for i := 0; i < m.cfg.TextConfig.NumHiddenLayers; i++ {
		if err := m.mlp(h, "model.language_model.layers."+strconv.Itoa(i), "input_layernorm", "up_proj", "down_proj"); err != nil {
			return nil, err
		}
	}
	head, err := m.projection("lm_head")
	if err != nil {
		return nil, err
	}
	return head.Forward(m.norm.Forward(h)), nil
}

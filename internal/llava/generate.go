package llava

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"captiond/internal/coerce"
	"captiond/internal/runtime"
)

// bytesPerActivation bounds the per-position workspace of a forward pass.
const bytesPerActivation = 4

// Generate runs autoregressive decoding. Every input must already be on the
// device of the module that consumes it. It returns the prompt ids
// followed by the new ids.
func (m *Model) Generate(in runtime.Inputs, opts runtime.GenerateOptions) ([]int64, error) {
	if opts.MaxNewTokens <= 0 {
		return nil, errors.New("max_new_tokens must be positive")
	}
	idsT, ok := in["input_ids"]
	if !ok || idsT == nil {
		return nil, errors.New("missing input_ids")
	}
	if idsT.DType() != runtime.Int64 {
		return nil, fmt.Errorf("input_ids must be int64, got %s", idsT.DType())
	}
	dev := m.Device()
	for name, t := range in {
		if name == "pixel_values" || t == nil {
			continue
		}
		if t.Device() != dev {
			return nil, fmt.Errorf("%s on %s but model on %s", name, t.Device(), dev)
		}
	}
	prompt := idsT.Int64s()
	if len(prompt) == 0 {
		return nil, errors.New("empty prompt")
	}

	release, err := m.reserveWorkspace(len(prompt)+opts.MaxNewTokens, opts.UseCache)
	if err != nil {
		return nil, err
	}
	defer release()

	embeds, err := m.promptEmbeddings(prompt, in["pixel_values"])
	if err != nil {
		return nil, err
	}

	eos, hasEOS := coerce.ID(m.gen.EOSTokenID)
	minNew := min(m.gen.MinNewTokens, opts.MaxNewTokens)
	rng := rand.New(rand.NewPCG(opts.Seed, 0x9e3779b97f4a7c15))

	st := newDecodeState(m.cfg.TextConfig.HiddenSize)
	for _, e := range embeds {
		st.push(e)
	}
	out := append([]int64(nil), prompt...)
	last := embeds[len(embeds)-1]
	for step := 0; step < opts.MaxNewTokens; step++ {
		if !opts.UseCache {
			st = newDecodeState(m.cfg.TextConfig.HiddenSize)
			for _, e := range embeds {
				st.push(e)
			}
		}
		logits, err := m.logits(last, st)
		if err != nil {
			return nil, err
		}
		for id := range m.special {
			if hasEOS && id == eos {
				continue
			}
			if int(id) < len(logits) {
				logits[id] = float32(math.Inf(-1))
			}
		}
		if hasEOS && step < minNew && int(eos) < len(logits) {
			logits[eos] = float32(math.Inf(-1))
		}
		next := pick(logits, opts, rng)
		out = append(out, next)
		if hasEOS && next == eos {
			break
		}
		e, err := m.embed.Lookup(next)
		if err != nil {
			return nil, err
		}
		embeds = append(embeds, e)
		if opts.UseCache {
			st.push(e)
		}
		last = e
	}
	return out, nil
}

// reserveWorkspace claims activation memory for n positions on the model's
// device. The returned func gives it back.
func (m *Model) reserveWorkspace(n int, cache bool) (func(), error) {
	if m.Device() != runtime.DeviceGPU {
		return func() {}, nil
	}
	t := m.cfg.TextConfig
	bytes := int64(n)*int64(t.HiddenSize+t.IntermediateSize)*bytesPerActivation + int64(t.VocabSize)*bytesPerActivation
	if cache {
		bytes += int64(n) * int64(t.HiddenSize) * bytesPerActivation * 2
	}
	if err := m.acc.Reserve(bytes); err != nil {
		return nil, fmt.Errorf("generation workspace: %w", err)
	}
	return func() { m.acc.Release(bytes) }, nil
}

// promptEmbeddings looks up token embeddings and splices image features
// into the image-token positions.
func (m *Model) promptEmbeddings(ids []int64, px *runtime.Tensor) ([][]float32, error) {
	var feats [][]float32
	nImage := 0
	for _, id := range ids {
		if id == m.cfg.ImageTokenIndex {
			nImage++
		}
	}
	if nImage > 0 {
		if px == nil {
			return nil, errors.New("image tokens present but pixel_values missing")
		}
		var err error
		if feats, err = m.encodeImage(px); err != nil {
			return nil, err
		}
		if nImage != len(feats) {
			return nil, fmt.Errorf("image features and image tokens do not match: tokens %d, features %d", nImage, len(feats))
		}
	}
	out := make([][]float32, 0, len(ids))
	fi := 0
	for _, id := range ids {
		if id == m.cfg.ImageTokenIndex {
			out = append(out, feats[fi])
			fi++
			continue
		}
		e, err := m.embed.Lookup(id)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// pick selects the next token: argmax when not sampling, otherwise a draw
// from the temperature-scaled, nucleus-filtered distribution.
func pick(logits []float32, opts runtime.GenerateOptions, rng *rand.Rand) int64 {
	if !opts.DoSample {
		return argmax(logits)
	}
	temp := 1.0
	if opts.Temperature != nil && *opts.Temperature > 0 {
		temp = *opts.Temperature
	}
	probs := softmax(logits, temp)
	idx := make([]int, len(probs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return probs[idx[a]] > probs[idx[b]] })
	keep := len(idx)
	for i, j := range idx {
		if probs[j] == 0 {
			keep = i
			break
		}
	}
	if opts.TopP != nil && *opts.TopP < 1 {
		var cum float64
		for i, j := range idx[:keep] {
			cum += probs[j]
			if cum >= *opts.TopP {
				keep = i + 1
				break
			}
		}
	}
	idx = idx[:max(keep, 1)]
	var total float64
	for _, j := range idx {
		total += probs[j]
	}
	r := rng.Float64() * total
	for _, j := range idx {
		r -= probs[j]
		if r <= 0 {
			return int64(j)
		}
	}
	return int64(idx[len(idx)-1])
}

func argmax(v []float32) int64 {
	best := 0
	for i := range v {
		if v[i] > v[best] {
			best = i
		}
	}
	return int64(best)
}

func softmax(logits []float32, temp float64) []float64 {
	mx := math.Inf(-1)
	for _, l := range logits {
		mx = math.Max(mx, float64(l))
	}
	out := make([]float64, len(logits))
	var sum float64
	for i, l := range logits {
		if math.IsInf(float64(l), -1) {
			continue
		}
		out[i] = math.Exp((float64(l) - mx) / temp)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

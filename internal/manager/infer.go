package manager

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"captiond/internal/runtime"
)

// SystemPrompt is the fixed identity turn of every conversation.
const SystemPrompt = "You are JoyCaption."

// DefaultInstructions asks for a text-to-image prompt that recreates the
// image.
const DefaultInstructions = "You are JoyCaption. Write a Stable Diffusion/Flux prompt that will recreate the image. " +
	"Style/quality tokens first, then subject, scene, lighting, composition. No negatives."

// DefaultMaxNewTokens is used when a request leaves MaxNewTokens unset.
const DefaultMaxNewTokens = 512

// Infer captions req.Image with the resident model. A device OOM returns
// KindOutOfMemory and keeps the model loaded; every other failure,
// including a panic in model code, returns KindInferFailed.
func (m *Manager) Infer(ctx context.Context, req GenerationRequest) (GenerationResult, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.inferLocked(ctx, req)
}

// Predict makes cfg resident and captions req with it as one operation:
// no other load, unload or generation can run in between. Load failures
// carry the load kinds (see IsLoadError), the rest the Infer kinds.
func (m *Manager) Predict(ctx context.Context, cfg ModelConfig, req GenerationRequest) (GenerationResult, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	if err := m.ensureLocked(ctx, cfg); err != nil {
		return GenerationResult{}, err
	}
	return m.inferLocked(ctx, req)
}

// Caption is Predict for an unparsed (device, quant) pair.
func (m *Manager) Caption(ctx context.Context, device, quant string, req GenerationRequest) (GenerationResult, error) {
	cfg, err := ParseConfig(device, quant)
	if err != nil {
		m.recordError(err)
		return GenerationResult{}, err
	}
	return m.Predict(ctx, cfg, req)
}

// inferLocked must be called with opMu held.
func (m *Manager) inferLocked(ctx context.Context, req GenerationRequest) (res GenerationResult, err error) {
	st := m.current()
	if st == nil {
		err := newError(KindNotLoaded, "Model not loaded", nil)
		inferTotal.WithLabelValues(string(KindNotLoaded)).Inc()
		return GenerationResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return GenerationResult{}, newError(KindInferFailed, err.Error(), err)
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("inference panicked")
			res, err = GenerationResult{}, newError(KindInferFailed, fmt.Sprintf("inference panicked: %v", r), nil)
		}
		if err != nil {
			inferTotal.WithLabelValues(string(KindOf(err))).Inc()
			m.recordError(err)
			return
		}
		inferTotal.WithLabelValues("ok").Inc()
		inferDuration.Observe(res.Duration.Seconds())
	}()

	res, err = m.generate(st, req)
	if err != nil {
		return GenerationResult{}, err
	}
	res.Duration = time.Since(start)
	m.log.Debug().Int("new_tokens", res.NewTokens).Bool("sampled", res.Sampled).Dur("took", res.Duration).Msg("caption generated")
	return res, nil
}

func (m *Manager) generate(st *LoadedState, req GenerationRequest) (GenerationResult, error) {
	if req.Image == nil {
		return GenerationResult{}, newError(KindInferFailed, "no image", nil)
	}
	instructions := strings.TrimSpace(req.Instructions)
	if instructions == "" {
		instructions = DefaultInstructions
	}
	maxNew := req.MaxNewTokens
	if maxNew <= 0 {
		maxNew = DefaultMaxNewTokens
	}

	prompt, err := st.Processor.ApplyChatTemplate([]runtime.Message{
		{Role: "system", Content: SystemPrompt},
		{Role: "user", Content: instructions},
	}, true)
	if err != nil {
		return GenerationResult{}, m.inferError("chat template", err)
	}
	in, err := st.Processor.Encode(prompt, req.Image)
	if err != nil {
		return GenerationResult{}, m.inferError("encode", err)
	}
	if err := placeInputs(in, st.Model.Device(), pixelDType(st.Model.Device(), m.acc), st.ComputeDType); err != nil {
		return GenerationResult{}, m.inferError("input placement", err)
	}
	ids, ok := in["input_ids"]
	if !ok || ids == nil {
		return GenerationResult{}, newError(KindInferFailed, "processor produced no input_ids", nil)
	}
	shape := ids.Shape()
	promptLen := shape[len(shape)-1]

	tok := st.Processor.Tokenizer()
	if _, err := resolveSpecialTokens(st.Model.GenerationConfig(), tok); err != nil {
		return GenerationResult{}, err
	}

	sp := resolveSampling(req.Temperature, req.TopP)
	seed := req.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	out, err := st.Model.Generate(in, runtime.GenerateOptions{
		MaxNewTokens: maxNew,
		DoSample:     sp.doSample,
		Temperature:  sp.temperature,
		TopP:         sp.topP,
		UseCache:     true,
		Seed:         seed,
	})
	if err != nil {
		if errors.Is(err, runtime.ErrOutOfMemory) {
			m.log.Error().Err(err).Str("config", st.Config.String()).Msg("accelerator out of memory during generation")
			return GenerationResult{}, newError(KindOutOfMemory, "CUDA out of memory during generation", err)
		}
		return GenerationResult{}, m.inferError("generate", err)
	}
	if len(out) < promptLen {
		return GenerationResult{}, newError(KindInferFailed, "generated sequence shorter than prompt", nil)
	}
	newIDs := out[promptLen:]
	text := normalizeText(tok.Decode(newIDs, true))
	return GenerationResult{Text: text, NewTokens: len(newIDs), Sampled: sp.doSample}, nil
}

func (m *Manager) inferError(stage string, err error) error {
	m.log.Error().Err(err).Str("stage", stage).Strs("chain", errorChain(err)).Msg("inference failed")
	return newError(KindInferFailed, stage+": "+err.Error(), err)
}

// errorChain lists err and every error it wraps, outermost first, with
// their concrete types.
func errorChain(err error) []string {
	var out []string
	queue := []error{err}
	for len(queue) > 0 {
		e := queue[0]
		queue = queue[1:]
		if e == nil {
			continue
		}
		out = append(out, fmt.Sprintf("%T: %v", e, e))
		switch u := e.(type) {
		case interface{ Unwrap() []error }:
			queue = append(queue, u.Unwrap()...)
		case interface{ Unwrap() error }:
			queue = append(queue, u.Unwrap())
		}
	}
	return out
}

// placeInputs moves every tensor to dev. Pixels take pixelDT, other
// floating tensors computeDT, and integer tensors keep their dtype.
func placeInputs(in runtime.Inputs, dev runtime.Device, pixelDT, computeDT runtime.DType) error {
	for name, t := range in {
		if t == nil {
			continue
		}
		dt := runtime.Auto
		switch {
		case name == "pixel_values":
			dt = pixelDT
		case t.IsFloatingPoint():
			dt = computeDT
		}
		moved, err := t.To(dev, dt)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		in[name] = moved
	}
	return nil
}

// normalizeText collapses whitespace runs and strips one pair of
// enclosing double quotes.
func normalizeText(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

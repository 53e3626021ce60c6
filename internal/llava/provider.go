package llava

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"captiond/internal/quant"
	"captiond/internal/runtime"
)

// Provider loads processors and models from artifact directories below a
// cache dir.
type Provider struct {
	acc runtime.Accelerator
	log zerolog.Logger
}

// NewProvider returns a provider placing weights on acc.
func NewProvider(acc runtime.Accelerator, log zerolog.Logger) *Provider {
	return &Provider{acc: acc, log: log}
}

func (p *Provider) LoadProcessor(ctx context.Context, source, cacheDir string) (runtime.Processor, error) {
	dir, err := ResolveDir(source, cacheDir)
	if err != nil {
		return nil, err
	}
	proc, err := LoadProcessor(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("load processor %s: %w", source, err)
	}
	return proc, nil
}

// LoadModel builds the model on the host, applies quantization, then moves
// it to its target device. DeviceMapAuto targets the accelerator when one
// is available. Quantized loads need an accelerator.
func (p *Provider) LoadModel(ctx context.Context, source string, opts runtime.LoadOptions) (runtime.Model, error) {
	m, err := p.loadModel(ctx, source, opts)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", source, err)
	}
	return m, nil
}

func (p *Provider) loadModel(ctx context.Context, source string, opts runtime.LoadOptions) (*Model, error) {
	dir, err := ResolveDir(source, opts.CacheDir)
	if err != nil {
		return nil, err
	}
	cfg, err := readConfig(dir)
	if err != nil {
		return nil, err
	}
	gen, err := readGenerationConfig(dir)
	if err != nil {
		return nil, err
	}
	tc, err := readTokenizerConfig(dir)
	if err != nil {
		return nil, err
	}
	if len(tc.Vocab) != cfg.TextConfig.VocabSize {
		return nil, fmt.Errorf("tokenizer has %d pieces, vocab_size is %d", len(tc.Vocab), cfg.TextConfig.VocabSize)
	}
	dt := opts.DType
	if dt == runtime.Auto {
		if dt, err = cfg.DType(); err != nil {
			return nil, err
		}
	}
	if !dt.IsFloat() {
		return nil, fmt.Errorf("load dtype %s is not floating point", dt)
	}
	dev := runtime.DeviceCPU
	if opts.DeviceMap == runtime.DeviceMapAuto && p.acc != nil && p.acc.Available() {
		dev = runtime.DeviceGPU
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m := buildModel(cfg, p.acc)
	m.gen = gen
	m.special = newTokenizer(tc).special

	if q := opts.Quantization; q != nil && q.Bits() > 0 {
		if dev != runtime.DeviceGPU {
			return nil, fmt.Errorf("%d-bit quantization requires an accelerator: %w", q.Bits(), runtime.ErrNoAccelerator)
		}
		st, err := quant.Apply(m.root, *q)
		if err != nil {
			return nil, err
		}
		p.log.Debug().Int("bits", q.Bits()).Int("quantized", st.Quantized).Int("skipped", st.Skipped).Int64("bytes", st.Bytes).Msg("quantized linear layers")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.root.To(dev, dt); err != nil {
		// give back whatever was already placed on the device
		_ = m.root.To(runtime.DeviceCPU, runtime.Auto)
		return nil, err
	}
	p.log.Debug().Str("source", source).Str("device", string(dev)).Str("dtype", dt.String()).Msg("model materialised")
	return m, nil
}

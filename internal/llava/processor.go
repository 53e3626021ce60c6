package llava

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"text/template"

	"captiond/internal/imageproc"
	"captiond/internal/runtime"
)

// Processor renders chat templates and encodes prompt text plus an image
// into model inputs.
type Processor struct {
	cfg        ProcessorConfig
	tok        *Tokenizer
	tmpl       *template.Template
	numPatches int
	imageToken int64
}

type templateData struct {
	BOS                 string
	ImageToken          string
	Messages            []runtime.Message
	AddGenerationPrompt bool
}

// LoadProcessor reads the tokenizer and processor files from dir.
func LoadProcessor(ctx context.Context, dir string) (*Processor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg, err := readConfig(dir)
	if err != nil {
		return nil, err
	}
	tc, err := readTokenizerConfig(dir)
	if err != nil {
		return nil, err
	}
	pc, err := readProcessorConfig(dir)
	if err != nil {
		return nil, err
	}
	if pc.ImageSize != cfg.VisionConfig.ImageSize {
		return nil, fmt.Errorf("processor image_size %d does not match vision image_size %d", pc.ImageSize, cfg.VisionConfig.ImageSize)
	}
	tmpl, err := template.New("chat").Parse(pc.ChatTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse chat template: %w", err)
	}
	tok := newTokenizer(tc)
	imgID, ok := tok.ID(pc.ImageToken)
	if !ok {
		return nil, fmt.Errorf("image token %q not in vocabulary", pc.ImageToken)
	}
	if imgID != cfg.ImageTokenIndex {
		return nil, fmt.Errorf("image token id %d does not match image_token_index %d", imgID, cfg.ImageTokenIndex)
	}
	return &Processor{cfg: pc, tok: tok, tmpl: tmpl, numPatches: cfg.NumPatches(), imageToken: imgID}, nil
}

func (p *Processor) Tokenizer() runtime.Tokenizer { return p.tok }

func (p *Processor) ApplyChatTemplate(msgs []runtime.Message, addGenerationPrompt bool) (string, error) {
	data := templateData{ImageToken: p.cfg.ImageToken, Messages: msgs, AddGenerationPrompt: addGenerationPrompt}
	if id, ok := p.tok.BOSTokenID(); ok {
		data.BOS = p.tok.vocab[id]
	}
	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render chat template: %w", err)
	}
	return buf.String(), nil
}

// Encode tokenizes text, expands the single image placeholder into one
// token per patch, and produces input_ids, attention_mask and, when img is
// set, pixel_values.
func (p *Processor) Encode(text string, img image.Image) (runtime.Inputs, error) {
	raw := p.tok.Encode(text)
	n := 0
	for _, id := range raw {
		if id == p.imageToken {
			n++
		}
	}
	switch {
	case img == nil && n > 0:
		return nil, errors.New("prompt contains an image token but no image was given")
	case img != nil && n != 1:
		return nil, fmt.Errorf("expected exactly one image token in prompt, found %d", n)
	}
	ids := make([]int64, 0, len(raw)+p.numPatches)
	for _, id := range raw {
		if id == p.imageToken {
			for i := 0; i < p.numPatches; i++ {
				ids = append(ids, p.imageToken)
			}
			continue
		}
		ids = append(ids, id)
	}
	mask := make([]int64, len(ids))
	for i := range mask {
		mask[i] = 1
	}
	in := runtime.Inputs{
		"input_ids":      runtime.FromInt64([]int{1, len(ids)}, ids),
		"attention_mask": runtime.FromInt64([]int{1, len(ids)}, mask),
	}
	if img != nil {
		s := p.cfg.ImageSize
		sized := imageproc.Resize(img, image.Pt(s, s))
		mean := [3]float32{p.cfg.ImageMean[0], p.cfg.ImageMean[1], p.cfg.ImageMean[2]}
		std := [3]float32{p.cfg.ImageStd[0], p.cfg.ImageStd[1], p.cfg.ImageStd[2]}
		in["pixel_values"] = runtime.FromFloat32([]int{1, 3, s, s}, imageproc.Normalize(sized, mean, std))
	}
	return in, nil
}

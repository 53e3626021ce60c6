package llava

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Artifact is the full content of an artifact directory.
type Artifact struct {
	Config     Config
	Generation map[string]any
	Tokenizer  TokenizerConfig
	Processor  ProcessorConfig
}

// Llama-3 style header template; the image placeholder opens the user turn.
const defaultChatTemplate = `{{.BOS}}{{range .Messages}}<|start_header_id|>{{.Role}}<|end_header_id|>

{{if eq .Role "user"}}{{$.ImageToken}}{{end}}{{.Content}}<|eot_id|>{{end}}{{if .AddGenerationPrompt}}<|start_header_id|>assistant<|end_header_id|>

{{end}}`

var defaultSpecials = []string{
	"<unk>",
	"<|begin_of_text|>",
	"<|eot_id|>",
	"<|start_header_id|>",
	"<|end_header_id|>",
	"<image>",
	"<|finetune_right_pad_id|>",
}

var defaultWords = []string{
	"a", "an", "the", "of", "in", "on", "with", "and", "at", "by",
	"photo", "painting", "illustration", "portrait", "landscape", "close-up",
	"woman", "man", "cat", "dog", "bird", "tree", "house", "street", "river", "mountain",
	"sky", "sunset", "night", "forest", "city", "field", "flowers", "water",
	"red", "blue", "green", "golden", "dark", "bright", "soft", "warm", "cool",
	"light", "lighting", "shadow", "detailed", "cinematic", "masterpiece", "quality",
	"high", "best", "sharp", "focus", "background", "foreground", "composition",
	"wide", "shot", "view", "style", "digital", "art", "oil", "film", "grain",
	"you", "are", "joycaption", "write", "stable", "diffusion", "prompt", "image",
	"that", "will", "recreate", "first", "then", "subject", "scene", "no", "negatives",
}

// DefaultArtifact is a tiny model with the JoyCaption chat layout. It is
// cheap enough to run in tests and on the host.
func DefaultArtifact() Artifact {
	vocab := append([]string(nil), defaultSpecials...)
	for _, w := range defaultWords {
		vocab = append(vocab, wordPrefix+w)
	}
	vocab = append(vocab, ",", ".", "/", ":")
	return Artifact{
		Config: Config{
			ModelType:       "llava",
			ImageTokenIndex: 5,
			TorchDType:      "bfloat16",
			Seed:            42,
			TextConfig: TextConfig{
				VocabSize:        len(vocab),
				HiddenSize:       32,
				IntermediateSize: 64,
				NumHiddenLayers:  2,
				RMSNormEps:       1e-5,
			},
			VisionConfig: VisionConfig{
				ImageSize:        32,
				PatchSize:        16,
				HiddenSize:       24,
				IntermediateSize: 48,
				NumHiddenLayers:  1,
			},
		},
		Generation: map[string]any{
			"bos_token_id":   1,
			"eos_token_id":   []int{2},
			"min_new_tokens": 1,
		},
		Tokenizer: TokenizerConfig{
			Vocab:                   vocab,
			BOSToken:                "<|begin_of_text|>",
			EOSToken:                "<|eot_id|>",
			PadToken:                "<|finetune_right_pad_id|>",
			UnkToken:                "<unk>",
			AdditionalSpecialTokens: []string{"<|start_header_id|>", "<|end_header_id|>", "<image>"},
		},
		Processor: ProcessorConfig{
			ImageSize:    32,
			ImageMean:    []float32{0.5, 0.5, 0.5},
			ImageStd:     []float32{0.5, 0.5, 0.5},
			ImageToken:   "<image>",
			ChatTemplate: defaultChatTemplate,
		},
	}
}

// WriteArtifact materialises a into dir, creating it if needed.
func WriteArtifact(dir string, a Artifact) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	write := func(name string, v any) error {
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("encode %s: %w", name, err)
		}
		return os.WriteFile(filepath.Join(dir, name), b, 0o644)
	}
	if err := write(configFile, a.Config); err != nil {
		return err
	}
	if a.Generation != nil {
		if err := write(generationFile, a.Generation); err != nil {
			return err
		}
	}
	if err := write(tokenizerFile, a.Tokenizer); err != nil {
		return err
	}
	b, err := yaml.Marshal(a.Processor)
	if err != nil {
		return fmt.Errorf("encode %s: %w", processorFile, err)
	}
	return os.WriteFile(filepath.Join(dir, processorFile), b, 0o644)
}

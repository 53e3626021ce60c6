// Package llava is a pure-Go reference runtime for LLaVA-style captioning
// models: a vision tower, a multi-modal projector and a small decoder
// language model, loaded from an artifact directory.
//
// An artifact directory holds:
//
//	config.json             architecture, dtype and weight seed
//	generation_config.json  bos/eos/pad ids and min_new_tokens
//	tokenizer_config.json   vocabulary and special tokens
//	processor.yaml          chat template and image preprocessing
//
// Weights are synthesised deterministically from the seed, so two loads of
// the same artifact produce identical models.
package llava

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"captiond/internal/common/fsutil"
	"captiond/internal/runtime"
)

const (
	configFile     = "config.json"
	generationFile = "generation_config.json"
	tokenizerFile  = "tokenizer_config.json"
	processorFile  = "processor.yaml"
)

// TextConfig describes the decoder language model.
type TextConfig struct {
	VocabSize        int     `json:"vocab_size"`
	HiddenSize       int     `json:"hidden_size"`
	IntermediateSize int     `json:"intermediate_size"`
	NumHiddenLayers  int     `json:"num_hidden_layers"`
	RMSNormEps       float32 `json:"rms_norm_eps"`
}

// VisionConfig describes the patch encoder.
type VisionConfig struct {
	ImageSize        int `json:"image_size"`
	PatchSize        int `json:"patch_size"`
	HiddenSize       int `json:"hidden_size"`
	IntermediateSize int `json:"intermediate_size"`
	NumHiddenLayers  int `json:"num_hidden_layers"`
}

// Config is the parsed config.json.
type Config struct {
	ModelType       string       `json:"model_type"`
	ImageTokenIndex int64        `json:"image_token_index"`
	TorchDType      string       `json:"torch_dtype"`
	Seed            uint64       `json:"seed"`
	TextConfig      TextConfig   `json:"text_config"`
	VisionConfig    VisionConfig `json:"vision_config"`
}

// NumPatches is the number of image features spliced into the prompt.
func (c Config) NumPatches() int {
	n := c.VisionConfig.ImageSize / c.VisionConfig.PatchSize
	return n * n
}

func (c Config) validate() error {
	v, t := c.VisionConfig, c.TextConfig
	switch {
	case c.ModelType != "" && c.ModelType != "llava":
		return fmt.Errorf("unsupported model_type %q", c.ModelType)
	case v.PatchSize <= 0 || v.ImageSize <= 0 || v.ImageSize%v.PatchSize != 0:
		return fmt.Errorf("image_size %d is not a multiple of patch_size %d", v.ImageSize, v.PatchSize)
	case v.HiddenSize <= 0 || v.IntermediateSize <= 0:
		return errors.New("vision_config: hidden and intermediate sizes must be positive")
	case t.VocabSize <= 0 || t.HiddenSize <= 0 || t.IntermediateSize <= 0:
		return errors.New("text_config: vocab, hidden and intermediate sizes must be positive")
	case c.ImageTokenIndex < 0 || c.ImageTokenIndex >= int64(t.VocabSize):
		return fmt.Errorf("image_token_index %d outside vocabulary", c.ImageTokenIndex)
	}
	return nil
}

// DType is the artifact's stored dtype, float32 when unset.
func (c Config) DType() (runtime.DType, error) {
	dt, err := runtime.ParseDType(c.TorchDType)
	if err != nil {
		return runtime.Auto, err
	}
	if dt == runtime.Auto {
		return runtime.Float32, nil
	}
	if !dt.IsFloat() {
		return runtime.Auto, fmt.Errorf("torch_dtype %q is not floating point", c.TorchDType)
	}
	return dt, nil
}

// TokenizerConfig is the parsed tokenizer_config.json.
type TokenizerConfig struct {
	Vocab                   []string `json:"vocab"`
	BOSToken                string   `json:"bos_token,omitempty"`
	EOSToken                string   `json:"eos_token,omitempty"`
	PadToken                string   `json:"pad_token,omitempty"`
	UnkToken                string   `json:"unk_token"`
	AdditionalSpecialTokens []string `json:"additional_special_tokens,omitempty"`
}

// ProcessorConfig is the parsed processor.yaml.
type ProcessorConfig struct {
	ImageSize    int       `yaml:"image_size"`
	ImageMean    []float32 `yaml:"image_mean"`
	ImageStd     []float32 `yaml:"image_std"`
	ImageToken   string    `yaml:"image_token"`
	ChatTemplate string    `yaml:"chat_template"`
}

// ResolveDir maps a model id to its artifact directory. With a cache dir
// the id is treated as a relative path below it.
func ResolveDir(source, cacheDir string) (string, error) {
	if cacheDir != "" {
		base, err := fsutil.ExpandHome(cacheDir)
		if err != nil {
			return "", err
		}
		return filepath.Join(base, filepath.FromSlash(source)), nil
	}
	return fsutil.ExpandHome(source)
}

func readJSON(dir, name string, v any) error {
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}

func readConfig(dir string) (Config, error) {
	var c Config
	if err := readJSON(dir, configFile, &c); err != nil {
		return c, err
	}
	return c, c.validate()
}

// readGenerationConfig tolerates a missing file.
func readGenerationConfig(dir string) (*runtime.GenerationConfig, error) {
	g := &runtime.GenerationConfig{}
	err := readJSON(dir, generationFile, g)
	if errors.Is(err, os.ErrNotExist) {
		return g, nil
	}
	return g, err
}

func readTokenizerConfig(dir string) (TokenizerConfig, error) {
	var tc TokenizerConfig
	if err := readJSON(dir, tokenizerFile, &tc); err != nil {
		return tc, err
	}
	if len(tc.Vocab) == 0 {
		return tc, errors.New("tokenizer_config: empty vocabulary")
	}
	return tc, nil
}

func readProcessorConfig(dir string) (ProcessorConfig, error) {
	var pc ProcessorConfig
	b, err := os.ReadFile(filepath.Join(dir, processorFile))
	if err != nil {
		return pc, err
	}
	if err := yaml.Unmarshal(b, &pc); err != nil {
		return pc, fmt.Errorf("parse %s: %w", processorFile, err)
	}
	if pc.ImageSize <= 0 {
		return pc, errors.New("processor: image_size must be positive")
	}
	if len(pc.ImageMean) != 3 || len(pc.ImageStd) != 3 {
		return pc, errors.New("processor: image_mean and image_std need 3 channels")
	}
	if pc.ImageToken == "" {
		pc.ImageToken = "<image>"
	}
	return pc, nil
}

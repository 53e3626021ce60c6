package main

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// isolate keeps the user's config file out of the test.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 8), G: uint8(y * 8), B: 90, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "warn", "json")
	log.Info().Msg("hidden")
	log.Warn().Msg("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"message":"shown"`) || !strings.Contains(out, `"service":"captiond"`) {
		t.Fatalf("json log=%q", out)
	}

	buf.Reset()
	log = newLogger(&buf, "bogus", "console")
	if log.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("level=%s", log.GetLevel())
	}
	log.Info().Msg("console line")
	if out := buf.String(); strings.HasPrefix(out, "{") || !strings.Contains(out, "console line") {
		t.Fatalf("console log=%q", out)
	}
}

func TestResolveConfig_Precedence(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "captiond.yaml")
	if err := os.WriteFile(cfgPath, []byte("model_id: file/model\ncache_dir: /from-file\naccelerator: nvidia\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	envCache := t.TempDir()
	t.Setenv("CAPTIOND_CACHE", envCache)

	// File < env < flags. artifact prints the resolved model directory.
	out, _, err := runCLI(t, "artifact", "--config", cfgPath)
	if err != nil {
		t.Fatalf("artifact: %v", err)
	}
	if got, want := strings.TrimSpace(out), filepath.Join(envCache, "file", "model"); got != want {
		t.Fatalf("dir=%q want %q", got, want)
	}
	out, _, err = runCLI(t, "artifact", "--config", cfgPath, "--model-id", "flag/model")
	if err != nil {
		t.Fatalf("artifact: %v", err)
	}
	if got, want := strings.TrimSpace(out), filepath.Join(envCache, "flag", "model"); got != want {
		t.Fatalf("dir=%q want %q", got, want)
	}

	if _, _, err := runCLI(t, "artifact", "--config", cfgPath, "--accelerator", "tpu"); err == nil {
		t.Fatalf("expected invalid accelerator to fail")
	}
}

func TestGPU_HostOnly(t *testing.T) {
	isolate(t)
	out, _, err := runCLI(t, "gpu", "--accelerator", "cpu")
	if err != nil {
		t.Fatalf("gpu: %v", err)
	}
	if !strings.Contains(out, "no accelerator available") {
		t.Fatalf("out=%q", out)
	}
}

func TestArtifactThenCaption(t *testing.T) {
	isolate(t)
	cache := t.TempDir()
	common := []string{"--cache-dir", cache, "--model-id", "test/llava-tiny", "--accelerator", "cpu", "--log-level", "error"}

	out, _, err := runCLI(t, append([]string{"artifact"}, common...)...)
	if err != nil {
		t.Fatalf("artifact: %v", err)
	}
	if got := strings.TrimSpace(out); got != filepath.Join(cache, "test", "llava-tiny") {
		t.Fatalf("artifact dir=%q", got)
	}

	img := filepath.Join(t.TempDir(), "scene.png")
	writePNG(t, img, 24, 16)
	args := append([]string{"caption", img, "--device", "cpu", "--max-tokens", "4", "--temperature", "0", "--top-p", "0", "--write-txt"}, common...)
	out, _, err = runCLI(t, args...)
	if err != nil {
		t.Fatalf("caption: %v", err)
	}
	caption := strings.TrimSpace(out)
	if caption == "" {
		t.Fatalf("empty caption")
	}
	b, err := os.ReadFile(strings.TrimSuffix(img, ".png") + ".txt")
	if err != nil {
		t.Fatalf("sidecar: %v", err)
	}
	if string(b) != caption+"\n" {
		t.Fatalf("sidecar=%q caption=%q", b, caption)
	}
}

func TestCaption_UnknownQuant(t *testing.T) {
	isolate(t)
	cache := t.TempDir()
	img := filepath.Join(t.TempDir(), "x.png")
	writePNG(t, img, 8, 8)
	_, _, err := runCLI(t, "caption", img, "--device", "gpu", "--quant", "fp8", "--cache-dir", cache, "--accelerator", "cpu")
	if err == nil || !strings.Contains(err.Error(), "fp8") {
		t.Fatalf("err=%v", err)
	}
}

func TestModels(t *testing.T) {
	isolate(t)
	cache := t.TempDir()
	out, _, err := runCLI(t, "models", "--cache-dir", cache)
	if err != nil || !strings.Contains(out, "no model artifacts") {
		t.Fatalf("empty cache: %q %v", out, err)
	}
	if _, _, err := runCLI(t, "artifact", "--cache-dir", cache, "--model-id", "test/llava-tiny"); err != nil {
		t.Fatalf("artifact: %v", err)
	}
	out, _, err = runCLI(t, "models", "--cache-dir", cache, "--model-id", "test/llava-tiny")
	if err != nil {
		t.Fatalf("models: %v", err)
	}
	if !strings.Contains(out, "test/llava-tiny") || !strings.Contains(out, "true") {
		t.Fatalf("out=%q", out)
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func fptr(v float64) *float64 { return &v }

func TestLoad_Formats(t *testing.T) {
	want := Config{
		Addr:               ":9999",
		ModelID:            "test/llava-tiny",
		CacheDir:           "/models",
		Accelerator:        "cpu",
		GPUMemoryMB:        512,
		DefaultQuant:       "nf4",
		DefaultTemperature: fptr(0),
		Preload:            "gpu:int8",
		CORSAllowedOrigins: []string{"http://localhost:3000"},
	}
	d := t.TempDir()
	files := map[string]string{
		"cfg.yaml": "addr: :9999\nmodel_id: test/llava-tiny\ncache_dir: /models\naccelerator: cpu\ngpu_memory_mb: 512\ndefault_quant: nf4\ndefault_temperature: 0\npreload: gpu:int8\ncors_allowed_origins: [\"http://localhost:3000\"]\n",
		"cfg.json": `{"addr":":9999","model_id":"test/llava-tiny","cache_dir":"/models","accelerator":"cpu","gpu_memory_mb":512,"default_quant":"nf4","default_temperature":0,"preload":"gpu:int8","cors_allowed_origins":["http://localhost:3000"]}`,
		"cfg.toml": "addr=\":9999\"\nmodel_id=\"test/llava-tiny\"\ncache_dir=\"/models\"\naccelerator=\"cpu\"\ngpu_memory_mb=512\ndefault_quant=\"nf4\"\ndefault_temperature=0.0\npreload=\"gpu:int8\"\ncors_allowed_origins=[\"http://localhost:3000\"]\n",
	}
	for name, content := range files {
		cfg, err := Load(writeTempFile(t, d, name, content))
		if err != nil {
			t.Fatalf("%s: load: %v", name, err)
		}
		if diff := cmp.Diff(want, cfg); diff != "" {
			t.Fatalf("%s (-want +got):\n%s", name, diff)
		}
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error on empty path")
	}
	if _, err := Load("/definitely/not/a/real/file-12345.yaml"); err == nil {
		t.Fatalf("expected error for nonexistent file")
	}
	d := t.TempDir()
	bad := map[string]string{
		"cfg.txt":  "not supported",
		"bad.yaml": "addr: :8080\n: broken\n",
		"bad.json": `{ "addr": ":8080", "model_id": }`,
		"bad.toml": "addr=:8080\nmodel_id\n",
	}
	for name, content := range bad {
		if _, err := Load(writeTempFile(t, d, name, content)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"CAPTIOND_ADDR":          "0.0.0.0:6000",
		"CAPTIOND_MODEL_ID":      "  other/model ",
		"CAPTIOND_CACHE":         "/cache",
		"CAPTIOND_ACCELERATOR":   "nvidia",
		"CAPTIOND_LOG_LEVEL":     "debug",
		"CAPTIOND_GPU_MEMORY_MB": "bogus",
		"CAPTIOND_PRELOAD":       "",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	got := Config{Addr: ":1", Preload: "cpu", GPUMemoryMB: 7}.applyEnv(lookup)
	want := Config{Addr: "0.0.0.0:6000", ModelID: "other/model", CacheDir: "/cache", Accelerator: "nvidia", LogLevel: "debug", Preload: "cpu", GPUMemoryMB: 7}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("env (-want +got):\n%s", diff)
	}
}

func TestApplyEnv_Process(t *testing.T) {
	t.Setenv("CAPTIOND_GPU_MEMORY_MB", "2048")
	if got := (Config{}).ApplyEnv(); got.GPUMemoryMB != 2048 {
		t.Fatalf("gpu_memory_mb=%d", got.GPUMemoryMB)
	}
}

func TestWithDefaultsAndValidate(t *testing.T) {
	cfg := Config{}.WithDefaults()
	if cfg.Addr != DefaultAddr || cfg.ModelID != DefaultModelID || cfg.Accelerator != "auto" || cfg.LogFormat != "json" {
		t.Fatalf("defaults: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate defaults: %v", err)
	}
	for _, bad := range []Config{
		{Accelerator: "tpu", LogFormat: "json"},
		{Accelerator: "cpu", LogFormat: "xml"},
		{Accelerator: "cpu", LogFormat: "json", Preload: ":int8"},
		{Accelerator: "cpu", LogFormat: "json", GPUMemoryMB: -1},
	} {
		if err := bad.Validate(); err == nil {
			t.Fatalf("expected error for %+v", bad)
		}
	}
}

func TestSplitPreload(t *testing.T) {
	cases := []struct{ in, dev, quant string }{
		{"gpu:nf4", "gpu", "nf4"},
		{" cpu ", "cpu", ""},
		{"gpu : bf16", "gpu", "bf16"},
	}
	for _, c := range cases {
		dev, quant, err := SplitPreload(c.in)
		if err != nil || dev != c.dev || quant != c.quant {
			t.Fatalf("SplitPreload(%q) = %q, %q, %v", c.in, dev, quant, err)
		}
	}
}

func TestSplitCSV(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"a,b,c", []string{"a", "b", "c"}},
		{" a , b , c ", []string{"a", "b", "c"}},
		{"a,,c", []string{"a", "c"}},
		{"", nil},
	}
	for _, c := range cases {
		if diff := cmp.Diff(c.want, SplitCSV(c.in)); diff != "" {
			t.Fatalf("%q (-want +got):\n%s", c.in, diff)
		}
	}
}

func TestDiscover(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	if got := Discover(); got != "" {
		t.Fatalf("Discover() = %q", got)
	}
	home := os.Getenv("HOME")
	dir := filepath.Join(home, ".config", "captiond")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	p := writeTempFile(t, dir, "config.toml", "addr=\":1\"\n")
	if got := Discover(); got != p {
		t.Fatalf("Discover() = %q, want %q", got, p)
	}
}

package httpapi

// maxBodyBytes caps request bodies, including multipart image uploads.
var maxBodyBytes int64 = 32 << 20

// SetMaxBodyBytes configures the maximum request body size (<=0 restores
// the 32 MiB default).
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 32 << 20
		return
	}
	maxBodyBytes = n
}

// Defaults are applied to /predict and /load fields the client omits.
type Defaults struct {
	Device      string
	Quant       string
	ImageSide   int
	MaxTokens   int
	Temperature float64
	TopP        float64
}

// DefaultDefaults mirrors the desktop client: gpu/int8, 448 px, 512
// tokens, temperature 0.6, top_p 0.9.
var DefaultDefaults = Defaults{
	Device:      "gpu",
	Quant:       "int8",
	ImageSide:   448,
	MaxTokens:   512,
	Temperature: 0.6,
	TopP:        0.9,
}

var defaults = DefaultDefaults

// SetDefaults replaces the request defaults. Zero fields keep the built-in
// value, except Temperature and TopP where zero is meaningful.
func SetDefaults(d Defaults) {
	if d.Device == "" {
		d.Device = DefaultDefaults.Device
	}
	if d.Quant == "" {
		d.Quant = DefaultDefaults.Quant
	}
	if d.ImageSide <= 0 {
		d.ImageSide = DefaultDefaults.ImageSide
	}
	if d.MaxTokens <= 0 {
		d.MaxTokens = DefaultDefaults.MaxTokens
	}
	defaults = d
}

// Request clamps.
const (
	minTokens = 1
	maxTokens = 4096
	maxTemp   = 2.0
)

// CORS configuration (opt-in). If disabled, no CORS middleware is added.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures CORS behavior for the HTTP server.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}

package manager

import (
	"strings"

	"captiond/internal/runtime"
)

// quantizedVisionModules returns the paths of low-bit modules found in the
// vision tower or projector.
func quantizedVisionModules(mdl runtime.Model) []string {
	var leaks []string
	for _, root := range []struct {
		prefix string
		mod    runtime.Module
	}{
		{"vision_tower", mdl.VisionTower()},
		{"multi_modal_projector", mdl.Projector()},
	} {
		_ = runtime.Walk(root.mod, func(path string, mod runtime.Module) error {
			if isQuantized(mod) {
				leaks = append(leaks, runtime.JoinPath(root.prefix, path))
			}
			return nil
		})
	}
	return leaks
}

func isQuantized(mod runtime.Module) bool {
	if pr, ok := mod.(runtime.PrecisionReporter); ok {
		return pr.Precision().Quantized()
	}
	// Compatibility shim for modules that do not report precision.
	name := strings.ToLower(mod.TypeName())
	return strings.Contains(name, "linear4bit") || strings.Contains(name, "linear8bit")
}

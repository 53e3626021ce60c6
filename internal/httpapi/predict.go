package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"io"
	"mime"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"captiond/internal/coerce"
	"captiond/internal/common/fsutil"
	"captiond/internal/imageproc"
	"captiond/internal/manager"
	"captiond/pkg/types"
)

// multipartMemory is how much of a multipart body is kept in memory before
// spilling file parts to disk.
const multipartMemory = 8 << 20

// params are request fields from a form or a JSON object. Form values win.
type params struct {
	form  map[string][]string
	body  map[string]any
	image []byte
}

func (p params) get(name string) any {
	if vs, ok := p.form[name]; ok && len(vs) > 0 {
		return vs[0]
	}
	if v, ok := p.body[name]; ok && v != nil {
		return v
	}
	return nil
}

// first returns the first field present among names.
func (p params) first(names ...string) any {
	for _, n := range names {
		if v := p.get(n); v != nil {
			return v
		}
	}
	return nil
}

type paramError struct {
	status    int
	code, msg string
}

func stringParam(v any, def string) string { return coerce.String(v, def) }

// readParams parses multipart, urlencoded and JSON bodies. A multipart
// "image" part or a base64 JSON "image" field is returned in params.image.
func readParams(w http.ResponseWriter, r *http.Request) (params, *paramError) {
	var p params
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return p, nil
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return p, &paramError{http.StatusBadRequest, CodeBadRequest, "invalid Content-Type"}
	}
	switch mt {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return p, &paramError{http.StatusBadRequest, CodeBadRequest, "invalid multipart body"}
		}
		p.form = r.MultipartForm.Value
		if fhs := r.MultipartForm.File["image"]; len(fhs) > 0 {
			f, err := fhs[0].Open()
			if err != nil {
				return p, &paramError{http.StatusBadRequest, CodeBadImage, "unable to read image"}
			}
			defer f.Close()
			if p.image, err = io.ReadAll(f); err != nil {
				return p, &paramError{http.StatusBadRequest, CodeBadImage, "unable to read image"}
			}
		}
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return p, &paramError{http.StatusBadRequest, CodeBadRequest, "invalid form body"}
		}
		p.form = r.PostForm
	case "application/json":
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&p.body); err != nil && !errors.Is(err, io.EOF) {
			return p, &paramError{http.StatusBadRequest, CodeBadRequest, "invalid JSON body"}
		}
		if s, ok := p.body["image"].(string); ok && s != "" {
			if i := strings.Index(s, ";base64,"); i >= 0 {
				s = s[i+len(";base64,"):]
			}
			b, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return p, &paramError{http.StatusBadRequest, CodeBadImage, "image is not valid base64"}
			}
			p.image = b
		}
	default:
		return p, &paramError{http.StatusUnsupportedMediaType, CodeUnsupportedContent, "Content-Type must be multipart/form-data, application/x-www-form-urlencoded or application/json"}
	}
	return p, nil
}

// predictOptions are the coerced and clamped /predict fields.
type predictOptions struct {
	device, quant string
	imagePath     string
	side          int
	maxTokens     int
	temperature   float64
	topP          float64
	prompt        string
	writeTxt      bool
	seed          uint64
}

func parsePredict(p params) predictOptions {
	o := predictOptions{
		device:      stringParam(p.get("device"), defaults.Device),
		quant:       stringParam(p.get("quant"), defaults.Quant),
		imagePath:   stringParam(p.get("image_path"), ""),
		side:        imageproc.ClampSide(coerce.Int(p.first("image_side", "side"), defaults.ImageSide)),
		maxTokens:   min(max(coerce.Int(p.get("max_tokens"), defaults.MaxTokens), minTokens), maxTokens),
		temperature: min(max(coerce.Float(p.get("temperature"), defaults.Temperature), 0), maxTemp),
		topP:        min(max(coerce.Float(p.get("top_p"), defaults.TopP), 0), 1),
		prompt:      stringParam(p.get("prompt"), ""),
		writeTxt:    coerce.Bool(p.get("write_txt"), false),
	}
	if s := coerce.Int(p.get("seed"), 0); s > 0 {
		o.seed = uint64(s)
	}
	return o
}

// predict godoc
// @Summary Caption an image
// @Description Decodes the image and resizes it so its shorter side is image_side, then loads the requested configuration if needed and generates a caption with it.
// @Tags caption
// @Accept mpfd,json,x-www-form-urlencoded
// @Produce json
// @Param image formData file false "image file"
// @Param body body types.PredictRequest false "JSON request"
// @Success 200 {object} types.PredictResponse
// @Failure 400 {object} types.ErrorResponse
// @Failure 409 {object} types.ErrorResponse
// @Failure 500 {object} types.ErrorResponse
// @Router /predict [post]
func (h *handlers) predict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	p, perr := readParams(w, r)
	if perr != nil {
		writeJSONError(w, perr.status, perr.code, perr.msg)
		return
	}
	o := parsePredict(p)
	lg := reqLogger(r, LevelInfo)
	if lg != nil {
		lg.Info().Str("device", o.device).Str("quant", o.quant).Int("side", o.side).Int("max_tokens", o.maxTokens).
			Float64("temperature", o.temperature).Float64("top_p", o.topP).Msg("predict start")
	}

	img, srcPath, perr := loadImage(p, o.imagePath)
	if perr != nil {
		h.fail(w, r, start, perr.status, perr.code, perr.msg, nil)
		return
	}
	img, err := imageproc.ResizeShortestSide(img, o.side)
	if err != nil {
		h.fail(w, r, start, http.StatusBadRequest, CodeBadImage, err.Error(), err)
		return
	}

	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	res, err := h.svc.Caption(ctx, o.device, o.quant, manager.GenerationRequest{
		Image:        img,
		MaxNewTokens: o.maxTokens,
		Instructions: o.prompt,
		Temperature:  o.temperature,
		TopP:         o.topP,
		Seed:         o.seed,
	})
	if err != nil {
		if manager.IsLoadError(err) {
			status, code := loadErrorStatus(err)
			h.fail(w, r, start, status, code, err.Error(), err)
			return
		}
		status, code, msg := inferErrorStatus(err)
		h.fail(w, r, start, status, code, msg, err)
		return
	}

	resp := types.PredictResponse{OK: true, Text: res.Text, RequestID: middleware.GetReqID(r.Context())}
	if o.writeTxt && srcPath != "" {
		txt, err := fsutil.WriteSidecarText(srcPath, res.Text)
		if err != nil {
			sidecarWritesTotal.WithLabelValues("error").Inc()
			resp.Warn = "write failed: " + err.Error()
			if wl := reqLogger(r, LevelError); wl != nil {
				wl.Warn().Err(err).Str("image_path", srcPath).Msg("caption sidecar write failed")
			}
		} else {
			sidecarWritesTotal.WithLabelValues("ok").Inc()
			resp.TxtPath = &txt
		}
	}
	if lg != nil {
		lg.Info().Int("status", http.StatusOK).Int("new_tokens", res.NewTokens).Dur("dur", time.Since(start)).Msg("predict end")
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, start time.Time, status int, code, msg string, err error) {
	if lg := reqLogger(r, LevelError); lg != nil {
		lg.Error().Err(err).Int("status", status).Str("code", code).Dur("dur", time.Since(start)).Msg(msg)
	}
	writeJSONError(w, status, code, msg)
}

// loadImage decodes the uploaded image, or else the file at path. It
// returns the resolved path for sidecar output when the image came from
// disk.
func loadImage(p params, path string) (image.Image, string, *paramError) {
	if p.image != nil {
		img, err := imageproc.DecodeBytes(p.image)
		if errors.Is(err, imageproc.ErrTooLarge) {
			return nil, "", &paramError{http.StatusBadRequest, CodeBadImage, err.Error()}
		}
		if err != nil {
			return nil, "", &paramError{http.StatusBadRequest, CodeBadImage, "unable to decode image"}
		}
		return img, "", nil
	}
	if path == "" {
		return nil, "", &paramError{http.StatusBadRequest, CodeBadImage, "missing image or image_path"}
	}
	src, err := fsutil.ResolveFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, fsutil.ErrNotRegularFile) {
			return nil, "", &paramError{http.StatusBadRequest, CodeBadPath, "image_path does not exist: " + src}
		}
		return nil, "", &paramError{http.StatusBadRequest, CodeBadPath, err.Error()}
	}
	img, err := imageproc.DecodeFile(src)
	if errors.Is(err, imageproc.ErrTooLarge) {
		return nil, "", &paramError{http.StatusBadRequest, CodeBadImage, err.Error()}
	}
	if err != nil {
		return nil, "", &paramError{http.StatusBadRequest, CodeBadImage, "unable to open image_path"}
	}
	return img, src, nil
}

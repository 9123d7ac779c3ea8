package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/image/draw"

	"github.com/banshee-data/mvlm/internal/httputil"
	"github.com/banshee-data/mvlm/internal/landmark"
	"github.com/banshee-data/mvlm/internal/render"
)

// maxReplyBytes bounds the size of an inference reply.
const maxReplyBytes = 64 << 20

// Remote is an Oracle backed by an HTTP inference service. Each view is
// posted as a multipart form: the PNG image (plus a depth PNG for RGB+depth
// renders) and the model, checkpoint, channel and device fields.
//
// The service answers with either explicit landmarks
//
//	{"landmarks": [{"x": 12.5, "y": 40.1, "confidence": 0.93}, ...]}
//
// in pixels of the posted image, or with one heatmap per landmark
//
//	{"heatmaps": [{"width": 64, "height": 64, "data": [...]}, ...]}
//
// which is decoded with DecodeHeatmap. Either way coordinates are scaled back
// to the rendered image.
type Remote struct {
	url        string
	client     httputil.Doer
	model      Model
	channels   render.ChannelMode
	checkpoint string
	inputSize  int
	device     Device
}

var _ Oracle = (*Remote)(nil)

// NewRemote validates the service URL and model and returns a Remote.
func NewRemote(opts Options) (*Remote, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid oracle url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("oracle url must be http or https, got %q", opts.URL)
	}
	ckpt, err := opts.Model.Checkpoint(opts.Channels)
	if err != nil {
		return nil, err
	}
	if opts.InputSize < 0 {
		return nil, fmt.Errorf("oracle input size must be non-negative, got %d", opts.InputSize)
	}
	client := opts.Client
	if client == nil {
		client = httputil.NewClient(opts.Timeout)
	}
	dev := opts.Device
	if dev.Name == "" {
		dev = CPU
	}
	return &Remote{
		url:        u.String(),
		client:     client,
		model:      opts.Model,
		channels:   opts.Channels,
		checkpoint: ckpt,
		inputSize:  opts.InputSize,
		device:     dev,
	}, nil
}

// LandmarkCount implements Oracle.
func (r *Remote) LandmarkCount() int { return r.model.Landmarks() }

// LandmarkNames implements Named.
func (r *Remote) LandmarkNames() []string { return r.model.Names() }

type remoteLandmark struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Confidence float64 `json:"confidence"`
	Valid      *bool   `json:"valid,omitempty"`
}

type remoteReply struct {
	Landmarks []remoteLandmark `json:"landmarks"`
	Heatmaps  []Heatmap        `json:"heatmaps"`
	Error     string           `json:"error"`
}

// Predict implements Oracle.
func (r *Remote) Predict(ctx context.Context, img *render.Image) ([]landmark.HeatmapMaximum, error) {
	view := -1
	if img != nil && img.View != nil {
		view = img.View.Index
	}
	fail := func(format string, a ...interface{}) error {
		return &OracleError{View: view, Err: fmt.Errorf(format, a...)}
	}
	if img == nil {
		return nil, fail("nil image")
	}
	if img.Mode != r.channels {
		return nil, fail("image has %s channels, model expects %s", img.Mode, r.channels)
	}

	body, contentType, sentW, sentH, err := r.encode(img, view)
	if err != nil {
		return nil, fail("encode view: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, body)
	if err != nil {
		return nil, fail("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fail("request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, fail("read reply: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		snippet := string(raw)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, fail("service returned %d: %s", resp.StatusCode, snippet)
	}

	var reply remoteReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fail("malformed reply: %w", err)
	}
	if reply.Error != "" {
		return nil, fail("service error: %s", reply.Error)
	}

	sx := float64(img.Width) / float64(sentW)
	sy := float64(img.Height) / float64(sentH)
	want := r.LandmarkCount()
	switch {
	case reply.Heatmaps != nil:
		if len(reply.Heatmaps) != want {
			return nil, fail("%w: got %d heatmaps, want %d", ErrLandmarkCount, len(reply.Heatmaps), want)
		}
		out := make([]landmark.HeatmapMaximum, want)
		for i, h := range reply.Heatmaps {
			m, err := DecodeHeatmap(h)
			if err != nil {
				return nil, fail("heatmap %d: %w", i, err)
			}
			if m.Valid {
				m.X *= float64(img.Width) / float64(h.Width)
				m.Y *= float64(img.Height) / float64(h.Height)
			}
			out[i] = m
		}
		return out, nil
	case reply.Landmarks != nil:
		if len(reply.Landmarks) != want {
			return nil, fail("%w: got %d landmarks, want %d", ErrLandmarkCount, len(reply.Landmarks), want)
		}
		out := make([]landmark.HeatmapMaximum, want)
		for i, l := range reply.Landmarks {
			valid := l.Valid == nil || *l.Valid
			if !valid || math.IsNaN(l.Confidence) || l.Confidence < 0 {
				out[i] = landmark.Invalid
				continue
			}
			out[i] = landmark.HeatmapMaximum{X: l.X * sx, Y: l.Y * sy, Confidence: l.Confidence, Valid: true}
		}
		return out, nil
	}
	return nil, fail("reply has neither landmarks nor heatmaps")
}

// encode builds the multipart body and reports the size of the posted image.
func (r *Remote) encode(img *render.Image, view int) (io.Reader, string, int, int, error) {
	w, h := img.Width, img.Height
	if r.inputSize > 0 {
		w, h = r.inputSize, r.inputSize
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := [][2]string{
		{"model", r.model.String()},
		{"checkpoint", r.checkpoint},
		{"channels", r.channels.String()},
		{"device", r.device.Name},
		{"landmarks", strconv.Itoa(r.LandmarkCount())},
		{"view", strconv.Itoa(view)},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", 0, 0, err
		}
	}

	parts := []struct {
		name string
		im   image.Image
	}{{"image", img.ToImage()}}
	if img.Mode == render.RGBDepth {
		parts = append(parts, struct {
			name string
			im   image.Image
		}{"depth", img.ChannelImage(3)})
	}
	for _, p := range parts {
		fw, err := mw.CreateFormFile(p.name, p.name+".png")
		if err != nil {
			return nil, "", 0, 0, err
		}
		if err := png.Encode(fw, resize(p.im, w, h)); err != nil {
			return nil, "", 0, 0, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", 0, 0, err
	}
	return &buf, mw.FormDataContentType(), w, h, nil
}

// resize scales src to w x h, returning src unchanged when it already fits.
func resize(src image.Image, w, h int) image.Image {
	b := src.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return src
	}
	var dst draw.Image
	if _, gray := src.(*image.Gray); gray {
		dst = image.NewGray(image.Rect(0, 0, w, h))
	} else {
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
	}
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

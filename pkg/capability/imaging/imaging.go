// Package imaging provides the built-in image capabilities: upscaling,
// format conversion, and lossy compression. Results are written next to the
// source file and reported back as JSON content.
package imaging

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	xdraw "golang.org/x/image/draw"

	"github.com/cexll/assistant-go/pkg/capability"
)

const (
	minScale = 1
	maxScale = 4

	defaultQuality = 80
)

// Result is the JSON payload every imaging capability returns.
type Result struct {
	OutputPath string `json:"output_path"`
	Format     string `json:"format"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Bytes      int    `json:"bytes"`
}

// Register installs the imaging capabilities into reg.
func Register(reg *capability.Registry) error {
	entries := []struct {
		def  capability.Definition
		exec capability.Func
	}{
		{upscaleDefinition(), upscale},
		{convertDefinition(), convert},
		{compressDefinition(), compress},
	}
	for _, e := range entries {
		if err := reg.Register(e.def, e.exec); err != nil {
			return err
		}
	}
	return nil
}

func upscaleDefinition() capability.Definition {
	return capability.Definition{
		Name:        "upscale_image",
		Description: "Upscale an image by an integer factor between 1 and 4 using Catmull-Rom resampling.",
		Schema: &capability.JSONSchema{
			Type: "object",
			Properties: map[string]any{
				"image_path": map[string]any{"type": "string", "description": "Path to the source image."},
				"scale":      map[string]any{"type": "integer", "description": "Multiplier, 1 to 4. Defaults to 2."},
			},
		},
	}
}

func convertDefinition() capability.Definition {
	return capability.Definition{
		Name:        "convert_image",
		Description: "Convert an image to png or jpeg.",
		Schema: &capability.JSONSchema{
			Type: "object",
			Properties: map[string]any{
				"image_path": map[string]any{"type": "string", "description": "Path to the source image."},
				"format":     map[string]any{"type": "string", "description": "Target format, png or jpeg."},
			},
			Required: []string{"format"},
		},
	}
}

func compressDefinition() capability.Definition {
	return capability.Definition{
		Name:        "compress_image",
		Description: "Re-encode an image as jpeg at a reduced quality to shrink its size.",
		Schema: &capability.JSONSchema{
			Type: "object",
			Properties: map[string]any{
				"image_path": map[string]any{"type": "string", "description": "Path to the source image."},
				"quality":    map[string]any{"type": "integer", "description": "JPEG quality 1 to 100. Defaults to 80."},
			},
		},
	}
}

func upscale(_ context.Context, args map[string]any) (string, error) {
	src, path, err := loadImage(args)
	if err != nil {
		return "", err
	}
	scale := intArg(args, "scale", 2)
	if scale < minScale || scale > maxScale {
		return "", fmt.Errorf("scale %d out of range [%d,%d]", scale, minScale, maxScale)
	}

	bounds := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx()*scale, bounds.Dy()*scale))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, xdraw.Over, nil)

	out := derivedPath(path, fmt.Sprintf("_x%d", scale), ".png")
	return writeResult(dst, out, "png", 0)
}

func convert(_ context.Context, args map[string]any) (string, error) {
	src, path, err := loadImage(args)
	if err != nil {
		return "", err
	}
	format := strings.ToLower(strings.TrimSpace(stringArg(args, "format")))
	switch format {
	case "png":
		out := derivedPath(path, "", ".png")
		return writeResult(src, out, "png", 0)
	case "jpeg", "jpg":
		out := derivedPath(path, "", ".jpg")
		return writeResult(src, out, "jpeg", defaultQuality)
	default:
		return "", fmt.Errorf("unsupported target format %q", format)
	}
}

func compress(_ context.Context, args map[string]any) (string, error) {
	src, path, err := loadImage(args)
	if err != nil {
		return "", err
	}
	quality := intArg(args, "quality", defaultQuality)
	if quality < 1 || quality > 100 {
		return "", fmt.Errorf("quality %d out of range [1,100]", quality)
	}
	out := derivedPath(path, "_compressed", ".jpg")
	return writeResult(src, out, "jpeg", quality)
}

func loadImage(args map[string]any) (image.Image, string, error) {
	path := stringArg(args, "image_path")
	if path == "" {
		return nil, "", fmt.Errorf("image_path is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open image: %w", err)
	}
	defer f.Close()
	src, _, err := image.Decode(f)
	if err != nil {
		return nil, "", fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return src, path, nil
}

func writeResult(img image.Image, out, format string, quality int) (string, error) {
	f, err := os.Create(out)
	if err != nil {
		return "", fmt.Errorf("create output: %w", err)
	}
	defer f.Close()

	switch format {
	case "png":
		err = png.Encode(f, img)
	case "jpeg":
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: quality})
	default:
		err = fmt.Errorf("unknown encoder %q", format)
	}
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", format, err)
	}

	info, err := os.Stat(out)
	if err != nil {
		return "", err
	}
	bounds := img.Bounds()
	payload, err := json.Marshal(Result{
		OutputPath: out,
		Format:     format,
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		Bytes:      int(info.Size()),
	})
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// derivedPath builds <dir>/<stem><suffix><ext>, never clobbering the source.
func derivedPath(src, suffix, ext string) string {
	dir := filepath.Dir(src)
	stem := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	out := filepath.Join(dir, stem+suffix+ext)
	if out == src {
		out = filepath.Join(dir, stem+suffix+"_out"+ext)
	}
	return out
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return fallback
}

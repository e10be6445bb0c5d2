// Package imaging validates uploads and renders the stored result artifacts.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/MarkoPoloResearchLab/reviv/pkg/restoration"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/webp"
)

const (
	MaxUploadBytes        = 10 << 20
	MinUploadEdge         = 500
	DefaultPreviewMaxEdge = 1024
	DefaultJPEGQuality    = 85
	originalJPEGQuality   = 95
	watermarkText         = "reviv.pics"
	watermarkAlpha        = 77
	watermarkTilesAcross  = 4
)

var allowedFormats = map[string]bool{"jpeg": true, "png": true, "webp": true}

// Upload describes a validated original.
type Upload struct {
	Format string
	Width  int
	Height int
}

// Artifacts are the rendered outputs for a completed job.
type Artifacts struct {
	Full    []byte
	Preview []byte
	Width   int
	Height  int
}

// Processor renders artifacts from provider output.
type Processor struct {
	previewMaxEdge int
	jpegQuality    int
}

// Option customizes a Processor.
type Option func(*Processor)

// WithPreviewMaxEdge caps the preview's longest side.
func WithPreviewMaxEdge(edge int) Option {
	return func(processor *Processor) {
		if edge > 0 {
			processor.previewMaxEdge = edge
		}
	}
}

// NewProcessor builds a Processor.
func NewProcessor(options ...Option) *Processor {
	processor := &Processor{previewMaxEdge: DefaultPreviewMaxEdge, jpegQuality: DefaultJPEGQuality}
	for _, option := range options {
		if option != nil {
			option(processor)
		}
	}
	return processor
}

// ValidateUpload checks size, format and dimensions of a user upload.
func ValidateUpload(data []byte) (Upload, error) {
	if len(data) == 0 {
		return Upload{}, fmt.Errorf("%w: empty file", restoration.ErrValidation)
	}
	if len(data) > MaxUploadBytes {
		return Upload{}, fmt.Errorf("%w: file must be under 10MB", restoration.ErrValidation)
	}
	config, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Upload{}, fmt.Errorf("%w: invalid image file", restoration.ErrValidation)
	}
	if !allowedFormats[format] {
		return Upload{}, fmt.Errorf("%w: only JPG, PNG, WEBP formats allowed", restoration.ErrValidation)
	}
	if min(config.Width, config.Height) < MinUploadEdge {
		return Upload{}, fmt.Errorf("%w: image must be at least %dpx on shortest side", restoration.ErrValidation, MinUploadEdge)
	}
	return Upload{Format: format, Width: config.Width, Height: config.Height}, nil
}

// NormalizeOriginal fully decodes an upload and re-encodes it as JPEG.
func NormalizeOriginal(data []byte) ([]byte, error) {
	decoded, err := decode(data)
	if err != nil {
		return nil, err
	}
	var buffer bytes.Buffer
	if err := jpeg.Encode(&buffer, flatten(decoded), &jpeg.Options{Quality: originalJPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode original: %w", err)
	}
	return buffer.Bytes(), nil
}

// Render decodes provider output and produces a canonical PNG and a watermarked JPEG preview.
func (processor *Processor) Render(data []byte) (Artifacts, error) {
	decoded, err := decode(data)
	if err != nil {
		return Artifacts{}, err
	}
	var full bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.BestCompression}
	if err := encoder.Encode(&full, decoded); err != nil {
		return Artifacts{}, fmt.Errorf("encode full png: %w", err)
	}
	preview := watermark(scaleToFit(flatten(decoded), processor.previewMaxEdge))
	var previewBuffer bytes.Buffer
	if err := jpeg.Encode(&previewBuffer, preview, &jpeg.Options{Quality: processor.jpegQuality}); err != nil {
		return Artifacts{}, fmt.Errorf("encode preview jpeg: %w", err)
	}
	bounds := decoded.Bounds()
	return Artifacts{
		Full:    full.Bytes(),
		Preview: previewBuffer.Bytes(),
		Width:   bounds.Dx(),
		Height:  bounds.Dy(),
	}, nil
}

func decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image", restoration.ErrValidation)
	}
	decoded, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt image: %v", restoration.ErrValidation, err)
	}
	if !allowedFormats[strings.ToLower(format)] {
		return nil, fmt.Errorf("%w: unsupported format %s", restoration.ErrValidation, format)
	}
	bounds := decoded.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return nil, fmt.Errorf("%w: empty image bounds", restoration.ErrValidation)
	}
	return decoded, nil
}

// flatten composites onto white so transparent areas don't turn black in JPEG.
func flatten(source image.Image) *image.RGBA {
	bounds := source.Bounds()
	canvas := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(canvas, canvas.Bounds(), source, bounds.Min, draw.Over)
	return canvas
}

func scaleToFit(source *image.RGBA, maxEdge int) *image.RGBA {
	bounds := source.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	longest := max(width, height)
	if longest <= maxEdge {
		return source
	}
	scaledWidth := max(1, width*maxEdge/longest)
	scaledHeight := max(1, height*maxEdge/longest)
	scaled := image.NewRGBA(image.Rect(0, 0, scaledWidth, scaledHeight))
	xdraw.CatmullRom.Scale(scaled, scaled.Bounds(), source, bounds, xdraw.Over, nil)
	return scaled
}

// watermark tiles a translucent text stamp across the image.
func watermark(canvas *image.RGBA) *image.RGBA {
	stamp := renderStamp()
	bounds := canvas.Bounds()
	scale := max(1, bounds.Dx()/(stamp.Bounds().Dx()*watermarkTilesAcross))
	tileWidth := stamp.Bounds().Dx() * scale
	tileHeight := stamp.Bounds().Dy() * scale
	tile := image.NewRGBA(image.Rect(0, 0, tileWidth, tileHeight))
	xdraw.NearestNeighbor.Scale(tile, tile.Bounds(), stamp, stamp.Bounds(), xdraw.Src, nil)

	strideX := tileWidth * 3 / 2
	strideY := tileHeight * 3
	for row, y := 0, 0; y < bounds.Dy(); row, y = row+1, y+strideY {
		offset := (row % 2) * strideX / 2
		for x := -offset; x < bounds.Dx(); x += strideX {
			target := image.Rect(x, y, x+tileWidth, y+tileHeight)
			draw.Draw(canvas, target, tile, image.Point{}, draw.Over)
		}
	}
	return canvas
}

func renderStamp() *image.RGBA {
	face := basicfont.Face7x13
	width := font.MeasureString(face, watermarkText).Ceil()
	height := face.Metrics().Height.Ceil()
	stamp := image.NewRGBA(image.Rect(0, 0, width, height))
	drawer := font.Drawer{
		Dst:  stamp,
		Src:  image.NewUniform(color.NRGBA{R: 255, G: 255, B: 255, A: watermarkAlpha}),
		Face: face,
		Dot:  fixed.P(0, face.Metrics().Ascent.Ceil()),
	}
	drawer.DrawString(watermarkText)
	return stamp
}

package codec

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"strings"

	"golang.org/x/image/draw"
)

const (
	// FrameSize is the edge length of the square canvas video frames are letterboxed into.
	FrameSize = 768
	// JPEGQuality is the encoder quality for video frames (0.8 on a 0..1 scale).
	JPEGQuality = 80
	// FrameMIMEType is the mime type announced for outbound video frames.
	FrameMIMEType = "image/jpeg"
)

// Letterbox scales src to fit inside a size x size black canvas, preserving aspect ratio
// and centering it.
func Letterbox(src image.Image, size int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.Black}, image.Point{}, draw.Src)

	sb := src.Bounds()
	if sb.Dx() <= 0 || sb.Dy() <= 0 || size <= 0 {
		return dst
	}
	scale := min(float64(size)/float64(sb.Dx()), float64(size)/float64(sb.Dy()))
	w := int(float64(sb.Dx())*scale + 0.5)
	h := int(float64(sb.Dy())*scale + 0.5)
	x := (size - w) / 2
	y := (size - h) / 2

	draw.ApproxBiLinear.Scale(dst, image.Rect(x, y, x+w, y+h), src, sb, draw.Over, nil)
	return dst
}

// EncodeJPEG encodes img as a JPEG at the given quality (1-100).
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeFrame letterboxes src into the standard square canvas and encodes it as JPEG.
func EncodeFrame(src image.Image) ([]byte, error) {
	return EncodeJPEG(Letterbox(src, FrameSize), JPEGQuality)
}

// DecodeJPEG decodes a single JPEG image.
func DecodeJPEG(data []byte) (image.Image, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode jpeg: %w", err)
	}
	return img, nil
}

// EncodeBase64 returns the standard base64 encoding used on the wire.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64 decodes standard base64, tolerating a leading data URL prefix
// such as "data:image/jpeg;base64,".
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if idx := strings.Index(s, ";base64,"); idx >= 0 {
			s = s[idx+len(";base64,"):]
		}
	}
	out, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return out, nil
}

package vaultfs

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"

	_ "image/gif"
	_ "image/png"

	"github.com/veilnote/veilnote/pkg/store"
)

// thumbnailMaxDim bounds the longest edge of a generated preview.
const thumbnailMaxDim = 320

// makeThumbnail writes a downsampled preview next to the ciphertext and
// returns its path. Best effort: any failure is logged and an empty
// path returned, never an error. Only images get previews; first-frame
// extraction for video and cover art for audio would need codec support
// the process does not carry.
func (m *Manager) makeThumbnail(ctx context.Context, handle string, typ store.ItemType, thumbPath string) string {
	if typ != store.TypeImage {
		return ""
	}

	src, err := m.resolver.Open(handle)
	if err != nil {
		m.log.Warn(ctx, "thumbnail source open failed", "error", err)
		return ""
	}
	defer src.Close()

	img, _, err := image.Decode(src)
	if err != nil {
		m.log.Warn(ctx, "thumbnail decode failed", "error", err)
		return ""
	}

	if err := writeThumbnail(thumbPath, downsample(img, thumbnailMaxDim)); err != nil {
		m.log.Warn(ctx, "thumbnail write failed", "error", err)
		return ""
	}
	return thumbPath
}

func writeThumbnail(path string, img image.Image) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("vaultfs: failed to create thumbnail: %w", err)
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 80}); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("vaultfs: failed to encode thumbnail: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("vaultfs: failed to close thumbnail: %w", err)
	}
	return nil
}

// downsample shrinks img so its longest edge is at most maxDim, using
// box averaging. Images already small enough pass through unchanged.
func downsample(img image.Image, maxDim int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxDim && h <= maxDim {
		return img
	}

	scale := (max(w, h) + maxDim - 1) / maxDim
	outW, outH := w/scale, h/scale
	if outW < 1 {
		outW = 1
	}
	if outH < 1 {
		outH = 1
	}

	out := image.NewRGBA(image.Rect(0, 0, outW, outH))
	for oy := 0; oy < outH; oy++ {
		for ox := 0; ox < outW; ox++ {
			var r, g, b, a, n uint64
			for dy := 0; dy < scale; dy++ {
				for dx := 0; dx < scale; dx++ {
					x := bounds.Min.X + ox*scale + dx
					y := bounds.Min.Y + oy*scale + dy
					if x >= bounds.Max.X || y >= bounds.Max.Y {
						continue
					}
					pr, pg, pb, pa := img.At(x, y).RGBA()
					r += uint64(pr)
					g += uint64(pg)
					b += uint64(pb)
					a += uint64(pa)
					n++
				}
			}
			if n == 0 {
				continue
			}
			i := out.PixOffset(ox, oy)
			out.Pix[i+0] = uint8(r / n >> 8)
			out.Pix[i+1] = uint8(g / n >> 8)
			out.Pix[i+2] = uint8(b / n >> 8)
			out.Pix[i+3] = uint8(a / n >> 8)
		}
	}
	return out
}

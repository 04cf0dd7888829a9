package blobstore

import "image"

// downscaleToFit returns img unchanged if it already fits within
// maxW x maxH, otherwise a nearest-neighbor downscale preserving aspect
// ratio. No third-party imaging library appears anywhere in the example
// pack (the teacher only ever re-encodes, never resizes), so this is
// hand-rolled over stdlib image.Image rather than adopting a new
// dependency for a single call site.
func downscaleToFit(img image.Image, maxW, maxH int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxW && h <= maxH {
		return img
	}

	scale := float64(maxW) / float64(w)
	if hs := float64(maxH) / float64(h); hs < scale {
		scale = hs
	}

	newW := int(float64(w) * scale)
	newH := int(float64(h) * scale)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	for y := 0; y < newH; y++ {
		srcY := bounds.Min.Y + int(float64(y)/scale)
		for x := 0; x < newW; x++ {
			srcX := bounds.Min.X + int(float64(x)/scale)
			dst.Set(x, y, img.At(srcX, srcY))
		}
	}

	return dst
}

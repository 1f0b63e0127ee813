package rowcalc

import (
	"math"

	"github.com/matheus3301/threadline/internal/entity"
)

const (
	baseBoxRatio   = 2.0 / 3.0
	scaleBoost     = 1.5
	nearSquareMax  = 1.5
	defaultAspect  = 1.0
	locationWidth  = 600
	locationHeight = 400
)

// FitImage sizes an image of w x h for a thread whose images may be at most
// maxWidth wide.
//
// Captioned images take the full maxWidth square. Otherwise the image is
// fitted into a base box of two thirds of maxWidth keeping its aspect ratio.
// Originals smaller than the fitted box keep their size. Elongated images are
// then enlarged by 1.5 without either side passing maxWidth; near-square
// ones stay fitted.
func FitImage(w, h, maxWidth float64, captioned bool) Size {
	if maxWidth <= 0 {
		return Size{}
	}
	if captioned {
		return Size{Width: maxWidth, Height: maxWidth}
	}

	aspect := defaultAspect
	if w > 0 && h > 0 && !math.IsInf(w/h, 0) {
		aspect = w / h
	} else {
		w, h = 0, 0
	}

	box := maxWidth * baseBoxRatio
	fitted := Size{Width: box, Height: box / aspect}
	if aspect < 1 {
		fitted = Size{Width: box * aspect, Height: box}
	}

	if w > 0 && h > 0 && w < fitted.Width && h < fitted.Height {
		return Size{Width: w, Height: h}
	}

	long := math.Max(aspect, 1/aspect)
	if long <= nearSquareMax {
		return fitted
	}

	scale := scaleBoost
	if limit := maxWidth / math.Max(fitted.Width, fitted.Height); limit < scale {
		scale = limit
	}
	return Size{Width: fitted.Width * scale, Height: fitted.Height * scale}
}

// imageSource returns the original dimensions of the image a message shows.
func imageSource(m *entity.Message) (w, h float64, ok bool) {
	if up, isUpload := m.Body.(entity.Upload); isUpload {
		if up.Media != entity.MediaImage {
			return 0, 0, false
		}
		return float64(up.Width), float64(up.Height), true
	}
	att, has := entity.AttachmentOf(m.Body)
	if !has {
		return 0, 0, false
	}
	switch att.Media {
	case entity.MediaImage:
		return float64(att.Width), float64(att.Height), true
	case entity.MediaLocation:
		return locationWidth, locationHeight, true
	default:
		return 0, 0, false
	}
}

// Package preprocess normalizes raw challenge images into single-channel
// bitmaps optimized for character recognition.
package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/book-expert/logger"
	"github.com/disintegration/imaging"
)

var (
	// ErrDecode indicates that the input bytes are not a valid image.
	ErrDecode = errors.New("challenge image bytes are not a decodable image")
	// ErrEmptyImage indicates that decoding produced an image with no pixels.
	ErrEmptyImage = errors.New("decoded challenge image is empty")
)

// Params holds the tunable constants of the normalization pipeline. The
// defaults were chosen by inspection of generated challenge images; none of
// them is derived from first principles, so treat them as configuration.
type Params struct {
	// ClipLimit bounds per-tile contrast amplification during localized
	// histogram equalization.
	ClipLimit float64

	// TileGridSize is the number of equalization tiles along each axis.
	TileGridSize int

	// BlurSigma is the strength of the smoothing blur applied after the
	// contrast step to suppress high-frequency speckle.
	BlurSigma float64

	// BinarizeThreshold is the global intensity cut used to separate
	// foreground strokes from background.
	BinarizeThreshold uint8

	// DilateKernelSize is the side of the square structuring element used
	// to reconnect stroke fragments.
	DilateKernelSize int

	// ErodeKernelSize is the side of the square structuring element used
	// to remove residual speckle introduced by dilation.
	ErodeKernelSize int
}

// DefaultParams returns the reference tuning for typical generated challenge
// images.
func DefaultParams() Params {
	return Params{
		ClipLimit:         2.0,
		TileGridSize:      8,
		BlurSigma:         0.8,
		BinarizeThreshold: 170,
		DilateKernelSize:  2,
		ErodeKernelSize:   1,
	}
}

// Preprocessor converts raw challenge image bytes into normalized bitmaps.
// Given identical input bytes and identical Params, the output is
// byte-identical.
type Preprocessor struct {
	params Params
	logger *logger.Logger
}

// NewPreprocessor creates a preprocessor with the given tuning.
func NewPreprocessor(params Params, log *logger.Logger) *Preprocessor {
	return &Preprocessor{
		params: params,
		logger: log,
	}
}

// Normalize runs the full pipeline: decode, grayscale, localized contrast
// normalization, smoothing blur, inverted binarization, dilation, erosion, and
// a final inversion back to dark strokes on a light background.
func (p *Preprocessor) Normalize(raw []byte) (*image.Gray, error) {
	decoded, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode challenge image: %w: %w", ErrDecode, err)
	}

	bounds := decoded.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return nil, ErrEmptyImage
	}

	gray := toGray(imaging.Grayscale(decoded))

	equalized := equalizeLocalContrast(
		gray,
		p.params.ClipLimit,
		p.params.TileGridSize,
	)

	blurred := toGray(imaging.Blur(equalized, p.params.BlurSigma))

	// Inverted binarization: strokes darker than the threshold become the
	// "on" value so the morphology below operates on foreground pixels.
	binary := binarizeInverted(blurred, p.params.BinarizeThreshold)

	dilated := dilate(binary, p.params.DilateKernelSize)
	eroded := erode(dilated, p.params.ErodeKernelSize)

	return invert(eroded), nil
}

// EncodePNG serializes a normalized bitmap for recognition engines and debug
// artifacts.
func EncodePNG(img image.Image) ([]byte, error) {
	var buffer bytes.Buffer

	err := imaging.Encode(&buffer, img, imaging.PNG)
	if err != nil {
		return nil, fmt.Errorf("encode bitmap as PNG: %w", err)
	}

	return buffer.Bytes(), nil
}

// toGray reduces any image to a single-channel bitmap. The input is expected
// to already be grayscale, so the red channel is a sufficient brightness
// proxy.
func toGray(img image.Image) *image.Gray {
	bounds := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, _, _, _ := img.At(x, y).RGBA()
			out.SetGray(x-bounds.Min.X, y-bounds.Min.Y, grayValue(uint8(r>>8)))
		}
	}

	return out
}

func binarizeInverted(img *image.Gray, threshold uint8) *image.Gray {
	bounds := img.Bounds()
	out := image.NewGray(bounds)

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if img.GrayAt(x, y).Y <= threshold {
				out.SetGray(x, y, grayValue(255))
			} else {
				out.SetGray(x, y, grayValue(0))
			}
		}
	}

	return out
}

// dilate marks a pixel "on" when any pixel under the structuring element is
// on, reconnecting stroke fragments broken by noise.
func dilate(img *image.Gray, kernelSize int) *image.Gray {
	return morph(img, kernelSize, true)
}

// erode keeps a pixel "on" only when every pixel under the structuring
// element is on, trimming speckle left behind by dilation.
func erode(img *image.Gray, kernelSize int) *image.Gray {
	return morph(img, kernelSize, false)
}

func morph(img *image.Gray, kernelSize int, isDilation bool) *image.Gray {
	if kernelSize <= 1 {
		return img
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	out := image.NewGray(bounds)

	// Anchor the square structuring element the way a centered kernel of
	// even size lands: one pixel up-left of the current position.
	minOffset := -(kernelSize / 2)
	maxOffset := kernelSize - 1 + minOffset

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			value := applyKernel(img, x, y, width, height, minOffset, maxOffset, isDilation)
			out.SetGray(x, y, grayValue(value))
		}
	}

	return out
}

func applyKernel(
	img *image.Gray,
	x, y, width, height, minOffset, maxOffset int,
	isDilation bool,
) uint8 {
	for dy := minOffset; dy <= maxOffset; dy++ {
		for dx := minOffset; dx <= maxOffset; dx++ {
			sampleX := x + dx
			sampleY := y + dy

			if sampleX < 0 || sampleY < 0 || sampleX >= width || sampleY >= height {
				continue
			}

			on := img.GrayAt(sampleX, sampleY).Y == 255
			if isDilation && on {
				return 255
			}

			if !isDilation && !on {
				return 0
			}
		}
	}

	if isDilation {
		return 0
	}

	return 255
}

func invert(img *image.Gray) *image.Gray {
	bounds := img.Bounds()
	out := image.NewGray(bounds)

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			out.SetGray(x, y, grayValue(255-img.GrayAt(x, y).Y))
		}
	}

	return out
}

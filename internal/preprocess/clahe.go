package preprocess

import (
	"image"
	"image/color"
	"math"
)

const histogramBins = 256

// equalizeLocalContrast applies contrast-limited adaptive histogram
// equalization over a fixed tile grid. Per-tile histograms are clipped at
// clipLimit times the uniform bin height and the excess is redistributed
// evenly, which bounds noise amplification in flat background regions.
// Pixel values are remapped by bilinear interpolation between the lookup
// tables of the four surrounding tiles, so tile seams stay invisible.
func equalizeLocalContrast(img *image.Gray, clipLimit float64, tileGrid int) *image.Gray {
	if tileGrid < 1 {
		tileGrid = 1
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	tileWidth := (width + tileGrid - 1) / tileGrid
	tileHeight := (height + tileGrid - 1) / tileGrid

	tilesAcross := (width + tileWidth - 1) / tileWidth
	tilesDown := (height + tileHeight - 1) / tileHeight

	lookupTables := buildTileLookupTables(
		img,
		clipLimit,
		tileWidth, tileHeight,
		tilesAcross, tilesDown,
		width, height,
	)

	out := image.NewGray(bounds)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			value := img.GrayAt(x, y).Y
			mapped := interpolateTiles(
				lookupTables,
				x, y,
				tileWidth, tileHeight,
				tilesAcross, tilesDown,
				value,
			)
			out.SetGray(x, y, grayValue(mapped))
		}
	}

	return out
}

func buildTileLookupTables(
	img *image.Gray,
	clipLimit float64,
	tileWidth, tileHeight, tilesAcross, tilesDown, width, height int,
) [][][histogramBins]uint8 {
	tables := make([][][histogramBins]uint8, tilesDown)

	for tileY := 0; tileY < tilesDown; tileY++ {
		tables[tileY] = make([][histogramBins]uint8, tilesAcross)

		for tileX := 0; tileX < tilesAcross; tileX++ {
			left := tileX * tileWidth
			top := tileY * tileHeight
			right := min(left+tileWidth, width)
			bottom := min(top+tileHeight, height)

			tables[tileY][tileX] = buildClippedLookupTable(
				img,
				clipLimit,
				left, top, right, bottom,
			)
		}
	}

	return tables
}

func buildClippedLookupTable(
	img *image.Gray,
	clipLimit float64,
	left, top, right, bottom int,
) [histogramBins]uint8 {
	var histogram [histogramBins]int

	for y := top; y < bottom; y++ {
		for x := left; x < right; x++ {
			histogram[img.GrayAt(x, y).Y]++
		}
	}

	area := (right - left) * (bottom - top)
	if area == 0 {
		return identityLookupTable()
	}

	clipHistogram(&histogram, clipLimit, area)

	var table [histogramBins]uint8

	cumulative := 0
	for bin := range histogramBins {
		cumulative += histogram[bin]
		table[bin] = uint8(cumulative * (histogramBins - 1) / area)
	}

	return table
}

// clipHistogram caps each bin at clipLimit times the uniform bin height and
// spreads the clipped mass evenly across all bins, keeping the total count
// equal to the tile area.
func clipHistogram(histogram *[histogramBins]int, clipLimit float64, area int) {
	limit := int(clipLimit * float64(area) / histogramBins)
	if limit < 1 {
		limit = 1
	}

	excess := 0
	for bin := range histogramBins {
		if histogram[bin] > limit {
			excess += histogram[bin] - limit
			histogram[bin] = limit
		}
	}

	bonus := excess / histogramBins
	remainder := excess % histogramBins

	for bin := range histogramBins {
		histogram[bin] += bonus
		if bin < remainder {
			histogram[bin]++
		}
	}
}

func identityLookupTable() [histogramBins]uint8 {
	var table [histogramBins]uint8
	for bin := range histogramBins {
		table[bin] = uint8(bin)
	}

	return table
}

// interpolateTiles remaps one pixel by blending the lookup tables of the four
// tiles whose centers surround it.
func interpolateTiles(
	tables [][][histogramBins]uint8,
	x, y, tileWidth, tileHeight, tilesAcross, tilesDown int,
	value uint8,
) uint8 {
	horizontal := (float64(x)+0.5)/float64(tileWidth) - 0.5
	vertical := (float64(y)+0.5)/float64(tileHeight) - 0.5

	leftTile := int(math.Floor(horizontal))
	topTile := int(math.Floor(vertical))

	weightX := horizontal - float64(leftTile)
	weightY := vertical - float64(topTile)

	leftTile = clampTile(leftTile, tilesAcross)
	topTile = clampTile(topTile, tilesDown)
	rightTile := clampTile(leftTile+1, tilesAcross)
	bottomTile := clampTile(topTile+1, tilesDown)

	topLeft := float64(tables[topTile][leftTile][value])
	topRight := float64(tables[topTile][rightTile][value])
	bottomLeft := float64(tables[bottomTile][leftTile][value])
	bottomRight := float64(tables[bottomTile][rightTile][value])

	top := topLeft + (topRight-topLeft)*weightX
	bottom := bottomLeft + (bottomRight-bottomLeft)*weightX
	blended := top + (bottom-top)*weightY

	return uint8(math.Round(math.Max(0, math.Min(255, blended))))
}

func clampTile(index, count int) int {
	if index < 0 {
		return 0
	}

	if index >= count {
		return count - 1
	}

	return index
}

func grayValue(v uint8) color.Gray {
	return color.Gray{Y: v}
}

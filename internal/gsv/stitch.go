package gsv

import (
	"image"
	"image/draw"
	"image/jpeg"
	"io"
)

// stitchTiles composes a row-major tile grid onto one canvas.
func stitchTiles(tiles []image.Image, hTiles, vTiles int) *image.RGBA {
	canvas := image.NewRGBA(image.Rect(0, 0, hTiles*TileSize, vTiles*TileSize))
	for y := 0; y < vTiles; y++ {
		for x := 0; x < hTiles; x++ {
			tile := tiles[y*hTiles+x]
			if tile == nil {
				continue
			}
			rect := image.Rect(x*TileSize, y*TileSize, (x+1)*TileSize, (y+1)*TileSize)
			draw.Draw(canvas, rect, tile, tile.Bounds().Min, draw.Src)
		}
	}
	return canvas
}

// clipEmptyBorders trims the black fill the tile server pads non-square
// panoramas with. Rows and columns are dropped from the right and bottom
// while entirely black.
func clipEmptyBorders(img *image.RGBA) *image.RGBA {
	b := img.Bounds()
	maxX, maxY := b.Max.X, b.Max.Y

	for maxX > b.Min.X+1 && columnEmpty(img, maxX-1, b.Min.Y, maxY) {
		maxX--
	}
	for maxY > b.Min.Y+1 && rowEmpty(img, maxY-1, b.Min.X, maxX) {
		maxY--
	}
	if maxX == b.Max.X && maxY == b.Max.Y {
		return img
	}
	return img.SubImage(image.Rect(b.Min.X, b.Min.Y, maxX, maxY)).(*image.RGBA)
}

func columnEmpty(img *image.RGBA, x, y0, y1 int) bool {
	for y := y0; y < y1; y++ {
		r, g, b, _ := img.At(x, y).RGBA()
		if r|g|b != 0 {
			return false
		}
	}
	return true
}

func rowEmpty(img *image.RGBA, y, x0, x1 int) bool {
	for x := x0; x < x1; x++ {
		r, g, b, _ := img.At(x, y).RGBA()
		if r|g|b != 0 {
			return false
		}
	}
	return true
}

// cropTopHalf keeps the upper half of the panorama, the part above the
// horizon.
func cropTopHalf(img *image.RGBA) *image.RGBA {
	b := img.Bounds()
	half := image.Rect(b.Min.X, b.Min.Y, b.Max.X, b.Min.Y+b.Dy()/2)
	return img.SubImage(half).(*image.RGBA)
}

// Encoder writes a stitched panorama to its destination format.
type Encoder interface {
	Encode(w io.Writer, img image.Image) error
}

// JPEGEncoder encodes panoramas as JPEG.
type JPEGEncoder struct {
	Quality int
}

func (e JPEGEncoder) Encode(w io.Writer, img image.Image) error {
	q := e.Quality
	if q <= 0 {
		q = 90
	}
	return jpeg.Encode(w, img, &jpeg.Options{Quality: q})
}

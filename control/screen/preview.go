package screen

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"log"
	"net/http"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	digitWidth   = 60
	digitHeight  = 100
	digitSpacing = 24
	border       = 12
	captionSpace = 24
)

var (
	previewBackground = color.NRGBA{R: 0x10, G: 0x10, B: 0x10, A: 0xff}
	segmentOn         = color.NRGBA{R: 0xff, G: 0x30, B: 0x10, A: 0xff}
	segmentOff        = color.NRGBA{R: 0x30, G: 0x18, B: 0x14, A: 0xff}
	captionColor      = color.NRGBA{R: 0xc0, G: 0xc0, B: 0xc0, A: 0xff}
)

// segmentRects are the bars of one digit, indexed by bit number in a pattern.
var segmentRects = [8]image.Rectangle{
	0: image.Rect(digitWidth+2, digitHeight-8, digitWidth+10, digitHeight), // dp
	1: image.Rect(10, 45, 50, 55),                                          // g
	2: image.Rect(0, 10, 10, 45),                                           // f
	3: image.Rect(0, 55, 10, 90),                                           // e
	4: image.Rect(10, 90, 50, 100),                                         // d
	5: image.Rect(50, 55, 60, 90),                                          // c
	6: image.Rect(50, 10, 60, 45),                                          // b
	7: image.Rect(10, 0, 50, 10),                                           // a
}

// Image draws a frame the way the display shows it: hour, AM/PM, minute tens, minute units, left
// to right.
func Image(frame Cache, caption string) *image.NRGBA {
	w := 2*border + slots*digitWidth + (slots-1)*digitSpacing
	h := 2*border + digitHeight + captionSpace
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(previewBackground), image.Point{}, draw.Src)
	for pos := 0; pos < slots; pos++ {
		slot := slots - 1 - pos
		origin := image.Pt(border+pos*(digitWidth+digitSpacing), border)
		for bit, r := range segmentRects {
			c := segmentOff
			if frame[slot]&(1<<bit) == 0 {
				c = segmentOn
			}
			draw.Draw(img, r.Add(origin), image.NewUniform(c), image.Point{}, draw.Src)
		}
	}
	if caption != "" {
		drawer := &font.Drawer{
			Dst:  img,
			Src:  image.NewUniform(captionColor),
			Face: basicfont.Face7x13,
			Dot:  fixed.P(border, h-border/2),
		}
		drawer.DrawString(caption)
	}
	return img
}

// ServeHTTP serves the last rendered frame as a PNG.
func (d *Display) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	d.frameMu.Lock()
	frame, caption := d.frame, d.caption
	d.frameMu.Unlock()

	w.Header().Add("content-type", "image/png")
	w.WriteHeader(http.StatusOK)
	if err := png.Encode(w, Image(frame, caption)); err != nil {
		log.Printf("encoding image: %v", err)
	}
}

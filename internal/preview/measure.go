package preview

import (
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/opentype"

	"codeshot/shot"
)

// Layout constants of the page shell, in CSS pixels.
const (
	FontSize      = 12
	LineHeight    = 18
	TabSize       = 8
	SnippetPadX   = 18
	SnippetPadTop = 18
	SnippetPadBot = 22
	ContainerPad  = 22
)

// Size is a layout size in CSS pixels.
type Size struct {
	Width  int
	Height int
}

var (
	monoOnce sync.Once
	monoFace font.Face
	monoErr  error
)

func face() (font.Face, error) {
	monoOnce.Do(func() {
		f, err := opentype.Parse(gomono.TTF)
		if err != nil {
			monoErr = err
			return
		}
		monoFace, monoErr = opentype.NewFace(f, &opentype.FaceOptions{
			Size:    FontSize,
			DPI:     72,
			Hinting: font.HintingNone,
		})
	})
	return monoFace, monoErr
}

// Measure estimates the size of the backdrop container holding doc, using
// Go Mono metrics for the text. Every monospace face in the font stack has
// close enough advances for the estimate to hold.
func Measure(doc *shot.SnippetDocument) Size {
	lines := 1
	widest := 0
	if doc != nil && len(doc.Lines) > 0 {
		lines = len(doc.Lines)
		for _, l := range doc.Lines {
			if w := textWidth(l.Text()); w > widest {
				widest = w
			}
		}
	}
	return Size{
		Width:  widest + 2*SnippetPadX + 2*ContainerPad,
		Height: lines*LineHeight + SnippetPadTop + SnippetPadBot + 2*ContainerPad,
	}
}

func textWidth(s string) int {
	s = strings.ReplaceAll(s, "\t", strings.Repeat(" ", TabSize))
	f, err := face()
	if err != nil {
		// 0.6em is the advance of most monospace faces
		return len([]rune(s)) * FontSize * 6 / 10
	}
	return font.MeasureString(f, s).Ceil()
}

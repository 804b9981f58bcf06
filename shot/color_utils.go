package shot

import (
	"fmt"
	"strconv"
	"strings"
)

// darkThreshold splits perceived brightness into dark and light halves.
const darkThreshold = 128

// unknownBrightness is reported for colors that cannot be parsed.
const unknownBrightness = 127

type rgbColor struct {
	R uint8
	G uint8
	B uint8
}

func (c rgbColor) hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// brightness is the YIQ perceived brightness in the 0..255 range.
func (c rgbColor) brightness() float64 {
	return (float64(c.R)*299 + float64(c.G)*587 + float64(c.B)*114) / 1000
}

func parseHexColor(value string) (rgbColor, bool) {
	hex := strings.TrimPrefix(strings.TrimSpace(value), "#")
	if len(hex) != 6 {
		return rgbColor{}, false
	}
	r, errR := strconv.ParseUint(hex[0:2], 16, 8)
	g, errG := strconv.ParseUint(hex[2:4], 16, 8)
	b, errB := strconv.ParseUint(hex[4:6], 16, 8)
	if errR != nil || errG != nil || errB != nil {
		return rgbColor{}, false
	}
	return rgbColor{uint8(r), uint8(g), uint8(b)}, true
}

func parseShorthandHex(value string) (rgbColor, bool) {
	hex := strings.TrimPrefix(strings.TrimSpace(value), "#")
	switch length := len(hex); {
	case length == 3:
		exp := []byte{
			hex[0], hex[0],
			hex[1], hex[1],
			hex[2], hex[2],
		}
		return parseHexColor(string(exp))
	case length >= 6:
		return parseHexColor(hex[:6])
	default:
		return rgbColor{}, false
	}
}

func parseRGBFunctional(expr string) (rgbColor, bool) {
	start := strings.IndexByte(expr, '(')
	end := strings.LastIndexByte(expr, ')')
	if start < 0 || end <= start+1 {
		return rgbColor{}, false
	}
	parts := strings.FieldsFunc(expr[start+1:end], func(r rune) bool {
		return r == ',' || r == ' ' || r == '/'
	})
	if len(parts) < 3 {
		return rgbColor{}, false
	}
	toByte := func(component string) uint8 {
		component = strings.TrimSpace(component)
		if strings.HasSuffix(component, "%") {
			value, err := strconv.ParseFloat(strings.TrimSuffix(component, "%"), 64)
			if err != nil {
				return 0
			}
			return clampByte(value * 255.0 / 100.0)
		}
		value, err := strconv.ParseFloat(component, 64)
		if err != nil {
			return 0
		}
		return clampByte(value)
	}
	return rgbColor{
		R: toByte(parts[0]),
		G: toByte(parts[1]),
		B: toByte(parts[2]),
	}, true
}

func clampByte(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// parseCSSColor understands hex, rgb()/rgba() and the two named colors the
// editors actually emit in clipboard markup.
func parseCSSColor(input string) (rgbColor, bool) {
	s := strings.TrimSpace(strings.ToLower(input))
	switch s {
	case "":
		return rgbColor{}, false
	case "black":
		return rgbColor{}, true
	case "white":
		return rgbColor{R: 255, G: 255, B: 255}, true
	case "transparent", "none":
		return rgbColor{}, false
	}
	if strings.HasPrefix(s, "#") {
		return parseShorthandHex(s)
	}
	if strings.HasPrefix(s, "rgb(") || strings.HasPrefix(s, "rgba(") {
		return parseRGBFunctional(s)
	}
	return rgbColor{}, false
}

// CSSToHex normalizes a CSS color to #rrggbb, or returns "" when the value is
// not a color this package understands.
func CSSToHex(v string) string {
	if col, ok := parseCSSColor(v); ok {
		return col.hex()
	}
	return ""
}

// Brightness returns (R*299 + G*587 + B*114) / 1000 for a CSS color.
// Colors that cannot be parsed report 127.
func Brightness(color string) float64 {
	col, ok := parseCSSColor(color)
	if !ok {
		return unknownBrightness
	}
	return col.brightness()
}

// IsDark reports whether a snippet background should get a transparent
// backdrop. The comparison is strict: brightness 128 is light.
func IsDark(color string) bool {
	return Brightness(color) < darkThreshold
}

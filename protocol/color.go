package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Color is a 24-bit RGB value stored in the upper three bytes of a word,
// which is the alignment the device's LED driver expects
type Color uint32

// ColorShift moves packed RGB into device word alignment
const ColorShift = 8

// RGB packs components into a Color
func RGB(r, g, b uint8) Color {
	return Color((uint32(r)<<16 | uint32(g)<<8 | uint32(b)) << ColorShift)
}

// Word returns the wire representation of the color
func (c Color) Word() uint32 { return uint32(c) }

// RGB unpacks the components
func (c Color) RGB() (r, g, b uint8) {
	v := uint32(c) >> ColorShift
	return uint8(v >> 16), uint8(v >> 8), uint8(v)
}

func (c Color) String() string {
	r, g, b := c.RGB()
	return fmt.Sprintf("#%02X%02X%02X", r, g, b)
}

// ColorWords converts a frame buffer to payload words
func ColorWords(colors []Color) []uint32 {
	words := make([]uint32, len(colors))
	for i, c := range colors {
		words[i] = uint32(c)
	}
	return words
}

// ParseColor accepts "#RRGGBB", "0xRRGGBB" or "r,g,b"
func ParseColor(s string) (Color, error) {
	s = strings.TrimSpace(s)
	if parts := strings.Split(s, ","); len(parts) == 3 {
		var rgb [3]uint8
		for i, p := range parts {
			v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 8)
			if err != nil {
				return 0, fmt.Errorf("invalid color %q: %w", s, err)
			}
			rgb[i] = uint8(v)
		}
		return RGB(rgb[0], rgb[1], rgb[2]), nil
	}

	hex := strings.TrimPrefix(s, "#")
	hex = strings.TrimPrefix(strings.TrimPrefix(hex, "0x"), "0X")
	if len(hex) != 6 {
		return 0, fmt.Errorf("invalid color %q: want 6 hex digits", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return Color(uint32(v) << ColorShift), nil
}

// ParseWord parses a decimal or 0x-prefixed hexadecimal payload word
func ParseWord(s string) (uint32, error) {
	v, err := parseUint(strings.TrimSpace(s), 32)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q: %w", s, err)
	}
	return uint32(v), nil
}

func parseUint(s string, bits int) (uint64, error) {
	return strconv.ParseUint(s, 0, bits)
}

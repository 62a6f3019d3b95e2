// Package sparkline renders a series of samples as a one-line graph of
// braille characters, two samples per character.
package sparkline

import (
	"math"
	"strings"
)

// Levels is the number of dots per column, and so the highest scaled value.
const Levels = 4

// blank is the empty braille cell; every glyph is blank | dot bits.
const blank = '⠀'

// Dot bits of the braille block, listed bottom-up per column.
var (
	leftDots  = [Levels]rune{0x40, 0x04, 0x02, 0x01} // dots 7, 3, 2, 1
	rightDots = [Levels]rune{0x80, 0x20, 0x10, 0x08} // dots 8, 6, 5, 4
)

// GlyphFunc writes one graph character to b. left and right are the scaled
// values (0..Levels) the glyph was built from.
type GlyphFunc func(b *strings.Builder, left, right int, glyph rune)

// Glyph returns the braille character with the left column filled to left
// dots and the right column filled to right dots, both counted from the
// bottom. Values are clamped to 0..Levels.
func Glyph(left, right int) rune {
	g := rune(blank)
	for i := range clamp(left) {
		g |= leftDots[i]
	}
	for i := range clamp(right) {
		g |= rightDots[i]
	}
	return g
}

// Encode graphs values scaled so that scaleMax (or the largest value, if
// higher) fills a whole column. With an odd number of values the padding
// column goes at the end, or at the start when alignRight is set.
func Encode(values []int, scaleMax int, alignRight bool) string {
	return EncodeFunc(values, scaleMax, alignRight, nil)
}

// EncodeFunc is Encode with a hook that decides how each glyph is written,
// e.g. wrapped in a colour. A nil fn writes the bare glyph.
func EncodeFunc(values []int, scaleMax int, alignRight bool, fn GlyphFunc) string {
	if len(values) == 0 {
		return ""
	}
	if fn == nil {
		fn = writeGlyph
	}

	ceiling := max(scaleMax, values[0])
	for _, v := range values[1:] {
		ceiling = max(ceiling, v)
	}

	scaled := make([]int, len(values))
	for i, v := range values {
		scaled[i] = scale(v, ceiling)
	}

	var b strings.Builder
	b.Grow((len(scaled) + 1) / 2 * 3) // braille runes are 3 bytes in UTF-8

	if alignRight && len(scaled)%2 == 1 {
		fn(&b, 0, scaled[0], Glyph(0, scaled[0]))
		scaled = scaled[1:]
	}
	for i := 0; i < len(scaled); i += 2 {
		left, right := scaled[i], 0
		if i+1 < len(scaled) {
			right = scaled[i+1]
		}
		fn(&b, left, right, Glyph(left, right))
	}
	return b.String()
}

// scale maps v from 0..ceiling onto 0..Levels, rounding half to even.
func scale(v, ceiling int) int {
	if ceiling <= 0 {
		return 0
	}
	return int(math.RoundToEven(float64(v) / float64(ceiling) * Levels))
}

func clamp(n int) int {
	return min(max(n, 0), Levels)
}

func writeGlyph(b *strings.Builder, _, _ int, glyph rune) {
	b.WriteRune(glyph)
}

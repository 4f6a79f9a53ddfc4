package types

import (
	"fmt"
	"sort"
	"time"
)

// Canvas geometry. Coordinates are zero-based and inclusive on both ends,
// so the canvas spans CanvasSize x CanvasSize cells.
const (
	CanvasMin  = 0
	CanvasMax  = 4999
	CanvasSize = CanvasMax - CanvasMin + 1
)

// Pixel is the materialized state of one canvas cell: the most recent draw
// event for its coordinate. Color is carried as decoded channel bytes; the
// "#RRGGBB" string form exists only at the JSON and database boundaries.
type Pixel struct {
	X, Y    int
	R, G, B uint8
	// UserID is the drawing user's identifier: a directory id for known
	// users or an "anon-" prefixed session id for anonymous ones.
	UserID    string
	Timestamp time.Time
}

// Key packs the pixel coordinate into a single map key. Coordinates are
// validated to [0,4999] before a Pixel is built, so 16 bits per axis are
// always enough.
func (p Pixel) Key() uint32 {
	return CoordKey(p.X, p.Y)
}

// Color renders the channel bytes in canonical "#RRGGBB" form with
// uppercase hex digits.
func (p Pixel) Color() string {
	return FormatColor(p.R, p.G, p.B)
}

// CoordKey packs (x, y) as uint32(x)<<16 | uint32(y).
func CoordKey(x, y int) uint32 {
	return uint32(x)<<16 | uint32(y)&0xffff
}

// ValidateCoords checks that (x, y) lies on the canvas. The returned error
// is a *ValidationError naming the offending axis.
func ValidateCoords(x, y int) error {
	if x < CanvasMin || x > CanvasMax {
		return &ValidationError{Field: "x", Reason: fmt.Sprintf("must be between %d and %d, got %d", CanvasMin, CanvasMax, x)}
	}
	if y < CanvasMin || y > CanvasMax {
		return &ValidationError{Field: "y", Reason: fmt.Sprintf("must be between %d and %d, got %d", CanvasMin, CanvasMax, y)}
	}
	return nil
}

// ParseColor decodes a "#RRGGBB" string into channel bytes. Exactly seven
// characters, leading '#', six hex digits in either case; everything else
// (shorthand "#FFF", "rgb(...)", named colors) is rejected with a
// *ValidationError.
func ParseColor(s string) (r, g, b uint8, err error) {
	if len(s) != 7 || s[0] != '#' {
		return 0, 0, 0, &ValidationError{Field: "color", Reason: fmt.Sprintf("must match #RRGGBB, got %q", s)}
	}
	var v [6]uint8
	for i := 0; i < 6; i++ {
		d, ok := hexNibble(s[i+1])
		if !ok {
			return 0, 0, 0, &ValidationError{Field: "color", Reason: fmt.Sprintf("must match #RRGGBB, got %q", s)}
		}
		v[i] = d
	}
	return v[0]<<4 | v[1], v[2]<<4 | v[3], v[4]<<4 | v[5], nil
}

func hexNibble(c byte) (uint8, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

const hexUpper = "0123456789ABCDEF"

// FormatColor renders channel bytes as "#RRGGBB" with uppercase digits.
func FormatColor(r, g, b uint8) string {
	out := [7]byte{'#',
		hexUpper[r>>4], hexUpper[r&0xf],
		hexUpper[g>>4], hexUpper[g&0xf],
		hexUpper[b>>4], hexUpper[b&0xf],
	}
	return string(out[:])
}

// SortCanonical orders pixels by ascending x, then ascending y. Snapshot
// responses in every format use this order so identical canvas states
// produce byte-identical bodies.
func SortCanonical(pixels []Pixel) {
	sort.Slice(pixels, func(i, j int) bool {
		if pixels[i].X != pixels[j].X {
			return pixels[i].X < pixels[j].X
		}
		return pixels[i].Y < pixels[j].Y
	})
}

// User is one row of the user directory.
type User struct {
	ID        string    `json:"userId"`
	Nickname  string    `json:"nickname"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"createdAt"`
}

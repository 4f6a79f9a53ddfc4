package types

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidateCoords(t *testing.T) {
	cases := []struct {
		x, y int
		ok   bool
	}{
		{0, 0, true},
		{4999, 4999, true},
		{0, 4999, true},
		{2500, 17, true},
		{-1, 0, false},
		{0, -1, false},
		{5000, 0, false},
		{0, 5000, false},
		{10000, 10000, false},
	}
	for _, c := range cases {
		err := ValidateCoords(c.x, c.y)
		if c.ok && err != nil {
			t.Errorf("ValidateCoords(%d, %d) = %v; want nil", c.x, c.y, err)
		}
		if !c.ok && err == nil {
			t.Errorf("ValidateCoords(%d, %d) = nil; want error", c.x, c.y)
		}
	}
}

func TestValidateCoords_ErrorKind(t *testing.T) {
	err := ValidateCoords(-1, 0)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("want *ValidationError, got %T", err)
	}
	if ve.Field != "x" {
		t.Errorf("Field = %q; want %q", ve.Field, "x")
	}
}

func TestParseColor(t *testing.T) {
	cases := []struct {
		in      string
		r, g, b uint8
		ok      bool
	}{
		{"#000000", 0x00, 0x00, 0x00, true},
		{"#FFFFFF", 0xFF, 0xFF, 0xFF, true},
		{"#ffffff", 0xFF, 0xFF, 0xFF, true},
		{"#FF0000", 0xFF, 0x00, 0x00, true},
		{"#00fF7a", 0x00, 0xFF, 0x7A, true},
		{"FFFFFF", 0, 0, 0, false},   // missing #
		{"#FFF", 0, 0, 0, false},     // shorthand
		{"#FFFFFFF", 0, 0, 0, false}, // too long
		{"#GGGGGG", 0, 0, 0, false},  // non-hex
		{"red", 0, 0, 0, false},
		{"rgb(255,0,0)", 0, 0, 0, false},
		{"", 0, 0, 0, false},
	}
	for _, c := range cases {
		r, g, b, err := ParseColor(c.in)
		if c.ok {
			if err != nil {
				t.Errorf("ParseColor(%q) error = %v; want nil", c.in, err)
				continue
			}
			if r != c.r || g != c.g || b != c.b {
				t.Errorf("ParseColor(%q) = %02X%02X%02X; want %02X%02X%02X", c.in, r, g, b, c.r, c.g, c.b)
			}
		} else if err == nil {
			t.Errorf("ParseColor(%q) = nil error; want rejection", c.in)
		}
	}
}

func TestFormatColor_Roundtrip(t *testing.T) {
	for _, in := range []string{"#000000", "#FFFFFF", "#FF0000", "#1A2B3C"} {
		r, g, b, err := ParseColor(in)
		if err != nil {
			t.Fatalf("ParseColor(%q): %v", in, err)
		}
		if got := FormatColor(r, g, b); got != in {
			t.Errorf("FormatColor(ParseColor(%q)) = %q", in, got)
		}
	}
	// Lowercase input normalizes to uppercase output.
	r, g, b, _ := ParseColor("#ff00aa")
	if got := FormatColor(r, g, b); got != "#FF00AA" {
		t.Errorf("FormatColor = %q; want #FF00AA", got)
	}
}

func TestCoordKey_Distinct(t *testing.T) {
	if CoordKey(1, 2) == CoordKey(2, 1) {
		t.Error("CoordKey(1,2) must differ from CoordKey(2,1)")
	}
	if CoordKey(0, 4999) == CoordKey(4999, 0) {
		t.Error("corner keys collide")
	}
	if CoordKey(0, 0) != 0 {
		t.Errorf("CoordKey(0,0) = %d; want 0", CoordKey(0, 0))
	}
}

func TestSortCanonical(t *testing.T) {
	pixels := []Pixel{
		{X: 5, Y: 1}, {X: 0, Y: 9}, {X: 5, Y: 0}, {X: 0, Y: 2},
	}
	SortCanonical(pixels)
	want := [][2]int{{0, 2}, {0, 9}, {5, 0}, {5, 1}}
	for i, w := range want {
		if pixels[i].X != w[0] || pixels[i].Y != w[1] {
			t.Fatalf("position %d = (%d,%d); want (%d,%d)", i, pixels[i].X, pixels[i].Y, w[0], w[1])
		}
	}
}

func TestDecodeClientFrame(t *testing.T) {
	f, err := DecodeClientFrame([]byte(`{"type":"DRAW_PIXEL","payload":{"x":1,"y":2,"color":"#FF0000"}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Type != FrameDrawPixel {
		t.Errorf("Type = %q; want %q", f.Type, FrameDrawPixel)
	}
	p, err := DecodeDrawPixel(f.Payload)
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.X != 1 || p.Y != 2 || p.Color != "#FF0000" {
		t.Errorf("payload = %+v", p)
	}
}

func TestDecodeClientFrame_Malformed(t *testing.T) {
	for _, in := range []string{"invalid json", "", "[1,2,3]", `{"payload":{}}`, "42"} {
		if _, err := DecodeClientFrame([]byte(in)); err == nil {
			t.Errorf("DecodeClientFrame(%q) = nil error; want rejection", in)
		} else if !IsRejection(err) {
			t.Errorf("DecodeClientFrame(%q) error %T is not a rejection", in, err)
		}
	}
}

func TestDecodeDrawPixel_NonIntegerCoord(t *testing.T) {
	for _, in := range []string{`{"x":1.5,"y":2,"color":"#FF0000"}`, `{"x":"1","y":2,"color":"#FF0000"}`} {
		if _, err := DecodeDrawPixel([]byte(in)); err == nil {
			t.Errorf("DecodeDrawPixel(%s) accepted a non-integer coordinate", in)
		}
	}
}

func TestEncodePixelUpdate(t *testing.T) {
	ts := time.Now()
	batch := []Pixel{
		{X: 3, Y: 4, R: 0xFF, G: 0x00, B: 0x00, UserID: "u-1", Timestamp: ts},
		{X: 1, Y: 2, R: 0x00, G: 0xFF, B: 0x7A, UserID: "anon-abc", Timestamp: ts},
	}
	data := EncodePixelUpdate(batch)

	var decoded struct {
		Type    string `json:"type"`
		Payload struct {
			Pixels []struct {
				X      int    `json:"x"`
				Y      int    `json:"y"`
				Color  string `json:"color"`
				UserID string `json:"userId"`
			} `json:"pixels"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("frame is not valid JSON: %v\n%s", err, data)
	}
	if decoded.Type != FramePixelUpdate {
		t.Errorf("type = %q; want %q", decoded.Type, FramePixelUpdate)
	}
	if len(decoded.Payload.Pixels) != 2 {
		t.Fatalf("pixels = %d; want 2", len(decoded.Payload.Pixels))
	}
	// Enqueue order is preserved, not coordinate order.
	first := decoded.Payload.Pixels[0]
	if first.X != 3 || first.Y != 4 || first.Color != "#FF0000" || first.UserID != "u-1" {
		t.Errorf("first entry = %+v", first)
	}
	second := decoded.Payload.Pixels[1]
	if second.X != 1 || second.Color != "#00FF7A" || second.UserID != "anon-abc" {
		t.Errorf("second entry = %+v", second)
	}
}

func TestEncodePixelList(t *testing.T) {
	data := EncodePixelList(nil)
	if string(data) != `{"pixels":[]}` {
		t.Errorf("empty list = %s", data)
	}

	data = EncodePixelList([]Pixel{{X: 100, Y: 200, R: 0xFF}})
	var decoded struct {
		Pixels []map[string]any `json:"pixels"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, data)
	}
	if len(decoded.Pixels) != 1 {
		t.Fatalf("pixels = %d; want 1", len(decoded.Pixels))
	}
	if decoded.Pixels[0]["color"] != "#FF0000" {
		t.Errorf("color = %v", decoded.Pixels[0]["color"])
	}
	if _, ok := decoded.Pixels[0]["userId"]; ok {
		t.Error("snapshot entries must not carry userId")
	}
}

func TestEncodeError_Escaping(t *testing.T) {
	data := EncodeError(`bad color "x" \ here`)
	var decoded struct {
		Type    string `json:"type"`
		Payload struct {
			Message string `json:"message"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, data)
	}
	if decoded.Type != FrameError {
		t.Errorf("type = %q", decoded.Type)
	}
	if !strings.Contains(decoded.Payload.Message, `"x"`) {
		t.Errorf("message lost quoting: %q", decoded.Payload.Message)
	}
}

func TestKeepalivePingFrame_Shape(t *testing.T) {
	var decoded struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(KeepalivePingFrame, &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded.Type != FrameKeepalivePing {
		t.Errorf("type = %q; want %q", decoded.Type, FrameKeepalivePing)
	}
}

func TestPersistenceError_Unwrap(t *testing.T) {
	inner := errors.New("disk full")
	err := &PersistenceError{Op: "append", Err: inner}
	if !errors.Is(err, inner) {
		t.Error("PersistenceError must unwrap to its cause")
	}
	if IsRejection(err) {
		t.Error("PersistenceError is a server failure, not a rejection")
	}
	wrapped := &PersistenceError{Op: "insert user", Err: ErrConflict}
	if !errors.Is(wrapped, ErrConflict) {
		t.Error("wrapped ErrConflict must still match errors.Is")
	}
}

func BenchmarkEncodePixelUpdate(b *testing.B) {
	batch := make([]Pixel, 64)
	for i := range batch {
		batch[i] = Pixel{X: i, Y: i, R: uint8(i), UserID: "3b2c6d4e-0f6a-4c3e-9d2b-1a2b3c4d5e6f"}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		EncodePixelUpdate(batch)
	}
}

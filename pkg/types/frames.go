package types

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Frame types exchanged over the realtime channel. Client frames arrive as
// {"type":...,"payload":...} JSON text messages; server frames use the same
// envelope.
const (
	FrameDrawPixel     = "DRAW_PIXEL"
	FrameKeepalivePong = "KEEPALIVE_PONG"

	FramePixelUpdate   = "PIXEL_UPDATE"
	FrameKeepalivePing = "KEEPALIVE_PING"
	FrameError         = "ERROR"
)

// ClientFrame is the decoded envelope of an inbound message. Payload stays
// raw until the type is known.
type ClientFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// DrawPixelPayload is the payload of a DRAW_PIXEL frame. Decoding is
// strict: non-integer coordinates (floats, strings) fail the unmarshal.
type DrawPixelPayload struct {
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Color string `json:"color"`
}

// DecodeClientFrame parses the envelope of an inbound text message.
// Anything that is not a JSON object with a string "type" is rejected
// with a *DecodingError.
func DecodeClientFrame(data []byte) (ClientFrame, error) {
	var f ClientFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return ClientFrame{}, &DecodingError{Reason: "invalid JSON: " + err.Error()}
	}
	if f.Type == "" {
		return ClientFrame{}, &DecodingError{Reason: "missing frame type"}
	}
	return f, nil
}

// DecodeDrawPixel parses a DRAW_PIXEL payload.
func DecodeDrawPixel(payload json.RawMessage) (DrawPixelPayload, error) {
	if len(payload) == 0 {
		return DrawPixelPayload{}, &DecodingError{Reason: "DRAW_PIXEL requires a payload"}
	}
	var p DrawPixelPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return DrawPixelPayload{}, &DecodingError{Reason: "invalid DRAW_PIXEL payload: " + err.Error()}
	}
	return p, nil
}

// KeepalivePingFrame is the constant KEEPALIVE_PING message. It never
// changes, so every tick reuses the same bytes.
var KeepalivePingFrame = []byte(`{"type":"KEEPALIVE_PING"}`)

// EncodePixelUpdate builds a PIXEL_UPDATE frame for one broadcast batch,
// preserving slice order. The encoder is hand-rolled because this is the
// hot fan-out path: one buffer, no intermediate structs. User ids are
// server-minted (uuid or "anon-" prefixed uuid) and need no JSON escaping.
func EncodePixelUpdate(batch []Pixel) []byte {
	buf := make([]byte, 0, 48+len(batch)*88)
	buf = append(buf, `{"type":"PIXEL_UPDATE","payload":{"pixels":[`...)
	for i, p := range batch {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = appendPixel(buf, p, true)
	}
	buf = append(buf, `]}}`...)
	return buf
}

// EncodePixelList builds the snapshot body { "pixels": [...] } used by the
// JSON snapshot endpoints. Entries carry only coordinate and color; the
// caller is responsible for canonical ordering.
func EncodePixelList(pixels []Pixel) []byte {
	buf := make([]byte, 0, 16+len(pixels)*40)
	buf = append(buf, `{"pixels":[`...)
	for i, p := range pixels {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = appendPixel(buf, p, false)
	}
	buf = append(buf, `]}`...)
	return buf
}

func appendPixel(buf []byte, p Pixel, withUser bool) []byte {
	buf = append(buf, `{"x":`...)
	buf = strconv.AppendInt(buf, int64(p.X), 10)
	buf = append(buf, `,"y":`...)
	buf = strconv.AppendInt(buf, int64(p.Y), 10)
	buf = append(buf, `,"color":"`...)
	buf = append(buf, p.Color()...)
	if withUser {
		buf = append(buf, `","userId":"`...)
		buf = append(buf, p.UserID...)
	}
	buf = append(buf, `"}`...)
	return buf
}

// EncodeError builds an ERROR frame. Messages may quote client input, so
// this goes through the stdlib encoder for proper escaping.
func EncodeError(message string) []byte {
	frame := struct {
		Type    string `json:"type"`
		Payload struct {
			Message string `json:"message"`
		} `json:"payload"`
	}{Type: FrameError}
	frame.Payload.Message = message
	b, err := json.Marshal(frame)
	if err != nil {
		// Unreachable for a struct of plain strings.
		return []byte(`{"type":"ERROR","payload":{"message":"internal error"}}`)
	}
	return b
}

// Errorf builds an ERROR frame from a format string.
func Errorf(format string, args ...any) []byte {
	return EncodeError(fmt.Sprintf(format, args...))
}

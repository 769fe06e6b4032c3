package geo

import (
	"errors"
	"math"
	"strings"
)

// Polyline codec for the classic precision-5 encoded polyline format used by
// directions providers. Each value is the signed delta from the previous point,
// zig-zag encoded and written as chunks of 5 bits offset by 63.

var ErrTruncatedPolyline = errors.New("truncated polyline")

// EncodePolyline encodes a coordinate sequence into a precision-5 polyline string.
func EncodePolyline(points []Coordinate) string {
	var b strings.Builder
	var prevLat, prevLng int64

	for _, p := range points {
		lat := int64(math.Round(p.Lat * 1e5))
		lng := int64(math.Round(p.Lng * 1e5))
		encodeSigned(&b, lat-prevLat)
		encodeSigned(&b, lng-prevLng)
		prevLat, prevLng = lat, lng
	}
	return b.String()
}

// DecodePolyline decodes a precision-5 polyline string into coordinates.
func DecodePolyline(encoded string) ([]Coordinate, error) {
	var points []Coordinate
	var lat, lng int64

	i := 0
	for i < len(encoded) {
		dLat, n, err := decodeSigned(encoded[i:])
		if err != nil {
			return nil, err
		}
		i += n

		dLng, n, err := decodeSigned(encoded[i:])
		if err != nil {
			return nil, err
		}
		i += n

		lat += dLat
		lng += dLng
		points = append(points, Coordinate{
			Lat: float64(lat) / 1e5,
			Lng: float64(lng) / 1e5,
		})
	}
	return points, nil
}

// encodeSigned zig-zags a signed delta and writes it as 5-bit chunks + 63.
func encodeSigned(b *strings.Builder, v int64) {
	u := v << 1
	if v < 0 {
		u = ^u
	}
	for u >= 0x20 {
		b.WriteByte(byte(0x20|(u&0x1f)) + 63)
		u >>= 5
	}
	b.WriteByte(byte(u) + 63)
}

// decodeSigned reads one zig-zagged value, returning it and the bytes consumed.
func decodeSigned(s string) (int64, int, error) {
	var result int64
	var shift uint
	for i := 0; i < len(s); i++ {
		chunk := int64(s[i]) - 63
		if chunk < 0 {
			return 0, 0, ErrTruncatedPolyline
		}
		result |= (chunk & 0x1f) << shift
		if chunk < 0x20 {
			value := result >> 1
			if result&1 != 0 {
				value = ^value
			}
			return value, i + 1, nil
		}
		shift += 5
	}
	return 0, 0, ErrTruncatedPolyline
}

// Package token holds the map engine's read-only view of the external token
// store: token records, snapshot diffs and a file-backed feed.
package token

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// BaseDiameter is a size-1 token's diameter in world units.
const BaseDiameter = 50.0

type Token struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	Position           [2]float64 `json:"position"`
	Size               float64    `json:"size"`
	Color              string     `json:"color"`
	ImageURL           string     `json:"imageUrl,omitempty"`
	HP                 int        `json:"hp,omitempty"`
	MaxHP              int        `json:"maxHp,omitempty"`
	AC                 int        `json:"ac,omitempty"`
	Conditions         []string   `json:"conditions,omitempty"`
	IsPlayerControlled bool       `json:"isPlayerControlled"`
	IsVisible          *bool      `json:"isVisible,omitempty"`
}

// Visible reports whether the token is shown to participants. A missing flag
// means visible.
func (t Token) Visible() bool {
	return t.IsVisible == nil || *t.IsVisible
}

// Diameter returns the drawn diameter in world units.
func (t Token) Diameter() float64 {
	s := t.Size
	if s <= 0 {
		s = 1
	}
	return BaseDiameter * s
}

// Equal reports whether two records would render identically.
func (t Token) Equal(o Token) bool {
	if t.ID != o.ID || t.Name != o.Name || t.Position != o.Position || t.Size != o.Size ||
		t.Color != o.Color || t.ImageURL != o.ImageURL || t.HP != o.HP || t.MaxHP != o.MaxHP ||
		t.AC != o.AC || t.IsPlayerControlled != o.IsPlayerControlled || t.Visible() != o.Visible() {
		return false
	}
	if len(t.Conditions) != len(o.Conditions) {
		return false
	}
	for i := range t.Conditions {
		if t.Conditions[i] != o.Conditions[i] {
			return false
		}
	}
	return true
}

var namedColours = map[string]color.RGBA{
	"red":    {R: 0xe0, G: 0x3c, B: 0x31, A: 0xff},
	"green":  {R: 0x2e, G: 0xa0, B: 0x43, A: 0xff},
	"blue":   {R: 0x3b, G: 0x82, B: 0xf6, A: 0xff},
	"yellow": {R: 0xea, G: 0xb3, B: 0x08, A: 0xff},
	"purple": {R: 0x93, G: 0x33, B: 0xea, A: 0xff},
	"orange": {R: 0xf9, G: 0x73, B: 0x16, A: 0xff},
	"white":  {R: 0xff, G: 0xff, B: 0xff, A: 0xff},
	"black":  {R: 0x00, G: 0x00, B: 0x00, A: 0xff},
	"gray":   {R: 0x80, G: 0x80, B: 0x80, A: 0xff},
	"grey":   {R: 0x80, G: 0x80, B: 0x80, A: 0xff},
}

// DefaultColour is used for tokens whose colour does not parse.
var DefaultColour = color.RGBA{R: 0x9c, G: 0xa3, B: 0xaf, A: 0xff}

// ParseColour accepts #rgb, #rrggbb, #rrggbbaa and a few colour names.
func ParseColour(s string) (color.RGBA, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if c, ok := namedColours[s]; ok {
		return c, nil
	}
	hex := strings.TrimPrefix(s, "#")
	switch len(hex) {
	case 3:
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]}) + "ff"
	case 6:
		hex += "ff"
	case 8:
	default:
		return DefaultColour, fmt.Errorf("token colour %q: bad length", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return DefaultColour, fmt.Errorf("token colour %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}

// Colour returns the parsed token colour, or DefaultColour.
func (t Token) Colour() color.RGBA {
	c, _ := ParseColour(t.Color)
	return c
}

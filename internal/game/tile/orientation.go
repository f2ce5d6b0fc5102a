package tile

import (
	"fmt"
	"strconv"
	"strings"
)

// Side identifies one edge of a square tile.
type Side int

const (
	SideTop Side = iota
	SideRight
	SideBottom
	SideLeft
)

var sideNames = map[Side]string{
	SideTop:    "TOP",
	SideRight:  "RIGHT",
	SideBottom: "BOTTOM",
	SideLeft:   "LEFT",
}

func (s Side) String() string {
	if name, ok := sideNames[s]; ok {
		return name
	}
	return fmt.Sprintf("SIDE_%d", int(s))
}

// AllSides lists sides in clockwise order starting at the top.
var AllSides = []Side{SideTop, SideRight, SideBottom, SideLeft}

// Opposite returns the side facing s across a shared edge.
func (s Side) Opposite() Side {
	return (s + 2) % 4
}

// Orientation is a 4-bit mask; bit i is set when side i is open.
type Orientation uint8

// Open sides shorthands.
const (
	OpenTop    Orientation = 1 << SideTop
	OpenRight  Orientation = 1 << SideRight
	OpenBottom Orientation = 1 << SideBottom
	OpenLeft   Orientation = 1 << SideLeft
	OpenAll                = OpenTop | OpenRight | OpenBottom | OpenLeft
)

// NewOrientation builds an orientation with the given sides open.
func NewOrientation(open ...Side) Orientation {
	var o Orientation
	for _, s := range open {
		o |= 1 << s
	}
	return o
}

// IsOpen reports whether side s is open.
func (o Orientation) IsOpen(s Side) bool {
	return o&(1<<s) != 0
}

// Rotate turns the tile a quarter clockwise: the top opening becomes the right one.
func (o Orientation) Rotate() Orientation {
	o &= OpenAll
	return ((o << 1) | (o >> 3)) & OpenAll
}

// RotateTimes rotates n quarter turns clockwise.
func (o Orientation) RotateTimes(n int) Orientation {
	n = ((n % 4) + 4) % 4
	for i := 0; i < n; i++ {
		o = o.Rotate()
	}
	return o
}

// Contains reports whether every side open in other is also open in o.
func (o Orientation) Contains(other Orientation) bool {
	return o&other == other
}

func (o Orientation) String() string {
	var b strings.Builder
	for _, s := range AllSides {
		if o.IsOpen(s) {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}

// Position is an integer grid coordinate. Y grows downward.
// It encodes as the text form "x,y" so it can key JSON objects.
type Position struct {
	X int
	Y int
}

// Origin is where the start tile is placed.
var Origin = Position{}

var sideOffsets = map[Side]Position{
	SideTop:    {X: 0, Y: -1},
	SideRight:  {X: 1, Y: 0},
	SideBottom: {X: 0, Y: 1},
	SideLeft:   {X: -1, Y: 0},
}

// Neighbor returns the position across side s.
func (p Position) Neighbor(s Side) Position {
	off := sideOffsets[s]
	return Position{X: p.X + off.X, Y: p.Y + off.Y}
}

// SideToward returns the side of p that faces q when the two are orthogonally adjacent.
func (p Position) SideToward(q Position) (Side, bool) {
	for _, s := range AllSides {
		if p.Neighbor(s) == q {
			return s, true
		}
	}
	return 0, false
}

// Less orders positions row-major (Y, then X).
func (p Position) Less(q Position) bool {
	if p.Y != q.Y {
		return p.Y < q.Y
	}
	return p.X < q.X
}

func (p Position) String() string {
	return strconv.Itoa(p.X) + "," + strconv.Itoa(p.Y)
}

// MarshalText lets positions be used as JSON object keys.
func (p Position) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses the "x,y" form.
func (p *Position) UnmarshalText(text []byte) error {
	parsed, err := ParsePosition(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePosition parses "x,y".
func ParsePosition(s string) (Position, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 2 {
		return Position{}, fmt.Errorf("invalid position %q", s)
	}
	x, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return Position{}, fmt.Errorf("invalid position %q: %w", s, err)
	}
	y, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return Position{}, fmt.Errorf("invalid position %q: %w", s, err)
	}
	return Position{X: x, Y: y}, nil
}

package domain

// NumValues is the size of the outcome space. Every recorded result is an
// integer in [0, NumValues).
const NumValues = 28

// PoolSize is the fixed size of every candidate pool: 5 hot + 8 cold.
const (
	PoolSize = 13
	HotSize  = 5
	ColdSize = 8
)

// Color is the wheel color assigned to an outcome value.
type Color string

const (
	ColorRed       Color = "red"
	ColorDarkBlue  Color = "dark_blue"
	ColorYellow    Color = "yellow"
	ColorGreen     Color = "green"
	ColorPurple    Color = "purple"
	ColorOrange    Color = "orange"
	ColorLightBlue Color = "light_blue"
)

// Cluster groups colors into warm/cool/neutral families for reversal analysis.
type Cluster string

const (
	ClusterWarm    Cluster = "warm"
	ClusterCool    Cluster = "cool"
	ClusterNeutral Cluster = "neutral"
)

// Parity classifies a value as odd or even.
type Parity string

const (
	ParityOdd  Parity = "odd"
	ParityEven Parity = "even"
)

// Size splits the value space in half: 0-13 small, 14-27 big.
type Size string

const (
	SizeSmall Size = "small"
	SizeBig   Size = "big"
)

// colorWheel maps value % 7 to its color. The palette is fixed game data;
// 15 lands on dark blue.
var colorWheel = [7]Color{
	ColorRed,
	ColorDarkBlue,
	ColorYellow,
	ColorGreen,
	ColorPurple,
	ColorOrange,
	ColorLightBlue,
}

var colorClusters = map[Color]Cluster{
	ColorRed:       ClusterWarm,
	ColorOrange:    ClusterWarm,
	ColorYellow:    ClusterWarm,
	ColorGreen:     ClusterCool,
	ColorLightBlue: ClusterCool,
	ColorDarkBlue:  ClusterCool,
	ColorPurple:    ClusterNeutral,
}

// AllColors lists every color on the wheel.
var AllColors = []Color{
	ColorRed, ColorDarkBlue, ColorYellow, ColorGreen,
	ColorPurple, ColorOrange, ColorLightBlue,
}

// ValidValue reports whether v is inside the outcome space.
func ValidValue(v int) bool {
	return v >= 0 && v < NumValues
}

// ColorOf returns the wheel color for a value.
func ColorOf(v int) Color {
	return colorWheel[((v%7)+7)%7]
}

// ClusterOf returns the warm/cool/neutral cluster for a color.
func ClusterOf(c Color) Cluster {
	return colorClusters[c]
}

// ParityOf returns odd/even for a value.
func ParityOf(v int) Parity {
	if v%2 == 0 {
		return ParityEven
	}
	return ParityOdd
}

// SizeOf returns small for 0-13, big for 14-27.
func SizeOf(v int) Size {
	if v < NumValues/2 {
		return SizeSmall
	}
	return SizeBig
}

// OppositeParity returns the other parity class.
func OppositeParity(p Parity) Parity {
	if p == ParityOdd {
		return ParityEven
	}
	return ParityOdd
}

// OppositeSize returns the other size class.
func OppositeSize(s Size) Size {
	if s == SizeSmall {
		return SizeBig
	}
	return SizeSmall
}

// OppositeCluster flips warm and cool. Neutral has no opposite and maps to
// itself.
func OppositeCluster(c Cluster) Cluster {
	switch c {
	case ClusterWarm:
		return ClusterCool
	case ClusterCool:
		return ClusterWarm
	default:
		return ClusterNeutral
	}
}

package verifier

// Mulberry32 is the 32-bit generator browser clients use to derive game
// state from a challenge seed. Server and client must produce the same
// sequence for the same seed.
type Mulberry32 struct {
	state uint32
}

// NewMulberry32 seeds a generator
func NewMulberry32(seed uint32) *Mulberry32 {
	return &Mulberry32{state: seed}
}

// Uint32 returns the next raw output
func (m *Mulberry32) Uint32() uint32 {
	m.state += 0x6D2B79F5
	t := m.state
	t = (t ^ t>>15) * (t | 1)
	t ^= t + (t^t>>7)*(t|61)
	return t ^ t>>14
}

// Float64 returns the next output scaled to [0, 1)
func (m *Mulberry32) Float64() float64 {
	return float64(m.Uint32()) / 4294967296
}

// Intn returns the next output scaled to [0, n), matching
// Math.floor(rng() * n) on the client
func (m *Mulberry32) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	return int(m.Float64() * float64(n))
}

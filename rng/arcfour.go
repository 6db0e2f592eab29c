package rng

// arcFourDiscard is the number of keystream bytes thrown away after the key
// schedule. Files written by other KeePass implementations depend on it.
const arcFourDiscard = 512

// ArcFour is the ArcFour variant used by KDBX files with
// InnerRandomStreamID 1.
type ArcFour struct {
	seed  []byte
	state [256]byte
	i, j  byte
}

func NewArcFourVariant(seed []byte) *ArcFour {
	a := &ArcFour{seed: cloneBytes(seed)}
	for i := range a.state {
		a.state[i] = byte(i)
	}

	// unlike RC4 proper, each step swaps with state[0] instead of state[i]
	var j byte
	for i := range a.state {
		j += a.state[i] + seed[i%len(seed)]
		a.state[0], a.state[j] = a.state[j], a.state[0]
	}

	var discard [arcFourDiscard]byte
	a.Read(discard[:])
	return a
}

func (a *ArcFour) Algorithm() Algorithm { return ArcFourVariant }

func (a *ArcFour) Seed() []byte { return cloneBytes(a.seed) }

func (a *ArcFour) Read(p []byte) (int, error) {
	for k := range p {
		a.i++
		a.j += a.state[a.i]
		a.state[a.i], a.state[a.j] = a.state[a.j], a.state[a.i]
		p[k] = a.state[a.state[a.i]+a.state[a.j]]
	}
	return len(p), nil
}

func (a *ArcFour) GetBytes(n int) []byte { return getBytes(a, n) }

func (a *ArcFour) Clone() Generator { return NewArcFourVariant(a.seed) }

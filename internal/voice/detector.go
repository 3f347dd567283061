package voice

// Speaking detection parameters. The threshold is compared against a rolling
// average of frequency energy so a single noisy sample does not flap the
// speaking state.
const (
	defaultThreshold = 30.0
	defaultWindow    = 5
)

type Edge int

const (
	EdgeNone Edge = iota
	EdgeStart
	EdgeStop
)

// Detector turns a stream of energy samples into edge-triggered speaking
// transitions. Sample returns EdgeStart or EdgeStop exactly once per
// crossing, never once per sample above the threshold, so the relay is not
// flooded with state broadcasts.
type Detector struct {
	threshold float64
	window    []float64
	next      int
	filled    int
	speaking  bool
}

func NewDetector(threshold float64, window int) *Detector {
	if window < 1 {
		window = 1
	}
	return &Detector{
		threshold: threshold,
		window:    make([]float64, window),
	}
}

func (d *Detector) Sample(energy float64, muted bool) Edge {
	d.window[d.next] = energy
	d.next = (d.next + 1) % len(d.window)
	if d.filled < len(d.window) {
		d.filled++
	}

	var sum float64
	for _, e := range d.window[:d.filled] {
		sum += e
	}
	avg := sum / float64(d.filled)

	loud := avg > d.threshold && !muted
	switch {
	case loud && !d.speaking:
		d.speaking = true
		return EdgeStart
	case !loud && d.speaking:
		d.speaking = false
		return EdgeStop
	default:
		return EdgeNone
	}
}

func (d *Detector) Speaking() bool { return d.speaking }

func (d *Detector) Reset() {
	d.next = 0
	d.filled = 0
	d.speaking = false
}

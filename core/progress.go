package core

// ProgressFunc receives the completed fraction of a running edit, in [0, 1].
// It is called inline and must not start another edit on the same movie.
type ProgressFunc func(fraction float64)

// progressSink turns per-step completion into a non-decreasing fraction
// stream.
type progressSink struct {
	fn    ProgressFunc
	total int
	done  int
	last  float64
}

func newProgress(fn ProgressFunc, steps int) *progressSink {
	p := &progressSink{fn: fn, total: steps}
	p.report(0)
	return p
}

func (p *progressSink) step() {
	p.done++
	if p.total > 0 {
		p.report(float64(p.done) / float64(p.total))
	}
}

func (p *progressSink) finish() {
	p.report(1)
}

func (p *progressSink) report(f float64) {
	if p == nil || p.fn == nil {
		return
	}
	if f > 1 {
		f = 1
	}
	if f < p.last {
		f = p.last
	}
	p.last = f
	p.fn(f)
}

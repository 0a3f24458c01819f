package tensor

// BroadcastTo expands every dimension of d to shape, numpy style.
func (d *Dense) BroadcastTo(shape Shape) (*Dense, error) {
	return d.Expand(shape, 0)
}

// Add returns a + b elementwise with broadcasting.
func Add(a, b *Dense) (*Dense, error) {
	return zip(a, b, func(x, y float64) float64 { return x + y })
}

// Sub returns a - b elementwise with broadcasting.
func Sub(a, b *Dense) (*Dense, error) {
	return zip(a, b, func(x, y float64) float64 { return x - y })
}

// Mul returns a * b elementwise with broadcasting.
func Mul(a, b *Dense) (*Dense, error) {
	return zip(a, b, func(x, y float64) float64 { return x * y })
}

func zip(a, b *Dense, fn func(x, y float64) float64) (*Dense, error) {
	shape, err := BroadcastShapes(a.shape, b.shape)
	if err != nil {
		return nil, err
	}
	ea, err := a.BroadcastTo(shape)
	if err != nil {
		return nil, err
	}
	eb, err := b.BroadcastTo(shape)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(ea.data))
	for i := range out {
		out[i] = fn(ea.data[i], eb.data[i])
	}
	return wrap(shape, out, a.Like()...), nil
}

// WeightsOrUniform broadcasts weights to shape. A nil tensor gives uniform weights; so does one
// that cannot broadcast, in which case ok is false so the caller can report it.
func WeightsOrUniform(weights *Dense, shape Shape, opts ...Option) (w *Dense, ok bool) {
	if weights == nil {
		return Ones(shape, opts...), true
	}
	w, err := weights.BroadcastTo(shape)
	if err != nil {
		return Ones(shape, opts...), false
	}
	return w, true
}

package agent

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Estimator maps an observation to one value per action.
type Estimator interface {
	// Predict returns the action values for a single observation.
	Predict(obs []float64) []float64
	// PredictBatch returns the action values for every observation.
	PredictBatch(obs [][]float64) [][]float64
	// Fit performs one gradient step towards targets and returns the loss
	// measured before the step.
	Fit(inputs, targets [][]float64) (float64, error)
	// Parameters returns a copy of the learnable parameters.
	Parameters() Parameters
	// SetParameters replaces the learnable parameters.
	SetParameters(p Parameters) error
}

// Parameters is the serialisable state of an estimator.
type Parameters struct {
	Layers []LayerParameters `msgpack:"layers"`
}

// LayerParameters holds one dense layer; Weights is row-major Inputs x Outputs.
type LayerParameters struct {
	Inputs  int       `msgpack:"inputs"`
	Outputs int       `msgpack:"outputs"`
	Weights []float64 `msgpack:"weights"`
	Bias    []float64 `msgpack:"bias"`
	ReLU    bool      `msgpack:"relu"`
}

// MLPConfig describes a fully connected network:
// Inputs -> HiddenUnits (relu) -> HiddenLayers x HiddenUnits (relu) -> Outputs (linear).
type MLPConfig struct {
	Inputs       int
	Outputs      int
	HiddenLayers int
	HiddenUnits  int
	LearningRate float64
}

// Adam hyper-parameters (Keras defaults).
const (
	adamBeta1   = 0.9
	adamBeta2   = 0.999
	adamEpsilon = 1e-7
)

type denseLayer struct {
	w    *mat.Dense // inputs x outputs
	b    []float64
	relu bool

	// Adam moments, same layout as w.RawMatrix().Data and b
	mw, vw []float64
	mb, vb []float64
}

type layerGrad struct {
	w []float64
	b []float64
}

// MLP is a small multi-layer perceptron trained with Adam on mean squared error.
type MLP struct {
	layers       []*denseLayer
	learningRate float64
	t            int
}

// NewMLP builds a network with Glorot-uniform weights and zero biases.
func NewMLP(cfg MLPConfig, rng *rand.Rand) (*MLP, error) {
	if cfg.Inputs < 1 || cfg.Outputs < 1 {
		return nil, fmt.Errorf("network needs positive input and output sizes, got %d and %d", cfg.Inputs, cfg.Outputs)
	}
	if cfg.HiddenUnits < 1 {
		return nil, fmt.Errorf("hidden units must be positive, got %d", cfg.HiddenUnits)
	}
	if cfg.HiddenLayers < 0 {
		return nil, fmt.Errorf("hidden layers must be non-negative, got %d", cfg.HiddenLayers)
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = 0.001
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	sizes := []int{cfg.Inputs, cfg.HiddenUnits}
	for i := 0; i < cfg.HiddenLayers; i++ {
		sizes = append(sizes, cfg.HiddenUnits)
	}
	sizes = append(sizes, cfg.Outputs)

	m := &MLP{learningRate: cfg.LearningRate}
	for i := 0; i+1 < len(sizes); i++ {
		in, out := sizes[i], sizes[i+1]
		limit := math.Sqrt(6 / float64(in+out))
		data := make([]float64, in*out)
		for j := range data {
			data[j] = (rng.Float64()*2 - 1) * limit
		}
		m.layers = append(m.layers, newDenseLayer(mat.NewDense(in, out, data), make([]float64, out), i+2 < len(sizes)))
	}

	return m, nil
}

func newDenseLayer(w *mat.Dense, b []float64, relu bool) *denseLayer {
	rows, cols := w.Dims()
	return &denseLayer{
		w:    w,
		b:    b,
		relu: relu,
		mw:   make([]float64, rows*cols),
		vw:   make([]float64, rows*cols),
		mb:   make([]float64, cols),
		vb:   make([]float64, cols),
	}
}

// Inputs returns the observation width the network expects.
func (m *MLP) Inputs() int {
	rows, _ := m.layers[0].w.Dims()
	return rows
}

// Outputs returns the number of action values the network produces.
func (m *MLP) Outputs() int {
	_, cols := m.layers[len(m.layers)-1].w.Dims()
	return cols
}

// Predict returns the action values for a single observation.
func (m *MLP) Predict(obs []float64) []float64 {
	return m.PredictBatch([][]float64{obs})[0]
}

// PredictBatch returns the action values for every observation. Observations
// of the wrong width yield a zero row.
func (m *MLP) PredictBatch(obs [][]float64) [][]float64 {
	if len(obs) == 0 {
		return nil
	}
	x := toDense(obs, m.Inputs())
	_, _, out := m.forward(x)

	rows, _ := out.Dims()
	result := make([][]float64, rows)
	for i := range result {
		result[i] = mat.Row(nil, i, out)
	}
	return result
}

// Fit performs a single Adam step on the mean squared error between the
// network output and targets. Output coordinates whose target equals the
// current prediction contribute no gradient.
func (m *MLP) Fit(inputs, targets [][]float64) (float64, error) {
	if len(inputs) == 0 || len(inputs) != len(targets) {
		return 0, fmt.Errorf("fit needs equal non-empty batches, got %d inputs and %d targets", len(inputs), len(targets))
	}
	for i := range inputs {
		if len(inputs[i]) != m.Inputs() {
			return 0, fmt.Errorf("input %d has %d features, network expects %d", i, len(inputs[i]), m.Inputs())
		}
		if len(targets[i]) != m.Outputs() {
			return 0, fmt.Errorf("target %d has %d values, network produces %d", i, len(targets[i]), m.Outputs())
		}
	}

	loss, grads := m.backward(toDense(inputs, m.Inputs()), toDense(targets, m.Outputs()))

	m.t++
	correction := math.Sqrt(1-math.Pow(adamBeta2, float64(m.t))) / (1 - math.Pow(adamBeta1, float64(m.t)))
	lr := m.learningRate * correction
	for i, l := range m.layers {
		adamUpdate(l.w.RawMatrix().Data, grads[i].w, l.mw, l.vw, lr)
		adamUpdate(l.b, grads[i].b, l.mb, l.vb, lr)
	}

	return loss, nil
}

func adamUpdate(params, grad, m1, m2 []float64, lr float64) {
	for i, g := range grad {
		m1[i] = adamBeta1*m1[i] + (1-adamBeta1)*g
		m2[i] = adamBeta2*m2[i] + (1-adamBeta2)*g*g
		params[i] -= lr * m1[i] / (math.Sqrt(m2[i]) + adamEpsilon)
	}
}

// forward returns each layer's input, each layer's pre-activation and the output.
func (m *MLP) forward(x *mat.Dense) ([]*mat.Dense, []*mat.Dense, *mat.Dense) {
	inputs := make([]*mat.Dense, 0, len(m.layers))
	pre := make([]*mat.Dense, 0, len(m.layers))

	a := x
	for _, l := range m.layers {
		rows, _ := a.Dims()
		_, cols := l.w.Dims()

		z := mat.NewDense(rows, cols, nil)
		z.Mul(a, l.w)
		for i := 0; i < rows; i++ {
			floats.Add(z.RawRowView(i), l.b)
		}

		inputs = append(inputs, a)
		pre = append(pre, z)

		if !l.relu {
			a = z
			continue
		}
		act := mat.NewDense(rows, cols, nil)
		act.Apply(func(_, _ int, v float64) float64 { return math.Max(0, v) }, z)
		a = act
	}

	return inputs, pre, a
}

// loss is the mean squared error over every output coordinate.
func (m *MLP) loss(x, y *mat.Dense) float64 {
	_, _, out := m.forward(x)
	rows, cols := out.Dims()

	var diff mat.Dense
	diff.Sub(out, y)
	return mat.Sum(mulElem(&diff, &diff)) / float64(rows*cols)
}

// backward computes the loss and its gradient for every layer.
func (m *MLP) backward(x, y *mat.Dense) (float64, []layerGrad) {
	inputs, pre, out := m.forward(x)
	rows, cols := out.Dims()
	n := float64(rows * cols)

	grad := mat.NewDense(rows, cols, nil)
	grad.Sub(out, y)
	loss := mat.Sum(mulElem(grad, grad)) / n
	grad.Scale(2/n, grad)

	grads := make([]layerGrad, len(m.layers))
	for li := len(m.layers) - 1; li >= 0; li-- {
		l := m.layers[li]
		if l.relu {
			z := pre[li]
			grad.Apply(func(i, j int, v float64) float64 {
				if z.At(i, j) > 0 {
					return v
				}
				return 0
			}, grad)
		}

		inRows, inCols := inputs[li].Dims()
		_, outCols := l.w.Dims()

		gw := mat.NewDense(inCols, outCols, nil)
		gw.Mul(inputs[li].T(), grad)
		gb := make([]float64, outCols)
		for i := 0; i < inRows; i++ {
			floats.Add(gb, grad.RawRowView(i))
		}
		grads[li] = layerGrad{w: gw.RawMatrix().Data, b: gb}

		if li > 0 {
			next := mat.NewDense(inRows, inCols, nil)
			next.Mul(grad, l.w.T())
			grad = next
		}
	}

	return loss, grads
}

// Parameters returns a copy of the network weights.
func (m *MLP) Parameters() Parameters {
	p := Parameters{Layers: make([]LayerParameters, len(m.layers))}
	for i, l := range m.layers {
		rows, cols := l.w.Dims()
		p.Layers[i] = LayerParameters{
			Inputs:  rows,
			Outputs: cols,
			Weights: append([]float64(nil), l.w.RawMatrix().Data...),
			Bias:    append([]float64(nil), l.b...),
			ReLU:    l.relu,
		}
	}
	return p
}

// SetParameters loads weights of an identically shaped network and resets the
// optimizer state.
func (m *MLP) SetParameters(p Parameters) error {
	if len(p.Layers) != len(m.layers) {
		return fmt.Errorf("parameter set has %d layers, network has %d", len(p.Layers), len(m.layers))
	}

	layers := make([]*denseLayer, len(p.Layers))
	for i, lp := range p.Layers {
		rows, cols := m.layers[i].w.Dims()
		if lp.Inputs != rows || lp.Outputs != cols {
			return fmt.Errorf("layer %d is %dx%d, network expects %dx%d", i, lp.Inputs, lp.Outputs, rows, cols)
		}
		if len(lp.Weights) != rows*cols || len(lp.Bias) != cols {
			return fmt.Errorf("layer %d has %d weights and %d biases, expected %d and %d",
				i, len(lp.Weights), len(lp.Bias), rows*cols, cols)
		}
		w := mat.NewDense(rows, cols, append([]float64(nil), lp.Weights...))
		layers[i] = newDenseLayer(w, append([]float64(nil), lp.Bias...), m.layers[i].relu)
	}

	m.layers = layers
	m.t = 0
	return nil
}

func toDense(rows [][]float64, width int) *mat.Dense {
	data := make([]float64, len(rows)*width)
	for i, r := range rows {
		if len(r) != width {
			continue
		}
		copy(data[i*width:], r)
	}
	return mat.NewDense(len(rows), width, data)
}

func mulElem(a, b mat.Matrix) *mat.Dense {
	var out mat.Dense
	out.MulElem(a, b)
	return &out
}

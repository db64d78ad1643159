package acoustic

import (
	"encoding/gob"
	"fmt"
	"io"
	"math"
	"math/rand"

	"github.com/ieee0824/streamdecode/internal/blas"
)

// DNNLayer holds weights and biases for a single fully-connected layer.
// W is [OutDim × InDim] row-major, B is [OutDim].
type DNNLayer struct {
	W      []float64
	B      []float64
	InDim  int
	OutDim int
}

// BatchNormParams holds inference statistics for one batch normalization layer.
type BatchNormParams struct {
	Gamma       []float64
	Beta        []float64
	RunningMean []float64
	RunningVar  []float64
	Dim         int
}

// DNN is a feed-forward network over a spliced context window whose outputs
// are pdf log-posteriors. Score converts them to pseudo log-likelihoods by
// subtracting LogPrior, so the network plugs into the search as a Model.
// Architecture: input → hidden (ReLU) × N → output (log-softmax).
type DNN struct {
	Layers     []DNNLayer
	InputDim   int // = (2*ContextLen+1) * feature dim
	OutputDim  int // = number of pdfs
	ContextLen int // frames on each side of the centre frame

	UseBatchNorm bool
	BN           []BatchNormParams // len = number of hidden layers

	LogPrior []float64 // [OutputDim]
}

// NewDNN creates a network with Xavier (or He, with batch norm) initial weights.
func NewDNN(featureDim, hiddenDim, contextLen, numHiddenLayers, numPdfs int, useBatchNorm bool) *DNN {
	d := &DNN{
		Layers:       make([]DNNLayer, 0, numHiddenLayers+1),
		InputDim:     (2*contextLen + 1) * featureDim,
		OutputDim:    numPdfs,
		ContextLen:   contextLen,
		UseBatchNorm: useBatchNorm,
		LogPrior:     make([]float64, numPdfs),
	}
	in := d.InputDim
	for i := 0; i <= numHiddenLayers; i++ {
		out, gain := hiddenDim, float64(in+hiddenDim)
		if i == numHiddenLayers {
			out, gain = numPdfs, float64(in+numPdfs)
		} else if useBatchNorm {
			gain = float64(in)
		}
		layer := DNNLayer{W: make([]float64, out*in), B: make([]float64, out), InDim: in, OutDim: out}
		randomize(layer.W, math.Sqrt(2/gain))
		d.Layers = append(d.Layers, layer)
		if useBatchNorm && i < numHiddenLayers {
			d.BN = append(d.BN, identityBatchNorm(out))
		}
		in = out
	}
	return d
}

func randomize(w []float64, scale float64) {
	for i := range w {
		w[i] = rand.NormFloat64() * scale
	}
}

func identityBatchNorm(dim int) BatchNormParams {
	bn := BatchNormParams{
		Gamma:       make([]float64, dim),
		Beta:        make([]float64, dim),
		RunningMean: make([]float64, dim),
		RunningVar:  make([]float64, dim),
		Dim:         dim,
	}
	for j := range dim {
		bn.Gamma[j] = 1
		bn.RunningVar[j] = 1
	}
	return bn
}

// NumPdfs implements Model.
func (d *DNN) NumPdfs() int { return d.OutputDim }

// FeatureDim implements Model.
func (d *DNN) FeatureDim() int { return d.InputDim / (2*d.ContextLen + 1) }

// LeftContext implements Model.
func (d *DNN) LeftContext() int { return d.ContextLen }

// RightContext implements Model.
func (d *DNN) RightContext() int { return d.ContextLen }

// Score implements Model: one forward pass over the spliced window followed
// by prior subtraction.
func (d *DNN) Score(window [][]float64, dst []float64) error {
	if len(window) != 2*d.ContextLen+1 {
		return fmt.Errorf("acoustic: dnn window has %d frames, want %d", len(window), 2*d.ContextLen+1)
	}
	if len(dst) != d.OutputDim {
		return fmt.Errorf("acoustic: output size %d, want %d", len(dst), d.OutputDim)
	}
	featDim := d.FeatureDim()
	input := make([]float64, d.InputDim)
	for w, frame := range window {
		if len(frame) != featDim {
			return fmt.Errorf("acoustic: feature dim %d, want %d", len(frame), featDim)
		}
		copy(input[w*featDim:(w+1)*featDim], frame)
	}
	activations := make([][]float64, len(d.Layers)-1)
	for i := range activations {
		activations[i] = make([]float64, d.Layers[i].OutDim)
	}
	d.Forward(input, 1, activations, dst)
	d.SubtractPrior(dst)
	return nil
}

const batchNormEps = 1e-5

// Forward computes log-softmax outputs for a batch of input vectors.
// input is [batchSize × InputDim] row-major, activations holds one
// [batchSize × OutDim] buffer per hidden layer and output is
// [batchSize × OutputDim].
func (d *DNN) Forward(input []float64, batchSize int, activations [][]float64, output []float64) {
	prev, prevDim := input, d.InputDim
	last := len(d.Layers) - 1
	for i := range d.Layers {
		layer := &d.Layers[i]
		dst := output
		if i < last {
			dst = activations[i]
		}
		blas.Dgemm(false, true, batchSize, layer.OutDim, prevDim,
			1.0, prev, prevDim, layer.W, prevDim, 0.0, dst, layer.OutDim)

		if i == last {
			logSoftmaxRows(dst, layer.B, batchSize, layer.OutDim)
		} else {
			scale, shift := d.hiddenAffine(i)
			affineReLURows(dst, scale, shift, batchSize, layer.OutDim)
		}
		prev, prevDim = dst, layer.OutDim
	}
}

// hiddenAffine folds the bias, and batch norm when enabled, of hidden
// layer i into a per-unit scale and shift.
func (d *DNN) hiddenAffine(i int) (scale, shift []float64) {
	bias := d.Layers[i].B
	scale = make([]float64, len(bias))
	shift = make([]float64, len(bias))
	for j, b := range bias {
		if !d.UseBatchNorm {
			scale[j], shift[j] = 1, b
			continue
		}
		bn := &d.BN[i]
		g := bn.Gamma[j] / math.Sqrt(bn.RunningVar[j]+batchNormEps)
		scale[j] = g
		shift[j] = bn.Beta[j] + g*(b-bn.RunningMean[j])
	}
	return scale, shift
}

func affineReLURows(z, scale, shift []float64, rows, cols int) {
	for i := 0; i < rows; i++ {
		row := z[i*cols : (i+1)*cols]
		for j, v := range row {
			row[j] = max(v*scale[j]+shift[j], 0)
		}
	}
}

func logSoftmaxRows(z, bias []float64, rows, cols int) {
	for i := 0; i < rows; i++ {
		row := z[i*cols : (i+1)*cols]
		top := math.Inf(-1)
		for j := range row {
			row[j] += bias[j]
			top = max(top, row[j])
		}
		sum := 0.0
		for _, v := range row {
			sum += math.Exp(v - top)
		}
		norm := top + math.Log(sum)
		for j := range row {
			row[j] -= norm
		}
	}
}

// ForwardFrames computes log-posteriors for a whole utterance at once,
// replicating edge frames to fill the context window. The online scorer
// produces the same values frame by frame.
func (d *DNN) ForwardFrames(features [][]float64) [][]float64 {
	T := len(features)
	if T == 0 {
		return nil
	}

	input := make([]float64, T*d.InputDim)
	featDim := len(features[0])
	winSize := 2*d.ContextLen + 1
	for t := 0; t < T; t++ {
		off := t * d.InputDim
		for w := 0; w < winSize; w++ {
			srcT := t - d.ContextLen + w
			if srcT < 0 {
				srcT = 0
			} else if srcT >= T {
				srcT = T - 1
			}
			copy(input[off+w*featDim:off+(w+1)*featDim], features[srcT])
		}
	}

	activations := make([][]float64, len(d.Layers)-1)
	for i := range activations {
		activations[i] = make([]float64, T*d.Layers[i].OutDim)
	}
	outFlat := make([]float64, T*d.OutputDim)
	d.Forward(input, T, activations, outFlat)

	result := make([][]float64, T)
	for t := 0; t < T; t++ {
		result[t] = outFlat[t*d.OutputDim : (t+1)*d.OutputDim]
	}
	return result
}

// SubtractPrior converts log-posteriors to pseudo log-likelihoods in place.
func (d *DNN) SubtractPrior(logPost []float64) {
	for i, lp := range d.LogPrior {
		logPost[i] -= lp
	}
}

type serializedDNN struct {
	ContextLen int
	Layers     []DNNLayer
	BN         []BatchNormParams
	LogPrior   []float64
}

// Save serializes the network using gob encoding.
func (d *DNN) Save(w io.Writer) error {
	return gob.NewEncoder(w).Encode(serializedDNN{
		ContextLen: d.ContextLen,
		Layers:     d.Layers,
		BN:         d.BN,
		LogPrior:   d.LogPrior,
	})
}

// LoadDNN deserializes a network written by Save.
func LoadDNN(r io.Reader) (*DNN, error) {
	var sd serializedDNN
	if err := gob.NewDecoder(r).Decode(&sd); err != nil {
		return nil, fmt.Errorf("decode dnn: %w", err)
	}
	if len(sd.Layers) == 0 {
		return nil, fmt.Errorf("acoustic: dnn has no layers")
	}
	nLayers := len(sd.Layers)
	d := &DNN{
		Layers:       sd.Layers,
		InputDim:     sd.Layers[0].InDim,
		OutputDim:    sd.Layers[nLayers-1].OutDim,
		ContextLen:   sd.ContextLen,
		UseBatchNorm: len(sd.BN) > 0,
		BN:           sd.BN,
		LogPrior:     sd.LogPrior,
	}
	if d.InputDim%(2*d.ContextLen+1) != 0 {
		return nil, fmt.Errorf("acoustic: dnn input dim %d not divisible by window %d", d.InputDim, 2*d.ContextLen+1)
	}
	if d.UseBatchNorm && len(d.BN) != nLayers-1 {
		return nil, fmt.Errorf("acoustic: dnn has %d batch-norm layers, want %d", len(d.BN), nLayers-1)
	}
	if len(d.LogPrior) != d.OutputDim {
		return nil, fmt.Errorf("acoustic: dnn prior size %d, want %d", len(d.LogPrior), d.OutputDim)
	}
	return d, nil
}

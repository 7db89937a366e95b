package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"regexp"
	"strings"

	"github.com/nvandessel/skillroute/internal/vectorindex"
)

// Artifact suffixes appended to the model prefix.
const (
	VectorizerSuffix = "_vectorizer.json"
	ClassifierSuffix = "_classifier.json"
	MetadataSuffix   = "_metadata.json"
)

// Classifier kinds understood by LoadModel.
const (
	KindLinear   = "linear"
	KindCentroid = "centroid"
)

// ErrNoModel is returned by LoadModel when any artifact is missing.
var ErrNoModel = errors.New("no trained model artifacts")

// Vectorizer is a fitted TF-IDF vectorizer.
type Vectorizer struct {
	Vocabulary  map[string]int `json:"vocabulary"`
	IDF         []float64      `json:"idf"`
	NgramRange  [2]int         `json:"ngram_range"`
	SublinearTF bool           `json:"sublinear_tf"`
}

// ClassifierArtifact is a fitted linear or nearest-centroid classifier.
type ClassifierArtifact struct {
	Kind    string   `json:"kind"`
	Classes []string `json:"classes"`

	// Linear: one weight row per class (a single row means binary
	// logistic regression for Classes[1]).
	Coef      [][]float64 `json:"coef,omitempty"`
	Intercept []float64   `json:"intercept,omitempty"`

	// Centroid: one unit vector per class; Temperature scales cosine
	// similarities before the softmax.
	Centroids   [][]float64 `json:"centroids,omitempty"`
	Temperature float64     `json:"temperature,omitempty"`
}

// Metadata is the sidecar describing a training run.
type Metadata struct {
	Version   string  `json:"version"`
	TrainedAt string  `json:"trained_at"`
	Accuracy  float64 `json:"accuracy,omitempty"`
	Samples   int     `json:"samples,omitempty"`
}

// Model bundles the three artifacts.
type Model struct {
	Vectorizer Vectorizer
	Classifier ClassifierArtifact
	Metadata   Metadata

	index vectorindex.VectorIndex
}

var tokenPattern = regexp.MustCompile(`\b\w\w+\b`)

// LoadModel reads <prefix>_vectorizer.json, <prefix>_classifier.json and
// <prefix>_metadata.json. It returns ErrNoModel if any is absent.
func LoadModel(prefix string) (*Model, error) {
	if prefix == "" {
		return nil, ErrNoModel
	}
	m := &Model{}
	parts := []struct {
		suffix string
		dst    interface{}
	}{
		{VectorizerSuffix, &m.Vectorizer},
		{ClassifierSuffix, &m.Classifier},
		{MetadataSuffix, &m.Metadata},
	}
	for _, p := range parts {
		data, err := os.ReadFile(prefix + p.suffix)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, ErrNoModel
			}
			return nil, fmt.Errorf("failed to read %s: %w", prefix+p.suffix, err)
		}
		if err := json.Unmarshal(data, p.dst); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", prefix+p.suffix, err)
		}
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	if m.Classifier.Kind == KindCentroid {
		m.index = vectorindex.NewBruteForceIndex()
		for i, class := range m.Classifier.Classes {
			if err := m.index.Add(context.Background(), class, m.Classifier.Centroids[i]); err != nil {
				return nil, fmt.Errorf("failed to index centroid %s: %w", class, err)
			}
		}
	}
	return m, nil
}

func (m *Model) validate() error {
	dim := len(m.Vectorizer.IDF)
	if dim == 0 {
		return fmt.Errorf("vectorizer has an empty idf table")
	}
	for term, i := range m.Vectorizer.Vocabulary {
		if i < 0 || i >= dim {
			return fmt.Errorf("vocabulary term %q index %d out of range", term, i)
		}
	}
	c := &m.Classifier
	if len(c.Classes) < 2 {
		return fmt.Errorf("classifier needs at least two classes")
	}
	switch c.Kind {
	case KindLinear:
		binary := len(c.Coef) == 1 && len(c.Classes) == 2
		if !binary && len(c.Coef) != len(c.Classes) {
			return fmt.Errorf("coef has %d rows for %d classes", len(c.Coef), len(c.Classes))
		}
		if len(c.Intercept) != len(c.Coef) {
			return fmt.Errorf("intercept has %d entries for %d rows", len(c.Intercept), len(c.Coef))
		}
		for _, row := range c.Coef {
			if len(row) != dim {
				return fmt.Errorf("coef row width %d, want %d", len(row), dim)
			}
		}
	case KindCentroid:
		if len(c.Centroids) != len(c.Classes) {
			return fmt.Errorf("%d centroids for %d classes", len(c.Centroids), len(c.Classes))
		}
		for _, row := range c.Centroids {
			if len(row) != dim {
				return fmt.Errorf("centroid width %d, want %d", len(row), dim)
			}
		}
		if c.Temperature == 0 {
			c.Temperature = 10
		}
	default:
		return fmt.Errorf("unknown classifier kind %q", c.Kind)
	}
	return nil
}

// Transform maps text to an L2-normalized TF-IDF vector.
func (v *Vectorizer) Transform(text string) []float64 {
	vec := make([]float64, len(v.IDF))
	tokens := tokenPattern.FindAllString(strings.ToLower(text), -1)

	lo, hi := v.NgramRange[0], v.NgramRange[1]
	if lo < 1 {
		lo = 1
	}
	if hi < lo {
		hi = lo
	}
	for n := lo; n <= hi; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			if idx, ok := v.Vocabulary[strings.Join(tokens[i:i+n], " ")]; ok {
				vec[idx]++
			}
		}
	}
	for i, tf := range vec {
		if tf == 0 {
			continue
		}
		if v.SublinearTF {
			tf = 1 + math.Log(tf)
		}
		vec[i] = tf * v.IDF[i]
	}
	vectorindex.Normalize(vec)
	return vec
}

// Predict returns the class probabilities for text.
func (m *Model) Predict(text string) (map[string]float64, error) {
	x := m.Vectorizer.Transform(text)
	c := &m.Classifier

	var logits []float64
	switch c.Kind {
	case KindLinear:
		if len(c.Coef) == 1 {
			p := sigmoid(dot(c.Coef[0], x) + c.Intercept[0])
			return map[string]float64{c.Classes[0]: 1 - p, c.Classes[1]: p}, nil
		}
		logits = make([]float64, len(c.Classes))
		for i, row := range c.Coef {
			logits[i] = dot(row, x) + c.Intercept[i]
		}
	case KindCentroid:
		results, err := m.index.Search(context.Background(), x, len(c.Classes))
		if err != nil {
			return nil, err
		}
		sims := make(map[string]float64, len(results))
		for _, r := range results {
			sims[r.Label] = r.Score
		}
		logits = make([]float64, len(c.Classes))
		for i, class := range c.Classes {
			logits[i] = sims[class] * c.Temperature
		}
	}

	probs := softmax(logits)
	out := make(map[string]float64, len(probs))
	for i, class := range c.Classes {
		out[class] = probs[i]
	}
	return out, nil
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func softmax(z []float64) []float64 {
	top := math.Inf(-1)
	for _, v := range z {
		if v > top {
			top = v
		}
	}
	out := make([]float64, len(z))
	var sum float64
	for i, v := range z {
		out[i] = math.Exp(v - top)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

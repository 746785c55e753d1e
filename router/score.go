package router

import (
	"regexp"
	"time"
)

// Bucket is a confidence band that selects a routing strategy.
type Bucket string

const (
	BucketHigh       Bucket = "high"
	BucketMedium     Bucket = "medium"
	BucketLow        Bucket = "low"
	BucketNonFactual Bucket = "non_factual"
)

// Bucket thresholds.
const (
	thresholdHigh   = 0.7
	thresholdMedium = 0.4
	thresholdLow    = 0.3
)

// Decision is the ephemeral outcome of classifying one utterance.
type Decision struct {
	Confidence   float64
	Matched      []string
	Bucket       Bucket
	Source       string
	FallbackUsed bool
	Elapsed      time.Duration
}

type compiledPattern struct {
	re       *regexp.Regexp
	category string
	weight   float64
}

type scorer struct {
	patterns   []compiledPattern
	fullWeight float64
}

func newScorer(patterns []Pattern, fullWeight float64) (*scorer, error) {
	if fullWeight <= 0 {
		fullWeight = 1.0
	}
	s := &scorer{fullWeight: fullWeight}
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p.Match)
		if err != nil {
			return nil, err
		}
		s.patterns = append(s.patterns, compiledPattern{re: re, category: p.Category, weight: p.Weight})
	}
	return s, nil
}

// score sums the weights of every matched pattern and normalizes by the
// configured full-confidence weight, clamped to [0,1].
func (s *scorer) score(normalized string) (confidence float64, matched []string, categories map[string]bool) {
	categories = make(map[string]bool)
	var sum float64
	for _, p := range s.patterns {
		if p.re.MatchString(normalized) {
			sum += p.weight
			matched = append(matched, p.re.String())
			categories[p.category] = true
		}
	}
	confidence = sum / s.fullWeight
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return confidence, matched, categories
}

func bucketFor(confidence float64) Bucket {
	switch {
	case confidence >= thresholdHigh:
		return BucketHigh
	case confidence >= thresholdMedium:
		return BucketMedium
	case confidence >= thresholdLow:
		return BucketLow
	default:
		return BucketNonFactual
	}
}

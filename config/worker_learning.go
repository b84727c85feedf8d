package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Learning holds the thresholds shared by extraction, matching and the learning loop.
type Learning struct {
	MergeThreshold           float64 `yaml:"merge_threshold"`
	DedupThreshold           float64 `yaml:"dedup_threshold"`
	MinPatternConfidence     float64 `yaml:"min_pattern_confidence"`
	MinExtractedConfidence   float64 `yaml:"min_extracted_confidence"`
	CandidateMinConfidence   float64 `yaml:"candidate_min_confidence"`
	TemplateOverlapThreshold float64 `yaml:"template_overlap_threshold"`
	MinContentLength         int     `yaml:"min_content_length"`
	OwnReplyBoost            float64 `yaml:"own_reply_boost"`
	OwnReplySuccessRate      float64 `yaml:"own_reply_success_rate"`
	FallbackConfidence       float64 `yaml:"fallback_confidence"`
	SuccessRateStep          float64 `yaml:"success_rate_step"`
	HistoryBatchSize         int     `yaml:"history_batch_size"`
	ContinuousBatchSize      int     `yaml:"continuous_batch_size"`
	BatchConcurrency         int     `yaml:"batch_concurrency"`
	ChunkThreshold           int     `yaml:"chunk_threshold"`
	MaxChunkSize             int     `yaml:"max_chunk_size"`
	MaxChunks                int     `yaml:"max_chunks"`
	BodyTruncate             int     `yaml:"body_truncate"`
}

func DefaultLearning() Learning {
	return Learning{
		MergeThreshold:           0.8,
		DedupThreshold:           0.7,
		MinPatternConfidence:     0.6,
		MinExtractedConfidence:   0.3,
		CandidateMinConfidence:   0.4,
		TemplateOverlapThreshold: 0.7,
		MinContentLength:         50,
		OwnReplyBoost:            1.1,
		OwnReplySuccessRate:      0.9,
		FallbackConfidence:       0.6,
		SuccessRateStep:          0.1,
		HistoryBatchSize:         10,
		ContinuousBatchSize:      3,
		BatchConcurrency:         3,
		ChunkThreshold:           4000,
		MaxChunkSize:             2000,
		MaxChunks:                5,
		BodyTruncate:             2000,
	}
}

// Overlay reads a YAML profile and replaces every field it sets.
func (l *Learning) Overlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read learning profile: %w", err)
	}
	if err := yaml.Unmarshal(data, l); err != nil {
		return fmt.Errorf("parse learning profile %s: %w", path, err)
	}
	return nil
}

// Validate clamps batch knobs into their working ranges and rejects thresholds outside [0,1].
func (l *Learning) Validate() error {
	for name, v := range map[string]float64{
		"merge_threshold":            l.MergeThreshold,
		"dedup_threshold":            l.DedupThreshold,
		"min_pattern_confidence":     l.MinPatternConfidence,
		"min_extracted_confidence":   l.MinExtractedConfidence,
		"candidate_min_confidence":   l.CandidateMinConfidence,
		"template_overlap_threshold": l.TemplateOverlapThreshold,
		"own_reply_success_rate":     l.OwnReplySuccessRate,
		"fallback_confidence":        l.FallbackConfidence,
		"success_rate_step":          l.SuccessRateStep,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("learning profile: %s must be within [0,1], got %v", name, v)
		}
	}
	if l.OwnReplyBoost < 1 {
		return fmt.Errorf("learning profile: own_reply_boost must be >= 1, got %v", l.OwnReplyBoost)
	}

	l.HistoryBatchSize = clampInt(l.HistoryBatchSize, 3, 10)
	l.ContinuousBatchSize = clampInt(l.ContinuousBatchSize, 3, 10)
	l.BatchConcurrency = clampInt(l.BatchConcurrency, 3, 5)
	if l.MaxChunks < 1 {
		l.MaxChunks = 1
	}
	if l.MaxChunkSize <= 0 {
		l.MaxChunkSize = 2000
	}
	if l.ChunkThreshold < l.MaxChunkSize {
		l.ChunkThreshold = l.MaxChunkSize
	}
	if l.BodyTruncate <= 0 {
		l.BodyTruncate = 2000
	}
	return nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Package config holds the detector configuration and its JSON form.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/openfluke/ssd/anchor"
	"github.com/openfluke/ssd/loss"
	"github.com/openfluke/ssd/postprocess"
	"github.com/openfluke/ssd/pyramid"
)

// Config describes one detector setup.
type Config struct {
	Backbone   string `json:"backbone"`
	NumClasses int    `json:"num_classes"` // including background
	Seed       int64  `json:"seed"`

	// Loss
	ScaleXY  float64 `json:"scale_xy"`
	ScaleWH  float64 `json:"scale_wh"`
	NegRatio float64 `json:"neg_ratio"`
	Epsilon  float64 `json:"epsilon"`

	// Matching and inference
	MatchCriteria  float64 `json:"match_criteria"`
	NMSThreshold   float32 `json:"nms_threshold"`
	ScoreThreshold float32 `json:"score_threshold"`
	MaxDetections  int     `json:"max_detections"`

	WeightDecay float64 `json:"weight_decay"`
	Workers     int     `json:"workers"` // 0 = one per logical core
	GPU         bool    `json:"gpu"`
	FP16        bool    `json:"fp16"`
}

// Default returns the COCO ResNet-50 configuration.
func Default() Config {
	lc := loss.DefaultConfig()
	pp := postprocess.SSDParams()
	return Config{
		Backbone:       "resnet50",
		NumClasses:     81,
		ScaleXY:        lc.ScaleXY,
		ScaleWH:        lc.ScaleWH,
		NegRatio:       lc.NegRatio,
		Epsilon:        lc.Epsilon,
		MatchCriteria:  anchor.DefaultCriteria,
		NMSThreshold:   pp.NMSThreshold,
		ScoreThreshold: pp.ScoreThreshold,
		MaxDetections:  pp.MaxOutput,
		WeightDecay:    0.0005,
	}
}

// Load reads a JSON file over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes cfg as indented JSON.
func (c Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejects unknown backbones and out-of-range constants.
func (c Config) Validate() error {
	if _, err := pyramid.ParseBackbone(c.Backbone); err != nil {
		return err
	}
	if c.NumClasses < 2 {
		return fmt.Errorf("num_classes must include background and one class, got %d", c.NumClasses)
	}
	if err := c.Loss().Validate(); err != nil {
		return err
	}
	if c.MatchCriteria <= 0 || c.MatchCriteria >= 1 {
		return fmt.Errorf("match_criteria must be in (0,1), got %g", c.MatchCriteria)
	}
	if c.NMSThreshold <= 0 || c.NMSThreshold > 1 {
		return fmt.Errorf("nms_threshold must be in (0,1], got %g", c.NMSThreshold)
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold >= 1 {
		return fmt.Errorf("score_threshold must be in [0,1), got %g", c.ScoreThreshold)
	}
	if c.MaxDetections <= 0 {
		return fmt.Errorf("max_detections must be positive, got %d", c.MaxDetections)
	}
	if c.WeightDecay < 0 {
		return fmt.Errorf("weight_decay must not be negative, got %g", c.WeightDecay)
	}
	return nil
}

// BackboneValue parses the backbone name.
func (c Config) BackboneValue() (pyramid.Backbone, error) {
	return pyramid.ParseBackbone(c.Backbone)
}

// Loss returns the loss constants.
func (c Config) Loss() loss.Config {
	return loss.Config{
		ScaleXY:  c.ScaleXY,
		ScaleWH:  c.ScaleWH,
		NegRatio: c.NegRatio,
		Epsilon:  c.Epsilon,
		Workers:  c.Workers,
	}
}

// Postprocess returns the decoding parameters.
func (c Config) Postprocess() postprocess.Params {
	return postprocess.Params{
		ScaleXY:        c.ScaleXY,
		ScaleWH:        c.ScaleWH,
		ScoreThreshold: c.ScoreThreshold,
		NMSThreshold:   c.NMSThreshold,
		MaxOutput:      c.MaxDetections,
		Workers:        c.Workers,
	}
}

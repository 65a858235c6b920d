package loss

import "fmt"

// Config holds the loss constants. Zero fields take the defaults.
type Config struct {
	// ScaleXY multiplies center offsets normalized by the anchor size (default 10).
	ScaleXY float64
	// ScaleWH multiplies the log size ratio (default 5).
	ScaleWH float64
	// NegRatio is the number of hard negatives kept per foreground anchor (default 3).
	NegRatio float64
	// Epsilon floors the foreground count before normalization (default 1e-6).
	Epsilon float64
	// Workers bounds the per-sample fan-out; 0 uses parallel.DefaultLimit.
	Workers int
}

// DefaultConfig returns the reference constants.
func DefaultConfig() Config {
	return Config{
		ScaleXY:  10,
		ScaleWH:  5,
		NegRatio: 3,
		Epsilon:  1e-6,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ScaleXY == 0 {
		c.ScaleXY = d.ScaleXY
	}
	if c.ScaleWH == 0 {
		c.ScaleWH = d.ScaleWH
	}
	if c.NegRatio == 0 {
		c.NegRatio = d.NegRatio
	}
	if c.Epsilon == 0 {
		c.Epsilon = d.Epsilon
	}
	return c
}

// Validate rejects negative or non-positive constants.
func (c Config) Validate() error {
	if c.ScaleXY <= 0 || c.ScaleWH <= 0 {
		return fmt.Errorf("loss scales must be positive, got %g/%g", c.ScaleXY, c.ScaleWH)
	}
	if c.NegRatio < 0 {
		return fmt.Errorf("negative ratio must not be negative, got %g", c.NegRatio)
	}
	if c.Epsilon <= 0 {
		return fmt.Errorf("epsilon must be positive, got %g", c.Epsilon)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	return nil
}

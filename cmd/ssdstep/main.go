// Command ssdstep runs one detector training step: pyramid, head, matching,
// multi-task loss and head backward, then decodes the predictions.
package main

import (
	"flag"
	"math"
	"math/rand"
	"os"

	"github.com/klauspost/cpuid/v2"
	"go.uber.org/zap"

	"github.com/openfluke/ssd/anchor"
	"github.com/openfluke/ssd/config"
	"github.com/openfluke/ssd/gpu"
	"github.com/openfluke/ssd/head"
	"github.com/openfluke/ssd/imageio"
	"github.com/openfluke/ssd/loss"
	"github.com/openfluke/ssd/nn"
	"github.com/openfluke/ssd/postprocess"
	"github.com/openfluke/ssd/pyramid"
)

func main() {
	configPath := flag.String("config", "", "JSON config file (defaults when empty)")
	backbone := flag.String("backbone", "", "Override backbone (resnet18..152, mobilenetv2, mobilenetv3)")
	annotations := flag.String("annotations", "", "JSON annotations with image paths; synthetic batch when empty")
	synthetic := flag.Int("synthetic", 2, "Synthetic batch size when no annotations are given")
	useGPU := flag.Bool("gpu", false, "Run head predictors on WebGPU")
	fp16 := flag.Bool("fp16", false, "Round predictions through half precision")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	cfg := config.Default()
	if *configPath != "" {
		if cfg, err = config.Load(*configPath); err != nil {
			logger.Fatal("failed to load config", zap.Error(err))
		}
	}
	if *backbone != "" {
		cfg.Backbone = *backbone
	}
	cfg.GPU = cfg.GPU || *useGPU
	cfg.FP16 = cfg.FP16 || *fp16
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	logger.Info("environment",
		zap.String("cpu", cpuid.CPU.BrandName),
		zap.Int("logical_cores", cpuid.CPU.LogicalCores),
		zap.Int("physical_cores", cpuid.CPU.PhysicalCores),
		zap.Bool("avx2", cpuid.CPU.Supports(cpuid.AVX2)),
	)

	if err := run(logger, cfg, *annotations, *synthetic); err != nil {
		logger.Fatal("step failed", zap.Error(err))
	}
}

func run(logger *zap.Logger, cfg config.Config, annotationsPath string, synthetic int) error {
	b, err := cfg.BackboneValue()
	if err != nil {
		return err
	}
	rng := rand.New(rand.NewSource(cfg.Seed))

	spec := pyramid.DefaultSpec(b)
	stem, err := pyramid.StemFor(spec, 3, rng)
	if err != nil {
		return err
	}
	pyr, err := pyramid.New(spec, stem, rng)
	if err != nil {
		return err
	}

	layout := b.Layout()
	set, err := anchor.Build(layout)
	if err != nil {
		return err
	}

	var opts []head.Option
	if cfg.GPU {
		gpu.SetLogger(logger)
		if gpu.Available() {
			opts = append(opts, head.WithGPU())
		} else {
			logger.Warn("no WebGPU adapter, running head on CPU")
		}
	}
	hd, err := head.New(layout, pyr.Channels(), cfg.NumClasses, rng, opts...)
	if err != nil {
		return err
	}
	defer hd.Close()
	if err := hd.Validate(set); err != nil {
		return err
	}
	logger.Info("model",
		zap.Stringer("backbone", b),
		zap.Ints("channels", pyr.Channels()),
		zap.Ints("feature_sizes", layout.FeatureSizes()),
		zap.Int("anchors", set.Len()),
		zap.Int("classes", cfg.NumClasses),
	)

	images, target, err := loadBatch(set, cfg, annotationsPath, synthetic, rng)
	if err != nil {
		return err
	}

	features, err := pyr.Features(images)
	if err != nil {
		return err
	}
	pred, err := hd.Forward(features)
	if err != nil {
		return err
	}
	if cfg.FP16 {
		pred = pred.Half().Float32()
	}

	mb, err := loss.New(set, cfg.Loss())
	if err != nil {
		return err
	}
	res, err := mb.Forward(pred, target)
	if err != nil {
		return err
	}
	for n, s := range res.Samples {
		logger.Info("sample",
			zap.Int("index", n),
			zap.Int("pos", s.PosNum),
			zap.Int("neg", s.Selected),
			zap.Float64("loc", s.Loc),
			zap.Float64("conf", s.Conf),
			zap.Float64("normalized", s.Normalized),
		)
	}
	logger.Info("loss", zap.Float64("value", res.Loss))

	hd.ZeroGrad()
	if _, err := hd.Backward(features, res.GradLoc, res.GradConf); err != nil {
		return err
	}
	groups := nn.GroupParams(append(pyr.Params(), hd.Params()...))
	logger.Info("parameters",
		zap.Int("decay", len(groups.Decay)),
		zap.Int("no_decay", len(groups.NoDecay)),
		zap.Float64("weight_decay", cfg.WeightDecay),
		zap.Float64("head_grad_norm", gradNorm(hd.Params())),
	)

	dets, err := postprocess.Detect(set, pred, cfg.Postprocess())
	if err != nil {
		return err
	}
	for n, d := range dets {
		fields := []zap.Field{zap.Int("index", n), zap.Int("count", len(d))}
		if len(d) > 0 {
			fields = append(fields, zap.Any("best", d[0]))
		}
		logger.Info("detections", fields...)
	}
	return nil
}

func loadBatch(set *anchor.Set, cfg config.Config, path string, synthetic int, rng *rand.Rand) (nn.FeatureMap, *loss.Target, error) {
	enc := anchor.NewEncoder(set, cfg.MatchCriteria)
	size := set.Layout().ImageSize

	if path == "" {
		images := nn.NewFeatureMap(synthetic, 3, size, size)
		for i := range images.Data {
			images.Data[i] = float32(rng.NormFloat64())
		}
		matches := make([]anchor.Match, synthetic)
		for n := range matches {
			boxes, labels := randomBoxes(rng, cfg.NumClasses)
			m, err := enc.Encode(boxes, labels)
			if err != nil {
				return nn.FeatureMap{}, nil, err
			}
			matches[n] = m
		}
		target, err := loss.StackTargets(matches)
		return images, target, err
	}

	anns, err := loadAnnotations(path)
	if err != nil {
		return nn.FeatureMap{}, nil, err
	}
	paths := make([]string, len(anns))
	for i, a := range anns {
		paths[i] = a.Image
	}
	images, sizes, err := imageio.LoadBatch(paths, size)
	if err != nil {
		return nn.FeatureMap{}, nil, err
	}
	matches := make([]anchor.Match, len(anns))
	for i, a := range anns {
		boxes, labels := a.normalize(sizes[i])
		if matches[i], err = enc.Encode(boxes, labels); err != nil {
			return nn.FeatureMap{}, nil, err
		}
	}
	target, err := loss.StackTargets(matches)
	return images, target, err
}

func randomBoxes(rng *rand.Rand, classes int) ([]anchor.Box, []int32) {
	n := 1 + rng.Intn(3)
	boxes := make([]anchor.Box, n)
	labels := make([]int32, n)
	for i := range boxes {
		w, h := 0.1+0.5*rng.Float32(), 0.1+0.5*rng.Float32()
		x, y := rng.Float32()*(1-w), rng.Float32()*(1-h)
		boxes[i] = anchor.Box{Left: x, Top: y, Right: x + w, Bottom: y + h}
		labels[i] = int32(1 + rng.Intn(classes-1))
	}
	return boxes, labels
}

func gradNorm(params []nn.Param) float64 {
	var sum float64
	for _, p := range params {
		for _, g := range p.Grad {
			sum += float64(g) * float64(g)
		}
	}
	return math.Sqrt(sum)
}

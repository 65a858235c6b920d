// Package nn provides the CPU building blocks of the detector: flattened NCHW
// feature maps, 2D convolution with hand-written backpropagation, activations,
// inference batch normalization and parameter initialization.
//
// All tensors are flattened []float32 in [batch][channels][height][width] order.
// Layers keep no hidden state between calls other than their parameters and the
// gradients accumulated by Backward, so a layer can be replicated freely.
//
// Example usage:
//
//	conv := nn.NewConv2D(256, 24, 3, 1, 1, true, nn.ActivationLinear, rng)
//	pre, out, err := conv.Forward(features)
//	gradIn, err := conv.Backward(gradOut, features, pre)
package nn

// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package kernel

import (
	_ "embed"
	"fmt"
	"strconv"
	"strings"
)

// WGSL sources. common.wgsl declares the bindings shared by every kernel:
//
//	@binding(0) uniform Params{width, height, pad0, pad1}
//	@binding(1) storage read  src: array<f32>
//	@binding(2) storage rw    dst: array<f32>
var (
	//go:embed shaders/common.wgsl
	commonWGSL string

	//go:embed shaders/gradient.wgsl
	gradientWGSL string

	//go:embed shaders/blur.wgsl
	blurWGSL string

	//go:embed shaders/threshold.wgsl
	thresholdWGSL string
)

// ShaderEntryPoint is the compute entry point of every kernel shader.
const ShaderEntryPoint = "main"

// ParamsSize is the byte size of the Params uniform.
const ParamsSize = 16

// ShaderSource returns the WGSL compute shader for id with a workgroup
// size of blockW × blockH.
func ShaderSource(id ID, blockW, blockH int) (string, error) {
	if blockW <= 0 || blockH <= 0 {
		return "", fmt.Errorf("kernel: invalid workgroup size %dx%d", blockW, blockH)
	}

	var body string
	switch id {
	case Gradient:
		body = gradientWGSL
	case Blur:
		body = blurWGSL
	case ThresholdEdge:
		body = thresholdWGSL
	default:
		return "", fmt.Errorf("kernel: unknown kernel %v", id)
	}

	r := strings.NewReplacer(
		"{{BLOCK_W}}", strconv.Itoa(blockW),
		"{{BLOCK_H}}", strconv.Itoa(blockH),
		"{{BLUR_CENTER}}", wgslFloat(BlurCenter),
		"{{BLUR_EDGE}}", wgslFloat(BlurEdge),
		"{{BLUR_CORNER}}", wgslFloat(BlurCorner),
		"{{BLUR_DIVISOR}}", wgslFloat(BlurDivisor),
		"{{THRESHOLD}}", wgslFloat(Threshold),
		"{{EDGE_ON}}", wgslFloat(EdgeOn),
		"{{EDGE_OFF}}", wgslFloat(EdgeOff),
	)
	return commonWGSL + "\n" + r.Replace(body), nil
}

// wgslFloat formats an integral constant as an f32 literal ("16.0").
func wgslFloat(v int) string {
	return strconv.Itoa(v) + ".0"
}

// Copyright 2026 skein Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package run

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
)

// Headless advances the runtime through the given number of frames with
// synthetic signals: the pointer parked at the center, button up, time
// stepping at 60 Hz.
func Headless(ctx context.Context, rt *Runtime, frames int) error {
	const dt = 1.0 / 60.0
	sig := Signals{
		Pointer:     [2]float32{0.5, 0.5},
		PointerPrev: [2]float32{0.5, 0.5},
	}
	for f := 0; f < frames; f++ {
		sig.Time = float32(f) * dt
		if err := rt.Frame(ctx, sig); err != nil {
			return err
		}
		sig.PointerPrev = sig.Pointer
	}
	return nil
}

// SavePNG writes a display buffer (row-major RGB in [0,1]) as a PNG.
func SavePNG(path string, display []float32, w, h int) error {
	if len(display) != w*h*3 {
		return fmt.Errorf("display buffer holds %d elements, want %d", len(display), w*h*3)
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			base := (y*w + x) * 3
			img.SetRGBA(x, y, color.RGBA{
				R: clamp8(display[base]),
				G: clamp8(display[base+1]),
				B: clamp8(display[base+2]),
				A: 0xff,
			})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func clamp8(v float32) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return 0xff
	}
	return uint8(v*255 + 0.5)
}

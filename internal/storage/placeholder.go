// odksync - ODK Central to PostgreSQL synchronization service
// Copyright 2026 Ripplenami
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ripplenami/odksync

package storage

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
)

const (
	placeholderWidth  = 300
	placeholderHeight = 200
)

// PlaceholderPNG renders the stand-in image uploaded for submissions that
// arrived without a building photo: a light grey canvas with a darker
// border, so dashboards show a deliberate blank instead of a broken image.
func PlaceholderPNG() ([]byte, error) {
	fill := color.RGBA{R: 0xe0, G: 0xe0, B: 0xe0, A: 0xff}
	border := color.RGBA{R: 0x9e, G: 0x9e, B: 0x9e, A: 0xff}

	img := image.NewRGBA(image.Rect(0, 0, placeholderWidth, placeholderHeight))
	for y := 0; y < placeholderHeight; y++ {
		for x := 0; x < placeholderWidth; x++ {
			onBorder := x < 2 || y < 2 || x >= placeholderWidth-2 || y >= placeholderHeight-2
			if onBorder {
				img.Set(x, y, border)
			} else {
				img.Set(x, y, fill)
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding placeholder: %w", err)
	}
	return buf.Bytes(), nil
}

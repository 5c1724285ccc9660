// Copyright 2026 The ESPKit Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flash

import "errors"

// The error kinds a session can report. At most one of them is active
// at a time: the data path keeps the first device fault, the deflate
// stream checks overwrite each other as they are reevaluated on every
// chunk. All of them are cleared by the next Begin.
var (
	ErrUnlock         = errors.New("flash: SPI unlock failed")
	ErrWrite          = errors.New("flash: SPI write failed")
	ErrInflate        = errors.New("flash: inflate error")
	ErrNotEnoughData  = errors.New("flash: not enough data")
	ErrTooMuchData    = errors.New("flash: too much data")
	ErrNotInFlashMode = errors.New("flash: not in flash mode")
)

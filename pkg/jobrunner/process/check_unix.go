// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

//go:build !windows

package process

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// CheckExecutable verifies that path is a regular file the current user may
// execute.
func CheckExecutable(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("no such file %s: %w", path, err)
	}

	if !fi.Mode().IsRegular() {
		return fmt.Errorf("%s is not a file", path)
	}

	if err := unix.Access(path, unix.X_OK); err != nil {
		return fmt.Errorf("%s is not executable: %w", path, err)
	}
	return nil
}

// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package logging holds the process wide logrus logger. Components get a
// prefixed entry from GetLogger; the entry point picks output, level and
// format.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var (
	log *logrus.Logger
)

// GetLogger returns a configured logger instance
func GetLogger(prefix string) *logrus.Entry {
	return log.WithField("prefix", prefix)
}

// SetOutput redirects every logger returned by GetLogger.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

// SetLevel sets the minimum level from its name, e.g. "debug" or "warning".
func SetLevel(level string) error {
	l, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	log.SetLevel(l)
	return nil
}

func init() {
	log = logrus.New()
	log.SetOutput(os.Stderr)
	if err := SetFormat(FormatText); err != nil {
		panic(err)
	}
}

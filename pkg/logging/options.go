// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package logging

import (
	"fmt"

	log_prefixed "github.com/chappjc/logrus-prefix"
	"github.com/sirupsen/logrus"
)

// Format is a selector of an output format.
type Format string

const (
	// FormatText is the prefixed, human friendly text output.
	FormatText = Format("text")

	// FormatCompact writes one line per message, see CompactTextFormatter.
	FormatCompact = Format("compact")

	// FormatJSON writes logs as JSON objects.
	FormatJSON = Format("json")
)

// DefaultTimestampFormat is the timestamp layout recommended to use by default.
const DefaultTimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// SetFormat switches the formatter of the shared logger.
func SetFormat(format Format) error {
	switch format {
	case FormatText, "":
		log.SetFormatter(&log_prefixed.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: DefaultTimestampFormat,
		})
	case FormatCompact:
		log.SetFormatter(&CompactTextFormatter{
			TimestampFormat: DefaultTimestampFormat,
		})
	case FormatJSON:
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: DefaultTimestampFormat,
		})
	default:
		return fmt.Errorf("unknown log format %q, possible values: %s, %s, %s", format, FormatText, FormatCompact, FormatJSON)
	}
	return nil
}

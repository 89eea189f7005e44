// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package logging

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// CompactTextFormatter renders an entry as
// "[<timestamp> <level letter> <file:line>] <prefix>: <message>\t<k>=<v>...".
// Job script output is multi-line, so it is kept as-is in the message.
type CompactTextFormatter struct {
	TimestampFormat string
}

func levelSymbol(level logrus.Level) byte {
	return strings.ToUpper(level.String()[:1])[0]
}

// Format implements logrus.Formatter.
func (f *CompactTextFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var str, header strings.Builder
	timestamp := time.RFC3339
	if f.TimestampFormat != "" {
		timestamp = f.TimestampFormat
	}
	header.WriteString(fmt.Sprintf("%s %c",
		entry.Time.Format(timestamp),
		levelSymbol(entry.Level),
	))
	if entry.Caller != nil {
		header.WriteString(fmt.Sprintf(" %s:%d", filepath.Base(entry.Caller.File), entry.Caller.Line))
	}
	str.WriteString(fmt.Sprintf("[%s] ", header.String()))
	if prefix, ok := entry.Data["prefix"]; ok {
		str.WriteString(fmt.Sprintf("%v: ", prefix))
	}
	str.WriteString(entry.Message)

	keys := make([]string, 0, len(entry.Data))
	for key := range entry.Data {
		if key == "prefix" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		str.WriteString(fmt.Sprintf("\t%s=%v", key, entry.Data[key]))
	}

	str.WriteByte('\n')
	return []byte(str.String()), nil
}

// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package config

import "time"

// DefaultScriptTimeout is the maximum time a single job or hook script may
// run before it is killed. Zero means no deadline.
var DefaultScriptTimeout time.Duration = 0

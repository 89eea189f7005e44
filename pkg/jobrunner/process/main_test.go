// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package process

import (
	"testing"

	"github.com/fb-tricent/puppetlabs-cd4pe-jobs/tests/common/goroutine_leak_check"
)

func TestMain(m *testing.M) {
	goroutine_leak_check.LeakCheckingTestMain(m)
}

// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package jobrunner

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func outcome(job int, kind HookKind, hook int) JobOutcome {
	return JobOutcome{
		Job:  RunResult{ExitCode: job},
		Hook: HookResult{Kind: kind, Result: RunResult{ExitCode: hook}},
	}
}

func TestCombinedExitCode(t *testing.T) {
	require.Equal(t, 0, CombinedExitCode(outcome(0, HookAfterJobSuccess, 0)))

	for _, kind := range []HookKind{HookAfterJobSuccess, HookAfterJobFailure} {
		for _, codes := range [][2]int{{1, 0}, {125, 0}, {0, 1}, {0, 125}, {1, 125}, {125, 125}, {-1, 0}} {
			t.Run(fmt.Sprintf("%s/%d/%d", kind, codes[0], codes[1]), func(t *testing.T) {
				require.Equal(t, 1, CombinedExitCode(outcome(codes[0], kind, codes[1])))
			})
		}
	}
}

func TestHookFor(t *testing.T) {
	require.Equal(t, HookAfterJobSuccess, hookFor(RunResult{ExitCode: 0}))
	require.Equal(t, HookAfterJobFailure, hookFor(RunResult{ExitCode: 127}))
}

func TestJobOutcomeAccessors(t *testing.T) {
	o := outcome(0, HookAfterJobSuccess, 0)
	require.NotNil(t, o.AfterJobSuccess())
	require.Nil(t, o.AfterJobFailure())

	o = outcome(1, HookAfterJobFailure, 0)
	require.Nil(t, o.AfterJobSuccess())
	require.NotNil(t, o.AfterJobFailure())
}

func TestJobOutcomeJSON(t *testing.T) {
	o := JobOutcome{
		Job:  RunResult{ExitCode: 127, Message: "not found\n"},
		Hook: HookResult{Kind: HookAfterJobFailure, Result: RunResult{ExitCode: 0, Message: "in after failure script\n"}},
	}
	data, err := json.Marshal(o)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"job": {"exit_code": 127, "message": "not found\n"},
		"after_job_failure": {"exit_code": 0, "message": "in after failure script\n"}
	}`, string(data))

	var back JobOutcome
	require.NoError(t, json.Unmarshal(data, &back))
	require.Equal(t, o, back)

	require.Error(t, json.Unmarshal([]byte(`{"job":{"exit_code":0,"message":""}}`), &back))
}

// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package jobrunner

import (
	"encoding/json"
	"fmt"

	"github.com/fb-tricent/puppetlabs-cd4pe-jobs/pkg/dockercmd"
)

// RunResult is the outcome of one script execution.
type RunResult struct {
	ExitCode int    `json:"exit_code"`
	Message  string `json:"message"`
}

// Succeeded is true for a zero exit code.
func (r RunResult) Succeeded() bool {
	return r.ExitCode == 0
}

// HookKind tells which hook script ran.
type HookKind int

// The two hooks. Exactly one of them runs per job.
const (
	HookAfterJobSuccess HookKind = iota
	HookAfterJobFailure
)

// Manifest returns the lifecycle script the hook executes.
func (k HookKind) Manifest() dockercmd.ManifestType {
	if k == HookAfterJobFailure {
		return dockercmd.ManifestAfterJobFailure
	}
	return dockercmd.ManifestAfterJobSuccess
}

func (k HookKind) String() string {
	switch k {
	case HookAfterJobSuccess:
		return "after_job_success"
	case HookAfterJobFailure:
		return "after_job_failure"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// hookFor picks the hook for a job result. This is the only branch point
// of the lifecycle.
func hookFor(job RunResult) HookKind {
	if job.Succeeded() {
		return HookAfterJobSuccess
	}
	return HookAfterJobFailure
}

// HookResult is the result of whichever hook ran.
type HookResult struct {
	Kind   HookKind
	Result RunResult
}

// JobOutcome combines the job script result with the result of the hook
// selected by it.
type JobOutcome struct {
	Job  RunResult
	Hook HookResult
}

// AfterJobSuccess returns the success hook result, or nil if the failure
// hook ran instead.
func (o *JobOutcome) AfterJobSuccess() *RunResult {
	if o.Hook.Kind != HookAfterJobSuccess {
		return nil
	}
	return &o.Hook.Result
}

// AfterJobFailure returns the failure hook result, or nil if the success
// hook ran instead.
func (o *JobOutcome) AfterJobFailure() *RunResult {
	if o.Hook.Kind != HookAfterJobFailure {
		return nil
	}
	return &o.Hook.Result
}

type jobOutcomeJSON struct {
	Job             RunResult  `json:"job"`
	AfterJobSuccess *RunResult `json:"after_job_success,omitempty"`
	AfterJobFailure *RunResult `json:"after_job_failure,omitempty"`
}

// MarshalJSON renders the outcome with only the hook that ran.
func (o JobOutcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(jobOutcomeJSON{
		Job:             o.Job,
		AfterJobSuccess: o.AfterJobSuccess(),
		AfterJobFailure: o.AfterJobFailure(),
	})
}

// UnmarshalJSON is the inverse of MarshalJSON. Exactly one hook must be set.
func (o *JobOutcome) UnmarshalJSON(data []byte) error {
	var v jobOutcomeJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch {
	case v.AfterJobSuccess != nil && v.AfterJobFailure == nil:
		o.Hook = HookResult{Kind: HookAfterJobSuccess, Result: *v.AfterJobSuccess}
	case v.AfterJobFailure != nil && v.AfterJobSuccess == nil:
		o.Hook = HookResult{Kind: HookAfterJobFailure, Result: *v.AfterJobFailure}
	default:
		return fmt.Errorf("job outcome must carry exactly one of after_job_success, after_job_failure")
	}
	o.Job = v.Job
	return nil
}

// CombinedExitCode reduces an outcome to a process exit status: 0 when both
// the job and its hook succeeded, 1 otherwise. Individual codes are not
// propagated.
func CombinedExitCode(o JobOutcome) int {
	if o.Job.Succeeded() && o.Hook.Result.Succeeded() {
		return 0
	}
	return 1
}

// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package config

import "github.com/fb-tricent/puppetlabs-cd4pe-jobs/pkg/jobrunner"

// DefaultCertsRoot is the directory under which per-registry CA
// certificates are installed.
const DefaultCertsRoot = jobrunner.DefaultCertsRoot

// List of parameter keys understood by Params.JobConfig.
const (
	ParamWorkingDir      = "working_dir"
	ParamDockerImage     = "docker_image"
	ParamDockerRunArgs   = "docker_run_args"
	ParamDockerPullCreds = "docker_pull_creds"
	ParamCACert          = "base_64_ca_cert"
	ParamJobToken        = "job_token"
	ParamWebUIEndpoint   = "web_ui_endpoint"
	ParamJobOwner        = "job_owner"
	ParamJobInstanceID   = "job_instance_id"
	ParamWindowsJob      = "windows_job"
	ParamSecrets         = "secrets"
	ParamTimeout         = "timeout"
	ParamEnvVars         = jobrunner.EnvVarsParam
)

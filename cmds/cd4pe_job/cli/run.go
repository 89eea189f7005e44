// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fb-tricent/puppetlabs-cd4pe-jobs/pkg/archive"
	"github.com/fb-tricent/puppetlabs-cd4pe-jobs/pkg/config"
	"github.com/fb-tricent/puppetlabs-cd4pe-jobs/pkg/jobrunner"
	"github.com/fb-tricent/puppetlabs-cd4pe-jobs/pkg/logging"
)

type options struct {
	paramsFile string
	envFile    string
	payload    string
	certsRoot  string
	// timeout is only set when given on the command line
	timeout *time.Duration
	args    []string
}

// loadParams merges the parameters file and the command line arguments.
func loadParams(opts options) (config.Params, error) {
	params := make(config.Params)
	if opts.paramsFile != "" {
		p, err := config.LoadParams(opts.paramsFile)
		if err != nil {
			return nil, err
		}
		params = p
	}
	args, err := config.ParseArgs(opts.args)
	if err != nil {
		return nil, err
	}
	params.Merge(args)
	return params, nil
}

// buildEnvironment layers the env file below the env_vars parameter.
func buildEnvironment(opts options, params config.Params) (*jobrunner.Environment, error) {
	env := jobrunner.NewEnvironment()
	if opts.envFile != "" {
		entries, err := config.LoadEnvFile(opts.envFile)
		if err != nil {
			return nil, err
		}
		if err := jobrunner.SetJobEnvVars(env, map[string]interface{}{jobrunner.EnvVarsParam: entries}); err != nil {
			return nil, fmt.Errorf("env file '%s': %w", opts.envFile, err)
		}
	}
	if err := jobrunner.SetJobEnvVars(env, params); err != nil {
		return nil, err
	}
	return env, nil
}

func run(ctx context.Context, opts options, stdout io.Writer) (int, error) {
	log := logging.GetLogger("cd4pe_job")

	params, err := loadParams(opts)
	if err != nil {
		return 1, err
	}
	cfg, err := params.JobConfig()
	if err != nil {
		return 1, err
	}
	if opts.timeout != nil {
		cfg.Timeout = *opts.timeout
	}
	cfg.CertsRoot = opts.certsRoot
	if cfg.Env, err = buildEnvironment(opts, params); err != nil {
		return 1, err
	}
	cfg.Logger = logging.GetLogger("jobrunner")

	if opts.payload != "" {
		log.Infof("Extracting payload %s into %s", opts.payload, cfg.WorkingDir)
		err := archive.Unzip(opts.payload, cfg.WorkingDir, archive.OptionOnEntry(func(e archive.Entry) {
			log.WithFields(logrus.Fields{"kind": e.Kind, "mode": e.Mode}).Debugf("%s", e.Name)
		}))
		if err != nil {
			return 1, fmt.Errorf("failed to stage payload: %w", err)
		}
	}

	runner, err := jobrunner.New(cfg)
	if err != nil {
		return 1, err
	}
	outcome := runner.RunJob(ctx)

	logResult(log, "job", outcome.Job)
	logResult(log, outcome.Hook.Kind.String(), outcome.Hook.Result)

	data, err := json.MarshalIndent(outcome, "", "  ")
	if err != nil {
		return 1, fmt.Errorf("failed to serialize job outcome: %w", err)
	}
	if _, err := fmt.Fprintf(stdout, "%s\n", data); err != nil {
		return 1, err
	}
	return jobrunner.CombinedExitCode(outcome), nil
}

func logResult(log *logrus.Entry, name string, res jobrunner.RunResult) {
	l := log.WithField("exit_code", res.ExitCode)
	if res.Succeeded() {
		l.Infof("%s succeeded", name)
	} else {
		l.Warnf("%s failed", name)
	}
	if res.Message != "" {
		log.Infof("%s output:\n%s", name, res.Message)
	}
}

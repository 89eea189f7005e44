// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package cli

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/fb-tricent/puppetlabs-cd4pe-jobs/pkg/config"
	"github.com/fb-tricent/puppetlabs-cd4pe-jobs/pkg/logging"
)

var (
	flagSet       *flag.FlagSet
	flagParams    *string
	flagEnvFile   *string
	flagPayload   *string
	flagCertsRoot *string
	flagLogLevel  *string
	flagLogFormat *string
	flagTimeout   *time.Duration
)

func initFlags(cmd string) {
	flagSet = flag.NewFlagSet(cmd, flag.ContinueOnError)
	flagParams = flagSet.StringP("params", "p", "", "Job parameters file, YAML (.yaml, .yml) or JSON with comments")
	flagEnvFile = flagSet.String("env-file", "", "dotenv file with variables to export to the job, overridden by env_vars")
	flagPayload = flagSet.String("payload", "", "gzip-compressed tar archive to extract into the working directory before running")
	flagCertsRoot = flagSet.String("certs-root", config.DefaultCertsRoot, "Directory receiving per-registry CA certificates")
	flagLogLevel = flagSet.String("log-level", "info", "A log level, possible values: debug, info, warning, error, panic, fatal")
	flagLogFormat = flagSet.String("log-format", string(logging.FormatText), "Log format, possible values: text, compact, json")
	flagTimeout = flagSet.Duration("timeout", config.DefaultScriptTimeout, "Maximum run time of each script; 0 means no limit. Overrides the timeout parameter")

	flagSet.Usage = func() {
		fmt.Fprintf(flagSet.Output(),
			`Usage:

  %s [flags] [KEY=VALUE ...]

Runs the JOB script of a cd4pe job, then AFTER_JOB_SUCCESS or
AFTER_JOB_FAILURE depending on its outcome. Parameters are read from the
--params file and then from KEY=VALUE arguments, the latter taking
precedence. Known keys:

  working_dir, docker_image, docker_run_args, docker_pull_creds,
  base_64_ca_cert, job_token, web_ui_endpoint, job_owner, job_instance_id,
  windows_job, secrets, timeout, env_vars

The outcome is printed to stdout as JSON.

Flags:
`, path.Base(cmd))
		flagSet.PrintDefaults()
	}
}

// CLIMain parses the command line, runs the job and returns the process exit
// code. A non-nil error means the job could not be started at all.
func CLIMain(ctx context.Context, cmd string, args []string, stdout, stderr io.Writer) (int, error) {
	initFlags(cmd)
	flagSet.SetOutput(stderr)
	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0, nil
		}
		return 1, err
	}

	logging.SetOutput(stderr)
	if err := logging.SetLevel(*flagLogLevel); err != nil {
		return 1, err
	}
	if err := logging.SetFormat(logging.Format(*flagLogFormat)); err != nil {
		return 1, err
	}

	opts := options{
		paramsFile: *flagParams,
		envFile:    *flagEnvFile,
		payload:    *flagPayload,
		certsRoot:  *flagCertsRoot,
		args:       flagSet.Args(),
	}
	if flagSet.Changed("timeout") {
		opts.timeout = flagTimeout
	}
	return run(ctx, opts, stdout)
}

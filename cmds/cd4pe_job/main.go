// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fb-tricent/puppetlabs-cd4pe-jobs/cmds/cd4pe_job/cli"
)

// cd4pe_job runs a single cd4pe job from a working directory holding the
// repository checkout and the lifecycle scripts.
//
// Usage examples:
// Run a job described by a parameters file
//   ./cd4pe_job --params job.yaml
//
// Run a job in a container, staging a payload first
//   ./cd4pe_job --payload payload.tar.gz working_dir=/tmp/job docker_image=puppet/pdk
//
// The job outcome is printed to stdout as JSON, and the exit status is 0 only
// if both the job and its hook succeeded.

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code, err := cli.CLIMain(ctx, os.Args[0], os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[0], err)
		os.Exit(1)
	}
	os.Exit(code)
}

// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package jobrunner

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fb-tricent/puppetlabs-cd4pe-jobs/pkg/jobrunner/process"
)

// DefaultCertsRoot is where the docker daemon looks for per-registry CA
// certificates.
const DefaultCertsRoot = "/etc/docker/certs.d"

// Secret is a named value handed to the job through its environment. Only
// the name ever appears on a command line.
type Secret struct {
	Name  string
	Value string
}

// JobConfig is the input bundle of one job run.
type JobConfig struct {
	WorkingDir string

	// Correlation only, never interpreted.
	JobToken      string
	WebUIEndpoint string
	JobOwner      string
	JobInstanceID string

	WindowsJob bool

	// DockerImage selects container execution; empty runs the scripts on
	// the host.
	DockerImage   string
	DockerRunArgs []string
	// DockerPullCreds is a base64 encoded docker config.json document.
	DockerPullCreds string
	// CACertBase64 is a base64 encoded PEM certificate trusted for every
	// registry listed in DockerPullCreds.
	CACertBase64 string

	Secrets []Secret

	// CertsRoot defaults to DefaultCertsRoot.
	CertsRoot string

	// Timeout bounds each script run; zero means no deadline.
	Timeout time.Duration

	// Env holds the user supplied job variables, see SetJobEnvVars.
	Env *Environment

	Logger *logrus.Entry

	// Executor defaults to a process.LocalExecutor.
	Executor process.Executor
}

// Validate checks the parts of the config that New cannot default.
func (c *JobConfig) Validate() error {
	if c.WorkingDir == "" {
		return errors.New("working directory is required")
	}
	for _, s := range c.Secrets {
		if s.Name == "" {
			return errors.New("secret with an empty name")
		}
		// names are passed to docker as -e NAME, a value must not ride along
		if i := strings.IndexByte(s.Name, '='); i >= 0 {
			return fmt.Errorf("secret name starting with %q contains '='", s.Name[:i])
		}
	}
	return nil
}

// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package jobrunner

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fb-tricent/puppetlabs-cd4pe-jobs/pkg/dockercmd"
)

// Names of the directories making up a job working directory.
const (
	JobDirName          = "cd4pe_job"
	RepoDirName         = "repo"
	JobsDirName         = "jobs"
	UnixJobsDirName     = "unix"
	WindowsJobsDirName  = "windows"
	DockerConfigDirName = ".docker"
	DockerConfigFile    = "config.json"
	CACertFile          = "ca.crt"
)

// Layout is the set of paths derived from a working directory:
//
//	<WorkingDir>/cd4pe_job/repo
//	<WorkingDir>/cd4pe_job/jobs/{unix|windows}/{JOB,AFTER_JOB_SUCCESS,AFTER_JOB_FAILURE}[.ps1]
//	<WorkingDir>/.docker/config.json
type Layout struct {
	WorkingDir string
	Windows    bool
}

// NewLayout resolves workingDir to an absolute path.
func NewLayout(workingDir string, windows bool) (Layout, error) {
	abs, err := filepath.Abs(workingDir)
	if err != nil {
		return Layout{}, fmt.Errorf("cannot resolve working directory %s: %w", workingDir, err)
	}
	return Layout{WorkingDir: abs, Windows: windows}, nil
}

// JobDir is the root of the staged payload.
func (l Layout) JobDir() string {
	return filepath.Join(l.WorkingDir, JobDirName)
}

// RepoDir holds the repository checkout, mounted at /repo.
func (l Layout) RepoDir() string {
	return filepath.Join(l.JobDir(), RepoDirName)
}

// JobsDir holds the lifecycle scripts for the job OS, mounted at /cd4pe_job.
func (l Layout) JobsDir() string {
	osDir := UnixJobsDirName
	if l.Windows {
		osDir = WindowsJobsDirName
	}
	return filepath.Join(l.JobDir(), JobsDirName, osDir)
}

// ScriptPath is the host path of a lifecycle script.
func (l Layout) ScriptPath(manifest dockercmd.ManifestType) string {
	return filepath.Join(l.JobsDir(), manifest.ScriptName(l.Windows))
}

// DockerConfigDir is the directory passed to `docker --config`.
func (l Layout) DockerConfigDir() string {
	return filepath.Join(l.WorkingDir, DockerConfigDirName)
}

// Create makes every directory of the layout.
func (l Layout) Create() error {
	for _, dir := range []string{l.WorkingDir, l.RepoDir(), l.JobsDir()} {
		if err := MakeDir(dir); err != nil {
			return err
		}
	}
	return nil
}

// MakeDir creates dir and its parents. An existing directory is fine.
func MakeDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package dockercmd assembles the docker CLI invocations used to run job
// scripts in a container. Functions here are pure: they only look at the
// Spec they are given.
package dockercmd

import (
	"fmt"
	"strings"

	shellquote "github.com/kballard/go-shellquote"
)

// Binary is the container runtime CLI.
const Binary = "docker"

// Mount points of the job layout inside the container.
const (
	ContainerRepoDir = "/repo"
	ContainerJobsDir = "/cd4pe_job"
)

// ManifestType identifies one of the lifecycle scripts.
type ManifestType string

// List of lifecycle scripts, in the order they can run.
const (
	ManifestJob             ManifestType = "JOB"
	ManifestAfterJobSuccess ManifestType = "AFTER_JOB_SUCCESS"
	ManifestAfterJobFailure ManifestType = "AFTER_JOB_FAILURE"
)

// ScriptName returns the on-disk file name of the script.
func (m ManifestType) ScriptName(windows bool) string {
	if windows {
		return string(m) + ".ps1"
	}
	return string(m)
}

// Valid tells whether m is one of the known manifest types.
func (m ManifestType) Valid() bool {
	switch m {
	case ManifestJob, ManifestAfterJobSuccess, ManifestAfterJobFailure:
		return true
	}
	return false
}

// Spec is what a job contributes to its docker invocations.
type Spec struct {
	Image string
	// RunArgs are extra flags for `docker run`, passed through verbatim.
	RunArgs []string
	// SecretNames are exported with `-e NAME`; values must come from the
	// environment of the docker process itself.
	SecretNames []string
	RepoDir     string
	JobsDir     string
	// ConfigDir is the docker client config directory, set only when
	// registry credentials were staged.
	ConfigDir string
}

// token is one word of a command line. Quoted tokens are rendered wrapped in
// double quotes because they are paths that may contain spaces.
type token struct {
	value  string
	quoted bool
}

func plain(values ...string) []token {
	tokens := make([]token, 0, len(values))
	for _, v := range values {
		tokens = append(tokens, token{value: v})
	}
	return tokens
}

func quoted(v string) token {
	return token{value: v, quoted: true}
}

func pullTokens(spec Spec) []token {
	tokens := plain(Binary)
	if spec.ConfigDir != "" {
		tokens = append(tokens, plain("--config", spec.ConfigDir)...)
	}
	return append(tokens, plain("pull", spec.Image)...)
}

func runTokens(spec Spec, manifest ManifestType) []token {
	tokens := plain(Binary, "run", "--rm")
	tokens = append(tokens, plain(spec.RunArgs...)...)
	for _, name := range spec.SecretNames {
		tokens = append(tokens, plain("-e", name)...)
	}
	tokens = append(tokens,
		token{value: "-v"}, quoted(spec.RepoDir+":"+ContainerRepoDir),
		token{value: "-v"}, quoted(spec.JobsDir+":"+ContainerJobsDir),
		token{value: spec.Image},
		quoted(ContainerJobsDir+"/"+string(manifest)),
	)
	return tokens
}

func argv(tokens []token) []string {
	args := make([]string, 0, len(tokens))
	for _, t := range tokens {
		args = append(args, t.value)
	}
	return args
}

func render(tokens []token) string {
	parts := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t.quoted {
			parts = append(parts, `"`+t.value+`"`)
		} else {
			parts = append(parts, t.value)
		}
	}
	return strings.Join(parts, " ")
}

// PullArgs returns the argv of `docker [--config <dir>] pull <image>`.
// The --config flag is global, so it goes before the subcommand.
func PullArgs(spec Spec) []string {
	return argv(pullTokens(spec))
}

// RenderPull returns the textual form of PullArgs.
func RenderPull(spec Spec) string {
	return render(pullTokens(spec))
}

// RunArgs returns the argv that runs the given lifecycle script in a fresh
// container:
//
//	docker run --rm <args...> [-e <secret>]... -v <repo>:/repo -v <jobs>:/cd4pe_job <image> /cd4pe_job/<manifest>
func RunArgs(spec Spec, manifest ManifestType) []string {
	return argv(runTokens(spec, manifest))
}

// RenderRun returns the textual form of RunArgs, with bind mounts and the
// script path double quoted.
func RenderRun(spec Spec, manifest ManifestType) string {
	return render(runTokens(spec, manifest))
}

// SplitRunArgs splits a shell-style string of docker run flags, as accepted
// on the command line, into separate arguments.
func SplitRunArgs(s string) ([]string, error) {
	args, err := shellquote.Split(s)
	if err != nil {
		return nil, fmt.Errorf("cannot split docker run args %q: %w", s, err)
	}
	return args, nil
}

// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package jobrunner runs one cd4pe job: it prepares the working directory,
// stages registry credentials, runs the JOB script and then exactly one of
// the AFTER_JOB_SUCCESS / AFTER_JOB_FAILURE hooks.
package jobrunner

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	shellquote "github.com/kballard/go-shellquote"
	"github.com/sirupsen/logrus"

	"github.com/fb-tricent/puppetlabs-cd4pe-jobs/pkg/dockercmd"
	"github.com/fb-tricent/puppetlabs-cd4pe-jobs/pkg/jobrunner/process"
	"github.com/fb-tricent/puppetlabs-cd4pe-jobs/pkg/logging"
)

// Variables every job sees in its environment.
const (
	EnvHome    = "HOME"
	EnvRepoDir = "REPO_DIR"
)

// Runner executes the lifecycle of a single job.
type Runner struct {
	cfg    JobConfig
	layout Layout
	env    *Environment
	exec   process.Executor
	log    *logrus.Entry

	// instanceID is the configured job instance id, or a generated one
	// used to correlate log lines.
	instanceID string

	// dockerConfigDir is set once registry credentials were staged.
	dockerConfigDir string
}

// New prepares everything a job needs before any process is spawned: the
// directory layout, the job environment and, when configured, the registry
// credentials and CA certificates.
func New(cfg JobConfig) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	layout, err := NewLayout(cfg.WorkingDir, cfg.WindowsJob)
	if err != nil {
		return nil, err
	}
	cfg.WorkingDir = layout.WorkingDir
	if cfg.CertsRoot == "" {
		cfg.CertsRoot = DefaultCertsRoot
	}

	log := cfg.Logger
	if log == nil {
		log = logging.GetLogger("jobrunner")
	}
	instanceID := cfg.JobInstanceID
	if instanceID == "" {
		instanceID = uuid.New().String()
	}
	log = log.WithFields(logrus.Fields{
		"job_instance_id": instanceID,
		"job_owner":       cfg.JobOwner,
	})

	r := &Runner{
		cfg:        cfg,
		layout:     layout,
		exec:       cfg.Executor,
		log:        log,
		instanceID: instanceID,
	}
	if r.exec == nil {
		r.exec = process.NewLocalExecutor(cfg.Timeout, nil)
	}

	if err := layout.Create(); err != nil {
		return nil, err
	}

	if cfg.Env != nil {
		r.env = cfg.Env.Clone()
	} else {
		r.env = NewEnvironment()
	}
	r.env.Set(EnvHome, layout.WorkingDir)
	r.env.Set(EnvRepoDir, layout.RepoDir())
	for _, s := range cfg.Secrets {
		r.env.Set(s.Name, s.Value)
	}
	log.WithField("vars", r.env.Keys()).Debug("Job environment prepared")

	if cfg.DockerPullCreds != "" {
		configDir, certs, err := stageRegistryConfig(layout, cfg.DockerPullCreds, cfg.CACertBase64, cfg.CertsRoot)
		if err != nil {
			return nil, err
		}
		r.dockerConfigDir = configDir
		log.Infof("Staged docker registry config in %s", configDir)
		for _, c := range certs {
			log.Infof("Registered CA certificate %s", c)
		}
	} else if cfg.CACertBase64 != "" {
		log.Warnf("CA certificate ignored: no docker pull credentials to register it for")
	}

	return r, nil
}

// Layout returns the resolved directory layout of the job.
func (r *Runner) Layout() Layout {
	return r.layout
}

// Env returns the environment overlay handed to the job processes.
func (r *Runner) Env() *Environment {
	return r.env
}

// DockerRunArgs returns the user supplied run flags joined as on a shell
// command line.
func (r *Runner) DockerRunArgs() string {
	return shellquote.Join(r.cfg.DockerRunArgs...)
}

func (r *Runner) dockerSpec() dockercmd.Spec {
	names := make([]string, 0, len(r.cfg.Secrets))
	for _, s := range r.cfg.Secrets {
		names = append(names, s.Name)
	}
	return dockercmd.Spec{
		Image:       r.cfg.DockerImage,
		RunArgs:     r.cfg.DockerRunArgs,
		SecretNames: names,
		RepoDir:     r.layout.RepoDir(),
		JobsDir:     r.layout.JobsDir(),
		ConfigDir:   r.dockerConfigDir,
	}
}

// DockerPullCmd returns the command pulling the job image.
func (r *Runner) DockerPullCmd() string {
	return dockercmd.RenderPull(r.dockerSpec())
}

// DockerRunCmd returns the command running the given script in the job
// image.
func (r *Runner) DockerRunCmd(manifest dockercmd.ManifestType) string {
	return dockercmd.RenderRun(r.dockerSpec(), manifest)
}

type state int

const (
	stateRunJob state = iota
	stateRunSuccessHook
	stateRunFailureHook
	stateDone
)

// RunJob runs the JOB script and then the hook its result selects. Script
// failures are part of the returned outcome, never errors.
func (r *Runner) RunJob(ctx context.Context) JobOutcome {
	var outcome JobOutcome
	for st := stateRunJob; st != stateDone; {
		switch st {
		case stateRunJob:
			outcome.Job = r.runJobScript(ctx)
			if hookFor(outcome.Job) == HookAfterJobSuccess {
				st = stateRunSuccessHook
			} else {
				st = stateRunFailureHook
			}
		case stateRunSuccessHook:
			outcome.Hook = r.runHook(ctx, HookAfterJobSuccess)
			st = stateDone
		case stateRunFailureHook:
			outcome.Hook = r.runHook(ctx, HookAfterJobFailure)
			st = stateDone
		}
	}
	r.log.Infof("Job finished: job exit code %d, %s exit code %d",
		outcome.Job.ExitCode, outcome.Hook.Kind, outcome.Hook.Result.ExitCode)
	return outcome
}

func (r *Runner) runJobScript(ctx context.Context) RunResult {
	r.log.Infof("Running job instance %s", r.instanceID)
	if r.cfg.DockerImage != "" {
		pull := r.run(ctx, process.Command{
			Path: dockercmd.Binary,
			Args: dockercmd.PullArgs(r.dockerSpec())[1:],
			Env:  r.env.Pairs(),
		})
		if !pull.Succeeded() {
			r.log.Errorf("Failed to pull image %s, exit code %d", r.cfg.DockerImage, pull.ExitCode)
			return pull
		}
	}
	return r.execute(ctx, dockercmd.ManifestJob)
}

func (r *Runner) runHook(ctx context.Context, kind HookKind) HookResult {
	return HookResult{Kind: kind, Result: r.execute(ctx, kind.Manifest())}
}

// execute runs one lifecycle script, inside the job image when there is one.
func (r *Runner) execute(ctx context.Context, manifest dockercmd.ManifestType) RunResult {
	log := r.log.WithField("manifest", manifest)
	if !manifest.Valid() {
		log.Errorf("Unknown manifest %q", manifest)
		return RunResult{ExitCode: 1, Message: fmt.Sprintf("unknown manifest %q\n", manifest)}
	}

	if r.cfg.DockerImage != "" {
		log.Infof("Running %s", r.DockerRunCmd(manifest))
		return r.run(ctx, process.Command{
			Path: dockercmd.Binary,
			Args: dockercmd.RunArgs(r.dockerSpec(), manifest)[1:],
			Env:  r.env.Pairs(),
		})
	}

	script := r.layout.ScriptPath(manifest)
	if err := process.CheckExecutable(script); err != nil {
		log.Errorf("Cannot run %s: %v", manifest, err)
		code := process.ExitCodeNotExecutable
		if errors.Is(err, os.ErrNotExist) {
			code = process.ExitCodeNotFound
		}
		return RunResult{ExitCode: code, Message: err.Error() + "\n"}
	}
	cmd := hostCommand(script, r.cfg.WindowsJob)
	cmd.Env = r.env.Pairs()
	cmd.Dir = r.layout.RepoDir()
	log.Infof("Running %s", cmd)
	return r.run(ctx, cmd)
}

// hostCommand wraps a script for direct execution. On unix the script goes
// through sh so files without an interpreter line still run as shell
// scripts.
func hostCommand(script string, windows bool) process.Command {
	if windows {
		return process.Command{
			Path: "powershell",
			Args: []string{"-NoProfile", "-NonInteractive", "-ExecutionPolicy", "Bypass", "-File", script},
		}
	}
	return process.Command{
		Path: "/bin/sh",
		Args: []string{"-c", shellquote.Join(script)},
	}
}

func (r *Runner) run(ctx context.Context, cmd process.Command) RunResult {
	res, err := r.exec.Run(ctx, cmd)
	if err != nil {
		r.log.Warnf("%v", err)
	}
	if res == nil {
		return RunResult{ExitCode: 1, Message: errString(err)}
	}
	if res.TimedOut {
		r.log.Errorf("%s killed after %s", cmd, r.cfg.Timeout)
	}
	return RunResult{ExitCode: res.ExitCode, Message: string(res.Output)}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error() + "\n"
}

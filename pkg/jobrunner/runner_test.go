// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package jobrunner

import (
	"context"
	"encoding/base64"
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/fb-tricent/puppetlabs-cd4pe-jobs/pkg/cerrors"
	"github.com/fb-tricent/puppetlabs-cd4pe-jobs/pkg/dockercmd"
	"github.com/fb-tricent/puppetlabs-cd4pe-jobs/pkg/jobrunner/process"
)

const testDockerImage = "puppetlabs/test:10.0.1"

type mockExecutor struct {
	mock.Mock
}

func (m *mockExecutor) Run(ctx context.Context, cmd process.Command) (*process.Result, error) {
	args := m.Called(ctx, cmd)
	res, _ := args.Get(0).(*process.Result)
	return res, args.Error(1)
}

func subcommand(name string) interface{} {
	return mock.MatchedBy(func(c process.Command) bool {
		return c.Path == dockercmd.Binary && len(c.Args) > 0 && c.Args[0] == name
	})
}

func runsManifest(manifest dockercmd.ManifestType) interface{} {
	return mock.MatchedBy(func(c process.Command) bool {
		return c.Path == dockercmd.Binary && len(c.Args) > 0 && c.Args[0] == "run" &&
			c.Args[len(c.Args)-1] == dockercmd.ContainerJobsDir+"/"+string(manifest)
	})
}

func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(ioutil.Discard)
	return logrus.NewEntry(l)
}

type RunnerSuite struct {
	suite.Suite

	workingDir string
	certsDir   string
}

func TestRunnerSuite(t *testing.T) {
	suite.Run(t, new(RunnerSuite))
}

func (s *RunnerSuite) SetupTest() {
	s.workingDir = filepath.Join(s.T().TempDir(), "test_working_dir")
	// keep tests away from /etc/docker/certs.d
	s.certsDir = filepath.Join(s.workingDir, "certs.d")
}

func (s *RunnerSuite) config() JobConfig {
	return JobConfig{
		WorkingDir:    s.workingDir,
		JobToken:      "alksjdbhfnadhsbf",
		WebUIEndpoint: "https://testtest.com",
		JobOwner:      "carls cool carl",
		JobInstanceID: "17",
		Secrets: []Secret{
			{Name: "secret1", Value: "hello"},
			{Name: "secret2", Value: "friend"},
		},
		CertsRoot: s.certsDir,
		Logger:    discardLogger(),
	}
}

func (s *RunnerSuite) TestMakeDir() {
	dir := filepath.Join(s.T().TempDir(), "test_dir")
	s.Require().NoDirExists(dir)
	s.Require().NoError(MakeDir(dir))
	s.Require().DirExists(dir)
	// again, must not fail
	s.Require().NoError(MakeDir(dir))
}

func (s *RunnerSuite) TestNewCreatesLayout() {
	r, err := New(s.config())
	s.Require().NoError(err)
	s.Require().DirExists(filepath.Join(s.workingDir, "cd4pe_job", "repo"))
	s.Require().DirExists(filepath.Join(s.workingDir, "cd4pe_job", "jobs", "unix"))
	s.Require().Equal(filepath.Join(s.workingDir, "cd4pe_job", "jobs", "unix", "JOB"), r.Layout().ScriptPath(dockercmd.ManifestJob))

	// constructing over an existing tree is fine
	_, err = New(s.config())
	s.Require().NoError(err)
}

func (s *RunnerSuite) TestWindowsLayout() {
	cfg := s.config()
	cfg.WindowsJob = true
	r, err := New(cfg)
	s.Require().NoError(err)
	s.Require().DirExists(filepath.Join(s.workingDir, "cd4pe_job", "jobs", "windows"))
	s.Require().Equal(filepath.Join(s.workingDir, "cd4pe_job", "jobs", "windows", "AFTER_JOB_SUCCESS.ps1"),
		r.Layout().ScriptPath(dockercmd.ManifestAfterJobSuccess))
}

func (s *RunnerSuite) TestDockerRunArgsPassThrough() {
	cfg := s.config()
	cfg.DockerRunArgs = []string{"--testarg=woot", "--otherarg=hello", "--whatever=isclever"}
	r, err := New(cfg)
	s.Require().NoError(err)
	s.Require().Equal("--testarg=woot --otherarg=hello --whatever=isclever", r.DockerRunArgs())
}

func (s *RunnerSuite) TestSetsHomeAndRepoDir() {
	r, err := New(s.config())
	s.Require().NoError(err)

	home, ok := r.Env().Get(EnvHome)
	s.Require().True(ok)
	s.Require().True(filepath.IsAbs(home))

	repo, ok := r.Env().Get(EnvRepoDir)
	s.Require().True(ok)
	s.Require().Equal(s.workingDir+"/cd4pe_job/repo", repo)
}

func (s *RunnerSuite) TestEnvCarriesJobVarsAndSecrets() {
	cfg := s.config()
	cfg.Env = NewEnvironment()
	cfg.Env.Set("TEST_VAR_ONE", "hello!")
	r, err := New(cfg)
	s.Require().NoError(err)

	pairs := r.Env().Pairs()
	s.Require().Contains(pairs, "TEST_VAR_ONE=hello!")
	s.Require().Contains(pairs, "secret1=hello")
	s.Require().Contains(pairs, "secret2=friend")

	// the caller's overlay is not modified
	_, ok := cfg.Env.Get(EnvHome)
	s.Require().False(ok)
}

func (s *RunnerSuite) TestDockerPullCmd() {
	cfg := s.config()
	cfg.DockerImage = testDockerImage
	r, err := New(cfg)
	s.Require().NoError(err)
	s.Require().Equal("docker pull "+testDockerImage, r.DockerPullCmd())
}

const credsJSON = `{"auths":{"host1":{}}}`

// encode64 mimics MIME style encoders that terminate with a newline.
func encode64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s)) + "\n"
}

func (s *RunnerSuite) TestDockerPullCmdWithConfig() {
	cfg := s.config()
	cfg.DockerImage = testDockerImage
	cfg.DockerPullCreds = encode64(credsJSON)
	r, err := New(cfg)
	s.Require().NoError(err)

	configJSON := filepath.Join(s.workingDir, ".docker", "config.json")
	s.Require().FileExists(configJSON)
	data, err := ioutil.ReadFile(configJSON)
	s.Require().NoError(err)
	s.Require().Equal(credsJSON, string(data))

	s.Require().Equal("docker --config "+filepath.Join(s.workingDir, ".docker")+" pull "+testDockerImage, r.DockerPullCmd())
}

func (s *RunnerSuite) TestRegistersCACert() {
	cfg := s.config()
	cfg.DockerImage = testDockerImage
	cfg.DockerPullCreds = encode64(credsJSON)
	cfg.CACertBase64 = encode64("junk")
	_, err := New(cfg)
	s.Require().NoError(err)

	certFile := filepath.Join(s.certsDir, "host1", "ca.crt")
	s.Require().FileExists(certFile)
	data, err := ioutil.ReadFile(certFile)
	s.Require().NoError(err)
	s.Require().Equal("junk", string(data))
}

func (s *RunnerSuite) TestRegistersCACertForEveryHost() {
	cfg := s.config()
	cfg.DockerPullCreds = encode64(`{"auths":{"host1":{},"registry.example.com:5000":{"auth":"eDp5"}}}`)
	cfg.CACertBase64 = encode64("junk")
	_, err := New(cfg)
	s.Require().NoError(err)
	s.Require().FileExists(filepath.Join(s.certsDir, "host1", "ca.crt"))
	s.Require().FileExists(filepath.Join(s.certsDir, "registry.example.com:5000", "ca.crt"))
}

func (s *RunnerSuite) TestInvalidCredentials() {
	var credErr *cerrors.ErrInvalidCredentials

	cfg := s.config()
	cfg.DockerPullCreds = "%%% not base64"
	_, err := New(cfg)
	s.Require().True(errors.As(err, &credErr), "got %v", err)

	cfg.DockerPullCreds = encode64("not json")
	_, err = New(cfg)
	s.Require().True(errors.As(err, &credErr), "got %v", err)

	cfg.DockerPullCreds = encode64(`{"credsStore":"desktop"}`)
	_, err = New(cfg)
	s.Require().True(errors.As(err, &credErr), "got %v", err)

	cfg.DockerPullCreds = encode64(`{"auths":{"../escape":{}}}`)
	cfg.CACertBase64 = encode64("junk")
	_, err = New(cfg)
	s.Require().True(errors.As(err, &credErr), "got %v", err)

	cfg.DockerPullCreds = encode64(credsJSON)
	cfg.CACertBase64 = "!!"
	_, err = New(cfg)
	s.Require().True(errors.As(err, &credErr), "got %v", err)
	s.Require().NoFileExists(filepath.Join(s.workingDir, ".docker", "config.json"))
}

func (s *RunnerSuite) TestDockerHubCredentialsWithoutCACert() {
	hubCreds := `{"auths":{"https://index.docker.io/v1/":{"auth":"eDp5"}}}`
	cfg := s.config()
	cfg.DockerImage = testDockerImage
	cfg.DockerPullCreds = encode64(hubCreds)
	r, err := New(cfg)
	s.Require().NoError(err)

	data, err := ioutil.ReadFile(filepath.Join(s.workingDir, ".docker", "config.json"))
	s.Require().NoError(err)
	s.Require().Equal(hubCreds, string(data))
	s.Require().Equal("docker --config "+filepath.Join(s.workingDir, ".docker")+" pull "+testDockerImage, r.DockerPullCmd())
	s.Require().NoDirExists(s.certsDir)
}

func (s *RunnerSuite) TestDockerHubCredentialsWithCACert() {
	var credErr *cerrors.ErrInvalidCredentials
	cfg := s.config()
	cfg.DockerPullCreds = encode64(`{"auths":{"https://index.docker.io/v1/":{"auth":"eDp5"}}}`)
	cfg.CACertBase64 = encode64("junk")
	_, err := New(cfg)
	s.Require().True(errors.As(err, &credErr), "got %v", err)
	s.Require().NoFileExists(filepath.Join(s.workingDir, ".docker", "config.json"))
}

func (s *RunnerSuite) TestCACertWriteFailureLeavesNoDockerConfig() {
	// a regular file where the certificate root should be
	s.Require().NoError(os.MkdirAll(s.workingDir, 0755))
	s.Require().NoError(ioutil.WriteFile(s.certsDir, []byte("not a directory"), 0644))

	cfg := s.config()
	cfg.DockerPullCreds = encode64(credsJSON)
	cfg.CACertBase64 = encode64("junk")
	_, err := New(cfg)
	s.Require().Error(err)
	s.Require().NoFileExists(filepath.Join(s.workingDir, ".docker", "config.json"))
}

func (s *RunnerSuite) TestSecretNameWithValue() {
	cfg := s.config()
	cfg.Secrets = append(cfg.Secrets, Secret{Name: "TOKEN=abc", Value: "ignored"})
	_, err := New(cfg)
	s.Require().Error(err)
	s.Require().Contains(err.Error(), `"TOKEN"`)
	s.Require().NotContains(err.Error(), "abc")
}

func (s *RunnerSuite) TestLogsEnvironmentNames() {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	cfg := s.config()
	cfg.Logger = logrus.NewEntry(logger)
	_, err := New(cfg)
	s.Require().NoError(err)

	var vars []string
	for _, e := range hook.AllEntries() {
		if v, ok := e.Data["vars"].([]string); ok {
			vars = v
		}
	}
	s.Require().Equal([]string{EnvHome, EnvRepoDir, "secret1", "secret2"}, vars)
}

func (s *RunnerSuite) TestRunUnknownManifest() {
	ex := &mockExecutor{}
	res := s.dockerRunner(ex).execute(context.Background(), dockercmd.ManifestType("BEFORE_JOB"))
	ex.AssertNotCalled(s.T(), "Run", mock.Anything, mock.Anything)
	s.Require().Equal(1, res.ExitCode)
	s.Require().Contains(res.Message, "BEFORE_JOB")
}

func (s *RunnerSuite) TestMissingWorkingDir() {
	cfg := s.config()
	cfg.WorkingDir = ""
	_, err := New(cfg)
	s.Require().Error(err)
}

func (s *RunnerSuite) TestDockerRunCmd() {
	cfg := s.config()
	cfg.DockerImage = testDockerImage
	cfg.DockerRunArgs = []string{"--testarg=woot", "--otherarg=hello", "--whatever=doesntmatter"}
	r, err := New(cfg)
	s.Require().NoError(err)

	parts := strings.Split(r.DockerRunCmd(dockercmd.ManifestAfterJobSuccess), " ")
	base := filepath.Base(s.workingDir)
	s.Require().Len(parts, 16)
	s.Require().Equal([]string{"docker", "run", "--rm", "--testarg=woot", "--otherarg=hello", "--whatever=doesntmatter",
		"-e", "secret1", "-e", "secret2", "-v"}, parts[:11])
	s.Require().True(strings.HasSuffix(parts[11], "/"+base+`/cd4pe_job/repo:/repo"`), parts[11])
	s.Require().Equal("-v", parts[12])
	s.Require().True(strings.HasSuffix(parts[13], "/"+base+`/cd4pe_job/jobs/unix:/cd4pe_job"`), parts[13])
	s.Require().Equal(testDockerImage, parts[14])
	s.Require().Equal(`"/cd4pe_job/AFTER_JOB_SUCCESS"`, parts[15])
}

func (s *RunnerSuite) dockerRunner(ex *mockExecutor) *Runner {
	cfg := s.config()
	cfg.DockerImage = testDockerImage
	cfg.Executor = ex
	r, err := New(cfg)
	s.Require().NoError(err)
	return r
}

func (s *RunnerSuite) TestRunJobInContainerSuccess() {
	ex := &mockExecutor{}
	ex.On("Run", mock.Anything, subcommand("pull")).Return(&process.Result{}, nil).Once()
	ex.On("Run", mock.Anything, runsManifest(dockercmd.ManifestJob)).
		Return(&process.Result{Output: []byte("in job script\n")}, nil).Once()
	ex.On("Run", mock.Anything, runsManifest(dockercmd.ManifestAfterJobSuccess)).
		Return(&process.Result{Output: []byte("in after success script\n")}, nil).Once()

	out := s.dockerRunner(ex).RunJob(context.Background())
	ex.AssertExpectations(s.T())
	ex.AssertNotCalled(s.T(), "Run", mock.Anything, runsManifest(dockercmd.ManifestAfterJobFailure))

	s.Require().Equal(RunResult{ExitCode: 0, Message: "in job script\n"}, out.Job)
	s.Require().NotNil(out.AfterJobSuccess())
	s.Require().Equal("in after success script\n", out.AfterJobSuccess().Message)
	s.Require().Nil(out.AfterJobFailure())
	s.Require().Equal(0, CombinedExitCode(out))

	// secret values reach docker through its environment only
	for _, call := range ex.Calls {
		cmd := call.Arguments.Get(1).(process.Command)
		s.Require().Contains(cmd.Env, "secret1=hello")
		s.Require().NotContains(strings.Join(cmd.Args, " "), "hello")
	}
}

func (s *RunnerSuite) TestRunJobInContainerFailure() {
	ex := &mockExecutor{}
	ex.On("Run", mock.Anything, subcommand("pull")).Return(&process.Result{}, nil).Once()
	ex.On("Run", mock.Anything, runsManifest(dockercmd.ManifestJob)).
		Return(&process.Result{ExitCode: 125, Output: []byte("boom\n")}, nil).Once()
	ex.On("Run", mock.Anything, runsManifest(dockercmd.ManifestAfterJobFailure)).
		Return(&process.Result{ExitCode: 0}, nil).Once()

	out := s.dockerRunner(ex).RunJob(context.Background())
	ex.AssertExpectations(s.T())

	s.Require().Equal(125, out.Job.ExitCode)
	s.Require().Nil(out.AfterJobSuccess())
	s.Require().NotNil(out.AfterJobFailure())
	s.Require().Equal(1, CombinedExitCode(out))
}

func (s *RunnerSuite) TestRunJobPullFailureRunsFailureHook() {
	ex := &mockExecutor{}
	ex.On("Run", mock.Anything, subcommand("pull")).
		Return(&process.Result{ExitCode: 1, Output: []byte("manifest unknown\n")}, nil).Once()
	ex.On("Run", mock.Anything, runsManifest(dockercmd.ManifestAfterJobFailure)).
		Return(&process.Result{}, nil).Once()

	out := s.dockerRunner(ex).RunJob(context.Background())
	ex.AssertExpectations(s.T())
	ex.AssertNotCalled(s.T(), "Run", mock.Anything, runsManifest(dockercmd.ManifestJob))

	s.Require().Equal(RunResult{ExitCode: 1, Message: "manifest unknown\n"}, out.Job)
	s.Require().NotNil(out.AfterJobFailure())
}

func (s *RunnerSuite) TestRunJobDockerMissing() {
	ex := &mockExecutor{}
	ex.On("Run", mock.Anything, subcommand("pull")).
		Return(&process.Result{ExitCode: process.ExitCodeNotFound, Output: []byte("executable file not found\n")},
			errors.New("failed to start process")).Once()
	ex.On("Run", mock.Anything, runsManifest(dockercmd.ManifestAfterJobFailure)).
		Return(nil, errors.New("failed to start process")).Once()

	out := s.dockerRunner(ex).RunJob(context.Background())
	s.Require().Equal(process.ExitCodeNotFound, out.Job.ExitCode)
	s.Require().Equal(1, out.AfterJobFailure().ExitCode)
	s.Require().Equal(1, CombinedExitCode(out))
}

func TestHostCommand(t *testing.T) {
	cmd := hostCommand("/tmp/with space/JOB", false)
	require.Equal(t, "/bin/sh", cmd.Path)
	require.Equal(t, []string{"-c", `'/tmp/with space/JOB'`}, cmd.Args)

	cmd = hostCommand(`C:\jobs\JOB.ps1`, true)
	require.Equal(t, "powershell", cmd.Path)
	require.Equal(t, `C:\jobs\JOB.ps1`, cmd.Args[len(cmd.Args)-1])
}

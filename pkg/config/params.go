// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/insomniacslk/xjson"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/fb-tricent/puppetlabs-cd4pe-jobs/pkg/cerrors"
	"github.com/fb-tricent/puppetlabs-cd4pe-jobs/pkg/dockercmd"
	"github.com/fb-tricent/puppetlabs-cd4pe-jobs/pkg/jobrunner"
)

// ParamsFormat defines a type for the supported formats of parameter
// documents.
type ParamsFormat int

// List of supported parameter document formats
const (
	ParamsFormatJSON ParamsFormat = iota
	ParamsFormatYAML
)

// FormatFromPath picks the document format from a file extension. Anything
// that is not YAML is read as JSON with comments.
func FormatFromPath(path string) ParamsFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParamsFormatYAML
	default:
		return ParamsFormatJSON
	}
}

// Params holds the job parameters, as decoded from a JSON document.
type Params map[string]interface{}

// ParseParams validates a parameter document's well-formedness. YAML
// documents are converted to JSON first, so every value has the same shape
// regardless of the source format. JSON documents may carry comments and
// trailing commas.
func ParseParams(data []byte, format ParamsFormat) (Params, error) {
	var (
		doc = make(map[string]interface{})
	)
	switch format {
	case ParamsFormatJSON:
		if err := json.Unmarshal(jsonc.ToJSON(data), &doc); err != nil {
			return nil, fmt.Errorf("failed to parse JSON parameters: %w", err)
		}
		return Params(doc), nil
	case ParamsFormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML parameters: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown parameters format %d", format)
	}
	// then marshal the structure back to JSON
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize parameters to JSON: %w", err)
	}
	params := make(Params)
	if err := json.Unmarshal(docJSON, &params); err != nil {
		return nil, fmt.Errorf("failed to parse converted parameters: %w", err)
	}
	return params, nil
}

// LoadParams reads the parameter document at path.
func LoadParams(path string) (Params, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read parameters file '%s': %w", path, err)
	}
	params, err := ParseParams(data, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("invalid parameters file '%s': %w", path, err)
	}
	return params, nil
}

// ParseArgs parses KEY=VALUE arguments. The value is everything after the
// first '='. When a key repeats, the last occurrence wins.
func ParseArgs(args []string) (map[string]string, error) {
	parsed := make(map[string]string, len(args))
	for _, arg := range args {
		idx := strings.IndexByte(arg, '=')
		if idx <= 0 {
			return nil, &cerrors.ErrInvalidArg{Arg: arg}
		}
		parsed[arg[:idx]] = arg[idx+1:]
	}
	return parsed, nil
}

// Merge sets every argument as a string parameter, replacing what was
// there.
func (p Params) Merge(args map[string]string) {
	for k, v := range args {
		p[k] = v
	}
}

func (p Params) stringParam(key string) (string, error) {
	raw, ok := p[key]
	if !ok || raw == nil {
		return "", nil
	}
	switch v := raw.(type) {
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		return "", &cerrors.ErrInvalidParam{Name: key, Err: fmt.Errorf("expected a string, got %T", raw)}
	}
}

func (p Params) boolParam(key string) (bool, error) {
	raw, ok := p[key]
	if !ok || raw == nil {
		return false, nil
	}
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		if v == "" {
			return false, nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, &cerrors.ErrInvalidParam{Name: key, Err: err}
		}
		return b, nil
	default:
		return false, &cerrors.ErrInvalidParam{Name: key, Err: fmt.Errorf("expected a boolean, got %T", raw)}
	}
}

// runArgsParam accepts either a list of arguments or a single string using
// shell quoting rules.
func (p Params) runArgsParam(key string) ([]string, error) {
	raw, ok := p[key]
	if !ok || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case string:
		args, err := dockercmd.SplitRunArgs(v)
		if err != nil {
			return nil, &cerrors.ErrInvalidParam{Name: key, Err: err}
		}
		return args, nil
	case []interface{}:
		args := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, &cerrors.ErrInvalidParam{Name: key, Err: fmt.Errorf("argument %v is not a string", item)}
			}
			args = append(args, s)
		}
		return args, nil
	default:
		return nil, &cerrors.ErrInvalidParam{Name: key, Err: fmt.Errorf("expected a list or a string, got %T", raw)}
	}
}

// secretsParam reads a name to value object. Secrets are returned sorted by
// name.
func (p Params) secretsParam(key string) ([]jobrunner.Secret, error) {
	raw, ok := p[key]
	if !ok || raw == nil {
		return nil, nil
	}
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, &cerrors.ErrInvalidParam{Name: key, Err: fmt.Errorf("expected an object, got %T", raw)}
	}
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	secrets := make([]jobrunner.Secret, 0, len(names))
	for _, name := range names {
		value, ok := m[name].(string)
		if !ok {
			return nil, &cerrors.ErrInvalidParam{Name: key, Err: fmt.Errorf("secret %q is not a string", name)}
		}
		secrets = append(secrets, jobrunner.Secret{Name: name, Value: value})
	}
	return secrets, nil
}

// durationParam accepts duration strings such as "90s" or "1h30m".
func (p Params) durationParam(key string) (time.Duration, error) {
	raw, ok := p[key]
	if !ok || raw == nil || raw == "" {
		return DefaultScriptTimeout, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return 0, &cerrors.ErrInvalidParam{Name: key, Err: err}
	}
	var d xjson.Duration
	if err := json.Unmarshal(data, &d); err != nil {
		return 0, &cerrors.ErrInvalidParam{Name: key, Err: err}
	}
	if d < 0 {
		return 0, &cerrors.ErrInvalidParam{Name: key, Err: fmt.Errorf("negative duration %v", raw)}
	}
	return time.Duration(d), nil
}

// JobConfig maps the parameters onto a job configuration. The environment,
// logger and executor are left for the caller to fill in.
func (p Params) JobConfig() (jobrunner.JobConfig, error) {
	var (
		cfg jobrunner.JobConfig
		err error
	)
	strs := []struct {
		key string
		dst *string
	}{
		{ParamWorkingDir, &cfg.WorkingDir},
		{ParamDockerImage, &cfg.DockerImage},
		{ParamDockerPullCreds, &cfg.DockerPullCreds},
		{ParamCACert, &cfg.CACertBase64},
		{ParamJobToken, &cfg.JobToken},
		{ParamWebUIEndpoint, &cfg.WebUIEndpoint},
		{ParamJobOwner, &cfg.JobOwner},
		{ParamJobInstanceID, &cfg.JobInstanceID},
	}
	for _, s := range strs {
		if *s.dst, err = p.stringParam(s.key); err != nil {
			return cfg, err
		}
	}
	if cfg.WindowsJob, err = p.boolParam(ParamWindowsJob); err != nil {
		return cfg, err
	}
	if cfg.DockerRunArgs, err = p.runArgsParam(ParamDockerRunArgs); err != nil {
		return cfg, err
	}
	if cfg.Secrets, err = p.secretsParam(ParamSecrets); err != nil {
		return cfg, err
	}
	if cfg.Timeout, err = p.durationParam(ParamTimeout); err != nil {
		return cfg, err
	}
	if cfg.WorkingDir == "" {
		return cfg, &cerrors.ErrInvalidParam{Name: ParamWorkingDir, Err: errors.New("required")}
	}
	return cfg, nil
}

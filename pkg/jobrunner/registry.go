// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package jobrunner

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fb-tricent/puppetlabs-cd4pe-jobs/pkg/cerrors"
)

// decodeBase64 accepts the MIME style encoding with embedded line breaks
// as well as the plain one.
func decodeBase64(what, s string) ([]byte, error) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, s)
	data, err := base64.StdEncoding.DecodeString(clean)
	if err != nil {
		return nil, &cerrors.ErrInvalidCredentials{What: what, Err: err}
	}
	return data, nil
}

// registryHosts returns the sorted keys of the "auths" object of a docker
// config document.
func registryHosts(config []byte) ([]string, error) {
	var doc struct {
		Auths map[string]json.RawMessage `json:"auths"`
	}
	if err := json.Unmarshal(config, &doc); err != nil {
		return nil, &cerrors.ErrInvalidCredentials{What: "docker pull credentials", Err: err}
	}
	if doc.Auths == nil {
		return nil, &cerrors.ErrInvalidCredentials{What: "docker pull credentials", Err: errors.New(`missing "auths" object`)}
	}
	hosts := make([]string, 0, len(doc.Auths))
	for host := range doc.Auths {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	return hosts, nil
}

// stageRegistryConfig registers the CA certificate, when given, for every
// registry host under certsRoot and then writes the decoded credentials
// verbatim to <workingDir>/.docker/config.json. It returns the
// docker config directory.
func stageRegistryConfig(layout Layout, credsBase64, caCertBase64, certsRoot string) (string, []string, error) {
	config, err := decodeBase64("docker pull credentials", credsBase64)
	if err != nil {
		return "", nil, err
	}
	hosts, err := registryHosts(config)
	if err != nil {
		return "", nil, err
	}

	var cert []byte
	if caCertBase64 != "" {
		if cert, err = decodeBase64("CA certificate", caCertBase64); err != nil {
			return "", nil, err
		}
	}

	var written []string
	if cert != nil {
		if certsRoot == "" {
			return "", nil, errors.New("no certificate root configured")
		}
		for _, host := range hosts {
			if !usableAsDirName(host) {
				return "", nil, &cerrors.ErrInvalidCredentials{
					What: "docker pull credentials",
					Err:  fmt.Errorf("registry host %q cannot be used as a directory name", host),
				}
			}
		}
		for _, host := range hosts {
			dir := filepath.Join(certsRoot, host)
			if err := MakeDir(dir); err != nil {
				return "", nil, err
			}
			certFile := filepath.Join(dir, CACertFile)
			if err := ioutil.WriteFile(certFile, cert, 0644); err != nil {
				return "", nil, fmt.Errorf("failed to write CA certificate for %s: %w", host, err)
			}
			written = append(written, certFile)
		}
	}

	// written last, a failed certificate leaves no credentials on disk
	configDir := layout.DockerConfigDir()
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", nil, fmt.Errorf("failed to create docker config directory: %w", err)
	}
	if err := ioutil.WriteFile(filepath.Join(configDir, DockerConfigFile), config, 0600); err != nil {
		return "", nil, fmt.Errorf("failed to write docker config: %w", err)
	}
	return configDir, written, nil
}

// usableAsDirName reports whether a registry host can name a directory under
// the certificate root. Hosts such as "https://index.docker.io/v1/" cannot.
func usableAsDirName(host string) bool {
	return host != "" && host != "." && host != ".." && !strings.ContainsAny(host, `/\`)
}

// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package cerrors

import (
	"fmt"
)

// ErrInvalidEnvVar indicates that a job environment entry is not in the
// KEY=VALUE form. The job is never attempted when this is returned.
type ErrInvalidEnvVar struct {
	Entry string
}

// Error returns the error string associated with the error
func (e *ErrInvalidEnvVar) Error() string {
	return fmt.Sprintf("invalid environment variable %q, expected KEY=VALUE", e.Entry)
}

// ErrInvalidArg indicates that a command line parameter is not in the
// KEY=VALUE form.
type ErrInvalidArg struct {
	Arg string
}

// Error returns the error string associated with the error
func (e *ErrInvalidArg) Error() string {
	return fmt.Sprintf("invalid argument %q, expected KEY=VALUE", e.Arg)
}

// ErrInvalidParam indicates that a job parameter has the wrong type or value.
type ErrInvalidParam struct {
	Name string
	Err  error
}

// Error returns the error string associated with the error
func (e *ErrInvalidParam) Error() string {
	return fmt.Sprintf("invalid parameter %s: %v", e.Name, e.Err)
}

// Unwrap returns the underlying error
func (e *ErrInvalidParam) Unwrap() error {
	return e.Err
}

// ErrInvalidCredentials indicates that the registry credentials or the CA
// certificate could not be decoded.
type ErrInvalidCredentials struct {
	What string
	Err  error
}

// Error returns the error string associated with the error
func (e *ErrInvalidCredentials) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.What, e.Err)
}

// Unwrap returns the underlying error
func (e *ErrInvalidCredentials) Unwrap() error {
	return e.Err
}

// ErrArchiveFormat indicates a corrupt or unsupported job payload archive.
// Offset is the position in the decompressed stream where the problem was
// detected.
type ErrArchiveFormat struct {
	Offset int64
	Reason string
}

// Error returns the error string associated with the error
func (e *ErrArchiveFormat) Error() string {
	return fmt.Sprintf("malformed archive at offset %d: %s", e.Offset, e.Reason)
}

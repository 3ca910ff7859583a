// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package merr

import (
	"github.com/cockroachdb/errors"
)

const (
	CanceledCode int32 = 10000
	TimeoutCode  int32 = 10001
)

type ErrorType int32

const (
	SystemError ErrorType = 0
	InputError  ErrorType = 1
)

var ErrorTypeName = map[ErrorType]string{
	SystemError: "system_error",
	InputError:  "input_error",
}

func (err ErrorType) String() string {
	return ErrorTypeName[err]
}

// Define leaf errors here,
// WARN: take care to add new error,
// check whether you can use the errors below before adding a new one.
// Name: Err + related prefix + error name
var (
	// Service related
	ErrServiceUnavailable = newHeraError("session service unavailable", 1, true)
	ErrServiceInternal    = newHeraError("session service internal error", 2, false)

	// Token related
	ErrTokenMissing    = newHeraError("session token missing", 100, false)
	ErrTokenInvalid    = newHeraError("session token invalid", 101, false)
	ErrTokenInvalidate = newHeraError("token invalidation request failed", 102, true)

	// Connection related
	ErrConnDialFailed      = newHeraError("dial to session service failed", 200, true)
	ErrConnClosed          = newHeraError("connection closed", 201, true)
	ErrConnSendFailed      = newHeraError("send on connection failed", 202, true)
	ErrConnAlreadyOpen     = newHeraError("connection already open", 203, false)
	ErrConnRetryExhausted  = newHeraError("reconnect attempts exhausted", 204, false)
	ErrConnServerError     = newHeraError("server sent error frame", 205, false)
	ErrConnIdentityUnknown = newHeraError("connection identity unknown", 206, false)

	// Frame related
	ErrFrameDecode  = newHeraError("frame decode failed", 300, false)
	ErrFrameEncode  = newHeraError("frame encode failed", 301, false)
	ErrFrameUnknown = newHeraError("unknown frame type", 302, false)

	// Storage related
	ErrStorageUnavailable = newHeraError("local storage unavailable", 400, false)
	ErrStorageIo          = newHeraError("local storage IO failed", 401, false)
	ErrStorageKeyNotFound = newHeraError("key not found in local storage", 402, false)

	// Login / logout related
	ErrLoginTimeout  = newHeraError("login confirmation timed out", 500, false)
	ErrLoginRejected = newHeraError("login rejected by session service", 501, false)
	ErrLoginAborted  = newHeraError("login aborted", 502, false)

	// Revalidation related
	ErrRevalidateCooldown = newHeraError("revalidation is cooling down", 600, true)
	ErrRevalidateNoUser   = newHeraError("no active session", 601, false)

	// Parameter related
	ErrParameterInvalid = newHeraError("invalid parameter", 1100, false)
	ErrParameterMissing = newHeraError("missing parameter", 1101, false)

	// Do NOT export this,
	// never allow programmer using this, keep only for converting unknown error to heraError
	errUnexpected = newHeraError("unexpected error", (1<<16)-1, false)
)

type errorOption func(*heraError)

func WithDetail(detail string) errorOption {
	return func(err *heraError) {
		err.detail = detail
	}
}

func WithErrorType(etype ErrorType) errorOption {
	return func(err *heraError) {
		err.errType = etype
	}
}

type heraError struct {
	msg       string
	detail    string
	retriable bool
	errCode   int32
	errType   ErrorType
}

func newHeraError(msg string, code int32, retriable bool, options ...errorOption) heraError {
	err := heraError{
		msg:       msg,
		detail:    msg,
		retriable: retriable,
		errCode:   code,
	}

	for _, option := range options {
		option(&err)
	}
	return err
}

func (e heraError) code() int32 {
	return e.errCode
}

func (e heraError) Error() string {
	return e.msg
}

func (e heraError) Detail() string {
	return e.detail
}

func (e heraError) Is(err error) bool {
	cause := errors.Cause(err)
	if cause, ok := cause.(heraError); ok {
		return e.errCode == cause.errCode
	}
	return false
}

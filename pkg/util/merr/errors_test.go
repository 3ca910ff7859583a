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
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/suite"
)

type ErrSuite struct {
	suite.Suite
}

func (s *ErrSuite) TestCode() {
	err := WrapErrTokenInvalid("handshake")
	s.ErrorIs(err, ErrTokenInvalid)
	s.Equal(Code(ErrTokenInvalid), Code(err))
	s.Equal(TimeoutCode, Code(context.DeadlineExceeded))
	s.Equal(CanceledCode, Code(context.Canceled))
	s.Equal(errUnexpected.errCode, Code(errUnexpected))

	sameCodeErr := newHeraError("new error", ErrTokenInvalid.errCode, false)
	s.True(sameCodeErr.Is(ErrTokenInvalid))
}

func (s *ErrSuite) TestWrap() {
	// Service 相关错误。
	s.ErrorIs(WrapErrServiceUnavailable("maintenance", "whoami"), ErrServiceUnavailable)
	s.ErrorIs(WrapErrServiceInternal("boom"), ErrServiceInternal)

	// Token 相关错误。
	s.ErrorIs(WrapErrTokenMissing("cookie absent"), ErrTokenMissing)
	s.ErrorIs(WrapErrTokenInvalid(), ErrTokenInvalid)
	s.ErrorIs(WrapErrTokenInvalidate(errors.New("503"), "logout"), ErrTokenInvalidate)

	// Connection 相关错误。
	s.ErrorIs(WrapErrConnDialFailed("wss://x", errors.New("refused")), ErrConnDialFailed)
	s.ErrorIs(WrapErrConnClosed("send"), ErrConnClosed)
	s.ErrorIs(WrapErrConnSendFailed("ping", errors.New("broken pipe")), ErrConnSendFailed)
	s.ErrorIs(WrapErrConnRetryExhausted(5), ErrConnRetryExhausted)
	s.ErrorIs(WrapErrConnServerError("expired"), ErrConnServerError)

	// Frame 相关错误。
	s.ErrorIs(WrapErrFrameDecode(errors.New("bad json")), ErrFrameDecode)
	s.ErrorIs(WrapErrFrameUnknown("mystery"), ErrFrameUnknown)

	// Storage 相关错误。
	s.ErrorIs(WrapErrStorageIo("current_user", errors.New("EACCES")), ErrStorageIo)
	s.ErrorIs(WrapErrStorageKeyNotFound("current_user"), ErrStorageKeyNotFound)

	// Login 相关错误。
	s.ErrorIs(WrapErrLoginTimeout("10s"), ErrLoginTimeout)
	s.ErrorIs(WrapErrLoginRejected("Invalid token"), ErrLoginRejected)
}

func (s *ErrSuite) TestCombine() {
	var (
		errFirst  = errors.New("first")
		errSecond = errors.New("second")
	)

	err := Combine(errFirst, errSecond)
	s.True(errors.Is(err, errFirst))
	s.True(errors.Is(err, errSecond))
	s.Nil(Combine(nil, nil))
	s.True(errors.Is(Combine(nil, errFirst), errFirst))
}

func (s *ErrSuite) TestRetryable() {
	s.True(IsRetryableErr(ErrServiceUnavailable))
	s.True(IsRetryableErr(ErrConnDialFailed))
	s.False(IsRetryableErr(ErrTokenInvalid))
	s.False(IsRetryableErr(errors.New("not a hera error")))
}

func TestErrors(t *testing.T) {
	suite.Run(t, new(ErrSuite))
}

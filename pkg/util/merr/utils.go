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
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
)

// Code 返回给定错误对应的错误码。
func Code(err error) int32 {
	if err == nil {
		return 0
	}

	cause := errors.Cause(err)
	switch specificErr := cause.(type) {
	case heraError:
		return specificErr.code()

	default:
		if errors.Is(specificErr, context.Canceled) {
			return CanceledCode
		} else if errors.Is(specificErr, context.DeadlineExceeded) {
			return TimeoutCode
		} else {
			return errUnexpected.code()
		}
	}
}

// IsRetryableErr 判断给定错误是否可以安全重试。
func IsRetryableErr(err error) bool {
	if err, ok := err.(heraError); ok {
		return err.retriable
	}

	return false
}

// IsCanceledOrTimeout 判断错误是否为取消或超时。
func IsCanceledOrTimeout(err error) bool {
	return errors.IsAny(err, context.Canceled, context.DeadlineExceeded)
}

// Combine 将多个错误合并为一个错误，忽略其中的 nil。
func Combine(errs ...error) error {
	errs = lo.Filter(errs, func(err error, _ int) bool { return err != nil })
	if len(errs) == 0 {
		return nil
	}

	combined := errs[0]
	for _, err := range errs[1:] {
		combined = errors.Mark(combined, err)
	}
	return combined
}

// Service related

func WrapErrServiceUnavailable(reason string, msg ...string) error {
	err := wrapFieldsWithDesc(ErrServiceUnavailable, reason)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrServiceInternal(reason string, msg ...string) error {
	err := wrapFieldsWithDesc(ErrServiceInternal, reason)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// Token related

func WrapErrTokenMissing(msg ...string) error {
	err := error(ErrTokenMissing)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrTokenInvalid(msg ...string) error {
	err := error(ErrTokenInvalid)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrTokenInvalidate(err error, msg ...string) error {
	if err == nil {
		return nil
	}
	werr := wrapFieldsWithDesc(ErrTokenInvalidate, err.Error())
	if len(msg) > 0 {
		werr = errors.Wrap(werr, strings.Join(msg, "->"))
	}
	return werr
}

// Connection related

func WrapErrConnDialFailed(url string, err error) error {
	if err == nil {
		return nil
	}
	return wrapFieldsWithDesc(ErrConnDialFailed, err.Error(), value("url", url))
}

func WrapErrConnClosed(msg ...string) error {
	err := error(ErrConnClosed)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrConnSendFailed(frameType string, err error) error {
	if err == nil {
		return nil
	}
	return wrapFieldsWithDesc(ErrConnSendFailed, err.Error(), value("frame", frameType))
}

func WrapErrConnRetryExhausted(attempts uint, msg ...string) error {
	err := wrapFields(ErrConnRetryExhausted, value("attempts", attempts))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrConnServerError(reason string, msg ...string) error {
	err := wrapFieldsWithDesc(ErrConnServerError, reason)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// Frame related

func WrapErrFrameDecode(err error, msg ...string) error {
	if err == nil {
		return nil
	}
	werr := wrapFieldsWithDesc(ErrFrameDecode, err.Error())
	if len(msg) > 0 {
		werr = errors.Wrap(werr, strings.Join(msg, "->"))
	}
	return werr
}

func WrapErrFrameEncode(err error, msg ...string) error {
	if err == nil {
		return nil
	}
	werr := wrapFieldsWithDesc(ErrFrameEncode, err.Error())
	if len(msg) > 0 {
		werr = errors.Wrap(werr, strings.Join(msg, "->"))
	}
	return werr
}

func WrapErrFrameUnknown(frameType string) error {
	return wrapFields(ErrFrameUnknown, value("type", frameType))
}

// Storage related

func WrapErrStorageIo(key string, err error) error {
	if err == nil {
		return nil
	}
	return wrapFieldsWithDesc(ErrStorageIo, err.Error(), value("key", key))
}

func WrapErrStorageKeyNotFound(key string, msg ...string) error {
	err := wrapFields(ErrStorageKeyNotFound, value("key", key))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// Login related

func WrapErrLoginTimeout(waited string, msg ...string) error {
	err := wrapFields(ErrLoginTimeout, value("waited", waited))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrLoginRejected(reason string, msg ...string) error {
	err := wrapFieldsWithDesc(ErrLoginRejected, reason)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// Parameter related

func WrapErrParameterInvalidMsg(fmtStr string, args ...any) error {
	return errors.Wrapf(ErrParameterInvalid, fmtStr, args...)
}

func wrapFields(err heraError, fields ...errorField) error {
	for i := range fields {
		err.msg += fmt.Sprintf("[%s]", fields[i].String())
	}
	err.detail = err.msg
	return err
}

func wrapFieldsWithDesc(err heraError, desc string, fields ...errorField) error {
	for i := range fields {
		err.msg += fmt.Sprintf("[%s]", fields[i].String())
	}
	err.msg += ": " + desc
	err.detail = err.msg
	return err
}

type errorField interface {
	String() string
}

type valueField struct {
	name  string
	value any
}

func value(name string, value any) valueField {
	return valueField{
		name,
		value,
	}
}

func (f valueField) String() string {
	return fmt.Sprintf("%s=%v", f.name, f.value)
}

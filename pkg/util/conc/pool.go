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

package conc

import (
	"fmt"
	"sync"

	ants "github.com/panjf2000/ants/v2"
)

// Pool 是 ants 协程池的泛型封装。
//
// 说明：
//   - Submit 返回 Future，调用方可以选择等待或忽略结果；
//   - 池内任务 panic 由 ants 统一 recover，并经由 poolOption 处理。
type Pool[T any] struct {
	inner *ants.Pool
	opt   *poolOption
}

// NewPool 创建一个容量为 cap 的协程池。
func NewPool[T any](cap int, opts ...PoolOption) *Pool[T] {
	opt := defaultPoolOption()
	for _, o := range opts {
		o(opt)
	}

	pool, err := ants.NewPool(cap, opt.antsOptions()...)
	if err != nil {
		// 仅当参数非法时才会出错。
		panic(err)
	}

	return &Pool[T]{
		inner: pool,
		opt:   opt,
	}
}

// Submit 向池中提交一个任务，返回对应的 Future。
func (pool *Pool[T]) Submit(method func() (T, error)) *Future[T] {
	future := newFuture[T]()
	err := pool.inner.Submit(func() {
		defer close(future.ch)
		// 池配置为吞掉 panic 时，补一个错误结果，避免 Future 永久无错误地返回零值。
		defer func() {
			if x := recover(); x != nil {
				future.err = fmt.Errorf("panicked with error: %v", x)
				panic(x)
			}
		}()
		res, err := method()
		if err != nil {
			future.err = err
		} else {
			future.value = res
		}
	})
	if err != nil {
		future.err = err
		close(future.ch)
	}

	return future
}

// Cap 返回池容量。
func (pool *Pool[T]) Cap() int {
	return pool.inner.Cap()
}

// Running 返回当前正在运行的任务数。
func (pool *Pool[T]) Running() int {
	return pool.inner.Running()
}

// Free 返回当前空闲的 worker 数。
func (pool *Pool[T]) Free() int {
	return pool.inner.Free()
}

// Release 释放协程池。
func (pool *Pool[T]) Release() {
	pool.inner.Release()
}

var (
	bgPool     *Pool[any]
	bgPoolOnce sync.Once
)

// BgPool 返回进程级别的后台任务池，用于尽力而为的异步调用。
func BgPool() *Pool[any] {
	bgPoolOnce.Do(func() {
		bgPool = NewPool[any](16, WithConcealPanic(true))
	})
	return bgPool
}

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

package typeutil

import (
	"sync"

	"github.com/samber/lo"
)

type Set[T comparable] map[T]struct{}

func NewSet[T comparable](elements ...T) Set[T] {
	set := make(Set[T])
	set.Insert(elements...)
	return set
}

// Insert 将元素插入集合。
// 如果元素已存在，则忽略该元素。
func (set Set[T]) Insert(elements ...T) {
	for i := range elements {
		set[elements[i]] = struct{}{}
	}
}

// Contain 判断一个或多个元素是否都存在于集合中。
func (set Set[T]) Contain(elements ...T) bool {
	for i := range elements {
		_, ok := set[elements[i]]
		if !ok {
			return false
		}
	}
	return true
}

// Remove 从集合中移除元素。
// 如果集合为 nil 或元素不存在，则忽略。
func (set Set[T]) Remove(elements ...T) {
	for i := range elements {
		delete(set, elements[i])
	}
}

// Collect 返回集合中的所有元素。
func (set Set[T]) Collect() []T {
	return lo.Keys(set)
}

// Len 返回集合中的元素个数。
func (set Set[T]) Len() int {
	return len(set)
}

// ConcurrentSet 是并发安全的集合类型，底层基于 sync.Map。
type ConcurrentSet[T comparable] struct {
	inner sync.Map
}

func NewConcurrentSet[T comparable]() *ConcurrentSet[T] {
	return &ConcurrentSet[T]{}
}

// Insert 将元素插入集合，返回元素是否为新插入。
func (set *ConcurrentSet[T]) Insert(element T) bool {
	_, loaded := set.inner.LoadOrStore(element, struct{}{})
	return !loaded
}

// Contain 判断元素是否存在。
func (set *ConcurrentSet[T]) Contain(element T) bool {
	_, ok := set.inner.Load(element)
	return ok
}

// Remove 从集合中移除元素。
func (set *ConcurrentSet[T]) Remove(element T) {
	set.inner.Delete(element)
}

// Range 遍历集合中的元素，fn 返回 false 时中断遍历。
func (set *ConcurrentSet[T]) Range(fn func(element T) bool) {
	set.inner.Range(func(key, _ any) bool {
		return fn(key.(T))
	})
}

// Collect 返回集合中所有元素的快照。
func (set *ConcurrentSet[T]) Collect() []T {
	var elements []T
	set.Range(func(element T) bool {
		elements = append(elements, element)
		return true
	})
	return elements
}

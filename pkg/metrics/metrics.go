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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// heraNamespace 是当前项目所有 Prometheus 指标使用的命名空间。
	heraNamespace = "hera"

	// 以下为当前使用的通用标签名。
	frameTypeLabelName = "frame_type"
	outcomeLabelName   = "outcome"
	triggerLabelName   = "trigger"
)

var (
	// buckets 为请求耗时直方图的桶划分，单位为毫秒。
	// 实际桶分布为：
	// [1 2 4 8 16 32 64 128 256 512 1024 2048 4096 8192 16384 32768 65536 1.31072e+05]
	buckets = prometheus.ExponentialBuckets(1, 2, 18)

	// FramesReceived 按帧类型统计收到的帧数。
	FramesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: heraNamespace,
			Name:      "frames_received_total",
			Help:      "number of frames received from the session service, by frame type",
		}, []string{frameTypeLabelName})

	// HeartbeatsSent 统计已发送的心跳帧数。
	HeartbeatsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: heraNamespace,
			Name:      "heartbeats_sent_total",
			Help:      "number of ping frames sent over the persistent connection",
		})

	// ReconnectAttempts 按触发来源统计重连尝试次数。
	ReconnectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: heraNamespace,
			Name:      "reconnect_attempts_total",
			Help:      "number of reconnect attempts, by trigger (auto/manual/login)",
		}, []string{triggerLabelName})

	// Logins 按结果统计登录次数。
	Logins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: heraNamespace,
			Name:      "logins_total",
			Help:      "number of login operations, by outcome",
		}, []string{outcomeLabelName})

	// LoginDuration 为登录耗时直方图，单位为毫秒。
	LoginDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: heraNamespace,
			Name:      "login_duration_ms",
			Help:      "time cost of login operations in milliseconds",
			Buckets:   buckets,
		})

	// Connected 表示当前是否存在打开的持久连接。
	Connected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: heraNamespace,
			Name:      "connected",
			Help:      "whether the persistent connection is currently open (0/1)",
		})

	// PongLatency 为服务器在 pong 帧中回报的链路延迟，单位为毫秒。
	PongLatency = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: heraNamespace,
			Name:      "pong_latency_ms",
			Help:      "latency as reported by the server in the last pong frame",
		})

	metricRegisterer prometheus.Registerer
)

// GetRegisterer 返回全局 Prometheus Registerer。
// 如果尚未通过 Register 显式设置，则返回 prometheus.DefaultRegisterer。
func GetRegisterer() prometheus.Registerer {
	if metricRegisterer == nil {
		return prometheus.DefaultRegisterer
	}
	return metricRegisterer
}

// Register 注册当前定义的所有指标。
// 通常应在 init 函数中调用。
func Register(r prometheus.Registerer) {
	r.MustRegister(FramesReceived)
	r.MustRegister(HeartbeatsSent)
	r.MustRegister(ReconnectAttempts)
	r.MustRegister(Logins)
	r.MustRegister(LoginDuration)
	r.MustRegister(Connected)
	r.MustRegister(PongLatency)
	metricRegisterer = r
}

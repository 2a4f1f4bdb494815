// Copyright 2023-2025 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package monitor

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	defaultSetConfirm   = 15 * time.Second
	defaultClearConfirm = 30 * time.Second
)

// Alarm is raised while communication with a peer is failing.
type Alarm interface {
	Set()
	Clear()
}

// NewLogAlarm returns an Alarm that only logs its transitions.
func NewLogAlarm(logger *zap.Logger, name string) Alarm {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &logAlarm{log: logger, name: name}
}

type logAlarm struct {
	log  *zap.Logger
	name string
}

func (a *logAlarm) Set() {
	a.log.Error("alarm raised", zap.String("alarm", a.name))
}

func (a *logAlarm) Clear() {
	a.log.Info("alarm cleared", zap.String("alarm", a.name))
}

// CommMonitorConfig configures a CommMonitor.
type CommMonitorConfig struct {
	// Sender and Receiver name the two ends of the monitored link in logs.
	Sender   string
	Receiver string
	// SetConfirm is how long communication must fail before the alarm is
	// raised. Defaults to 15 seconds.
	SetConfirm time.Duration
	// ClearConfirm is how often a raised alarm is re-evaluated. Defaults
	// to 30 seconds.
	ClearConfirm time.Duration
}

// CommMonitor is a CommunicationMonitor that drives an Alarm.
//
// Timing is driven by calls to InformSuccess and InformFailure, so the
// windows are not precise at low request volume.
type CommMonitor struct {
	alarm        Alarm
	log          *zap.Logger
	sender       string
	receiver     string
	setConfirm   time.Duration
	clearConfirm time.Duration

	succeeded atomic.Int64
	failed    atomic.Int64

	mu sync.Mutex
	// +checklocks:mu
	nextCheck time.Time
	// +checklocks:mu
	previous State
}

var _ CommunicationMonitor = (*CommMonitor)(nil)

// NewCommMonitor creates a CommMonitor reporting through alarm.
func NewCommMonitor(alarm Alarm, config CommMonitorConfig, logger *zap.Logger) *CommMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.SetConfirm <= 0 {
		config.SetConfirm = defaultSetConfirm
	}
	if config.ClearConfirm <= 0 {
		config.ClearConfirm = defaultClearConfirm
	}
	return &CommMonitor{
		alarm:        alarm,
		log:          logger,
		sender:       config.Sender,
		receiver:     config.Receiver,
		setConfirm:   config.SetConfirm,
		clearConfirm: config.ClearConfirm,
		previous:     StateNoErrors,
	}
}

// InformSuccess implements CommunicationMonitor.
func (m *CommMonitor) InformSuccess(now time.Time) {
	m.succeeded.Add(1)
	m.track(now)
}

// InformFailure implements CommunicationMonitor.
func (m *CommMonitor) InformFailure(now time.Time) {
	m.failed.Add(1)
	m.track(now)
}

// State returns the state computed at the last window boundary.
func (m *CommMonitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.previous
}

func (m *CommMonitor) track(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nextCheck.IsZero() {
		m.nextCheck = now.Add(m.setConfirm)
		return
	}
	if now.Before(m.nextCheck) {
		return
	}
	state := stateOf(m.succeeded.Swap(0), m.failed.Swap(0))
	if state != m.previous {
		m.log.Debug("communication state changed",
			zap.String("sender", m.sender),
			zap.String("receiver", m.receiver),
			zap.Stringer("from", m.previous),
			zap.Stringer("to", state))
		if m.previous == StateOnlyErrors {
			m.alarm.Clear()
		}
		if state == StateOnlyErrors {
			m.alarm.Set()
		}
		m.previous = state
	}
	if state == StateOnlyErrors {
		m.nextCheck = now.Add(m.clearConfirm)
	} else {
		m.nextCheck = now.Add(m.setConfirm)
	}
}

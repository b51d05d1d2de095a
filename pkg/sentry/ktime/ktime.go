// Copyright 2018 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ktime provides kernel time: instants measured from boot, tick
// conversions for the system timer, and virtual timers multiplexed over it.
package ktime

import (
	"fmt"
	"math"
	"time"

	"laritos.dev/laritos/pkg/sentry/hw"
)

// Time represents an instant in time with nanosecond precision, measured
// from the moment the system timer started counting.
type Time struct {
	ns int64
}

var (
	// MinTime is the lowest possible time that can be represented by Time.
	MinTime = Time{ns: math.MinInt64}

	// MaxTime is the highest possible time that can be represented by
	// Time.
	MaxTime = Time{ns: math.MaxInt64}

	// ZeroTime represents boot.
	ZeroTime = Time{ns: 0}
)

const (
	// MinDuration is the minimum duration representable by time.Duration.
	MinDuration = time.Duration(math.MinInt64)

	// MaxDuration is the maximum duration representable by time.Duration.
	MaxDuration = time.Duration(math.MaxInt64)
)

// FromNanoseconds returns a Time representing the point ns nanoseconds after
// boot.
func FromNanoseconds(ns int64) Time {
	return Time{ns}
}

// FromSeconds returns a Time representing the point s seconds after boot.
func FromSeconds(s int64) Time {
	if s > math.MaxInt64/time.Second.Nanoseconds() {
		return MaxTime
	}
	return Time{s * 1e9}
}

// Nanoseconds returns nanoseconds elapsed since boot.
func (t Time) Nanoseconds() int64 {
	return t.ns
}

// Microseconds returns microseconds elapsed since boot.
func (t Time) Microseconds() int64 {
	return t.ns / 1000
}

// Seconds returns seconds elapsed since boot.
func (t Time) Seconds() int64 {
	return t.Nanoseconds() / time.Second.Nanoseconds()
}

// Add adds the duration of d to t.
func (t Time) Add(d time.Duration) Time {
	if t.ns > 0 && d.Nanoseconds() > math.MaxInt64-int64(t.ns) {
		return MaxTime
	}
	if t.ns < 0 && d.Nanoseconds() < math.MinInt64-int64(t.ns) {
		return MinTime
	}
	return Time{int64(t.ns) + d.Nanoseconds()}
}

// Equal reports whether the two times represent the same instant in time.
func (t Time) Equal(u Time) bool {
	return t.ns == u.ns
}

// Before reports whether the instant t is before the instant u.
func (t Time) Before(u Time) bool {
	return t.ns < u.ns
}

// After reports whether the instant t is after the instant u.
func (t Time) After(u Time) bool {
	return t.ns > u.ns
}

// Sub returns the duration of t - u.
func (t Time) Sub(u Time) time.Duration {
	dur := time.Duration(int64(t.ns)-int64(u.ns)) * time.Nanosecond
	switch {
	case u.Add(dur).Equal(t):
		return dur
	case t.Before(u):
		return MinDuration
	default:
		return MaxDuration
	}
}

// IsZero returns whether t represents boot.
func (t Time) IsZero() bool {
	return t == ZeroTime
}

// String returns the time represented in seconds since boot.
func (t Time) String() string {
	return fmt.Sprintf("%d.%06d", t.ns/1e9, (t.ns%1e9)/1e3)
}

// A Clock is an abstract time source.
type Clock interface {
	// Now returns the current time according to the Clock.
	Now() Time
}

// TicksToDuration converts ticks of a counter running at freq Hz.
func TicksToDuration(ticks, freq uint64) time.Duration {
	secs, rem := ticks/freq, ticks%freq
	if secs > uint64(MaxDuration/time.Second) {
		return MaxDuration
	}
	return time.Duration(secs)*time.Second + time.Duration(rem*uint64(time.Second)/freq)
}

// DurationToTicks converts d into ticks of a counter running at freq Hz,
// rounding up so that a wait never ends early. Negative durations are zero
// ticks.
func DurationToTicks(d time.Duration, freq uint64) uint64 {
	if d <= 0 {
		return 0
	}
	secs, rem := uint64(d/time.Second), uint64(d%time.Second)
	return secs*freq + (rem*freq+uint64(time.Second)-1)/uint64(time.Second)
}

// TimerClock is a Clock reading a hardware timer.
type TimerClock struct {
	Timer hw.Timer
}

// Now implements Clock.Now.
func (c TimerClock) Now() Time {
	return Time{int64(TicksToDuration(c.Timer.Value(), c.Timer.Frequency()))}
}

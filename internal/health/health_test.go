// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHealthAlwaysHealthy(t *testing.T) {
	m := NewManager("v1.2.3")
	resp := m.Health(context.Background())
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.True(t, resp.Ready)
	assert.Equal(t, "v1.2.3", resp.Version)
}

func TestReadinessAggregatesChecks(t *testing.T) {
	m := NewManager("test")
	m.RegisterChecker(CheckerFunc{
		CheckerName: "ok",
		Fn: func(context.Context) CheckResult {
			return CheckResult{Status: StatusHealthy}
		},
	})

	resp := m.Readiness(context.Background())
	assert.True(t, resp.Ready)
	assert.Equal(t, StatusHealthy, resp.Status)

	m.RegisterChecker(CheckerFunc{
		CheckerName: "redis",
		Fn: func(context.Context) CheckResult {
			return CheckResult{Status: StatusUnhealthy, Error: errors.New("down").Error()}
		},
	})

	resp = m.Readiness(context.Background())
	assert.False(t, resp.Ready)
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Equal(t, "down", resp.Checks["redis"].Error)
}

func TestReadinessDegraded(t *testing.T) {
	m := NewManager("test")
	m.RegisterChecker(CheckerFunc{
		CheckerName: "slow",
		Fn: func(context.Context) CheckResult {
			return CheckResult{Status: StatusDegraded, Message: "high latency"}
		},
	})

	resp := m.Readiness(context.Background())
	assert.True(t, resp.Ready, "degraded still serves traffic")
	assert.Equal(t, StatusDegraded, resp.Status)
}

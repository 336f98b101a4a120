/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAndAddDefaults(t *testing.T) {
	cnf := Configuration{
		Redis: RedisConfig{
			Dns: "localhost:6379",
		},
	}

	err := cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "data source DNS is required" {
		t.Errorf("Expected data source DNS required error, got %v", err)
	}

	cnf = Configuration{
		DataSource: DataSourceConfig{
			Dns: "postgres://localhost:5432",
		},
	}
	err = cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "redis DNS is required" {
		t.Errorf("Expected redis DNS required error, got %v", err)
	}

	cnf = Configuration{
		ProjectName: "Test Project",
		DataSource:  DataSourceConfig{Dns: "some-dns"},
		Redis:       RedisConfig{Dns: "localhost:6379"},
	}
	require.NoError(t, cnf.validateAndAddDefaults())

	assert.Equal(t, DEFAULT_PORT, cnf.Server.Port)
	assert.Equal(t, 24*60, cnf.Distribution.SLAWindowMinutes)
	assert.Equal(t, 10, cnf.Distribution.FairnessCap)
	assert.Equal(t, 3600, cnf.Scheduler.SweepIntervalSec)
	assert.Equal(t, 48*60, cnf.Scheduler.ContactWindowMinutes)
	assert.Equal(t, "v1", cnf.Scoring.Version)
	assert.InDelta(t, 1.0, cnf.Scoring.ResponsivenessWeight+cnf.Scoring.CompletionWeight+cnf.Scoring.RatingWeight+cnf.Scoring.ComplianceWeight+cnf.Scoring.FreshnessWeight, 0.0001)
	assert.Equal(t, "new:webhook", cnf.Queue.WebhookQueue)
	assert.Equal(t, "lead_contact", cnf.ContactEvents.Channel)
}

func TestRateLimitDefaults(t *testing.T) {
	cnf := Configuration{
		DataSource: DataSourceConfig{Dns: "some-dns"},
		Redis:      RedisConfig{Dns: "localhost:6379"},
	}
	require.NoError(t, cnf.validateAndAddDefaults())
	assert.Nil(t, cnf.RateLimit.RequestsPerSecond)
	assert.Nil(t, cnf.RateLimit.Burst)
	require.NotNil(t, cnf.RateLimit.CleanupIntervalSec)
	assert.Equal(t, 10800, *cnf.RateLimit.CleanupIntervalSec)

	rps := 5.0
	cnf.RateLimit = RateLimitConfig{RequestsPerSecond: &rps}
	require.NoError(t, cnf.validateAndAddDefaults())
	require.NotNil(t, cnf.RateLimit.Burst)
	assert.Equal(t, 10, *cnf.RateLimit.Burst)

	burst := 8
	cnf.RateLimit = RateLimitConfig{Burst: &burst}
	require.NoError(t, cnf.validateAndAddDefaults())
	require.NotNil(t, cnf.RateLimit.RequestsPerSecond)
	assert.Equal(t, 4.0, *cnf.RateLimit.RequestsPerSecond)
}

func TestSweepIntervalHasFloor(t *testing.T) {
	cnf := Configuration{
		DataSource: DataSourceConfig{Dns: "some-dns"},
		Redis:      RedisConfig{Dns: "localhost:6379"},
		Scheduler:  SchedulerConfig{SweepIntervalSec: 5},
	}
	require.NoError(t, cnf.validateAndAddDefaults())
	assert.Equal(t, time.Minute, cnf.Scheduler.SweepInterval())
}

func TestScoringThresholdValidation(t *testing.T) {
	cnf := Configuration{
		DataSource: DataSourceConfig{Dns: "some-dns"},
		Redis:      RedisConfig{Dns: "localhost:6379"},
		Scoring:    ScoringConfig{TopTierThreshold: 50, MidTierThreshold: 70},
	}
	assert.EqualError(t, cnf.validateAndAddDefaults(), "mid tier threshold must not exceed top tier threshold")

	cnf.Scoring = ScoringConfig{RatingWeight: -1}
	assert.EqualError(t, cnf.validateAndAddDefaults(), "scoring weights must not be negative")
}

func TestSLAWindow(t *testing.T) {
	d := DistributionConfig{
		SLAWindowMinutes:       1440,
		UrgentSLAWindowMinutes: 240,
		CategorySLAMinutes:     map[string]int{"plumbing": 720},
	}

	assert.Equal(t, 24*time.Hour, d.SLAWindow("painting", false))
	assert.Equal(t, 12*time.Hour, d.SLAWindow("Plumbing", false))
	assert.Equal(t, 4*time.Hour, d.SLAWindow("plumbing", true))
}

func TestLoadConfigFromFile(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "leadflow.json")
	if err != nil {
		t.Fatalf("Unable to create temporary file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	sampleConfig := Configuration{
		ProjectName: "Temp Project",
		DataSource:  DataSourceConfig{Dns: "temp-dns"},
		Redis:       RedisConfig{Dns: "temp-redis"},
		Distribution: DistributionConfig{
			FairnessCap: 3,
		},
	}
	if err := json.NewEncoder(tmpFile).Encode(sampleConfig); err != nil {
		t.Fatalf("Unable to write to temporary file: %v", err)
	}
	tmpFile.Close()

	t.Setenv("LEADFLOW_PROJECT_NAME", "Env Project")

	if err := loadConfigFromFile(tmpFile.Name()); err != nil {
		t.Fatalf("loadConfigFromFile failed: %v", err)
	}

	loadedConfig, err := Fetch()
	require.NoError(t, err)

	assert.Equal(t, "Env Project", loadedConfig.ProjectName)
	assert.Equal(t, "temp-dns", loadedConfig.DataSource.Dns)
	assert.Equal(t, 3, loadedConfig.Distribution.FairnessCap)
}

func TestInitConfig(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "leadflow.json")
	if err != nil {
		t.Fatalf("Unable to create temporary file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	sampleConfig := Configuration{
		ProjectName: "InitConfig Test",
		DataSource:  DataSourceConfig{Dns: "init-config-dns"},
		Redis:       RedisConfig{Dns: "localhost:6379"},
	}
	if err := json.NewEncoder(tmpFile).Encode(sampleConfig); err != nil {
		t.Fatalf("Unable to write to temporary file: %v", err)
	}
	tmpFile.Close()

	if err := InitConfig(tmpFile.Name()); err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}

	loadedConfig, err := Fetch()
	require.NoError(t, err)
	assert.Equal(t, "InitConfig Test", loadedConfig.ProjectName)
	assert.Equal(t, "init-config-dns", loadedConfig.DataSource.Dns)
}

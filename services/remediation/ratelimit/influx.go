// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ratelimit

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianOps/pkg/validation"
)

// actionMeasurement is the InfluxDB measurement recording allowed actions.
const actionMeasurement = "remediation_actions"

// InfluxConfig configures the InfluxDB-backed tracker.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// InfluxTracker is a Tracker backed by InfluxDB.
//
// # Description
//
// Multi-replica gateways need shared counters: each allowed action is
// written as a point tagged with environment and team, and counts are
// flux range queries over the relevant window. Concurrent identical
// count queries are collapsed through singleflight so a burst of policy
// evaluations for one environment costs one query.
//
// # Thread Safety
//
// InfluxTracker is safe for concurrent use.
type InfluxTracker struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
	bucket   string
	group    singleflight.Group
}

// NewInfluxTracker connects to InfluxDB and returns a shared-counter
// tracker.
//
// # Inputs
//
//   - cfg: Connection settings. URL, Org, and Bucket are required.
//
// # Outputs
//
//   - *InfluxTracker: Ready to use tracker.
//   - error: Configuration error.
func NewInfluxTracker(cfg InfluxConfig) (*InfluxTracker, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx tracker requires url, org, and bucket")
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxTracker{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		queryAPI: client.QueryAPI(cfg.Org),
		bucket:   cfg.Bucket,
	}, nil
}

// Close releases the underlying InfluxDB client.
func (t *InfluxTracker) Close() {
	t.client.Close()
}

// Increment records one allowed action as a point.
func (t *InfluxTracker) Increment(ctx context.Context, environment, team string) error {
	if err := validation.ValidateEnvironment(environment); err != nil {
		return fmt.Errorf("influx tracker increment: %w", err)
	}
	tags := map[string]string{"environment": environment}
	if team != "" {
		if err := validation.ValidateTeam(team); err != nil {
			return fmt.Errorf("influx tracker increment: %w", err)
		}
		tags["team"] = team
	}

	p := influxdb2.NewPoint(
		actionMeasurement,
		tags,
		map[string]interface{}{"count": int64(1)},
		time.Now().UTC(),
	)

	if err := t.writeAPI.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("influx tracker write: %w", err)
	}
	return nil
}

// CountRecentActions returns actions recorded for the environment within
// the last hour.
func (t *InfluxTracker) CountRecentActions(ctx context.Context, environment string) (int, error) {
	if err := validation.ValidateEnvironment(environment); err != nil {
		return 0, fmt.Errorf("influx tracker count: %w", err)
	}
	return t.count(ctx, countQuery(t.bucket, environment, "", HourWindow))
}

// CountRecentActionsMinute returns actions recorded for the environment
// within the last minute.
func (t *InfluxTracker) CountRecentActionsMinute(ctx context.Context, environment string) (int, error) {
	if err := validation.ValidateEnvironment(environment); err != nil {
		return 0, fmt.Errorf("influx tracker count: %w", err)
	}
	return t.count(ctx, countQuery(t.bucket, environment, "", MinuteWindow))
}

// CountTeamActions returns actions recorded for the team in the
// environment within the last hour.
func (t *InfluxTracker) CountTeamActions(ctx context.Context, team, environment string) (int, error) {
	if err := validation.ValidateEnvironment(environment); err != nil {
		return 0, fmt.Errorf("influx tracker count: %w", err)
	}
	if err := validation.ValidateTeam(team); err != nil {
		return 0, fmt.Errorf("influx tracker count: %w", err)
	}
	return t.count(ctx, countQuery(t.bucket, environment, team, HourWindow))
}

// count runs a flux count query, collapsing concurrent duplicates.
func (t *InfluxTracker) count(ctx context.Context, query string) (int, error) {
	v, err, _ := t.group.Do(query, func() (interface{}, error) {
		result, err := t.queryAPI.Query(ctx, query)
		if err != nil {
			return 0, fmt.Errorf("influx tracker query: %w", err)
		}

		total := 0
		for result.Next() {
			if n, ok := result.Record().Value().(int64); ok {
				total += int(n)
			}
		}
		if result.Err() != nil {
			return 0, fmt.Errorf("influx tracker query: %w", result.Err())
		}
		return total, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// countQuery builds the flux query counting points in a window.
// Team filtering is optional.
func countQuery(bucket, environment, team string, window time.Duration) string {
	teamFilter := ""
	if team != "" {
		teamFilter = fmt.Sprintf(`  |> filter(fn: (r) => r.team == "%s")
`, team)
	}

	return fmt.Sprintf(`from(bucket: "%s")
  |> range(start: -%s)
  |> filter(fn: (r) => r._measurement == "%s")
  |> filter(fn: (r) => r.environment == "%s")
%s  |> count()
`, bucket, window, actionMeasurement, environment, teamFilter)
}

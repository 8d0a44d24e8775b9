/*
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

// Package config loads the provisioner's INI configuration file and carries
// the resulting Settings through a context.Context, rather than as a
// package-level singleton. One Settings value is constructed at process
// startup and has the lifetime of the process; everything downstream reads
// it out of context.
package config

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"gopkg.in/ini.v1"
)

// defaultBidFloor is substituted for a computed bid that exceeds the
// tenant's max bid price (spec Design Notes, item iii).
const defaultBidFloor = 0.40

// Database holds connection parameters for the [Database] section.
type Database struct {
	User     string
	Password string
	Host     string
	Port     string
	Name     string
}

// DSN returns a postgres connection string for use with pgx.
func (d Database) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", d.User, d.Password, d.Host, d.Port, d.Name)
}

// Queue holds the external job-scheduler probe's invocation, overriding the
// built-in condor_q argv when set.
type Queue struct {
	Command string
	Args    []string
}

// Logging holds the [Logging] section.
type Logging struct {
	Level    string
	Encoding string
}

// Settings is the fully parsed, validated configuration for one process
// lifetime.
type Settings struct {
	Database Database
	Queue    Queue
	Logging  Logging

	OnDemandPriceThreshold float64
	MaxRequests            int
	RunRate                int // seconds between ticks
	BidFloor               float64
	UserDataPath           string
}

// Load reads path as an INI file and returns a validated Settings.
func Load(path string) (*Settings, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config file %q: %w", path, err)
	}

	s := &Settings{
		BidFloor:     defaultBidFloor,
		UserDataPath: "cloudinit.cfg",
	}

	db := cfg.Section("Database")
	s.Database = Database{
		User:     db.Key("user").String(),
		Password: db.Key("password").String(),
		Host:     db.Key("host").String(),
		Port:     db.Key("port").String(),
		Name:     db.Key("database").String(),
	}

	prov := cfg.Section("Provision")
	s.OnDemandPriceThreshold, err = prov.Key("ondemand_price_threshold").Float64()
	if err != nil {
		return nil, fmt.Errorf("parsing ondemand_price_threshold: %w", err)
	}
	s.MaxRequests, err = prov.Key("max_requests").Int()
	if err != nil {
		return nil, fmt.Errorf("parsing max_requests: %w", err)
	}
	s.RunRate, err = prov.Key("run_rate").Int()
	if err != nil {
		return nil, fmt.Errorf("parsing run_rate: %w", err)
	}
	if v := prov.Key("bid_floor").String(); v != "" {
		s.BidFloor, err = prov.Key("bid_floor").Float64()
		if err != nil {
			return nil, fmt.Errorf("parsing bid_floor: %w", err)
		}
	}
	if v := prov.Key("userdata_path").String(); v != "" {
		s.UserDataPath = v
	}

	q := cfg.Section("Queue")
	s.Queue = Queue{
		Command: q.Key("command").MustString("condor_q"),
		Args:    q.Key("args").Strings(" "),
	}

	l := cfg.Section("Logging")
	s.Logging = Logging{
		Level:    l.Key("level").MustString("info"),
		Encoding: l.Key("encoding").MustString("console"),
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return s, nil
}

// Validate checks cross-field invariants the INI parser can't express as
// per-key types.
func (s *Settings) Validate() (err error) {
	if s.Database.Host == "" {
		err = multierr.Append(err, fmt.Errorf("[Database] host is required"))
	}
	if s.Database.Name == "" {
		err = multierr.Append(err, fmt.Errorf("[Database] database is required"))
	}
	if s.OnDemandPriceThreshold <= 0 || s.OnDemandPriceThreshold > 1 {
		err = multierr.Append(err, fmt.Errorf("[Provision] ondemand_price_threshold must be in (0,1], got %v", s.OnDemandPriceThreshold))
	}
	if s.MaxRequests <= 0 {
		err = multierr.Append(err, fmt.Errorf("[Provision] max_requests must be positive, got %d", s.MaxRequests))
	}
	if s.RunRate <= 0 {
		err = multierr.Append(err, fmt.Errorf("[Provision] run_rate must be positive, got %d", s.RunRate))
	}
	return err
}

type settingsKeyType struct{}

var contextKey = settingsKeyType{}

// ToContext returns a copy of ctx carrying s.
func ToContext(ctx context.Context, s *Settings) context.Context {
	return context.WithValue(ctx, contextKey, s)
}

// FromContext returns the Settings carried by ctx. It panics if none was
// installed; that is a programmer error, not a runtime condition the
// provisioner needs to recover from.
func FromContext(ctx context.Context) *Settings {
	s, ok := ctx.Value(contextKey).(*Settings)
	if !ok {
		panic("config: no Settings in context")
	}
	return s
}

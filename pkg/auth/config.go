/*
Portions Copyright (c) Microsoft Corporation.

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

package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/multierr"

	"github.com/taskpool/worker-manager/pkg/gateway"
)

// Config holds the provider startup configuration. It is read from a JSON
// file (--config) with environment variables taking precedence, then
// defaulted and validated. Validation failures are fatal at startup.
type Config struct {
	ClientID           string `json:"clientId" validate:"required"`
	Secret             string `json:"secret" validate:"required"`
	Domain             string `json:"domain" validate:"required"` // AAD tenant ID
	SubscriptionID     string `json:"subscriptionId" validate:"required"`
	ResourceGroupName  string `json:"resourceGroupName" validate:"required"`
	StorageAccountName string `json:"storageAccountName"`

	// RootURL is handed to workers (via customData tags) so they can find
	// their way back to register.
	RootURL string `json:"rootUrl" validate:"required,url"`

	// CACertDir contains the pinned Microsoft intermediate CA PEM files used
	// to verify attested-data documents at registration.
	CACertDir string `json:"caCertDir" validate:"required"`

	// APIRateLimits overrides gateway bucket limits; values in milliseconds.
	APIRateLimits map[string]RateLimitConfig `json:"apiRateLimits,omitempty"`

	// BackoffDelayMS is the base backoff unit for throttled calls.
	BackoffDelayMS int64 `json:"_backoffDelay,omitempty"`
}

type RateLimitConfig struct {
	IntervalMS int64 `json:"interval"`
	Capacity   int   `json:"capacity"`
}

// BuildConfig loads, defaults and validates the provider configuration.
// path may be empty, in which case only the environment is consulted.
func BuildConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	cfg.Build()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) Build() {
	setIfPresent := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setIfPresent(&cfg.ClientID, "AZURE_CLIENT_ID")
	setIfPresent(&cfg.Secret, "AZURE_CLIENT_SECRET")
	setIfPresent(&cfg.Domain, "AZURE_TENANT_ID")
	setIfPresent(&cfg.SubscriptionID, "AZURE_SUBSCRIPTION_ID")
	setIfPresent(&cfg.ResourceGroupName, "AZURE_RESOURCE_GROUP")
	setIfPresent(&cfg.StorageAccountName, "AZURE_STORAGE_ACCOUNT")
	setIfPresent(&cfg.RootURL, "ROOT_URL")
	setIfPresent(&cfg.CACertDir, "AZURE_CA_CERT_DIR")
}

func (cfg *Config) Validate() error {
	validate := validator.New()
	var errs error
	if err := validate.Struct(cfg); err != nil {
		errs = multierr.Append(errs, err)
	}
	for name := range cfg.APIRateLimits {
		if !knownBucket(name) {
			errs = multierr.Append(errs, fmt.Errorf("apiRateLimits: unknown bucket %q", name))
		}
	}
	return errs
}

func knownBucket(name string) bool {
	for _, b := range gateway.Buckets {
		if string(b) == name {
			return true
		}
	}
	return false
}

// GatewayOptions converts the config's rate-limit overrides into gateway
// options.
func (cfg *Config) GatewayOptions() gateway.Options {
	opts := gateway.Options{
		BackoffDelay: time.Duration(cfg.BackoffDelayMS) * time.Millisecond,
	}
	if len(cfg.APIRateLimits) > 0 {
		opts.RateLimits = map[gateway.Bucket]gateway.RateLimit{}
		for name, rl := range cfg.APIRateLimits {
			opts.RateLimits[gateway.Bucket(name)] = gateway.RateLimit{
				Interval: time.Duration(rl.IntervalMS) * time.Millisecond,
				Capacity: rl.Capacity,
			}
		}
	}
	return opts
}

func (cfg *Config) String() string {
	redacted := *cfg
	redacted.Secret = "<redacted>"
	out, err := json.Marshal(redacted)
	if err != nil {
		return fmt.Sprintf("couldn't marshal Config JSON: %s", err)
	}
	return string(out)
}

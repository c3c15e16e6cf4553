// Package secrets resolves the two LINE channel credentials from one of the
// supported sources: the environment/env file (default), SSM Parameter Store,
// or Secrets Manager.
package secrets

import (
	"context"
	"fmt"

	"github.com/okabe/linebot-deployer/internal/config"
)

// Pair holds the two required channel credentials.
type Pair struct {
	ChannelAccessToken string
	ChannelSecret      string
}

// Source fetches the credential pair from a backing store.
type Source interface {
	Fetch(ctx context.Context) (*Pair, error)
}

// SourceName selects a Source implementation.
type SourceName string

const (
	SourceEnv            SourceName = "env"
	SourceSSM            SourceName = "ssm"
	SourceSecretsManager SourceName = "secretsmanager"
)

// envSource returns whatever the merged configuration already holds.
type envSource struct {
	cfg *config.Config
}

func NewEnvSource(cfg *config.Config) Source {
	return &envSource{cfg: cfg}
}

func (s *envSource) Fetch(context.Context) (*Pair, error) {
	return &Pair{
		ChannelAccessToken: s.cfg.ChannelAccessToken,
		ChannelSecret:      s.cfg.ChannelSecret,
	}, nil
}

// ParseSourceName validates a --secrets-from flag value.
func ParseSourceName(value string) (SourceName, error) {
	switch SourceName(value) {
	case SourceEnv, SourceSSM, SourceSecretsManager:
		return SourceName(value), nil
	default:
		return "", fmt.Errorf("unknown secrets source %q (want env, ssm, or secretsmanager)", value)
	}
}

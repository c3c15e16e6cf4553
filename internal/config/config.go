// Package config builds the immutable deployment configuration from an env
// file, the process environment, and documented defaults. The process
// environment always wins over the file; within the file the first occurrence
// of a key wins.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
)

const (
	KeyChannelAccessToken = "LINE_CHANNEL_ACCESS_TOKEN"
	KeyChannelSecret      = "LINE_CHANNEL_SECRET"
	KeyStackName          = "STACK_NAME"
	KeyRegion             = "AWS_REGION"
	KeyProfile            = "AWS_PROFILE"
	KeyBedrockRegion      = "BEDROCK_REGION"
	KeyBedrockModelID     = "BEDROCK_MODEL_ID"
)

const (
	DefaultStackName      = "line-translate-bot"
	DefaultRegion         = "ap-northeast-1"
	DefaultBedrockRegion  = "us-east-1"
	DefaultBedrockModelID = "us.amazon.nova-lite-v1:0"
)

// recognizedKeys fixes the set and display order of configuration keys.
var recognizedKeys = []string{
	KeyChannelAccessToken,
	KeyChannelSecret,
	KeyStackName,
	KeyRegion,
	KeyProfile,
	KeyBedrockRegion,
	KeyBedrockModelID,
}

var defaults = map[string]string{
	KeyStackName:      DefaultStackName,
	KeyRegion:         DefaultRegion,
	KeyBedrockRegion:  DefaultBedrockRegion,
	KeyBedrockModelID: DefaultBedrockModelID,
}

var secretKeyPattern = regexp.MustCompile(`(?i)(secret|token|key|password)`)

// Config is built once at startup and passed to each component. It is never
// mutated after Load returns.
type Config struct {
	StackName          string
	Region             string
	Profile            string
	BedrockRegion      string
	BedrockModelID     string
	ChannelAccessToken string
	ChannelSecret      string

	// FileLoaded reports whether the env file was present. A missing file is
	// not an error; the caller downgrades it to a warning.
	FileLoaded bool

	values map[string]string
}

// Load reads the env file at path and merges it under the process environment.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	fileValues := map[string]string{}
	fileLoaded := false

	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		parsed, err := godotenv.Unmarshal(dedupeFirstWins(string(content)))
		if err != nil {
			return nil, fmt.Errorf("failed to parse env file %s: %w", path, err)
		}
		fileValues = parsed
		fileLoaded = true
	case os.IsNotExist(err):
		// Degrade to "manual environment required".
	default:
		return nil, fmt.Errorf("failed to read env file %s: %w", path, err)
	}

	values := make(map[string]string, len(recognizedKeys))
	for _, key := range recognizedKeys {
		if v, ok := lookup(key); ok {
			values[key] = v
			continue
		}
		if v, ok := fileValues[key]; ok {
			values[key] = v
			continue
		}
		values[key] = defaults[key]
	}

	return &Config{
		StackName:          values[KeyStackName],
		Region:             values[KeyRegion],
		Profile:            values[KeyProfile],
		BedrockRegion:      values[KeyBedrockRegion],
		BedrockModelID:     values[KeyBedrockModelID],
		ChannelAccessToken: values[KeyChannelAccessToken],
		ChannelSecret:      values[KeyChannelSecret],
		FileLoaded:         fileLoaded,
		values:             values,
	}, nil
}

// WithSecrets returns a copy of the configuration with the channel
// credentials replaced; the receiver is left untouched.
func (c *Config) WithSecrets(channelAccessToken, channelSecret string) *Config {
	values := make(map[string]string, len(c.values))
	for k, v := range c.values {
		values[k] = v
	}
	values[KeyChannelAccessToken] = channelAccessToken
	values[KeyChannelSecret] = channelSecret

	next := *c
	next.ChannelAccessToken = channelAccessToken
	next.ChannelSecret = channelSecret
	next.values = values
	return &next
}

// Summary returns the effective configuration as KEY=VALUE pairs in a fixed
// order, with secret-looking keys masked. Safe to log.
func (c *Config) Summary() []string {
	summary := make([]string, 0, len(recognizedKeys))
	for _, key := range recognizedKeys {
		value := c.values[key]
		if value == "" {
			value = "(unset)"
		} else if IsSecretKey(key) {
			value = "********"
		}
		summary = append(summary, fmt.Sprintf("%s=%s", key, value))
	}
	return summary
}

// IsSecretKey reports whether a key name looks like it holds a credential.
func IsSecretKey(key string) bool {
	return secretKeyPattern.MatchString(key)
}

// dedupeFirstWins drops all but the first occurrence of each key so that the
// env-file contract (first occurrence wins) holds even though godotenv keeps
// the last one.
func dedupeFirstWins(content string) string {
	seen := map[string]bool{}
	var kept []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			kept = append(kept, line)
			continue
		}
		key := trimmed
		if i := strings.Index(trimmed, "="); i >= 0 {
			key = strings.TrimSpace(trimmed[:i])
		}
		key = strings.TrimSpace(strings.TrimPrefix(key, "export"))
		if seen[key] {
			continue
		}
		seen[key] = true
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

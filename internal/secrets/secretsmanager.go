package secrets

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretValueAPI is the subset of the Secrets Manager API the source uses.
type SecretValueAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

var _ SecretValueAPI = (*secretsmanager.Client)(nil)

// SecretsManagerSource reads both channel credentials from a single JSON
// secret named linebot/{stack}/secrets.
type SecretsManagerSource struct {
	client    SecretValueAPI
	stackName string
}

func NewSecretsManagerSource(client SecretValueAPI, stackName string) *SecretsManagerSource {
	return &SecretsManagerSource{client: client, stackName: stackName}
}

func (s *SecretsManagerSource) Fetch(ctx context.Context) (*Pair, error) {
	secretName := fmt.Sprintf("linebot/%s/secrets", s.stackName)

	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretName),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s: %w", secretName, err)
	}
	if result.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", secretName)
	}

	var payload struct {
		ChannelAccessToken string `json:"channel_access_token"`
		ChannelSecret      string `json:"channel_secret"`
	}
	if err := json.Unmarshal([]byte(*result.SecretString), &payload); err != nil {
		return nil, fmt.Errorf("failed to parse secret %s: %w", secretName, err)
	}

	return &Pair{
		ChannelAccessToken: payload.ChannelAccessToken,
		ChannelSecret:      payload.ChannelSecret,
	}, nil
}

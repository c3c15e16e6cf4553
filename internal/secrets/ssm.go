package secrets

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ParameterAPI is the subset of the SSM API the source uses.
type ParameterAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

var _ ParameterAPI = (*ssm.Client)(nil)

// SSMSource reads the channel credentials from Parameter Store under
// /linebot/{stack}/channel-access-token and /linebot/{stack}/channel-secret.
type SSMSource struct {
	client    ParameterAPI
	stackName string

	mu    sync.RWMutex
	cache map[string]string
}

func NewSSMSource(client ParameterAPI, stackName string) *SSMSource {
	return &SSMSource{
		client:    client,
		stackName: stackName,
		cache:     make(map[string]string),
	}
}

func (s *SSMSource) Fetch(ctx context.Context) (*Pair, error) {
	accessToken, err := s.getParameter(ctx, fmt.Sprintf("/linebot/%s/channel-access-token", s.stackName))
	if err != nil {
		return nil, err
	}

	secret, err := s.getParameter(ctx, fmt.Sprintf("/linebot/%s/channel-secret", s.stackName))
	if err != nil {
		return nil, err
	}

	return &Pair{ChannelAccessToken: accessToken, ChannelSecret: secret}, nil
}

func (s *SSMSource) getParameter(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	if value, ok := s.cache[name]; ok {
		s.mu.RUnlock()
		return value, nil
	}
	s.mu.RUnlock()

	result, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get parameter %s: %w", name, err)
	}
	if result.Parameter == nil || result.Parameter.Value == nil {
		return "", fmt.Errorf("parameter %s not found", name)
	}

	value := *result.Parameter.Value

	s.mu.Lock()
	s.cache[name] = value
	s.mu.Unlock()

	return value, nil
}

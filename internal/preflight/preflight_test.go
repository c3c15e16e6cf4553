package preflight

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okabe/linebot-deployer/internal/config"
	"github.com/okabe/linebot-deployer/internal/errors"
)

type fakeSTS struct {
	err   error
	calls int
}

func (f *fakeSTS) GetCallerIdentity(context.Context, *sts.GetCallerIdentityInput, ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &sts.GetCallerIdentityOutput{
		Account: aws.String("123456789012"),
	}, nil
}

func validConfig() *config.Config {
	cfg, _ := config.Load("testdata/does-not-exist.env")
	return cfg.WithSecrets("token", "secret")
}

func TestCheck_Passes(t *testing.T) {
	sts := &fakeSTS{}
	checker := New(sts)
	checker.lookPath = func(string) (string, error) { return "/usr/bin/pip3", nil }

	err := checker.Check(context.Background(), validConfig())
	require.NoError(t, err)
	assert.Equal(t, 1, sts.calls)
}

func TestCheck_MissingToolFailsBeforeAnyProviderCall(t *testing.T) {
	sts := &fakeSTS{}
	checker := New(sts)
	checker.lookPath = func(file string) (string, error) {
		return "", fmt.Errorf("%s not found", file)
	}

	err := checker.Check(context.Background(), validConfig())
	require.ErrorIs(t, err, errors.ErrMissingTool)
	assert.Contains(t, err.Error(), "pip3")
	assert.Equal(t, 0, sts.calls, "no provider call expected after a failed tool check")
}

func TestCheck_MissingRequiredValueFailsBeforeAnyProviderCall(t *testing.T) {
	tests := []struct {
		name        string
		accessToken string
		secret      string
		wantKey     string
	}{
		{"both missing names the token first", "", "", config.KeyChannelAccessToken},
		{"missing secret", "token", "", config.KeyChannelSecret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sts := &fakeSTS{}
			checker := New(sts)
			checker.lookPath = func(string) (string, error) { return "/usr/bin/pip3", nil }

			cfg := validConfig().WithSecrets(tt.accessToken, tt.secret)
			err := checker.Check(context.Background(), cfg)
			require.ErrorIs(t, err, errors.ErrMissingValue)
			assert.Contains(t, err.Error(), tt.wantKey)
			assert.Equal(t, 0, sts.calls)
		})
	}
}

func TestCheck_BadCredentials(t *testing.T) {
	sts := &fakeSTS{err: fmt.Errorf("ExpiredToken: security token expired")}
	checker := New(sts)
	checker.lookPath = func(string) (string, error) { return "/usr/bin/pip3", nil }

	err := checker.Check(context.Background(), validConfig())
	require.ErrorIs(t, err, errors.ErrCredentials)
	assert.Contains(t, err.Error(), "ExpiredToken")
}

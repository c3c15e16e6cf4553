// Package preflight verifies the environment before any mutating AWS call so
// a misconfigured run cannot leave partial infrastructure behind.
package preflight

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/rs/zerolog"

	"github.com/okabe/linebot-deployer/internal/config"
	"github.com/okabe/linebot-deployer/internal/errors"
)

// CallerIdentityAPI is the subset of the STS API used to validate credentials.
type CallerIdentityAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

var _ CallerIdentityAPI = (*sts.Client)(nil)

// requiredTools are external commands the packager shells out to.
var requiredTools = []string{"pip3"}

type Checker struct {
	stsClient CallerIdentityAPI
	lookPath  func(file string) (string, error)
}

func New(stsClient CallerIdentityAPI) *Checker {
	return &Checker{
		stsClient: stsClient,
		lookPath:  exec.LookPath,
	}
}

// Check fails fast on the first missing capability or required value.
func (c *Checker) Check(ctx context.Context, cfg *config.Config) error {
	logger := zerolog.Ctx(ctx)

	for _, tool := range requiredTools {
		if _, err := c.lookPath(tool); err != nil {
			return fmt.Errorf("%w: %s", errors.ErrMissingTool, tool)
		}
	}

	required := []struct {
		key   string
		value string
	}{
		{config.KeyChannelAccessToken, cfg.ChannelAccessToken},
		{config.KeyChannelSecret, cfg.ChannelSecret},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%w: %s", errors.ErrMissingValue, r.key)
		}
	}

	identity, err := c.stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrCredentials, err)
	}

	logger.Info().
		Str("account", aws.ToString(identity.Account)).
		Str("region", cfg.Region).
		Msg("Preflight checks passed")
	return nil
}

package di

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/okabe/linebot-deployer/internal/config"
	"github.com/okabe/linebot-deployer/internal/policy"
	"github.com/okabe/linebot-deployer/internal/preflight"
	"github.com/okabe/linebot-deployer/internal/rollout"
	"github.com/okabe/linebot-deployer/internal/stack"
)

func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	loadOptions := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.Profile != "" {
		loadOptions = append(loadOptions, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awsCfg, nil
}

func ProvideCloudFormation(config aws.Config) *cloudformation.Client {
	return cloudformation.NewFromConfig(config)
}

func ProvideLambda(config aws.Config) *lambda.Client {
	return lambda.NewFromConfig(config)
}

func ProvideSTS(config aws.Config) *sts.Client {
	return sts.NewFromConfig(config)
}

func ProvideIAM(config aws.Config) *iam.Client {
	return iam.NewFromConfig(config)
}

func ProvideS3(config aws.Config) *s3.Client {
	return s3.NewFromConfig(config)
}

func ProvideSSM(config aws.Config) *ssm.Client {
	return ssm.NewFromConfig(config)
}

func ProvideSecretsManager(config aws.Config) *secretsmanager.Client {
	return secretsmanager.NewFromConfig(config)
}

func ProvideReconciler(client *cloudformation.Client) *stack.Reconciler {
	return stack.NewReconciler(client)
}

func ProvideRolloutController(client *lambda.Client) *rollout.Controller {
	return rollout.NewController(client)
}

func ProvidePreflightChecker(client *sts.Client) *preflight.Checker {
	return preflight.New(client)
}

func ProvideTemplateValidator() (*policy.Validator, error) {
	return policy.NewValidator()
}

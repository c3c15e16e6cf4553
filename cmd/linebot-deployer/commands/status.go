package commands

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/okabe/linebot-deployer/internal/config"
	"github.com/okabe/linebot-deployer/internal/di"
	"github.com/okabe/linebot-deployer/internal/stack"
)

// StatusCommand returns the status command for inspecting the deployment.
func StatusCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show stack, function, and execution role state",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env-file",
				Aliases: []string{"e"},
				Usage:   "Path to the KEY=VALUE configuration file",
				Value:   ".env",
			},
		},
		Action: func(c *cli.Context) error {
			return statusAction(c, logger)
		},
	}
}

func statusAction(c *cli.Context, logger *zerolog.Logger) error {
	ctx := c.Context

	cfg, err := config.Load(c.String("env-file"))
	if err != nil {
		return err
	}

	container, err := di.New(ctx, cfg)
	if err != nil {
		return err
	}

	reconciler, err := di.Get[*stack.Reconciler](container)
	if err != nil {
		return fmt.Errorf("failed to initialize AWS clients: %w", err)
	}
	status, err := reconciler.Describe(ctx, cfg.StackName)
	if err != nil {
		return err
	}

	fmt.Printf("Stack:    %s (%s)\n", cfg.StackName, status.StackStatus)
	if status.StatusReason != "" {
		fmt.Printf("Reason:   %s\n", status.StatusReason)
	}
	if value := status.Outputs[stack.OutputFunctionName]; value != "" {
		fmt.Printf("Function: %s\n", value)
	}
	if value := status.Outputs[stack.OutputWebhookURL]; value != "" {
		fmt.Printf("Webhook:  %s\n", value)
	}

	functionName := status.Outputs[stack.OutputFunctionName]
	if functionName == "" {
		logger.Warn().Msg("Stack does not expose a function name output yet")
		return nil
	}

	lambdaClient := di.MustGet[*lambda.Client](container)
	function, err := lambdaClient.GetFunctionConfiguration(ctx, &lambda.GetFunctionConfigurationInput{
		FunctionName: aws.String(functionName),
	})
	if err != nil {
		return fmt.Errorf("failed to describe function %s: %w", functionName, err)
	}

	fmt.Printf("State:    %s (last update %s)\n", function.State, function.LastUpdateStatus)
	for _, layer := range function.Layers {
		fmt.Printf("Layer:    %s\n", aws.ToString(layer.Arn))
	}

	// The stack provisions the execution role; confirm it still resolves.
	roleArn := aws.ToString(function.Role)
	if roleName := roleNameFromArn(roleArn); roleName != "" {
		iamClient := di.MustGet[*iam.Client](container)
		role, err := iamClient.GetRole(ctx, &iam.GetRoleInput{
			RoleName: aws.String(roleName),
		})
		if err != nil {
			return fmt.Errorf("failed to resolve execution role %s: %w", roleName, err)
		}
		fmt.Printf("Role:     %s\n", aws.ToString(role.Role.Arn))
	}

	return nil
}

func roleNameFromArn(arn string) string {
	if i := strings.LastIndex(arn, "/"); i >= 0 {
		return arn[i+1:]
	}
	return ""
}

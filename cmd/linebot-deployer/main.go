package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/okabe/linebot-deployer/cmd/linebot-deployer/commands"
	"github.com/okabe/linebot-deployer/internal/di"
)

func main() {
	logger := di.ProvideLogger()
	ctx := logger.WithContext(context.Background())

	app := &cli.App{
		Name:  "linebot-deployer",
		Usage: "Deploy the LINE translation bot stack to AWS",
		Description: `Provisions the CloudFormation stack (API Gateway, Lambda function, IAM role),
packages and uploads the bot code, and waits until the deployment is active.

Commands:
  - deploy:   reconcile the stack and roll out the function code
  - status:   show stack, function, and execution role state
  - teardown: delete the stack`,
		Commands: []*cli.Command{
			commands.DeployCommand(&logger),
			commands.StatusCommand(&logger),
			commands.TeardownCommand(&logger),
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		logger.Error().Err(err).Msg("Application error")
		os.Exit(1)
	}
}

package commands

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/okabe/linebot-deployer/internal/config"
	"github.com/okabe/linebot-deployer/internal/di"
	"github.com/okabe/linebot-deployer/internal/stack"
)

// TeardownCommand returns the teardown command for deleting the stack.
func TeardownCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "teardown",
		Usage: "Delete the stack and wait for deletion to complete",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env-file",
				Aliases: []string{"e"},
				Usage:   "Path to the KEY=VALUE configuration file",
				Value:   ".env",
			},
			&cli.BoolFlag{
				Name:    "force",
				Aliases: []string{"f"},
				Usage:   "Skip confirmation prompt",
			},
		},
		Action: func(c *cli.Context) error {
			return teardownAction(c, logger)
		},
	}
}

func teardownAction(c *cli.Context, logger *zerolog.Logger) error {
	ctx := c.Context

	cfg, err := config.Load(c.String("env-file"))
	if err != nil {
		return err
	}

	if !c.Bool("force") {
		fmt.Printf("About to delete stack %s and everything it provisioned.\n", cfg.StackName)
		fmt.Print("Are you sure? (yes/no): ")
		var response string
		fmt.Scanln(&response)
		response = strings.ToLower(strings.TrimSpace(response))
		if response != "yes" && response != "y" {
			fmt.Println("Teardown cancelled")
			return nil
		}
	}

	container, err := di.New(ctx, cfg)
	if err != nil {
		return err
	}

	reconciler, err := di.Get[*stack.Reconciler](container)
	if err != nil {
		return fmt.Errorf("failed to initialize AWS clients: %w", err)
	}
	if err := reconciler.Delete(ctx, cfg.StackName); err != nil {
		return err
	}

	logger.Info().Str("stack_name", cfg.StackName).Msg("Stack deleted")
	fmt.Printf("✓ Deleted stack %s\n", cfg.StackName)
	return nil
}

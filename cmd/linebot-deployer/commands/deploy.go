package commands

import (
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/okabe/linebot-deployer/internal/artifacts"
	"github.com/okabe/linebot-deployer/internal/config"
	"github.com/okabe/linebot-deployer/internal/di"
	"github.com/okabe/linebot-deployer/internal/packaging"
	"github.com/okabe/linebot-deployer/internal/policy"
	"github.com/okabe/linebot-deployer/internal/preflight"
	"github.com/okabe/linebot-deployer/internal/report"
	"github.com/okabe/linebot-deployer/internal/rollout"
	"github.com/okabe/linebot-deployer/internal/secrets"
	"github.com/okabe/linebot-deployer/internal/stack"
)

// DeployCommand returns the deploy command, the main operation of the tool.
func DeployCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "deploy",
		Usage: "Reconcile the stack and roll out the function code",
		Description: `Runs the full deployment sequence:

  1. Load configuration from the env file and process environment
  2. Preflight checks (required tools, credentials, required values)
  3. Validate the template against the parameter/output contract
  4. Create or update the CloudFormation stack and wait for completion
  5. Package the function bundle (and the dependency layer with -u)
  6. Push code, publish/attach the layer, poll the function until active
  7. Print the webhook endpoint and remove local build artifacts

When the stack is unchanged and neither -u nor -f is given, steps 5-6 are
skipped and the current deployment is reported as-is.

Examples:
  # Deploy code changes
  linebot-deployer deploy

  # Dependencies changed: rebuild and attach a new layer version
  linebot-deployer deploy --update-layer

  # Stage bundles through S3 instead of inline upload
  linebot-deployer deploy --s3-bucket my-artifacts`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env-file",
				Aliases: []string{"e"},
				Usage:   "Path to the KEY=VALUE configuration file",
				Value:   ".env",
			},
			&cli.StringFlag{
				Name:    "template",
				Usage:   "Path to the CloudFormation template",
				EnvVars: []string{"TEMPLATE_PATH"},
				Value:   "template.yml",
			},
			&cli.StringSliceFlag{
				Name:  "source",
				Usage: "First-party source file(s) to package (can be repeated)",
				Value: cli.NewStringSlice("lambda_function.py"),
			},
			&cli.StringFlag{
				Name:  "requirements",
				Usage: "Path to the dependency manifest for the layer",
				Value: "requirements.txt",
			},
			&cli.StringFlag{
				Name:  "build-dir",
				Usage: "Local build directory (removed after every run)",
				Value: "build",
			},
			&cli.BoolFlag{
				Name:    "update-layer",
				Aliases: []string{"u"},
				Usage:   "Rebuild the dependency layer and attach a new version",
			},
			&cli.BoolFlag{
				Name:    "force",
				Aliases: []string{"f"},
				Usage:   "Run the rollout even when the stack reports no changes",
			},
			&cli.StringFlag{
				Name:    "s3-bucket",
				Usage:   "Stage bundles in this S3 bucket instead of uploading inline",
				EnvVars: []string{"ARTIFACT_BUCKET"},
			},
			&cli.StringFlag{
				Name:    "secrets-from",
				Usage:   "Where to read the channel credentials: env, ssm, or secretsmanager",
				EnvVars: []string{"SECRETS_SOURCE"},
				Value:   "env",
			},
		},
		Action: func(c *cli.Context) error {
			return deployAction(c, logger)
		},
	}
}

func deployAction(c *cli.Context, logger *zerolog.Logger) error {
	ctx := c.Context

	cfg, err := config.Load(c.String("env-file"))
	if err != nil {
		return err
	}
	if !cfg.FileLoaded {
		logger.Warn().
			Str("path", c.String("env-file")).
			Msg("Env file not found, relying on the process environment")
	}
	logger.Info().Strs("config", cfg.Summary()).Msg("Configuration loaded")

	sourceName, err := secrets.ParseSourceName(c.String("secrets-from"))
	if err != nil {
		return err
	}
	cfg, err = resolveSecrets(c, cfg, sourceName)
	if err != nil {
		return err
	}

	container, err := di.New(ctx, cfg)
	if err != nil {
		return err
	}

	// The first resolution constructs the AWS config; a bad profile or region
	// must surface as an error, not a panic.
	checker, err := di.Get[*preflight.Checker](container)
	if err != nil {
		return fmt.Errorf("failed to initialize AWS clients: %w", err)
	}
	if err := checker.Check(ctx, cfg); err != nil {
		return err
	}

	templateBody, err := os.ReadFile(c.String("template"))
	if err != nil {
		return fmt.Errorf("failed to read template %s: %w", c.String("template"), err)
	}
	validator := di.MustGet[*policy.Validator](container)
	if err := validator.Require(ctx, templateBody); err != nil {
		return err
	}

	reconciler := di.MustGet[*stack.Reconciler](container)
	outcome, err := reconciler.Apply(ctx, cfg.StackName, string(templateBody), stack.Parameters(cfg))
	if err != nil {
		return err
	}
	logger.Info().
		Str("stack_name", cfg.StackName).
		Str("outcome", outcome.String()).
		Msg("Stack reconciled")

	// The stack must expose a discoverable function identifier even when the
	// rollout is skipped; the report needs it.
	outputs, err := reconciler.ResolveOutputs(ctx, cfg.StackName)
	if err != nil {
		return err
	}

	updateLayer := c.Bool("update-layer")
	summary := report.Summary{
		StackName:    cfg.StackName,
		Outcome:      outcome,
		FunctionName: outputs.FunctionName,
		WebhookURL:   outputs.WebhookURL,
	}

	if !outcome.Changed() && !updateLayer && !c.Bool("force") {
		logger.Info().Msg("Stack unchanged, skipping rollout")
		summary.Write(os.Stdout)
		return nil
	}

	workspace, err := packaging.NewWorkspace(c.String("build-dir"))
	if err != nil {
		return err
	}
	defer func() {
		if err := workspace.Cleanup(); err != nil {
			logger.Warn().Err(err).Msg("Failed to remove build artifacts")
		}
	}()

	packager := packaging.NewPackager(workspace)
	functionBundle, err := packager.BuildFunction(ctx, c.StringSlice("source")...)
	if err != nil {
		return err
	}

	var layerBundle *packaging.Bundle
	if updateLayer {
		layerBundle, err = packager.BuildLayer(ctx, c.String("requirements"))
		if err != nil {
			return err
		}
	}

	input := rollout.Input{
		FunctionName: outputs.FunctionName,
		LayerName:    rollout.LayerName(cfg.StackName),
		OnProgress: func(state rollout.State) {
			logger.Info().Str("state", state.String()).Msg("Rollout progress")
		},
	}
	if bucket := c.String("s3-bucket"); bucket != "" {
		uploader := artifacts.NewUploader(di.MustGet[*s3.Client](container), bucket)

		location, err := uploader.Upload(ctx, cfg.StackName, functionBundle)
		if err != nil {
			return err
		}
		input.FunctionCode = rollout.CodeSource{S3: location}

		if layerBundle != nil {
			location, err := uploader.Upload(ctx, cfg.StackName, layerBundle)
			if err != nil {
				return err
			}
			input.LayerBundle = &rollout.CodeSource{S3: location}
		}
	} else {
		input.FunctionCode = rollout.CodeSource{ZipPath: functionBundle.Path}
		if layerBundle != nil {
			input.LayerBundle = &rollout.CodeSource{ZipPath: layerBundle.Path}
		}
	}

	controller := di.MustGet[*rollout.Controller](container)
	result, err := controller.Run(ctx, input)
	if err != nil {
		return err
	}

	summary.FunctionUpdated = true
	summary.Unconfirmed = result.Unconfirmed
	summary.LayerVersionArn = result.LayerVersionArn
	summary.Write(os.Stdout)
	return nil
}

// resolveSecrets swaps in credentials from SSM or Secrets Manager when the
// operator asked for them; the env source keeps the merged config as-is.
func resolveSecrets(c *cli.Context, cfg *config.Config, sourceName secrets.SourceName) (*config.Config, error) {
	if sourceName == secrets.SourceEnv {
		return cfg, nil
	}

	ctx := c.Context
	bootstrap, err := di.New(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var source secrets.Source
	switch sourceName {
	case secrets.SourceSSM:
		client, err := di.Get[*ssm.Client](bootstrap)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize AWS clients: %w", err)
		}
		source = secrets.NewSSMSource(client, cfg.StackName)
	case secrets.SourceSecretsManager:
		client, err := di.Get[*secretsmanager.Client](bootstrap)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize AWS clients: %w", err)
		}
		source = secrets.NewSecretsManagerSource(client, cfg.StackName)
	}

	pair, err := source.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return cfg.WithSecrets(pair.ChannelAccessToken, pair.ChannelSecret), nil
}

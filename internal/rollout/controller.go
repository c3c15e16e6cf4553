// Package rollout pushes the function-code bundle to the deployed Lambda,
// optionally publishes and attaches a new dependency-layer version, and polls
// the function until it reports active.
package rollout

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/rs/zerolog"

	"github.com/okabe/linebot-deployer/internal/artifacts"
	"github.com/okabe/linebot-deployer/internal/errors"
)

// State tracks the per-run rollout progression.
type State int

const (
	StateNotStarted State = iota
	StateCodePushed
	StateLayerPublished
	StateConfigAttached
	StateActive
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCodePushed:
		return "code-pushed"
	case StateLayerPublished:
		return "layer-published"
	case StateConfigAttached:
		return "config-attached"
	case StateActive:
		return "active"
	case StateFailed:
		return "failed"
	default:
		return "not-started"
	}
}

// WaitStatus is the typed result of a bounded poll.
type WaitStatus int

const (
	WaitActive WaitStatus = iota
	WaitTimedOut
	WaitFailed
)

type WaitResult struct {
	Status WaitStatus
	Reason string
}

const (
	defaultPollAttempts = 30
	defaultPollDelay    = 2 * time.Second
)

// API is the subset of the Lambda API the controller uses.
type API interface {
	UpdateFunctionCode(ctx context.Context, params *lambda.UpdateFunctionCodeInput, optFns ...func(*lambda.Options)) (*lambda.UpdateFunctionCodeOutput, error)
	UpdateFunctionConfiguration(ctx context.Context, params *lambda.UpdateFunctionConfigurationInput, optFns ...func(*lambda.Options)) (*lambda.UpdateFunctionConfigurationOutput, error)
	GetFunctionConfiguration(ctx context.Context, params *lambda.GetFunctionConfigurationInput, optFns ...func(*lambda.Options)) (*lambda.GetFunctionConfigurationOutput, error)
	PublishLayerVersion(ctx context.Context, params *lambda.PublishLayerVersionInput, optFns ...func(*lambda.Options)) (*lambda.PublishLayerVersionOutput, error)
}

var _ API = (*lambda.Client)(nil)

// CodeSource points at a bundle either on local disk or staged in S3.
type CodeSource struct {
	ZipPath string
	S3      *artifacts.Location
}

// Input describes one rollout run. LayerBundle nil means no layer refresh.
type Input struct {
	FunctionName string
	LayerName    string
	FunctionCode CodeSource
	LayerBundle  *CodeSource

	// OnProgress receives each state transition; progress reporting stays out
	// of the poll loop.
	OnProgress func(State)
}

// Result is the terminal outcome of a successful run. Unconfirmed is set when
// a bounded poll exhausted its attempts without the function reporting
// active; the run still counts as a success.
type Result struct {
	State           State
	LayerVersionArn string
	Unconfirmed     bool
}

type Controller struct {
	api      API
	attempts int
	delay    time.Duration
	sleep    func(time.Duration)
}

func NewController(client *lambda.Client) *Controller {
	return &Controller{
		api:      client,
		attempts: defaultPollAttempts,
		delay:    defaultPollDelay,
		sleep:    time.Sleep,
	}
}

// Run executes the rollout state machine. Any hard provider error terminates
// the run; polling exhaustion only degrades the result.
func (c *Controller) Run(ctx context.Context, input Input) (result *Result, err error) {
	logger := zerolog.Ctx(ctx)

	defer func(begin time.Time) {
		logger.Info().
			Interface("error", err).
			Str("function", input.FunctionName).
			Dur("duration", time.Since(begin)).
			Msg("Rollout completed")
	}(time.Now())

	result = &Result{State: StateNotStarted}
	progress := input.OnProgress
	if progress == nil {
		progress = func(State) {}
	}

	if err := c.pushCode(ctx, input); err != nil {
		result.State = StateFailed
		return nil, err
	}
	result.State = StateCodePushed
	progress(StateCodePushed)

	if degraded, err := c.confirmActive(ctx, input.FunctionName, result); err != nil {
		return nil, err
	} else if degraded {
		logger.Warn().
			Str("function", input.FunctionName).
			Msg("Function did not report active before the poll ceiling; continuing unconfirmed")
	}

	if input.LayerBundle != nil {
		arn, err := c.publishLayer(ctx, input)
		if err != nil {
			result.State = StateFailed
			return nil, err
		}
		result.State = StateLayerPublished
		result.LayerVersionArn = arn
		progress(StateLayerPublished)

		if err := c.attachLayer(ctx, input.FunctionName, arn); err != nil {
			result.State = StateFailed
			return nil, err
		}
		result.State = StateConfigAttached
		progress(StateConfigAttached)

		if degraded, err := c.confirmActive(ctx, input.FunctionName, result); err != nil {
			return nil, err
		} else if degraded {
			logger.Warn().
				Str("function", input.FunctionName).
				Msg("Layer attachment did not confirm before the poll ceiling; continuing unconfirmed")
		}
	}

	result.State = StateActive
	progress(StateActive)
	return result, nil
}

func (c *Controller) pushCode(ctx context.Context, input Input) error {
	codeInput := &lambda.UpdateFunctionCodeInput{
		FunctionName: aws.String(input.FunctionName),
	}
	if input.FunctionCode.S3 != nil {
		codeInput.S3Bucket = aws.String(input.FunctionCode.S3.Bucket)
		codeInput.S3Key = aws.String(input.FunctionCode.S3.Key)
	} else {
		content, err := os.ReadFile(input.FunctionCode.ZipPath)
		if err != nil {
			return fmt.Errorf("failed to read function bundle %s: %w", input.FunctionCode.ZipPath, err)
		}
		codeInput.ZipFile = content
	}

	if _, err := c.api.UpdateFunctionCode(ctx, codeInput); err != nil {
		return fmt.Errorf("failed to update function code: %w", err)
	}
	return nil
}

func (c *Controller) publishLayer(ctx context.Context, input Input) (string, error) {
	content := &types.LayerVersionContentInput{}
	if input.LayerBundle.S3 != nil {
		content.S3Bucket = aws.String(input.LayerBundle.S3.Bucket)
		content.S3Key = aws.String(input.LayerBundle.S3.Key)
	} else {
		zipContent, err := os.ReadFile(input.LayerBundle.ZipPath)
		if err != nil {
			return "", fmt.Errorf("failed to read layer bundle %s: %w", input.LayerBundle.ZipPath, err)
		}
		content.ZipFile = zipContent
	}

	// Every publish is additive; existing layer versions are never replaced.
	output, err := c.api.PublishLayerVersion(ctx, &lambda.PublishLayerVersionInput{
		LayerName:   aws.String(input.LayerName),
		Content:     content,
		Description: aws.String(fmt.Sprintf("dependencies for %s", input.FunctionName)),
		CompatibleRuntimes: []types.Runtime{
			types.RuntimePython312,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to publish layer version: %w", err)
	}
	return aws.ToString(output.LayerVersionArn), nil
}

func (c *Controller) attachLayer(ctx context.Context, functionName, layerVersionArn string) error {
	_, err := c.api.UpdateFunctionConfiguration(ctx, &lambda.UpdateFunctionConfigurationInput{
		FunctionName: aws.String(functionName),
		Layers:       []string{layerVersionArn},
	})
	if err != nil {
		return fmt.Errorf("failed to attach layer version: %w", err)
	}
	return nil
}

// confirmActive runs one bounded poll and folds the typed result into the run
// outcome: failure is fatal, exhaustion marks the result unconfirmed.
func (c *Controller) confirmActive(ctx context.Context, functionName string, result *Result) (degraded bool, err error) {
	wait := c.waitActive(ctx, functionName)
	switch wait.Status {
	case WaitFailed:
		result.State = StateFailed
		return false, fmt.Errorf("%w: %s", errors.ErrRolloutFailed, wait.Reason)
	case WaitTimedOut:
		result.Unconfirmed = true
		return true, nil
	default:
		return false, nil
	}
}

// waitActive polls function state with a fixed attempt ceiling and fixed
// inter-attempt delay, so the maximum wall-clock wait is deterministic.
func (c *Controller) waitActive(ctx context.Context, functionName string) WaitResult {
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			c.sleep(c.delay)
		}

		output, err := c.api.GetFunctionConfiguration(ctx, &lambda.GetFunctionConfigurationInput{
			FunctionName: aws.String(functionName),
		})
		if err != nil {
			return WaitResult{Status: WaitFailed, Reason: err.Error()}
		}

		if output.State == types.StateFailed {
			return WaitResult{Status: WaitFailed, Reason: aws.ToString(output.StateReason)}
		}
		if output.LastUpdateStatus == types.LastUpdateStatusFailed {
			return WaitResult{Status: WaitFailed, Reason: aws.ToString(output.LastUpdateStatusReason)}
		}
		if output.LastUpdateStatus == types.LastUpdateStatusInProgress || output.State == types.StatePending {
			continue
		}
		return WaitResult{Status: WaitActive}
	}
	return WaitResult{Status: WaitTimedOut}
}

// LayerName derives the deterministic layer name for a stack.
func LayerName(stackName string) string {
	return fmt.Sprintf("%s-dependencies", stackName)
}

// Package stack reconciles the CloudFormation stack to the desired template
// and parameters, and resolves the contract outputs used by the rollout.
package stack

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"

	"github.com/okabe/linebot-deployer/internal/config"
	"github.com/okabe/linebot-deployer/internal/errors"
)

// Template parameter and output names fixed by the stack contract.
const (
	ParamChannelAccessToken = "LineChannelAccessToken"
	ParamChannelSecret      = "LineChannelSecret"
	ParamBedrockRegion      = "BedrockRegion"
	ParamBedrockModelID     = "BedrockModelId"

	OutputFunctionName = "TranslateFunctionName"
	OutputWebhookURL   = "WebhookUrl"
)

const stackWaitTimeout = 30 * time.Minute

// Outcome is the tri-state result of a reconciliation run.
type Outcome int

const (
	OutcomeUnchanged Outcome = iota
	OutcomeCreated
	OutcomeUpdated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	default:
		return "unchanged"
	}
}

// Changed reports whether the run applied any stack change.
func (o Outcome) Changed() bool {
	return o != OutcomeUnchanged
}

// Outputs holds the two declared stack outputs the rollout depends on.
type Outputs struct {
	FunctionName string
	WebhookURL   string
}

// API is the subset of the CloudFormation API the reconciler uses.
type API interface {
	DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
	CreateStack(ctx context.Context, params *cloudformation.CreateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error)
	UpdateStack(ctx context.Context, params *cloudformation.UpdateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error)
	DeleteStack(ctx context.Context, params *cloudformation.DeleteStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error)
}

var _ API = (*cloudformation.Client)(nil)

type Reconciler struct {
	api        API
	waitCreate func(ctx context.Context, stackName string) error
	waitUpdate func(ctx context.Context, stackName string) error
	waitDelete func(ctx context.Context, stackName string) error
}

// NewReconciler wires a reconciler to the real CloudFormation client and its
// native completion waiters.
func NewReconciler(client *cloudformation.Client) *Reconciler {
	createWaiter := cloudformation.NewStackCreateCompleteWaiter(client)
	updateWaiter := cloudformation.NewStackUpdateCompleteWaiter(client)
	deleteWaiter := cloudformation.NewStackDeleteCompleteWaiter(client)

	return &Reconciler{
		api: client,
		waitCreate: func(ctx context.Context, stackName string) error {
			return createWaiter.Wait(ctx, &cloudformation.DescribeStacksInput{
				StackName: aws.String(stackName),
			}, stackWaitTimeout)
		},
		waitUpdate: func(ctx context.Context, stackName string) error {
			return updateWaiter.Wait(ctx, &cloudformation.DescribeStacksInput{
				StackName: aws.String(stackName),
			}, stackWaitTimeout)
		},
		waitDelete: func(ctx context.Context, stackName string) error {
			return deleteWaiter.Wait(ctx, &cloudformation.DescribeStacksInput{
				StackName: aws.String(stackName),
			}, stackWaitTimeout)
		},
	}
}

// Parameters maps the configuration onto the template's parameter contract.
func Parameters(cfg *config.Config) []types.Parameter {
	return []types.Parameter{
		{ParameterKey: aws.String(ParamChannelAccessToken), ParameterValue: aws.String(cfg.ChannelAccessToken)},
		{ParameterKey: aws.String(ParamChannelSecret), ParameterValue: aws.String(cfg.ChannelSecret)},
		{ParameterKey: aws.String(ParamBedrockRegion), ParameterValue: aws.String(cfg.BedrockRegion)},
		{ParameterKey: aws.String(ParamBedrockModelID), ParameterValue: aws.String(cfg.BedrockModelID)},
	}
}

// Apply creates the stack if absent or updates it in place, blocking until
// the provider reports a terminal state. The returned Outcome is the single
// signal that decides whether the rollout runs.
func (r *Reconciler) Apply(ctx context.Context, stackName, templateBody string, parameters []types.Parameter) (Outcome, error) {
	logger := zerolog.Ctx(ctx)

	exists, err := r.stackExists(ctx, stackName)
	if err != nil {
		return OutcomeUnchanged, fmt.Errorf("failed to check if stack exists: %w", err)
	}

	if !exists {
		logger.Info().Str("stack_name", stackName).Msg("Stack not found, creating")
		if err := r.createStack(ctx, stackName, templateBody, parameters); err != nil {
			return OutcomeUnchanged, err
		}
		return OutcomeCreated, nil
	}

	logger.Info().Str("stack_name", stackName).Msg("Stack exists, updating")
	return r.updateStack(ctx, stackName, templateBody, parameters)
}

func (r *Reconciler) stackExists(ctx context.Context, stackName string) (bool, error) {
	_, err := r.api.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(stackName),
	})
	if err != nil {
		var apiErr smithy.APIError
		if stderrors.As(err, &apiErr) {
			if apiErr.ErrorCode() == "ValidationError" || strings.Contains(apiErr.ErrorMessage(), "does not exist") {
				return false, nil
			}
		}
		return false, err
	}
	return true, nil
}

func (r *Reconciler) createStack(ctx context.Context, stackName, templateBody string, parameters []types.Parameter) error {
	_, err := r.api.CreateStack(ctx, &cloudformation.CreateStackInput{
		StackName:    aws.String(stackName),
		TemplateBody: aws.String(templateBody),
		Parameters:   parameters,
		Capabilities: []types.Capability{
			types.CapabilityCapabilityIam,
			types.CapabilityCapabilityNamedIam,
		},
		Tags: []types.Tag{
			{
				Key:   aws.String("ManagedBy"),
				Value: aws.String("linebot-deployer"),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create stack: %w", err)
	}

	if err := r.waitCreate(ctx, stackName); err != nil {
		return fmt.Errorf("stack creation did not complete: %w", err)
	}
	return nil
}

func (r *Reconciler) updateStack(ctx context.Context, stackName, templateBody string, parameters []types.Parameter) (Outcome, error) {
	logger := zerolog.Ctx(ctx)

	_, err := r.api.UpdateStack(ctx, &cloudformation.UpdateStackInput{
		StackName:    aws.String(stackName),
		TemplateBody: aws.String(templateBody),
		Parameters:   parameters,
		Capabilities: []types.Capability{
			types.CapabilityCapabilityIam,
			types.CapabilityCapabilityNamedIam,
		},
	})
	if err != nil {
		if isNoUpdateError(err) {
			logger.Info().Str("stack_name", stackName).Msg("No updates needed for stack")
			return OutcomeUnchanged, nil
		}
		// The provider message is surfaced verbatim; there is no retry.
		return OutcomeUnchanged, fmt.Errorf("failed to update stack: %w", err)
	}

	if err := r.waitUpdate(ctx, stackName); err != nil {
		return OutcomeUnchanged, fmt.Errorf("stack update did not complete: %w", err)
	}
	return OutcomeUpdated, nil
}

func isNoUpdateError(err error) bool {
	var apiErr smithy.APIError
	if !stderrors.As(err, &apiErr) {
		return false
	}
	return apiErr.ErrorCode() == "ValidationError" &&
		(strings.Contains(apiErr.ErrorMessage(), "No updates are to be performed") ||
			strings.Contains(apiErr.ErrorMessage(), "No updates to be performed"))
}

// Status is a read-only view of the deployed stack for display.
type Status struct {
	StackStatus  string
	StatusReason string
	Outputs      map[string]string
}

// Describe returns the stack status and raw outputs without enforcing the
// output contract; missing outputs are a display concern here, not an error.
func (r *Reconciler) Describe(ctx context.Context, stackName string) (*Status, error) {
	result, err := r.api.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(stackName),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe stack %s: %w", stackName, err)
	}
	if len(result.Stacks) == 0 {
		return nil, fmt.Errorf("%w: %s", errors.ErrStackNotFound, stackName)
	}

	deployed := result.Stacks[0]
	status := &Status{
		StackStatus:  string(deployed.StackStatus),
		StatusReason: aws.ToString(deployed.StackStatusReason),
		Outputs:      map[string]string{},
	}
	for _, output := range deployed.Outputs {
		status.Outputs[aws.ToString(output.OutputKey)] = aws.ToString(output.OutputValue)
	}
	return status, nil
}

// Delete removes the stack and blocks until deletion completes.
func (r *Reconciler) Delete(ctx context.Context, stackName string) error {
	logger := zerolog.Ctx(ctx)
	logger.Info().Str("stack_name", stackName).Msg("Deleting stack")

	_, err := r.api.DeleteStack(ctx, &cloudformation.DeleteStackInput{
		StackName: aws.String(stackName),
	})
	if err != nil {
		return fmt.Errorf("failed to delete stack: %w", err)
	}

	if err := r.waitDelete(ctx, stackName); err != nil {
		return fmt.Errorf("stack deletion did not complete: %w", err)
	}
	return nil
}

// ResolveOutputs reads the contract outputs back from the deployed stack.
// Both outputs are fixed by the template contract; a missing one is fatal.
func (r *Reconciler) ResolveOutputs(ctx context.Context, stackName string) (*Outputs, error) {
	result, err := r.api.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(stackName),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe stack %s: %w", stackName, err)
	}
	if len(result.Stacks) == 0 {
		return nil, fmt.Errorf("%w: %s", errors.ErrStackNotFound, stackName)
	}

	values := map[string]string{}
	for _, output := range result.Stacks[0].Outputs {
		values[aws.ToString(output.OutputKey)] = aws.ToString(output.OutputValue)
	}

	outputs := &Outputs{
		FunctionName: values[OutputFunctionName],
		WebhookURL:   values[OutputWebhookURL],
	}
	if outputs.FunctionName == "" {
		return nil, fmt.Errorf("%w: %s", errors.ErrOutputNotFound, OutputFunctionName)
	}
	if outputs.WebhookURL == "" {
		return nil, fmt.Errorf("%w: %s", errors.ErrOutputNotFound, OutputWebhookURL)
	}
	return outputs, nil
}

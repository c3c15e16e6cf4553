package rollout

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okabe/linebot-deployer/internal/artifacts"
	"github.com/okabe/linebot-deployer/internal/errors"
)

type fakeLambda struct {
	updateCodeInputs   []*lambda.UpdateFunctionCodeInput
	updateConfigInputs []*lambda.UpdateFunctionConfigurationInput
	publishInputs      []*lambda.PublishLayerVersionInput
	pollCount          int

	// pollStates is consumed one per GetFunctionConfiguration call; the last
	// entry repeats once exhausted.
	pollStates []types.LastUpdateStatus

	updateCodeErr error
	publishErr    error
	pollErr       error
	failureReason string
}

func (f *fakeLambda) UpdateFunctionCode(_ context.Context, params *lambda.UpdateFunctionCodeInput, _ ...func(*lambda.Options)) (*lambda.UpdateFunctionCodeOutput, error) {
	f.updateCodeInputs = append(f.updateCodeInputs, params)
	if f.updateCodeErr != nil {
		return nil, f.updateCodeErr
	}
	return &lambda.UpdateFunctionCodeOutput{}, nil
}

func (f *fakeLambda) UpdateFunctionConfiguration(_ context.Context, params *lambda.UpdateFunctionConfigurationInput, _ ...func(*lambda.Options)) (*lambda.UpdateFunctionConfigurationOutput, error) {
	f.updateConfigInputs = append(f.updateConfigInputs, params)
	return &lambda.UpdateFunctionConfigurationOutput{}, nil
}

func (f *fakeLambda) GetFunctionConfiguration(_ context.Context, _ *lambda.GetFunctionConfigurationInput, _ ...func(*lambda.Options)) (*lambda.GetFunctionConfigurationOutput, error) {
	if f.pollErr != nil {
		return nil, f.pollErr
	}

	index := f.pollCount
	f.pollCount++
	if index >= len(f.pollStates) {
		index = len(f.pollStates) - 1
	}
	status := f.pollStates[index]

	output := &lambda.GetFunctionConfigurationOutput{
		State:            types.StateActive,
		LastUpdateStatus: status,
	}
	if status == types.LastUpdateStatusFailed {
		output.LastUpdateStatusReason = aws.String(f.failureReason)
	}
	return output, nil
}

func (f *fakeLambda) PublishLayerVersion(_ context.Context, params *lambda.PublishLayerVersionInput, _ ...func(*lambda.Options)) (*lambda.PublishLayerVersionOutput, error) {
	f.publishInputs = append(f.publishInputs, params)
	if f.publishErr != nil {
		return nil, f.publishErr
	}
	return &lambda.PublishLayerVersionOutput{
		LayerVersionArn: aws.String("arn:aws:lambda:ap-northeast-1:123456789012:layer:my-bot-dependencies:7"),
		Version:         7,
	}, nil
}

func newTestController(api API) *Controller {
	return &Controller{
		api:      api,
		attempts: defaultPollAttempts,
		delay:    defaultPollDelay,
		sleep:    func(time.Duration) {},
	}
}

func writeZip(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	out, err := os.Create(path)
	require.NoError(t, err)
	writer := zip.NewWriter(out)
	entry, err := writer.Create("lambda_function.py")
	require.NoError(t, err)
	_, err = entry.Write([]byte("def lambda_handler(event, context): pass\n"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	require.NoError(t, out.Close())
	return path
}

func TestRun_CodeOnly(t *testing.T) {
	api := &fakeLambda{pollStates: []types.LastUpdateStatus{types.LastUpdateStatusSuccessful}}

	var states []State
	result, err := newTestController(api).Run(context.Background(), Input{
		FunctionName: "my-bot-translate",
		LayerName:    "my-bot-dependencies",
		FunctionCode: CodeSource{ZipPath: writeZip(t, "function.zip")},
		OnProgress:   func(s State) { states = append(states, s) },
	})
	require.NoError(t, err)

	assert.Equal(t, StateActive, result.State)
	assert.False(t, result.Unconfirmed)
	assert.Empty(t, result.LayerVersionArn)
	assert.Equal(t, []State{StateCodePushed, StateActive}, states)

	require.Len(t, api.updateCodeInputs, 1)
	assert.NotEmpty(t, api.updateCodeInputs[0].ZipFile)
	assert.Empty(t, api.publishInputs)
	assert.Empty(t, api.updateConfigInputs)
}

func TestRun_WithLayerRefresh(t *testing.T) {
	api := &fakeLambda{pollStates: []types.LastUpdateStatus{types.LastUpdateStatusSuccessful}}

	var states []State
	layerPath := writeZip(t, "layer.zip")
	result, err := newTestController(api).Run(context.Background(), Input{
		FunctionName: "my-bot-translate",
		LayerName:    "my-bot-dependencies",
		FunctionCode: CodeSource{ZipPath: writeZip(t, "function.zip")},
		LayerBundle:  &CodeSource{ZipPath: layerPath},
		OnProgress:   func(s State) { states = append(states, s) },
	})
	require.NoError(t, err)

	assert.Equal(t, StateActive, result.State)
	assert.Contains(t, result.LayerVersionArn, "my-bot-dependencies:7")
	assert.Equal(t, []State{StateCodePushed, StateLayerPublished, StateConfigAttached, StateActive}, states)

	require.Len(t, api.publishInputs, 1)
	assert.Equal(t, "my-bot-dependencies", aws.ToString(api.publishInputs[0].LayerName))

	require.Len(t, api.updateConfigInputs, 1)
	assert.Equal(t, []string{result.LayerVersionArn}, api.updateConfigInputs[0].Layers)
}

func TestRun_S3StagedBundles(t *testing.T) {
	api := &fakeLambda{pollStates: []types.LastUpdateStatus{types.LastUpdateStatusSuccessful}}

	_, err := newTestController(api).Run(context.Background(), Input{
		FunctionName: "my-bot-translate",
		LayerName:    "my-bot-dependencies",
		FunctionCode: CodeSource{S3: &artifacts.Location{Bucket: "artifacts", Key: "my-bot/run/function.zip"}},
		LayerBundle:  &CodeSource{S3: &artifacts.Location{Bucket: "artifacts", Key: "my-bot/run/layer.zip"}},
	})
	require.NoError(t, err)

	require.Len(t, api.updateCodeInputs, 1)
	assert.Equal(t, "artifacts", aws.ToString(api.updateCodeInputs[0].S3Bucket))
	assert.Empty(t, api.updateCodeInputs[0].ZipFile)

	require.Len(t, api.publishInputs, 1)
	assert.Equal(t, "my-bot/run/layer.zip", aws.ToString(api.publishInputs[0].Content.S3Key))
}

func TestRun_PendingStatesRetrySilently(t *testing.T) {
	api := &fakeLambda{pollStates: []types.LastUpdateStatus{
		types.LastUpdateStatusInProgress,
		types.LastUpdateStatusInProgress,
		types.LastUpdateStatusSuccessful,
	}}

	result, err := newTestController(api).Run(context.Background(), Input{
		FunctionName: "my-bot-translate",
		FunctionCode: CodeSource{ZipPath: writeZip(t, "function.zip")},
	})
	require.NoError(t, err)

	assert.False(t, result.Unconfirmed)
	assert.Equal(t, 3, api.pollCount)
}

func TestRun_PollExhaustionDegradesToUnconfirmed(t *testing.T) {
	api := &fakeLambda{pollStates: []types.LastUpdateStatus{types.LastUpdateStatusInProgress}}

	result, err := newTestController(api).Run(context.Background(), Input{
		FunctionName: "my-bot-translate",
		FunctionCode: CodeSource{ZipPath: writeZip(t, "function.zip")},
	})
	require.NoError(t, err, "exhaustion is a warning, not a failure")

	assert.True(t, result.Unconfirmed)
	assert.Equal(t, StateActive, result.State)
	assert.Equal(t, defaultPollAttempts, api.pollCount, "poll must stop at the attempt ceiling")
}

func TestRun_FailedUpdateStatusIsFatal(t *testing.T) {
	api := &fakeLambda{
		pollStates:    []types.LastUpdateStatus{types.LastUpdateStatusFailed},
		failureReason: "Image size exceeds the limit",
	}

	_, err := newTestController(api).Run(context.Background(), Input{
		FunctionName: "my-bot-translate",
		FunctionCode: CodeSource{ZipPath: writeZip(t, "function.zip")},
	})
	require.ErrorIs(t, err, errors.ErrRolloutFailed)
	assert.Contains(t, err.Error(), "Image size exceeds the limit")
}

func TestRun_UpdateCodeRejectionIsFatal(t *testing.T) {
	api := &fakeLambda{
		pollStates:    []types.LastUpdateStatus{types.LastUpdateStatusSuccessful},
		updateCodeErr: fmt.Errorf("AccessDeniedException"),
	}

	_, err := newTestController(api).Run(context.Background(), Input{
		FunctionName: "my-bot-translate",
		FunctionCode: CodeSource{ZipPath: writeZip(t, "function.zip")},
	})
	require.Error(t, err)
	assert.Equal(t, 0, api.pollCount, "no polling after a rejected push")
}

func TestWaitActive_BoundedByCeilingTimesDelay(t *testing.T) {
	api := &fakeLambda{pollStates: []types.LastUpdateStatus{types.LastUpdateStatusInProgress}}

	var slept time.Duration
	controller := &Controller{
		api:      api,
		attempts: 5,
		delay:    2 * time.Second,
		sleep:    func(d time.Duration) { slept += d },
	}

	result := controller.waitActive(context.Background(), "my-bot-translate")

	assert.Equal(t, WaitTimedOut, result.Status)
	assert.Equal(t, 5, api.pollCount)
	assert.Equal(t, 8*time.Second, slept, "no sleep before the first attempt")
}

func TestLayerName(t *testing.T) {
	assert.Equal(t, "line-translate-bot-dependencies", LayerName("line-translate-bot"))
}

package report

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/okabe/linebot-deployer/internal/stack"
)

func TestWrite_Updated(t *testing.T) {
	var buf bytes.Buffer
	Summary{
		StackName:       "line-translate-bot",
		Outcome:         stack.OutcomeUpdated,
		FunctionName:    "line-translate-bot-translate",
		FunctionUpdated: true,
		LayerVersionArn: "arn:aws:lambda:ap-northeast-1:123456789012:layer:line-translate-bot-dependencies:3",
		WebhookURL:      "https://abc123.execute-api.ap-northeast-1.amazonaws.com/callback",
	}.Write(&buf)

	output := buf.String()
	assert.Contains(t, output, "Deployment Summary")
	assert.Contains(t, output, "Stack:           line-translate-bot (updated)")
	assert.Contains(t, output, "Lambda Function: UPDATED\n")
	assert.Contains(t, output, "Function Name:   line-translate-bot-translate")
	assert.Contains(t, output, "Layer Version:   arn:aws:lambda")
	assert.Contains(t, output, "Webhook URL:     https://abc123")
}

func TestWrite_NotUpdated(t *testing.T) {
	var buf bytes.Buffer
	Summary{
		StackName:    "line-translate-bot",
		Outcome:      stack.OutcomeUnchanged,
		FunctionName: "line-translate-bot-translate",
	}.Write(&buf)

	output := buf.String()
	assert.Contains(t, output, "Lambda Function: NOT UPDATED")
	assert.NotContains(t, output, "Layer Version:")
	assert.NotContains(t, output, "Webhook URL:")
}

func TestWrite_Unconfirmed(t *testing.T) {
	var buf bytes.Buffer
	Summary{
		StackName:       "line-translate-bot",
		Outcome:         stack.OutcomeCreated,
		FunctionUpdated: true,
		Unconfirmed:     true,
	}.Write(&buf)

	assert.Contains(t, buf.String(), "Lambda Function: UPDATED (unconfirmed)")
}

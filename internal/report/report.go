// Package report prints the final deployment summary for the operator.
package report

import (
	"fmt"
	"io"

	"github.com/okabe/linebot-deployer/internal/stack"
)

type Summary struct {
	StackName       string
	Outcome         stack.Outcome
	FunctionName    string
	FunctionUpdated bool
	Unconfirmed     bool
	LayerVersionArn string
	WebhookURL      string
}

func (s Summary) Write(w io.Writer) {
	functionStatus := "NOT UPDATED"
	if s.FunctionUpdated {
		functionStatus = "UPDATED"
		if s.Unconfirmed {
			functionStatus += " (unconfirmed)"
		}
	}

	fmt.Fprintln(w, "==========================================")
	fmt.Fprintln(w, "Deployment Summary")
	fmt.Fprintln(w, "==========================================")
	fmt.Fprintf(w, "Stack:           %s (%s)\n", s.StackName, s.Outcome)
	fmt.Fprintf(w, "Lambda Function: %s\n", functionStatus)
	if s.FunctionName != "" {
		fmt.Fprintf(w, "Function Name:   %s\n", s.FunctionName)
	}
	if s.LayerVersionArn != "" {
		fmt.Fprintf(w, "Layer Version:   %s\n", s.LayerVersionArn)
	}
	if s.WebhookURL != "" {
		fmt.Fprintf(w, "Webhook URL:     %s\n", s.WebhookURL)
	}
	fmt.Fprintln(w, "==========================================")
}

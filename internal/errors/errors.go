package errors

import "errors"

var (
	ErrMissingTool      = errors.New("required tool not found")
	ErrMissingValue     = errors.New("required value not set")
	ErrCredentials      = errors.New("AWS credentials are not usable")
	ErrStackNotFound    = errors.New("stack not found")
	ErrOutputNotFound   = errors.New("required stack output not found")
	ErrTemplateContract = errors.New("template does not satisfy the deployment contract")
	ErrRolloutFailed    = errors.New("rollout failed")
)

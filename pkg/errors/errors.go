// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finsight Contributors

package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeModerationInputBlocked Code = "moderation.input.blocked"
	CodeModerationRuleInvalid  Code = "moderation.rule.invalid_input"
	CodeModerationDirection    Code = "moderation.direction.invalid_value"

	CodePluginLoadFailure       Code = "plugin.load.failure"
	CodePluginNotFound          Code = "plugin.not_found"
	CodePluginConfigInvalid     Code = "plugin.config.invalid_input"
	CodePluginStateInvalid      Code = "plugin.lifecycle.transition.invalid"
	CodePluginToolNotFound      Code = "plugin.tool.not_found"
	CodePluginToolInvokeFailure Code = "plugin.tool.invoke.failure"

	CodePipelineStageFailure Code = "pipeline.stage.failure"
	CodePipelineInvalidInput Code = "pipeline.run.invalid_input"
	CodePipelineStateInvalid Code = "pipeline.status.transition.invalid"
	CodePipelineCancelled    Code = "pipeline.run.cancelled"

	CodeStoreResultNotFound  Code = "store.result.get.not_found"
	CodeStorePersistFailure  Code = "store.result.save.failure"
	CodeStoreDatabaseFailure Code = "store.database.failure"
	CodeStoreInvalidInput    Code = "store.invalid_input"

	CodeCompletionUpstreamFailure Code = "completion.upstream.failure"
	CodeMarketDataUnavailable     Code = "marketdata.quote.unavailable"

	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeServiceInternalFailure Code = "service.internal.failure"
	CodeCLISetupFailure        Code = "cli.setup.failure"
	CodeCLIInputInvalid        Code = "cli.input.invalid_input"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldSessionID(value string) Attr {
	return Field("session_id", value)
}

func FieldStage(value string) Attr {
	return Field("stage", value)
}

func FieldPlugin(value string) Attr {
	return Field("plugin", value)
}

func FieldTool(value string) Attr {
	return Field("tool", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).Wrapf(err, format, args...)
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}

	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}

	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "invalid_format"
}

func IsBlocked(err error) bool {
	return reason(CodeOf(err)) == "blocked"
}

func IsCancelled(err error) bool {
	return reason(CodeOf(err)) == "cancelled"
}

func IsUpstreamFailure(err error) bool {
	code := CodeOf(err)
	return strings.Contains(string(code), "upstream") && reason(code) == "failure"
}

func Join(errs ...error) error {
	return oops.Code(CodeServiceInternalFailure).Wrap(stderrors.Join(errs...))
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}

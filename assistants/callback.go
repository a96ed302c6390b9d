package assistants

import (
	"context"
	"fmt"
	"io"

	"github.com/effective-security/mcpchat/tools"
	"github.com/effective-security/xlog"
)

// Callback receives run and tool lifecycle events.
type Callback interface {
	OnRunStart(ctx context.Context, assistant IAssistant, input string)
	OnRunEnd(ctx context.Context, assistant IAssistant, result *RunResult)
	OnRunError(ctx context.Context, assistant IAssistant, input string, err error)
	OnToolStart(ctx context.Context, assistant IAssistant, tool string, args string)
	OnToolEnd(ctx context.Context, assistant IAssistant, result tools.ActionResult)
}

// NoopCallback does nothing.
type NoopCallback struct{}

func NewNoopCallback() *NoopCallback {
	return &NoopCallback{}
}

var _ Callback = (*NoopCallback)(nil)

func (l *NoopCallback) OnRunStart(ctx context.Context, assistant IAssistant, input string) {}
func (l *NoopCallback) OnRunEnd(ctx context.Context, assistant IAssistant, result *RunResult) {
}
func (l *NoopCallback) OnRunError(ctx context.Context, assistant IAssistant, input string, err error) {
}
func (l *NoopCallback) OnToolStart(ctx context.Context, assistant IAssistant, tool string, args string) {
}
func (l *NoopCallback) OnToolEnd(ctx context.Context, assistant IAssistant, result tools.ActionResult) {
}

// PrinterCallback is a callback handler that prints to the Writer.
type PrinterCallback struct {
	Out io.Writer
}

func NewPrinterCallback(out io.Writer) *PrinterCallback {
	return &PrinterCallback{Out: out}
}

var _ Callback = (*PrinterCallback)(nil)

func (l *PrinterCallback) OnRunStart(ctx context.Context, assistant IAssistant, input string) {
	fmt.Fprintf(l.Out, "Run Start: %s\n", assistant.Name())
	fmt.Fprintf(l.Out, "Input: %s\n", input)
}

func (l *PrinterCallback) OnRunEnd(ctx context.Context, assistant IAssistant, result *RunResult) {
	fmt.Fprintf(l.Out, "Run End: %s: %s\n", assistant.Name(), result.Status)
	if result.Answer != "" {
		fmt.Fprintln(l.Out, result.Answer)
	}
	if result.Warning != "" {
		fmt.Fprintf(l.Out, "Warning: %s\n", result.Warning)
	}
}

func (l *PrinterCallback) OnRunError(ctx context.Context, assistant IAssistant, input string, err error) {
	fmt.Fprintf(l.Out, "Run Error: %s: %s\n", assistant.Name(), err.Error())
}

func (l *PrinterCallback) OnToolStart(ctx context.Context, assistant IAssistant, tool string, args string) {
	fmt.Fprintf(l.Out, "Tool Start: %s\n", tool)
	fmt.Fprintf(l.Out, "Input: %s\n", args)
}

func (l *PrinterCallback) OnToolEnd(ctx context.Context, assistant IAssistant, result tools.ActionResult) {
	if result.Success {
		fmt.Fprintf(l.Out, "Tool End: %s\n", result.Name)
		fmt.Fprintf(l.Out, "Output: %s\n", result.Payload)
	} else {
		fmt.Fprintf(l.Out, "Tool Error: %s: %s\n", result.Name, result.Error)
	}
}

// PackageLoggerCallback is a callback handler that prints to the logger.
type PackageLoggerCallback struct {
	logger *xlog.PackageLogger
}

func NewPackageLoggerCallback(logger *xlog.PackageLogger) *PackageLoggerCallback {
	return &PackageLoggerCallback{logger: logger}
}

var _ Callback = (*PackageLoggerCallback)(nil)

func (l *PackageLoggerCallback) OnRunStart(ctx context.Context, assistant IAssistant, input string) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "run_start",
		"assistant", assistant.Name(),
		"input", input,
	)
}

func (l *PackageLoggerCallback) OnRunEnd(ctx context.Context, assistant IAssistant, result *RunResult) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "run_end",
		"assistant", assistant.Name(),
		"status", result.Status,
		"steps", result.Steps,
		"tool_calls", result.ToolCalls,
	)
}

func (l *PackageLoggerCallback) OnRunError(ctx context.Context, assistant IAssistant, input string, err error) {
	l.logger.ContextKV(ctx, xlog.ERROR,
		"event", "run_error",
		"assistant", assistant.Name(),
		"err", err.Error(),
	)
}

func (l *PackageLoggerCallback) OnToolStart(ctx context.Context, assistant IAssistant, tool string, args string) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "tool_start",
		"tool", tool,
		"input", args,
	)
}

func (l *PackageLoggerCallback) OnToolEnd(ctx context.Context, assistant IAssistant, result tools.ActionResult) {
	if result.Success {
		l.logger.ContextKV(ctx, xlog.DEBUG,
			"event", "tool_end",
			"tool", result.Name,
			"server", result.Server,
		)
	} else {
		l.logger.ContextKV(ctx, xlog.WARNING,
			"event", "tool_error",
			"tool", result.Name,
			"server", result.Server,
			"err", result.Error,
		)
	}
}

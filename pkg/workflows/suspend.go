package workflows

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/interceptor"

	"github.com/ghuser/entitlements/pkg/logger"
)

// Admission reports whether new work may start.
type Admission interface {
	ErrIfSuspended(ctx context.Context) error
}

type suspendInterceptor struct {
	interceptor.ClientInterceptorBase
	gate Admission
	log  logger.Logger
}

// NewSuspendInterceptor returns a client interceptor that refuses to start
// workflows while gate reports the server suspended. Signals, queries and
// running workflows are unaffected.
func NewSuspendInterceptor(gate Admission, log logger.Logger) interceptor.ClientInterceptor {
	return &suspendInterceptor{gate: gate, log: log}
}

func (i *suspendInterceptor) InterceptClient(next interceptor.ClientOutboundInterceptor) interceptor.ClientOutboundInterceptor {
	return &suspendOutbound{
		ClientOutboundInterceptorBase: interceptor.ClientOutboundInterceptorBase{Next: next},
		gate:                          i.gate,
		log:                           i.log,
	}
}

type suspendOutbound struct {
	interceptor.ClientOutboundInterceptorBase
	gate Admission
	log  logger.Logger
}

func (o *suspendOutbound) ExecuteWorkflow(ctx context.Context, in *interceptor.ClientExecuteWorkflowInput) (client.WorkflowRun, error) {
	if err := o.admit(ctx, in.WorkflowType); err != nil {
		return nil, err
	}
	return o.Next.ExecuteWorkflow(ctx, in)
}

func (o *suspendOutbound) SignalWithStartWorkflow(ctx context.Context, in *interceptor.ClientSignalWithStartWorkflowInput) (client.WorkflowRun, error) {
	if err := o.admit(ctx, in.WorkflowType); err != nil {
		return nil, err
	}
	return o.Next.SignalWithStartWorkflow(ctx, in)
}

func (o *suspendOutbound) admit(ctx context.Context, workflowType string) error {
	if err := o.gate.ErrIfSuspended(ctx); err != nil {
		o.log.WarnContext(ctx, "workflow start refused", "workflow_type", workflowType, "error", err)
		return fmt.Errorf("start workflow %s: %w", workflowType, err)
	}
	return nil
}

package processor

import (
	"context"
	"fmt"

	"github.com/earthlaws/terriajs/catalog"
)

// ExecPipeline chains the executor, poller and materializer stages
// for one invocation.
type ExecPipeline struct {
	Context context.Context
	Error   chan error
}

func InitExecPipeline(ctx context.Context, errChan chan error) *ExecPipeline {
	return &ExecPipeline{
		Context: ctx,
		Error:   errChan,
	}
}

func (ep *ExecPipeline) Process(task *ExecTask, verbose bool) chan *catalog.Item {
	exec := NewExecutor(ep.Context, ep.Error)
	poll := NewPoller(ep.Context, ep.Error)
	mat := NewMaterializer(ep.Context, ep.Error)

	go func() {
		exec.In <- task
		close(exec.In)
	}()

	poll.In = exec.Out
	mat.In = poll.Out

	go exec.Run(verbose)
	go poll.Run(verbose)
	go mat.Run(verbose)

	return mat.Out
}

// Outcome blocks until the pipeline finishes and resolves it to either
// the materialized item or the first stage error. When a stage fails
// fast the error send and the channel close race each other, so a
// closed item channel still drains the error channel before giving up.
func (ep *ExecPipeline) Outcome(itemChan chan *catalog.Item) (*catalog.Item, error) {
	select {
	case err := <-ep.Error:
		return nil, err
	case item, ok := <-itemChan:
		if !ok {
			select {
			case err := <-ep.Error:
				return nil, err
			default:
			}
			return nil, fmt.Errorf("execution produced no result")
		}
		return item, nil
	}
}

package processor

import (
	"context"
	"log"
)

// Executor loads the function description when needed, binds the
// task's parameter values and submits the Execute request.
type Executor struct {
	Context context.Context
	In      chan *ExecTask
	Out     chan *execStatus
	Error   chan error
}

func NewExecutor(ctx context.Context, errChan chan error) *Executor {
	return &Executor{
		Context: ctx,
		In:      make(chan *ExecTask, 100),
		Out:     make(chan *execStatus, 100),
		Error:   errChan,
	}
}

func (p *Executor) Run(verbose bool) {
	defer close(p.Out)
	for task := range p.In {
		fn := task.Function

		if !fn.Loaded() {
			err := fn.Load(p.Context)
			if err != nil {
				p.Error <- err
				return
			}
		}

		err := fn.SetValues(task.Values)
		if err != nil {
			p.Error <- err
			return
		}

		if verbose {
			log.Printf("WPS: executing %s with %d parameter values", fn.Identifier, len(task.Values))
		}

		req, err := fn.BuildRequest()
		if err != nil {
			p.Error <- err
			return
		}

		resp, err := fn.Client.Execute(p.Context, fn.Description(), req)
		if err != nil {
			p.Error <- err
			return
		}

		p.Out <- &execStatus{Task: task, Request: req, Response: resp}
	}
}

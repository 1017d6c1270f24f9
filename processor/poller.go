package processor

import (
	"context"
	"log"
)

// Poller drives asynchronous executions to a terminal state. A
// response that is already terminal passes straight through;
// otherwise the status location is re-read on the client's fixed
// interval until the process succeeds or fails.
type Poller struct {
	Context context.Context
	In      chan *execStatus
	Out     chan *execStatus
	Error   chan error
}

func NewPoller(ctx context.Context, errChan chan error) *Poller {
	return &Poller{
		Context: ctx,
		In:      make(chan *execStatus, 100),
		Out:     make(chan *execStatus, 100),
		Error:   errChan,
	}
}

func (p *Poller) Run(verbose bool) {
	defer close(p.Out)
	for es := range p.In {
		if es.Response.State().Terminal() {
			p.Out <- es
			continue
		}

		if verbose {
			log.Printf("WPS: %s %s, polling %s", es.Task.Function.Identifier,
				es.Response.State(), es.Response.StatusLocation)
		}

		resp, err := es.Task.Function.Client.Poll(p.Context, es.Response.StatusLocation)
		if err != nil {
			p.Error <- err
			return
		}

		es.Response = resp
		p.Out <- es
	}
}

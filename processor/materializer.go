package processor

import (
	"context"
	"log"

	"github.com/earthlaws/terriajs/catalog"
)

// Materializer turns terminal responses into catalog items. Failed
// executions still produce an item carrying the exception report so
// the browser has something to show.
type Materializer struct {
	Context context.Context
	In      chan *execStatus
	Out     chan *catalog.Item
	Error   chan error
}

func NewMaterializer(ctx context.Context, errChan chan error) *Materializer {
	return &Materializer{
		Context: ctx,
		In:      make(chan *execStatus, 100),
		Out:     make(chan *catalog.Item, 100),
		Error:   errChan,
	}
}

func (p *Materializer) Run(verbose bool) {
	defer close(p.Out)
	for es := range p.In {
		fn := es.Task.Function

		title := fn.Title
		if len(title) == 0 {
			title = fn.Identifier
		}

		var item *catalog.Item
		if es.Response.State().Terminal() && es.Response.FailureMessage() != "" {
			item = catalog.FailedItem(title, es.Response)
		} else {
			var err error
			item, err = catalog.NewItem(title, es.Response, es.Request.Inputs)
			if err != nil {
				p.Error <- err
				return
			}
		}

		if len(es.Task.TemplateRoot) > 0 {
			err := catalog.RenderReport(item, fn.Identifier, es.Task.TemplateRoot, es.Task.TemplateName)
			if err != nil {
				// The item is still usable without the rendered
				// summary.
				log.Printf("WPS: %v", err)
			}
		}

		if verbose {
			log.Printf("WPS: materialized item '%s' (%s)", item.Name, item.Type)
		}

		p.Out <- item
	}
}

package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/earthlaws/terriajs/catalog"
	"github.com/earthlaws/terriajs/function"
	"github.com/earthlaws/terriajs/wps"
)

const pipelineDescribeDoc = `<?xml version="1.0" encoding="UTF-8"?>
<wps:ProcessDescriptions xmlns:wps="http://www.opengis.net/wps/1.0.0" xmlns:ows="http://www.opengis.net/ows/1.1" service="WPS" version="1.0.0">
  <ProcessDescription storeSupported="true" statusSupported="true">
    <ows:Identifier>geometryDrill</ows:Identifier>
    <ows:Title>Geometry Drill</ows:Title>
    <DataInputs>
      <Input minOccurs="1" maxOccurs="1">
        <ows:Identifier>geometry</ows:Identifier>
        <ows:Title>Geometry</ows:Title>
        <ComplexData>
          <Default>
            <Format>
              <MimeType>application/vnd.geo+json</MimeType>
              <Schema>http://geojson.org/geojson-spec.html#polygon</Schema>
            </Format>
          </Default>
        </ComplexData>
      </Input>
    </DataInputs>
  </ProcessDescription>
</wps:ProcessDescriptions>`

// newWPSTestServer emulates the asynchronous execute flow: the POST
// returns ProcessAccepted with a status location that succeeds after
// two started polls.
func newWPSTestServer(t *testing.T) (*httptest.Server, *int32) {
	var nPolls int32

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)

	mux.HandleFunc("/wps", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "GET" {
			if r.URL.Query().Get("request") != "DescribeProcess" {
				http.Error(w, "unexpected request", 400)
				return
			}
			w.Write([]byte(pipelineDescribeDoc))
			return
		}
		fmt.Fprintf(w, `<ExecuteResponse xmlns="http://www.opengis.net/wps/1.0.0" statusLocation="%s/status"><Status creationTime="2021-05-11T00:00:00.000Z"><ProcessAccepted>queued</ProcessAccepted></Status></ExecuteResponse>`, server.URL)
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&nPolls, 1)
		if n < 3 {
			w.Write([]byte(`<ExecuteResponse xmlns="http://www.opengis.net/wps/1.0.0"><Status><ProcessStarted percentCompleted="50">working</ProcessStarted></Status></ExecuteResponse>`))
			return
		}
		w.Write([]byte(`<ExecuteResponse xmlns="http://www.opengis.net/wps/1.0.0"><Status creationTime="2021-05-11T00:01:00.000Z"><ProcessSucceeded>done</ProcessSucceeded></Status><ProcessOutputs><Output><Identifier>summary</Identifier><Data><LiteralData>mean: 0.42</LiteralData></Data></Output></ProcessOutputs></ExecuteResponse>`))
	})

	return server, &nPolls
}

func newPipelineTask(serviceURL string) *ExecTask {
	client := wps.NewClient(serviceURL+"/wps", 5*time.Second, "")
	client.PollInterval = 5 * time.Millisecond

	fn := function.NewCatalogFunction(client, "geometryDrill")
	return &ExecTask{
		Function: fn,
		Values: map[string]json.RawMessage{
			"geometry": json.RawMessage(`[[[151,-33],[152,-33],[152,-34],[151,-33]]]`),
		},
	}
}

func TestExecPipeline(t *testing.T) {
	server, nPolls := newWPSTestServer(t)
	defer server.Close()

	errChan := make(chan error, 100)
	pipeline := InitExecPipeline(context.Background(), errChan)
	itemChan := pipeline.Process(newPipelineTask(server.URL), false)

	select {
	case err := <-errChan:
		t.Errorf("pipeline error: %v", err)
	case item, ok := <-itemChan:
		if !ok {
			t.Errorf("pipeline closed without an item")
			return
		}
		if item.Failed {
			t.Errorf("item marked failed: %+v", item)
		}
		if len(item.ShortReports) == 0 {
			t.Errorf("item has no report sections")
		}
		if atomic.LoadInt32(nPolls) != 3 {
			t.Errorf("expected 3 polls, got %d", atomic.LoadInt32(nPolls))
		}
	case <-time.After(5 * time.Second):
		t.Errorf("pipeline did not finish in time")
	}
}

func TestExecPipelineFailedExecution(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/wps", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "GET" {
			w.Write([]byte(pipelineDescribeDoc))
			return
		}
		w.Write([]byte(`<ExecuteResponse xmlns="http://www.opengis.net/wps/1.0.0"><Status><ProcessFailed><ExceptionReport><Exception><ExceptionText>worker died</ExceptionText></Exception></ExceptionReport></ProcessFailed></Status></ExecuteResponse>`))
	})

	errChan := make(chan error, 100)
	pipeline := InitExecPipeline(context.Background(), errChan)
	itemChan := pipeline.Process(newPipelineTask(server.URL), false)

	select {
	case err := <-errChan:
		t.Errorf("failed executions should materialize, not error: %v", err)
	case item, ok := <-itemChan:
		if !ok {
			t.Errorf("pipeline closed without an item")
			return
		}
		if !item.Failed {
			t.Errorf("item not marked failed: %+v", item)
			return
		}
		if !strings.Contains(item.ShortReports[0].Content, "worker died") {
			t.Errorf("exception text missing: %+v", item.ShortReports)
		}
	case <-time.After(5 * time.Second):
		t.Errorf("pipeline did not finish in time")
	}
}

func TestExecPipelineInvalidServer(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/wps", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>service is down</body></html>`))
	})

	errChan := make(chan error, 100)
	pipeline := InitExecPipeline(context.Background(), errChan)
	itemChan := pipeline.Process(newPipelineTask(server.URL), false)

	item, err := pipeline.Outcome(itemChan)
	if item != nil {
		t.Errorf("invalid server produced an item: %+v", item)
		return
	}
	if err == nil {
		t.Errorf("pipeline shut down without reporting an error")
		return
	}
	if !strings.Contains(err.Error(), wps.ErrInvalidServer.Error()) {
		t.Errorf("expected uniform invalid server error, got: %v", err)
	}
}

func TestOutcomeReportsFastFailures(t *testing.T) {
	// a stage that fails before the materializer starts leaves the
	// error buffered while the item channel is already closed; both
	// select cases are ready and either pick must surface the error
	for i := 0; i < 20; i++ {
		errChan := make(chan error, 100)
		errChan <- fmt.Errorf("%v: unexpected root element 'html'", wps.ErrInvalidServer)

		itemChan := make(chan *catalog.Item)
		close(itemChan)

		pipeline := InitExecPipeline(context.Background(), errChan)
		_, err := pipeline.Outcome(itemChan)
		if err == nil {
			t.Errorf("closed item channel swallowed the pending error")
			return
		}
		if !strings.Contains(err.Error(), wps.ErrInvalidServer.Error()) {
			t.Errorf("pending error replaced by a generic one: %v", err)
			return
		}
	}
}

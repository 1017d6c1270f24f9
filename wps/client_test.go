package wps

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(serviceURL string) *Client {
	client := NewClient(serviceURL, 5*time.Second, "")
	client.PollInterval = 5 * time.Millisecond
	return client
}

func TestClientDescribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("request") != "DescribeProcess" {
			http.Error(w, "unexpected request", 400)
			return
		}
		if r.URL.Query().Get("Identifier") != "geometryDrill" {
			http.Error(w, "unexpected identifier", 400)
			return
		}
		w.Write([]byte(describeDoc))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	desc, err := client.Describe(context.Background(), "geometryDrill")
	if err != nil {
		t.Errorf("Describe failed: %v", err)
		return
	}
	if desc.Identifier != "geometryDrill" {
		t.Errorf("unexpected process: %s", desc.Identifier)
	}
}

func TestClientDescribeInvalidServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>under maintenance</body></html>`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Describe(context.Background(), "geometryDrill")
	if err == nil {
		t.Errorf("non WPS response accepted")
		return
	}
	if !strings.Contains(err.Error(), ErrInvalidServer.Error()) {
		t.Errorf("expected uniform invalid server error, got: %v", err)
	}
}

func TestClientExecuteSynchronous(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "GET" {
			http.Error(w, "synchronous execute must use GET KVP", 400)
			return
		}
		if r.URL.Query().Get("request") != "Execute" {
			http.Error(w, "unexpected request", 400)
			return
		}
		w.Write([]byte(`<ExecuteResponse xmlns="http://www.opengis.net/wps/1.0.0"><ProcessOutputs><Output><Identifier>summary</Identifier><Data><LiteralData>ok</LiteralData></Data></Output></ProcessOutputs></ExecuteResponse>`))
	}))
	defer server.Close()

	// the process does not advertise stored responses
	desc := &ProcessDescription{Identifier: "geometryDrill"}
	client := newTestClient(server.URL)

	req := &ExecuteRequest{Identifier: "geometryDrill", StoreStatus: true}
	resp, err := client.Execute(context.Background(), desc, req)
	if err != nil {
		t.Errorf("Execute failed: %v", err)
		return
	}

	if req.StoreStatus {
		t.Errorf("StoreStatus must be downgraded when the server cannot store responses")
	}
	if resp.State() != StateSucceeded {
		t.Errorf("unexpected state: %v", resp.State())
	}
}

func TestClientExecuteAsynchronousAndPoll(t *testing.T) {
	var nPolls int32

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/wps", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			http.Error(w, "asynchronous execute must use POST", 400)
			return
		}
		body, _ := ioutil.ReadAll(r.Body)
		if !strings.Contains(string(body), "storeExecuteResponse=\"true\"") {
			http.Error(w, "missing response document", 400)
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
		w.Write([]byte(`<ExecuteResponse xmlns="http://www.opengis.net/wps/1.0.0"><Status><ProcessSucceeded>done</ProcessSucceeded></Status><ProcessOutputs><Output><Identifier>summary</Identifier><Data><LiteralData>ok</LiteralData></Data></Output></ProcessOutputs></ExecuteResponse>`))
	})

	desc := &ProcessDescription{Identifier: "geometryDrill", StoreSupported: true, StatusSupported: true}
	client := newTestClient(server.URL + "/wps")

	req := &ExecuteRequest{Identifier: "geometryDrill", StoreStatus: true}
	resp, err := client.Execute(context.Background(), desc, req)
	if err != nil {
		t.Errorf("Execute failed: %v", err)
		return
	}
	if resp.State() != StateAccepted {
		t.Errorf("expected accepted state, got %v", resp.State())
		return
	}

	final, err := client.Poll(context.Background(), resp.StatusLocation)
	if err != nil {
		t.Errorf("Poll failed: %v", err)
		return
	}
	if final.State() != StateSucceeded {
		t.Errorf("expected succeeded state, got %v", final.State())
	}
	if atomic.LoadInt32(&nPolls) != 3 {
		t.Errorf("expected 3 polls, got %d", nPolls)
	}
}

func TestClientPollMalformedStatusFailsImmediately(t *testing.T) {
	var nPolls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&nPolls, 1)
		w.Write([]byte(`<html><body>proxy error</body></html>`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Poll(context.Background(), server.URL+"/status")
	if err == nil {
		t.Errorf("malformed status document accepted")
		return
	}
	if !strings.Contains(err.Error(), ErrInvalidServer.Error()) {
		t.Errorf("expected uniform invalid server error, got: %v", err)
	}
	if atomic.LoadInt32(&nPolls) != 1 {
		t.Errorf("malformed status documents must not be retried, got %d polls", nPolls)
	}
}

func TestClientPollTransportRetries(t *testing.T) {
	var nPolls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&nPolls, 1)
		http.Error(w, "bad gateway", 502)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Poll(context.Background(), server.URL+"/status")
	if err == nil {
		t.Errorf("persistent transport failure did not surface")
		return
	}
	if atomic.LoadInt32(&nPolls) != DefaultPollRetries {
		t.Errorf("expected %d transport retries, got %d", DefaultPollRetries, nPolls)
	}
}

func TestClientPollWithoutStatusLocation(t *testing.T) {
	client := newTestClient("http://wps.example.com/wps")
	_, err := client.Poll(context.Background(), " ")
	if err == nil {
		t.Errorf("empty status location accepted")
	}
}

func TestClientPollContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<ExecuteResponse xmlns="http://www.opengis.net/wps/1.0.0"><Status><ProcessStarted>working</ProcessStarted></Status></ExecuteResponse>`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := client.Poll(ctx, server.URL+"/status")
	if err == nil {
		t.Errorf("cancelled poll did not return an error")
	}
}

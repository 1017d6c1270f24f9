package wps

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io/ioutil"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nci/gomemcache/memcache"
)

// DefaultPollInterval is the fixed delay between two GETs to the
// status location of an asynchronous execution.
const DefaultPollInterval = 500 * time.Millisecond

// DefaultPollRetries bounds consecutive transport failures while
// polling. Malformed status documents are never retried.
const DefaultPollRetries = 3

const defaultDescribeCacheExpiry = 3600

// Client talks WPS 1.0.0 to one remote server.
type Client struct {
	ServiceURL   string
	HTTPClient   *http.Client
	PollInterval time.Duration
	PollRetries  int
	Verbose      bool

	mc *memcache.Client
}

// NewClient builds a client for the given WPS endpoint. memcacheURI
// may be empty, in which case DescribeProcess responses are fetched
// from the server every time.
func NewClient(serviceURL string, timeout time.Duration, memcacheURI string) *Client {
	client := &Client{
		ServiceURL:   serviceURL,
		HTTPClient:   &http.Client{Timeout: timeout},
		PollInterval: DefaultPollInterval,
		PollRetries:  DefaultPollRetries,
	}

	if len(strings.TrimSpace(memcacheURI)) > 0 {
		client.mc = memcache.New(memcacheURI)
	}

	return client
}

func cacheKey(reqURL string) string {
	buff := md5.Sum([]byte(reqURL))
	return hex.EncodeToString(buff[:])
}

func (c *Client) describeURL(identifier string) string {
	params := url.Values{}
	params.Set("service", "WPS")
	params.Set("request", "DescribeProcess")
	params.Set("version", "1.0.0")
	params.Set("Identifier", identifier)
	return fmt.Sprintf("%s?%s", c.ServiceURL, params.Encode())
}

// Describe fetches and parses the DescribeProcess document for one
// process identifier, consulting memcached first when configured.
func (c *Client) Describe(ctx context.Context, identifier string) (*ProcessDescription, error) {
	reqURL := c.describeURL(identifier)

	var hash string
	if c.mc != nil {
		hash = cacheKey(reqURL)
		if cached, err := c.mc.Get(hash); err == nil {
			descs, err := ParseProcessDescriptions(cached.Value)
			if err == nil {
				return &descs.ProcessDescription[0], nil
			}
			// A poisoned cache entry falls through to the server.
			if c.Verbose {
				log.Printf("WPS: discarding cached DescribeProcess for %s: %v", identifier, err)
			}
		}
	}

	body, err := c.get(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	descs, err := ParseProcessDescriptions(body)
	if err != nil {
		return nil, err
	}

	if c.mc != nil {
		err = c.mc.Set(&memcache.Item{Key: hash, Value: body, Expiration: defaultDescribeCacheExpiry})
		if err != nil && c.Verbose {
			log.Printf("WPS: DescribeProcess cache set error: %v", err)
		}
	}

	return &descs.ProcessDescription[0], nil
}

// Execute submits the request. The process description decides the
// transport: POST XML with a response document when the server can
// store status, plain GET KVP otherwise.
func (c *Client) Execute(ctx context.Context, desc *ProcessDescription, req *ExecuteRequest) (*ExecuteResponse, error) {
	req.StoreStatus = req.StoreStatus && desc.StoreSupported && desc.StatusSupported

	var body []byte
	var err error
	if req.StoreStatus {
		payload, merr := req.MarshalXML()
		if merr != nil {
			return nil, merr
		}
		body, err = c.post(ctx, c.ServiceURL, payload)
	} else {
		body, err = c.get(ctx, fmt.Sprintf("%s?%s", c.ServiceURL, req.KVP()))
	}
	if err != nil {
		return nil, err
	}

	return ParseExecuteResponse(body)
}

// GetStatus re-reads the status location of an asynchronous
// execution.
func (c *Client) GetStatus(ctx context.Context, statusLocation string) (*ExecuteResponse, error) {
	body, err := c.get(ctx, statusLocation)
	if err != nil {
		return nil, err
	}
	return ParseExecuteResponse(body)
}

// Poll drives the status location until a terminal document is
// received. The delay between polls is fixed; transport errors are
// retried up to PollRetries consecutive times, parse errors fail
// immediately with the uniform invalid server error.
func (c *Client) Poll(ctx context.Context, statusLocation string) (*ExecuteResponse, error) {
	if len(strings.TrimSpace(statusLocation)) == 0 {
		return nil, fmt.Errorf("%v: asynchronous response without statusLocation", ErrInvalidServer)
	}

	interval := c.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	retries := c.PollRetries
	if retries <= 0 {
		retries = DefaultPollRetries
	}

	nErrs := 0
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}

		body, err := c.get(ctx, statusLocation)
		if err != nil {
			nErrs++
			if c.Verbose {
				log.Printf("WPS: poll error (%d of %d): %v", nErrs, retries, err)
			}
			if nErrs >= retries {
				return nil, fmt.Errorf("polling %s failed: %v", statusLocation, err)
			}
			continue
		}
		nErrs = 0

		resp, err := ParseExecuteResponse(body)
		if err != nil {
			return nil, err
		}

		if resp.State().Terminal() {
			return resp, nil
		}
	}
}

func (c *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) post(ctx context.Context, reqURL string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", reqURL, strings.NewReader(string(payload)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/xml")
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.Verbose {
		log.Printf("WPS: %s %s", req.Method, req.URL.String())
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("WPS server returned %d for %s", resp.StatusCode, req.URL.String())
	}

	return body, nil
}

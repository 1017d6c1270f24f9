package wps

import (
	"context"
	"encoding/xml"
	"fmt"
	"log"
	"net/url"

	"github.com/nci/gomemcache/memcache"
)

// Capabilities is the process inventory advertised by a WPS server.
type Capabilities struct {
	XMLName   xml.Name       `xml:"Capabilities"`
	Processes []ProcessBrief `xml:"ProcessOfferings>Process"`
}

// ProcessBrief is the summary form of a process inside the
// GetCapabilities document.
type ProcessBrief struct {
	Identifier string `xml:"Identifier"`
	Title      string `xml:"Title"`
	Abstract   string `xml:"Abstract"`
}

// ParseCapabilities parses a GetCapabilities response. Anything whose
// root element is not Capabilities is rejected as an invalid server.
func ParseCapabilities(doc []byte) (*Capabilities, error) {
	caps := &Capabilities{}
	err := xml.Unmarshal(doc, caps)
	if err != nil {
		return nil, fmt.Errorf("%v: %v", ErrInvalidServer, err)
	}

	if caps.XMLName.Local != "Capabilities" {
		return nil, fmt.Errorf("%v: unexpected root element '%s'", ErrInvalidServer, caps.XMLName.Local)
	}

	return caps, nil
}

func (c *Client) capabilitiesURL() string {
	params := url.Values{}
	params.Set("service", "WPS")
	params.Set("request", "GetCapabilities")
	params.Set("version", "1.0.0")
	return fmt.Sprintf("%s?%s", c.ServiceURL, params.Encode())
}

// GetCapabilities fetches and parses the process inventory,
// consulting memcached first when configured.
func (c *Client) GetCapabilities(ctx context.Context) (*Capabilities, error) {
	reqURL := c.capabilitiesURL()

	var hash string
	if c.mc != nil {
		hash = cacheKey(reqURL)
		if cached, err := c.mc.Get(hash); err == nil {
			caps, err := ParseCapabilities(cached.Value)
			if err == nil {
				return caps, nil
			}
			if c.Verbose {
				log.Printf("WPS: discarding cached GetCapabilities: %v", err)
			}
		}
	}

	body, err := c.get(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	caps, err := ParseCapabilities(body)
	if err != nil {
		return nil, err
	}

	if c.mc != nil {
		err = c.mc.Set(&memcache.Item{Key: hash, Value: body, Expiration: defaultDescribeCacheExpiry})
		if err != nil && c.Verbose {
			log.Printf("WPS: GetCapabilities cache set error: %v", err)
		}
	}

	return caps, nil
}

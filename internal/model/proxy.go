// Package model defines shared types for the gateway.
package model

import (
	"context"
	"net/http"
	"net/url"
)

// Upstream names one of the backend origins an API request can be routed to.
type Upstream string

const (
	// UpstreamBackend is the main API service.
	UpstreamBackend Upstream = "backend"
	// UpstreamDownload is the shapefile download service.
	UpstreamDownload Upstream = "download"
)

// ProxyRequest represents a client request to be forwarded upstream.
// Path is the part of the inbound path after the "/api/" prefix.
type ProxyRequest struct {
	Ctx    context.Context
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// ProxyResponse represents a fully read upstream response.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

package convert

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/cuemby/fnchannel/pkg/fnrpc"
)

// HTTPRequest is the domain-side shape of an HTTP-triggered invocation,
// standing in for *http.Request plus whatever the route matched. The
// boundary code that owns actual HTTP routing builds one of these; this
// package never sees a live *http.Request beyond NewHTTPRequest.
type HTTPRequest struct {
	URL         string
	Method      string
	Headers     map[string]string
	Query       map[string]string
	RouteParams map[string]string
	Identities  []fnrpc.ClaimsIdentity
	ContentType string
	Body        []byte
}

// NewHTTPRequest builds an HTTPRequest from a live *http.Request and the
// route parameters matched for it, consuming and closing the request
// body.
func NewHTTPRequest(r *http.Request, routeParams map[string]string) (*HTTPRequest, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	_ = r.Body.Close()

	headers := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		if len(v) > 0 {
			headers[strings.ToLower(k)] = v[0]
		}
	}

	query := make(map[string]string)
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			query[k] = v[0]
		}
	}

	return &HTTPRequest{
		URL:         r.URL.String(),
		Method:      r.Method,
		Headers:     headers,
		Query:       query,
		RouteParams: routeParams,
		ContentType: r.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// toWireHTTP builds the Http TypedData case for an inbound request. The
// body sub-TypedData is chosen by content-type; RawBody is always
// populated, but its fidelity to the original bytes depends on
// CapRawHttpBodyBytes — see the round-trip note below.
func toWireHTTP(req *HTTPRequest, caps CapabilityChecker) (*fnrpc.TypedData, error) {
	body, err := convertHTTPBody(req.Body, req.ContentType)
	if err != nil {
		return nil, err
	}

	// Per the wire contract, raw body bytes are only bit-for-bit
	// preserved when the worker advertised CapRawHttpBodyBytes; absent
	// that capability, raw body is the UTF-8 decode/re-encode of the
	// original bytes (lossy for non-UTF-8 payloads, but that is the
	// documented behavior being preserved here, not a bug to "fix").
	rawBody := req.Body
	if !caps.Has(CapRawHttpBodyBytes) {
		rawBody = []byte(strings.ToValidUTF8(string(req.Body), "�"))
	}

	return &fnrpc.TypedData{
		Case: fnrpc.TypedDataHTTP,
		Http: &fnrpc.HttpData{
			URL:        req.URL,
			Method:     req.Method,
			Headers:    req.Headers,
			Query:      req.Query,
			Params:     req.RouteParams,
			Identities: req.Identities,
			Body:       body,
			RawBody:    rawBody,
		},
	}, nil
}

// convertHTTPBody maps a raw HTTP body to its TypedData form by
// content-type: JSON parses to an object (falling back to a plain
// string on parse failure, since a client that lies about its
// Content-Type shouldn't sink the whole invocation); octet-stream and
// multipart bodies stay as bytes; everything else is treated as text.
func convertHTTPBody(body []byte, contentType string) (*fnrpc.TypedData, error) {
	if len(body) == 0 {
		return &fnrpc.TypedData{Case: fnrpc.TypedDataUnset}, nil
	}

	mediaType := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))

	switch {
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		var probe any
		if err := json.Unmarshal(body, &probe); err != nil {
			return &fnrpc.TypedData{Case: fnrpc.TypedDataString, String: string(body)}, nil
		}
		return &fnrpc.TypedData{Case: fnrpc.TypedDataJSON, JSON: string(body)}, nil

	case mediaType == "application/octet-stream" || strings.HasPrefix(mediaType, "multipart/"):
		return &fnrpc.TypedData{Case: fnrpc.TypedDataBytes, Bytes: body}, nil

	default:
		return &fnrpc.TypedData{Case: fnrpc.TypedDataString, String: string(body)}, nil
	}
}

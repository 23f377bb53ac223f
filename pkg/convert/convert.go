// Package convert implements the one pure, stateless mapping this
// repository depends on everywhere else: Go value <-> fnrpc.TypedData.
//
// Every case below exists because the wire format distinguishes it from
// its neighbors, and each is commented individually because this is the
// part of the system most likely to grow a new case later (a new
// scalar kind, a new collection element type, a new HTTP body
// content-type). Keep that pattern: when you add a case, explain why
// the existing ones don't already cover it.
package convert

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/cuemby/fnchannel/pkg/fnrpc"
)

// Capability names the converter reacts to. These are advertised by
// the worker during the init handshake and never removed thereafter.
const (
	CapRawHttpBodyBytes          = "RawHttpBodyBytes"
	CapTypedDataCollectionSupported = "TypedDataCollectionSupported"
)

// CapabilityChecker reports whether a named capability was advertised.
// Defined here rather than imported from pkg/channel (which owns the
// concrete Capability Registry) so convert has no dependency on the
// channel package: channel depends on convert, not the other way
// around, and a plain Go map with a Has method already satisfies this
// interface structurally.
type CapabilityChecker interface {
	Has(name string) bool
}

// noCapabilities is used when a caller converts a value without a
// capability context (e.g. scalar conversions, which never consult
// capabilities).
type noCapabilities struct{}

func (noCapabilities) Has(string) bool { return false }

// NoCapabilities is a CapabilityChecker that never reports a
// capability as present. Useful for ToWire calls on values that are
// never gated by a capability (ints, strings, bytes, JSON fallback).
var NoCapabilities CapabilityChecker = noCapabilities{}

// ToWire converts a Go value into its TypedData wire representation.
// A nil value maps to an empty (TypedDataUnset) TypedData, matching
// the "null value maps to an empty TypedData" rule.
func ToWire(value any, caps CapabilityChecker) (*fnrpc.TypedData, error) {
	if caps == nil {
		caps = NoCapabilities
	}

	switch v := value.(type) {
	case nil:
		return &fnrpc.TypedData{Case: fnrpc.TypedDataUnset}, nil

	case []byte:
		// Raw bytes map directly; this is also where an io.Reader lands
		// after being materialized below.
		return &fnrpc.TypedData{Case: fnrpc.TypedDataBytes, Bytes: v}, nil

	case io.Reader:
		b, err := io.ReadAll(v)
		if err != nil {
			return nil, fmt.Errorf("convert: reading stream value: %w", err)
		}
		return &fnrpc.TypedData{Case: fnrpc.TypedDataBytes, Bytes: b}, nil

	case string:
		return &fnrpc.TypedData{Case: fnrpc.TypedDataString, String: v}, nil

	case int64:
		return &fnrpc.TypedData{Case: fnrpc.TypedDataInt, Int: v}, nil

	case int:
		return &fnrpc.TypedData{Case: fnrpc.TypedDataInt, Int: int64(v)}, nil

	case float64:
		return &fnrpc.TypedData{Case: fnrpc.TypedDataDouble, Double: v}, nil

	case *HTTPRequest:
		return toWireHTTP(v, caps)

	case [][]byte:
		if caps.Has(CapTypedDataCollectionSupported) {
			return &fnrpc.TypedData{Case: fnrpc.TypedDataCollectionBytes, CollectionBytes: v}, nil
		}
		return jsonFallback(v)

	case []string:
		if caps.Has(CapTypedDataCollectionSupported) {
			return &fnrpc.TypedData{Case: fnrpc.TypedDataCollectionString, CollectionString: v}, nil
		}
		return jsonFallback(v)

	case []float64:
		if caps.Has(CapTypedDataCollectionSupported) {
			return &fnrpc.TypedData{Case: fnrpc.TypedDataCollectionDouble, CollectionDouble: v}, nil
		}
		return jsonFallback(v)

	case []int64:
		if caps.Has(CapTypedDataCollectionSupported) {
			return &fnrpc.TypedData{Case: fnrpc.TypedDataCollectionSint64, CollectionSint64: v}, nil
		}
		return jsonFallback(v)

	default:
		return jsonFallback(v)
	}
}

// jsonFallback handles "anything else": JSON-serialize, and on
// marshaling failure fall back to a string representation rather than
// erroring the whole conversion. This mirrors the tolerant
// error-to-string style used throughout the worker lifecycle code,
// where a malformed value should degrade, not abort, a conversion.
func jsonFallback(v any) (*fnrpc.TypedData, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return &fnrpc.TypedData{Case: fnrpc.TypedDataString, String: fmt.Sprintf("%v", v)}, nil
	}
	return &fnrpc.TypedData{Case: fnrpc.TypedDataJSON, JSON: string(b)}, nil
}

// FromWire converts a TypedData back into a Go value. JSON values are
// parsed with encoding/json's default behavior, which never coerces a
// date-shaped string into time.Time — dates round-trip as strings
// unless the caller re-parses them deliberately.
func FromWire(data *fnrpc.TypedData) (any, error) {
	if data == nil {
		return nil, nil
	}

	switch data.Case {
	case fnrpc.TypedDataUnset:
		return nil, nil
	case fnrpc.TypedDataBytes:
		return data.Bytes, nil
	case fnrpc.TypedDataString:
		return data.String, nil
	case fnrpc.TypedDataInt:
		return data.Int, nil
	case fnrpc.TypedDataDouble:
		return data.Double, nil
	case fnrpc.TypedDataJSON:
		var v any
		if err := json.Unmarshal([]byte(data.JSON), &v); err != nil {
			return nil, fmt.Errorf("convert: unmarshaling json typed data: %w", err)
		}
		return v, nil
	case fnrpc.TypedDataHTTP:
		return data.Http, nil
	case fnrpc.TypedDataCollectionBytes:
		return data.CollectionBytes, nil
	case fnrpc.TypedDataCollectionString:
		return data.CollectionString, nil
	case fnrpc.TypedDataCollectionDouble:
		return data.CollectionDouble, nil
	case fnrpc.TypedDataCollectionSint64:
		return data.CollectionSint64, nil
	default:
		return nil, fmt.Errorf("convert: unknown typed data case %q", data.Case)
	}
}

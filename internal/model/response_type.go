package model

import "fmt"

// ResponseType is the decoding target for upstream response bodies.
type ResponseType string

const (
	ResponseString ResponseType = "string"
	ResponseBytes  ResponseType = "bytes"
	ResponseJSON   ResponseType = "json"
)

// ParseResponseType maps a config value to a ResponseType. Empty means string.
func ParseResponseType(s string) (ResponseType, error) {
	switch ResponseType(s) {
	case "", ResponseString:
		return ResponseString, nil
	case ResponseBytes:
		return ResponseBytes, nil
	case ResponseJSON:
		return ResponseJSON, nil
	}
	return "", fmt.Errorf("unknown response type %q", s)
}

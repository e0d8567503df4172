// Package dvr records and replays HTTP traffic at the connector boundary.
//
// A RecordingConnection wraps a real connector and captures every request,
// response and body chunk as an ordered list of events. A
// ReplayingConnection serves those events back to the client under test and
// captures what the client actually sent, so that tests can check it
// against the recording.
package dvr

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"
)

// Version identifies the recording format.
type Version string

// V0 is the only recording format.
const V0 Version = "V0"

// UnmarshalJSON rejects unknown versions.
func (v *Version) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if Version(s) != V0 {
		return fmt.Errorf("dvr: unsupported version %q", s)
	}
	*v = Version(s)
	return nil
}

// NetworkTraffic is the content of a recording file.
type NetworkTraffic struct {
	Events  []Event `json:"events"`
	Docs    *string `json:"docs"`
	Version Version `json:"version"`
}

// ConnectionID groups the events of one logical connection.
type ConnectionID int

// Event is a single recorded step of a connection.
type Event struct {
	ConnectionID ConnectionID `json:"connection_id"`
	Action       Action       `json:"action"`
}

// Direction tells which way body data flowed.
type Direction string

const (
	DirectionRequest  Direction = "Request"
	DirectionResponse Direction = "Response"
)

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == DirectionRequest {
		return DirectionResponse
	}
	return DirectionRequest
}

// UnmarshalJSON rejects unknown directions.
func (d *Direction) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch Direction(s) {
	case DirectionRequest, DirectionResponse:
		*d = Direction(s)
		return nil
	default:
		return fmt.Errorf("dvr: unknown direction %q", s)
	}
}

// Request is the recorded head of a request. Header names are lower case.
type Request struct {
	URI     string              `json:"uri"`
	Headers map[string][]string `json:"headers"`
	Method  string              `json:"method"`
}

// Response is the recorded head of a response. Header names are lower case.
type Response struct {
	Status  int                 `json:"status"`
	Headers map[string][]string `json:"headers"`
}

// ResponseResult is either a response head or the error the connector
// returned instead.
type ResponseResult struct {
	Ok  *Response `json:"Ok,omitempty"`
	Err *string   `json:"Err,omitempty"`
}

// UnmarshalJSON requires exactly one of Ok or Err.
func (r *ResponseResult) UnmarshalJSON(b []byte) error {
	type plain ResponseResult
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	if (p.Ok == nil) == (p.Err == nil) {
		return errors.New("dvr: response must be exactly one of Ok or Err")
	}
	*r = ResponseResult(p)
	return nil
}

type RequestAction struct {
	Request Request `json:"request"`
}

type ResponseAction struct {
	Response ResponseResult `json:"response"`
}

type DataAction struct {
	Data      BodyData  `json:"data"`
	Direction Direction `json:"direction"`
}

type EofAction struct {
	Ok        bool      `json:"ok"`
	Direction Direction `json:"direction"`
}

// Action is a tagged union; exactly one field is set.
type Action struct {
	Request  *RequestAction  `json:"Request,omitempty"`
	Response *ResponseAction `json:"Response,omitempty"`
	Data     *DataAction     `json:"Data,omitempty"`
	Eof      *EofAction      `json:"Eof,omitempty"`
}

// UnmarshalJSON requires exactly one variant.
func (a *Action) UnmarshalJSON(b []byte) error {
	type plain Action
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	set := 0
	for _, ok := range []bool{p.Request != nil, p.Response != nil, p.Data != nil, p.Eof != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("dvr: action must have exactly one variant, got %d", set)
	}
	*a = Action(p)
	return nil
}

// Kind names the variant that is set.
func (a Action) Kind() string {
	switch {
	case a.Request != nil:
		return "Request"
	case a.Response != nil:
		return "Response"
	case a.Data != nil:
		return "Data"
	case a.Eof != nil:
		return "Eof"
	default:
		return "Invalid"
	}
}

func requestEvent(id ConnectionID, req Request) Event {
	return Event{ConnectionID: id, Action: Action{Request: &RequestAction{Request: req}}}
}

func responseEvent(id ConnectionID, resp Response) Event {
	return Event{ConnectionID: id, Action: Action{Response: &ResponseAction{Response: ResponseResult{Ok: &resp}}}}
}

func responseErrorEvent(id ConnectionID, msg string) Event {
	return Event{ConnectionID: id, Action: Action{Response: &ResponseAction{Response: ResponseResult{Err: &msg}}}}
}

func dataEvent(id ConnectionID, data []byte, dir Direction) Event {
	return Event{ConnectionID: id, Action: Action{Data: &DataAction{Data: NewBodyData(data), Direction: dir}}}
}

func eofEvent(id ConnectionID, ok bool, dir Direction) Event {
	return Event{ConnectionID: id, Action: Action{Eof: &EofAction{Ok: ok, Direction: dir}}}
}

// BodyData is a chunk of body bytes. Valid UTF-8 is stored as text so that
// recordings stay readable; anything else is stored as base64.
type BodyData struct {
	raw    []byte
	base64 bool
}

// NewBodyData copies b.
func NewBodyData(b []byte) BodyData {
	raw := bytes.Clone(b)
	return BodyData{raw: raw, base64: !utf8.Valid(raw)}
}

// Bytes returns a copy of the chunk.
func (d BodyData) Bytes() []byte { return bytes.Clone(d.raw) }

// IsUTF8 reports whether the chunk is stored as text.
func (d BodyData) IsUTF8() bool { return !d.base64 }

// Len returns the chunk size in bytes.
func (d BodyData) Len() int { return len(d.raw) }

func (d BodyData) String() string {
	if d.base64 {
		return base64.StdEncoding.EncodeToString(d.raw)
	}
	return string(d.raw)
}

type bodyDataJSON struct {
	Utf8   *string `json:"Utf8,omitempty"`
	Base64 *string `json:"Base64,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (d BodyData) MarshalJSON() ([]byte, error) {
	s := d.String()
	if d.base64 {
		return json.Marshal(bodyDataJSON{Base64: &s})
	}
	return json.Marshal(bodyDataJSON{Utf8: &s})
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *BodyData) UnmarshalJSON(b []byte) error {
	var v bodyDataJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch {
	case v.Utf8 != nil && v.Base64 == nil:
		*d = BodyData{raw: []byte(*v.Utf8)}
	case v.Base64 != nil && v.Utf8 == nil:
		raw, err := base64.StdEncoding.DecodeString(*v.Base64)
		if err != nil {
			return fmt.Errorf("dvr: invalid base64 body data: %w", err)
		}
		*d = BodyData{raw: raw, base64: true}
	default:
		return errors.New("dvr: body data must be exactly one of Utf8 or Base64")
	}
	return nil
}

func headersToMap(h http.Header) map[string][]string {
	out := make(map[string][]string, len(h))
	for name, values := range h {
		key := strings.ToLower(name)
		out[key] = append(out[key], values...)
	}
	return out
}

func mapToHeaders(m map[string][]string) http.Header {
	h := make(http.Header, len(m))
	for name, values := range m {
		for _, v := range values {
			h.Add(name, v)
		}
	}
	return h
}

func requestFromHTTP(req *http.Request) Request {
	return Request{
		URI:     req.URL.String(),
		Headers: headersToMap(req.Header),
		Method:  req.Method,
	}
}

func responseFromHTTP(resp *http.Response) Response {
	return Response{
		Status:  resp.StatusCode,
		Headers: headersToMap(resp.Header),
	}
}

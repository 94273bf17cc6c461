// Package wire defines the JSON shapes shared by the HTTP API and the MCP
// tool interface.
package wire

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"unicode/utf8"

	"github.com/eugenetaranov/sshgate/internal/gateway"
)

// Request is the JSON form of gateway.Request.
type Request struct {
	Host                  string   `json:"host"`
	Command               string   `json:"command"`
	User                  string   `json:"user,omitempty"`
	Port                  int      `json:"port,omitempty"`
	Timeout               int      `json:"timeout,omitempty"`
	SSHDir                string   `json:"ssh_dir,omitempty"`
	StrictHostKeyChecking string   `json:"strict_host_key_checking,omitempty"`
	ProxyJump             string   `json:"proxy_jump,omitempty"`
	AllocateTTY           bool     `json:"allocate_tty,omitempty"`
	ExtraOptions          []string `json:"extra_opts,omitempty"`
}

// Gateway converts the wire request into a gateway request.
func (r Request) Gateway() gateway.Request {
	return gateway.Request{
		Host:                  r.Host,
		User:                  r.User,
		Port:                  r.Port,
		Command:               r.Command,
		TimeoutSeconds:        r.Timeout,
		StrictHostKeyChecking: r.StrictHostKeyChecking,
		ExtraOptions:          r.ExtraOptions,
		ProxyJump:             r.ProxyJump,
		AllocateTTY:           r.AllocateTTY,
		SSHDir:                r.SSHDir,
	}
}

// DecodeRequest reads a single JSON object. Unknown fields and trailing
// data are rejected.
func DecodeRequest(r io.Reader) (Request, error) {
	var req Request
	if err := DecodeStrict(r, &req); err != nil {
		return Request{}, err
	}
	return req, nil
}

// DecodeStrict decodes exactly one JSON value into v, rejecting unknown
// object fields. Errors describe the JSON problem without echoing input.
func DecodeStrict(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		return describeDecodeError(err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON object")
	}
	return nil
}

func describeDecodeError(err error) error {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.Is(err, io.EOF):
		return errors.New("request body is empty")
	case errors.Is(err, io.ErrUnexpectedEOF):
		return errors.New("request body is truncated")
	case errors.As(err, &syntaxErr):
		return fmt.Errorf("malformed JSON at offset %d", syntaxErr.Offset)
	case errors.As(err, &typeErr):
		if typeErr.Field != "" {
			return fmt.Errorf("field %q must be %s", typeErr.Field, typeErr.Type)
		}
		return fmt.Errorf("expected a JSON object")
	default:
		return err
	}
}

// EncodingBase64 marks a stream that is not valid UTF-8.
const EncodingBase64 = "base64"

// Result is the JSON form of gateway.Result.
type Result struct {
	ExitCode        int     `json:"exit_code"`
	Stdout          string  `json:"stdout"`
	Stderr          string  `json:"stderr"`
	StdoutEncoding  string  `json:"stdout_encoding,omitempty"`
	StderrEncoding  string  `json:"stderr_encoding,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
	StdoutTruncated bool    `json:"stdout_truncated"`
	StderrTruncated bool    `json:"stderr_truncated"`
	TimedOut        bool    `json:"timed_out"`
}

// FromResult converts a gateway result. Valid UTF-8 output is emitted as a
// plain string; anything else is base64 with the matching *_encoding field
// set, so the bytes survive a JSON round trip.
func FromResult(res *gateway.Result) *Result {
	if res == nil {
		return nil
	}
	out := &Result{
		ExitCode:        res.ExitCode,
		DurationSeconds: math.Round(res.Duration.Seconds()*1000) / 1000,
		StdoutTruncated: res.StdoutTruncated,
		StderrTruncated: res.StderrTruncated,
		TimedOut:        res.TimedOut,
	}
	out.Stdout, out.StdoutEncoding = encodeStream(res.Stdout)
	out.Stderr, out.StderrEncoding = encodeStream(res.Stderr)
	return out
}

// StdoutBytes returns the raw stdout bytes.
func (r *Result) StdoutBytes() ([]byte, error) {
	return decodeStream(r.Stdout, r.StdoutEncoding)
}

// StderrBytes returns the raw stderr bytes.
func (r *Result) StderrBytes() ([]byte, error) {
	return decodeStream(r.Stderr, r.StderrEncoding)
}

func encodeStream(b []byte) (string, string) {
	if utf8.Valid(b) {
		return string(b), ""
	}
	return base64.StdEncoding.EncodeToString(b), EncodingBase64
}

func decodeStream(s, encoding string) ([]byte, error) {
	switch encoding {
	case "":
		return []byte(s), nil
	case EncodingBase64:
		return base64.StdEncoding.DecodeString(s)
	default:
		return nil, fmt.Errorf("unknown stream encoding %q", encoding)
	}
}

// ErrorBody is returned for every failed request. Result is set only for
// timeouts and cancellations that produced partial output.
type ErrorBody struct {
	Error  string  `json:"error"`
	Field  string  `json:"field,omitempty"`
	Result *Result `json:"result,omitempty"`
}

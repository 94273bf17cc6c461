// Package mcp serves the gateway as a Model Context Protocol tool over
// newline-delimited JSON-RPC 2.0 on stdio.
package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/eugenetaranov/sshgate/internal/gateway"
	"github.com/eugenetaranov/sshgate/internal/wire"
)

// Runner executes a gateway request. *gateway.Gateway implements it.
type Runner interface {
	Run(ctx context.Context, req gateway.Request) (*gateway.Result, error)
}

// Server answers MCP requests. Tool calls run concurrently; responses are
// written one per line in completion order.
type Server struct {
	runner   Runner
	log      logrus.FieldLogger
	version  string
	sem      *semaphore.Weighted
	maxLine  int
	mu       sync.Mutex
	w        io.Writer
	inflight sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. It must not write to the protocol stream.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// WithVersion sets the version reported in serverInfo.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithMaxConcurrent bounds the number of tool calls running at once.
func WithMaxConcurrent(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithMaxLineBytes bounds the size of a single request line.
func WithMaxLineBytes(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxLine = n
		}
	}
}

// New creates a Server.
func New(runner Runner, opts ...Option) *Server {
	s := &Server{
		runner:  runner,
		log:     logrus.StandardLogger(),
		version: "dev",
		sem:     semaphore.NewWeighted(16),
		maxLine: 1 << 20,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type line struct {
	data    []byte
	tooLong bool
}

// Serve reads requests from r and writes responses to w until r is
// exhausted or ctx is canceled. It waits for running tool calls before
// returning; on cancellation those calls are terminated.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	s.w = w

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan line)
	readErr := make(chan error, 1)
	go func() {
		readErr <- s.readLines(ctx, r, lines)
		close(lines)
	}()

	s.log.WithField("version", s.version).Info("MCP server ready")

	for {
		select {
		case <-ctx.Done():
			s.inflight.Wait()
			return ctx.Err()
		case l, ok := <-lines:
			if !ok {
				s.inflight.Wait()
				err := <-readErr
				if errors.Is(err, io.EOF) {
					return nil
				}
				return err
			}
			s.handleLine(ctx, l)
		}
	}
}

func (s *Server) readLines(ctx context.Context, r io.Reader, out chan<- line) error {
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		data, tooLong, err := readLine(br, s.maxLine)
		if len(bytes.TrimSpace(data)) > 0 || tooLong {
			select {
			case out <- line{data: data, tooLong: tooLong}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err != nil {
			return err
		}
	}
}

// readLine returns the next newline-terminated line. Lines longer than max
// are consumed and reported with tooLong set and no data.
func readLine(br *bufio.Reader, max int) ([]byte, bool, error) {
	var buf []byte
	tooLong := false
	for {
		frag, err := br.ReadSlice('\n')
		if !tooLong {
			if len(buf)+len(frag) > max+1 {
				tooLong = true
				buf = nil
			} else {
				buf = append(buf, frag...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return buf, tooLong, err
	}
}

func (s *Server) handleLine(ctx context.Context, l line) {
	if l.tooLong {
		s.writeError(nullID, &rpcError{Code: CodeInvalidRequest, Message: "Invalid Request: message too large"})
		return
	}

	data := bytes.TrimSpace(l.data)
	if !json.Valid(data) {
		s.writeError(nullID, &rpcError{Code: CodeParseError, Message: "Parse error: Invalid JSON"})
		return
	}

	var req request
	if data[0] != '{' || json.Unmarshal(data, &req) != nil {
		s.writeError(nullID, &rpcError{Code: CodeInvalidRequest, Message: "Invalid Request"})
		return
	}

	id := req.ID
	if id == nil {
		id = nullID
	}
	if req.JSONRPC != jsonrpcVersion || req.Method == "" {
		s.writeError(id, &rpcError{Code: CodeInvalidRequest, Message: "Invalid Request"})
		return
	}

	log := s.log.WithField("method", req.Method)
	if !req.isNotification() {
		log = log.WithField("id", string(req.ID))
	}
	log.Debug("MCP request")

	if req.Method == "tools/call" && !req.isNotification() {
		s.dispatchCall(ctx, req)
		return
	}

	result, rerr := s.handle(req)
	if req.isNotification() {
		return
	}
	if rerr != nil {
		s.writeError(id, rerr)
		return
	}
	s.write(response{JSONRPC: jsonrpcVersion, ID: id, Result: result})
}

func (s *Server) handle(req request) (any, *rpcError) {
	switch req.Method {
	case "initialize":
		return initializeResult{
			ProtocolVersion: protocolVersion,
			Capabilities: map[string]any{
				"tools": map[string]any{"listChanged": false},
			},
			ServerInfo: serverInfo{Name: "sshgate", Version: s.version},
		}, nil
	case "notifications/initialized", "notifications/cancelled":
		return nil, nil
	case "ping":
		return struct{}{}, nil
	case "tools/list":
		return toolsListResult{Tools: []tool{sshTool}}, nil
	default:
		return nil, &rpcError{Code: CodeMethodNotFound, Message: "Method not found: " + req.Method}
	}
}

// dispatchCall runs a tool call in its own goroutine once a concurrency
// slot is free. Reading stops while all slots are busy.
func (s *Server) dispatchCall(ctx context.Context, req request) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.writeError(req.ID, &rpcError{Code: CodeInternalError, Message: "request canceled"})
		return
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer s.sem.Release(1)

		result, rerr := s.callTool(ctx, req.Params)
		if rerr != nil {
			s.writeError(req.ID, rerr)
			return
		}
		s.write(response{JSONRPC: jsonrpcVersion, ID: req.ID, Result: result})
	}()
}

func (s *Server) callTool(ctx context.Context, raw json.RawMessage) (*callResult, *rpcError) {
	var params callParams
	if len(raw) == 0 || json.Unmarshal(raw, &params) != nil {
		return nil, &rpcError{Code: CodeInvalidParams, Message: "Invalid params"}
	}
	if params.Name != toolName {
		return nil, &rpcError{Code: CodeInvalidParams, Message: fmt.Sprintf("Unknown tool: %s", params.Name)}
	}

	args := params.Arguments
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage("{}")
	}
	wreq, err := wire.DecodeRequest(bytes.NewReader(args))
	if err != nil {
		return nil, &rpcError{Code: CodeSSHValidation, Message: "Invalid parameters: " + err.Error()}
	}

	res, err := s.runner.Run(ctx, wreq.Gateway())
	if err != nil {
		return nil, toolError(err)
	}

	out := wire.FromResult(res)
	return &callResult{
		Content:           []content{{Type: "text", Text: summary(wreq.Host, out)}},
		StructuredContent: out,
		IsError:           res.ExitCode != 0,
	}, nil
}

// toolError maps a gateway error to a JSON-RPC error.
func toolError(err error) *rpcError {
	var (
		verr *gateway.ValidationError
		serr *gateway.SpawnError
		terr *gateway.TimeoutError
		cerr *gateway.CanceledError
	)

	switch {
	case errors.As(err, &verr):
		if verr.Field == "ssh_dir" {
			return &rpcError{Code: CodeSSHDirectory, Message: "SSH directory error: " + verr.Reason, Data: map[string]string{"field": verr.Field}}
		}
		return &rpcError{Code: CodeSSHValidation, Message: "Invalid parameters: " + verr.Error(), Data: map[string]string{"field": verr.Field}}
	case errors.As(err, &serr):
		return &rpcError{Code: CodeSSHSpawn, Message: "SSH command failed: " + serr.Error()}
	case errors.As(err, &terr):
		return &rpcError{Code: CodeSSHTimeout, Message: "SSH command timed out", Data: resultData(terr.Result)}
	case errors.As(err, &cerr):
		return &rpcError{Code: CodeInternalError, Message: "request canceled", Data: resultData(cerr.Result)}
	default:
		return &rpcError{Code: CodeInternalError, Message: "Internal server error"}
	}
}

// resultData keeps a missing result out of the error's data member.
func resultData(res *gateway.Result) any {
	if res == nil {
		return nil
	}
	return wire.FromResult(res)
}

func summary(host string, res *wire.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "SSH command completed on %s:\n", host)
	fmt.Fprintf(&b, "Exit code: %d\n", res.ExitCode)
	fmt.Fprintf(&b, "Duration: %.3fs\n", res.DurationSeconds)
	fmt.Fprintf(&b, "Stdout%s: %s\n", encodingLabel(res.StdoutEncoding), res.Stdout)
	fmt.Fprintf(&b, "Stderr%s: %s", encodingLabel(res.StderrEncoding), res.Stderr)
	if res.StdoutTruncated || res.StderrTruncated {
		fmt.Fprintf(&b, "\nOutput truncated (stdout=%t, stderr=%t)", res.StdoutTruncated, res.StderrTruncated)
	}
	return b.String()
}

func encodingLabel(encoding string) string {
	if encoding == "" {
		return ""
	}
	return " (" + encoding + ")"
}

func (s *Server) writeError(id json.RawMessage, e *rpcError) {
	s.write(response{JSONRPC: jsonrpcVersion, ID: id, Error: e})
}

// write emits one response line. Concurrent callers never interleave.
func (s *Server) write(resp response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.WithError(err).Error("Failed to encode MCP response")
		data, _ = json.Marshal(response{
			JSONRPC: jsonrpcVersion,
			ID:      resp.ID,
			Error:   &rpcError{Code: CodeInternalError, Message: "Internal server error"},
		})
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(data); err != nil {
		s.log.WithError(err).Error("Failed to write MCP response")
	}
}

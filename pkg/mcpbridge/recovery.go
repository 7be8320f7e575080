package mcpbridge

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// RecoveryAction determines how a CallTool failure should be handled.
type RecoveryAction int

const (
	NoRetry RecoveryAction = iota
	RetryNewSession
)

const (
	InitTimeout      = 30 * time.Second
	OperationTimeout = 90 * time.Second
	ReinitTimeout    = 10 * time.Second
	RetryBackoffMin  = 250 * time.Millisecond
	RetryBackoffMax  = 750 * time.Millisecond
)

// ClassifyError decides whether a failed CallTool is worth retrying with a
// freshly recreated session.
func ClassifyError(err error) RecoveryAction {
	if err == nil {
		return NoRetry
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NoRetry
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NoRetry
		}
		return RetryNewSession
	}
	if isConnectionError(err) {
		return RetryNewSession
	}
	if isProtocolError(err) {
		return NoRetry
	}
	return NoRetry
}

func isConnectionError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, e := range []string{"connection refused", "connection reset", "broken pipe", "connection closed", "no such host"} {
		if strings.Contains(msg, e) {
			return true
		}
	}
	return false
}

func isProtocolError(err error) bool {
	var wireErr *jsonrpc.Error
	if !errors.As(err, &wireErr) {
		return false
	}
	switch wireErr.Code {
	case jsonrpc.CodeParseError, jsonrpc.CodeInvalidRequest, jsonrpc.CodeMethodNotFound, jsonrpc.CodeInvalidParams:
		return true
	default:
		return false
	}
}

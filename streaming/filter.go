// Package streaming implements the two pull-paced TCP servers that push
// fused point clouds and detected documents to viewers (§4.C11): a
// dynamic-scale byte quantizer for positions, a per-client accept loop, and
// a health timer that prunes disconnected viewers.
package streaming

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/rarchambault/Holoportation-2025-2026/logging"
)

// filterError swallows the handful of error shapes that just mean "the
// connection closed", the same set the reference tunnel loop filters,
// mirrored here for the per-viewer pull loops of this package.
func filterError(ctx context.Context, err error, closed <-chan struct{}, logger logging.Logger) error {
	if err == nil {
		return nil
	}

	select {
	case <-closed:
		if errors.Is(err, net.ErrClosed) {
			return nil
		}
	default:
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		return nil
	}
	if strings.Contains(err.Error(), "connection reset by peer") {
		return nil
	}

	if logger != nil {
		logger.CDebugw(ctx, "streaming connection error", "error", err)
	}
	return err
}

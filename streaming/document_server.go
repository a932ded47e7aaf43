package streaming

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/utils"
	"gocv.io/x/gocv"

	"github.com/rarchambault/Holoportation-2025-2026/document"
	"github.com/rarchambault/Holoportation-2025-2026/logging"
)

// jpegQuality is the fixed encode quality for pushed document crops
// (§4.C11 document wire format).
const jpegQuality = 90

// Publish gating thresholds (§4.C7 rate limiting).
const (
	publishMADThreshold = 0.50
	publishStaleAfter   = 30 * time.Second
)

// DocumentServer accepts viewer connections on DocumentPort and pushes a
// JPEG-encoded crop whenever a new document result is pending. Unlike the
// point-cloud server, a viewer that pulls faster than new documents arrive
// gets nothing new to see until C7 posts a fresh, gate-accepted result.
type DocumentServer struct {
	logger  logging.Logger
	workers utils.StoppableWorkers

	mu      sync.Mutex
	viewers map[net.Conn]*viewerState

	pendingMu   sync.Mutex
	pending     *document.Result
	haveLast    bool
	lastImage   gocv.Mat
	lastScore   float64
	lastPublish time.Time
}

// NewDocumentServer builds a server with no document pending. Call Publish
// each time C7 produces a new result.
func NewDocumentServer(logger logging.Logger) *DocumentServer {
	return &DocumentServer{logger: logger, viewers: make(map[net.Conn]*viewerState)}
}

// Publish replaces the pending document, but only if the candidate clears
// the C7 gate: no previous published doc, a large enough image change from
// the last published crop, a higher score, or enough time since the last
// publish (§4.C7 rate limiting, conditions (a)-(d)). A rejected candidate's
// image is released immediately since it will never reach a viewer.
func (s *DocumentServer) Publish(res document.Result) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	accept := !s.haveLast ||
		document.MeanAbsDiff(res.Data, s.lastImage) > publishMADThreshold ||
		res.Score > s.lastScore ||
		time.Since(s.lastPublish) > publishStaleAfter

	if !accept {
		res.Data.Close()
		return
	}

	if s.haveLast {
		s.lastImage.Close()
	}
	s.lastImage = res.Data.Clone()
	s.lastScore = res.Score
	s.lastPublish = time.Now()
	s.haveLast = true

	s.pending = &res
}

// Start opens the listener and begins the accept loop and health timer.
func (s *DocumentServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", portAddr(DocumentPort))
	if err != nil {
		return errors.Wrap(err, "listening for document viewers")
	}

	s.workers = utils.NewStoppableWorkers(
		func(ctx context.Context) { s.acceptLoop(ctx, ln) },
		func(ctx context.Context) { s.healthLoop(ctx) },
	)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	return nil
}

// Stop halts the accept and health loops and closes every viewer socket.
func (s *DocumentServer) Stop() {
	s.workers.Stop()
	s.mu.Lock()
	for c := range s.viewers {
		c.Close()
	}
	s.viewers = make(map[net.Conn]*viewerState)
	s.mu.Unlock()
}

func (s *DocumentServer) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !utils.SelectContextOrWait(ctx, 100*time.Millisecond) {
				return
			}
			continue
		}

		state := &viewerState{}
		s.mu.Lock()
		s.viewers[conn] = state
		s.mu.Unlock()

		go s.serveViewer(ctx, conn, state)

		if !utils.SelectContextOrWait(ctx, 100*time.Millisecond) {
			return
		}
	}
}

func (s *DocumentServer) serveViewer(ctx context.Context, conn net.Conn, state *viewerState) {
	closed := make(chan struct{})
	defer close(closed)
	defer state.disconnected.Store(true)
	defer conn.Close()

	pull := make([]byte, 1)
	for {
		if _, err := conn.Read(pull); err != nil {
			filterError(ctx, err, closed, s.logger)
			return
		}
		if pull[0] != pullByte {
			continue
		}

		res, ok := s.takePending()
		if !ok {
			if !utils.SelectContextOrWait(ctx, 100*time.Millisecond) {
				return
			}
			continue
		}

		if err := writeDocument(conn, res); err != nil {
			filterError(ctx, err, closed, s.logger)
			return
		}

		if !utils.SelectContextOrWait(ctx, 100*time.Millisecond) {
			return
		}
	}
}

func (s *DocumentServer) takePending() (document.Result, bool) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if s.pending == nil {
		return document.Result{}, false
	}
	res := *s.pending
	s.pending = nil
	return res, true
}

func writeDocument(conn net.Conn, res document.Result) error {
	if res.Data.Empty() {
		return errors.New("pending document has no image data")
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, res.Data, []int{gocv.IMWriteJpegQuality, jpegQuality})
	if err != nil {
		return errors.Wrap(err, "encoding document crop as jpeg")
	}
	defer buf.Close()

	jpegBytes := buf.GetBytes()

	header := make([]byte, 12)
	binary.LittleEndian.PutUint32(header[0:4], uint32(res.Width))
	binary.LittleEndian.PutUint32(header[4:8], uint32(res.Height))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(jpegBytes)))

	if _, err := conn.Write(header); err != nil {
		return err
	}
	_, err = conn.Write(jpegBytes)
	return err
}

func (s *DocumentServer) healthLoop(ctx context.Context) {
	for {
		if !utils.SelectContextOrWait(ctx, time.Second) {
			return
		}
		s.pruneDisconnected()
	}
}

func (s *DocumentServer) pruneDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn, state := range s.viewers {
		if state.disconnected.Load() {
			delete(s.viewers, conn)
		}
	}
}

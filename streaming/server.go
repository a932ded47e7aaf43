package streaming

import (
	"context"
	"encoding/binary"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/rarchambault/Holoportation-2025-2026/logging"
	"github.com/rarchambault/Holoportation-2025-2026/spatialmath"
)

// PointCloudPort and DocumentPort are the fixed listener ports for the two
// streaming servers (§4.C11).
const (
	PointCloudPort = 48002
	DocumentPort   = 48003

	pullByte = 0x00
)

// FusedCloud is a snapshot of the coordinator's merged point cloud, read
// under its own merge lock by the caller before being handed to the
// point-cloud server.
type FusedCloud struct {
	Vertices     []spatialmath.Point3f
	Colors       []spatialmath.RGB
	MinPrecision float64
	HalfRange    float64
}

// PointCloudServer accepts viewer connections on PointCloudPort and pushes
// one quantized frame per pull request.
type PointCloudServer struct {
	logger  logging.Logger
	fused   func() FusedCloud
	workers utils.StoppableWorkers

	mu      sync.Mutex
	viewers map[net.Conn]*viewerState
}

type viewerState struct {
	disconnected atomic.Bool
}

// NewPointCloudServer builds a server that reads the fused cloud on demand
// via fused, called once per viewer pull.
func NewPointCloudServer(logger logging.Logger, fused func() FusedCloud) *PointCloudServer {
	return &PointCloudServer{logger: logger, fused: fused, viewers: make(map[net.Conn]*viewerState)}
}

// Start opens the listener and begins the accept loop (100 ms cadence) and
// the health timer (1 s cadence) that prunes disconnected viewers.
func (s *PointCloudServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", portAddr(PointCloudPort))
	if err != nil {
		return errors.Wrap(err, "listening for point cloud viewers")
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
func (s *PointCloudServer) Stop() {
	s.workers.Stop()
	s.mu.Lock()
	for c := range s.viewers {
		c.Close()
	}
	s.viewers = make(map[net.Conn]*viewerState)
	s.mu.Unlock()
}

func (s *PointCloudServer) acceptLoop(ctx context.Context, ln net.Listener) {
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

func (s *PointCloudServer) serveViewer(ctx context.Context, conn net.Conn, state *viewerState) {
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

		frame := s.fused()
		scale := Scale(len(frame.Vertices), frame.MinPrecision)
		points := Quantize(frame.Vertices, frame.Colors, scale, frame.HalfRange)

		if err := writeFrame(conn, scale, points); err != nil {
			filterError(ctx, err, closed, s.logger)
			return
		}

		if !utils.SelectContextOrWait(ctx, 10*time.Millisecond) {
			return
		}
	}
}

func writeFrame(conn net.Conn, scale uint16, points []QuantizedPoint) error {
	header := make([]byte, 6)
	binary.LittleEndian.PutUint16(header[0:2], scale)
	binary.LittleEndian.PutUint32(header[2:6], uint32(len(points)))
	if _, err := conn.Write(header); err != nil {
		return err
	}

	positions := make([]byte, len(points)*3)
	colors := make([]byte, len(points)*3)
	for i, p := range points {
		positions[i*3] = p.BX
		positions[i*3+1] = p.BY
		positions[i*3+2] = p.BZ
		colors[i*3] = p.Color.B
		colors[i*3+1] = p.Color.G
		colors[i*3+2] = p.Color.R
	}

	if _, err := conn.Write(positions); err != nil {
		return err
	}
	_, err := conn.Write(colors)
	return err
}

func (s *PointCloudServer) healthLoop(ctx context.Context) {
	for {
		if !utils.SelectContextOrWait(ctx, time.Second) {
			return
		}
		s.pruneDisconnected()
	}
}

// pruneDisconnected removes every viewer whose serve goroutine has already
// exited, under the viewer-list lock, matching the health timer's job in
// §5's concurrency model.
func (s *PointCloudServer) pruneDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn, state := range s.viewers {
		if state.disconnected.Load() {
			delete(s.viewers, conn)
		}
	}
}

func portAddr(port int) string {
	return ":" + strconv.Itoa(port)
}

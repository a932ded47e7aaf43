// Package codec implements the binary frame format used to record and play
// back captured point clouds (§4.C9): an ASCII header giving the point
// count and timestamp, followed by a raw binary array of millimetre-
// quantized vertices and one of colors.
package codec

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/rarchambault/Holoportation-2025-2026/spatialmath"
)

// Frame is one recorded point cloud: millimetre-quantized vertices in
// lock-step with their colors, and the capture timestamp in milliseconds.
type Frame struct {
	Points    []spatialmath.Point3s
	Colors    []spatialmath.RGB
	Timestamp uint64
}

// Writer appends frames to a recording file using the reference format's
// header-then-binary-block layout, one frame per call to WriteFrame. A
// single Writer may be shared by several pipelines when merge_scans groups
// their recordings into one file, so WriteFrame and Close serialize access
// with mu.
type Writer struct {
	mu        sync.Mutex
	file      *os.File
	buf       *bufio.Writer
	startedAt time.Time
}

// NewWriter creates (or truncates) the file at path and opens it for frame
// recording, resetting the elapsed-time clock the way OpenNewFileForWriting
// does via ResetRecordingTimer.
func NewWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "creating recording file")
	}
	return &Writer{file: f, buf: bufio.NewWriter(f), startedAt: time.Now()}, nil
}

// RecordingFileName builds a timestamped recording file name for the given
// device, mirroring the reference implementation's
// "recording_<id>_<y>_<mo>_<d>_<h>_<mi>_<s>.bin" naming.
func RecordingFileName(deviceID int, at time.Time) string {
	return fmt.Sprintf("recording_%d_%04d_%02d_%02d_%02d_%02d_%02d.bin",
		deviceID, at.Year(), at.Month(), at.Day(), at.Hour(), at.Minute(), at.Second())
}

// WriteFrame appends one frame: an ASCII header ("n_points= N\n
// frame_timestamp= T\n"), the raw vertex array, the raw color array, and a
// trailing newline.
func (w *Writer) WriteFrame(f Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.buf, "n_points= %d\nframe_timestamp= %d\n", len(f.Points), f.Timestamp); err != nil {
		return errors.Wrap(err, "writing frame header")
	}

	for _, p := range f.Points {
		if err := binary.Write(w.buf, binary.LittleEndian, p); err != nil {
			return errors.Wrap(err, "writing point")
		}
	}
	for _, c := range f.Colors {
		if err := binary.Write(w.buf, binary.LittleEndian, c); err != nil {
			return errors.Wrap(err, "writing color")
		}
	}

	if _, err := w.buf.WriteString("\n"); err != nil {
		return errors.Wrap(err, "writing frame trailer")
	}
	return nil
}

// StartedAt returns when this writer began recording.
func (w *Writer) StartedAt() time.Time {
	return w.startedAt
}

// Elapsed returns how long this writer has been recording, mirroring
// GetElapsedRecordingTimeMs.
func (w *Writer) Elapsed() time.Duration {
	return time.Since(w.startedAt)
}

// ResetTimer restarts the elapsed-time clock without reopening the file.
func (w *Writer) ResetTimer() {
	w.startedAt = time.Now()
}

// Close flushes buffered data and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.buf.Flush(); err != nil {
		return errors.Wrap(err, "flushing recording file")
	}
	return w.file.Close()
}

// Reader plays back frames previously written by a Writer.
type Reader struct {
	r io.Reader
}

// NewReader opens path for sequential frame playback.
func NewReader(path string) (*Reader, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "opening recording file")
	}
	return &Reader{r: bufio.NewReader(f)}, f.Close, nil
}

// ReadFrame reads the next frame from the stream. It returns io.EOF once
// the file is exhausted, and an empty, non-error Frame for a frame that
// legitimately recorded zero points.
func (r *Reader) ReadFrame() (Frame, error) {
	var numPoints int
	var timestamp uint64
	n, err := fmt.Fscanf(r.r, "n_points= %d\nframe_timestamp= %d\n", &numPoints, &timestamp)
	if err != nil {
		if n == 0 && (err == io.EOF || err == io.ErrUnexpectedEOF) {
			return Frame{}, io.EOF
		}
		return Frame{}, errors.Wrap(err, "reading frame header")
	}

	if numPoints == 0 {
		var trailer [1]byte
		if _, err := io.ReadFull(r.r, trailer[:]); err != nil {
			return Frame{}, errors.Wrap(err, "reading frame trailer")
		}
		return Frame{Timestamp: timestamp}, nil
	}

	points := make([]spatialmath.Point3s, numPoints)
	for i := range points {
		if err := binary.Read(r.r, binary.LittleEndian, &points[i]); err != nil {
			return Frame{}, errors.Wrap(err, "reading point")
		}
	}
	colors := make([]spatialmath.RGB, numPoints)
	for i := range colors {
		if err := binary.Read(r.r, binary.LittleEndian, &colors[i]); err != nil {
			return Frame{}, errors.Wrap(err, "reading color")
		}
	}

	var trailer [1]byte
	if _, err := io.ReadFull(r.r, trailer[:]); err != nil {
		return Frame{}, errors.Wrap(err, "reading frame trailer")
	}

	return Frame{Points: points, Colors: colors, Timestamp: timestamp}, nil
}

// LoopingReader wraps a Reader and reopens its file from the start whenever
// playback reaches EOF, so a recording plays on repeat (§6: "Playback MUST
// reopen the file at EOF to loop").
type LoopingReader struct {
	path   string
	reader *Reader
	closer func() error
}

// NewLoopingReader opens path for looping playback.
func NewLoopingReader(path string) (*LoopingReader, error) {
	r, closer, err := NewReader(path)
	if err != nil {
		return nil, err
	}
	return &LoopingReader{path: path, reader: r, closer: closer}, nil
}

// ReadFrame reads the next frame, transparently reopening the underlying
// file and retrying once if playback had reached EOF.
func (l *LoopingReader) ReadFrame() (Frame, error) {
	f, err := l.reader.ReadFrame()
	if err != io.EOF {
		return f, err
	}

	if err := l.closer(); err != nil {
		return Frame{}, errors.Wrap(err, "closing recording file before reopen")
	}
	r, closer, err := NewReader(l.path)
	if err != nil {
		return Frame{}, errors.Wrap(err, "reopening recording file for loop")
	}
	l.reader = r
	l.closer = closer

	return l.reader.ReadFrame()
}

// Close releases the underlying file.
func (l *LoopingReader) Close() error {
	return l.closer()
}

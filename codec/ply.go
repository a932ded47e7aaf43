package codec

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/rarchambault/Holoportation-2025-2026/spatialmath"
)

// ReadPLY loads a single ASCII PLY point cloud fixture into a Frame (a
// supplement to the recording format, not a
// replacement for it: PLY files carry no per-frame timestamp, so callers
// supply one).
func ReadPLY(path string, timestamp uint64) (Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return Frame{}, errors.Wrap(err, "opening ply file")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	vertexCount := 0
	hasColor := false
	inHeader := true

	for inHeader && scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "element vertex"):
			fields := strings.Fields(line)
			vertexCount, err = strconv.Atoi(fields[len(fields)-1])
			if err != nil {
				return Frame{}, errors.Wrap(err, "parsing vertex count")
			}
		case strings.HasPrefix(line, "property uchar red"):
			hasColor = true
		case line == "end_header":
			inHeader = false
		}
	}
	if inHeader {
		return Frame{}, errors.New("ply file missing end_header")
	}

	points := make([]spatialmath.Point3s, 0, vertexCount)
	colors := make([]spatialmath.RGB, 0, vertexCount)

	for i := 0; i < vertexCount && scanner.Scan(); i++ {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			return Frame{}, errors.Errorf("malformed vertex line %d", i)
		}
		x, _ := strconv.ParseFloat(fields[0], 32)
		y, _ := strconv.ParseFloat(fields[1], 32)
		z, _ := strconv.ParseFloat(fields[2], 32)
		p := spatialmath.Point3f{X: float32(x), Y: float32(y), Z: float32(z)}
		points = append(points, p.ToPoint3s())

		var c spatialmath.RGB
		if hasColor && len(fields) >= 6 {
			r, _ := strconv.Atoi(fields[3])
			g, _ := strconv.Atoi(fields[4])
			b, _ := strconv.Atoi(fields[5])
			c = spatialmath.RGB{R: byte(r), G: byte(g), B: byte(b)}
		}
		colors = append(colors, c)
	}

	if err := scanner.Err(); err != nil {
		return Frame{}, errors.Wrap(err, "reading ply body")
	}

	return Frame{Points: points, Colors: colors, Timestamp: timestamp}, nil
}

// WritePLY writes f as a single PLY point cloud, ascii or
// binary_little_endian depending on binaryFormat, mirroring a camera's
// save_binary_ply configuration. This is the interchange alternative to the
// C9 recording format (§4.C9) for operators who want a single frame in a
// format third-party point cloud viewers already read.
func WritePLY(path string, f Frame, binaryFormat bool) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating ply file")
	}
	defer file.Close()

	w := bufio.NewWriter(file)

	format := "ascii 1.0"
	if binaryFormat {
		format = "binary_little_endian 1.0"
	}
	fmt.Fprintf(w, "ply\nformat %s\nelement vertex %d\n", format, len(f.Points))
	fmt.Fprint(w, "property float x\nproperty float y\nproperty float z\n")
	fmt.Fprint(w, "property uchar red\nproperty uchar green\nproperty uchar blue\nend_header\n")

	for i, p := range f.Points {
		var c spatialmath.RGB
		if i < len(f.Colors) {
			c = f.Colors[i]
		}
		v := p.ToPoint3f()

		if !binaryFormat {
			fmt.Fprintf(w, "%f %f %f %d %d %d\n", v.X, v.Y, v.Z, c.R, c.G, c.B)
			continue
		}

		for _, coord := range [3]float32{v.X, v.Y, v.Z} {
			if err := binary.Write(w, binary.LittleEndian, coord); err != nil {
				return errors.Wrap(err, "writing ply vertex")
			}
		}
		if _, err := w.Write([]byte{c.R, c.G, c.B}); err != nil {
			return errors.Wrap(err, "writing ply color")
		}
	}

	return errors.Wrap(w.Flush(), "flushing ply file")
}

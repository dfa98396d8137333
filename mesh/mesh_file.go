package mesh

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chenzhekl/goply"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// ReadFile loads the vertices of the mesh or point cloud at fn, dispatching
// on the file extension.
func ReadFile(fn string) (*Static, error) {
	switch filepath.Ext(fn) {
	case ".ply":
		return ReadPLYFile(fn)
	case ".obj":
		return ReadOBJFile(fn)
	case ".pcd":
		return ReadPCDFile(fn)
	default:
		return nil, errors.Errorf("do not know how to read file %q", fn)
	}
}

// ReadPLYFile loads the vertex element of a PLY file.
func ReadPLYFile(fn string) (*Static, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)
	return ReadPLY(f)
}

// ReadPLY loads the vertex element of a PLY stream. Faces and all other
// elements are ignored.
func ReadPLY(r io.Reader) (*Static, error) {
	ply := goply.New(r)
	vertices := ply.Elements("vertex")
	pts := make([]r3.Vector, 0, len(vertices))
	for i, vertex := range vertices {
		x, err := plyFloat(vertex, "x")
		if err != nil {
			return nil, errors.Wrapf(err, "vertex %d", i)
		}
		y, err := plyFloat(vertex, "y")
		if err != nil {
			return nil, errors.Wrapf(err, "vertex %d", i)
		}
		z, err := plyFloat(vertex, "z")
		if err != nil {
			return nil, errors.Wrapf(err, "vertex %d", i)
		}
		pts = append(pts, r3.Vector{X: x, Y: y, Z: z})
	}
	return NewStatic(pts), nil
}

// plyFloat pulls one coordinate out of a decoded vertex. Exporters write
// positions as float or double, so accept any numeric property type.
func plyFloat(props map[string]interface{}, key string) (float64, error) {
	raw, ok := props[key]
	if !ok {
		return 0, errors.Errorf("property %q missing", key)
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int8:
		return float64(v), nil
	case int16:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint8:
		return float64(v), nil
	case uint16:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	default:
		return 0, errors.Errorf("property %q has non-numeric type %T", key, raw)
	}
}

// ReadOBJFile loads vertex records from a Wavefront OBJ file.
func ReadOBJFile(fn string) (*Static, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)
	return ReadOBJ(f)
}

// ReadOBJ scans r for "v" records. Faces, normals, texture coordinates, and
// grouping directives are skipped.
func ReadOBJ(r io.Reader) (*Static, error) {
	var pts []r3.Vector
	scanner := bufio.NewScanner(r)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := scanner.Text()
		if len(line) < 2 || line[0] == '#' {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 || fields[0] != "v" {
			continue
		}
		// "v x y z" with an optional w we do not use
		if len(fields) < 4 {
			return nil, errors.Errorf("line %d: vertex record has %d coordinates, want 3", lineno, len(fields)-1)
		}
		var coords [3]float64
		for j := 0; j < 3; j++ {
			val, err := strconv.ParseFloat(fields[j+1], 64)
			if err != nil {
				return nil, errors.Wrapf(err, "line %d: bad vertex coordinate %q", lineno, fields[j+1])
			}
			coords[j] = val
		}
		pts = append(pts, r3.Vector{X: coords[0], Y: coords[1], Z: coords[2]})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return NewStatic(pts), nil
}

// PCDType is the data encoding of a PCD file.
type PCDType int

const (
	// PCDAscii writes one space separated point per line.
	PCDAscii PCDType = 0
	// PCDBinary writes packed little-endian float32 triples.
	PCDBinary PCDType = 1
)

var pcdHeaderFields = []string{"VERSION", "FIELDS", "SIZE", "TYPE", "COUNT", "WIDTH", "HEIGHT", "VIEWPOINT", "POINTS", "DATA"}

type pcdHeader struct {
	points int
	data   PCDType
}

// WritePCDFile writes the vertices of src to fn in PCD format.
func WritePCDFile(fn string, src VertexSource, outputType PCDType) (err error) {
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return WritePCD(f, src, outputType)
}

// WritePCD writes the vertices of src as an unorganized x y z point cloud.
func WritePCD(out io.Writer, src VertexSource, outputType PCDType) error {
	n := src.NumVertices()
	_, err := fmt.Fprintf(out, "VERSION .7\n"+
		"FIELDS x y z\n"+
		"SIZE 4 4 4\n"+
		"TYPE F F F\n"+
		"COUNT 1 1 1\n"+
		"WIDTH %d\n"+
		"HEIGHT %d\n"+
		"VIEWPOINT 0 0 0 1 0 0 0\n"+
		"POINTS %d\n",
		n, 1, n)
	if err != nil {
		return err
	}
	switch outputType {
	case PCDAscii:
		_, err = fmt.Fprintf(out, "DATA ascii\n")
	case PCDBinary:
		_, err = fmt.Fprintf(out, "DATA binary\n")
	default:
		return errors.Errorf("unsupported pcd data encoding %d", outputType)
	}
	if err != nil {
		return err
	}
	return writePCDData(out, src, outputType)
}

func writePCDData(out io.Writer, src VertexSource, pcdtype PCDType) error {
	for i := 0; i < src.NumVertices(); i++ {
		p := src.Vertex(i)
		var err error
		switch pcdtype {
		case PCDBinary:
			buf := make([]byte, 12)
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(p.X)))
			binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(float32(p.Y)))
			binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(float32(p.Z)))
			_, err = out.Write(buf)
		case PCDAscii:
			_, err = fmt.Fprintf(out, "%f %f %f\n", p.X, p.Y, p.Z)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// ReadPCDFile loads the points of a PCD file.
func ReadPCDFile(fn string) (*Static, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)
	return ReadPCD(f)
}

// ReadPCD loads an unorganized x y z point cloud written by WritePCD or any
// other tool emitting plain position-only PCD.
func ReadPCD(r io.Reader) (*Static, error) {
	in := bufio.NewReader(r)
	header, err := parsePCDHeader(in)
	if err != nil {
		return nil, err
	}
	switch header.data {
	case PCDAscii:
		return readPCDAscii(in, header)
	case PCDBinary:
		return readPCDBinary(in, header)
	default:
		return nil, errors.Errorf("unsupported pcd data encoding %d", header.data)
	}
}

func parsePCDHeader(in *bufio.Reader) (pcdHeader, error) {
	header := pcdHeader{}
	headerLineCount := 0
	for headerLineCount < len(pcdHeaderFields) {
		line, err := in.ReadString('\n')
		if err != nil {
			return header, errors.Wrapf(err, "reading header line %d", headerLineCount)
		}
		line, _, _ = strings.Cut(line, "#")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		name := pcdHeaderFields[headerLineCount]
		field, value, _ := strings.Cut(line, " ")
		if field != name {
			return header, errors.Errorf("header line is supposed to start with %s but is %q", name, line)
		}
		switch name {
		case "VERSION":
			if value != ".7" && value != "0.7" {
				return header, errors.Errorf("unsupported pcd version %q", value)
			}
		case "FIELDS":
			if value != "x y z" {
				return header, errors.Errorf("unsupported pcd fields %q", value)
			}
		case "SIZE":
			if value != "4 4 4" {
				return header, errors.Errorf("unsupported pcd sizes %q", value)
			}
		case "TYPE":
			if value != "F F F" {
				return header, errors.Errorf("unsupported pcd types %q", value)
			}
		case "COUNT":
			if value != "1 1 1" {
				return header, errors.Errorf("unsupported pcd counts %q", value)
			}
		case "WIDTH", "HEIGHT", "VIEWPOINT":
			// unorganized clouds only; validated through POINTS
		case "POINTS":
			header.points, err = strconv.Atoi(value)
			if err != nil {
				return header, errors.Wrapf(err, "invalid POINTS field %q", value)
			}
		case "DATA":
			switch value {
			case "ascii":
				header.data = PCDAscii
			case "binary":
				header.data = PCDBinary
			default:
				return header, errors.Errorf("unsupported pcd data encoding %q", value)
			}
		}
		headerLineCount++
	}
	return header, nil
}

func readPCDAscii(in *bufio.Reader, header pcdHeader) (*Static, error) {
	pts := make([]r3.Vector, 0, header.points)
	for i := 0; i < header.points; i++ {
		line, err := in.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, errors.Wrapf(err, "reading point %d", i)
		}
		tokens := strings.Fields(line)
		if len(tokens) != 3 {
			return nil, errors.Errorf("point %d has %d fields, want 3", i, len(tokens))
		}
		var coords [3]float64
		for j, token := range tokens {
			coords[j], err = strconv.ParseFloat(token, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid point %d field %q", i, token)
			}
		}
		pts = append(pts, r3.Vector{X: coords[0], Y: coords[1], Z: coords[2]})
	}
	return NewStatic(pts), nil
}

func readPCDBinary(in *bufio.Reader, header pcdHeader) (*Static, error) {
	pts := make([]r3.Vector, 0, header.points)
	buf := make([]byte, 12)
	for i := 0; i < header.points; i++ {
		if _, err := io.ReadFull(in, buf); err != nil {
			return nil, errors.Wrapf(err, "reading point %d", i)
		}
		pts = append(pts, r3.Vector{
			X: float64(math.Float32frombits(binary.LittleEndian.Uint32(buf))),
			Y: float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[4:]))),
			Z: float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[8:]))),
		})
	}
	return NewStatic(pts), nil
}

// Package main contains a command to level a mesh onto the horizontal plane.
//
// It fits a plane to the mesh vertices and prints the 4x4 transform that
// rotates the fitted plane flat and moves its centroid to the origin.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/orthotools/meshlevel/align"
	"github.com/orthotools/meshlevel/mesh"
	"github.com/orthotools/meshlevel/scene"
	"github.com/orthotools/meshlevel/spatialmath"
)

var logger = golog.NewDevelopmentLogger("meshlevel")

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command.
type Arguments struct {
	MeshFile string `flag:"0,required,usage=mesh file (.ply, .obj, or .pcd)"`
	Prior    string `flag:"prior,usage=current mesh transform as 16 comma separated values"`
	ColMajor bool   `flag:"colmajor,usage=treat matrix input and output as column-major"`
	OutPCD   string `flag:"out-pcd,usage=write the leveled vertices to a pcd file"`
	Binary   bool   `flag:"binary,usage=write the pcd file with binary data"`
	Hist     bool   `flag:"hist,usage=print a histogram of residual heights"`
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}

	prior := spatialmath.Identity()
	if argsParsed.Prior != "" {
		var err error
		prior, err = parseTransform(argsParsed.Prior, argsParsed.ColMajor)
		if err != nil {
			return errors.Wrap(err, "parsing prior transform")
		}
	}

	m, err := mesh.ReadFile(argsParsed.MeshFile)
	if err != nil {
		return err
	}

	ch := scene.New(prior, m)
	report, err := align.New(logger).Align(ctx, ch)
	if err != nil {
		return err
	}

	order := "row-major"
	if argsParsed.ColMajor {
		order = "column-major"
	}
	fmt.Printf("new transform (%s):\n", order)
	printMatrix(report.NewTransform, argsParsed.ColMajor)
	fmt.Printf("vertices %d\n", report.VertexCount)
	fmt.Printf("centroid %v -> %v\n", report.OriginalCentroid, report.FinalCentroid)
	fmt.Printf("residual heights max %g mean %g stddev %g\n",
		report.MaxAbsHeight, report.MeanAbsHeight, report.StdDevHeight)

	if argsParsed.Hist {
		if err := printHistogram(report.Heights); err != nil {
			return err
		}
	}

	if argsParsed.OutPCD != "" {
		if err := writeLeveled(argsParsed.OutPCD, m, report, argsParsed.Binary); err != nil {
			return err
		}
		logger.Infow("wrote leveled point cloud", "path", argsParsed.OutPCD, "points", report.VertexCount)
	}
	return nil
}

// parseTransform reads 16 comma separated values into a transform, in the
// order selected by colMajor.
func parseTransform(raw string, colMajor bool) (spatialmath.Transform, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 16 {
		return spatialmath.Transform{}, errors.Errorf("expected 16 values, got %d", len(parts))
	}
	var vals [16]float64
	for i, part := range parts {
		val, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return spatialmath.Transform{}, errors.Wrapf(err, "value %d", i)
		}
		vals[i] = val
	}
	if colMajor {
		return spatialmath.NewFromColMajor(vals), nil
	}
	return spatialmath.NewFromRowMajor(vals), nil
}

func printMatrix(tf spatialmath.Transform, colMajor bool) {
	vals := tf.RowMajor()
	if colMajor {
		vals = tf.ColMajor()
	}
	for i := 0; i < 4; i++ {
		fmt.Printf("% 12.6f % 12.6f % 12.6f % 12.6f\n", vals[4*i], vals[4*i+1], vals[4*i+2], vals[4*i+3])
	}
}

func printHistogram(heights []float64) error {
	min, max := heights[0], heights[0]
	for _, h := range heights {
		if h < min {
			min = h
		}
		if h > max {
			max = h
		}
	}
	if max == min {
		fmt.Println("residual heights are uniform; nothing to plot")
		return nil
	}
	hist := histogram.Hist(20, heights)
	return histogram.Fprint(os.Stdout, hist, histogram.Linear(40))
}

func writeLeveled(fn string, m mesh.VertexSource, report *align.Report, binary bool) error {
	local, err := mesh.Extract(m)
	if err != nil {
		return err
	}
	outputType := mesh.PCDAscii
	if binary {
		outputType = mesh.PCDBinary
	}
	return mesh.WritePCDFile(fn, mesh.NewStatic(report.NewTransform.ApplyAll(local)), outputType)
}

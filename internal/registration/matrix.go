package registration

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// ErrBadMatrix is returned for FLIRT matrices that cannot describe a rigid
// or affine mapping.
var ErrBadMatrix = errors.New("invalid transformation matrix")

const eps = 1e-6

// ReadMatrix parses a 4x4 FLIRT matrix: four lines of four numbers.
func ReadMatrix(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	vals := make([]float64, 0, 16)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		for _, field := range strings.Fields(sc.Text()) {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("%s: %w: %v", path, ErrBadMatrix, err)
			}
			vals = append(vals, v)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(vals) != 16 {
		return nil, fmt.Errorf("%s: %w: %d values, want 16", path, ErrBadMatrix, len(vals))
	}
	return mat.NewDense(4, 4, vals), nil
}

// CheckRigid rejects matrices whose last row is not (0 0 0 1) or whose
// linear part is singular.
func CheckRigid(m mat.Matrix) error {
	r, c := m.Dims()
	if r != 4 || c != 4 {
		return fmt.Errorf("%w: %dx%d", ErrBadMatrix, r, c)
	}
	for j, want := range []float64{0, 0, 0, 1} {
		if math.Abs(m.At(3, j)-want) > eps {
			return fmt.Errorf("%w: bottom row %v", ErrBadMatrix, mat.Row(nil, 3, m))
		}
	}
	linear := mat.DenseCopyOf(m).Slice(0, 3, 0, 3)
	if d := mat.Det(linear); math.Abs(d) < eps {
		return fmt.Errorf("%w: singular (det %g)", ErrBadMatrix, d)
	}
	return nil
}

// Scale returns |det| of the linear part: 1 for a 6-dof rigid matrix.
func Scale(m mat.Matrix) float64 {
	return math.Abs(mat.Det(mat.DenseCopyOf(m).Slice(0, 3, 0, 3)))
}

// verify reads and checks the matrix at path. A missing file (dry run) is
// not an error.
func verify(path string) error {
	m, err := ReadMatrix(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := CheckRigid(m); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// Translation returns the length in mm of the matrix's translation column.
func Translation(m mat.Matrix) float64 {
	return math.Sqrt(m.At(0, 3)*m.At(0, 3) + m.At(1, 3)*m.At(1, 3) + m.At(2, 3)*m.At(2, 3))
}

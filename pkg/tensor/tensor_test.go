package tensor_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/modelinterop/kerasbridge/pkg/tensor"
)

func TestNew(t *testing.T) {
	t.Run("accepts matching shape and data", func(t *testing.T) {
		tr, err := tensor.New([]int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
		require.NoError(t, err)
		require.Equal(t, []int{2, 3}, tr.Shape)
		require.Equal(t, 6, tr.Size())
	})

	t.Run("rejects mismatched element count", func(t *testing.T) {
		_, err := tensor.New([]int{2, 3}, []float32{1, 2, 3})
		require.Error(t, err)
	})

	t.Run("scalar shape has one element", func(t *testing.T) {
		tr, err := tensor.New(nil, []float32{42})
		require.NoError(t, err)
		require.Equal(t, 0, tr.Rank())
	})
}

func TestAtSet(t *testing.T) {
	tr := tensor.Zeros(2, 3)
	tr.Set(7, 1, 2)
	require.Equal(t, float32(7), tr.At(1, 2))
	require.Equal(t, float32(7), tr.Data[5])
	require.Equal(t, float32(0), tr.At(0, 2))
}

func TestReshape(t *testing.T) {
	tr, err := tensor.New([]int{2, 6}, make([]float32, 12))
	require.NoError(t, err)

	t.Run("explicit shape", func(t *testing.T) {
		r, err := tr.Reshape(3, 4)
		require.NoError(t, err)
		require.Equal(t, []int{3, 4}, r.Shape)
	})

	t.Run("inferred dimension", func(t *testing.T) {
		r, err := tr.Reshape(4, -1)
		require.NoError(t, err)
		require.Equal(t, []int{4, 3}, r.Shape)
	})

	t.Run("rejects incompatible shape", func(t *testing.T) {
		_, err := tr.Reshape(5, 5)
		require.Error(t, err)
	})

	t.Run("rejects two inferred dimensions", func(t *testing.T) {
		_, err := tr.Reshape(-1, -1)
		require.Error(t, err)
	})
}

func TestFixtureRoundTrip(t *testing.T) {
	dir := t.TempDir()
	in, err := tensor.New([]int{2, 2}, []float32{0.5, -1.25, 3, 0})
	require.NoError(t, err)

	require.NoError(t, tensor.SaveFixture(dir, "mlp", "xs", in))

	out, err := tensor.LoadFixture(dir, "mlp", "xs")
	require.NoError(t, err)
	require.Equal(t, in.Shape, out.Shape)
	require.Equal(t, in.Data, out.Data)
}

func TestLoadFixtureNestedData(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(tensor.FixtureShapePath(dir, "m", "xs"), []byte("[2,2]"), 0644))
	require.NoError(t, os.WriteFile(tensor.FixtureDataPath(dir, "m", "xs"), []byte("[[1,2],[3,4]]"), 0644))

	out, err := tensor.LoadFixture(dir, "m", "xs")
	require.NoError(t, err)
	require.Equal(t, []float32{1, 2, 3, 4}, out.Data)
}

func TestLoadFixtureErrors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing files", func(t *testing.T) {
		_, err := tensor.LoadFixture(dir, "gone", "xs")
		require.Error(t, err)
	})

	t.Run("shape and data disagree", func(t *testing.T) {
		require.NoError(t, os.WriteFile(tensor.FixtureShapePath(dir, "bad", "xs"), []byte("[3]"), 0644))
		require.NoError(t, os.WriteFile(tensor.FixtureDataPath(dir, "bad", "xs"), []byte("[1,2]"), 0644))
		_, err := tensor.LoadFixture(dir, "bad", "xs")
		require.Error(t, err)
	})

	t.Run("negative dimension", func(t *testing.T) {
		require.NoError(t, os.WriteFile(tensor.FixtureShapePath(dir, "neg", "xs"), []byte("[-1]"), 0644))
		require.NoError(t, os.WriteFile(tensor.FixtureDataPath(dir, "neg", "xs"), []byte("[1]"), 0644))
		_, err := tensor.LoadFixture(dir, "neg", "xs")
		require.Error(t, err)
	})
}

func TestAllClose(t *testing.T) {
	mk := func(data ...float32) *tensor.Tensor {
		tr, err := tensor.New([]int{len(data)}, data)
		require.NoError(t, err)
		return tr
	}

	t.Run("identical tensors", func(t *testing.T) {
		r := tensor.AllClose(mk(1, 2, 3), mk(1, 2, 3), -1, -1)
		require.True(t, r.Equal)
		require.Equal(t, 3, r.Compared)
		require.Zero(t, r.MaxAbsDiff)
	})

	t.Run("within tolerance", func(t *testing.T) {
		r := tensor.AllClose(mk(1.0000005), mk(1.0), -1, -1)
		require.True(t, r.Equal)
	})

	t.Run("outside tolerance", func(t *testing.T) {
		r := tensor.AllClose(mk(1.01), mk(1.0), -1, -1)
		require.False(t, r.Equal)
		require.Equal(t, 1, r.Mismatched)
		require.InDelta(t, 0.01, r.MaxAbsDiff, 1e-6)
		require.Len(t, r.Mismatches, 1)
		require.Equal(t, 0, r.Mismatches[0].Index)
	})

	t.Run("shape mismatch", func(t *testing.T) {
		a := tensor.Zeros(2, 2)
		b := tensor.Zeros(4)
		r := tensor.AllClose(a, b, -1, -1)
		require.False(t, r.Equal)
		require.False(t, r.ShapeMatch)
		require.NotEmpty(t, r.ShapeDetail)
	})

	t.Run("mismatch detail is capped", func(t *testing.T) {
		big := tensor.Zeros(100)
		ref := tensor.Zeros(100)
		for i := range ref.Data {
			ref.Data[i] = 1
		}
		r := tensor.AllClose(big, ref, -1, -1)
		require.Equal(t, 100, r.Mismatched)
		require.Len(t, r.Mismatches, 16)
	})

	t.Run("custom tolerance", func(t *testing.T) {
		r := tensor.AllClose(mk(1.05), mk(1.0), 0.1, 0)
		require.True(t, r.Equal)
	})
}

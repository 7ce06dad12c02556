package tensor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Fixture naming follows the exporter convention: a tensor named "xs" for
// model "mlp" is stored as "mlp.xs-shape.json" and "mlp.xs-data.json" in the
// artifact directory. The shape file holds a JSON integer array and the data
// file holds the flattened values in row-major order.

// FixtureShapePath returns the path of the shape file for a fixture.
func FixtureShapePath(dir, model, name string) string {
	return filepath.Join(dir, fmt.Sprintf("%s.%s-shape.json", model, name))
}

// FixtureDataPath returns the path of the data file for a fixture.
func FixtureDataPath(dir, model, name string) string {
	return filepath.Join(dir, fmt.Sprintf("%s.%s-data.json", model, name))
}

// LoadFixture reads a shape/data JSON pair and assembles the tensor.
func LoadFixture(dir, model, name string) (*Tensor, error) {
	shape, err := readShapeFile(FixtureShapePath(dir, model, name))
	if err != nil {
		return nil, err
	}

	data, err := readDataFile(FixtureDataPath(dir, model, name))
	if err != nil {
		return nil, err
	}

	t, err := New(shape, data)
	if err != nil {
		return nil, fmt.Errorf("fixture %s.%s: %w", model, name, err)
	}
	return t, nil
}

// SaveFixture writes a tensor as a shape/data JSON pair.
func SaveFixture(dir, model, name string, t *Tensor) error {
	shapeBytes, err := json.Marshal(t.Shape)
	if err != nil {
		return fmt.Errorf("failed to encode shape: %w", err)
	}
	if err := os.WriteFile(FixtureShapePath(dir, model, name), shapeBytes, 0644); err != nil {
		return fmt.Errorf("failed to write shape file: %w", err)
	}

	dataBytes, err := json.Marshal(t.Data)
	if err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}
	if err := os.WriteFile(FixtureDataPath(dir, model, name), dataBytes, 0644); err != nil {
		return fmt.Errorf("failed to write data file: %w", err)
	}

	return nil
}

func readShapeFile(path string) ([]int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read shape file: %w", err)
	}

	var shape []int
	if err := json.Unmarshal(raw, &shape); err != nil {
		return nil, fmt.Errorf("failed to parse shape file %s: %w", path, err)
	}
	for _, d := range shape {
		if d < 0 {
			return nil, fmt.Errorf("shape file %s contains negative dimension %d", path, d)
		}
	}
	return shape, nil
}

func readDataFile(path string) ([]float32, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read data file: %w", err)
	}

	// The exporter flattens nested arrays before writing, but accept nested
	// JSON arrays as well so hand-written fixtures work.
	var flat []float32
	if err := json.Unmarshal(raw, &flat); err == nil {
		return flat, nil
	}

	var nested interface{}
	if err := json.Unmarshal(raw, &nested); err != nil {
		return nil, fmt.Errorf("failed to parse data file %s: %w", path, err)
	}
	flat, err = flattenJSON(nested, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to flatten data file %s: %w", path, err)
	}
	return flat, nil
}

func flattenJSON(v interface{}, out []float32) ([]float32, error) {
	switch val := v.(type) {
	case float64:
		return append(out, float32(val)), nil
	case []interface{}:
		var err error
		for _, elem := range val {
			out, err = flattenJSON(elem, out)
			if err != nil {
				return nil, err
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected JSON value of type %T", v)
	}
}

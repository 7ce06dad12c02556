package keras

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/x448/float16"

	"github.com/modelinterop/kerasbridge/pkg/tensor"
)

// NamedTensor pairs a manifest weight name with its decoded values.
type NamedTensor struct {
	Name   string
	Tensor *tensor.Tensor
}

// WeightMap indexes decoded weights by their full manifest name,
// e.g. "dense_1/kernel" or "bidirectional_1/forward_lstm_1/recurrent_kernel".
type WeightMap map[string]*tensor.Tensor

// LoadWeights reads every shard group of the manifest from baseDir and
// decodes the weights in manifest order.
func LoadWeights(baseDir string, manifest []WeightsGroup) ([]NamedTensor, error) {
	var all []NamedTensor
	for gi, group := range manifest {
		buf, err := readShards(baseDir, group.Paths)
		if err != nil {
			return nil, fmt.Errorf("weights group %d: %w", gi, err)
		}

		offset := 0
		for _, entry := range group.Weights {
			t, n, err := decodeWeight(entry, buf[offset:])
			if err != nil {
				return nil, fmt.Errorf("weight %q: %w", entry.Name, err)
			}
			offset += n
			all = append(all, NamedTensor{Name: entry.Name, Tensor: t})
		}

		if offset != len(buf) {
			return nil, fmt.Errorf("weights group %d: %d trailing bytes after decoding %d weights",
				gi, len(buf)-offset, len(group.Weights))
		}
	}
	return all, nil
}

// ToMap indexes a decoded weight list by name.
func ToMap(weights []NamedTensor) WeightMap {
	m := make(WeightMap, len(weights))
	for _, w := range weights {
		m[w.Name] = w.Tensor
	}
	return m
}

// readShards concatenates the bytes of a group's shard files.
func readShards(baseDir string, paths []string) ([]byte, error) {
	var buf []byte
	for _, p := range paths {
		data, err := os.ReadFile(filepath.Join(baseDir, filepath.FromSlash(p)))
		if err != nil {
			return nil, fmt.Errorf("failed to read shard %s: %w", p, err)
		}
		buf = append(buf, data...)
	}
	return buf, nil
}

// decodeWeight decodes one manifest entry from the head of buf, returning
// the tensor and the number of shard bytes consumed.
func decodeWeight(entry WeightEntry, buf []byte) (*tensor.Tensor, int, error) {
	count := tensor.ElementCount(entry.Shape)
	data := make([]float32, count)

	storedDType := entry.DType
	if entry.Quantization != nil {
		storedDType = entry.Quantization.DType
	}

	var width int
	switch storedDType {
	case "float32", "int32":
		width = 4
	case "uint16", "float16":
		width = 2
	case "uint8":
		width = 1
	default:
		return nil, 0, fmt.Errorf("unsupported dtype %q", storedDType)
	}

	need := count * width
	if len(buf) < need {
		return nil, 0, fmt.Errorf("shard truncated: need %d bytes for %d %s values, have %d",
			need, count, storedDType, len(buf))
	}

	switch storedDType {
	case "float32":
		for i := 0; i < count; i++ {
			bits := binary.LittleEndian.Uint32(buf[i*4:])
			data[i] = math.Float32frombits(bits)
		}
	case "int32":
		for i := 0; i < count; i++ {
			data[i] = float32(int32(binary.LittleEndian.Uint32(buf[i*4:])))
		}
	case "float16":
		for i := 0; i < count; i++ {
			data[i] = float16.Frombits(binary.LittleEndian.Uint16(buf[i*2:])).Float32()
		}
	case "uint16":
		q := entry.Quantization
		if q == nil {
			return nil, 0, fmt.Errorf("uint16 weight without quantization parameters")
		}
		for i := 0; i < count; i++ {
			data[i] = float32(q.Scale*float64(binary.LittleEndian.Uint16(buf[i*2:])) + q.Min)
		}
	case "uint8":
		q := entry.Quantization
		if q == nil {
			return nil, 0, fmt.Errorf("uint8 weight without quantization parameters")
		}
		for i := 0; i < count; i++ {
			data[i] = float32(q.Scale*float64(buf[i]) + q.Min)
		}
	}

	t, err := tensor.New(entry.Shape, data)
	if err != nil {
		return nil, 0, err
	}
	return t, need, nil
}

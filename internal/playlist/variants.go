package playlist

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalidVariant is returned for variant entries that cannot be advertised.
var ErrInvalidVariant = errors.New("invalid variant")

type variantFile struct {
	Variants []Variant `yaml:"variants"`
}

// LoadVariants reads a YAML variant list from path.
//
//	variants:
//	  - bandwidth: 2500000
//	    width: 1280
//	    height: 720
//	    frame_rate: 30
//	    playlist: live.m3u8
func LoadVariants(path string) ([]Variant, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read variants file: %w", err)
	}
	return ParseVariants(data)
}

// ParseVariants decodes and validates a YAML variant list, keeping file order.
func ParseVariants(data []byte) ([]Variant, error) {
	var f variantFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode variants: %w", err)
	}
	for i, v := range f.Variants {
		if v.Bandwidth <= 0 || v.PlaylistPath == "" {
			return nil, fmt.Errorf("%w: entry %d needs bandwidth and playlist", ErrInvalidVariant, i)
		}
	}
	return f.Variants, nil
}

package store

import (
	"bytes"
	"fmt"
	"os"

	"github.com/natefinch/atomic"
	xdr "github.com/nullstyle/go-xdr/xdr3"
)

// WriteCheckpoint atomically writes head to a standalone file so that the
// chain tip can be shipped without the archive.
func WriteCheckpoint(filename string, head *Head) error {
	var w bytes.Buffer
	if _, err := xdr.Marshal(&w, *head); err != nil {
		return fmt.Errorf("serializing: %w", err)
	}
	if err := atomic.WriteFile(filename, &w); err != nil {
		return fmt.Errorf("writing to disk: %w", err)
	}
	return nil
}

func ReadCheckpoint(filename string) (*Head, error) {
	data, err := os.ReadFile(filename) //#nosec G304
	if err != nil {
		return nil, fmt.Errorf("loading file: %w", err)
	}
	head := &Head{}
	if _, err := xdr.Unmarshal(bytes.NewReader(data), head); err != nil {
		return nil, fmt.Errorf("deserializing: %w", err)
	}
	return head, nil
}

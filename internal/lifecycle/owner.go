package lifecycle

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"
)

// Owner is the content of the owner marker.
type Owner struct {
	PID     int       `json:"pid"`
	Host    string    `json:"host"`
	Started time.Time `json:"started"`
	Clean   bool      `json:"clean"`
	Stopped time.Time `json:"stopped,omitzero"`
}

// readOwner returns the marker in dir, or nil if there is none.
func readOwner(dir string) (*Owner, error) {
	data, err := os.ReadFile(filepath.Join(dir, OwnerFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read owner marker: %w", err)
	}
	var o Owner
	if err := json.Unmarshal(data, &o); err != nil {
		// An unreadable marker is treated like an unclean one.
		return &Owner{}, nil
	}
	return &o, nil
}

func writeOwner(dir string, o Owner) error {
	data, err := json.MarshalIndent(o, "", "  ")
	if err != nil {
		return fmt.Errorf("encode owner marker: %w", err)
	}
	data = append(data, '\n')
	if err := atomic.WriteFile(filepath.Join(dir, OwnerFile), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write owner marker: %w", err)
	}
	return nil
}

// ABOUTME: Tests for the upload-facing sample types.
// ABOUTME: Checks the JSON shape of aggregated points.
package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestPointKeepsZeroValue(t *testing.T) {
	data, err := json.Marshal(Point{Time: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC), Value: 0})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"value":0`) {
		t.Errorf("zero value dropped: %s", data)
	}
	if strings.Contains(string(data), `"stats"`) {
		t.Errorf("nil stats should be omitted: %s", data)
	}
}

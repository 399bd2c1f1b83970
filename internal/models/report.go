// Package models defines the data structures sent to the collector.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// TimeLayout is the wall-clock format used in reports (local time).
const TimeLayout = "2006-01-02 15:04:05"

// Report is the JSON body of one cycle's delivery. All values are strings
// on the wire, field order is fixed by the struct.
type Report struct {
	Device          string `json:"device"`
	Time            string `json:"time"`
	Temperature     string `json:"temperature"`
	ThresholdBroken string `json:"threshold_broken"`
}

// NewReport formats a cycle average for transmission.
func NewReport(device string, ts time.Time, temperature float64, alarm bool) Report {
	flag := "0"
	if alarm {
		flag = "1"
	}
	return Report{
		Device:          device,
		Time:            ts.Local().Format(TimeLayout),
		Temperature:     fmt.Sprintf("%.2f°C", temperature),
		ThresholdBroken: flag,
	}
}

// MarshalBody encodes the report as a two-space indented JSON object
// without HTML escaping or a trailing newline.
func (r Report) MarshalBody() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

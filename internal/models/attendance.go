package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Person and attendance vocabularies shared by devices and the batch store.
const (
	PersonStudent = "STUDENT"
	PersonTeacher = "TEACHER"

	AttendanceIn  = "in"
	AttendanceOut = "out"
)

// localLayout is the zone-less form sent by older face terminals.
const localLayout = "2006-01-02T15:04:05"

// Timestamp is a reading time. It decodes RFC3339 or zone-less local
// date-times and always encodes as RFC3339 so equal readings produce equal bytes.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	if v, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = v
		return nil
	}
	v, err := time.ParseInLocation(localLayout, s, time.Local)
	if err != nil {
		return fmt.Errorf("timestamp %q must be RFC3339 or %s", s, localLayout)
	}
	t.Time = v
	return nil
}

// OrNow returns the wrapped time, or now when the reading carried none.
func (t Timestamp) OrNow(now time.Time) time.Time {
	if t.IsZero() {
		return now
	}
	return t.Time
}

// FaceReading is one face-recognition attempt reported by a terminal.
type FaceReading struct {
	DeviceID       int64     `json:"deviceId"`
	PersonType     string    `json:"personType" binding:"required"`
	PersonID       string    `json:"personId" binding:"required"`
	AttendanceType string    `json:"attendanceType,omitempty"`
	AttendanceTime Timestamp `json:"attendanceTime"`
	Score          float64   `json:"score"`
	Success        bool      `json:"success"`
	PhotoURL       string    `json:"photoUrl,omitempty"`
	Remark         string    `json:"remark,omitempty"`
}

// Validate checks the fields the batch store relies on.
func (r FaceReading) Validate() error {
	if r.PersonType == "" {
		return fmt.Errorf("personType required")
	}
	if r.PersonID == "" {
		return fmt.Errorf("personId required")
	}
	return nil
}

// CardReading is one card swipe reported by a reader.
type CardReading struct {
	DeviceID       int64     `json:"deviceId"`
	CardNo         string    `json:"cardNo" binding:"required"`
	AttendanceType string    `json:"attendanceType,omitempty"`
	AttendanceTime Timestamp `json:"attendanceTime"`
	Remark         string    `json:"remark,omitempty"`
}

// Validate checks the fields the batch store relies on.
func (r CardReading) Validate() error {
	if r.CardNo == "" {
		return fmt.Errorf("cardNo required")
	}
	return nil
}

// AttendanceTypeOrDefault falls back to "in" like the terminals do.
func AttendanceTypeOrDefault(v string) string {
	if v == "" {
		return AttendanceIn
	}
	return v
}

// IngestResponse is returned by the queue ingestion endpoints.
type IngestResponse struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// StatsResponse is returned by GET /attendance/stats.
type StatsResponse struct {
	CheckType string `json:"check_type,omitempty"`
	Count     int64  `json:"count"`
}

package api

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/goodtune/tasktracker/internal/tracking"
)

// encodeReport renders the report as
//
//	{"alice": [{"writing": 180}, {"reading": 7}], "bob": [...]}
//
// keeping user and task order. Durations are truncated to whole units.
func encodeReport(report tracking.Report, unit time.Duration) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte('{')
	for i, u := range report.Users {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeKey(&buf, u.User); err != nil {
			return nil, err
		}

		buf.WriteByte('[')
		for j, t := range u.Tasks {
			if j > 0 {
				buf.WriteByte(',')
			}
			buf.WriteByte('{')
			if err := writeKey(&buf, t.Task); err != nil {
				return nil, err
			}
			value, err := json.Marshal(int64(t.Accumulated / unit))
			if err != nil {
				return nil, err
			}
			buf.Write(value)
			buf.WriteByte('}')
		}
		buf.WriteByte(']')
	}
	buf.WriteByte('}')

	return buf.Bytes(), nil
}

func writeKey(buf *bytes.Buffer, key string) error {
	k, err := json.Marshal(key)
	if err != nil {
		return err
	}
	buf.Write(k)
	buf.WriteByte(':')
	return nil
}

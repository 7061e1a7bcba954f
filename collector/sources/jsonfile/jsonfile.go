// Package jsonfile implements a collector source that tails a file of
// JSON-encoded job events, one object per line. Batch systems append to the
// file; the source remembers how far it has read through the collector's
// persistent cursor.
package jsonfile

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ALU-Schumacher/AUDITOR-sub000/collector"
	"github.com/ALU-Schumacher/AUDITOR-sub000/records"
)

// event is one line of the job event file.
type event struct {
	JobID      string              `json:"job_id"`
	StartTime  time.Time           `json:"start_time"`
	StopTime   *time.Time          `json:"stop_time,omitempty"`
	Meta       records.Meta        `json:"meta,omitempty"`
	Components []records.Component `json:"components,omitempty"`

	// Complete defaults to true; a batch system that reports job metrics
	// asynchronously sets it to false until they are available.
	Complete *bool `json:"complete,omitempty"`
}

type Source struct {
	path string
	l    logrus.FieldLogger
}

func New(path string) *Source {
	return &Source{
		path: path,
		l:    logrus.WithField("source", "jsonfile"),
	}
}

// Fetch reads all complete lines after the cursor. The cursor is the byte
// offset of the first unread line; a trailing line without a newline is
// considered still being written and is left for the next pass. A malformed
// line is logged and skipped, so one bad event cannot wedge collection.
func (s *Source) Fetch(ctx context.Context, cursor []byte) (items []collector.Item, next []byte, err error) {
	offset := decodeCursor(cursor)

	f, err := os.Open(s.path)
	if err != nil {
		return nil, nil, &records.UpstreamError{Op: "open job event file", Err: err}
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, nil, &records.UpstreamError{Op: "seek job event file", Err: err}
	}

	r := bufio.NewReader(f)
	pos := offset
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		line, err := r.ReadString('\n')
		if err == io.EOF {
			// Incomplete trailing line, leave it for the next pass
			break
		}
		if err != nil {
			return nil, nil, &records.UpstreamError{Op: "read job event file", Err: err}
		}
		pos += int64(len(line))

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var ev event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			s.l.WithError(err).WithField("offset", pos).Warn("Skipping malformed job event line")
			continue
		}
		if ev.JobID == "" {
			s.l.WithField("offset", pos).Warn("Skipping job event without job_id")
			continue
		}
		items = append(items, toItem(ev))
	}

	return items, encodeCursor(pos), nil
}

func toItem(ev event) collector.Item {
	complete := true
	if ev.Complete != nil {
		complete = *ev.Complete
	}
	return collector.Item{
		JobID: ev.JobID,
		Record: records.Record{
			StartTime:  ev.StartTime,
			StopTime:   ev.StopTime,
			Meta:       ev.Meta,
			Components: ev.Components,
		},
		Complete: complete,
	}
}

// The cursor is a decimal byte offset, kept human-readable for debugging
// with mdb_dump.
func encodeCursor(offset int64) []byte {
	return []byte(strconv.FormatInt(offset, 10))
}

func decodeCursor(cursor []byte) int64 {
	if len(cursor) == 0 {
		return 0
	}
	offset, err := strconv.ParseInt(string(cursor), 10, 64)
	if err != nil || offset < 0 {
		return 0
	}
	return offset
}

package client

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/stleox/seetrace/pkg/config"
	"github.com/stleox/seetrace/pkg/runtree"
)

// One run event becomes several named binary parts: the scalar fields as one
// JSON part, inputs/outputs/events as separate parts when present, and one
// part per attachment. Part names are
//
//	{method}.{run_id}
//	{method}.{run_id}.{field}
//	attachment.{run_id}.{attachment_name}
//
// which is why attachment names may not contain a period.

type part struct {
	name        string
	contentType string
	body        []byte
}

func encodeRun(method string, run *runtree.Run) ([]part, error) {
	payload, err := json.Marshal(run)
	if err != nil {
		return nil, fmt.Errorf("encoding run %s: %w", run.ID, err)
	}

	prefix := method + "." + run.ID.String()
	parts := []part{{name: prefix, contentType: "application/json", body: payload}}

	fields := []struct {
		name  string
		value any
		skip  bool
	}{
		{"inputs", run.Inputs, run.Inputs == nil},
		{"outputs", run.Outputs, run.Outputs == nil},
		{"events", run.Events, len(run.Events) == 0},
	}
	for _, field := range fields {
		if field.skip {
			continue
		}
		body, err := json.Marshal(field.value)
		if err != nil {
			return nil, fmt.Errorf("encoding %s of run %s: %w", field.name, run.ID, err)
		}
		parts = append(parts, part{
			name:        prefix + "." + field.name,
			contentType: "application/json",
			body:        body,
		})
	}

	for name, att := range run.Attachments {
		if strings.Contains(name, ".") {
			// skip just this attachment, the rest of the event still delivers
			logrus.WithField("attachment", name).
				Warn("SeeTrace skipped an attachment whose name contains a period")
			continue
		}
		contentType := att.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		parts = append(parts, part{
			name:        "attachment." + run.ID.String() + "." + name,
			contentType: contentType,
			body:        att.Data,
		})
	}
	return parts, nil
}

// newBoundary returns a random boundary token tagged so it cannot collide
// with user payload bytes.
func newBoundary() string {
	var raw [16]byte
	_, _ = rand.Read(raw[:])
	return config.BoundaryPrefix + hex.EncodeToString(raw[:])
}

// joinParts renders all parts of one delivery batch with a shared boundary.
// The Content-Type of each part carries a length parameter with the byte
// length of that part, which the ingestion service requires.
func joinParts(boundary string, parts []part) []byte {
	var buf bytes.Buffer
	for _, p := range parts {
		fmt.Fprintf(&buf, "--%s\r\n", boundary)
		fmt.Fprintf(&buf, "Content-Disposition: form-data; name=%q\r\n", p.name)
		fmt.Fprintf(&buf, "Content-Type: %s; length=%d\r\n\r\n", p.contentType, len(p.body))
		buf.Write(p.body)
		buf.WriteString("\r\n")
	}
	fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	return buf.Bytes()
}

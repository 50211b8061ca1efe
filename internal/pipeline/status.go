package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	StatusJSONFile = "PIPELINE_STATUS.json"
	StatusTextFile = "PIPELINE_STATUS.txt"
)

// StageStatus is one stage's entry in the pipeline status document.
type StageStatus struct {
	Status string `json:"status"`
	At     string `json:"at"`
	Msg    string `json:"msg,omitempty"`
}

// StatusDoc is the operator-facing pipeline status, written to the run
// workspace as JSON plus a rendered text companion after every transition.
type StatusDoc struct {
	UpdatedAt string                 `json:"updated_at"`
	RunID     string                 `json:"run_id"`
	Overall   string                 `json:"overall_status"`
	Stages    map[string]StageStatus `json:"stages"`
}

// statusWriter maintains and persists the status document for one run.
type statusWriter struct {
	dir   string
	order []string
	now   func() time.Time
	doc   StatusDoc
}

func newStatusWriter(dir, runID string, order []string, now func() time.Time) *statusWriter {
	return &statusWriter{
		dir:   dir,
		order: order,
		now:   now,
		doc: StatusDoc{
			RunID:   runID,
			Overall: "RUNNING",
			Stages:  map[string]StageStatus{},
		},
	}
}

// set records a stage transition and rewrites both status files. On SUCCESS
// any stale message from an earlier failed attempt is dropped.
func (s *statusWriter) set(stage, status, msg string) error {
	at := s.now().Format("2006-01-02 15:04:05")
	entry := StageStatus{Status: status, At: at}
	if status != "SUCCESS" {
		entry.Msg = msg
	}
	s.doc.Stages[stage] = entry
	s.doc.UpdatedAt = at
	s.doc.Overall = s.overall()
	return s.write()
}

func (s *statusWriter) overall() string {
	seen := false
	running := false
	for _, st := range s.doc.Stages {
		seen = true
		switch st.Status {
		case "FAILED":
			return "FAILED"
		case "RUNNING":
			running = true
		}
	}
	if running || !seen {
		return "RUNNING"
	}
	return "SUCCESS"
}

func (s *statusWriter) write() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return err
	}
	if err := atomicWriteText(filepath.Join(s.dir, StatusJSONFile), append(data, '\n')); err != nil {
		return fmt.Errorf("write status json: %w", err)
	}
	if err := atomicWriteText(filepath.Join(s.dir, StatusTextFile), []byte(s.renderText())); err != nil {
		return fmt.Errorf("write status text: %w", err)
	}
	return nil
}

func (s *statusWriter) renderText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "updated_at: %s\n", s.doc.UpdatedAt)
	fmt.Fprintf(&b, "run_id: %s\n", s.doc.RunID)
	fmt.Fprintf(&b, "overall_status: %s\n\n", s.doc.Overall)
	for _, name := range s.order {
		st, ok := s.doc.Stages[name]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "[%s] status=%s at=%s\n", name, st.Status, st.At)
		if st.Msg != "" {
			fmt.Fprintf(&b, "  msg: %s\n", st.Msg)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func atomicWriteText(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

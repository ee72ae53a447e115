package server

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strconv"

	"github.com/entrhq/capture/pkg/logging"
	"github.com/entrhq/capture/pkg/request"
)

//go:embed testpage.html.tmpl
var testPageSource string

var testPage = template.Must(template.New("testpage").Parse(testPageSource))

type healthBody struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "pass"
	if !s.pipeline.Sessions().Alive() {
		status = "fail"
	}
	writeJSON(w, http.StatusOK, healthBody{Status: status})
}

func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	req, err := request.ParseScreenshot(body)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	img, err := s.pipeline.Screenshot(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", img.MIMEType)
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img.Data)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	req, err := request.ParseAudit(body)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	report, err := s.pipeline.Report(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	out, err := json.Marshal(report)
	if err != nil {
		s.fail(w, r, fmt.Errorf("encode report: %w", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func (s *Server) handleTestPage(w http.ResponseWriter, r *http.Request) {
	stamp, err := s.pipeline.Probe(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var buf bytes.Buffer
	err = testPage.Execute(&buf, struct {
		Timestamp string
		Instance  string
	}{stamp, logging.InstanceID()})
	if err != nil {
		s.fail(w, r, fmt.Errorf("render test page: %w", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *Server) notFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, "not found")
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	return data, nil
}

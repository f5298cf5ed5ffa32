package webd

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rotblauer/trackd/api"
	"github.com/rotblauer/trackd/conceptual"
	"github.com/rotblauer/trackd/params"
	"github.com/rotblauer/trackd/queue"
	"github.com/rotblauer/trackd/trackerr"
	"github.com/rotblauer/trackd/types/trackfile"
)

// multipartOverhead is allowed on top of the upload cap for form framing.
const multipartOverhead = 1 << 20

const defaultUploadFilename = "track.gpx"

func pingPong(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("pong"))
}

type webDaemonStatus struct {
	StartedAt  time.Time                `json:"started_at"`
	Uptime     string                   `json:"uptime"`
	Config     *params.WebDaemonConfig  `json:"config"`
	WSOpen     bool                     `json:"ws_open"`
	WSConns    int                      `json:"ws_conns"`
	TrackFiles map[trackfile.Status]int `json:"trackfiles,omitempty"`
	Jobs       map[queue.State]int      `json:"jobs,omitempty"`
	Work       any                      `json:"work,omitempty"`
}

func (s *WebDaemon) statusReport(w http.ResponseWriter, r *http.Request) {
	st := webDaemonStatus{
		StartedAt: s.startedAt,
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
		WSOpen:    !s.melodyInstance.IsClosed(),
		WSConns:   s.melodyInstance.Len(),
		Config:    s.Config,
	}
	if counts, err := s.service.Counts(r.Context()); err == nil {
		st.TrackFiles = counts
	} else {
		s.logger.Warn("Failed to count track files", "error", err)
	}
	if counts, err := s.jobs.Counts(); err == nil {
		st.Jobs = counts
	} else {
		s.logger.Warn("Failed to count jobs", "error", err)
	}
	if s.work != nil {
		st.Work = s.work.Status()
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *WebDaemon) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

// writeError maps err to its status and an actionable message.
// Internal detail stays in the log.
func (s *WebDaemon) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := trackerr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "method", r.Method, "uri", r.URL.Path,
			"stage", trackerr.StageOf(err), "error", err)
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	s.writeJSON(w, status, errorView{Error: trackerr.UserMessage(err)})
}

func requestTripID(r *http.Request) conceptual.TripID {
	return conceptual.TripID(mux.Vars(r)["trip"])
}

func requestTrackFileID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return 0, trackerr.ErrNotFound
	}
	return id, nil
}

// readUpload returns the uploaded file name and bytes. The file is either
// the multipart form field "file", or the whole body with ?filename=.
func (s *WebDaemon) readUpload(r *http.Request) (string, []byte, error) {
	limit := s.service.Router().Limit()
	if r.ContentLength > limit+multipartOverhead {
		return "", nil, &trackerr.SizeLimitExceededError{Size: r.ContentLength, Limit: limit}
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, limit+multipartOverhead+1))
	if err != nil {
		return "", nil, &trackerr.MalformedInputError{Reason: "could not read upload", Err: err}
	}
	if int64(len(raw)) > limit+multipartOverhead {
		return "", nil, &trackerr.SizeLimitExceededError{Size: -1, Limit: limit}
	}

	mediaType, mparams, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		name := r.URL.Query().Get("filename")
		if name == "" {
			name = defaultUploadFilename
		}
		return path.Base(name), raw, nil
	}

	mr := multipart.NewReader(bytes.NewReader(raw), mparams["boundary"])
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return "", nil, &trackerr.MalformedInputError{Reason: `multipart form has no "file" field`}
		}
		if err != nil {
			return "", nil, &trackerr.MalformedInputError{Reason: "invalid multipart form", Err: err}
		}
		if part.FormName() != "file" {
			continue
		}
		b, err := io.ReadAll(part)
		if err != nil {
			return "", nil, &trackerr.MalformedInputError{Reason: "invalid multipart form", Err: err}
		}
		name := part.FileName()
		if name == "" {
			name = defaultUploadFilename
		}
		return path.Base(name), b, nil
	}
}

// handleUpload accepts the trip's track file.
// Small files answer 201 with telemetry; large ones 202 with the pending id.
func (s *WebDaemon) handleUpload(w http.ResponseWriter, r *http.Request) {
	trip := requestTripID(r)
	name, body, err := s.readUpload(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.service.Upload(r.Context(), api.Upload{TripID: trip, Filename: name, Body: body})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/trackfiles/"+strconv.FormatInt(res.TrackFile.ID, 10))
	if res.Path == trackfile.PathAsync {
		s.writeJSON(w, http.StatusAccepted, pendingView{
			ID:       res.TrackFile.ID,
			TripID:   trip.String(),
			Status:   res.TrackFile.Status,
			JobID:    res.Job.ID,
			Warnings: res.Warnings,
		})
		return
	}
	v := newTrackFileView(res.TrackFile)
	v.Warnings = res.Warnings
	s.writeJSON(w, http.StatusCreated, v)
}

func (s *WebDaemon) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := requestTrackFileID(r)
	if err == nil {
		var tf *trackfile.TrackFile
		if tf, err = s.service.Get(r.Context(), id); err == nil {
			s.writeJSON(w, http.StatusOK, newTrackFileView(tf))
			return
		}
	}
	s.writeError(w, r, err)
}

func (s *WebDaemon) handleGetByTrip(w http.ResponseWriter, r *http.Request) {
	tf, err := s.service.GetByTrip(r.Context(), requestTripID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newTrackFileView(tf))
}

// handlePoints serves the simplified points, honoring If-None-Match.
func (s *WebDaemon) handlePoints(w http.ResponseWriter, r *http.Request) {
	id, err := requestTrackFileID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entry, err := s.service.Points(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("ETag", entry.ETag)
	w.Header().Set("Cache-Control", "no-cache")
	if match := r.Header.Get("If-None-Match"); match != "" && match == entry.ETag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	s.writeJSON(w, http.StatusOK, newPointsView(id, entry.Points))
}

func (s *WebDaemon) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := requestTrackFileID(r)
	if err == nil {
		if _, err = s.service.Delete(r.Context(), id); err == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	s.writeError(w, r, err)
}

func (s *WebDaemon) handleDeleteByTrip(w http.ResponseWriter, r *http.Request) {
	if _, err := s.service.DeleteByTrip(r.Context(), requestTripID(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *WebDaemon) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, trackerr.ErrNotFound) {
			s.writeJSON(w, http.StatusNotFound, errorView{Error: "job not found"})
			return
		}
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

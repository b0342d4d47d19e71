package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/arencloud/bucketwarden/internal/db"
	"github.com/arencloud/bucketwarden/internal/logging"
	"github.com/arencloud/bucketwarden/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Each request carries a Trace with Events. Finished traces go to a ring
// buffer and, when a store is configured, to the database.

type TraceEvent struct {
	Time   time.Time      `json:"time"`
	Name   string         `json:"name"`
	Fields map[string]any `json:"fields,omitempty"`
}

type Trace struct {
	ID        string        `json:"id"`
	Method    string        `json:"method"`
	Path      string        `json:"path"`
	Status    int           `json:"status"`
	Bucket    string        `json:"bucket,omitempty"`
	UserAgent string        `json:"userAgent,omitempty"`
	RemoteIP  string        `json:"remoteIp,omitempty"`
	ReqBytes  int64         `json:"reqBytes,omitempty"`
	RespBytes int64         `json:"respBytes,omitempty"`
	Started   time.Time     `json:"started"`
	Ended     time.Time     `json:"ended"`
	Duration  time.Duration `json:"duration"`
	Events    []TraceEvent  `json:"events"`
}

type traceStore struct {
	mu   sync.RWMutex
	buf  []*Trace
	next int
	size int
}

func newTraceStore(size int) *traceStore {
	return &traceStore{buf: make([]*Trace, size), size: size}
}

func (s *traceStore) add(t *Trace) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf[s.next] = t
	s.next = (s.next + 1) % s.size
}

// all walks the ring newest first.
func (s *traceStore) all(limit int) []*Trace {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > s.size {
		limit = s.size
	}
	out := make([]*Trace, 0, limit)
	idx := (s.next - 1 + s.size) % s.size
	for i := 0; i < s.size && len(out) < limit; i++ {
		if s.buf[idx] != nil {
			out = append(out, s.buf[idx])
		}
		idx = (idx - 1 + s.size) % s.size
	}
	return out
}

func (s *traceStore) get(id string) *Trace {
	for _, t := range s.all(0) {
		if t.ID == id {
			return t
		}
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	code  int
	bytes int64
}

func (sr *statusRecorder) WriteHeader(statusCode int) {
	sr.code = statusCode
	sr.ResponseWriter.WriteHeader(statusCode)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += int64(n)
	return n, err
}

func (sr *statusRecorder) Flush() {
	if fl, ok := sr.ResponseWriter.(http.Flusher); ok {
		fl.Flush()
	}
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter { return sr.ResponseWriter }

// tracing opens a trace per request, then records, persists and logs it.
func (s *Server) tracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t := &Trace{ID: uuid.NewString(), Method: r.Method, Path: r.URL.Path, Started: time.Now(), Events: []TraceEvent{}}
		t.UserAgent = r.UserAgent()
		if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
			t.RemoteIP = ip
		} else {
			t.RemoteIP = r.RemoteAddr
		}
		if r.ContentLength > 0 {
			t.ReqBytes = r.ContentLength
		}
		w.Header().Set("X-Trace-Id", t.ID)
		w.Header().Set("X-Request-Id", t.ID)
		r = r.WithContext(withTraceCtx(r.Context(), t))
		addEvent(r, "request.start", map[string]any{"method": r.Method, "path": r.URL.Path})

		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)

		t.Status = rec.code
		t.Ended = time.Now()
		t.Duration = t.Ended.Sub(t.Started)
		t.RespBytes = rec.bytes
		addEvent(r, "request.end", map[string]any{"status": rec.code, "respBytes": rec.bytes})
		s.traces.add(t)
		s.persistTrace(context.WithoutCancel(r.Context()), t)

		s.logger.Info("http_request",
			"method", t.Method,
			"path", t.Path,
			"status", t.Status,
			"durationMs", float64(t.Duration)/1e6,
			"bucket", t.Bucket,
			"traceId", t.ID,
			"bytesIn", t.ReqBytes,
			"bytesOut", t.RespBytes,
		)
	})
}

func (s *Server) persistTrace(ctx context.Context, t *Trace) {
	if s.store == nil {
		return
	}
	row := models.TraceRow{
		ID:         t.ID,
		Method:     t.Method,
		Path:       t.Path,
		Status:     t.Status,
		Bucket:     t.Bucket,
		UserAgent:  t.UserAgent,
		RemoteIP:   t.RemoteIP,
		ReqBytes:   t.ReqBytes,
		RespBytes:  t.RespBytes,
		Started:    t.Started,
		Ended:      t.Ended,
		DurationNs: int64(t.Duration),
	}
	events := make([]models.TraceEventRow, 0, len(t.Events))
	for _, ev := range t.Events {
		fields, _ := json.Marshal(ev.Fields)
		events = append(events, models.TraceEventRow{Time: ev.Time, Name: ev.Name, Fields: string(fields)})
	}
	if err := s.store.SaveTrace(ctx, row, events); err != nil {
		s.logger.Error("persist trace failed", "traceId", t.ID, "error", err)
	}
}

type ctxKey int

const traceKey ctxKey = 1

func traceFrom(ctx context.Context) *Trace {
	if t, ok := ctx.Value(traceKey).(*Trace); ok {
		return t
	}
	return nil
}

func withTraceCtx(ctx context.Context, t *Trace) context.Context {
	return context.WithValue(ctx, traceKey, t)
}

func addEvent(r *http.Request, name string, fields map[string]any) {
	if t := traceFrom(r.Context()); t != nil {
		t.Events = append(t.Events, TraceEvent{Time: time.Now(), Name: name, Fields: fields})
	}
}

// tagBucket attributes the current trace to a bucket.
func tagBucket(r *http.Request, bucket string) {
	if t := traceFrom(r.Context()); t != nil {
		t.Bucket = bucket
	}
}

func traceFromRow(tr models.TraceRow) *Trace {
	return &Trace{
		ID: tr.ID, Method: tr.Method, Path: tr.Path, Status: tr.Status, Bucket: tr.Bucket,
		UserAgent: tr.UserAgent, RemoteIP: tr.RemoteIP, ReqBytes: tr.ReqBytes, RespBytes: tr.RespBytes,
		Started: tr.Started, Ended: tr.Ended, Duration: time.Duration(tr.DurationNs), Events: []TraceEvent{},
	}
}

func limitParam(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			return i
		}
	}
	return def
}

// traceRecent lists recent traces; ?errors=true keeps only status >= 400.
func (s *Server) traceRecent(w http.ResponseWriter, r *http.Request) {
	limit := limitParam(r, 200)
	minStatus := 0
	if onlyErrors, _ := strconv.ParseBool(r.URL.Query().Get("errors")); onlyErrors {
		minStatus = http.StatusBadRequest
	}
	if s.store == nil {
		out := make([]*Trace, 0, limit)
		for _, t := range s.traces.all(limit) {
			if t.Status >= minStatus {
				out = append(out, t)
			}
		}
		writeJSON(w, http.StatusOK, out)
		return
	}
	rows, err := s.store.RecentTraces(r.Context(), limit, minStatus)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, kindInternal, err.Error())
		return
	}
	out := make([]*Trace, 0, len(rows))
	for _, row := range rows {
		out = append(out, traceFromRow(row))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) traceGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.store == nil {
		if t := s.traces.get(id); t != nil {
			writeJSON(w, http.StatusOK, t)
			return
		}
		respondError(w, r, http.StatusNotFound, "NotFound", "trace not found")
		return
	}
	tr, evs, err := s.store.Trace(r.Context(), id)
	if errors.Is(err, db.ErrTraceNotFound) {
		respondError(w, r, http.StatusNotFound, "NotFound", "trace not found")
		return
	}
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, kindInternal, err.Error())
		return
	}
	out := traceFromRow(tr)
	for _, e := range evs {
		var f map[string]any
		if e.Fields != "" && e.Fields != "null" {
			_ = json.Unmarshal([]byte(e.Fields), &f)
		}
		out.Events = append(out.Events, TraceEvent{Time: e.Time, Name: e.Name, Fields: f})
	}
	writeJSON(w, http.StatusOK, out)
}

// logsRecent returns recent structured log entries, newest first.
func logsRecent(w http.ResponseWriter, r *http.Request) {
	entries := logging.Recent(limitParam(r, 200))
	if lvl := r.URL.Query().Get("level"); lvl != "" {
		filtered := entries[:0]
		for _, e := range entries {
			if e.Level == lvl {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	writeJSON(w, http.StatusOK, entries)
}

func logsGetLevel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"level": logging.GetLevel()})
}

func logsSetLevel(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Level string `json:"level"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Level == "" {
		respondError(w, r, http.StatusBadRequest, kindBadRequest, "level required")
		return
	}
	logging.SetLevel(in.Level)
	writeJSON(w, http.StatusOK, map[string]any{"level": logging.GetLevel()})
}

// logsStream streams log entries as Server-Sent Events.
func logsStream(w http.ResponseWriter, r *http.Request) {
	fl, ok := w.(http.Flusher)
	if !ok {
		respondError(w, r, http.StatusInternalServerError, kindInternal, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Connection", "keep-alive")
	qLevel := r.URL.Query().Get("level")
	write := func(e *logging.Entry) {
		if qLevel != "" && e.Level != qLevel {
			return
		}
		b, _ := json.Marshal(e)
		w.Write([]byte("data: "))
		w.Write(b)
		w.Write([]byte("\n\n"))
		fl.Flush()
	}
	ch, cancel := logging.Subscribe()
	defer cancel()
	// headers go out before any entry so clients see the stream open
	w.WriteHeader(http.StatusOK)
	fl.Flush()
	backlog := logging.Recent(50)
	for i := len(backlog) - 1; i >= 0; i-- {
		write(backlog[i])
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			write(e)
		}
	}
}

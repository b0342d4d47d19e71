package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/arencloud/bucketwarden/internal/naming"
	"github.com/arencloud/bucketwarden/internal/storage"
)

const metaPrefix = "meta-"

func (s *Server) listObjects(w http.ResponseWriter, r *http.Request) {
	bucket := bucketParam(r)
	q := r.URL.Query()
	opts := storage.ListOptions{Prefix: q.Get("prefix"), Token: q.Get("token")}
	if v := q.Get("pageSize"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, kindBadRequest, "pageSize must be an integer")
			return
		}
		opts.PageSize = n
	}
	addEvent(r, "objects.list", map[string]any{"bucket": bucket, "prefix": opts.Prefix})
	page, err := s.gw.ListItems(r.Context(), bucket, opts)
	if err != nil {
		respondStorageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// contentTypeAllowed matches ct against the configured glob patterns. An
// empty list allows everything.
func contentTypeAllowed(ct string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	base, _, _ := strings.Cut(ct, ";")
	base = strings.ToLower(strings.TrimSpace(base))
	for _, p := range patterns {
		if ok, _ := path.Match(strings.ToLower(p), base); ok {
			return true
		}
	}
	return false
}

// uploadObject streams a multipart upload. Parts named key and meta-* must
// precede the file part; without a key part the file name is used.
func (s *Server) uploadObject(w http.ResponseWriter, r *http.Request) {
	bucket := bucketParam(r)
	addEvent(r, "object.upload", map[string]any{"bucket": bucket})
	if err := naming.Bucket(bucket); err != nil {
		respondStorageError(w, r, err)
		return
	}
	if s.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	}
	mr, err := r.MultipartReader()
	if err != nil {
		respondError(w, r, http.StatusBadRequest, kindBadRequest, "expecting multipart form-data")
		return
	}
	var (
		key  string
		meta map[string]string
		res  *storage.PutResult
	)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				respondError(w, r, http.StatusRequestEntityTooLarge, kindTooLarge, "payload too large")
				return
			}
			respondError(w, r, http.StatusBadRequest, kindBadRequest, err.Error())
			return
		}
		name := part.FormName()
		switch {
		case name == "key":
			b, _ := io.ReadAll(io.LimitReader(part, naming.MaxKeyLen+1))
			key = string(b)
		case strings.HasPrefix(name, metaPrefix):
			if meta == nil {
				meta = map[string]string{}
			}
			b, _ := io.ReadAll(io.LimitReader(part, 2048))
			meta[strings.TrimPrefix(name, metaPrefix)] = string(b)
		case name == "file" && res == nil:
			if key == "" {
				key = part.FileName()
			}
			if err := naming.Key(key); err != nil {
				respondStorageError(w, r, err)
				return
			}
			ct := part.Header.Get("Content-Type")
			if ct == "" {
				ct = mime.TypeByExtension(filepath.Ext(key))
			}
			if ct == "" {
				ct = "application/octet-stream"
			}
			if !contentTypeAllowed(ct, s.cfg.AllowedContentTypes) {
				respondError(w, r, http.StatusUnsupportedMediaType, kindUnsupportedMedia, fmt.Sprintf("content type %q is not allowed", ct))
				return
			}
			put, err := s.gw.PutItem(r.Context(), bucket, key, part, -1, ct, meta)
			if err != nil {
				respondStorageError(w, r, err)
				return
			}
			res = &put
			addEvent(r, "object.upload.done", map[string]any{"bucket": bucket, "key": key, "size": put.Size})
		}
	}
	if res == nil {
		respondError(w, r, http.StatusBadRequest, kindBadRequest, "no file provided")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"bucket": bucket, "key": key, "etag": res.ETag, "size": res.Size})
}

func (s *Server) downloadObject(w http.ResponseWriter, r *http.Request) {
	bucket := bucketParam(r)
	key := r.URL.Query().Get("key")
	rd, err := s.gw.GetItem(r.Context(), bucket, key)
	if err != nil {
		respondStorageError(w, r, err)
		return
	}
	defer rd.Body.Close()
	setItemHeaders(w, rd.Item)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": path.Base(key)}))
	n, err := io.Copy(w, rd.Body)
	if err != nil {
		// headers are gone; the client sees a short body
		s.logger.Error("download interrupted", "bucket", bucket, "key", key, "written", n, "error", err)
	}
}

func setItemHeaders(w http.ResponseWriter, it storage.Item) {
	h := w.Header()
	if it.ContentType != "" {
		h.Set("Content-Type", it.ContentType)
	}
	if it.Size >= 0 {
		h.Set("Content-Length", strconv.FormatInt(it.Size, 10))
	}
	if it.ETag != "" {
		h.Set("ETag", `"`+it.ETag+`"`)
	}
	if !it.LastModified.IsZero() {
		h.Set("Last-Modified", it.LastModified.UTC().Format(http.TimeFormat))
	}
	for k, v := range it.Metadata {
		h.Set("X-Meta-"+k, v)
	}
}

// headObject answers HEAD with headers only and GET with the item as JSON.
func (s *Server) headObject(w http.ResponseWriter, r *http.Request) {
	bucket := bucketParam(r)
	key := r.URL.Query().Get("key")
	it, err := s.gw.HeadItem(r.Context(), bucket, key)
	if err != nil {
		if r.Method == http.MethodHead {
			w.WriteHeader(statusFor(storage.KindOf(err)))
			return
		}
		respondStorageError(w, r, err)
		return
	}
	if r.Method == http.MethodHead {
		setItemHeaders(w, it)
		w.WriteHeader(http.StatusOK)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (s *Server) deleteObject(w http.ResponseWriter, r *http.Request) {
	bucket := bucketParam(r)
	key := r.URL.Query().Get("key")
	addEvent(r, "object.delete", map[string]any{"bucket": bucket, "key": key})
	if err := s.gw.DeleteItem(r.Context(), bucket, key); err != nil {
		respondStorageError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type deleteResult struct {
	Key     string       `json:"key"`
	Deleted bool         `json:"deleted"`
	Kind    storage.Kind `json:"kind,omitempty"`
	Message string       `json:"message,omitempty"`
}

// batchDelete removes keys one at a time; a failure does not stop the rest.
func (s *Server) batchDelete(w http.ResponseWriter, r *http.Request) {
	bucket := bucketParam(r)
	var in struct {
		Keys []string `json:"keys"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, r, http.StatusBadRequest, kindBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if len(in.Keys) == 0 {
		respondError(w, r, http.StatusBadRequest, kindBadRequest, "keys must not be empty")
		return
	}
	if err := naming.Bucket(bucket); err != nil {
		respondStorageError(w, r, err)
		return
	}
	out := make([]deleteResult, 0, len(in.Keys))
	failed := 0
	for _, key := range in.Keys {
		res := deleteResult{Key: key, Deleted: true}
		if err := s.gw.DeleteItem(r.Context(), bucket, key); err != nil {
			res = deleteResult{Key: key, Kind: storage.KindOf(err), Message: storage.MessageOf(err)}
			failed++
		}
		out = append(out, res)
	}
	addEvent(r, "objects.batch_delete", map[string]any{"bucket": bucket, "requested": len(in.Keys), "failed": failed})
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) presign(w http.ResponseWriter, r *http.Request) {
	bucket := bucketParam(r)
	var in struct {
		Key  string              `json:"key"`
		Mode storage.PresignMode `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, r, http.StatusBadRequest, kindBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if in.Mode == "" {
		in.Mode = storage.PresignRead
	}
	if !in.Mode.Valid() {
		respondError(w, r, http.StatusBadRequest, kindBadRequest, fmt.Sprintf("mode must be %q or %q", storage.PresignRead, storage.PresignWrite))
		return
	}
	u, err := s.gw.Presign(r.Context(), bucket, in.Key, in.Mode)
	if err != nil {
		respondStorageError(w, r, err)
		return
	}
	method := http.MethodGet
	if in.Mode == storage.PresignWrite {
		method = http.MethodPut
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"url":       u,
		"method":    method,
		"expiresIn": int(storage.PresignTTL.Seconds()),
	})
}

package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/arencloud/bucketwarden/internal/deletion"
	"github.com/arencloud/bucketwarden/internal/metrics"
	"github.com/arencloud/bucketwarden/internal/models"
	"github.com/arencloud/bucketwarden/internal/naming"
	"github.com/arencloud/bucketwarden/internal/storage"
	"github.com/go-chi/chi/v5"
)

// bucketParam decodes the {name} path segment and tags the trace with it.
func bucketParam(r *http.Request) string {
	raw := chi.URLParam(r, "name")
	name, err := url.PathUnescape(raw)
	if err != nil {
		name = raw
	}
	tagBucket(r, name)
	return name
}

func (s *Server) listBuckets(w http.ResponseWriter, r *http.Request) {
	addEvent(r, "buckets.list", nil)
	items, err := s.gw.ListResources(r.Context())
	if err != nil {
		respondStorageError(w, r, err)
		return
	}
	if items == nil {
		items = []storage.Resource{}
	}
	if s.store != nil {
		if err := s.store.SyncCatalog(r.Context(), items); err != nil {
			s.logger.Error("catalog sync failed", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, items)
}

// bucketCatalog returns the cached catalog without calling the provider.
func (s *Server) bucketCatalog(w http.ResponseWriter, r *http.Request) {
	rows := []models.Bucket{}
	if s.store != nil {
		var err error
		if rows, err = s.store.Catalog(r.Context()); err != nil {
			respondError(w, r, http.StatusInternalServerError, kindInternal, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) createBucket(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name   string `json:"name"`
		Region string `json:"region"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, r, http.StatusBadRequest, kindBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	tagBucket(r, in.Name)
	addEvent(r, "bucket.create", map[string]any{"bucket": in.Name, "region": in.Region})
	if err := naming.Bucket(in.Name); err != nil {
		respondStorageError(w, r, err)
		return
	}
	if in.Region == "" {
		in.Region = s.cfg.DefaultRegion
	}
	if err := s.gw.CreateResource(r.Context(), in.Name, in.Region); err != nil {
		respondStorageError(w, r, err)
		return
	}
	if s.store != nil {
		if err := s.store.UpsertBucket(r.Context(), in.Name, in.Region); err != nil {
			s.logger.Error("catalog upsert failed", "bucket", in.Name, "error", err)
		}
	}
	writeJSON(w, http.StatusCreated, map[string]string{"name": in.Name, "region": in.Region})
}

// deleteBucket runs the plain workflow, or the forced one with ?force=true.
func (s *Server) deleteBucket(w http.ResponseWriter, r *http.Request) {
	name := bucketParam(r)
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	var (
		out deletion.Outcome
		err error
	)
	if force {
		out, err = s.orch.ForceDelete(r.Context(), name)
	} else {
		out, err = s.orch.Delete(r.Context(), name)
	}
	metrics.ObserveDeletion(force, out.Kind)
	addEvent(r, "bucket.delete", map[string]any{"bucket": name, "forced": force, "trail": out.Trail, "removed": out.Removed})
	if err != nil {
		respondStorageError(w, r, err)
		return
	}
	if s.store != nil {
		if err := s.store.RemoveBucket(r.Context(), name); err != nil {
			s.logger.Error("catalog remove failed", "bucket", name, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) bucketSize(w http.ResponseWriter, r *http.Request) {
	name := bucketParam(r)
	if err := naming.Bucket(name); err != nil {
		respondStorageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bucket": name, "bytes": storage.TotalBytes(r.Context(), s.gw, name)})
}

func (s *Server) accessPoints(w http.ResponseWriter, r *http.Request) {
	name := bucketParam(r)
	if err := naming.Bucket(name); err != nil {
		respondStorageError(w, r, err)
		return
	}
	if s.cfg.AccountID == "" {
		respondStorageError(w, r, storage.Errorf(storage.KindConfigMissing, "list access points", "AWS_ACCOUNT_ID is not configured"))
		return
	}
	writeJSON(w, http.StatusOK, s.gw.ListDependents(r.Context(), name, s.cfg.AccountID))
}

// providerInfo describes the configured provider with credentials redacted.
func (s *Server) providerInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"type":              s.cfg.ProviderType,
		"endpoint":          s.cfg.S3Endpoint,
		"region":            s.cfg.DefaultRegion,
		"useSSL":            s.cfg.S3UseSSL,
		"staticCredentials": s.cfg.S3AccessKey != "",
		"accountConfigured": s.cfg.AccountID != "",
	})
}

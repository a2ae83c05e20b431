package http

import (
	"context"
	"encoding/json"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/arkilian/bookingstore/internal/aggregate"
	"github.com/arkilian/bookingstore/internal/index"
	"github.com/arkilian/bookingstore/internal/observability"
	"github.com/arkilian/bookingstore/internal/query/executor"
	"github.com/arkilian/bookingstore/internal/query/planner"
	"github.com/arkilian/bookingstore/pkg/types"
)

// Store is the booking store the API serves. The engine implements it.
type Store interface {
	Submit(ctx context.Context, b types.Booking) (string, error)
	Get(ctx context.Context, id string) (types.Booking, error)
	Transition(ctx context.Context, id string, status types.Status) error
	Delete(ctx context.Context, id string) error
	RecordRating(ctx context.Context, resourceID string, value float64) error

	Query(ctx context.Context, q planner.Query) (*executor.QueryResult, error)
	Explain(ctx context.Context, q planner.Query) (*planner.QueryPlan, []planner.Access, error)

	AddPartitionBoundary(ctx context.Context, year int) (types.PartitionInfo, error)
	ListPartitions() []types.PartitionInfo
	DefineIndex(ctx context.Context, fields types.Fields, auto bool) error
	DropIndex(ctx context.Context, fields types.Fields) error
	IndexDefinitions() []index.Definition

	SubjectSummary(id string) (aggregate.SubjectSummary, error)
	ResourceSummary(id string) (aggregate.ResourceSummary, error)
	Recompute(ctx context.Context, key aggregate.Key) (aggregate.Summary, error)
	Verify(ctx context.Context, key aggregate.Key) (aggregate.VerifyResult, error)
	VerifyAll(ctx context.Context) aggregate.VerifyReport

	Collector() *observability.Collector
	Stats() *observability.QueryStats
}

// Server serves the booking store over HTTP.
type Server struct {
	store    Store
	validate *validator.Validate
	metrics  *observability.Metrics
	version  string
	slow     time.Duration
	wrap     []func(http.Handler) http.Handler
}

// NewServer creates an API server. metrics may be nil, which leaves
// /metrics unmounted.
func NewServer(store Store, metrics *observability.Metrics, version string) *Server {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Server{store: store, validate: v, metrics: metrics, version: version, slow: time.Second}
}

// SetSlowRequest sets the latency above which successful requests are
// logged. Zero logs only failures.
func (s *Server) SetSlowRequest(d time.Duration) {
	s.slow = d
}

// Use adds middleware in front of every route.
func (s *Server) Use(mw func(http.Handler) http.Handler) {
	s.wrap = append(s.wrap, mw)
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestContext, Recover, AccessLog(s.slow))
	r.Use(s.wrap...)

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/bookings", s.handleSubmit)
		r.Get("/bookings/{id}", s.handleGet)
		r.Post("/bookings/{id}/transition", s.handleTransition)
		r.Delete("/bookings/{id}", s.handleDelete)

		r.Post("/query", s.handleQuery)
		r.Post("/query/explain", s.handleExplain)

		r.Post("/ratings", s.handleRating)

		r.Get("/partitions", s.handleListPartitions)
		r.Post("/partitions", s.handleAddPartition)

		r.Get("/indexes", s.handleListIndexes)
		r.Post("/indexes", s.handleDefineIndex)
		r.Delete("/indexes/{fields}", s.handleDropIndex)

		r.Get("/summaries/{kind}/{id}", s.handleSummary)
		r.Post("/summaries/{kind}/{id}/recompute", s.handleRecompute)
		r.Post("/summaries/{kind}/{id}/verify", s.handleVerify)
		r.Post("/summaries/verify", s.handleVerifyAll)

		r.Get("/stats/queries", s.handleRecentQueries)
		r.Get("/stats/locks", s.handleLockStats)
		r.Get("/stats/predicates", s.handlePredicateStats)
	})
	return r
}

// decode reads and validates a JSON body into dst.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeBadRequest(w, r, err)
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeBadRequest(w, r, err)
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"version":    s.version,
		"partitions": len(s.store.ListPartitions()),
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req BookingRequest
	if !s.decode(w, r, &req) {
		return
	}
	b, err := req.Booking()
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	id, err := s.store.Submit(r.Context(), b)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/bookings/"+id)
	writeJSON(w, http.StatusCreated, SubmitResponse{ID: id, RequestID: GetRequestID(r.Context())})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	b, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if !s.decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.store.Transition(r.Context(), id, types.Status(req.Status)); err != nil {
		writeStoreError(w, r, err)
		return
	}
	b, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) queryFrom(w http.ResponseWriter, r *http.Request) (planner.Query, bool) {
	var req QueryRequest
	if !s.decode(w, r, &req) {
		return planner.Query{}, false
	}
	q, err := req.Query()
	if err != nil {
		writeStoreError(w, r, err)
		return planner.Query{}, false
	}
	return q, true
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	q, ok := s.queryFrom(w, r)
	if !ok {
		return
	}
	result, err := s.store.Query(r.Context(), q)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, QueryResponse{
		QueryID: result.QueryID,
		Records: result.Records,
		Stats: QueryStats{
			Plan:              result.Stats.Plan,
			PartitionsScanned: result.Stats.PartitionsScanned,
			PartitionsPruned:  result.Stats.PartitionsPruned,
			PartitionsSkipped: result.Stats.PartitionsSkipped,
			RowsExamined:      result.Stats.RowsExamined,
			ExecutionTimeMs:   result.Stats.Duration.Milliseconds(),
		},
		RequestID: GetRequestID(r.Context()),
	})
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	q, ok := s.queryFrom(w, r)
	if !ok {
		return
	}
	plan, access, err := s.store.Explain(r.Context(), q)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	names := make(map[types.PartitionID]string)
	for _, info := range s.store.ListPartitions() {
		names[info.ID] = info.Name
	}
	resp := ExplainResponse{Plan: plan.String(), Partitions: []string{}, Access: []string{}}
	for _, pid := range plan.Partitions {
		resp.Partitions = append(resp.Partitions, names[pid])
	}
	for _, a := range access {
		resp.Access = append(resp.Access, names[a.Partition]+": "+a.String())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRating(w http.ResponseWriter, r *http.Request) {
	var req RatingRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.store.RecordRating(r.Context(), req.ResourceID, req.Value); err != nil {
		writeStoreError(w, r, err)
		return
	}
	summary, err := s.store.ResourceSummary(req.ResourceID)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleListPartitions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.ListPartitions())
}

func (s *Server) handleAddPartition(w http.ResponseWriter, r *http.Request) {
	var req PartitionRequest
	if !s.decode(w, r, &req) {
		return
	}
	info, err := s.store.AddPartitionBoundary(r.Context(), req.Year)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleListIndexes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.IndexDefinitions())
}

func (s *Server) handleDefineIndex(w http.ResponseWriter, r *http.Request) {
	var req IndexRequest
	if !s.decode(w, r, &req) {
		return
	}
	fields, err := req.Tuple()
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	if err := s.store.DefineIndex(r.Context(), fields, false); err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, index.Definition{Fields: fields})
}

func (s *Server) handleDropIndex(w http.ResponseWriter, r *http.Request) {
	fields, err := types.ParseFields(chi.URLParam(r, "fields"))
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	if err := s.store.DropIndex(r.Context(), fields); err != nil {
		writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func summaryKey(w http.ResponseWriter, r *http.Request) (aggregate.Key, bool) {
	kind, err := aggregate.ParseKind(strings.TrimSuffix(chi.URLParam(r, "kind"), "s"))
	if err != nil {
		writeBadRequest(w, r, err)
		return aggregate.Key{}, false
	}
	return aggregate.Key{Kind: kind, ID: chi.URLParam(r, "id")}, true
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	key, ok := summaryKey(w, r)
	if !ok {
		return
	}
	var (
		summary interface{}
		err     error
	)
	if key.Kind == aggregate.KindSubject {
		summary, err = s.store.SubjectSummary(key.ID)
	} else {
		summary, err = s.store.ResourceSummary(key.ID)
	}
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleRecompute(w http.ResponseWriter, r *http.Request) {
	key, ok := summaryKey(w, r)
	if !ok {
		return
	}
	summary, err := s.store.Recompute(r.Context(), key)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	key, ok := summaryKey(w, r)
	if !ok {
		return
	}
	res, err := s.store.Verify(r.Context(), key)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleVerifyAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.VerifyAll(r.Context()))
}

func countParam(r *http.Request, name string, def int) int {
	if n, err := strconv.Atoi(r.URL.Query().Get(name)); err == nil && n > 0 {
		return n
	}
	return def
}

func (s *Server) handleRecentQueries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Collector().RecentQueries(countParam(r, "n", 50)))
}

func (s *Server) handleLockStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Collector().AllLockStats())
}

func (s *Server) handlePredicateStats(w http.ResponseWriter, r *http.Request) {
	n := countParam(r, "n", 20)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"predicates": s.store.Stats().GetTopPredicates(n),
		"unindexed":  s.store.Stats().GetTopUnindexed(n),
	})
}

package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/avishifo/records/pkg/idempotency"
)

// IdempotencyKeyHeader names the client supplied key
const IdempotencyKeyHeader = "Idempotency-Key"

// Replayer runs fn at most once per key; *idempotency.ReplayStore implements it
type Replayer interface {
	Do(ctx context.Context, key, route string, fn idempotency.Func) (idempotency.Outcome, error)
}

var _ Replayer = (*idempotency.ReplayStore)(nil)

// recordedResponse is what the replay store keeps for a finished request
type recordedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// errServerFailure keeps 5xx outcomes retryable under the same key
var errServerFailure = errors.New("handler failed")

// Idempotency replays the stored response when a POST is repeated with the
// same Idempotency-Key. Requests without the header, and every request when
// store is nil, pass straight through.
func Idempotency(store Replayer, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientKey := r.Header.Get(IdempotencyKeyHeader)
			if clientKey == "" || r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}

			route := routePattern(r)
			if route == "unmatched" {
				route = r.URL.Path
			}
			key := idempotency.RequestKey(clientKey, GetSubject(r.Context()), r.Method, r.URL.Path)

			var fresh *recordedResponse
			out, err := store.Do(r.Context(), key, route, func(ctx context.Context) (json.RawMessage, error) {
				rec := &recorder{header: make(http.Header), status: http.StatusOK}
				next.ServeHTTP(rec, r.WithContext(ctx))
				fresh = &recordedResponse{
					Status:      rec.status,
					ContentType: rec.header.Get("Content-Type"),
					Body:        rec.body.Bytes(),
				}
				copyHeader(w.Header(), rec.header)
				stored, err := json.Marshal(fresh)
				if err != nil {
					return nil, err
				}
				if rec.status >= http.StatusInternalServerError {
					return stored, fmt.Errorf("%w: status %d", errServerFailure, rec.status)
				}
				return stored, nil
			})

			switch {
			case fresh != nil:
				// the handler ran in this request, whatever the store outcome
				if err != nil && !errors.Is(err, errServerFailure) {
					logger.Warn("request replay update failed", zap.Error(err))
				}
				write(w, fresh)
			case err == nil && out.Replayed:
				var stored recordedResponse
				if uerr := json.Unmarshal(out.Response, &stored); uerr != nil {
					logger.Error("stored response unreadable", zap.Error(uerr))
					writeError(w, "stored response unreadable", http.StatusInternalServerError)
					return
				}
				w.Header().Set("Idempotent-Replay", "true")
				write(w, &stored)
			case errors.Is(err, idempotency.ErrInProgress):
				writeError(w, "a request with this Idempotency-Key is in progress", http.StatusConflict)
			case errors.Is(err, idempotency.ErrFailed):
				writeError(w, "a request with this Idempotency-Key failed permanently", http.StatusUnprocessableEntity)
			default:
				logger.Error("request replay store unavailable", zap.Error(err))
				writeError(w, "idempotency store unavailable", http.StatusServiceUnavailable)
			}
		})
	}
}

func write(w http.ResponseWriter, resp *recordedResponse) {
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func copyHeader(dst, src http.Header) {
	for k, vs := range src {
		if k == "Content-Type" || k == "Content-Length" {
			continue
		}
		dst[k] = append([]string(nil), vs...)
	}
}

// recorder buffers a handler's response
type recorder struct {
	header      http.Header
	body        bytes.Buffer
	status      int
	wroteHeader bool
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.body.Write(b)
}

func (r *recorder) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.status = code
	r.wroteHeader = true
}

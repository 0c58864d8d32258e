package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/spacemeshos/poe/logging"
	"github.com/spacemeshos/poe/registry"
)

// maxBodySize bounds a REST request body. It is large enough for a
// transaction carrying a fingerprint of registry.MaxFingerprintSize bytes.
const maxBodySize = 4 * registry.MaxFingerprintSize

type restError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewGateway serves the registry service as JSON over HTTP:
//
//	POST /v1/submit
//	GET  /v1/claims/{fingerprint}
//	GET  /v1/nonces/{identity}
//	GET  /v1/info
//	GET  /v1/events?from=&limit=
func NewGateway(ctx context.Context, srv RegistryServiceServer) (http.Handler, error) {
	mux := runtime.NewServeMux()
	routes := []struct {
		method, pattern string
		handler         func(context.Context, *http.Request, map[string]string) (any, error)
	}{
		{http.MethodPost, "/v1/submit", func(ctx context.Context, r *http.Request, _ map[string]string) (any, error) {
			in := new(SubmitRequest)
			if err := json.NewDecoder(r.Body).Decode(in); err != nil {
				return nil, status.Errorf(codes.InvalidArgument, "decoding request: %v", err)
			}
			return srv.Submit(ctx, in)
		}},
		{http.MethodGet, "/v1/claims/{fingerprint}", func(ctx context.Context, _ *http.Request, params map[string]string) (any, error) {
			in := new(GetClaimRequest)
			if err := in.Fingerprint.UnmarshalText([]byte(params["fingerprint"])); err != nil {
				return nil, status.Error(codes.InvalidArgument, err.Error())
			}
			return srv.GetClaim(ctx, in)
		}},
		{http.MethodGet, "/v1/nonces/{identity}", func(ctx context.Context, _ *http.Request, params map[string]string) (any, error) {
			in := new(GetNonceRequest)
			if err := in.Identity.UnmarshalText([]byte(params["identity"])); err != nil {
				return nil, status.Error(codes.InvalidArgument, err.Error())
			}
			return srv.GetNonce(ctx, in)
		}},
		{http.MethodGet, "/v1/info", func(ctx context.Context, _ *http.Request, _ map[string]string) (any, error) {
			return srv.Info(ctx, &InfoRequest{})
		}},
		{http.MethodGet, "/v1/events", func(ctx context.Context, r *http.Request, _ map[string]string) (any, error) {
			in := new(ListEventsRequest)
			query := r.URL.Query()
			if from := query.Get("from"); from != "" {
				block, err := strconv.ParseUint(from, 10, 64)
				if err != nil {
					return nil, status.Errorf(codes.InvalidArgument, "invalid from: %v", err)
				}
				in.From = registry.BlockNumber(block)
			}
			if limit := query.Get("limit"); limit != "" {
				n, err := strconv.Atoi(limit)
				if err != nil {
					return nil, status.Errorf(codes.InvalidArgument, "invalid limit: %v", err)
				}
				in.Limit = n
			}
			return srv.ListEvents(ctx, in)
		}},
	}
	for _, route := range routes {
		handler := route.handler
		err := mux.HandlePath(route.method, route.pattern, func(w http.ResponseWriter, r *http.Request, params map[string]string) {
			log := logging.FromContext(ctx).With(
				zap.String("request_id", uuid.NewString()),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			)
			reqCtx := logging.NewContext(r.Context(), log)
			r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
			out, err := handler(reqCtx, r, params)
			if err != nil {
				writeError(w, log, toStatus(reqCtx, err))
				return
			}
			writeJSON(w, log, http.StatusOK, out)
		})
		if err != nil {
			return nil, fmt.Errorf("registering %s %s: %w", route.method, route.pattern, err)
		}
	}
	return mux, nil
}

func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	st := status.Convert(err)
	log.Debug("request failed", zap.Stringer("code", st.Code()), zap.String("message", st.Message()))
	writeJSON(w, log, httpStatus(st.Code()), restError{
		Code:    st.Code().String(),
		Message: st.Message(),
	})
}

func writeJSON(w http.ResponseWriter, log *zap.Logger, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn("failed to write response", zap.Error(err))
	}
}

func httpStatus(code codes.Code) int {
	if code == codes.FailedPrecondition {
		return http.StatusPreconditionFailed
	}
	return runtime.HTTPStatusFromCode(code)
}

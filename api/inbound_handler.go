package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/applyflow/applyflow/signature"
	"github.com/applyflow/applyflow/utils"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// InboundProcessor receives verified webhook bodies. The engine does not
// interpret them; event processing belongs to a collaborator.
type InboundProcessor interface {
	ProcessInbound(ctx context.Context, provider signature.Provider, body []byte) error
}

// InboundWebhookHandler fronts the per-provider receiver routes with the
// signature guard.
type InboundWebhookHandler struct {
	guard     *signature.Guard
	processor InboundProcessor
	log       zerolog.Logger
}

func CreateInboundWebhookHandler(guard *signature.Guard, processor InboundProcessor, log zerolog.Logger) *InboundWebhookHandler {
	return &InboundWebhookHandler{
		guard:     guard,
		processor: processor,
		log:       log,
	}
}

func (h *InboundWebhookHandler) RegisterRoutes(router *mux.Router) {
	for _, provider := range h.guard.Providers() {
		router.HandleFunc("/inbound/"+string(provider), h.handle(provider)).Methods("POST")
	}
}

func (h *InboundWebhookHandler) handle(provider signature.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, utils.ErrWebhookPayloadInvalid)
			return
		}

		if err := h.guard.Verify(provider, r, body, time.Now()); err != nil {
			h.log.Warn().
				Err(err).
				Str("provider", string(provider)).
				Str("remote_addr", r.RemoteAddr).
				Msg("inbound webhook rejected")

			if errors.Is(err, signature.ErrMissingSignature) || errors.Is(err, signature.ErrMalformedHeader) {
				writeError(w, utils.ErrWebhookSignatureMissing)
				return
			}
			writeError(w, utils.ErrWebhookSignatureInvalid)
			return
		}

		if h.processor != nil {
			if err := h.processor.ProcessInbound(r.Context(), provider, body); err != nil {
				h.log.Error().
					Err(err).
					Str("provider", string(provider)).
					Msg("inbound webhook processing failed")
				writeError(w, utils.ErrInternalServer)
				return
			}
		}

		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	}
}

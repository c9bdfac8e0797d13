package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/hitoshi/dashgate/internal/middleware"
	"github.com/hitoshi/dashgate/internal/model"
)

// Pinger はストアの疎通確認を行う。database.Storeが満たす。
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler はストアへの疎通を確認し、結果をJSONで返す。
// 疎通できない場合は503をResponder経由で返す。
// GET /health
func HealthHandler(pinger Pinger, responder *middleware.Responder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		if err := pinger.Ping(ctx); err != nil {
			responder.Respond(w, r, model.NewServiceUnavailableError(err))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

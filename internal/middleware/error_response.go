package middleware

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/hitoshi/dashgate/internal/model"
)

// 本番環境で500を返す際の固定メッセージ
const internalErrorMessage = "Something went very wrong!"

// ErrorResponseBody はエラーレスポンスの統一フォーマット。
// Statusは4xxで"fail"、5xxで"error"となる。
type ErrorResponseBody struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// Responder は失敗レスポンスを書き込む唯一の経路。
// 開発モードでは原因エラーをdetailとして返す。
type Responder struct {
	development bool
}

// NewResponder はResponderを生成する。
func NewResponder(development bool) *Responder {
	return &Responder{development: development}
}

// Respond はエラーを分類し、統一フォーマットでレスポンスを書き込む。
// *model.APIError以外のエラーは500として扱う。
func (rs *Responder) Respond(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := model.AsAPIError(err)
	status := apiErr.StatusCode()

	body := ErrorResponseBody{
		Status:  "fail",
		Code:    apiErr.Code,
		Message: apiErr.Message,
	}
	if status >= http.StatusInternalServerError {
		body.Status = "error"
		if !rs.development {
			body.Message = internalErrorMessage
		}
	}
	if rs.development && err != nil {
		body.Detail = err.Error()
	}

	attrs := []any{
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("code", apiErr.Code),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	if userID, uerr := UserIDFromContext(r.Context()); uerr == nil {
		attrs = append(attrs, slog.String("user_id", userID))
	}
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", attrs...)
	} else {
		slog.Warn("request rejected", attrs...)
	}

	if apiErr.RetryAfter > 0 {
		secs := int(math.Ceil(apiErr.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

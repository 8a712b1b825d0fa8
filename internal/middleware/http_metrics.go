package middleware

import "net/http"

// HTTPStatusRecorder はレスポンスのステータスコードを記録するインターフェース。
type HTTPStatusRecorder interface {
	RecordHTTPStatus(method string, code int)
}

// NewHTTPMetricsMiddleware はメソッドとステータスコードごとのリクエスト数を記録するミドルウェアを返す。
func NewHTTPMetricsMiddleware(recorder HTTPStatusRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}
			next.ServeHTTP(rec, r)
			recorder.RecordHTTPStatus(r.Method, rec.statusCode)
		})
	}
}

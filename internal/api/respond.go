package api

import (
	"encoding/json"
	stdErrors "errors"
	"io"
	"net/http"

	xerrors "github.com/reeseleonb-crypto/quickpostkit/internal/errors"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeCodedError 把统一错误映射为状态码与对外信息，未知错误不泄露细节。
func writeCodedError(w http.ResponseWriter, err error) {
	writeError(w, xerrors.HTTPStatus(err), xerrors.PublicMessage(err))
}

// decodeJSON 解析请求体，空请求体视为空对象。
func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || stdErrors.Is(err, io.EOF) {
		return nil
	}
	var tooLarge *http.MaxBytesError
	if stdErrors.As(err, &tooLarge) {
		return errBodyTooLarge
	}
	return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid_json")
}

var errBodyTooLarge = stdErrors.New("request_too_large")

func writeDecodeError(w http.ResponseWriter, err error) {
	if stdErrors.Is(err, errBodyTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "request_too_large")
		return
	}
	writeError(w, http.StatusBadRequest, "invalid_json")
}

package apiserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"ghibli-go/internal/imtypes"
	"ghibli-go/internal/logger"
)

// Generic routing messages.
const (
	MsgNotFound         = "Not found"
	MsgMethodNotAllowed = "Method not allowed"
)

// RequestError 是客户端输入错误, 以 Status 和 Message 原样返回给调用方。
type RequestError struct {
	Status  int
	Message string
}

func (e *RequestError) Error() string {
	return e.Message
}

func newRequestError(status int, message string) *RequestError {
	return &RequestError{Status: status, Message: message}
}

// writeJSONResponse 是一个辅助函数，用于发送 JSON 响应。
func writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// 头部已发送, 只能记录日志
			logger.L().Errorw("无法编码 JSON 响应", "error", err)
		}
	}
}

// writeJSONError 是一个辅助函数，用于发送 JSON 格式的错误响应。
func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	writeJSONResponse(w, statusCode, imtypes.ErrorResponse{Error: message})
}

// writeError 写出 RequestError; 其他错误一律返回 500 和 fallback 信息。
func writeError(w http.ResponseWriter, err error, fallback string) {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		writeJSONError(w, reqErr.Message, reqErr.Status)
		return
	}
	writeJSONError(w, fallback, http.StatusInternalServerError)
}

package util

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// MaxBodyBytes bounds request bodies; batch requests carry client id lists.
const MaxBodyBytes = 1 << 20

func DecodeJSONBody[T any](r *http.Request) (T, error) {
	defer r.Body.Close()
	return decode[T](io.LimitReader(r.Body, MaxBodyBytes))
}

// DecodeJSONBodyResponse decodes a client-side response, used by the CLI and the integration tests.
func DecodeJSONBodyResponse[T any](r *http.Response) (T, error) {
	defer r.Body.Close()
	return decode[T](r.Body)
}

func decode[T any](r io.Reader) (T, error) {
	var data T
	body, err := io.ReadAll(r)
	if err != nil {
		return data, fmt.Errorf("read body error: %w", err)
	}
	if err := json.Unmarshal(body, &data); err != nil {
		var zero T
		return zero, fmt.Errorf("json unmarshal error: %w", err)
	}
	return data, nil
}

func WriteJSONResponse[T any](w http.ResponseWriter, status int, data T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

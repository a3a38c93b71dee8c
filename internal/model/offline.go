package model

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"net/http"
)

// OfflineError is the discriminator carried by the bypass failure payload.
const OfflineError = "offline"

// OfflineStatus is the status of both synthesized failure responses.
const OfflineStatus = http.StatusServiceUnavailable

// OfflinePayload is the body returned when the external API is unreachable.
type OfflinePayload struct {
	Error string `json:"error"`
}

// IsOfflineResponse reports whether resp is the synthesized offline payload
// rather than a genuine API error. The body is read and replaced so the
// caller can still consume it.
func IsOfflineResponse(resp *http.Response) bool {
	if resp == nil || resp.StatusCode != OfflineStatus {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return false
	}
	if resp.Body == nil {
		return false
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return false
	}

	var payload OfflinePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return false
	}
	return payload.Error == OfflineError
}

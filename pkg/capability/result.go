package capability

import "encoding/json"

// FailurePayload renders an error as the JSON object used for tool-message
// content. Hosted adapters recognise the {"error": ...} shape and flag the
// result as an error to the provider.
func FailurePayload(err error) string {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	data, encErr := json.Marshal(map[string]string{"error": msg})
	if encErr != nil {
		return `{"error":"unknown error"}`
	}
	return string(data)
}

package protocol

// DataPCM carries a base64-encoded frame of raw PCM audio.
type DataPCM struct {
	typed
	Data     string `json:"data"`
	MIMEType string `json:"mimeType,omitempty"`
}

func NewDataPCM(data, mimeType string) DataPCM {
	return DataPCM{typed{TypeDataPCM}, data, mimeType}
}

// DataAudio carries a base64-encoded frame of containerized audio.
type DataAudio struct {
	typed
	Data     string `json:"data"`
	MIMEType string `json:"mimeType,omitempty"`
}

func NewDataAudio(data, mimeType string) DataAudio {
	return DataAudio{typed{TypeDataAudio}, data, mimeType}
}

// File references generated binary media by URL.
type File struct {
	typed
	URL       string `json:"url"`
	MediaType string `json:"mediaType,omitempty"`
}

func NewFile(url, mediaType string) File {
	return File{typed{TypeFile}, url, mediaType}
}

package domain

// SignalKind is the type of push notification sent to development clients.
type SignalKind string

const (
	// SignalFullReload asks clients to reload the page.
	SignalFullReload SignalKind = "full-reload"
	// SignalStyleUpdate asks clients to hot-swap stylesheets in place.
	SignalStyleUpdate SignalKind = "style-update"
	// SignalBuildError carries a pipeline failure for display in the client.
	SignalBuildError SignalKind = "build-error"
)

// Signal is a reload notification.
type Signal struct {
	Kind    SignalKind `json:"kind"`
	Paths   []string   `json:"paths,omitempty"`
	Message string     `json:"message,omitempty"`
}

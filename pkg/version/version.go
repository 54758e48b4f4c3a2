package version

import (
	"fmt"
	"net/http"
)

// This variables are injected at build time.

// ClientVersion hosts the version of the SDK.
var ClientVersion = "development"

// Commit is the commit hash of the build
var Commit string

// BuildDate is the date it was built
var BuildDate string

// GoVersion is the go version that was used to compile this
var GoVersion string

// UserAgent returns the User-Agent string identifying this client and its
// version to the key-sharing service.
func UserAgent() string {
	return fmt.Sprintf("keyshare-client-go/%s", ClientVersion)
}

// SetUserAgent sets the User-Agent header on the supplied request.
func SetUserAgent(req *http.Request) {
	req.Header.Set("User-Agent", UserAgent())
}

package filestore

import (
	"net/url"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/oklog/ulid/v2"
)

var extensionPattern = regexp.MustCompile(`^\.[a-z0-9]{1,10}$`)

// generateFilename combines a ULID (millisecond timestamp plus random component) with the
// original extension, so concurrent uploads never share a name.
func generateFilename(originalFilename string) string {
	extension := strings.ToLower(filepath.Ext(originalFilename))
	if !extensionPattern.MatchString(extension) {
		extension = ""
	}
	return strings.ToLower(ulid.Make().String()) + extension
}

// isValidStoredName rejects anything that is not a single, plain path element.
func isValidStoredName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}

func joinURL(base, name string) string {
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(name)
}

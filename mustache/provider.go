package mustache

import (
	"path"
	"strings"

	"github.com/cbroglie/mustache"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/draganm/lean-mustache/mustache")

const (
	Engine    = "mustache"
	Extension = "mst.*"

	// TemplatesSegment marks the template root inside a source location.
	TemplatesSegment = "/templates/"
)

const (
	MimeHTML  = "text/html"
	MimeJSON  = "application/json"
	MimeXML   = "application/xml"
	MimePlain = "text/plain"
)

// Lambda can be passed as a render variable to be used as a section lambda.
type Lambda = mustache.LambdaFunc

type RenderFunc = mustache.RenderFunc

// SetStrict switches missing variable handling for the whole process.
// In strict mode rendering a variable that is absent from the context fails.
func SetStrict(strict bool) {
	mustache.AllowMissingVariables = !strict
}

// IsTemplate checks whether the location ends with .mst or contains .mst.
func IsTemplate(location string) bool {
	return strings.HasSuffix(location, ".mst") || strings.Contains(location, ".mst.")
}

// MimeTypeFor derives the mime type from the suffix of the location.
func MimeTypeFor(location string) string {
	switch {
	case strings.HasSuffix(location, ".mst.html"):
		return MimeHTML
	case strings.HasSuffix(location, ".mst.json"):
		return MimeJSON
	case strings.HasSuffix(location, ".mst.xml"):
		return MimeXML
	default:
		return MimePlain
	}
}

// Identify derives the logical name of a template: the location relative to
// the template root without the .mst suffix, or the bare file name when the
// location is outside of a template root.
func Identify(location string) string {
	idx := strings.Index(location, TemplatesSegment)
	if idx == -1 {
		return stripExtension(path.Base(location))
	}

	return stripExtension(location[idx+len(TemplatesSegment):])
}

func stripExtension(name string) string {
	idx := strings.Index(name, ".mst")
	if idx != -1 {
		return name[:idx]
	}
	return strings.TrimSuffix(name, path.Ext(name))
}

// normalizeName turns a partial reference into a logical name.
func normalizeName(name string) string {
	simplified := name
	if strings.Contains(name, "..") {
		simplified = path.Clean(name)
	}
	if strings.HasPrefix(simplified, "/") && len(simplified) > 1 {
		simplified = simplified[1:]
	}
	return simplified
}

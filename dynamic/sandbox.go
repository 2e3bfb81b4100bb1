package dynamic

// AllowedPackages defines the standard library packages that dynamically loaded
// plugins are permitted to import. Packages not in this list will be rejected
// during source validation.
var AllowedPackages = map[string]bool{
	"fmt":             true,
	"strings":         true,
	"strconv":         true,
	"encoding/json":   true,
	"encoding/base64": true,
	"context":         true,
	"time":            true,
	"math":            true,
	"math/rand":       true,
	"sort":            true,
	"sync":            true,
	"sync/atomic":     true,
	"errors":          true,
	"bytes":           true,
	"unicode":         true,
	"unicode/utf8":    true,
	"regexp":          true,
	"path":            true,
	"maps":            true,
	"slices":          true,
	"crypto/sha256":   true,
	"hash":            true,
	"text/template":   true,
}

// BlockedPackages defines packages that are explicitly forbidden for security
// reasons. They stay blocked even when listed as extra allowed packages.
var BlockedPackages = map[string]bool{
	"os/exec":        true,
	"syscall":        true,
	"unsafe":         true,
	"plugin":         true,
	"runtime/debug":  true,
	"reflect":        true,
	"os":             true,
	"net":            true,
	"crypto/tls":     true,
	"debug/elf":      true,
	"debug/macho":    true,
	"debug/pe":       true,
	"debug/plan9obj": true,
}

// IsPackageAllowed checks if a given import path is permitted in dynamic plugins.
func IsPackageAllowed(pkg string) bool {
	if BlockedPackages[pkg] {
		return false
	}
	return AllowedPackages[pkg]
}

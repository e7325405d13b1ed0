package server

import (
	"encoding/json"
	"path"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// sanitizeBase normalises the API mount point to "/a/b" form, or "" for root.
func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" {
		return ""
	}
	bp = path.Clean("/" + bp)
	if bp == "/" {
		return ""
	}
	return bp
}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._+-]{0,127}$`)

// validName reports whether s can name a model or dependency in a URL.
func validName(s string) bool {
	return namePattern.MatchString(s) && !strings.Contains(s, "..")
}

// splitList splits a comma separated query value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, n := range strings.Split(s, ",") {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

type errorResp struct {
	Error string `json:"error"`
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}

func fail(c *gin.Context, code int, msg string) {
	writeJSON(c, code, errorResp{Error: msg})
}

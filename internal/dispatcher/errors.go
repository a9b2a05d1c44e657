package dispatcher

import (
	"github.com/gin-gonic/gin"
	"github.com/tidwall/sjson"
)

// errorBody matches spec.md §7's client-error JSON shape.
func errorBody(message, errType string) gin.H {
	return gin.H{"error": gin.H{"message": message, "type": errType}}
}

func clientError(c *gin.Context, status int, message, errType string) {
	c.AbortWithStatusJSON(status, errorBody(message, errType))
}

// errorBodyBytes builds the same error envelope as raw JSON bytes, patched
// in place with sjson rather than marshaled from a struct — this is what
// gets persisted as raw_response for an interaction that never reached an
// upstream (spec.md §7: connection failures are still recorded).
func errorBodyBytes(message, errType string) []byte {
	out, _ := sjson.SetBytes([]byte("{}"), "error.message", message)
	out, _ = sjson.SetBytes(out, "error.type", errType)
	return out
}

package handler

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/slinet/ehsync/pkg/utils"
	"go.uber.org/zap"
)

// ThumbHandler serves downloaded thumbnails straight off disk
type ThumbHandler struct {
	dir    string
	logger *zap.Logger
}

func NewThumbHandler(dir string, logger *zap.Logger) *ThumbHandler {
	return &ThumbHandler{dir: dir, logger: logger}
}

// GetThumb handles GET /thumbs/:gid. Thumbnails are immutable once
// written, so clients may cache them for a week.
func (h *ThumbHandler) GetThumb(c *gin.Context) {
	gid, err := strconv.ParseInt(c.Param("gid"), 10, 64)
	if err != nil || gid <= 0 {
		c.JSON(400, utils.GetResponse(nil, 400, "invalid gid", nil))
		return
	}

	path := filepath.Join(h.dir, strconv.FormatInt(gid, 10))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			c.JSON(404, utils.GetResponse(nil, 404, "thumbnail not found", nil))
			return
		}
		h.logger.Error("failed to read thumbnail", zap.Error(err), zap.Int64("gid", gid))
		c.JSON(500, utils.GetResponse(nil, 500, "internal error", nil))
		return
	}

	c.Header("Cache-Control", "public, max-age=604800")
	c.Data(200, http.DetectContentType(data), data)
}

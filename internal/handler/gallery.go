package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/slinet/ehsync/internal/database"
	"github.com/slinet/ehsync/pkg/utils"
	"go.uber.org/zap"
)

// GalleryHandler serves the mirrored gallery records
type GalleryHandler struct {
	pageSizeMax int
	blacklist   []string // "ns:value" tags hidden from list responses
	logger      *zap.Logger
}

func NewGalleryHandler(pageSizeMax int, tagBlacklist string, logger *zap.Logger) *GalleryHandler {
	var blacklist []string
	for _, tag := range strings.Split(tagBlacklist, ",") {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag != "" {
			blacklist = append(blacklist, tag)
		}
	}
	return &GalleryHandler{pageSizeMax: pageSizeMax, blacklist: blacklist, logger: logger}
}

var gallerySortColumns = map[string]string{
	"posted":     "posted_at",
	"rating":     "rating",
	"fav_count":  "fav_count",
	"gid":        "gid",
	"last_sync":  "last_synced_at",
	"page_count": "pages",
}

// tagContainsClause builds a jsonb containment test for one "ns:value"
// tag. Bare tags match the misc namespace.
func tagContainsClause(tag string) (string, error) {
	ns, value := "misc", tag
	if i := strings.IndexByte(tag, ':'); i >= 0 {
		ns, value = tag[:i], tag[i+1:]
	}
	probe, err := json.Marshal(map[string][]string{ns: {value}})
	if err != nil {
		return "", err
	}
	return string(probe), nil
}

// ListGalleries handles GET /v1/galleries
func (h *GalleryHandler) ListGalleries(c *gin.Context) {
	conds := []string{"is_active = TRUE"}
	var args []interface{}

	addCond := func(cond string, value interface{}) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if category := c.Query("category"); category != "" {
		if !database.IsValidCategory(category) {
			c.JSON(422, utils.GetResponse(nil, 422, "unknown category", nil))
			return
		}
		addCond("LOWER(category) = LOWER($%d)", category)
	}
	if language := c.Query("language"); language != "" {
		addCond("LOWER(language) = LOWER($%d)", language)
	}
	if minRating := c.Query("min_rating"); minRating != "" {
		v, err := strconv.ParseFloat(minRating, 64)
		if err != nil || v < 0 || v > 5 {
			c.JSON(422, utils.GetResponse(nil, 422, "min_rating must be between 0 and 5", nil))
			return
		}
		addCond("rating >= $%d", v)
	}
	if minFav := c.Query("min_fav"); minFav != "" {
		v, err := strconv.Atoi(minFav)
		if err != nil || v < 0 {
			c.JSON(422, utils.GetResponse(nil, 422, "min_fav must be a non-negative integer", nil))
			return
		}
		addCond("fav_count >= $%d", v)
	}
	if tag := strings.ToLower(strings.TrimSpace(c.Query("tag"))); tag != "" {
		probe, err := tagContainsClause(tag)
		if err != nil {
			c.JSON(422, utils.GetResponse(nil, 422, "invalid tag filter", nil))
			return
		}
		addCond("tags @> $%d::jsonb", probe)
	}
	if uploader := c.Query("uploader"); uploader != "" {
		addCond("uploader = $%d", uploader)
	}

	// Blacklisted tags are excluded from listings unconditionally
	for _, tag := range h.blacklist {
		probe, err := tagContainsClause(tag)
		if err != nil {
			continue
		}
		addCond("NOT (tags @> $%d::jsonb)", probe)
	}

	sortCol, ok := gallerySortColumns[c.DefaultQuery("sort", "posted")]
	if !ok {
		c.JSON(422, utils.GetResponse(nil, 422, "unknown sort field", nil))
		return
	}
	order := "DESC"
	if c.Query("order") == "asc" {
		order = "ASC"
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "25"))
	if pageSize < 1 {
		pageSize = 25
	}
	if pageSize > h.pageSizeMax {
		pageSize = h.pageSizeMax
	}

	ctx := c.Request.Context()
	pool := database.GetPool()
	where := strings.Join(conds, " AND ")

	countQuery := "SELECT COUNT(*) FROM eh_galleries WHERE " + where
	var total int64
	if err := pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		h.logger.Error("failed to count galleries", zap.Error(err))
		c.JSON(500, utils.GetResponse(nil, 500, "database error", nil))
		return
	}

	query := fmt.Sprintf(`
		SELECT gid, token, category, title, title_jpn, uploader, posted_at, language,
		       pages, rating, fav_count, comment_count, thumb, COALESCE(tags, '{}'::jsonb),
		       last_synced_at, is_active
		FROM eh_galleries
		WHERE %s
		ORDER BY %s %s NULLS LAST, gid DESC
		LIMIT $%d OFFSET $%d
	`, where, sortCol, order, len(args)+1, len(args)+2)
	args = append(args, pageSize, (page-1)*pageSize)

	h.logger.Debug("executing gallery list query",
		zap.String("sql", utils.FormatSQL(query, args...)),
	)

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		h.logger.Error("failed to query galleries", zap.Error(err))
		c.JSON(500, utils.GetResponse(nil, 500, "database error", nil))
		return
	}
	defer rows.Close()

	galleries := []database.Gallery{}
	for rows.Next() {
		g, err := scanGallery(rows)
		if err != nil {
			h.logger.Error("failed to scan gallery", zap.Error(err))
			c.JSON(500, utils.GetResponse(nil, 500, "database error", nil))
			return
		}
		galleries = append(galleries, *g)
	}
	if err := rows.Err(); err != nil {
		h.logger.Error("failed to read galleries", zap.Error(err))
		c.JSON(500, utils.GetResponse(nil, 500, "database error", nil))
		return
	}

	c.JSON(200, utils.GetResponse(galleries, 200, "success", &total))
}

// GetGallery handles GET /v1/galleries/:gid
func (h *GalleryHandler) GetGallery(c *gin.Context) {
	gid, err := strconv.ParseInt(c.Param("gid"), 10, 64)
	if err != nil || gid <= 0 {
		c.JSON(400, utils.GetResponse(nil, 400, "invalid gid", nil))
		return
	}

	ctx := c.Request.Context()
	pool := database.GetPool()

	query := `
		SELECT gid, token, category, title, title_jpn, uploader, posted_at, language,
		       pages, rating, fav_count, comment_count, thumb, COALESCE(tags, '{}'::jsonb),
		       last_synced_at, is_active
		FROM eh_galleries
		WHERE gid = $1
	`
	h.logger.Debug("executing gallery query",
		zap.String("sql", utils.FormatSQL(query, gid)),
	)

	row := pool.QueryRow(ctx, query, gid)
	g, err := scanGallery(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(404, utils.GetResponse(nil, 404, "gallery not found", nil))
			return
		}
		h.logger.Error("failed to query gallery", zap.Error(err), zap.Int64("gid", gid))
		c.JSON(500, utils.GetResponse(nil, 500, "database error", nil))
		return
	}

	c.JSON(200, utils.GetResponse(g, 200, "success", nil))
}

func scanGallery(row pgx.Row) (*database.Gallery, error) {
	var g database.Gallery
	var tagsJSON []byte
	err := row.Scan(
		&g.Gid, &g.Token, &g.Category, &g.Title, &g.TitleJpn, &g.Uploader,
		&g.PostedAt, &g.Language, &g.Pages, &g.Rating, &g.FavCount,
		&g.CommentCount, &g.Thumb, &tagsJSON, &g.LastSyncedAt, &g.IsActive,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(tagsJSON, &g.Tags); err != nil {
		return nil, fmt.Errorf("decode tags of gid %d: %w", g.Gid, err)
	}
	return &g, nil
}

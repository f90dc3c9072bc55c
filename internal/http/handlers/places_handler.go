// README: Places handler: child-friendly restaurants near a suggested place and the photo proxy.
package handlers

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"outing/internal/http/middleware"
	"outing/internal/maps"
)

type RestaurantFinder interface {
	NearbyRestaurants(ctx context.Context, placeID string, q maps.RestaurantQuery) ([]maps.Restaurant, error)
}

// PhotoFetcher loads a Place Photo by reference with the server's own key.
type PhotoFetcher interface {
	Photo(ctx context.Context, ref string, maxWidth uint) (*maps.Photo, error)
}

type PlacesHandler struct {
	places RestaurantFinder
	photos PhotoFetcher
}

func NewPlacesHandler(places RestaurantFinder) *PlacesHandler {
	return &PlacesHandler{places: places}
}

// WithPhotos enables the photo proxy.
func (h *PlacesHandler) WithPhotos(photos PhotoFetcher) *PlacesHandler {
	h.photos = photos
	return h
}

// Photo handles GET /api/places/photo?ref=...&maxwidth=..., streaming the image so
// clients never see the Maps API key.
func (h *PlacesHandler) Photo(c *gin.Context) {
	ref := strings.TrimSpace(c.Query("ref"))
	if ref == "" {
		writeError(c, http.StatusBadRequest, "missing ref")
		return
	}
	maxWidth, ok := queryUint(c, "maxwidth")
	if !ok {
		writeError(c, http.StatusBadRequest, "invalid maxwidth")
		return
	}

	photo, err := h.photos.Photo(c.Request.Context(), ref, maxWidth)
	if err != nil {
		log.Printf("[%s] photo %s: %v", c.GetString(middleware.TraceIDKey), ref, err)
		writeError(c, http.StatusBadGateway, "photo unavailable")
		return
	}
	defer photo.Data.Close()
	c.DataFromReader(http.StatusOK, -1, photo.ContentType, photo.Data, map[string]string{
		"Cache-Control": "public, max-age=86400",
	})
}

// NearbyRestaurants handles GET /api/places/nearby-restaurants.
func (h *PlacesHandler) NearbyRestaurants(c *gin.Context) {
	placeID := strings.TrimSpace(c.Query("place_id"))
	if placeID == "" {
		writeError(c, http.StatusBadRequest, "missing place_id")
		return
	}

	var q maps.RestaurantQuery
	var ok bool
	if q.Radius, ok = queryUint(c, "radius"); !ok {
		writeError(c, http.StatusBadRequest, "invalid radius")
		return
	}
	if q.MaxResults, ok = queryInt(c, "max_results"); !ok {
		writeError(c, http.StatusBadRequest, "invalid max_results")
		return
	}
	if q.ChildAge, ok = queryInt(c, "child_age"); !ok {
		writeError(c, http.StatusBadRequest, "invalid child_age")
		return
	}

	restaurants, err := h.places.NearbyRestaurants(c.Request.Context(), placeID, q)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if restaurants == nil {
		restaurants = []maps.Restaurant{}
	}
	writeJSON(c, http.StatusOK, map[string]any{"place_id": placeID, "restaurants": restaurants})
}

func queryInt(c *gin.Context, key string) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

func queryUint(c *gin.Context, key string) (uint, bool) {
	v, ok := queryInt(c, key)
	return uint(v), ok
}

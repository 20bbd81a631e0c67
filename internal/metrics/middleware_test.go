package metrics

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingCollector is a minimal HTTPRecorder double, keyed the way a
// caller would scrape a single test request back out for assertions.
type recordingCollector struct {
	requests  map[string]int
	durations map[string][]float64
}

func newRecordingCollector() *recordingCollector {
	return &recordingCollector{
		requests:  make(map[string]int),
		durations: make(map[string][]float64),
	}
}

func (r *recordingCollector) RecordHTTPRequest(method, path string, status int) {
	r.requests[method+":"+path+":"+strconv.Itoa(status)]++
}

func (r *recordingCollector) RecordHTTPDuration(method, endpoint string, duration float64) {
	key := method + ":" + endpoint
	r.durations[key] = append(r.durations[key], duration)
}

func newTestRouter(recorder HTTPRecorder) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(AdminRequestLogger(recorder, zerolog.Nop()))
	return router
}

func TestAdminRequestLoggerRecordsRequest(t *testing.T) {
	recorder := newRecordingCollector()
	router := newTestRouter(recorder)
	router.GET("/test", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	req, _ := http.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, recorder.requests["GET:/test:200"])
	require.Len(t, recorder.durations["GET:/test"], 1)
	assert.True(t, recorder.durations["GET:/test"][0] >= 0)
}

func TestAdminRequestLoggerRecordsErrorStatus(t *testing.T) {
	recorder := newRecordingCollector()
	router := newTestRouter(recorder)
	router.GET("/error", func(c *gin.Context) { c.JSON(http.StatusInternalServerError, gin.H{"error": "boom"}) })

	req, _ := http.NewRequest(http.MethodGet, "/error", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 1, recorder.requests["GET:/error:500"])
}

func TestAdminRequestLoggerRecordsMultipleRequests(t *testing.T) {
	recorder := newRecordingCollector()
	router := newTestRouter(recorder)
	router.GET("/test", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	for i := 0; i < 5; i++ {
		req, _ := http.NewRequest(http.MethodGet, "/test", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Equal(t, 5, recorder.requests["GET:/test:200"])
	assert.Len(t, recorder.durations["GET:/test"], 5)
}

func TestAdminRequestLoggerDistinguishesMethods(t *testing.T) {
	recorder := newRecordingCollector()
	router := newTestRouter(recorder)
	router.GET("/test", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"method": "GET"}) })
	router.POST("/test", func(c *gin.Context) { c.JSON(http.StatusCreated, gin.H{"method": "POST"}) })

	getReq, _ := http.NewRequest(http.MethodGet, "/test", nil)
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, getReq)

	postReq, _ := http.NewRequest(http.MethodPost, "/test", nil)
	postRec := httptest.NewRecorder()
	router.ServeHTTP(postRec, postReq)

	assert.Equal(t, 1, recorder.requests["GET:/test:200"])
	assert.Equal(t, 1, recorder.requests["POST:/test:201"])
}

func TestAdminRequestLoggerMeasuresDuration(t *testing.T) {
	recorder := newRecordingCollector()
	router := newTestRouter(recorder)
	router.GET("/slow", func(c *gin.Context) {
		time.Sleep(10 * time.Millisecond)
		c.JSON(http.StatusOK, gin.H{"status": "slow"})
	})

	req, _ := http.NewRequest(http.MethodGet, "/slow", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	durations := recorder.durations["GET:/slow"]
	require.Len(t, durations, 1)
	assert.True(t, durations[0] >= 0.01, "expected duration >= 0.01s, got %f", durations[0])
}

func TestAdminRequestLoggerToleratesNilRecorder(t *testing.T) {
	router := newTestRouter(nil)
	router.GET("/test", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	req, _ := http.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

package vectorstore

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestQdrantConfig_Defaults(t *testing.T) {
	cfg := QdrantConfig{Host: "localhost", VectorSize: 384}
	cfg.ApplyDefaults()
	assert.Equal(t, 6334, cfg.Port)
	assert.Equal(t, "patternd_observations", cfg.CollectionName)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryBackoff)
	assert.NoError(t, cfg.Validate())
}

func TestQdrantConfig_Validate(t *testing.T) {
	valid := QdrantConfig{Host: "localhost", Port: 6334, CollectionName: "obs", VectorSize: 384}
	assert.NoError(t, valid.Validate())

	cases := map[string]func(*QdrantConfig){
		"host":        func(c *QdrantConfig) { c.Host = "" },
		"port":        func(c *QdrantConfig) { c.Port = 70000 },
		"collection":  func(c *QdrantConfig) { c.CollectionName = "" },
		"vector size": func(c *QdrantConfig) { c.VectorSize = 0 },
		"retries":     func(c *QdrantConfig) { c.MaxRetries = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid
			mutate(&c)
			assert.ErrorIs(t, c.Validate(), ErrInvalidConfig)
		})
	}
}

func TestIsTransientError(t *testing.T) {
	assert.False(t, IsTransientError(nil))
	assert.False(t, IsTransientError(errors.New("plain")))
	assert.True(t, IsTransientError(status.Error(grpccodes.Unavailable, "down")))
	assert.True(t, IsTransientError(status.Error(grpccodes.DeadlineExceeded, "slow")))
	assert.False(t, IsTransientError(status.Error(grpccodes.InvalidArgument, "bad")))
	assert.False(t, IsTransientError(status.Error(grpccodes.NotFound, "missing")))
}

func TestPointID(t *testing.T) {
	a := PointID("obs-1")
	assert.Equal(t, a, PointID("obs-1"))
	assert.NotEqual(t, a, PointID("obs-2"))
	assert.Len(t, a, 36)
}

func TestGroupEntries(t *testing.T) {
	groups := groupEntries([]Entry{
		{ObservationID: "1", Company: "acme", Text: "a"},
		{ObservationID: "2", Company: "acme", Text: ""},
		{ObservationID: "", Company: "acme", Text: "b"},
		{ObservationID: "3", Company: "globex", Text: "c"},
	})
	assert.Len(t, groups["acme"], 1)
	assert.Len(t, groups["globex"], 1)
}

func TestSearchFilter(t *testing.T) {
	f := searchFilter("acme", nil)
	require.Len(t, f.Must, 1)
	company := f.Must[0].GetField()
	assert.Equal(t, payloadCompany, company.Key)
	assert.Equal(t, "acme", company.Match.GetKeyword())

	f = searchFilter("acme", []string{"custom", "feature"})
	require.Len(t, f.Must, 2)
	scope := f.Must[1].GetField()
	assert.Equal(t, payloadPatternID, scope.Key)
	assert.Equal(t, []string{"custom", "feature"}, scope.Match.GetKeywords().GetStrings())
}

// internal/storage/mongo/store_test.go
package mongo

import (
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"gotest.tools/v3/assert"

	"github.com/tamzrod/ring-tester/internal/storage"
)

func TestRunFilter_Empty(t *testing.T) {
	assert.DeepEqual(t, runFilter(storage.RunFilter{}), bson.M{})
}

func TestRunFilter_All(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	passed := false

	got := runFilter(storage.RunFilter{SampleID: "P-1", Passed: &passed, From: from, To: to, Limit: 5})
	assert.DeepEqual(t, got, bson.M{
		"sample_id":     "P-1",
		"result.passed": false,
		"test_date":     bson.M{"$gte": from, "$lte": to},
	})
}

func TestRunDocumentShape(t *testing.T) {
	run := storage.Run{
		ID:      "r1",
		Status:  storage.RunRecording,
		Samples: []storage.Sample{{Elapsed: 0.1, Force: 2}},
	}
	raw, err := bson.Marshal(run)
	assert.NilError(t, err)

	var doc struct {
		ID      string   `bson:"_id"`
		Status  string   `bson:"status"`
		Result  bson.Raw `bson:"result"`
		Samples []bson.M `bson:"samples"`
	}
	assert.NilError(t, bson.Unmarshal(raw, &doc))
	assert.Equal(t, doc.ID, "r1")
	assert.Equal(t, doc.Status, "recording")
	assert.Assert(t, doc.Result == nil)
	assert.Equal(t, len(doc.Samples), 1)
	assert.Equal(t, doc.Samples[0]["t"], 0.1)
}

func TestRunStatusFilters(t *testing.T) {
	assert.DeepEqual(t, finalizeFilter("r1"), bson.M{
		"_id":    "r1",
		"status": bson.M{"$in": bson.A{storage.RunRecording, storage.RunCompleted}},
	})
	assert.DeepEqual(t, abortFilter("r1"), bson.M{
		"_id":    "r1",
		"status": bson.M{"$ne": storage.RunCompleted},
	})
}

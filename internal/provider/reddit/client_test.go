package reddit

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/loganintech/go-reddit/v2/reddit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialpulse/internal/model"
)

func TestPayloadMapping(t *testing.T) {
	sr := subredditPayload(&reddit.Subreddit{ID: "2rc7j", Name: "golang", Subscribers: 250000})
	assert.Equal(t, "2rc7j", sr.ID)
	assert.EqualValues(t, 250000, sr.Subscribers)

	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	p := postPayload(&reddit.Post{ID: "abc", Score: 42, NumberOfComments: 7, Created: &reddit.Timestamp{Time: created}})
	assert.Equal(t, "abc", p.ID)
	assert.EqualValues(t, 42, p.Score)
	assert.EqualValues(t, 7, p.Comments)
	assert.Equal(t, created, p.Created)
}

func TestObserve(t *testing.T) {
	assert.False(t, observe(nil).Known())
	reset := time.Date(2024, 3, 1, 9, 10, 0, 0, time.UTC)
	obs := observe(&reddit.Response{Rate: reddit.Rate{Remaining: 590, Used: 10, Reset: reset}})
	assert.Equal(t, 590, obs.Remaining)
	assert.Equal(t, 600, obs.Limit)
	assert.Equal(t, reset, obs.ResetAt)
}

func TestClassify(t *testing.T) {
	reset := time.Date(2024, 3, 1, 9, 10, 0, 0, time.UTC)
	err := classify("golang", "subreddit", &reddit.RateLimitError{Rate: reddit.Rate{Reset: reset}})
	var rl *model.RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, reset, rl.ResetAt)

	notFound := &reddit.ErrorResponse{Response: &http.Response{StatusCode: http.StatusNotFound}}
	var it *model.InvalidTargetError
	assert.True(t, errors.As(classify("nope", "subreddit", notFound), &it))

	var te *model.TransientProviderError
	assert.True(t, errors.As(classify("golang", "subreddit", errors.New("eof")), &te))
	assert.ErrorIs(t, classify("golang", "subreddit", context.Canceled), context.Canceled)
}

package application

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/qabot/internal/domain/model"
)

var doneAccepted = model.Marker{State: model.CommentDone, Result: model.CommentAccepted}

func TestPostStatus_Idempotent(t *testing.T) {
	changes := newMockChangeService()
	c := NewStatusCommenter(changes, true, false)
	ctx := context.Background()

	c.PostStatus(ctx, "100", "openQA tests passed\n", doneAccepted)
	c.PostStatus(ctx, "100", "openQA tests passed\n", doneAccepted)

	require.Len(t, changes.comments["100"], 1)
	assert.Equal(t, 1, changes.added)
	assert.Equal(t, 0, changes.deleted)
	assert.Equal(t, "<!-- openqa state=done result=accepted -->\n\nopenQA tests passed\n", changes.comments["100"][0].Body)
}

func TestPostStatus_SameLineCountIsUnchanged(t *testing.T) {
	changes := newMockChangeService()
	c := NewStatusCommenter(changes, true, false)
	ctx := context.Background()

	c.PostStatus(ctx, "100", "first wording", doneAccepted)
	c.PostStatus(ctx, "100", "other wording", doneAccepted)

	require.Len(t, changes.comments["100"], 1)
	assert.Contains(t, changes.comments["100"][0].Body, "first wording")
}

func TestPostStatus_ReplacesOnChange(t *testing.T) {
	tests := []struct {
		name   string
		msg    string
		marker model.Marker
	}{
		{
			name:   "more lines",
			msg:    "openQA tests problematic\n\n- one\n- two",
			marker: doneAccepted,
		},
		{
			name:   "other state",
			msg:    "openQA tests passed\n",
			marker: model.Marker{State: model.CommentSeen},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changes := newMockChangeService()
			c := NewStatusCommenter(changes, true, false)
			ctx := context.Background()

			c.PostStatus(ctx, "100", "openQA tests passed\n", doneAccepted)
			c.PostStatus(ctx, "100", tt.msg, tt.marker)

			require.Len(t, changes.comments["100"], 1)
			assert.Equal(t, 2, changes.added)
			assert.Equal(t, 1, changes.deleted)
			assert.Contains(t, changes.comments["100"][0].Body, tt.msg)

			m, ok := model.ParseMarker(changes.comments["100"][0].Body)
			require.True(t, ok)
			assert.Equal(t, tt.marker, m)
		})
	}
}

func TestPostStatus_IgnoresForeignComments(t *testing.T) {
	changes := newMockChangeService()
	changes.comments["100"] = []model.Comment{{ID: 7, Body: "please fix the changelog"}}
	changes.nextID = 7
	c := NewStatusCommenter(changes, true, false)

	c.PostStatus(context.Background(), "100", "openQA tests passed\n", doneAccepted)

	require.Len(t, changes.comments["100"], 2)
	assert.Equal(t, 0, changes.deleted)
}

func TestPostStatus_Disabled(t *testing.T) {
	changes := newMockChangeService()
	c := NewStatusCommenter(changes, false, false)

	c.PostStatus(context.Background(), "100", "openQA tests passed\n", doneAccepted)
	assert.Empty(t, changes.comments["100"])
}

func TestPostStatus_DryRun(t *testing.T) {
	changes := newMockChangeService()
	c := NewStatusCommenter(changes, true, true)

	c.PostStatus(context.Background(), "100", "openQA tests passed\n", doneAccepted)
	assert.Empty(t, changes.comments["100"])
}

func TestDeleteStatus(t *testing.T) {
	changes := newMockChangeService()
	c := NewStatusCommenter(changes, true, false)
	ctx := context.Background()

	c.PostStatus(ctx, "100", "openQA tests passed\n", doneAccepted)
	c.DeleteStatus(ctx, "100")
	c.DeleteStatus(ctx, "100")

	assert.Empty(t, changes.comments["100"])
	assert.Equal(t, 1, changes.deleted)
}
